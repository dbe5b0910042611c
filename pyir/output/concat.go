// Copyright © 2024 The PyIR Authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package output

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/shenwei356/xopen"
)

// Concat merges per-chunk files into w. Chunk order does not matter
// for the result to be valid. TSV output starts with a header line of
// columns, and JSON objects are wrapped in an array.
func Concat(w io.Writer, files []string, format Format, columns []string) error {
	var err error
	switch format {
	case TSV:
		if _, err = io.WriteString(w, strings.Join(columns, "\t")+"\n"); err != nil {
			return err
		}
	case JSON:
		if _, err = io.WriteString(w, "[\n"); err != nil {
			return err
		}
		jw := &arrayWriter{w: w}
		if err = copyFiles(jw, files); err != nil {
			return err
		}
		return jw.Close()
	case Dict:
		return errors.New("dict records are kept in memory")
	}

	return copyFiles(w, files)
}

func copyFiles(w io.Writer, files []string) error {
	for _, file := range files {
		// chunks with all records filtered out
		fi, err := os.Stat(file)
		if err != nil {
			return errors.Wrapf(err, "read chunk output: %s", file)
		}
		if fi.Size() == 0 {
			continue
		}

		fh, err := xopen.Ropen(file)
		if err != nil {
			return errors.Wrapf(err, "read chunk output: %s", file)
		}
		_, err = io.Copy(w, fh)
		fh.Close()
		if err != nil {
			return errors.Wrapf(err, "copy chunk output: %s", file)
		}
	}
	return nil
}

// arrayWriter holds back the last two bytes written, so the comma
// after the last object can be dropped.
type arrayWriter struct {
	w       io.Writer
	pending []byte
}

func (a *arrayWriter) Write(p []byte) (int, error) {
	n := len(p)
	data := append(a.pending, p...)
	if len(data) <= 2 {
		a.pending = data
		return n, nil
	}
	if _, err := a.w.Write(data[:len(data)-2]); err != nil {
		return 0, err
	}
	a.pending = append(make([]byte, 0, 2), data[len(data)-2:]...)
	return n, nil
}

func (a *arrayWriter) Close() error {
	var err error
	switch {
	case len(a.pending) == 0:
		_, err = io.WriteString(a.w, "]\n")
	case string(a.pending) == ",\n":
		_, err = io.WriteString(a.w, "\n]\n")
	default:
		_, err = io.WriteString(a.w, string(a.pending)+"\n]\n")
	}
	return err
}
