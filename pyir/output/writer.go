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

// Package output writes parsed records and merges per-chunk results.
package output

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/crowelab/PyIR/pyir/report"
	gzip "github.com/klauspost/pgzip"
	"github.com/pkg/errors"
)

// Format is the wire format of records.
type Format int

const (
	LSJSON Format = iota // one JSON object per line
	JSON                 // a JSON array
	TSV                  // tab-separated values, tabular reports only
	Dict                 // records kept in memory
)

var formatNames = []string{"lsjson", "json", "tsv", "dict"}

func (f Format) String() string {
	if f < 0 || int(f) >= len(formatNames) {
		return "unknown"
	}
	return formatNames[f]
}

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(s)
	for i, name := range formatNames {
		if s == name {
			return Format(i), nil
		}
	}
	return 0, errors.Errorf("unsupported output format: %s, available: %s", s, strings.Join(formatNames, ", "))
}

// Ext returns the file extension of a format.
func (f Format) Ext() string {
	if f == TSV {
		return ".tsv"
	}
	return ".json"
}

// OutStream creates a buffered writer of a file, "-" for stdout.
// Data is gzip-compressed with the given level when gzipped is true.
// Flush the buffered writer, then close the gzip writer and the file.
func OutStream(file string, gzipped bool, level int) (*bufio.Writer, io.WriteCloser, *os.File, error) {
	var w *os.File
	if file == "-" {
		w = os.Stdout
	} else {
		dir := filepath.Dir(file)
		fi, err := os.Stat(dir)
		if err == nil && !fi.IsDir() {
			return nil, nil, nil, fmt.Errorf("can not write file into a non-directory path: %s", dir)
		}
		if os.IsNotExist(err) {
			if err = os.MkdirAll(dir, 0755); err != nil {
				return nil, nil, nil, err
			}
		}
		w, err = os.Create(file)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("fail to write %s", file)
		}
	}

	if gzipped {
		gw, err := gzip.NewWriterLevel(w, level)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("fail to write %s", file)
		}
		return bufio.NewWriterSize(gw, os.Getpagesize()), gw, w, nil
	}
	return bufio.NewWriterSize(w, os.Getpagesize()), nil, w, nil
}

// Sink receives accepted records of one chunk.
type Sink interface {
	Write(rec *report.Record) error
	Close() error
}

// encoder formats records of one wire format.
type encoder struct {
	format  Format
	columns []string

	buf bytes.Buffer
	enc *json.Encoder
}

func newEncoder(format Format, pretty bool, columns []string) (*encoder, error) {
	if format == Dict {
		return nil, errors.New("dict records are kept in memory")
	}
	if format == TSV && len(columns) == 0 {
		return nil, errors.New("columns needed for TSV output")
	}
	e := &encoder{format: format, columns: columns}
	e.enc = json.NewEncoder(&e.buf)
	e.enc.SetEscapeHTML(false)
	if pretty {
		e.enc.SetIndent("", "    ")
	}
	return e, nil
}

// encode returns the bytes of a record, valid until the next call.
// Records of the JSON format end with a comma.
func (e *encoder) encode(rec *report.Record) ([]byte, error) {
	e.buf.Reset()
	if e.format == TSV {
		writeTSVRow(&e.buf, rec, e.columns)
		return e.buf.Bytes(), nil
	}

	if err := e.enc.Encode(rec); err != nil {
		return nil, err
	}
	data := e.buf.Bytes()
	if e.format == JSON {
		data = append(data[:len(data)-1], ",\n"...)
	}
	return data, nil
}

// RecordWriter writes records of one chunk in a wire format.
// Records of the JSON format end with a comma, which is fixed
// when chunk files are merged.
type RecordWriter struct {
	File string

	fh  *os.File
	w   *bufio.Writer
	enc *encoder
}

// NewRecordWriter creates a RecordWriter. columns are needed for TSV.
func NewRecordWriter(file string, format Format, pretty bool, columns []string) (*RecordWriter, error) {
	enc, err := newEncoder(format, pretty, columns)
	if err != nil {
		return nil, err
	}
	fh, err := os.Create(file)
	if err != nil {
		return nil, errors.Wrap(err, "create chunk output")
	}
	return &RecordWriter{
		File: file,
		fh:   fh,
		w:    bufio.NewWriterSize(fh, os.Getpagesize()),
		enc:  enc,
	}, nil
}

func (rw *RecordWriter) Write(rec *report.Record) error {
	data, err := rw.enc.encode(rec)
	if err != nil {
		return err
	}
	_, err = rw.w.Write(data)
	return err
}

func (rw *RecordWriter) Close() error {
	if err := rw.w.Flush(); err != nil {
		rw.fh.Close()
		return err
	}
	return rw.fh.Close()
}

// Writer writes records in the final layout: TSV with a header line, and
// JSON records wrapped in an array. Close does not close the underlying
// writer.
type Writer struct {
	w   io.Writer
	aw  *arrayWriter
	enc *encoder
	n   int
}

// NewWriter creates a Writer.
func NewWriter(w io.Writer, format Format, pretty bool, columns []string) (*Writer, error) {
	enc, err := newEncoder(format, pretty, columns)
	if err != nil {
		return nil, err
	}
	sw := &Writer{w: w, enc: enc}
	switch format {
	case TSV:
		_, err = io.WriteString(w, strings.Join(columns, "\t")+"\n")
	case JSON:
		_, err = io.WriteString(w, "[\n")
		sw.aw = &arrayWriter{w: w}
		sw.w = sw.aw
	}
	if err != nil {
		return nil, err
	}
	return sw, nil
}

func (sw *Writer) Write(rec *report.Record) error {
	data, err := sw.enc.encode(rec)
	if err != nil {
		return err
	}
	if _, err = sw.w.Write(data); err != nil {
		return err
	}
	sw.n++
	return nil
}

// N returns the number of written records.
func (sw *Writer) N() int { return sw.n }

func (sw *Writer) Close() error {
	if sw.aw != nil {
		return sw.aw.Close()
	}
	return nil
}

// writeTSVRow writes the values of columns, missing ones as empty strings.
func writeTSVRow(w *bytes.Buffer, rec *report.Record, columns []string) {
	for i, col := range columns {
		if i > 0 {
			w.WriteByte('\t')
		}
		v, ok := rec.Get(col)
		if !ok {
			continue
		}
		w.WriteString(formatValue(v))
	}
	w.WriteByte('\n')
}

func formatValue(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		if x {
			return "T"
		}
		return "F"
	case nil:
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// MemorySink keeps records in memory.
type MemorySink struct {
	Records []*report.Record
}

func (s *MemorySink) Write(rec *report.Record) error {
	s.Records = append(s.Records, rec)
	return nil
}

func (s *MemorySink) Close() error { return nil }
