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

// Package partition splits input sequences into chunk files, one for
// each worker, without ever splitting a record.
package partition

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/shenwei356/bio/seqio/fastx"
)

// MaxChunkSize bounds the number of sequences of an estimated chunk.
const MaxChunkSize = 1000

// ErrEmptyInput means no sequence was read.
var ErrEmptyInput = errors.New("no sequences in input")

// ErrChunkSize means an invalid chunk size.
var ErrChunkSize = errors.New("chunk size should be positive")

// EstimateChunkSize derives a chunk size from the input size in bytes.
// FASTQ records carry quality strings, so they take twice the bytes.
func EstimateChunkSize(size int64, fastq bool) int {
	k := 1.2360827411141800e-6
	if fastq {
		k = 6.180413705570910e-7
	}
	n := int(k*float64(size) + 44.6)
	if n > MaxChunkSize {
		n = MaxChunkSize
	}
	return n
}

// InputSize sums the sizes of input files. Stdin counts as 0.
func InputSize(files []string) (int64, error) {
	var total int64
	for _, file := range files {
		if file == "-" {
			continue
		}
		info, err := os.Stat(file)
		if err != nil {
			return 0, errors.Wrap(err, "check input file")
		}
		total += info.Size()
	}
	return total, nil
}

// Chunk is a bounded slice of the input owned by one worker.
type Chunk struct {
	Index int

	// FASTA projection, the query of the external tool
	FastaFile string
	// FASTQ projection of the same records, empty for FASTA input
	FastqFile string

	// number of records
	N int
	// input order of the first record
	First int
}

// Quality tells whether the chunk carries quality strings.
func (c *Chunk) Quality() bool { return c.FastqFile != "" }

// Remove deletes the chunk files.
func (c *Chunk) Remove() error {
	for _, file := range []string{c.FastaFile, c.FastqFile} {
		if file == "" {
			continue
		}
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Options contains the options of Split.
type Options struct {
	// number of sequences per chunk, 0 for estimating from input size
	ChunkSize int

	// directory of chunk files
	OutDir string
}

// Partition is the result of Split.
type Partition struct {
	Chunks []*Chunk

	NumSeqs   int
	Quality   bool // FASTQ input
	ChunkSize int
}

type chunkWriter struct {
	chunk *Chunk
	fa    *os.File
	fq    *os.File
	bfa   *bufio.Writer
	bfq   *bufio.Writer
	ids   map[string]struct{}
}

func newChunkWriter(dir string, index, first int, quality bool) (*chunkWriter, error) {
	w := &chunkWriter{
		chunk: &Chunk{Index: index, First: first},
		ids:   make(map[string]struct{}, 1024),
	}

	var err error
	w.chunk.FastaFile = filepath.Join(dir, fmt.Sprintf("chunk_%06d.fasta", index))
	if w.fa, err = os.Create(w.chunk.FastaFile); err != nil {
		return nil, errors.Wrap(err, "create chunk file")
	}
	w.bfa = bufio.NewWriterSize(w.fa, os.Getpagesize())

	if quality {
		w.chunk.FastqFile = filepath.Join(dir, fmt.Sprintf("chunk_%06d.fastq", index))
		if w.fq, err = os.Create(w.chunk.FastqFile); err != nil {
			w.fa.Close()
			return nil, errors.Wrap(err, "create chunk file")
		}
		w.bfq = bufio.NewWriterSize(w.fq, os.Getpagesize())
	}
	return w, nil
}

func (w *chunkWriter) write(id string, s, q []byte) error {
	if _, ok := w.ids[id]; ok {
		return errors.Wrapf(ErrDuplicateID, "chunk %d: %s", w.chunk.Index, id)
	}
	w.ids[id] = struct{}{}

	w.bfa.WriteByte('>')
	w.bfa.WriteString(id)
	w.bfa.WriteByte('\n')
	w.bfa.Write(s)
	w.bfa.WriteByte('\n')

	if w.bfq != nil {
		w.bfq.WriteByte('@')
		w.bfq.WriteString(id)
		w.bfq.WriteByte('\n')
		w.bfq.Write(s)
		w.bfq.WriteString("\n+\n")
		w.bfq.Write(q)
		w.bfq.WriteByte('\n')
	}
	w.chunk.N++
	return nil
}

func (w *chunkWriter) close() error {
	if err := w.bfa.Flush(); err != nil {
		return err
	}
	if err := w.fa.Close(); err != nil {
		return err
	}
	if w.bfq != nil {
		if err := w.bfq.Flush(); err != nil {
			return err
		}
		return w.fq.Close()
	}
	return nil
}

// Split reads sequences from files in order and writes them into chunk
// files of opt.ChunkSize records each. Sequences are written in one line.
// For FASTQ input, spaces are removed from headers, and every chunk has a
// FASTA projection for the external tool and a FASTQ one for qualities.
func Split(files []string, opt *Options) (*Partition, error) {
	if opt.ChunkSize < 0 {
		return nil, errors.Wrapf(ErrChunkSize, "%d", opt.ChunkSize)
	}

	p := &Partition{Chunks: make([]*Chunk, 0, 64), ChunkSize: opt.ChunkSize}

	var w *chunkWriter
	var record *fastx.Record
	var err error
	var id string
	var quality, checked bool
	for _, file := range files {
		reader, err := fastx.NewReader(nil, file, "")
		if err != nil {
			return nil, errors.Wrapf(err, "read input file: %s", file)
		}

		for {
			record, err = reader.Read()
			if err != nil {
				if err == io.EOF {
					break
				}
				reader.Close()
				return nil, errors.Wrapf(err, "read input file: %s", file)
			}

			if !checked {
				checked = true
				quality = len(record.Seq.Qual) > 0
				p.Quality = quality
				if p.ChunkSize == 0 {
					size, err := InputSize(files)
					if err != nil {
						reader.Close()
						return nil, err
					}
					p.ChunkSize = EstimateChunkSize(size, quality)
				}
			} else if quality != (len(record.Seq.Qual) > 0) {
				reader.Close()
				return nil, errors.Errorf("mixed FASTA and FASTQ records in input: %s", file)
			}

			if w == nil {
				if w, err = newChunkWriter(opt.OutDir, len(p.Chunks), p.NumSeqs, quality); err != nil {
					reader.Close()
					return nil, err
				}
			}

			if quality {
				id = strings.ReplaceAll(string(record.Name), " ", "")
			} else {
				id = string(record.Name)
			}
			if err = w.write(id, record.Seq.Seq, record.Seq.Qual); err != nil {
				reader.Close()
				w.close()
				return nil, err
			}
			p.NumSeqs++

			if w.chunk.N == p.ChunkSize {
				if err = w.close(); err != nil {
					reader.Close()
					return nil, errors.Wrap(err, "write chunk file")
				}
				p.Chunks = append(p.Chunks, w.chunk)
				w = nil
			}
		}
		reader.Close()
	}

	if w != nil {
		if err = w.close(); err != nil {
			return nil, errors.Wrap(err, "write chunk file")
		}
		p.Chunks = append(p.Chunks, w.chunk)
	}

	if p.NumSeqs == 0 {
		return nil, ErrEmptyInput
	}
	return p, nil
}
