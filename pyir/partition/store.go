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

package partition

import (
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/shenwei356/bio/seqio/fastx"
)

// ErrDuplicateID means two records of a chunk share one identifier.
var ErrDuplicateID = errors.New("duplicated sequence identifier")

// Sequence is one input record.
type Sequence struct {
	ID   string
	Seq  string
	Qual string // empty for FASTA

	// 0-based position in the whole input
	Order int
}

// Store maps sequence identifiers to records, keeping input order.
type Store struct {
	seqs  []*Sequence
	index map[string]int
}

// NewStore creates a Store with room for n records.
func NewStore(n int) *Store {
	return &Store{
		seqs:  make([]*Sequence, 0, n),
		index: make(map[string]int, n),
	}
}

// Add appends a record. Identifiers must be unique.
func (s *Store) Add(r *Sequence) error {
	if _, ok := s.index[r.ID]; ok {
		return errors.Wrap(ErrDuplicateID, r.ID)
	}
	s.index[r.ID] = len(s.seqs)
	s.seqs = append(s.seqs, r)
	return nil
}

// Lookup returns the raw sequence and quality string of an identifier.
func (s *Store) Lookup(id string) (string, string, bool) {
	i, ok := s.index[id]
	if !ok {
		return "", "", false
	}
	return s.seqs[i].Seq, s.seqs[i].Qual, true
}

// Len returns the number of records.
func (s *Store) Len() int { return len(s.seqs) }

// Sequences returns records in input order.
func (s *Store) Sequences() []*Sequence { return s.seqs }

// IDs returns identifiers in input order.
func (s *Store) IDs() []string {
	ids := make([]string, len(s.seqs))
	for i, r := range s.seqs {
		ids[i] = r.ID
	}
	return ids
}

// LoadStore reads the chunk's own files back into a Store. The FASTQ
// projection is read when present, so quality strings are available.
func (c *Chunk) LoadStore() (*Store, error) {
	file := c.FastaFile
	if c.FastqFile != "" {
		file = c.FastqFile
	}
	store, err := ReadStore(file, c.First, c.N)
	if err != nil {
		return nil, errors.Wrapf(err, "chunk %d", c.Index)
	}
	return store, nil
}

// ReadStore reads a FASTA/Q file into a Store, numbering records from
// first. Spaces are removed from FASTQ identifiers, as in Split.
func ReadStore(file string, first int, n int) (*Store, error) {
	reader, err := fastx.NewReader(nil, file, "")
	if err != nil {
		return nil, errors.Wrapf(err, "read sequence file: %s", file)
	}
	defer reader.Close()

	store := NewStore(n)
	var record *fastx.Record
	var id string
	order := first
	for {
		record, err = reader.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.Wrapf(err, "read sequence file: %s", file)
		}

		id = string(record.Name)
		if len(record.Seq.Qual) > 0 {
			id = strings.ReplaceAll(id, " ", "")
		}
		err = store.Add(&Sequence{
			ID:    id,
			Seq:   string(record.Seq.Seq),
			Qual:  string(record.Seq.Qual),
			Order: order,
		})
		if err != nil {
			return nil, err
		}
		order++
	}
	return store, nil
}
