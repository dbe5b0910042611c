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

package report

import (
	"bufio"
	"io"
	"strings"

	"github.com/crowelab/PyIR/pyir/util"
	"github.com/pkg/errors"
)

// AIRRColumns are the columns of the tabular report, in order.
var AIRRColumns = []string{
	"sequence_id", "sequence", "locus", "stop_codon", "vj_in_frame", "productive", "rev_comp", "complete_vdj",
	"v_call", "d_call", "j_call",
	"sequence_alignment", "germline_alignment", "sequence_alignment_aa", "germline_alignment_aa",
	"v_alignment_start", "v_alignment_end", "d_alignment_start", "d_alignment_end", "j_alignment_start", "j_alignment_end",
	"v_sequence_alignment", "v_sequence_alignment_aa", "v_germline_alignment", "v_germline_alignment_aa",
	"d_sequence_alignment", "d_sequence_alignment_aa", "d_germline_alignment", "d_germline_alignment_aa",
	"j_sequence_alignment", "j_sequence_alignment_aa", "j_germline_alignment", "j_germline_alignment_aa",
	"fwr1", "fwr1_aa", "cdr1", "cdr1_aa", "fwr2", "fwr2_aa", "cdr2", "cdr2_aa", "fwr3", "fwr3_aa", "fwr4", "fwr4_aa",
	"cdr3", "cdr3_aa", "junction", "junction_length", "junction_aa", "junction_aa_length",
	"v_score", "d_score", "j_score", "v_cigar", "d_cigar", "j_cigar", "v_support", "d_support", "j_support",
	"v_identity", "d_identity", "j_identity",
	"v_sequence_start", "v_sequence_end", "v_germline_start", "v_germline_end",
	"d_sequence_start", "d_sequence_end", "d_germline_start", "d_germline_end",
	"j_sequence_start", "j_sequence_end", "j_germline_start", "j_germline_end",
	"fwr1_start", "fwr1_end", "cdr1_start", "cdr1_end", "fwr2_start", "fwr2_end", "cdr2_start", "cdr2_end",
	"fwr3_start", "fwr3_end", "fwr4_start", "fwr4_end", "cdr3_start", "cdr3_end",
	"np1", "np1_length", "np2", "np2_length",
}

// DerivedColumns are computed from the tabular report and appended
// after all other columns.
var DerivedColumns = []string{"v_family", "d_family", "j_family", "cdr3_aa_length"}

// Field is a caller-supplied key/value pair added to every record.
type Field struct {
	Key   string
	Value string
}

// ParseField parses "key,value".
func ParseField(s string) (*Field, error) {
	i := strings.IndexByte(s, ',')
	if i <= 0 || i == len(s)-1 {
		return nil, errors.Errorf("invalid additional field, a comma-separated key,value pair needed: %s", s)
	}
	return &Field{Key: s[:i], Value: s[i+1:]}, nil
}

// AIRRHeader returns the output columns of tabular records.
func AIRRHeader(extra *Field) []string {
	cols := make([]string, 0, len(AIRRColumns)+len(DerivedColumns)+1)
	cols = append(cols, AIRRColumns...)
	if extra != nil {
		cols = append(cols, extra.Key)
	}
	cols = append(cols, DerivedColumns...)
	return cols
}

// AIRRParser parses the tabular report.
type AIRRParser struct {
	Extra *Field

	// Filter is called before derived columns are added.
	// Rejected records are not passed to the handler.
	Filter func(*Record) bool

	values []string
}

// NewAIRRParser creates an AIRRParser.
func NewAIRRParser(extra *Field) *AIRRParser {
	return &AIRRParser{Extra: extra, values: make([]string, 0, len(AIRRColumns)+8)}
}

// Parse reads a tabular report, skipping the header line. It returns the
// number of records read, including the rejected ones.
func (p *AIRRParser) Parse(r io.Reader, fn func(*Record) error) (int, error) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 1<<20)
	scanner.Buffer(buf, 1<<26)

	var n int
	var line string
	first := true
	var err error
	for scanner.Scan() {
		line = strings.TrimRight(scanner.Text(), "\r\n")
		if first {
			first = false
			continue
		}
		if line == "" {
			continue
		}

		rec := p.Record(line)
		n++

		if p.Filter != nil && !p.Filter(rec) {
			continue
		}
		AddAIRRDerived(rec)

		if err = fn(rec); err != nil {
			return n, err
		}
	}
	if err = scanner.Err(); err != nil {
		return n, errors.Wrap(err, "read tabular report")
	}
	return n, nil
}

// Record maps one data line onto the fixed columns. Missing trailing
// columns are empty strings.
func (p *AIRRParser) Record(line string) *Record {
	// values beyond the known columns end up in one extra item
	util.StringSplitNByByte(line, '\t', len(AIRRColumns)+1, &p.values)
	rec := NewRecord()
	for i, col := range AIRRColumns {
		if i < len(p.values) {
			rec.Set(col, p.values[i])
		} else {
			rec.Set(col, "")
		}
	}
	if p.Extra != nil {
		rec.Set(p.Extra.Key, p.Extra.Value)
	}
	return rec
}

// AddAIRRDerived appends gene families and the CDR3 amino acid length,
// and recovers FR4 of productive records when the report leaves it empty.
func AddAIRRDerived(rec *Record) {
	for _, g := range [][2]string{{"v_call", "v_family"}, {"d_call", "d_family"}, {"j_call", "j_family"}} {
		call, _ := rec.String(g[0])
		rec.Set(g[1], family(util.BeforeByte(call, ',')))
	}
	cdr3AA, _ := rec.String("cdr3_aa")
	rec.Set("cdr3_aa_length", len(cdr3AA))

	fixFR4(rec)
}

func fixFR4(rec *Record) {
	get := func(k string) string {
		s, _ := rec.String(k)
		return s
	}
	if get("fwr4") != "" || get("fwr4_aa") != "" {
		return
	}
	cdr3, cdr3AA := get("cdr3"), get("cdr3_aa")
	if cdr3 == "" || cdr3AA == "" || get("productive") != "T" {
		return
	}

	aln, alnAA := get("sequence_alignment"), get("sequence_alignment_aa")
	i := strings.Index(aln, cdr3)
	j := strings.Index(alnAA, cdr3AA)
	if i < 0 || j < 0 {
		return
	}

	fwr4 := aln[i+len(cdr3):]
	fwr4AA := alnAA[j+len(cdr3AA):]
	rec.Set("fwr4", fwr4)
	rec.Set("fwr4_aa", fwr4AA)
	if fwr4 == "" || fwr4AA == "" {
		return
	}

	fwr4 = util.RemoveGaps(fwr4)
	rec.Set("fwr4", fwr4)
	if fwr4 == "" {
		return
	}
	if k := strings.Index(get("sequence"), fwr4); k >= 0 {
		rec.Set("fwr4_start", k+1)
		rec.Set("fwr4_end", k+len(fwr4))
	}
}
