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
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

type mapStore map[string][2]string

func (m mapStore) Lookup(id string) (string, string, bool) {
	v, ok := m[id]
	return v[0], v[1], ok
}

// aligned strings start at column 40
func alnRow(label string, start int, s string, end int) string {
	return fmt.Sprintf("%-32s%6d  %s  %d", label, start, s, end)
}

func alnText(s string) string {
	return strings.Repeat(" ", 40) + s
}

const seq1 = "CAGGTGCAGCTGGTGAGCTGGGGC"

// I: 40, 5: 20, #: 2
const qual1 = "II#IIIIIII5IIIIIIIIIIIII"

func testReport() string {
	lines := []string{
		"Query= seq1",
		"",
		"Length=24",
		"                                                                     Score     E",
		"Sequences producing significant alignments:                          (Bits)  Value",
		"",
		"IGHV1-2*02                                                            40.1    1e-10",
		"IGHJ4*02                                                              30.2    2e-05",
		"",
		"Domain classification requested: imgt",
		"",
		"V-(D)-J rearrangement summary for query sequence (Top V gene match, Top J gene match, " +
			"Chain type, stop codon, V-J frame, Productive, Strand).  Multiple equivalent top matches, " +
			"if present, are separated by a comma.",
		`IGHV1-2*02,IGHV1-2*04\tIGHJ4*02\tVH\tNo\tIn-frame\tYes\t+`,
		"",
		"V-(D)-J junction details based on top germline gene matches (V end, V-J junction, J start).  " +
			"Note that possible overlapping nucleotides at VDJ junction (i.e, nucleotides that could " +
			"be assigned to either rearranging gene) are indicated in parentheses (i.e., (TACT)).",
		`ACGT\t(GG)\tTTAC`,
		"",
		"Alignment summary between query and top germline V gene hit " +
			"(from, to, length, matches, mismatches, gaps, percent identity)",
		`FR1-IMGT\t1\t6\t6\t6\t0\t0\t100`,
		`CDR1-IMGT\t7\t12\t6\t5\t1\t0\t83.3`,
		`Total\tN/A\tN/A\t12\t11\t1\t0\t91.7`,
		"",
		"Alignments",
		"",
		alnText("<-FR1><CDR1>"),
		alnText(" Q  V  Q  L "),
		alnRow("Query_1", 1, "CAGGTGCAGCTG", 12),
		alnRow("V  100.0% (12/12)  IGHV1-2*02", 1, "............", 12),
		alnText(" Q  V  Q  L "), // inline germline translation
		"",
		alnText("<CDR3>"),
		alnText(" V  S  W  G "),
		alnRow("Query_1", 13, "GTGAGCTGGGGC", 24),
		alnRow("V  100.0% (4/4)  IGHV1-2*02", 13, "....", 16),
		alnRow("J  100.0% (8/8)  IGHJ4*02", 1, "........", 8),
		"",
		"Lambda      K        H",
		"        0.308    0.127    0.340 ",
		"",
		"Effective search space used: 1234",
		"",
		"Query= seq2",
		"",
		"Length=10",
		"",
		"***** No hits found *****",
		"",
		"Lambda      K        H",
		"Effective search space used: 10",
		"Query= truncated",
	}
	return strings.ReplaceAll(strings.Join(lines, "\n"), `\t`, "\t") + "\n"
}

func parseTestReport(t *testing.T, quality bool) []*Record {
	store := mapStore{"seq1": {seq1, qual1}}
	chain := NewLegacyChain(store, quality)
	chain.Extra = &Field{Key: "donor", Value: "10"}

	recs := make([]*Record, 0, 2)
	n, err := chain.Parse(strings.NewReader(testReport()), func(rec *Record) error {
		recs = append(recs, rec)
		return nil
	})
	if err != nil {
		t.Error(err)
		return nil
	}
	if n != 2 || len(recs) != 2 {
		t.Errorf("expected: %d records, results: %d/%d", 2, n, len(recs))
		return nil
	}
	return recs
}

func TestLegacyChain(t *testing.T) {
	recs := parseTestReport(t, false)
	if recs == nil {
		return
	}
	rec := recs[0]

	for k, v := range map[string]string{
		FieldSequenceID:  "seq1",
		FieldRawSequence: seq1,
		FieldTopV:        "IGHV1-2*02",
		FieldVFamily:     "IGHV1-2",
		FieldTopJ:        "IGHJ4*02",
		FieldJFamily:     "IGHJ4",
		FieldTopD:        NotAvailable,
		FieldDEvalue:     NotAvailable,
		FieldStrand:      "+",
		FieldProduct:     "Yes",
		FieldStopCodon:   "No",
		FieldVJFrame:     "In-frame",
		FieldAA:          "QVQLVSWG",
		FieldNTTrimmed:   seq1,
		"donor":          "10",
	} {
		s, ok := rec.String(k)
		if !ok || s != v {
			t.Errorf("%s: expected: %s, results: %s", k, v, s)
		}
	}

	if e, ok := rec.Float(FieldVEvalue); !ok || e != 1e-10 {
		t.Errorf("expected V e-value: %v, results: %v", 1e-10, e)
	}
	if e, ok := rec.Float(FieldJEvalue); !ok || e != 2e-05 {
		t.Errorf("expected J e-value: %v, results: %v", 2e-05, e)
	}
	if rec.Has(fieldFrameworks) {
		t.Errorf("internal field should be removed")
	}
	if rec.Has(FieldAverageQuality) {
		t.Errorf("no quality expected for FASTA input")
	}

	junction := rec.Nested(FieldJunction)
	if junction == nil {
		t.Errorf("junction details missing")
	} else if s, _ := junction.String("V-J junction"); s != "(GG)" {
		t.Errorf("expected junction: %s, results: %s", "(GG)", s)
	}

	total := rec.Nested("Total")
	if total == nil {
		t.Errorf("alignment summary missing")
	} else {
		if s, _ := total.String("from"); s != NotAvailable {
			t.Errorf("expected: %s, results: %s", NotAvailable, s)
		}
		if v, _ := total.Float("percent identity"); v != 91.7 {
			t.Errorf("expected: %v, results: %v", 91.7, v)
		}
	}

	// the last record is the one without hits
	if hits := recs[1].Hits(); hits == nil || len(hits) != 0 {
		t.Errorf("expected empty hit list, results: %v", hits)
	}
	if s, _ := recs[1].String(FieldMessage); s != "***** No hits found *****" {
		t.Errorf("unexpected message: %s", s)
	}
	if recs[1].Has(FieldRawSequence) {
		t.Errorf("raw sequence should be absent when lookup fails")
	}
}

func TestAlignmentReconstruction(t *testing.T) {
	recs := parseTestReport(t, true)
	if recs == nil {
		return
	}
	rec := recs[0]

	v, ok := rec.Get(FieldAlignments)
	if !ok {
		t.Errorf("alignments missing")
		return
	}
	alns := v.(*Alignments)

	expected := []struct{ key, row string }{
		{"header", "<-FR1><CDR1><CDR3>      "},
		{"translation", " Q  V  Q  L  V  S  W  G "},
		{"Query_1", seq1},
		{"IGHV1-2*02", "................--------"},
		{"IGHJ4*02", "------------........----"},
	}
	if len(alns.Keys) != len(expected) {
		t.Errorf("expected: %d rows, results: %d (%v)", len(expected), len(alns.Keys), alns.Keys)
		return
	}
	for i, e := range expected {
		if alns.Keys[i] != e.key || alns.Strings[i] != e.row {
			t.Errorf("row %d: expected: %s %q, results: %s %q", i, e.key, e.row, alns.Keys[i], alns.Strings[i])
		}
	}

	hits := rec.Hits()
	if len(hits) != 2 {
		t.Errorf("expected: %d hits, results: %d", 2, len(hits))
		return
	}
	vh := hits[0]
	if vh.GeneType != "V" || vh.AlignmentStart != 1 || vh.AlignmentEnd != 16 ||
		vh.PercentIdentity == nil || *vh.PercentIdentity != 100 || vh.PercentFraction != "(12/12)" {
		t.Errorf("unexpected V hit: %+v", vh)
	}
	if hits[1].GeneType != "J" || hits[1].AlignmentEnd != 8 {
		t.Errorf("unexpected J hit: %+v", hits[1])
	}

	for _, r := range []struct {
		name, aa, nt string
	}{
		{"FR1", "QV", "CAGGTG"},
		{"CDR1", "QL", "CAGCTG"},
		{RegionCDR3, "VS", "GTGAGC"},
	} {
		region := rec.Nested(r.name)
		if region == nil {
			t.Errorf("region missing: %s", r.name)
			continue
		}
		aa, _ := region.String(FieldRegionAA)
		nt, _ := region.String(FieldRegionNT)
		l, _ := region.Get(FieldRegionAALength)
		if aa != r.aa || nt != r.nt || l != len(r.aa) {
			t.Errorf("%s: expected: %s %s %d, results: %s %s %v", r.name, r.aa, r.nt, len(r.aa), aa, nt, l)
		}
	}

	// summary values are kept next to the region sequences
	if f, ok := rec.Nested("CDR1").Float("percent identity"); !ok || f != 83.3 {
		t.Errorf("expected: %v, results: %v", 83.3, f)
	}

	fr4 := rec.Nested(RegionFR4)
	if fr4 == nil {
		t.Errorf("FR4 missing")
	} else {
		aa, _ := fr4.String(FieldRegionAA)
		nt, _ := fr4.String(FieldRegionNT)
		if aa != "WG" || nt != "TGGGGC" {
			t.Errorf("unexpected FR4: %s %s", aa, nt)
		}
	}

	cdr3 := rec.Nested(RegionCDR3)
	if q, _ := cdr3.String(FieldQuality); q != qual1[7:23] {
		t.Errorf("expected CDR3 quality: %s, results: %s", qual1[7:23], q)
	}
	if p, _ := cdr3.Get(FieldLowestPhred); p != 20 {
		t.Errorf("expected lowest Phred: %d, results: %v", 20, p)
	}
	if q, _ := rec.Float(FieldAverageQuality); q != 37.58 {
		t.Errorf("expected average quality: %v, results: %v", 37.58, q)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rec); err != nil {
		t.Error(err)
		return
	}
	data := buf.Bytes()
	if !strings.HasPrefix(string(data), `{"Sequence ID":"seq1","Raw Sequence":`) {
		t.Errorf("unexpected field order: %s", data[:60])
	}
	if !strings.Contains(string(data), `"<-FR1><CDR1><CDR3>      "`) {
		t.Errorf("header row should not be escaped")
	}
}

func TestBoundaryMarkers(t *testing.T) {
	m := NewAlignmentMatcher(nil, false)
	rec := NewRecord()
	rec.Set(fieldFrameworks, []string{"FR1", "CDR1", "FR2", "CDR2", "FR3"})

	lines := []Line{
		{Text: "Alignments"},
		{Text: alnText("<F><C><F><C><F><C>"), AfterBlank: true},
		{Text: alnText(" Q  V  Q  L  V  S ")},
		{Text: alnRow("Query_1", 1, "CAGGTGCAGCTGGTGAGC", 18)},
		{Text: "Lambda      K        H", AfterBlank: true},
	}
	for i := range lines {
		if !m.Consume(&lines[i], rec) {
			t.Errorf("line not consumed: %s", lines[i].Text)
		}
	}
	if m.Busy() {
		t.Errorf("matcher should be idle after the halt line")
	}

	names := []string{"FR1", "CDR1", "FR2", "CDR2", "FR3", "CDR3"}
	aas := "QVQLVS"
	for i, name := range names {
		region := rec.Nested(name)
		if region == nil {
			t.Errorf("region missing: %s", name)
			continue
		}
		aa, _ := region.String(FieldRegionAA)
		l, _ := region.Get(FieldRegionAALength)
		if aa != aas[i:i+1] || l != 1 {
			t.Errorf("%s: expected: %s, results: %s (%v)", name, aas[i:i+1], aa, l)
		}
	}
	if rec.Has(RegionFR4) {
		t.Errorf("FR4 should be absent when nothing follows CDR3")
	}
}

func TestAlignmentWithoutQueryRow(t *testing.T) {
	m := NewAlignmentMatcher(mapStore{}, true)
	rec := NewRecord()
	rec.Set(FieldSequenceID, "x")

	for _, text := range []string{"Alignments", alnText("<-FR1>"), alnText(" Q  V "), "Lambda"} {
		m.Consume(&Line{Text: text}, rec)
	}
	if rec.Has(FieldNTTrimmed) {
		t.Errorf("NT-Trimmed should be absent without a query row")
	}
	if !rec.Has(FieldAlignments) {
		t.Errorf("alignments should be recorded")
	}
}

func TestClassifyRow(t *testing.T) {
	for _, c := range []struct {
		line string
		kind rowKind
	}{
		{alnRow("Query_1", 1, "CAGGTG", 6), rowQuery},
		{alnRow("lcl|Query_1", 1, "CAGGTG", 6), rowQuery},
		{alnRow("D  100.0% (6/6)  IGHD3-10*01", 3, "......", 8), rowHit},
		{alnText("<-FR1-IMGT->"), rowHeader},
		{alnText(" Q  V  Q "), rowTranslation},
	} {
		if r := classifyRow(c.line); r.kind != c.kind {
			t.Errorf("%q: expected: %d, results: %d", c.line, c.kind, r.kind)
		}
	}
}

func TestFirstFrame(t *testing.T) {
	for _, c := range []struct {
		s string
		i int
	}{
		{"Q  V", 0},
		{" Q  V", 0},
		{"  Q  V", 1},
		{"   Q", 2},
		{"     Q", 1},
	} {
		if i := firstFrame(c.s); i != c.i {
			t.Errorf("%q: expected: %d, results: %d", c.s, c.i, i)
		}
	}
}
