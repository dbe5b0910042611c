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

package filter

import (
	"testing"

	"github.com/crowelab/PyIR/pyir/report"
)

func airrRecord(vSupport, jSupport string) *report.Record {
	rec := report.NewRecord()
	rec.Set("sequence_id", "s1")
	rec.Set("productive", "T")
	rec.Set("stop_codon", "F")
	rec.Set("vj_in_frame", "T")
	rec.Set("sequence_alignment", "CAGGTGCAGCTGGTGAGC")
	rec.Set("sequence_alignment_aa", "QVQLARDYWGQG")
	rec.Set("cdr3", "GCGAGAGAT")
	rec.Set("cdr3_aa", "ARDY")
	rec.Set("v_support", vSupport)
	rec.Set("j_support", jSupport)
	return rec
}

func enabled() *Config {
	cfg := DefaultConfig()
	cfg.Enable = true
	return &cfg
}

func TestEvalue(t *testing.T) {
	e := New(enabled(), false, false)

	if !e.Accept(airrRecord("1e-10", "1e-10")) {
		t.Errorf("record should be accepted")
	}
	ok, name := e.Check(airrRecord("1e-2", "1e-10"))
	if ok || name != "e-value" {
		t.Errorf("expected rejection by e-value, results: %v %s", ok, name)
	}
	if e.Accept(airrRecord("", "1e-10")) {
		t.Errorf("record without V support should be rejected")
	}
}

func TestDisabled(t *testing.T) {
	cfg := DefaultConfig()
	e := New(&cfg, false, false)
	if e.Enabled() || !e.Accept(airrRecord("1", "1")) {
		t.Errorf("nothing should be filtered when filtering is disabled")
	}
}

func TestAIRRPredicates(t *testing.T) {
	e := New(enabled(), false, false)

	cases := []struct {
		key, val string
		failed   string
	}{
		{"productive", "F", "productive"},
		{"stop_codon", "T", "stop codon"},
		{"vj_in_frame", "F", "V-J frame"},
		{"sequence_alignment_aa", "QVQL*ARDYWGQG", "AA strings"},
		{"sequence_alignment_aa", "QVQLARDYQQQG", "AA strings"},
		{"sequence_alignment_aa", "QVQLARDYQQARDYWGQG", "AA strings"},
		{"cdr3_aa", "", "AA strings"},
		{"sequence_alignment", "CAGGTGNAGCTGGTGAGC", "NT strings"},
	}
	for _, c := range cases {
		rec := airrRecord("1e-10", "1e-10")
		rec.Set(c.key, c.val)
		ok, name := e.Check(rec)
		if ok || name != c.failed {
			t.Errorf("%s=%s: expected rejection by %s, results: %v %s", c.key, c.val, c.failed, ok, name)
		}
	}

	// ambiguous bases in the first 2 or last 3 positions are ignored
	rec := airrRecord("1e-10", "1e-10")
	rec.Set("sequence_alignment", "NNGGTGCAGCTGGTGNNN")
	if !e.Accept(rec) {
		t.Errorf("record should be accepted")
	}

	// missing field
	rec = report.NewRecord()
	rec.Set("v_support", "1e-10")
	rec.Set("j_support", "1e-10")
	if ok, name := e.Check(rec); ok || name != "productive" {
		t.Errorf("expected rejection by productive, results: %v %s", ok, name)
	}
}

func TestCDR3Length(t *testing.T) {
	cfg := enabled()
	cfg.CDR3Length = true
	cfg.CDR3MinLength = 3
	cfg.CDR3MaxLength = 4
	e := New(cfg, false, false)

	rec := airrRecord("1e-10", "1e-10")
	rec.Set("cdr3_aa", "ARD")
	rec.Set("sequence_alignment_aa", "QVQLARDYWGQG")
	if !e.Accept(rec) {
		t.Errorf("CDR3 of length 3 should be accepted")
	}

	// the upper bound is exclusive
	if ok, name := e.Check(airrRecord("1e-10", "1e-10")); ok || name != "CDR3 length" {
		t.Errorf("expected rejection by CDR3 length, results: %v %s", ok, name)
	}
}

func legacyRecord() *report.Record {
	rec := report.NewRecord()
	rec.Set(report.FieldSequenceID, "s1")
	rec.Set(report.FieldVEvalue, 1e-20)
	rec.Set(report.FieldJEvalue, 1e-8)
	rec.Set(report.FieldProduct, "Yes")
	rec.Set(report.FieldStopCodon, "No")
	rec.Set(report.FieldVJFrame, "In-frame")
	rec.Set(report.FieldAA, "QVQLVSWG")
	rec.Set(report.FieldNTTrimmed, "CAGGTGCAGCTGGTGAGCTGGGGC")
	cdr3 := rec.Sub(report.RegionCDR3)
	cdr3.Set(report.FieldRegionAA, "VS")
	cdr3.Set(report.FieldLowestPhred, 20)
	return rec
}

func TestLegacyPredicates(t *testing.T) {
	cfg := enabled()
	e := New(cfg, true, true)

	rec := legacyRecord()
	if ok, name := e.Check(rec); !ok {
		t.Errorf("record should be accepted, failed: %s", name)
	}

	cfg.CDR3Quality = true
	cfg.MinPhred = 30
	e = New(cfg, true, true)
	if ok, name := e.Check(rec); ok || name != "CDR3 quality" {
		t.Errorf("expected rejection by CDR3 quality, results: %v %s", ok, name)
	}

	// no qualities for FASTA input
	e = New(cfg, true, false)
	if !e.Accept(rec) {
		t.Errorf("CDR3 quality should not apply to FASTA input")
	}

	rec.Set(report.FieldDEvalue, report.NotAvailable)
	rec.Set(report.FieldJEvalue, report.NotAvailable)
	if ok, name := e.Check(rec); ok || name != "e-value" {
		t.Errorf("expected rejection by e-value, results: %v %s", ok, name)
	}
}

func TestIdempotence(t *testing.T) {
	e := New(enabled(), true, false)
	rec := legacyRecord()
	n := rec.Len()
	first := e.Accept(rec)
	if second := e.Accept(rec); first != second {
		t.Errorf("decisions differ: %v, %v", first, second)
	}
	if rec.Len() != n {
		t.Errorf("record should not be modified")
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Error(err)
	}
	cfg.CDR3Length = true
	cfg.CDR3MinLength = 10
	cfg.CDR3MaxLength = 5
	if err := cfg.Validate(); err == nil {
		t.Errorf("error expected for an invalid CDR3 length range")
	}
}
