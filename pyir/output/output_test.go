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
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/crowelab/PyIR/pyir/report"
)

func record(id string, withD bool) *report.Record {
	rec := report.NewRecord()
	rec.Set("sequence_id", id)
	rec.Set("v_call", "IGHV3-23*01")
	if withD {
		rec.Set("d_call", "IGHD3-10*01")
	}
	rec.Set("j_call", "IGHJ4*02")
	rec.Set("cdr3_aa_length", 12)
	return rec
}

func writeChunk(t *testing.T, file string, format Format, columns []string, recs ...*report.Record) {
	w, err := NewRecordWriter(file, format, false, columns)
	if err != nil {
		t.Fatal(err)
	}
	for _, rec := range recs {
		if err = w.Write(rec); err != nil {
			t.Fatal(err)
		}
	}
	if err = w.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("TSV")
	if err != nil || f != TSV || f.Ext() != ".tsv" {
		t.Errorf("expected: tsv, results: %s %v", f, err)
	}
	if _, err = ParseFormat("xml"); err == nil {
		t.Errorf("error expected for an unknown format")
	}
}

func TestTSVColumns(t *testing.T) {
	dir := t.TempDir()
	columns := []string{"sequence_id", "v_call", "d_call", "j_call", "cdr3_aa_length"}

	files := []string{filepath.Join(dir, "a.tsv"), filepath.Join(dir, "b.tsv")}
	writeChunk(t, files[0], TSV, columns, record("s1", true))
	writeChunk(t, files[1], TSV, columns, record("s2", false))

	var buf bytes.Buffer
	if err := Concat(&buf, files, TSV, columns); err != nil {
		t.Error(err)
		return
	}
	expected := strings.Join([]string{
		"sequence_id\tv_call\td_call\tj_call\tcdr3_aa_length",
		"s1\tIGHV3-23*01\tIGHD3-10*01\tIGHJ4*02\t12",
		"s2\tIGHV3-23*01\t\tIGHJ4*02\t12",
		"",
	}, "\n")
	if buf.String() != expected {
		t.Errorf("expected: %q, results: %q", expected, buf.String())
	}
}

func TestJSONArray(t *testing.T) {
	dir := t.TempDir()

	files := []string{filepath.Join(dir, "a.json"), filepath.Join(dir, "b.json"), filepath.Join(dir, "c.json")}
	writeChunk(t, files[0], JSON, nil, record("s1", true), record("s2", true))
	writeChunk(t, files[1], JSON, nil) // a chunk without accepted records
	writeChunk(t, files[2], JSON, nil, record("s3", false))

	var buf bytes.Buffer
	if err := Concat(&buf, files, JSON, nil); err != nil {
		t.Error(err)
		return
	}

	var recs []map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &recs); err != nil {
		t.Errorf("invalid JSON: %s\n%s", err, buf.String())
		return
	}
	if len(recs) != 3 || recs[2]["sequence_id"] != "s3" {
		t.Errorf("expected 3 records, results: %v", recs)
	}
	if _, ok := recs[2]["d_call"]; ok {
		t.Errorf("unexpected d_call")
	}

	// no records at all
	buf.Reset()
	if err := Concat(&buf, files[1:2], JSON, nil); err != nil {
		t.Error(err)
		return
	}
	if buf.String() != "[\n]\n" {
		t.Errorf("expected: %q, results: %q", "[\n]\n", buf.String())
	}
}

func TestLSJSON(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.json")

	rec := record("s1", true)
	rec.Set("sequence_alignment", "<--FR1-->")
	writeChunk(t, file, LSJSON, nil, rec, record("s2", false))

	data, err := os.ReadFile(file)
	if err != nil {
		t.Error(err)
		return
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Errorf("expected: 2 lines, results: %d", len(lines))
		return
	}
	if !strings.HasPrefix(lines[0], `{"sequence_id":"s1","v_call"`) {
		t.Errorf("fields should keep the insertion order: %s", lines[0])
	}
	if !strings.Contains(lines[0], `"<--FR1-->"`) {
		t.Errorf("HTML characters should not be escaped: %s", lines[0])
	}
}

func TestOutStreamGzip(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "sub", "out.tsv.gz")

	outfh, gw, w, err := OutStream(file, true, 5)
	if err != nil {
		t.Error(err)
		return
	}
	outfh.WriteString("hello\n")
	outfh.Flush()
	gw.Close()
	w.Close()

	data, err := os.ReadFile(file)
	if err != nil {
		t.Error(err)
		return
	}
	if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
		t.Errorf("gzip magic number expected")
	}
}

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, JSON, true, nil)
	if err != nil {
		t.Error(err)
		return
	}
	for _, id := range []string{"s1", "s2"} {
		if err = w.Write(record(id, false)); err != nil {
			t.Error(err)
			return
		}
	}
	if err = w.Close(); err != nil {
		t.Error(err)
		return
	}

	var recs []map[string]interface{}
	if err = json.Unmarshal(buf.Bytes(), &recs); err != nil {
		t.Errorf("invalid JSON: %s\n%s", err, buf.String())
		return
	}
	if len(recs) != 2 || !strings.Contains(buf.String(), "\n    \"sequence_id\": \"s1\"") {
		t.Errorf("unexpected output: %s", buf.String())
	}

	buf.Reset()
	columns := []string{"sequence_id", "d_call"}
	if w, err = NewWriter(&buf, TSV, false, columns); err != nil {
		t.Error(err)
		return
	}
	w.Write(record("s1", false))
	w.Close()
	if expected := "sequence_id\td_call\ns1\t\n"; buf.String() != expected {
		t.Errorf("expected: %q, results: %q", expected, buf.String())
	}

	if _, err = NewWriter(&buf, TSV, false, nil); err == nil {
		t.Errorf("error expected for TSV output without columns")
	}
}
