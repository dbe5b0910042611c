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

package cmd

import (
	"strings"
	"testing"

	"github.com/crowelab/PyIR/pyir/output"
)

func TestReadCDR3Lengths(t *testing.T) {
	tests := []struct {
		format output.Format
		data   string
	}{
		{output.TSV, "sequence_id\tcdr3_aa\tcdr3_aa_length\ns1\tARDY\t4\ns2\t\t\ns3\tARDYYY\t6\n"},
		{output.LSJSON, `{"sequence_id":"s1","cdr3_aa_length":4}
{"sequence_id":"s2","cdr3_aa_length":0}
{"sequence_id":"s3","cdr3_aa":"ARDYYY"}
`},
		{output.JSON, `[
{"Sequence ID":"s1","CDR3":{"AA":"ARDY","AA_Length":4}},
{"Sequence ID":"s2"},
{"Sequence ID":"s3","CDR3":{"AA":"ARDYYY"}}
]
`},
	}

	for _, test := range tests {
		lens, err := readCDR3Lengths(strings.NewReader(test.data), test.format)
		if err != nil {
			t.Errorf("%s: %s", test.format, err)
			continue
		}
		if len(lens) != 2 || lens[0] != 4 || lens[1] != 6 {
			t.Errorf("%s: expected: [4 6], results: %v", test.format, lens)
		}
	}

	if _, err := readCDR3Lengths(strings.NewReader("sequence_id\tv_call\n"), output.TSV); err == nil {
		t.Errorf("error expected for TSV without CDR3 columns")
	}

	lens, err := readCDR3Lengths(strings.NewReader("[\n]\n"), output.JSON)
	if err != nil || len(lens) != 0 {
		t.Errorf("expected: no records, results: %v %v", lens, err)
	}
}
