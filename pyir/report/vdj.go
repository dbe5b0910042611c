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
	"regexp"
	"strings"

	"github.com/crowelab/PyIR/pyir/util"
)

var reVDJSummary = regexp.MustCompile(`^V-\(D\)-J rearrangement summary for query sequence \(([^)]*)\)`)

// VDJMatcher captures the V-(D)-J rearrangement summary: top gene calls,
// their families and e-values, chain type, frame and strand.
type VDJMatcher struct {
	triggered bool
	fields    []string
	values    []string
}

func NewVDJMatcher() *VDJMatcher {
	return &VDJMatcher{values: make([]string, 0, 16)}
}

func (m *VDJMatcher) Name() string   { return "vdj-summary" }
func (m *VDJMatcher) Required() bool { return true }
func (m *VDJMatcher) Busy() bool     { return m.triggered }

func (m *VDJMatcher) Reset() {
	m.triggered = false
	m.fields = nil
}

// family of a gene call: the part before the allele marker.
func family(gene string) string {
	return util.BeforeByte(gene, '*')
}

func (m *VDJMatcher) Consume(l *Line, rec *Record) bool {
	if !m.triggered {
		sub := reVDJSummary.FindStringSubmatch(l.Text)
		if sub == nil {
			return false
		}
		m.fields = splitFields(sub[1])
		m.triggered = true
		return true
	}

	m.values = splitValues(strings.TrimSpace(l.Text), m.values)
	hits := rec.Hits()
	var value string
	var h *Hit
	for i, key := range m.fields {
		if i >= len(m.values) {
			break
		}
		// multiple equivalent calls are separated by commas, keep the first
		value = util.BeforeByte(m.values[i], ',')
		rec.Set(key, value)

		switch key {
		case FieldTopV:
			rec.Set(FieldVFamily, family(value))
			if h = findHit(hits, value); h != nil {
				rec.Set(FieldVEvalue, h.Evalue)
			}
		case FieldTopD:
			rec.Set(FieldDFamily, family(value))
			if h = findHit(hits, value); h != nil {
				rec.Set(FieldDEvalue, h.Evalue)
			}
		case FieldTopJ:
			rec.Set(FieldJFamily, family(value))
			if h = findHit(hits, value); h != nil {
				rec.Set(FieldJEvalue, h.Evalue)
			}
		}
	}

	if !rec.Has(FieldTopD) {
		rec.Set(FieldTopD, NotAvailable)
		rec.Set(FieldDEvalue, NotAvailable)
	}

	m.Reset()
	return true
}

// splitFields splits a comma-separated field list in a section title.
func splitFields(s string) []string {
	fields := strings.Split(s, ",")
	for i, f := range fields {
		fields[i] = strings.TrimSpace(f)
	}
	return fields
}

// splitValues splits a tab-separated value row, reusing buf.
func splitValues(s string, buf []string) []string {
	buf = buf[:0]
	var i int
	for {
		i = strings.IndexByte(s, '\t')
		if i < 0 {
			buf = append(buf, s)
			return buf
		}
		buf = append(buf, s[:i])
		s = s[i+1:]
	}
}
