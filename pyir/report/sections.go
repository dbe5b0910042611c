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
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// junction details

var reJunction = regexp.MustCompile(`^V-\(D\)-J junction details based on top germline gene matches \(([^)]*)\)`)

// JunctionMatcher captures the junction details table into a nested record.
type JunctionMatcher struct {
	triggered bool
	fields    []string
	values    []string
}

func NewJunctionMatcher() *JunctionMatcher {
	return &JunctionMatcher{values: make([]string, 0, 8)}
}

func (m *JunctionMatcher) Name() string   { return "junction" }
func (m *JunctionMatcher) Required() bool { return false }
func (m *JunctionMatcher) Busy() bool     { return m.triggered }

func (m *JunctionMatcher) Reset() {
	m.triggered = false
	m.fields = nil
}

func (m *JunctionMatcher) Consume(l *Line, rec *Record) bool {
	if !m.triggered {
		sub := reJunction.FindStringSubmatch(l.Text)
		if sub == nil {
			return false
		}
		m.fields = splitFields(sub[1])
		m.triggered = true
		return true
	}

	m.values = splitValues(strings.TrimSpace(l.Text), m.values)
	junction := NewRecord()
	for i, key := range m.fields {
		if i >= len(m.values) {
			break
		}
		junction.Set(key, m.values[i])
	}
	rec.Set(FieldJunction, junction)

	m.Reset()
	return true
}

// ---------------------------------------------------------------------------
// sub-region details

var reSubRegion = regexp.MustCompile(`^Sub-region sequence details \((.*)\)`)

// SubRegionMatcher captures the sub-region table. Every value is stored
// as "<region>-<field>", e.g., "CDR3-translation".
type SubRegionMatcher struct {
	triggered bool
	fields    []string
	values    []string
}

func NewSubRegionMatcher() *SubRegionMatcher {
	return &SubRegionMatcher{values: make([]string, 0, 8)}
}

func (m *SubRegionMatcher) Name() string   { return "sub-region" }
func (m *SubRegionMatcher) Required() bool { return false }
func (m *SubRegionMatcher) Busy() bool     { return m.triggered }

func (m *SubRegionMatcher) Reset() {
	m.triggered = false
	m.fields = nil
}

func (m *SubRegionMatcher) Consume(l *Line, rec *Record) bool {
	if !m.triggered {
		sub := reSubRegion.FindStringSubmatch(l.Text)
		if sub == nil {
			return false
		}
		m.fields = splitFields(sub[1])
		m.triggered = true
		return true
	}

	// the first column is the region type
	m.values = splitValues(strings.TrimSpace(l.Text), m.values)
	region := m.values[0]
	for i, key := range m.fields {
		if i+1 >= len(m.values) {
			break
		}
		rec.Set(region+"-"+key, m.values[i+1])
	}

	m.Reset()
	return true
}

// ---------------------------------------------------------------------------
// alignment summary

var (
	reSummary       = regexp.MustCompile(`^Alignment summary between query and top germline V gene hit \((.*)\)`)
	reSummaryRegion = regexp.MustCompile(`(\w*)-IMGT`)
)

// SummaryMatcher captures the alignment summary table between the query
// and the top V gene. Each row becomes a nested record named after the
// region (FR1, CDR1, ..., Total). The regions found are remembered for
// the alignment reconstructor.
type SummaryMatcher struct {
	triggered  bool
	fields     []string
	values     []string
	frameworks []string
}

func NewSummaryMatcher() *SummaryMatcher {
	return &SummaryMatcher{values: make([]string, 0, 8)}
}

func (m *SummaryMatcher) Name() string   { return "alignment-summary" }
func (m *SummaryMatcher) Required() bool { return true }
func (m *SummaryMatcher) Busy() bool     { return m.triggered }

func (m *SummaryMatcher) Reset() {
	m.triggered = false
	m.fields = nil
	m.frameworks = nil
}

func (m *SummaryMatcher) finish(rec *Record) {
	if m.frameworks == nil {
		m.frameworks = []string{}
	}
	rec.Set(fieldFrameworks, m.frameworks)
	m.Reset()
}

func (m *SummaryMatcher) Consume(l *Line, rec *Record) bool {
	if !m.triggered {
		sub := reSummary.FindStringSubmatch(l.Text)
		if sub == nil {
			return false
		}
		m.fields = splitFields(sub[1])
		m.triggered = true
		return true
	}

	// a table without a Total row ends at the first line that is not a row
	if strings.IndexByte(l.Text, '\t') < 0 {
		m.finish(rec)
		return false
	}

	m.values = splitValues(strings.TrimSpace(l.Text), m.values)
	raw := m.values[0]
	name := strings.Replace(strings.Replace(raw, " (germline)", "", 1), "-IMGT", "", 1)
	total := strings.Contains(name, "Total")

	if !total {
		if sub := reSummaryRegion.FindStringSubmatch(raw); sub != nil {
			m.frameworks = append(m.frameworks, sub[1])
		}
	}

	row := NewRecord()
	for i, key := range m.fields {
		if i+1 >= len(m.values) {
			break
		}
		row.Set(key, summaryValue(m.values[i+1]))
	}
	rec.Set(name, row)

	if total {
		m.finish(rec)
	}
	return true
}

func summaryValue(s string) interface{} {
	if s == NotAvailable {
		return s
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	return v
}
