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

var (
	reHitsTrigger = regexp.MustCompile(`^Sequences producing significant alignments`)
	reHitsHalt    = regexp.MustCompile(`^Domain classification requested`)
	reHitsNone    = regexp.MustCompile(`^.+No hits found.+$`)
	reHitLine     = regexp.MustCompile(`(.*?)[ ]+([0-9.\-e]+)[ ]+([0-9.\-e]+)`)
)

// HitsMatcher captures the list of significant alignments.
type HitsMatcher struct {
	triggered bool
	hits      []*Hit
}

func NewHitsMatcher() *HitsMatcher {
	return &HitsMatcher{hits: make([]*Hit, 0, 8)}
}

func (m *HitsMatcher) Name() string   { return "hits" }
func (m *HitsMatcher) Required() bool { return true }
func (m *HitsMatcher) Busy() bool     { return m.triggered }

func (m *HitsMatcher) Reset() {
	m.triggered = false
	m.hits = make([]*Hit, 0, 8)
}

func (m *HitsMatcher) Consume(l *Line, rec *Record) bool {
	if reHitsHalt.MatchString(l.Text) {
		rec.Set(FieldHits, m.hits)
		m.Reset()
		return true
	}

	if m.triggered {
		if hit, ok := parseHitLine(l.Text); ok {
			m.hits = append(m.hits, hit)
		}
		return true
	}

	if reHitsTrigger.MatchString(l.Text) {
		m.triggered = true
		return true
	}

	if reHitsNone.MatchString(l.Text) {
		rec.Set(FieldHits, []*Hit{})
		rec.Set(FieldMessage, strings.TrimSpace(l.Text))
		return true
	}
	return false
}

func parseHitLine(line string) (*Hit, bool) {
	sub := reHitLine.FindStringSubmatch(line)
	if sub == nil {
		return nil, false
	}
	score, err := strconv.ParseFloat(sub[2], 64)
	if err != nil {
		return nil, false
	}
	evalue, err := strconv.ParseFloat(sub[3], 64)
	if err != nil {
		return nil, false
	}
	return &Hit{Gene: sub[1], BitScore: score, Evalue: evalue}, true
}

// findHit returns the first hit of a gene.
func findHit(hits []*Hit, gene string) *Hit {
	for _, h := range hits {
		if h.Gene == gene {
			return h
		}
	}
	return nil
}
