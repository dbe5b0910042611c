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
)

var reQuery = regexp.MustCompile(`^Query= ((?:\S| )*)`)

// QueryMatcher captures the query identity, and the raw sequence
// from the chunk's sequence store.
type QueryMatcher struct {
	store SeqLookup
}

// NewQueryMatcher creates a QueryMatcher. store may be nil.
func NewQueryMatcher(store SeqLookup) *QueryMatcher {
	return &QueryMatcher{store: store}
}

func (m *QueryMatcher) Name() string   { return "query" }
func (m *QueryMatcher) Required() bool { return true }
func (m *QueryMatcher) Busy() bool     { return false }
func (m *QueryMatcher) Reset()         {}

func (m *QueryMatcher) Consume(l *Line, rec *Record) bool {
	sub := reQuery.FindStringSubmatch(l.Text)
	if sub == nil {
		return false
	}
	id := sub[1]
	rec.Set(FieldSequenceID, id)

	if m.store == nil {
		return true
	}
	s, _, ok := m.store.Lookup(id)
	if !ok {
		log.Debugf("query not found in sequence store: %s", id)
		return true
	}
	rec.Set(FieldRawSequence, strings.ToUpper(s))
	rec.Set(FieldSequenceLength, len(s))
	rec.Set(FieldDomain, "imgt")
	return true
}
