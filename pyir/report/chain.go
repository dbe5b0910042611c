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
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/shenwei356/go-logging"
)

var log = logging.MustGetLogger("pyir")

// Line is a non-blank report line.
type Line struct {
	Text string

	// AfterBlank tells whether the previous physical line was blank.
	AfterBlank bool
}

// Matcher consumes the lines of one report section.
//
// A matcher is idle until its trigger line shows up, then it is busy
// consuming the lines of its section, and it writes the fields to the
// record once the section ends.
type Matcher interface {
	Name() string

	// Required matchers swallow lines they decline while busy.
	Required() bool

	// Busy tells whether the matcher is in the middle of its section.
	Busy() bool

	// Consume returns true if the line is accepted.
	Consume(l *Line, rec *Record) bool

	// Reset drops all section state.
	Reset()
}

var reEndOfRecord = regexp.MustCompile(`^Effective search space used:`)

// Chain dispatches report lines to matchers and emits one record per query.
//
// The matcher that accepted the previous line is offered the next line
// first. If it declines, it loses the active slot to the next matcher, and
// the line is offered once to every matcher, starting from the active slot
// and wrapping around. Lines nobody accepts are dropped.
type Chain struct {
	matchers []Matcher

	active int
	sticky bool // the active matcher accepted the previous line

	afterBlank bool
	rec        *Record

	// Extra is appended to every completed record.
	Extra *Field

	// Filter decides whether a completed record goes to the handler.
	Filter func(*Record) bool

	// Mismatched counts dropped lines.
	Mismatched int
}

// Parser reads a report of one chunk.
type Parser interface {
	Parse(r io.Reader, fn func(*Record) error) (int, error)
}

// NewChain creates a chain from matchers in report order.
func NewChain(matchers ...Matcher) *Chain {
	return &Chain{
		matchers: matchers,
		rec:      NewRecord(),
	}
}

// NewLegacyChain returns the chain for the multi-section text report.
// With quality set, CDR3 and whole-read qualities are computed from the
// quality strings in store.
func NewLegacyChain(store SeqLookup, quality bool) *Chain {
	return NewChain(
		NewQueryMatcher(store),
		NewHitsMatcher(),
		NewVDJMatcher(),
		NewJunctionMatcher(),
		NewSubRegionMatcher(),
		NewSummaryMatcher(),
		NewAlignmentMatcher(store, quality),
	)
}

// Reset drops the open record and all matcher state.
func (c *Chain) Reset() {
	for _, m := range c.matchers {
		m.Reset()
	}
	c.active = 0
	c.sticky = false
	c.afterBlank = false
	c.rec = NewRecord()
}

// Feed processes one line. A completed record is returned when the line
// is the end-of-record marker.
func (c *Chain) Feed(text string) (*Record, bool) {
	text = strings.TrimRight(text, "\r\n")
	if strings.TrimSpace(text) == "" {
		c.afterBlank = true
		return nil, false
	}

	l := Line{Text: text, AfterBlank: c.afterBlank}
	c.afterBlank = false

	if !c.dispatch(&l) {
		c.Mismatched++
	}

	if !reEndOfRecord.MatchString(text) {
		return nil, false
	}

	rec := c.rec
	rec.Delete(fieldFrameworks)
	if c.Extra != nil {
		rec.Set(c.Extra.Key, c.Extra.Value)
	}
	c.Reset()
	return rec, true
}

func (c *Chain) dispatch(l *Line) bool {
	n := len(c.matchers)
	if n == 0 {
		return false
	}

	first := c.active
	m := c.matchers[first]
	if m.Consume(l, c.rec) {
		c.sticky = true
		return true
	}

	if m.Required() && m.Busy() {
		return true
	}

	if c.sticky {
		c.sticky = false
		c.active = (c.active + 1) % n
	}

	var j int
	for i := 0; i < n; i++ {
		j = (c.active + i) % n
		if j == first {
			continue
		}
		if c.matchers[j].Consume(l, c.rec) {
			c.active = j
			c.sticky = true
			return true
		}
	}
	return false
}

// Parse reads a whole report and calls fn for every accepted record.
// It returns the number of completed records. Trailing lines without an
// end-of-record marker are discarded.
func (c *Chain) Parse(r io.Reader, fn func(*Record) error) (int, error) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 1<<20)
	scanner.Buffer(buf, 1<<26)

	var n int
	var rec *Record
	var ok bool
	var err error
	for scanner.Scan() {
		rec, ok = c.Feed(scanner.Text())
		if !ok {
			continue
		}
		n++
		if c.Filter != nil && !c.Filter(rec) {
			continue
		}
		if err = fn(rec); err != nil {
			return n, err
		}
	}
	if err = scanner.Err(); err != nil {
		return n, errors.Wrap(err, "read report")
	}
	if c.rec.Len() > 0 {
		log.Debugf("incomplete record discarded at end of report: %d fields", c.rec.Len())
		c.Reset()
	}
	return n, nil
}
