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

	"github.com/crowelab/PyIR/pyir/util"
)

var (
	reAlignmentsTrigger = regexp.MustCompile(`^Alignments`)
	reAlignmentsHalt    = regexp.MustCompile(`^Lambda`)
	reBoundary          = regexp.MustCompile(`<[-\w]*>`)
)

const (
	rowKeyHeader      = "header"
	rowKeyTranslation = "translation"
)

// CDR3 quality window, in bases on each side.
const cdr3QualityFlank = 5

type rowKind int

const (
	rowQuery rowKind = iota
	rowHit
	rowHeader
	rowTranslation
)

// Rules classifying alignment lines, in priority order.
// A line matching none of them is a translation row.
var rowRules = []struct {
	kind rowKind
	re   *regexp.Regexp
}{
	{rowQuery, regexp.MustCompile(`(\S*Query\S*)\s+([0-9]+)\s+(\S*)\s+([0-9]+)`)},
	{rowHit, regexp.MustCompile(`([VDJ])\s+(\S*)\s+(\S*)\s+(\S*)\s+([0-9]+)\s+(\S*)\s+([0-9]+)`)},
	{rowHeader, regexp.MustCompile(`[<\->]`)},
}

// alignmentRow is one line of an alignment block, or several lines of
// the same participant once merged.
type alignmentRow struct {
	kind rowKind
	id   string
	key  string // id-end for query and hit rows

	start, end int
	text       string

	geneType string
	identity string
	fraction string

	// position of the aligned string in the line
	spanStart, spanEnd int
	hasSpan            bool

	// 1-based index of the line group it belongs to
	chunk int
}

func classifyRow(line string) *alignmentRow {
	var loc []int
	for _, rule := range rowRules {
		loc = rule.re.FindStringSubmatchIndex(line)
		if loc == nil {
			continue
		}

		switch rule.kind {
		case rowQuery:
			r := &alignmentRow{kind: rowQuery, id: line[loc[2]:loc[3]]}
			r.start, _ = strconv.Atoi(line[loc[4]:loc[5]])
			r.text = line[loc[6]:loc[7]]
			r.end, _ = strconv.Atoi(line[loc[8]:loc[9]])
			r.spanStart, r.spanEnd, r.hasSpan = loc[6], loc[7], true
			r.key = r.id + "-" + strconv.Itoa(r.end)
			return r
		case rowHit:
			r := &alignmentRow{
				kind:     rowHit,
				geneType: line[loc[2]:loc[3]],
				identity: line[loc[4]:loc[5]],
				fraction: line[loc[6]:loc[7]],
				id:       line[loc[8]:loc[9]],
			}
			r.start, _ = strconv.Atoi(line[loc[10]:loc[11]])
			r.text = line[loc[12]:loc[13]]
			r.end, _ = strconv.Atoi(line[loc[14]:loc[15]])
			r.spanStart, r.spanEnd, r.hasSpan = loc[12], loc[13], true
			r.key = r.id + "-" + strconv.Itoa(r.end)
			return r
		case rowHeader:
			return &alignmentRow{kind: rowHeader, id: rowKeyHeader, key: rowKeyHeader, text: line}
		}
	}
	return &alignmentRow{kind: rowTranslation, id: rowKeyTranslation, key: rowKeyTranslation, text: line}
}

func (r *alignmentRow) isHeader() bool      { return r.kind == rowHeader }
func (r *alignmentRow) isTranslation() bool { return r.kind == rowTranslation }
func (r *alignmentRow) isAligned() bool     { return r.kind == rowQuery || r.kind == rowHit }

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// AlignmentMatcher reconstructs the wrapped alignment block: rows of the
// same participant are merged across line groups, and sub-regions are
// located from the boundary markers of the header row.
type AlignmentMatcher struct {
	store   SeqLookup
	quality bool

	triggered bool

	// widest aligned span seen
	spanStart, spanEnd int
	hasSpan            bool

	rows       []*alignmentRow
	prev       *alignmentRow
	queryCount int
}

// NewAlignmentMatcher creates an AlignmentMatcher. With quality set,
// quality strings in store are used for CDR3 and whole-read qualities.
func NewAlignmentMatcher(store SeqLookup, quality bool) *AlignmentMatcher {
	return &AlignmentMatcher{
		store:   store,
		quality: quality,
		rows:    make([]*alignmentRow, 0, 32),
	}
}

func (m *AlignmentMatcher) Name() string   { return "alignments" }
func (m *AlignmentMatcher) Required() bool { return true }
func (m *AlignmentMatcher) Busy() bool     { return m.triggered }

func (m *AlignmentMatcher) Reset() {
	m.triggered = false
	m.spanStart, m.spanEnd, m.hasSpan = 0, 0, false
	m.rows = m.rows[:0]
	m.prev = nil
	m.queryCount = 0
}

func (m *AlignmentMatcher) spanWidth() int { return m.spanEnd - m.spanStart }

func (m *AlignmentMatcher) Consume(l *Line, rec *Record) bool {
	if reAlignmentsTrigger.MatchString(l.Text) {
		m.triggered = true
		return true
	}
	if !m.triggered {
		return false
	}

	if reAlignmentsHalt.MatchString(l.Text) {
		m.finish(rec)
		m.Reset()
		return true
	}

	r := classifyRow(l.Text)
	if r.hasSpan && (!m.hasSpan || m.spanWidth() < r.spanEnd-r.spanStart) {
		m.spanStart, m.spanEnd, m.hasSpan = r.spanStart, r.spanEnd, true
	}

	// inline translations of germline rows
	if m.prev != nil && r.isTranslation() && !m.prev.isHeader() && !l.AfterBlank {
		return true
	}

	if r.kind == rowQuery {
		m.queryCount++
	}
	r.chunk = m.queryCount + b2i(r.isHeader()) + b2i(r.isTranslation())
	m.rows = append(m.rows, r)
	m.prev = r
	return true
}

// merge joins rows of the same participant, header first, translation
// second. All rows are padded to the same width.
func (m *AlignmentMatcher) merge() []*alignmentRow {
	width := m.spanWidth()
	keys := make([]string, 0, len(m.rows))
	merged := make([]*alignmentRow, 0, len(m.rows))
	var maxWidth int

	var key string
	var idx, i, pos int
	for _, r := range m.rows {
		switch {
		case r.isAligned():
			// continues a row ending right before it
			key = r.id + "-" + strconv.Itoa(r.start-1)
		case r.isHeader():
			key = rowKeyHeader
			r.text = util.SafeSlice(r.text, m.spanStart, m.spanEnd)
		default:
			key = rowKeyTranslation
			r.text = util.SafeSlice(r.text, m.spanStart, m.spanEnd)
		}

		idx = -1
		for i = range keys {
			if keys[i] == key {
				idx = i
				break
			}
		}

		if idx >= 0 {
			if r.isAligned() {
				keys[idx] = r.id + "-" + strconv.Itoa(r.end)
			}
			merged[idx].text += r.text
			merged[idx].end = r.end
			if len(merged[idx].text) > maxWidth {
				maxWidth = len(merged[idx].text)
			}
			continue
		}

		if r.chunk > 1 {
			r.text = strings.Repeat(" ", width*(r.chunk-1)) + r.text
		}
		if len(r.text) > maxWidth {
			maxWidth = len(r.text)
		}

		switch {
		case r.isHeader():
			pos = 0
		case r.isTranslation():
			pos = 1
			if pos > len(keys) {
				pos = len(keys)
			}
		default:
			pos = len(keys)
		}
		keys = append(keys, "")
		copy(keys[pos+1:], keys[pos:])
		keys[pos] = r.key
		merged = append(merged, nil)
		copy(merged[pos+1:], merged[pos:])
		merged[pos] = r
	}

	for _, r := range merged {
		if len(r.text) < maxWidth {
			r.text += strings.Repeat(" ", maxWidth-len(r.text))
		}
		if r.isAligned() {
			r.text = strings.ReplaceAll(r.text, " ", "-")
		}
	}
	return merged
}

func (m *AlignmentMatcher) finish(rec *Record) {
	merged := m.merge()

	alns := &Alignments{
		Strings: make([]string, 0, len(merged)),
		Keys:    make([]string, 0, len(merged)),
	}
	rec.Set(FieldAlignments, alns)

	hits := rec.Hits()
	var header, translation, query *alignmentRow
	var frame int
	var h *Hit
	for _, r := range merged {
		alns.Keys = append(alns.Keys, r.id)
		alns.Strings = append(alns.Strings, r.text)

		switch r.kind {
		case rowHeader:
			if header == nil {
				header = r
			}
		case rowTranslation:
			translation = r
			frame = firstFrame(r.text)
			rec.Set(FieldAA, strings.ReplaceAll(r.text, " ", ""))
		case rowQuery:
			query = r
		case rowHit:
			if h = findHit(hits, r.id); h != nil {
				h.GeneType = r.geneType
				h.AlignmentStart = r.start
				h.AlignmentEnd = r.end
				if v, err := strconv.ParseFloat(strings.Trim(r.identity, "%"), 64); err == nil {
					h.PercentIdentity = &v
				}
				h.PercentFraction = r.fraction
			}
		}
	}

	if query != nil {
		rec.Set(FieldNTTrimmed, util.SafeSlice(query.text, frame, len(query.text)))
	} else {
		log.Debugf("no query row in alignments of %s", seqID(rec))
	}

	if header != nil {
		m.regions(rec, header, translation, query)
	}

	if m.quality {
		if _, qual, ok := m.lookup(rec); ok && qual != "" {
			rec.Set(FieldAverageQuality, util.MeanPhred(qual))
		}
	}

	rec.Delete(fieldFrameworks)
}

// firstFrame returns the offset of the first complete codon. Amino acids
// are printed below the middle base of their codon.
func firstFrame(translation string) int {
	i := len(translation) - len(strings.TrimLeft(translation, " ")) - 1
	for i-3 >= 0 {
		i -= 3
	}
	if i < 0 {
		i = 0
	}
	return i
}

// regions locates FR/CDR regions from the boundary markers in the header.
// The k-th marker is the k-th region of the alignment summary, markers
// beyond them are CDR3, and what follows CDR3 is FR4.
func (m *AlignmentMatcher) regions(rec *Record, header, translation, query *alignmentRow) {
	var aaRow, ntRow string
	if translation != nil {
		aaRow = translation.text
	}
	if query != nil {
		ntRow = query.text
	}

	var frameworks []string
	if v, ok := rec.Get(fieldFrameworks); ok {
		frameworks, _ = v.([]string)
	}

	var key string
	var region *Record
	var s, e int
	var aa string
	for k, loc := range reBoundary.FindAllStringIndex(header.text, -1) {
		s, e = loc[0], loc[1]
		if k < len(frameworks) {
			key = frameworks[k]
			region = rec.Sub(key)
		} else {
			key = RegionCDR3
			region = NewRecord()
			rec.Set(key, region)
		}

		if strings.Contains(key, RegionCDR3) {
			if m.quality {
				m.cdr3Quality(rec, region, util.SafeSlice(ntRow, s, e))
			}

			fr4AA := strings.ReplaceAll(util.SafeSlice(aaRow, e, len(aaRow)), " ", "")
			fr4NT := util.SafeSlice(ntRow, e, len(ntRow))
			if fr4AA != "" || fr4NT != "" {
				fr4 := NewRecord()
				if fr4AA != "" {
					fr4.Set(FieldRegionAA, fr4AA)
				}
				if fr4NT != "" {
					fr4.Set(FieldRegionNT, fr4NT)
				}
				rec.Set(RegionFR4, fr4)
			}
		}

		aa = strings.ReplaceAll(util.SafeSlice(aaRow, s, e), " ", "")
		region.Set(FieldRegionAA, aa)
		region.Set(FieldRegionAALength, len(aa))
		region.Set(FieldRegionNT, util.SafeSlice(ntRow, s, e))
	}
}

func (m *AlignmentMatcher) lookup(rec *Record) (string, string, bool) {
	if m.store == nil {
		return "", "", false
	}
	id, ok := rec.String(FieldSequenceID)
	if !ok {
		return "", "", false
	}
	return m.store.Lookup(id)
}

// cdr3Quality records the quality string around the CDR3 in the raw read,
// and its lowest Phred score.
func (m *AlignmentMatcher) cdr3Quality(rec *Record, region *Record, nt string) {
	raw, qual, ok := m.lookup(rec)
	if !ok || qual == "" {
		return
	}

	nt = strings.ToUpper(util.RemoveGaps(nt))
	if strand, _ := rec.String(FieldStrand); strand == "-" {
		var err error
		if nt, err = util.RevComp(nt); err != nil {
			log.Debugf("%s: %s", seqID(rec), err)
			return
		}
	}
	if nt == "" {
		return
	}

	start := strings.Index(strings.ToUpper(raw), nt)
	if start < 0 {
		log.Debugf("CDR3 not found in raw sequence of %s", seqID(rec))
		return
	}
	window := util.SafeSlice(qual, start-cdr3QualityFlank, start+len(nt)+cdr3QualityFlank)
	region.Set(FieldQuality, window)
	region.Set(FieldLowestPhred, util.MinPhred(window))
}

func seqID(rec *Record) string {
	id, _ := rec.String(FieldSequenceID)
	return id
}
