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

// Package filter decides whether a parsed record goes to the output.
package filter

import (
	"regexp"
	"strings"

	"github.com/crowelab/PyIR/pyir/report"
	"github.com/pkg/errors"
	"github.com/shenwei356/go-logging"
)

var log = logging.MustGetLogger("pyir")

// Config contains the filter switches and thresholds.
type Config struct {
	Enable bool `toml:"enable"`

	VEvalue float64 `toml:"v-evalue"`
	JEvalue float64 `toml:"j-evalue"`

	Productive bool `toml:"productive"`
	StopCodon  bool `toml:"stop-codon"`
	VJFrame    bool `toml:"vj-frame"`
	AAStrings  bool `toml:"aa-strings"`
	NTStrings  bool `toml:"nt-strings"`

	CDR3Length    bool `toml:"cdr3-length"`
	CDR3MinLength int  `toml:"cdr3-min-length"`
	CDR3MaxLength int  `toml:"cdr3-max-length"` // exclusive

	CDR3Quality bool `toml:"cdr3-quality"`
	MinPhred    int  `toml:"min-phred"`
}

// DefaultConfig returns the default filters. Nothing is filtered
// unless Enable is set.
func DefaultConfig() Config {
	return Config{
		VEvalue:       1e-6,
		JEvalue:       1e-6,
		Productive:    true,
		StopCodon:     true,
		VJFrame:       true,
		AAStrings:     true,
		NTStrings:     true,
		CDR3MinLength: 3,
		CDR3MaxLength: 50,
		MinPhred:      30,
	}
}

// Validate checks the thresholds.
func (c *Config) Validate() error {
	if c.VEvalue < 0 || c.JEvalue < 0 {
		return errors.Errorf("e-value thresholds should be non-negative: %v, %v", c.VEvalue, c.JEvalue)
	}
	if c.CDR3Length && (c.CDR3MinLength < 0 || c.CDR3MinLength >= c.CDR3MaxLength) {
		return errors.Errorf("invalid CDR3 length range: [%d, %d)", c.CDR3MinLength, c.CDR3MaxLength)
	}
	if c.CDR3Quality && c.MinPhred < 0 {
		return errors.Errorf("minimum Phred score should be non-negative: %d", c.MinPhred)
	}
	return nil
}

// field names of the two record schemas
type fields struct {
	vSupport, jSupport  string
	productive          string
	stopCodon           string
	vjInFrame           string
	sequenceAlignment   string
	sequenceAlignmentAA string
}

var airrFields = fields{
	vSupport:            "v_support",
	jSupport:            "j_support",
	productive:          "productive",
	stopCodon:           "stop_codon",
	vjInFrame:           "vj_in_frame",
	sequenceAlignment:   "sequence_alignment",
	sequenceAlignmentAA: "sequence_alignment_aa",
}

var legacyFields = fields{
	vSupport:            report.FieldVEvalue,
	jSupport:            report.FieldJEvalue,
	productive:          report.FieldProduct,
	stopCodon:           report.FieldStopCodon,
	vjInFrame:           report.FieldVJFrame,
	sequenceAlignment:   report.FieldNTTrimmed,
	sequenceAlignmentAA: report.FieldAA,
}

var reAAMotif = regexp.MustCompile(`WG|FG`)

type predicate struct {
	name string
	fn   func(*report.Record) bool
}

// Engine applies enabled predicates in order, stopping at the first failure.
// Records are never modified.
type Engine struct {
	preds  []predicate
	f      *fields
	legacy bool
	cfg    Config
}

// New creates an Engine for records of the text report (legacy) or the
// tabular report. The CDR3 quality predicate only applies to legacy
// records of FASTQ input.
func New(cfg *Config, legacy bool, quality bool) *Engine {
	e := &Engine{legacy: legacy, cfg: *cfg, f: &airrFields}
	if legacy {
		e.f = &legacyFields
	}
	if !cfg.Enable {
		return e
	}

	e.preds = append(e.preds, predicate{"e-value", e.evalue})
	if cfg.Productive {
		e.preds = append(e.preds, predicate{"productive", e.productive})
	}
	if cfg.StopCodon {
		e.preds = append(e.preds, predicate{"stop codon", e.stopCodon})
	}
	if cfg.VJFrame {
		e.preds = append(e.preds, predicate{"V-J frame", e.vjFrame})
	}
	if cfg.AAStrings {
		e.preds = append(e.preds, predicate{"AA strings", e.aaStrings})
	}
	if cfg.NTStrings {
		e.preds = append(e.preds, predicate{"NT strings", e.ntStrings})
	}
	if cfg.CDR3Length {
		e.preds = append(e.preds, predicate{"CDR3 length", e.cdr3Length})
	}
	if cfg.CDR3Quality && legacy && quality {
		e.preds = append(e.preds, predicate{"CDR3 quality", e.cdr3Quality})
	}
	return e
}

// Enabled tells whether any predicate is applied.
func (e *Engine) Enabled() bool { return len(e.preds) > 0 }

// Check returns whether the record passes, and the first failed predicate.
func (e *Engine) Check(rec *report.Record) (bool, string) {
	for _, p := range e.preds {
		if !p.fn(rec) {
			return false, p.name
		}
	}
	return true, ""
}

// Accept tells whether the record passes all enabled predicates.
// Rejections are logged in debug mode.
func (e *Engine) Accept(rec *report.Record) bool {
	ok, name := e.Check(rec)
	if !ok && log.IsEnabledFor(logging.DEBUG) {
		log.Debugf("%s failed: %s", name, recordID(rec))
	}
	return ok
}

func recordID(rec *report.Record) string {
	if id, ok := rec.String(report.FieldSequenceID); ok {
		return id
	}
	id, _ := rec.String("sequence_id")
	return id
}

func (e *Engine) str(rec *report.Record, key string) (string, bool) {
	return rec.String(key)
}

func (e *Engine) evalue(rec *report.Record) bool {
	v, ok := rec.Float(e.f.vSupport)
	if !ok {
		return false
	}
	j, ok := rec.Float(e.f.jSupport)
	if !ok {
		return false
	}
	return v <= e.cfg.VEvalue && j <= e.cfg.JEvalue
}

func (e *Engine) oneOf(rec *report.Record, key string, vals ...string) bool {
	s, ok := e.str(rec, key)
	if !ok {
		return false
	}
	for _, v := range vals {
		if s == v {
			return true
		}
	}
	return false
}

func (e *Engine) productive(rec *report.Record) bool {
	return e.oneOf(rec, e.f.productive, "Yes", "T")
}

func (e *Engine) stopCodon(rec *report.Record) bool {
	return e.oneOf(rec, e.f.stopCodon, "No", "F")
}

func (e *Engine) vjFrame(rec *report.Record) bool {
	return e.oneOf(rec, e.f.vjInFrame, "In-frame", "T")
}

func (e *Engine) cdr3AA(rec *report.Record) (string, bool) {
	if !e.legacy {
		return e.str(rec, "cdr3_aa")
	}
	cdr3 := rec.Nested(report.RegionCDR3)
	if cdr3 == nil {
		return "", false
	}
	return cdr3.String(report.FieldRegionAA)
}

// no stop codon, and a W/F-G motif after the CDR3
func (e *Engine) aaStrings(rec *report.Record) bool {
	aa, ok := e.str(rec, e.f.sequenceAlignmentAA)
	if !ok || strings.IndexByte(aa, '*') >= 0 {
		return false
	}
	cdr3, ok := e.cdr3AA(rec)
	if !ok || cdr3 == "" {
		return false
	}
	i := strings.Index(aa, cdr3)
	if i < 0 {
		return false
	}
	// up to the next occurrence of the CDR3, if any
	after := aa[i+len(cdr3):]
	if j := strings.Index(after, cdr3); j >= 0 {
		after = after[:j]
	}
	return reAAMotif.MatchString(after)
}

// no ambiguous bases in the alignment, ignoring the first 2 and last 3
func (e *Engine) ntStrings(rec *report.Record) bool {
	nt, ok := e.str(rec, e.f.sequenceAlignment)
	if !ok {
		return false
	}
	if len(nt) <= 5 {
		return true
	}
	return strings.IndexByte(nt[2:len(nt)-3], 'N') < 0
}

func (e *Engine) cdr3Length(rec *report.Record) bool {
	if !e.legacy {
		if _, ok := e.str(rec, "cdr3"); !ok {
			return false
		}
	}
	cdr3, ok := e.cdr3AA(rec)
	if !ok {
		return false
	}
	return len(cdr3) >= e.cfg.CDR3MinLength && len(cdr3) < e.cfg.CDR3MaxLength
}

func (e *Engine) cdr3Quality(rec *report.Record) bool {
	cdr3 := rec.Nested(report.RegionCDR3)
	if cdr3 == nil {
		return false
	}
	v, ok := cdr3.Get(report.FieldLowestPhred)
	if !ok {
		return false
	}
	q, ok := v.(int)
	return ok && q >= e.cfg.MinPhred
}
