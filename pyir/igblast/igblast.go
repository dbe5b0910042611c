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

// Package igblast runs the external aligner on one chunk and parses its
// report on the fly.
package igblast

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/crowelab/PyIR/pyir/config"
	"github.com/crowelab/PyIR/pyir/filter"
	"github.com/crowelab/PyIR/pyir/output"
	"github.com/crowelab/PyIR/pyir/partition"
	"github.com/crowelab/PyIR/pyir/report"
	"github.com/pkg/errors"
	"github.com/shenwei356/go-logging"
)

var log = logging.MustGetLogger("pyir")

// output format codes of the aligner
const (
	OutFmtLegacy = 3
	OutFmtAIRR   = 19
)

// WaitDelay is how long a cancelled aligner may take to exit after
// receiving an interrupt before it is killed.
var WaitDelay = 5 * time.Second

// StderrTail is the number of trailing stderr bytes kept for error messages.
const StderrTail = 4 << 10

// Args returns the aligner arguments, ending with -query.
// The query file is appended by the caller.
func Args(cfg *config.Config) []string {
	outfmt := OutFmtAIRR
	if cfg.Legacy {
		outfmt = OutFmtLegacy
	}
	return []string{
		"-min_D_match", strconv.Itoa(cfg.MinDMatch),
		"-num_alignments_V", strconv.Itoa(cfg.NumV),
		"-num_alignments_D", strconv.Itoa(cfg.NumD),
		"-num_alignments_J", strconv.Itoa(cfg.NumJ),
		"-organism", cfg.Species,
		"-ig_seqtype", cfg.Receptor,
		"-germline_db_V", cfg.GermlineV,
		"-germline_db_D", cfg.GermlineD,
		"-germline_db_J", cfg.GermlineJ,
		"-auxiliary_data", cfg.AuxData,
		"-outfmt", strconv.Itoa(outfmt),
		"-domain_system", "imgt",
		"-word_size", strconv.Itoa(cfg.WordSize),
		"-gapopen", "5",
		"-gapextend", "2",
		"-num_alignments", "1",
		"-num_descriptions", "1",
		"-num_threads", "1",
		"-show_translation",
		"-extend_align5end",
		"-query",
	}
}

// WorkerError is the failure of one chunk.
type WorkerError struct {
	Chunk  int
	Status int // exit status of the aligner, -1 if it did not exit normally
	Stderr string
	Err    error
}

func (e *WorkerError) Error() string {
	msg := fmt.Sprintf("chunk %d: %s", e.Chunk, e.Err)
	if e.Status > 0 {
		msg += fmt.Sprintf(" (exit status %d)", e.Status)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// Cause returns the underlying error.
func (e *WorkerError) Cause() error { return e.Err }

func (e *WorkerError) Unwrap() error { return e.Err }

// Result is the outcome of one chunk.
type Result struct {
	Chunk *partition.Chunk

	OutFile string           // per-chunk output file
	Records []*report.Record // records of the dict format

	Parsed   int
	Accepted int

	Err error
}

// Runner runs the aligner on chunks. It is safe for concurrent use.
type Runner struct {
	cfg     *config.Config
	args    []string
	format  output.Format
	extra   *report.Field
	columns []string
	outDir  string
}

// NewRunner creates a Runner writing per-chunk outputs into outDir.
func NewRunner(cfg *config.Config, outDir string) (*Runner, error) {
	format, err := output.ParseFormat(cfg.OutFormat)
	if err != nil {
		return nil, err
	}
	r := &Runner{
		cfg:    cfg,
		args:   Args(cfg),
		format: format,
		outDir: outDir,
	}
	if cfg.AdditionalField != "" {
		if r.extra, err = report.ParseField(cfg.AdditionalField); err != nil {
			return nil, err
		}
	}
	if format == output.TSV {
		r.columns = report.AIRRHeader(r.extra)
	}
	return r, nil
}

// Format returns the output format.
func (r *Runner) Format() output.Format { return r.format }

// Columns returns the TSV columns.
func (r *Runner) Columns() []string { return r.columns }

// NewParser creates a parser with the filter for a chunk's report.
// store is only used by the text report.
func NewParser(cfg *config.Config, extra *report.Field, store report.SeqLookup, quality bool) report.Parser {
	engine := filter.New(&cfg.Filter, cfg.Legacy, quality)
	if cfg.Legacy {
		chain := report.NewLegacyChain(store, quality)
		chain.Extra = extra
		chain.Filter = engine.Accept
		return chain
	}
	p := report.NewAIRRParser(extra)
	p.Filter = engine.Accept
	return p
}

func (r *Runner) outFile(chunk *partition.Chunk) string {
	return filepath.Join(r.outDir, fmt.Sprintf("chunk_%06d%s", chunk.Index, r.format.Ext()))
}

// Run aligns and parses one chunk. Cancelling ctx interrupts the aligner.
// Failures are returned in Result.Err as *WorkerError.
func (r *Runner) Run(ctx context.Context, chunk *partition.Chunk) *Result {
	res := &Result{Chunk: chunk}
	fail := func(status int, stderr string, err error) *Result {
		res.Err = &WorkerError{Chunk: chunk.Index, Status: status, Stderr: stderr, Err: err}
		res.Accepted = 0
		res.Records = nil
		if res.OutFile != "" {
			os.Remove(res.OutFile)
			res.OutFile = ""
		}
		return res
	}

	var store report.SeqLookup
	if r.cfg.Legacy {
		s, err := chunk.LoadStore()
		if err != nil {
			return fail(-1, "", err)
		}
		store = s
	}

	var sink output.Sink
	if r.format == output.Dict {
		sink = &output.MemorySink{}
	} else {
		w, err := output.NewRecordWriter(r.outFile(chunk), r.format, r.cfg.Pretty, r.columns)
		if err != nil {
			return fail(-1, "", err)
		}
		res.OutFile = w.File
		sink = w
	}

	parser := NewParser(r.cfg, r.extra, store, chunk.Quality())

	args := make([]string, 0, len(r.args)+1)
	args = append(args, r.args...)
	args = append(args, chunk.FastaFile)

	cmd := exec.CommandContext(ctx, r.cfg.Executable, args...)
	cmd.Env = append(os.Environ(), "IGDATA="+r.cfg.Database)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = WaitDelay
	stderr := newTailBuffer(StderrTail)
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		sink.Close()
		return fail(-1, "", err)
	}
	if err = cmd.Start(); err != nil {
		sink.Close()
		return fail(-1, "", errors.Wrap(err, "start aligner"))
	}

	var in io.Reader = stdout
	var reportFile *os.File
	if r.cfg.Debug {
		file := filepath.Join(r.outDir, fmt.Sprintf("chunk_%06d.report", chunk.Index))
		if reportFile, err = os.Create(file); err == nil {
			in = io.TeeReader(stdout, reportFile)
		} else {
			log.Warningf("fail to keep the report of chunk %d: %s", chunk.Index, err)
		}
	}

	res.Parsed, err = parser.Parse(in, func(rec *report.Record) error {
		res.Accepted++
		return sink.Write(rec)
	})
	if err != nil {
		io.Copy(io.Discard, stdout)
	}
	if reportFile != nil {
		reportFile.Close()
	}
	werr := cmd.Wait()
	cerr := sink.Close()

	if ctx.Err() != nil {
		return fail(-1, stderr.String(), ctx.Err())
	}
	if werr != nil {
		status := -1
		if exitErr, ok := werr.(*exec.ExitError); ok {
			status = exitErr.ExitCode()
		}
		return fail(status, stderr.String(), errors.Wrap(werr, "aligner failed"))
	}
	if err != nil {
		return fail(-1, stderr.String(), err)
	}
	if cerr != nil {
		return fail(-1, "", cerr)
	}

	if ms, ok := sink.(*output.MemorySink); ok {
		res.Records = ms.Records
	}
	if chain, ok := parser.(*report.Chain); ok && chain.Mismatched > 0 {
		log.Debugf("chunk %d: %d unmatched report lines dropped", chunk.Index, chain.Mismatched)
	}
	return res
}

// tailBuffer keeps the last bytes written to it.
type tailBuffer struct {
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{buf: make([]byte, 0, max), max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if n >= t.max {
		t.buf = append(t.buf[:0], p[n-t.max:]...)
		return n, nil
	}
	if over := len(t.buf) + n - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	t.buf = append(t.buf, p...)
	return n, nil
}

func (t *tailBuffer) String() string { return string(t.buf) }
