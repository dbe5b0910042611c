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

package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/crowelab/PyIR/pyir/config"
	"github.com/crowelab/PyIR/pyir/igblast"
	"github.com/crowelab/PyIR/pyir/output"
	"github.com/crowelab/PyIR/pyir/partition"
	"github.com/crowelab/PyIR/pyir/report"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shenwei356/go-logging"
	"github.com/twotwotwo/sorts"
)

var log = logging.MustGetLogger("pyir")

// ErrChunksFailed is the cause of the error returned when some chunks failed.
var ErrChunksFailed = errors.New("some chunks failed")

// Options contains callbacks and replaceable parts of Run.
type Options struct {
	// Worker replaces the aligner runner.
	Worker Worker

	// OnSplit is called after the input is split.
	OnSplit func(p *partition.Partition)

	// OnResult is called when a chunk is done.
	OnResult func(r *igblast.Result)
}

// Summary describes a finished run.
type Summary struct {
	NumSeqs   int
	ChunkSize int
	Chunks    int

	Parsed   int
	Accepted int

	// failed chunks, with errors in Err
	Failed []*igblast.Result

	OutFile string
	// records of the dict format, keyed by sequence identifier
	Records map[string]*report.Record

	TmpDir  string
	Elapsed time.Duration
}

var reInputExt = regexp.MustCompile(`(?i)(\.(fasta|fas|fa|fna|fastq|fq|txt))?(\.(gz|xz|zst|bz2))?$`)

// DefaultOutFile derives the output file from the first input file.
func DefaultOutFile(input string, format output.Format, gzipped bool) string {
	if input == "" || input == "-" {
		return "-"
	}
	file := reInputExt.ReplaceAllString(filepath.Base(input), "") + format.Ext()
	if gzipped {
		file += ".gz"
	}
	return filepath.Join(filepath.Dir(input), file)
}

// recordID returns the identifier of records of both report types.
func recordID(rec *report.Record) string {
	if id, ok := rec.String(report.FieldSequenceID); ok {
		return id
	}
	id, _ := rec.String("sequence_id")
	return id
}

// Run processes the input of cfg: split, align and parse chunks in
// parallel, then merge outputs. cfg is validated first, without
// checking the external tool.
//
// Failed chunks do not stop the run. Their records are excluded, and an
// error with the cause ErrChunksFailed is returned with the summary.
// The temporary directory is kept in debug mode.
func Run(ctx context.Context, cfg *config.Config, opt *Options) (*Summary, error) {
	if opt == nil {
		opt = &Options{}
	}
	timeStart := time.Now()
	sum := &Summary{}

	// nothing is dispatched with an invalid configuration
	err := cfg.Validate(false)
	if err != nil {
		return nil, err
	}

	// ---------------------------------------------------------------
	// temporary directory

	tmpDir := filepath.Join(cfg.TmpDir, "pyir_"+uuid.New().String())
	if err = os.MkdirAll(tmpDir, 0755); err != nil {
		return nil, errors.Wrap(err, "create tmp dir")
	}
	sum.TmpDir = tmpDir
	defer func() {
		if cfg.Debug {
			log.Infof("temporary files kept in %s", tmpDir)
			return
		}
		if err := os.RemoveAll(tmpDir); err != nil {
			log.Warningf("fail to remove tmp dir: %s", err)
		}
	}()
	if cfg.Debug {
		if err = cfg.Write(filepath.Join(tmpDir, "config.toml")); err != nil {
			log.Warningf("fail to write config: %s", err)
		}
	}

	// ---------------------------------------------------------------
	// split

	if cfg.ChunkSize == 0 {
		size, err := partition.InputSize(cfg.Input)
		if err == nil {
			log.Infof("input size: %s", humanize.Bytes(uint64(size)))
		}
	}
	p, err := partition.Split(cfg.Input, &partition.Options{ChunkSize: cfg.ChunkSize, OutDir: tmpDir})
	if err != nil {
		return nil, err
	}
	sum.NumSeqs = p.NumSeqs
	sum.ChunkSize = p.ChunkSize
	sum.Chunks = len(p.Chunks)
	log.Infof("%s sequences split into %d chunks of up to %d sequences",
		humanize.Comma(int64(p.NumSeqs)), len(p.Chunks), p.ChunkSize)
	if opt.OnSplit != nil {
		opt.OnSplit(p)
	}

	// ---------------------------------------------------------------
	// align and parse

	runner, err := igblast.NewRunner(cfg, tmpDir)
	if err != nil {
		return nil, err
	}
	format := runner.Format()
	work := opt.Worker
	if work == nil {
		work = runner.Run
	}

	pool := NewPool(cfg.Threads)
	pool.OnResult = func(r *igblast.Result) {
		if r.Err != nil {
			log.Errorf("%s", r.Err)
		} else if !cfg.Debug {
			if err := r.Chunk.Remove(); err != nil {
				log.Warningf("fail to remove chunk files: %s", err)
			}
		}
		if opt.OnResult != nil {
			opt.OnResult(r)
		}
	}
	results := pool.Run(ctx, p.Chunks, work)

	if err = ctx.Err(); err != nil {
		return sum, err
	}

	ok := make([]*igblast.Result, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			sum.Failed = append(sum.Failed, r)
			continue
		}
		sum.Parsed += r.Parsed
		sum.Accepted += r.Accepted
		ok = append(ok, r)
	}

	if cfg.KeepOrder {
		byIndex := make(map[int]*igblast.Result, len(ok))
		indexes := make([]int, 0, len(ok))
		for _, r := range ok {
			byIndex[r.Chunk.Index] = r
			indexes = append(indexes, r.Chunk.Index)
		}
		sorts.Quicksort(sort.IntSlice(indexes))
		for i, idx := range indexes {
			ok[i] = byIndex[idx]
		}
	}

	// ---------------------------------------------------------------
	// merge

	if format == output.Dict {
		sum.Records = make(map[string]*report.Record, sum.Accepted)
		for _, r := range ok {
			for _, rec := range r.Records {
				sum.Records[recordID(rec)] = rec
			}
		}
	} else {
		outFile := cfg.OutFile
		if outFile == "" {
			outFile = DefaultOutFile(cfg.Input[0], format, cfg.Gzip)
		}
		if err = aggregate(outFile, cfg, format, runner.Columns(), ok); err != nil {
			return sum, err
		}
		sum.OutFile = outFile
	}

	sum.Elapsed = time.Since(timeStart)
	if len(sum.Failed) > 0 {
		return sum, errors.Wrapf(ErrChunksFailed, "%d of %d chunks failed", len(sum.Failed), sum.Chunks)
	}
	return sum, nil
}

func aggregate(file string, cfg *config.Config, format output.Format, columns []string, results []*igblast.Result) error {
	files := make([]string, len(results))
	for i, r := range results {
		files[i] = r.OutFile
	}

	outfh, gw, w, err := output.OutStream(file, cfg.Gzip, cfg.CompressionLevel)
	if err != nil {
		return err
	}
	err = output.Concat(outfh, files, format, columns)

	if ferr := outfh.Flush(); err == nil {
		err = ferr
	}
	if gw != nil {
		if gerr := gw.Close(); err == nil {
			err = gerr
		}
	}
	if w != os.Stdout {
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}
	return errors.Wrap(err, "write output")
}
