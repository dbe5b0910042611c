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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crowelab/PyIR/pyir/config"
	"github.com/crowelab/PyIR/pyir/igblast"
	"github.com/crowelab/PyIR/pyir/output"
	"github.com/crowelab/PyIR/pyir/partition"
	"github.com/crowelab/PyIR/pyir/report"
	"github.com/pkg/errors"
)

func testConfig(t *testing.T, n int) *config.Config {
	dir := t.TempDir()
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, ">seq%d\nACGTACGT\n", i)
	}
	file := filepath.Join(dir, "in.fasta")
	if err := os.WriteFile(file, []byte(b.String()), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Input = []string{file}
	cfg.TmpDir = dir
	cfg.OutFormat = "lsjson"
	cfg.Threads = 3
	return cfg
}

// fakeWorker writes one record per sequence of a chunk, fails the
// chunks in fail, and rejects all records of the chunks in rejected.
func fakeWorker(format output.Format, fail, rejected map[int]bool) Worker {
	return func(ctx context.Context, chunk *partition.Chunk) *igblast.Result {
		res := &igblast.Result{Chunk: chunk}
		if fail[chunk.Index] {
			res.Err = &igblast.WorkerError{Chunk: chunk.Index, Status: 1, Err: errors.New("aligner failed")}
			return res
		}
		store, err := chunk.LoadStore()
		if err != nil {
			res.Err = err
			return res
		}

		var sink output.Sink
		if format == output.Dict {
			sink = &output.MemorySink{}
		} else {
			res.OutFile = filepath.Join(filepath.Dir(chunk.FastaFile), fmt.Sprintf("chunk_%06d.json", chunk.Index))
			if sink, err = output.NewRecordWriter(res.OutFile, format, false, nil); err != nil {
				res.Err = err
				return res
			}
		}
		for _, s := range store.Sequences() {
			rec := report.NewRecord()
			rec.Set("sequence_id", s.ID)
			res.Parsed++
			if rejected[chunk.Index] {
				continue
			}
			res.Accepted++
			if err = sink.Write(rec); err != nil {
				res.Err = err
				return res
			}
		}
		sink.Close()
		if ms, ok := sink.(*output.MemorySink); ok {
			res.Records = ms.Records
		}
		return res
	}
}

func readLines(t *testing.T, file string) []string {
	fh, err := os.Open(file)
	if err != nil {
		t.Fatal(err)
	}
	defer fh.Close()
	var lines []string
	scanner := bufio.NewScanner(fh)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

func TestRunKeepOrder(t *testing.T) {
	cfg := testConfig(t, 10)
	cfg.ChunkSize = 2
	cfg.KeepOrder = true
	cfg.OutFile = filepath.Join(cfg.TmpDir, "out.json")

	var progress int64
	sum, err := Run(context.Background(), cfg, &Options{
		Worker:   fakeWorker(output.LSJSON, nil, nil),
		OnResult: func(r *igblast.Result) { atomic.AddInt64(&progress, int64(r.Parsed)) },
	})
	if err != nil {
		t.Error(err)
		return
	}
	if sum.Chunks != 5 || sum.Parsed != 10 || sum.Accepted != 10 || progress != 10 {
		t.Errorf("unexpected summary: %+v, progress: %d", sum, progress)
	}

	lines := readLines(t, cfg.OutFile)
	if len(lines) != 10 {
		t.Errorf("expected: 10 records, results: %d", len(lines))
		return
	}
	for i, line := range lines {
		if expected := fmt.Sprintf(`{"sequence_id":"seq%d"}`, i); line != expected {
			t.Errorf("expected: %s, results: %s", expected, line)
		}
	}

	if _, err = os.Stat(sum.TmpDir); !os.IsNotExist(err) {
		t.Errorf("tmp dir should be removed: %s", sum.TmpDir)
	}
}

func TestRunFaultIsolation(t *testing.T) {
	cfg := testConfig(t, 10)
	cfg.ChunkSize = 2
	cfg.OutFormat = "json"
	cfg.OutFile = filepath.Join(cfg.TmpDir, "out.json")

	sum, err := Run(context.Background(), cfg, &Options{Worker: fakeWorker(output.JSON, map[int]bool{3: true}, nil)})
	if errors.Cause(err) != ErrChunksFailed {
		t.Errorf("expected: %v, results: %v", ErrChunksFailed, err)
		return
	}
	if len(sum.Failed) != 1 || sum.Failed[0].Chunk.Index != 3 {
		t.Errorf("expected chunk 3 to fail, results: %v", sum.Failed)
	}
	if sum.Accepted != 8 {
		t.Errorf("expected: 8 accepted, results: %d", sum.Accepted)
	}

	data, err := os.ReadFile(cfg.OutFile)
	if err != nil {
		t.Error(err)
		return
	}
	if n := strings.Count(string(data), "sequence_id"); n != 8 {
		t.Errorf("expected: 8 records, results: %d", n)
	}
	if strings.Contains(string(data), "seq6") || strings.Contains(string(data), "seq7") {
		t.Errorf("records of the failed chunk should be excluded")
	}
}

func TestRunFilteredChunk(t *testing.T) {
	for _, format := range []output.Format{output.LSJSON, output.JSON} {
		cfg := testConfig(t, 6)
		cfg.ChunkSize = 2
		cfg.OutFormat = format.String()
		cfg.OutFile = filepath.Join(cfg.TmpDir, "out.json")

		sum, err := Run(context.Background(), cfg, &Options{Worker: fakeWorker(format, nil, map[int]bool{1: true})})
		if err != nil {
			t.Errorf("%s: %s", format, err)
			continue
		}
		if sum.Parsed != 6 || sum.Accepted != 4 {
			t.Errorf("%s: expected: 6 parsed, 4 accepted, results: %d, %d", format, sum.Parsed, sum.Accepted)
		}

		data, err := os.ReadFile(cfg.OutFile)
		if err != nil {
			t.Error(err)
			continue
		}
		if n := strings.Count(string(data), "sequence_id"); n != 4 {
			t.Errorf("%s: expected: 4 records, results: %d", format, n)
		}
		if format == output.JSON {
			var recs []map[string]interface{}
			if err = json.Unmarshal(data, &recs); err != nil {
				t.Errorf("invalid JSON: %s\n%s", err, data)
			}
		}
	}
}

func TestRunDict(t *testing.T) {
	cfg := testConfig(t, 5)
	cfg.ChunkSize = 2
	cfg.OutFormat = "dict"

	sum, err := Run(context.Background(), cfg, &Options{Worker: fakeWorker(output.Dict, nil, nil)})
	if err != nil {
		t.Error(err)
		return
	}
	if len(sum.Records) != 5 || sum.Records["seq4"] == nil || sum.OutFile != "" {
		t.Errorf("expected: 5 records in memory, results: %d", len(sum.Records))
	}
}

func TestPoolPanic(t *testing.T) {
	chunks := make([]*partition.Chunk, 4)
	for i := range chunks {
		chunks[i] = &partition.Chunk{Index: i}
	}
	pool := NewPool(2)
	results := pool.Run(context.Background(), chunks, func(ctx context.Context, chunk *partition.Chunk) *igblast.Result {
		if chunk.Index == 1 {
			panic("boom")
		}
		if chunk.Index == 2 {
			return nil
		}
		return &igblast.Result{Chunk: chunk, Parsed: 1}
	})
	if len(results) != 4 {
		t.Errorf("expected: 4 results, results: %d", len(results))
		return
	}
	var nFailed int
	for _, r := range results {
		if r.Err != nil {
			nFailed++
		}
	}
	if nFailed != 2 {
		t.Errorf("expected: 2 failed chunks, results: %d", nFailed)
	}
}

func TestPoolCancel(t *testing.T) {
	chunks := make([]*partition.Chunk, 20)
	for i := range chunks {
		chunks[i] = &partition.Chunk{Index: i}
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var started, running, maxRunning int64
	pool := NewPool(2)
	results := pool.Run(ctx, chunks, func(ctx context.Context, chunk *partition.Chunk) *igblast.Result {
		n := atomic.AddInt64(&running, 1)
		for {
			m := atomic.LoadInt64(&maxRunning)
			if n <= m || atomic.CompareAndSwapInt64(&maxRunning, m, n) {
				break
			}
		}
		defer atomic.AddInt64(&running, -1)

		if atomic.AddInt64(&started, 1) == 3 {
			cancel()
		}
		select {
		case <-ctx.Done():
			return &igblast.Result{Chunk: chunk, Err: ctx.Err()}
		case <-time.After(10 * time.Millisecond):
			return &igblast.Result{Chunk: chunk}
		}
	})

	if len(results) != len(chunks) {
		t.Errorf("every chunk should be reported, results: %d", len(results))
	}
	if maxRunning > 2 {
		t.Errorf("concurrency bound exceeded: %d", maxRunning)
	}
	// two workers at most may be launched around the cancellation
	if s := atomic.LoadInt64(&started); s > 4 {
		t.Errorf("workers should not be started after cancellation: %d", s)
	}
}

func TestPoolCancelled(t *testing.T) {
	chunks := make([]*partition.Chunk, 8)
	for i := range chunks {
		chunks[i] = &partition.Chunk{Index: i}
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var started int64
	pool := NewPool(4)
	for trial := 0; trial < 50; trial++ {
		results := pool.Run(ctx, chunks, func(ctx context.Context, chunk *partition.Chunk) *igblast.Result {
			atomic.AddInt64(&started, 1)
			return &igblast.Result{Chunk: chunk}
		})
		if len(results) != len(chunks) {
			t.Errorf("every chunk should be reported, results: %d", len(results))
			return
		}
		for _, r := range results {
			if errors.Cause(r.Err) != context.Canceled {
				t.Errorf("expected: %v, results: %v", context.Canceled, r.Err)
				return
			}
		}
	}
	if started != 0 {
		t.Errorf("expected: no workers started, results: %d", started)
	}
}

func TestRunInvalidConfig(t *testing.T) {
	cfg := testConfig(t, 4)
	cfg.Legacy = true
	cfg.OutFormat = "tsv"

	var called int64
	worker := func(ctx context.Context, chunk *partition.Chunk) *igblast.Result {
		atomic.AddInt64(&called, 1)
		return &igblast.Result{Chunk: chunk}
	}
	sum, err := Run(context.Background(), cfg, &Options{Worker: worker})
	if errors.Cause(err) != config.ErrConfig {
		t.Errorf("expected: %v, results: %v", config.ErrConfig, err)
	}
	if sum != nil || called != 0 {
		t.Errorf("no chunk should be processed with an invalid configuration")
	}

	entries, err := os.ReadDir(cfg.TmpDir)
	if err != nil {
		t.Error(err)
		return
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "pyir_") {
			t.Errorf("no tmp dir should be created: %s", e.Name())
		}
	}
}
