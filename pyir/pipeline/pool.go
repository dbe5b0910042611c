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

// Package pipeline splits the input, runs the aligner on chunks in
// parallel, and merges per-chunk outputs.
package pipeline

import (
	"context"
	"sync"

	"github.com/crowelab/PyIR/pyir/igblast"
	"github.com/crowelab/PyIR/pyir/partition"
	"github.com/pkg/errors"
)

// Worker processes one chunk. Failures go to Result.Err.
type Worker func(ctx context.Context, chunk *partition.Chunk) *igblast.Result

// Pool runs workers with bounded concurrency.
type Pool struct {
	Threads int

	// OnResult is called for every result in completion order,
	// from a single goroutine.
	OnResult func(*igblast.Result)
}

// NewPool creates a Pool.
func NewPool(threads int) *Pool {
	if threads < 1 {
		threads = 1
	}
	return &Pool{Threads: threads}
}

func failed(chunk *partition.Chunk, err error) *igblast.Result {
	return &igblast.Result{
		Chunk: chunk,
		Err:   &igblast.WorkerError{Chunk: chunk.Index, Status: -1, Err: err},
	}
}

// Run processes all chunks and returns one result per chunk, in
// completion order. After ctx is cancelled no more workers are started,
// and the remaining chunks are returned as failed.
func (p *Pool) Run(ctx context.Context, chunks []*partition.Chunk, work Worker) []*igblast.Result {
	results := make([]*igblast.Result, 0, len(chunks))

	ch := make(chan *igblast.Result, p.Threads)
	done := make(chan int)
	go func() {
		for r := range ch {
			results = append(results, r)
			if p.OnResult != nil {
				p.OnResult(r)
			}
		}
		done <- 1
	}()

	tokens := make(chan int, p.Threads)
	var wg sync.WaitGroup
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			ch <- failed(chunk, err)
			continue
		}
		select {
		case <-ctx.Done():
			ch <- failed(chunk, ctx.Err())
			continue
		case tokens <- 1:
		}
		// both cases may be ready, select picks one at random
		if err := ctx.Err(); err != nil {
			<-tokens
			ch <- failed(chunk, err)
			continue
		}

		wg.Add(1)
		go func(chunk *partition.Chunk) {
			defer func() {
				if r := recover(); r != nil {
					ch <- failed(chunk, errors.Errorf("worker panic: %v", r))
				}
				wg.Done()
				<-tokens
			}()

			r := work(ctx, chunk)
			if r == nil {
				r = failed(chunk, errors.New("no result"))
			}
			ch <- r
		}(chunk)
	}
	wg.Wait()
	close(ch)
	<-done

	return results
}
