// Copyright 2019 SpotHero
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package scan

import (
	"context"
	"runtime"
	"sync"
)

// DefaultWorkerCount bounds the pool to the number of available CPU cores
// unless a scan's caller overrides it.
var DefaultWorkerCount = runtime.NumCPU()

// Pool runs one task per partition with bounded concurrency. Unlike a
// batch-oriented worker pool, each task here can fail, short-circuit, or be
// cancelled independently of the others: a partition-scan task aborting does
// not stop its siblings, and the pool does not wait for every task to submit
// its result before any can be collected.
type Pool struct {
	name string
	sem  chan struct{}
	wg   sync.WaitGroup
}

// NewPool creates a Pool bounded to size concurrent tasks.
func NewPool(name string, size int) *Pool {
	if size <= 0 {
		size = DefaultWorkerCount
	}
	return &Pool{name: name, sem: make(chan struct{}, size)}
}

// Go runs fn in the pool, blocking until a slot is free or ctx is done. fn is
// always invoked exactly once: if ctx is cancelled before a slot frees, fn
// runs inline on the calling goroutine instead of waiting, so callers that
// pair Go with their own completion tracking (a WaitGroup, a counter) never
// stall waiting on a task that was never run. fn must itself check ctx.Err()
// and return promptly in that case.
func (p *Pool) Go(ctx context.Context, fn func(ctx context.Context)) {
	select {
	case p.sem <- struct{}{}:
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer func() { <-p.sem }()
			fn(ctx)
		}()
	case <-ctx.Done():
		fn(ctx)
	}
}

// Wait blocks until every task submitted through Go has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
