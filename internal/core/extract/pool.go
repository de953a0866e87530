// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package extract turns stored media into what the describer and the UI need:
// sampled video frames and bounded JPEG thumbnails. The work is CPU and
// process heavy, so it runs on a fixed pool of workers.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("extract: pool closed")

type job struct {
	ctx    context.Context
	fn     func(context.Context) error
	result chan<- error
}

// Pool runs submitted functions on a fixed number of goroutines. Jobs wait in
// a buffered channel; Submit blocks while the buffer is full.
type Pool struct {
	jobs   chan *job
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

func NewPool(workers, queueDepth int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueDepth < 0 {
		queueDepth = 0
	}
	p := &Pool{jobs: make(chan *job, queueDepth)}
	for w := 1; w <= workers; w++ {
		p.wg.Add(1)
		go p.worker(w)
	}
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for j := range p.jobs {
		j.result <- p.run(id, j)
	}
}

func (p *Pool) run(id int, j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("extract worker panicked", "worker", id, "panic", r)
			err = fmt.Errorf("extract: worker panic: %v", r)
		}
	}()
	if err := j.ctx.Err(); err != nil {
		return err
	}
	return j.fn(j.ctx)
}

// Submit queues fn and returns a channel that receives its error exactly once.
func (p *Pool) Submit(ctx context.Context, fn func(context.Context) error) (<-chan error, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	result := make(chan error, 1)
	select {
	case p.jobs <- &job{ctx: ctx, fn: fn, result: result}:
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Do runs fn on the pool and waits for it.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) error) error {
	result, err := p.Submit(ctx, fn)
	if err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is Do for functions that produce a value. The value is only read once
// the job has reported back, so a caller that gave up on ctx never sees a
// half-written result.
func Run[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		out = v
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Close stops accepting work and waits for queued jobs to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}
