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

package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jaycherian/gcp-go-photo-search/internal/core/cor"
)

// MemoryQueue is an in-process queue backed by a buffered channel. Messages
// are lost on restart; the pending-recovery ticker re-enqueues them.
type MemoryQueue struct {
	messages   chan []byte
	workers    int
	RetryDelay time.Duration
	mu         sync.RWMutex
	closed     bool
}

func NewMemoryQueue(depth, workers int) *MemoryQueue {
	if depth <= 0 {
		depth = 1
	}
	if workers <= 0 {
		workers = 1
	}
	return &MemoryQueue{messages: make(chan []byte, depth), workers: workers, RetryDelay: 2 * time.Second}
}

// Publish never blocks; it fails with ErrQueueFull when the buffer is full.
func (q *MemoryQueue) Publish(ctx context.Context, body []byte) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.messages <- body:
		return nil
	default:
		return ErrQueueFull
	}
}

// Listen runs the configured number of consumers until ctx is done or the
// queue is closed. A message whose command asks for a retry is published
// again after RetryDelay.
func (q *MemoryQueue) Listen(ctx context.Context, command cor.Command) error {
	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case body, ok := <-q.messages:
					if !ok {
						return
					}
					if deliver(ctx, command, body) {
						q.retryLater(ctx, worker, body)
					}
				}
			}
		}(i)
	}
	wg.Wait()
	return ctx.Err()
}

func (q *MemoryQueue) retryLater(ctx context.Context, worker int, body []byte) {
	time.AfterFunc(q.RetryDelay, func() {
		if err := q.Publish(ctx, body); err != nil {
			slog.WarnContext(ctx, "dropping message that asked for a retry", "worker", worker, "error", err)
		}
	})
}

func (q *MemoryQueue) Len() int {
	return len(q.messages)
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.messages)
	}
	return nil
}
