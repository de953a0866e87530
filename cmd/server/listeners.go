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

package main

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SetupListeners starts the background work: the index warm up, the queue
// consumer that drives the processing workflow, stale item recovery and the
// periodic index rebuild. Everything stops when ctx is cancelled; the
// returned WaitGroup is done once the queue consumer has returned.
func SetupListeners(ctx context.Context) *sync.WaitGroup {
	config := state.config
	var wg sync.WaitGroup

	if loaded, err := state.indexService.Warm(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to warm vector index", "loaded", loaded, "error", err)
	}
	state.indexService.StartTimer(ctx, time.Duration(config.Search.RebuildPeriodSecs)*time.Second)

	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.InfoContext(ctx, "processing listener started", "transport", config.Queue.Transport, "workers", config.Pipeline.Workers)
		if err := state.queue.Listen(ctx, state.processing); err != nil && ctx.Err() == nil {
			slog.ErrorContext(ctx, "processing listener stopped", "error", err)
		}
	}()

	if config.Pipeline.RecoverOnStart {
		if n, err := state.recovery.Recover(ctx); err != nil {
			slog.WarnContext(ctx, "startup recovery failed", "error", err)
		} else if n > 0 {
			slog.InfoContext(ctx, "re-enqueued stale items", "count", n)
		}
	}
	state.recovery.StartTimer(ctx)
	return &wg
}
