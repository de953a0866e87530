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

package workflow

import (
	goctx "context"
	"log/slog"
	"time"

	"github.com/jaycherian/gcp-go-photo-search/internal/cloud"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/cor"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/model"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/queue"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

const recoveryBatchSize = 100

// MediaRecoveryWorkflow re-enqueues items that stayed pending longer than
// expected, typically because the process stopped before a worker took them.
// Enqueuing twice is harmless: only one worker can claim an item.
type MediaRecoveryWorkflow struct {
	cor.BaseCommand
	repo     *repository.MediaRepository
	enqueuer *queue.Enqueuer
	after    time.Duration
	period   time.Duration
}

func NewMediaRecoveryWorkflow(config *cloud.Config, repo *repository.MediaRepository, enqueuer *queue.Enqueuer) *MediaRecoveryWorkflow {
	return &MediaRecoveryWorkflow{
		BaseCommand: *cor.NewBaseCommand("media-recovery"),
		repo:        repo,
		enqueuer:    enqueuer,
		after:       time.Duration(config.Pipeline.RecoveryAfterSecs) * time.Second,
		period:      time.Duration(config.Pipeline.RecoveryPeriodSecs) * time.Second,
	}
}

func (m *MediaRecoveryWorkflow) IsExecutable(_ cor.Context) bool {
	return true
}

// Execute enqueues one batch of stale pending items and leaves the count as
// the output.
func (m *MediaRecoveryWorkflow) Execute(context cor.Context) {
	ctx := context.GetContext()
	items, err := m.repo.StalePending(ctx, time.Now().Add(-m.after), recoveryBatchSize)
	if err != nil {
		m.Fail(context, err)
		return
	}
	enqueued := 0
	for _, item := range items {
		req := model.ProcessRequest{ItemID: item.ID, OwnerID: item.OwnerID, EnqueuedAt: time.Now().UTC()}
		if err := m.enqueuer.Enqueue(ctx, req); err != nil {
			// The queue is full; the next tick picks up the rest.
			slog.WarnContext(ctx, "failed to re-enqueue pending item", "item_id", item.ID, "error", err)
			break
		}
		enqueued++
	}
	if enqueued > 0 {
		slog.InfoContext(ctx, "re-enqueued stale pending items", "count", enqueued)
	}
	m.Succeed(context, enqueued)
}

// Recover runs a single pass and returns how many items were enqueued.
func (m *MediaRecoveryWorkflow) Recover(ctx goctx.Context) (int, error) {
	chainCtx := cor.NewBaseContext()
	chainCtx.SetContext(ctx)
	m.Execute(chainCtx)
	n, _ := chainCtx.Get(cor.CtxOut).(int)
	return n, chainCtx.Err()
}

// StartTimer runs a pass every period until ctx is done. A non-positive
// period disables the timer.
func (m *MediaRecoveryWorkflow) StartTimer(ctx goctx.Context) {
	if m.period <= 0 {
		return
	}
	tracer := otel.Tracer("media-recovery")
	ticker := time.NewTicker(m.period)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				traceCtx, span := tracer.Start(ctx, "media-recovery")
				if _, err := m.Recover(traceCtx); err != nil {
					slog.WarnContext(traceCtx, "recovery pass failed", "error", err)
					span.SetStatus(codes.Error, "failed to recover pending items")
				} else {
					span.SetStatus(codes.Ok, "recovered pending items")
				}
				span.End()
			case <-ctx.Done():
				return
			}
		}
	}()
}
