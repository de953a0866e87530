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

package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/jaycherian/gcp-go-photo-search/internal/core/model"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/repository"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/vector"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

const warmBatchSize = 500

// IndexService keeps the vector index in line with the repository.
type IndexService struct {
	Repo  *repository.MediaRepository
	Index vector.Index
}

// Warm loads every completed embedding into the index and trains it. The
// pgvector index reads the table directly, so there is nothing to load.
func (s *IndexService) Warm(ctx context.Context) (int, error) {
	if _, ok := s.Index.(*vector.PgVectorIndex); ok {
		return 0, nil
	}
	start := time.Now()
	loaded := 0
	err := s.Repo.ForEachCompleted(ctx, warmBatchSize, func(items []model.MediaItem) error {
		for i := range items {
			if err := s.Index.Upsert(ctx, vector.EntryFromItem(&items[i])); err != nil {
				slog.WarnContext(ctx, "skipping unindexable item", "item_id", items[i].ID, "error", err)
				continue
			}
			loaded++
		}
		return nil
	})
	if err != nil {
		return loaded, err
	}
	slog.InfoContext(ctx, "vector index warmed", "entries", loaded, "elapsed", time.Since(start))
	return loaded, s.Index.Rebuild(ctx)
}

// Rebuild retrains the index. Queries keep being served meanwhile.
func (s *IndexService) Rebuild(ctx context.Context) (vector.Stats, error) {
	if err := s.Index.Rebuild(ctx); err != nil {
		return vector.Stats{}, err
	}
	return s.Index.Stats(ctx), nil
}

func (s *IndexService) Stats(ctx context.Context) vector.Stats {
	return s.Index.Stats(ctx)
}

// StartTimer rebuilds every period until ctx is done. A non-positive period
// disables the timer.
func (s *IndexService) StartTimer(ctx context.Context, period time.Duration) {
	if period <= 0 {
		return
	}
	tracer := otel.Tracer("index-rebuild")
	ticker := time.NewTicker(period)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				traceCtx, span := tracer.Start(ctx, "index-rebuild")
				if _, err := s.Rebuild(traceCtx); err != nil {
					slog.WarnContext(traceCtx, "scheduled index rebuild failed", "error", err)
					span.SetStatus(codes.Error, "failed to rebuild index")
				} else {
					span.SetStatus(codes.Ok, "rebuilt index")
				}
				span.End()
			case <-ctx.Done():
				return
			}
		}
	}()
}
