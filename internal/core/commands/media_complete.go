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

package commands

import (
	"fmt"
	"log/slog"

	"github.com/jaycherian/gcp-go-photo-search/internal/core/cor"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/model"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/repository"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/vector"
	pgvector "github.com/pgvector/pgvector-go"
)

// MediaComplete writes description, embedding and the completed status in a
// single statement and then makes the item searchable.
type MediaComplete struct {
	cor.BaseCommand
	repo  *repository.MediaRepository
	index vector.Index
	dims  int
}

func NewMediaComplete(name string, repo *repository.MediaRepository, index vector.Index, dims int) *MediaComplete {
	return &MediaComplete{BaseCommand: itemCommand(name), repo: repo, index: index, dims: dims}
}

func (c *MediaComplete) IsExecutable(context cor.Context) bool {
	item := ItemFrom(context)
	return c.BaseCommand.IsExecutable(context) &&
		item != nil && item.Description != nil &&
		context.Get(ParamEmbedding) != nil
}

func (c *MediaComplete) Execute(context cor.Context) {
	item := context.Get(c.GetInputParam()).(*model.MediaItem)
	embedding := context.Get(ParamEmbedding).([]float32)
	ctx := context.GetContext()

	version, err := c.repo.Complete(ctx, item.ID, item.Version, *item.Description, embedding, c.dims)
	if err != nil {
		c.Fail(context, fmt.Errorf("complete: %w", err))
		return
	}
	vec := pgvector.NewVector(embedding)
	item.Embedding = &vec
	item.Status = model.StatusCompleted
	item.Version = version
	item.ErrorDetail = nil

	// The row is the source of truth. An index that missed the upsert is
	// repaired by the next warm-up or rebuild.
	if c.index != nil {
		if err := c.index.Upsert(ctx, vector.EntryFromItem(item)); err != nil {
			slog.WarnContext(ctx, "failed to index completed item", "item_id", item.ID, "error", err)
		}
	}
	slog.InfoContext(ctx, "media item completed", "item_id", item.ID, "owner_id", item.OwnerID)
	c.Succeed(context, item)
}
