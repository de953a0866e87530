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
	"context"
	"log/slog"

	"github.com/jaycherian/gcp-go-photo-search/internal/core/cor"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/model"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/repository"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/storage"
)

// Thumbnailer renders a preview and reads basic metadata from a local file.
type Thumbnailer interface {
	Thumbnail(ctx context.Context, kind model.MediaKind, path string) ([]byte, model.MediaMetadata, error)
}

// ThumbnailGenerator stores a preview next to the original and records the
// dimensions it found. A missing preview never fails an item, so errors are
// logged and the chain continues.
type ThumbnailGenerator struct {
	cor.BaseCommand
	thumbnailer Thumbnailer
	store       storage.MediaStore
	repo        *repository.MediaRepository
}

func NewThumbnailGenerator(name string, thumbnailer Thumbnailer, store storage.MediaStore, repo *repository.MediaRepository) *ThumbnailGenerator {
	return &ThumbnailGenerator{BaseCommand: itemCommand(name), thumbnailer: thumbnailer, store: store, repo: repo}
}

func (c *ThumbnailGenerator) IsExecutable(context cor.Context) bool {
	return c.BaseCommand.IsExecutable(context) && context.Get(ParamLocalFile) != nil
}

func (c *ThumbnailGenerator) Execute(context cor.Context) {
	item := context.Get(c.GetInputParam()).(*model.MediaItem)
	path := context.Get(ParamLocalFile).(string)
	ctx := context.GetContext()

	data, meta, err := c.thumbnailer.Thumbnail(ctx, item.Kind, path)
	if err != nil {
		slog.WarnContext(ctx, "failed to render thumbnail", "item_id", item.ID, "error", err)
		return
	}
	ref, err := c.store.SaveDerived(ctx, item.OwnerID, item.ID, storage.ThumbnailName, data)
	if err != nil {
		slog.WarnContext(ctx, "failed to store thumbnail", "item_id", item.ID, "error", err)
		return
	}
	if err := c.repo.SetThumbnail(ctx, item.ID, ref); err != nil {
		slog.WarnContext(ctx, "failed to record thumbnail", "item_id", item.ID, "error", err)
		return
	}
	item.ThumbnailRef = &ref

	// The processing pipeline may have recorded a frame count meanwhile.
	if current, err := c.repo.Get(ctx, item.ID); err == nil {
		meta.FramesExtracted = current.DecodeMetadata().FramesExtracted
	}
	item.EncodeMetadata(meta)
	if err := c.repo.SetMetadata(ctx, item.ID, meta); err != nil {
		slog.WarnContext(ctx, "failed to record media metadata", "item_id", item.ID, "error", err)
	}
	c.Succeed(context, item)
}
