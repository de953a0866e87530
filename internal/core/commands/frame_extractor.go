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
	"fmt"
	"log/slog"

	"github.com/jaycherian/gcp-go-photo-search/internal/core/cor"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/extract"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/model"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/repository"
)

// FrameSampler pulls up to max JPEG frames out of a local video file.
// *extract.Extractor implements it.
type FrameSampler interface {
	Frames(ctx context.Context, path string, max int) ([][]byte, error)
}

// FrameExtractor samples still frames from a video for the describer. It does
// nothing for images.
type FrameExtractor struct {
	cor.BaseCommand
	extractor FrameSampler
	repo      *repository.MediaRepository
	maxFrames int
}

func NewFrameExtractor(name string, extractor FrameSampler, repo *repository.MediaRepository, maxFrames int) *FrameExtractor {
	return &FrameExtractor{BaseCommand: itemCommand(name), extractor: extractor, repo: repo, maxFrames: maxFrames}
}

func (c *FrameExtractor) IsExecutable(context cor.Context) bool {
	item := ItemFrom(context)
	return c.BaseCommand.IsExecutable(context) &&
		item != nil && item.Kind == model.KindVideo &&
		context.Get(ParamLocalFile) != nil
}

func (c *FrameExtractor) Execute(context cor.Context) {
	item := context.Get(c.GetInputParam()).(*model.MediaItem)
	path := context.Get(ParamLocalFile).(string)
	ctx := context.GetContext()
	frames, err := c.extractor.Frames(ctx, path, c.maxFrames)
	if err != nil {
		c.Fail(context, fmt.Errorf("extract frames: %w", err))
		return
	}
	if len(frames) == 0 {
		c.Fail(context, fmt.Errorf("extract frames: %w", extract.ErrNoFrames))
		return
	}
	if len(frames) > c.maxFrames {
		frames = frames[:c.maxFrames]
	}

	meta := item.DecodeMetadata()
	meta.FramesExtracted = len(frames)
	if err := c.repo.SetMetadata(ctx, item.ID, meta); err != nil {
		slog.WarnContext(ctx, "failed to record frame count", "item_id", item.ID, "error", err)
	} else {
		item.EncodeMetadata(meta)
	}

	slog.DebugContext(ctx, "extracted frames", "item_id", item.ID, "frames", len(frames))
	context.Add(ParamFrames, frames)
	c.Succeed(context, frames)
}
