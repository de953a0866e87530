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
	"context"

	"github.com/jaycherian/gcp-go-photo-search/internal/cloud"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/commands"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/cor"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/model"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/repository"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/storage"
)

// MediaThumbnailWorkflow renders the preview of a stored item. It runs next to
// processing and never changes the item's status.
type MediaThumbnailWorkflow struct {
	cor.BaseCommand
	chain cor.Chain
}

func NewMediaThumbnailWorkflow(
	_ *cloud.Config,
	thumbnailer commands.Thumbnailer,
	store storage.MediaStore,
	repo *repository.MediaRepository) *MediaThumbnailWorkflow {

	out := &MediaThumbnailWorkflow{BaseCommand: *cor.NewBaseCommand("media-thumbnail-workflow")}
	chain := cor.NewBaseChain(out.GetName())
	chain.AddCommand(commands.NewMediaToTempFile("thumbnail-to-temp-file", store, "thumb-"))
	chain.AddCommand(commands.NewThumbnailGenerator("generate-thumbnail", thumbnailer, store, repo))
	out.chain = chain
	return out
}

func (m *MediaThumbnailWorkflow) IsExecutable(context cor.Context) bool {
	return commands.ItemFrom(context) != nil
}

func (m *MediaThumbnailWorkflow) Execute(context cor.Context) {
	m.chain.Execute(context)
}

// Generate renders the preview of item and returns the first error, if any.
func (m *MediaThumbnailWorkflow) Generate(ctx context.Context, item *model.MediaItem) error {
	chainCtx := cor.NewContextWithInput(ctx, item)
	chainCtx.Add(commands.ParamItem, item)
	defer chainCtx.Close()
	m.Execute(chainCtx)
	return chainCtx.Err()
}
