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
	"log/slog"

	"github.com/jaycherian/gcp-go-photo-search/internal/core/cor"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/model"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/providers"
)

// DescriptionEmbedder turns the stored description into the item's vector.
// The embedder is expected to enforce the input limit and the dimension.
type DescriptionEmbedder struct {
	cor.BaseCommand
	embedder providers.EmbeddingGenerator
}

func NewDescriptionEmbedder(name string, embedder providers.EmbeddingGenerator) *DescriptionEmbedder {
	return &DescriptionEmbedder{BaseCommand: itemCommand(name), embedder: embedder}
}

func (c *DescriptionEmbedder) IsExecutable(context cor.Context) bool {
	item := ItemFrom(context)
	return c.BaseCommand.IsExecutable(context) && item != nil && item.Description != nil
}

func (c *DescriptionEmbedder) Execute(context cor.Context) {
	item := context.Get(c.GetInputParam()).(*model.MediaItem)
	ctx := context.GetContext()

	embedding, err := c.embedder.Embed(ctx, *item.Description)
	if err != nil {
		c.Fail(context, err)
		return
	}
	slog.DebugContext(ctx, "generated embedding", "item_id", item.ID, "dimensions", len(embedding))
	context.Add(ParamEmbedding, embedding)
	c.Succeed(context, embedding)
}
