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

package providers

import (
	"context"

	"github.com/jaycherian/gcp-go-photo-search/internal/cloud"
)

// Embedding task types understood by the Vertex AI embedding models.
const (
	TaskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	TaskRetrievalQuery    = "RETRIEVAL_QUERY"
)

// GenAIEmbedder embeds text with a Vertex AI embedding model, asking for the
// configured output dimensionality.
type GenAIEmbedder struct {
	model    *cloud.QuotaAwareEmbeddingModel
	taskType string
}

func NewGenAIEmbedder(model *cloud.QuotaAwareEmbeddingModel, taskType string) *GenAIEmbedder {
	return &GenAIEmbedder{model: model, taskType: taskType}
}

func (e *GenAIEmbedder) Dimensions() int {
	if e == nil || e.model == nil {
		return 0
	}
	return e.model.Dimensions
}

func (e *GenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e == nil || e.model == nil {
		return nil, ErrNotConfigured
	}
	v, err := e.model.EmbedContent(ctx, text, e.taskType)
	if err != nil {
		return nil, err
	}
	if len(v) == 0 {
		return nil, ErrEmptyResponse
	}
	return v, nil
}
