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

package cloud

import (
	"context"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// QuotaAwareGenerativeAIModel wraps a genai model with a client side rate
// limit so bursts of uploads queue locally instead of tripping the project
// quota.
type QuotaAwareGenerativeAIModel struct {
	GenerativeContentConfig *genai.GenerateContentConfig
	ModelName               string
	ModelHandle             *genai.Models
	RateLimit               *rate.Limiter
	RetryBackoff            time.Duration
}

// NewQuotaAwareModel allows requestsPerSecond calls per second with an equal
// burst. A non-positive rate disables limiting.
func NewQuotaAwareModel(wrapped *genai.GenerateContentConfig, name string, handle *genai.Models, requestsPerSecond int) *QuotaAwareGenerativeAIModel {
	limit := rate.Inf
	burst := 1
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
		burst = requestsPerSecond
	}
	return &QuotaAwareGenerativeAIModel{
		GenerativeContentConfig: wrapped,
		ModelName:               name,
		ModelHandle:             handle,
		RateLimit:               rate.NewLimiter(limit, burst),
		RetryBackoff:            2 * time.Second,
	}
}

// GenerateContent waits for a rate token, bounded by ctx, then calls the model.
func (q *QuotaAwareGenerativeAIModel) GenerateContent(ctx context.Context, content []*genai.Content) (*genai.GenerateContentResponse, error) {
	if err := q.RateLimit.Wait(ctx); err != nil {
		return nil, err
	}
	return q.ModelHandle.GenerateContent(ctx, q.ModelName, content, q.GenerativeContentConfig)
}

// QuotaAwareEmbeddingModel applies a per-minute limit to embedding calls.
type QuotaAwareEmbeddingModel struct {
	ModelName   string
	ModelHandle *genai.Models
	Dimensions  int
	RateLimit   *rate.Limiter
}

func NewQuotaAwareEmbeddingModel(name string, handle *genai.Models, dims int, requestsPerMinute int) *QuotaAwareEmbeddingModel {
	limit := rate.Inf
	burst := 1
	if requestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(requestsPerMinute))
		burst = max(1, requestsPerMinute/60)
	}
	return &QuotaAwareEmbeddingModel{
		ModelName:   name,
		ModelHandle: handle,
		Dimensions:  dims,
		RateLimit:   rate.NewLimiter(limit, burst),
	}
}

// EmbedContent embeds a single text as a retrieval document or query.
func (q *QuotaAwareEmbeddingModel) EmbedContent(ctx context.Context, text string, taskType string) ([]float32, error) {
	if err := q.RateLimit.Wait(ctx); err != nil {
		return nil, err
	}
	dims := int32(q.Dimensions)
	resp, err := q.ModelHandle.EmbedContent(ctx, q.ModelName,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.EmbedContentConfig{TaskType: taskType, OutputDimensionality: &dims})
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, nil
	}
	return resp.Embeddings[0].Values, nil
}
