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
	"fmt"
	"log/slog"

	"github.com/jaycherian/gcp-go-photo-search/internal/cloud"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/cor"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// GeminiDescriber describes images with a Gemini model on Vertex AI.
type GeminiDescriber struct {
	model    *cloud.QuotaAwareGenerativeAIModel
	counters cloud.TokenCounters
}

func NewGeminiDescriber(model *cloud.QuotaAwareGenerativeAIModel) *GeminiDescriber {
	meter := otel.Meter(cor.MeterName)
	return &GeminiDescriber{model: model, counters: cloud.TokenCounters{
		Input:  int64Counter(meter, "describe.token.input"),
		Output: int64Counter(meter, "describe.token.output"),
		Retry:  int64Counter(meter, "describe.retry"),
	}}
}

// int64Counter returns nil when the meter rejects name; TokenCounters treats a
// nil counter as disabled.
func int64Counter(meter metric.Meter, name string) metric.Int64Counter {
	c, err := meter.Int64Counter(name)
	if err != nil {
		slog.Warn("failed to create counter", "name", name, "error", err)
		return nil
	}
	return c
}

func (g *GeminiDescriber) Describe(ctx context.Context, req DescribeRequest) (string, error) {
	if g == nil || g.model == nil {
		return "", ErrNotConfigured
	}
	if len(req.Image) == 0 {
		return "", fmt.Errorf("describe: no image data")
	}
	mimeType := req.MIMEType
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	content := cloud.NewImageContent(req.Prompt, req.Image, mimeType, req.Frames, req.Context)
	return cloud.GenerateMultiModalResponse(ctx, g.counters, g.model, content)
}
