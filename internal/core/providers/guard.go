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
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jaycherian/gcp-go-photo-search/internal/core/apperr"
)

// TruncationMarker is appended to text cut to fit a model's input limit.
const TruncationMarker = "..."

// Truncate cuts text to at most max runes and appends TruncationMarker when
// anything was removed. A non-positive max leaves text unchanged.
func Truncate(text string, max int) string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	n := 0
	for i := range text {
		if n == max {
			return text[:i] + TruncationMarker
		}
		n++
	}
	return text
}

// CheckDimensions fails with ErrDimensionMismatch unless len(v) == want.
func CheckDimensions(v []float32, want int) error {
	if len(v) != want {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), want)
	}
	return nil
}

// classify turns an adapter error into a PROVIDER_ERROR. Deadline errors are
// tagged with ErrTimeout so their text always mentions the timeout.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if apperr.IsCode(err, apperr.CodeProvider) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		err = fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return apperr.Provider(err, op)
}

// GuardedDescriber enforces the description contract around any generator.
type GuardedDescriber struct {
	Inner   DescriptionGenerator
	Timeout time.Duration
}

func GuardDescriber(inner DescriptionGenerator, timeout time.Duration) *GuardedDescriber {
	return &GuardedDescriber{Inner: inner, Timeout: timeout}
}

func (g *GuardedDescriber) Describe(ctx context.Context, req DescribeRequest) (string, error) {
	if g == nil || g.Inner == nil {
		return "", classify("describe", ErrNotConfigured)
	}
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}
	text, err := g.Inner.Describe(ctx, req)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		return "", classify("describe", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", classify("describe", ErrEmptyResponse)
	}
	return text, nil
}

// GuardedEmbedder enforces the embedding contract around any generator.
type GuardedEmbedder struct {
	Inner         EmbeddingGenerator
	Timeout       time.Duration
	Dims          int
	MaxInputChars int
}

func GuardEmbedder(inner EmbeddingGenerator, dims int, maxInputChars int, timeout time.Duration) *GuardedEmbedder {
	return &GuardedEmbedder{Inner: inner, Timeout: timeout, Dims: dims, MaxInputChars: maxInputChars}
}

func (g *GuardedEmbedder) Dimensions() int {
	return g.Dims
}

func (g *GuardedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if g == nil || g.Inner == nil {
		return nil, classify("embed", ErrNotConfigured)
	}
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}
	v, err := g.Inner.Embed(ctx, Truncate(text, g.MaxInputChars))
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		return nil, classify("embed", err)
	}
	if err := CheckDimensions(v, g.Dims); err != nil {
		return nil, classify("embed", err)
	}
	return v, nil
}
