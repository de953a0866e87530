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

// Package providers defines the two model capabilities the application
// depends on, turning pixels into a description and text into a vector, and
// the adapters that implement them.
//
// Adapters stay thin. The Guard wrappers enforce the contract every caller
// relies on: a timeout per call, no empty descriptions, exact embedding
// dimensions, bounded input text, and errors classified as PROVIDER_ERROR.
package providers

import (
	"context"
	"errors"
)

var (
	ErrNotConfigured     = errors.New("provider not configured")
	ErrEmptyResponse     = errors.New("provider returned an empty response")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrTimeout           = errors.New("provider call timeout")
)

// DescribeRequest is the input of a description call. Image is the primary
// picture (the first frame for videos); Frames are additional JPEG frames.
type DescribeRequest struct {
	Image    []byte
	MIMEType string
	Frames   [][]byte
	Prompt   string
	Context  string
}

// DescriptionGenerator produces a natural language description of an image.
type DescriptionGenerator interface {
	Describe(ctx context.Context, req DescribeRequest) (string, error)
}

// EmbeddingGenerator maps text to a fixed length vector.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// DescriberFunc adapts a function to DescriptionGenerator.
type DescriberFunc func(ctx context.Context, req DescribeRequest) (string, error)

func (f DescriberFunc) Describe(ctx context.Context, req DescribeRequest) (string, error) {
	return f(ctx, req)
}
