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

package test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/jaycherian/gcp-go-photo-search/internal/core/model"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/providers"
)

// StubDescriber returns Text, or Err, for every call. With Block set it waits
// for the context to end, which simulates a provider that never answers.
type StubDescriber struct {
	Text  string
	Err   error
	Block bool
	// FailWhen, when set, fails the calls it returns true for.
	FailWhen func(req providers.DescribeRequest) bool

	mu       sync.Mutex
	requests []providers.DescribeRequest
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *StubDescriber) Describe(ctx context.Context, req providers.DescribeRequest) (string, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if s.Block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if s.FailWhen != nil && s.FailWhen(req) {
		return "", errors.New("stub describer failure")
	}
	if s.Err != nil {
		return "", s.Err
	}
	return s.Text, nil
}

// Requests returns a copy of the requests seen so far.
func (s *StubDescriber) Requests() []providers.DescribeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]providers.DescribeRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// Peak is the highest number of concurrent Describe calls observed.
func (s *StubDescriber) Peak() int {
	return int(s.peak.Load())
}

// StubEmbedder maps texts to vectors. Unknown texts get Default, or a unit
// vector on axis 0 when Default is nil.
type StubEmbedder struct {
	Vectors map[string][]float32
	Default []float32
	Err     error
	Dims    int

	calls atomic.Int32
	mu    sync.Mutex
	texts []string
}

func (s *StubEmbedder) Dimensions() int {
	if s.Dims > 0 {
		return s.Dims
	}
	return model.EmbeddingDimensions
}

func (s *StubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	if v, ok := s.Vectors[text]; ok {
		return v, nil
	}
	if s.Default != nil {
		return s.Default, nil
	}
	return UnitVector(0, 1), nil
}

// Calls is the number of Embed invocations.
func (s *StubEmbedder) Calls() int {
	return int(s.calls.Load())
}

// Texts returns the texts passed to Embed, in call order.
func (s *StubEmbedder) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.texts))
	copy(out, s.texts)
	return out
}
