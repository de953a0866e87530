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

package vector_test

import (
	"math"
	"testing"

	"github.com/jaycherian/gcp-go-photo-search/internal/core/vector"
	testify "github.com/stretchr/testify/assert"
	"github.com/zeebo/assert"
)

func TestCosine(t *testing.T) {
	assert.Equal(t, float32(1), vector.Cosine([]float32{1, 0}, []float32{2, 0}))
	assert.Equal(t, float32(0), vector.Cosine([]float32{1, 0}, []float32{0, 3}))
	assert.Equal(t, float32(-1), vector.Cosine([]float32{1, 0}, []float32{-1, 0}))
	assert.Equal(t, float32(0), vector.Cosine([]float32{0, 0}, []float32{1, 0}))
	assert.Equal(t, float32(0), vector.Cosine([]float32{1}, []float32{1, 0}))
}

func TestScoreClampsNegative(t *testing.T) {
	assert.Equal(t, float32(0), vector.Score(-0.7))
	assert.Equal(t, float32(1), vector.Score(1.0000001))
	assert.Equal(t, float32(0.25), vector.Score(0.25))
	assert.Equal(t, float32(0), vector.Score(float32(math.NaN())))
}

func TestScorePlusDistanceIsOne(t *testing.T) {
	for _, raw := range []float32{-1, -0.3, 0, 0.1, 0.5, 0.999, 1} {
		s := vector.Score(raw)
		testify.InDelta(t, 1.0, float64(s+vector.Distance(s)), 1e-6)
	}
	for _, d := range []float64{0, 0.4, 1, 1.6, 2} {
		s := vector.ScoreFromDistance(d)
		assert.That(t, s >= 0 && s <= 1)
		testify.InDelta(t, 1.0, float64(s+vector.Distance(s)), 1e-6)
	}
}
