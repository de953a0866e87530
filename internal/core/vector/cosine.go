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

package vector

import "math"

// Cosine returns the raw cosine similarity of a and b in [-1, 1]. Vectors of
// different length, or with a zero norm, score 0.
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// Score clamps a raw cosine similarity into [0, 1]. Anti-correlated vectors
// score 0 rather than a negative value.
func Score(raw float32) float32 {
	switch {
	case raw < 0 || math.IsNaN(float64(raw)):
		return 0
	case raw > 1:
		return 1
	}
	return raw
}

// Distance is the complement of a clamped score, so Score + Distance == 1.
func Distance(score float32) float32 {
	return 1 - score
}

// ScoreFromDistance converts a pgvector cosine distance (1 - raw cosine, in
// [0, 2]) into a clamped score.
func ScoreFromDistance(d float64) float32 {
	return Score(float32(1 - d))
}
