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

import (
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"
)

// Encode renders v in the pgvector text form "[x,y,...]". Every value is
// written with the shortest representation that parses back to the same
// float32.
func Encode(v []float32) string {
	return pgvector.NewVector(v).String()
}

// Decode parses the pgvector text form.
func Decode(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("decode vector: malformed literal %q", s)
	}
	if s == "[]" {
		return []float32{}, nil
	}
	var vec pgvector.Vector
	if err := vec.Parse(s); err != nil {
		return nil, fmt.Errorf("decode vector: %w", err)
	}
	return vec.Slice(), nil
}

// ToColumn wraps v for storage after checking its length.
func ToColumn(v []float32, dims int) (*pgvector.Vector, error) {
	if len(v) != dims {
		return nil, fmt.Errorf("vector has %d dimensions, want %d", len(v), dims)
	}
	cp := make([]float32, len(v))
	copy(cp, v)
	vec := pgvector.NewVector(cp)
	return &vec, nil
}

// FromColumn unwraps a stored vector, returning nil for a NULL column.
func FromColumn(v *pgvector.Vector) []float32 {
	if v == nil {
		return nil
	}
	return v.Slice()
}
