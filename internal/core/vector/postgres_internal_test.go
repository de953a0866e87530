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
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/model"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKnnStatementFiltersOnClampedScore(t *testing.T) {
	v := make([]float32, model.EmbeddingDimensions)
	v[0] = 1
	exclude := uuid.New()
	stmt, args := knnStatement(Query{
		Vector:        v,
		K:             7,
		MinSimilarity: 0,
		Filters:       map[string]string{FieldStatus: "completed", FieldOwnerID: "o"},
		ExcludeIDs:    []uuid.UUID{exclude},
	})

	assert.Contains(t, stmt, "GREATEST(1 - (embedding <=> ?), 0) >= ?")
	assert.NotContains(t, stmt, "AND 1 - (embedding <=> ?) >= ?")
	assert.Less(t, strings.Index(stmt, "owner_id = ?"), strings.Index(stmt, "status = ?"))
	assert.Equal(t, strings.Count(stmt, "?"), len(args))

	require.Len(t, args, 7)
	assert.Equal(t, pgvector.NewVector(v), args[0])
	assert.Equal(t, float32(0), args[2])
	assert.Equal(t, "o", args[3])
	assert.Equal(t, "completed", args[4])
	assert.Equal(t, []uuid.UUID{exclude}, args[5])
	assert.Equal(t, 7, args[6])
}

func TestOppositeDistanceScoresZero(t *testing.T) {
	// pgvector reports cosine distance 2 for opposite vectors.
	s := ScoreFromDistance(2)
	assert.Equal(t, float32(0), s)
	assert.Equal(t, float32(1), Distance(s))
	assert.GreaterOrEqual(t, s, float32(0))
}
