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
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/apperr"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/model"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dims = model.EmbeddingDimensions

func axis(i int, sign float32) []float32 {
	v := make([]float32, dims)
	v[i] = sign
	return v
}

func randomVec(rng *rand.Rand) []float32 {
	v := make([]float32, dims)
	for i := range v {
		v[i] = float32(rng.NormFloat64())
	}
	return v
}

func entry(owner uuid.UUID, v []float32) vector.Entry {
	return vector.Entry{
		ID:        uuid.New(),
		OwnerID:   owner,
		Status:    model.StatusCompleted,
		Kind:      model.KindImage,
		CreatedAt: time.Now(),
		Vector:    v,
	}
}

func newIndex() *vector.MemoryIndex {
	return vector.NewMemoryIndex(vector.MemoryOptions{Dimensions: dims, MinTrainSize: 20})
}

func TestQueryRejectsWrongDimension(t *testing.T) {
	idx := newIndex()
	_, err := idx.Query(context.Background(), vector.Query{Vector: make([]float32, 10), K: 5})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeIndex, apperr.CodeOf(err))

	err = idx.Upsert(context.Background(), entry(uuid.New(), make([]float32, 10)))
	assert.Equal(t, apperr.CodeIndex, apperr.CodeOf(err))
}

func TestQueryRejectsMalformedFilters(t *testing.T) {
	idx := newIndex()
	_, err := idx.Query(context.Background(), vector.Query{
		Vector:  axis(0, 1),
		K:       5,
		Filters: map[string]string{"filename": "x"},
	})
	assert.Equal(t, apperr.CodeIndex, apperr.CodeOf(err))

	_, err = idx.Query(context.Background(), vector.Query{Vector: axis(0, 1), K: 0})
	assert.Equal(t, apperr.CodeIndex, apperr.CodeOf(err))
}

func TestNearRanksBeforeOpposite(t *testing.T) {
	ctx := context.Background()
	idx := newIndex()
	owner := uuid.New()

	near := axis(0, 1)
	near[1] = 0.01
	opposite := axis(0, -1)
	a, b := entry(owner, near), entry(owner, opposite)
	require.NoError(t, idx.Upsert(ctx, b))
	require.NoError(t, idx.Upsert(ctx, a))

	hits, err := idx.Query(ctx, vector.Query{Vector: axis(0, 1), K: 10})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, a.ID, hits[0].ID)
	assert.Greater(t, hits[0].Similarity, float32(0.99))
	// Anti-correlated items are clamped to zero and kept at the default threshold.
	assert.Equal(t, b.ID, hits[1].ID)
	assert.Equal(t, float32(0), hits[1].Similarity)
	assert.Equal(t, float32(1), hits[1].Distance)

	hits, err = idx.Query(ctx, vector.Query{Vector: axis(0, 1), K: 10, MinSimilarity: 0.01})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, a.ID, hits[0].ID)
}

func TestResultsAreMonotoneAndComplementary(t *testing.T) {
	ctx := context.Background()
	idx := newIndex()
	rng := rand.New(rand.NewSource(1))
	owner := uuid.New()
	for i := 0; i < 50; i++ {
		require.NoError(t, idx.Upsert(ctx, entry(owner, randomVec(rng))))
	}

	hits, err := idx.Query(ctx, vector.Query{Vector: randomVec(rng), K: 20})
	require.NoError(t, err)
	require.Len(t, hits, 20)
	for i, h := range hits {
		assert.InDelta(t, 1.0, float64(h.Similarity+h.Distance), 1e-6)
		if i > 0 {
			assert.LessOrEqual(t, h.Similarity, hits[i-1].Similarity)
		}
	}
}

func TestTiesBreakByInsertionOrder(t *testing.T) {
	ctx := context.Background()
	idx := newIndex()
	owner := uuid.New()
	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		e := entry(owner, axis(3, 1))
		ids = append(ids, e.ID)
		require.NoError(t, idx.Upsert(ctx, e))
	}
	for run := 0; run < 3; run++ {
		hits, err := idx.Query(ctx, vector.Query{Vector: axis(3, 1), K: 5})
		require.NoError(t, err)
		for i, h := range hits {
			assert.Equal(t, ids[i], h.ID)
		}
	}
}

func TestFiltersAndExclusion(t *testing.T) {
	ctx := context.Background()
	idx := newIndex()
	alice, bob := uuid.New(), uuid.New()
	self := entry(alice, axis(0, 1))
	sibling := entry(alice, axis(0, 1))
	video := entry(alice, axis(0, 1))
	video.Kind = model.KindVideo
	other := entry(bob, axis(0, 1))
	for _, e := range []vector.Entry{self, sibling, video, other} {
		require.NoError(t, idx.Upsert(ctx, e))
	}

	hits, err := idx.Query(ctx, vector.Query{
		Vector:     axis(0, 1),
		K:          10,
		Filters:    map[string]string{vector.FieldOwnerID: alice.String(), vector.FieldKind: string(model.KindImage)},
		ExcludeIDs: []uuid.UUID{self.ID},
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, sibling.ID, hits[0].ID)
}

func TestKBoundsResults(t *testing.T) {
	ctx := context.Background()
	idx := newIndex()
	owner := uuid.New()
	for i := 0; i < 3; i++ {
		require.NoError(t, idx.Upsert(ctx, entry(owner, axis(i, 1))))
	}
	hits, err := idx.Query(ctx, vector.Query{Vector: axis(0, 1), K: 2})
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	hits, err = idx.Query(ctx, vector.Query{Vector: axis(0, 1), K: 10})
	require.NoError(t, err)
	assert.Len(t, hits, 3)
}

func TestRebuildMatchesScanAndServesReads(t *testing.T) {
	ctx := context.Background()
	idx := newIndex()
	rng := rand.New(rand.NewSource(42))
	owner := uuid.New()
	var entries []vector.Entry
	for i := 0; i < 60; i++ {
		e := entry(owner, randomVec(rng))
		entries = append(entries, e)
		require.NoError(t, idx.Upsert(ctx, e))
	}
	assert.False(t, idx.Stats(ctx).Trained)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			hits, err := idx.Query(ctx, vector.Query{Vector: entries[0].Vector, K: 1})
			assert.NoError(t, err)
			assert.Len(t, hits, 1)
		}
	}()
	require.NoError(t, idx.Rebuild(ctx))
	close(stop)
	wg.Wait()

	st := idx.Stats(ctx)
	assert.True(t, st.Trained)
	assert.Equal(t, 60, st.GraphSize)
	assert.Equal(t, 0, st.Untrained)

	// Exact vectors must find themselves through the graph.
	for _, e := range entries[:20] {
		hits, err := idx.Query(ctx, vector.Query{Vector: e.Vector, K: 1})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, e.ID, hits[0].ID)
	}

	// Entries written after the rebuild are found by the delta scan.
	late := entry(owner, axis(7, 1))
	require.NoError(t, idx.Upsert(ctx, late))
	assert.Equal(t, 1, idx.Stats(ctx).Untrained)
	hits, err := idx.Query(ctx, vector.Query{Vector: axis(7, 1), K: 1})
	require.NoError(t, err)
	assert.Equal(t, late.ID, hits[0].ID)

	// Removed entries disappear even though the graph still holds them.
	require.NoError(t, idx.Remove(ctx, entries[0].ID))
	hits, err = idx.Query(ctx, vector.Query{Vector: entries[0].Vector, K: 1})
	require.NoError(t, err)
	assert.NotEqual(t, entries[0].ID, hits[0].ID)
}

func TestRebuildBelowTrainingSizeKeepsScan(t *testing.T) {
	ctx := context.Background()
	idx := newIndex()
	require.NoError(t, idx.Upsert(ctx, entry(uuid.New(), axis(0, 1))))
	require.NoError(t, idx.Rebuild(ctx))
	assert.False(t, idx.Stats(ctx).Trained)

	hits, err := idx.Query(ctx, vector.Query{Vector: axis(0, 1), K: 1})
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}
