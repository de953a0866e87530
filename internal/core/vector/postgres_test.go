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
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-photo-search/internal/cloud"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/model"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/repository"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/vector"
	"github.com/jaycherian/gcp-go-photo-search/internal/migrate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// envPostgresDSN points at a Postgres with the pgvector extension available.
const envPostgresDSN = "PHOTOSEARCH_TEST_POSTGRES_DSN"

func TestPgVectorKeepsOppositeVectorsAtZero(t *testing.T) {
	dsn := os.Getenv(envPostgresDSN)
	if dsn == "" {
		t.Skipf("%s not set", envPostgresDSN)
	}
	ctx := t.Context()
	db, err := cloud.OpenDatabase(ctx, cloud.Database{Driver: cloud.DatabasePostgres, DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, migrate.Up(ctx, db))

	repo := repository.NewMediaRepository(db)
	owner := uuid.New()
	t.Cleanup(func() {
		db.Exec("DELETE FROM media_items WHERE owner_id = ?", owner)
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	seed := func(name string, v []float32) uuid.UUID {
		item := model.NewMediaItem(owner, name, model.KindImage, "image/jpeg", 1)
		item.StorageRef = owner.String() + "/" + name
		require.NoError(t, repo.Create(ctx, item))
		version, err := repo.Transition(ctx, item.ID, model.StatusPending, model.StatusAnalyzing, item.Version)
		require.NoError(t, err)
		version, err = repo.SaveDescription(ctx, item.ID, version, name)
		require.NoError(t, err)
		_, err = repo.Complete(ctx, item.ID, version, name, v, dims)
		require.NoError(t, err)
		return item.ID
	}
	near := seed("near", axis(0, 1))
	opposite := seed("opposite", axis(0, -1))

	pg := vector.NewPgVectorIndex(db, vector.PgVectorOptions{Dimensions: dims})
	mem := newIndex()
	for _, id := range []uuid.UUID{near, opposite} {
		item, err := repo.Get(ctx, id)
		require.NoError(t, err)
		require.NoError(t, mem.Upsert(ctx, vector.EntryFromItem(item)))
	}

	q := vector.Query{
		Vector:  axis(0, 1),
		K:       10,
		Filters: map[string]string{vector.FieldOwnerID: owner.String()},
	}
	for name, index := range map[string]vector.Index{"pgvector": pg, "memory": mem} {
		hits, err := index.Query(ctx, q)
		require.NoError(t, err, name)
		require.Len(t, hits, 2, name)
		assert.Equal(t, near, hits[0].ID, name)
		assert.InDelta(t, 1.0, float64(hits[0].Similarity), 1e-6, name)
		assert.Equal(t, opposite, hits[1].ID, name)
		assert.Equal(t, float32(0), hits[1].Similarity, name)
		assert.Equal(t, float32(1), hits[1].Distance, name)
	}
}
