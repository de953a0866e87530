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
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/apperr"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// PgVectorOptions tunes a PgVectorIndex.
type PgVectorOptions struct {
	Dimensions     int
	M              int
	EfConstruction int
	EfSearch       int
}

// PgVectorIndex searches the embedding column of media_items directly. The
// repository owns that column, so Upsert and Remove only validate. Without the
// HNSW index Postgres answers with a sequential scan.
type PgVectorIndex struct {
	db   *gorm.DB
	opts PgVectorOptions

	mu          sync.Mutex
	lastRebuild time.Time
}

func NewPgVectorIndex(db *gorm.DB, opts PgVectorOptions) *PgVectorIndex {
	if opts.M <= 0 {
		opts.M = 16
	}
	if opts.EfConstruction <= 0 {
		opts.EfConstruction = 200
	}
	return &PgVectorIndex{db: db, opts: opts}
}

func (x *PgVectorIndex) Upsert(_ context.Context, e Entry) error {
	if len(e.Vector) != x.opts.Dimensions {
		return apperr.Newf(apperr.CodeIndex, "entry %s has %d dimensions, index expects %d", e.ID, len(e.Vector), x.opts.Dimensions)
	}
	return nil
}

func (x *PgVectorIndex) Remove(context.Context, uuid.UUID) error {
	return nil
}

type pgHit struct {
	ID       uuid.UUID
	Distance float64
}

func (x *PgVectorIndex) Query(ctx context.Context, q Query) ([]Hit, error) {
	if err := q.Validate(x.opts.Dimensions); err != nil {
		return nil, err
	}

	stmt, args := knnStatement(q)
	var rows []pgHit
	err := x.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if x.opts.EfSearch > 0 {
			if err := tx.Exec(fmt.Sprintf(QrySetEfSearch, x.opts.EfSearch)).Error; err != nil {
				return err
			}
		}
		return tx.Raw(stmt, args...).Scan(&rows).Error
	})
	if err != nil {
		return nil, apperr.Storage(err, "vector query")
	}

	hits := make([]Hit, 0, len(rows))
	for _, r := range rows {
		s := ScoreFromDistance(r.Distance)
		hits = append(hits, Hit{ID: r.ID, Similarity: s, Distance: Distance(s)})
	}
	return hits, nil
}

// knnStatement renders QryKnn for a validated query.
func knnStatement(q Query) (string, []any) {
	// Map iteration order is random; sort for a stable statement.
	fields := make([]string, 0, len(q.Filters))
	for f := range q.Filters {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	vec := pgvector.NewVector(q.Vector)
	args := []any{vec, vec, q.MinSimilarity}
	var where strings.Builder
	for _, f := range fields {
		fmt.Fprintf(&where, " AND %s = ?", f)
		args = append(args, q.Filters[f])
	}
	if len(q.ExcludeIDs) > 0 {
		where.WriteString(" AND id NOT IN ?")
		args = append(args, q.ExcludeIDs)
	}
	return fmt.Sprintf(QryKnn, where.String()), append(args, q.K)
}

// Rebuild creates the HNSW index when it is missing and rebuilds it otherwise.
// Both statements run CONCURRENTLY so searches are not blocked.
func (x *PgVectorIndex) Rebuild(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	db := x.db.WithContext(ctx)
	var n int64
	if err := db.Raw(QryIndexExists, HnswIndexName).Scan(&n).Error; err != nil {
		return apperr.Storage(err, "check hnsw index")
	}
	stmt := QryReindexHnsw
	if n == 0 {
		stmt = fmt.Sprintf(QryCreateHnsw, x.opts.M, x.opts.EfConstruction)
	}
	if err := db.Exec(stmt).Error; err != nil {
		return apperr.Wrap(apperr.CodeIndex, err, "rebuild hnsw index")
	}
	x.lastRebuild = time.Now()
	return nil
}

func (x *PgVectorIndex) Stats(ctx context.Context) Stats {
	st := Stats{Backend: "pgvector"}
	var n int64
	if err := x.db.WithContext(ctx).Raw(QryCountEmbedded).Scan(&n).Error; err == nil {
		st.Entries = int(n)
	}
	var idx int64
	if err := x.db.WithContext(ctx).Raw(QryIndexExists, HnswIndexName).Scan(&idx).Error; err == nil {
		st.Trained = idx > 0
	}
	if st.Trained {
		st.GraphSize = st.Entries
	} else {
		st.Untrained = st.Entries
	}
	x.mu.Lock()
	st.LastRebuild = x.lastRebuild
	x.mu.Unlock()
	return st
}
