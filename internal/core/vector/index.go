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

// Package vector implements cosine similarity search over item embeddings.
//
// Scoring policy: the raw cosine similarity is clamped into [0, 1] and the
// reported distance is 1 - score. Results are ordered by score descending and
// ties are broken by insertion order, then by ID, so equal inputs always
// produce the same ranking. MinSimilarity is inclusive, so with the default of
// 0 anti-correlated items are still returned, last, with score 0.
package vector

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/apperr"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/model"
)

// Filterable fields. A query may constrain any of them by equality.
const (
	FieldOwnerID = "owner_id"
	FieldStatus  = "status"
	FieldKind    = "kind"
)

// Entry is what the index stores per item.
type Entry struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	Status    model.ProcessingStatus
	Kind      model.MediaKind
	CreatedAt time.Time
	Vector    []float32
}

// EntryFromItem builds an Entry from a completed item.
func EntryFromItem(item *model.MediaItem) Entry {
	return Entry{
		ID:        item.ID,
		OwnerID:   item.OwnerID,
		Status:    item.Status,
		Kind:      item.Kind,
		CreatedAt: item.CreatedAt,
		Vector:    item.EmbeddingSlice(),
	}
}

func (e Entry) field(name string) string {
	switch name {
	case FieldOwnerID:
		return e.OwnerID.String()
	case FieldStatus:
		return string(e.Status)
	case FieldKind:
		return string(e.Kind)
	}
	return ""
}

// Query describes a top-K lookup.
type Query struct {
	Vector        []float32
	K             int
	Filters       map[string]string
	MinSimilarity float32
	ExcludeIDs    []uuid.UUID
}

// Hit is a single ranked match.
type Hit struct {
	ID         uuid.UUID
	Similarity float32
	Distance   float32
}

// Stats describes the state of an index.
type Stats struct {
	Entries     int       `json:"entries"`
	Trained     bool      `json:"trained"`
	GraphSize   int       `json:"graphSize"`
	Untrained   int       `json:"pendingSinceRebuild"`
	LastRebuild time.Time `json:"lastRebuild,omitempty"`
	Backend     string    `json:"backend"`
}

// Index is a similarity index over item embeddings.
type Index interface {
	// Upsert adds or replaces the entry for e.ID.
	Upsert(ctx context.Context, e Entry) error
	// Remove deletes id. Removing an absent id is not an error.
	Remove(ctx context.Context, id uuid.UUID) error
	// Query returns at most K hits ordered by similarity.
	Query(ctx context.Context, q Query) ([]Hit, error)
	// Rebuild retrains the approximate structure. Queries keep being served
	// while it runs.
	Rebuild(ctx context.Context) error
	Stats(ctx context.Context) Stats
}

// Validate checks q against the dimensionality of the index.
func (q Query) Validate(dims int) error {
	if len(q.Vector) != dims {
		return apperr.Newf(apperr.CodeIndex, "query vector has %d dimensions, index expects %d", len(q.Vector), dims)
	}
	if q.K <= 0 {
		return apperr.Newf(apperr.CodeIndex, "k must be positive, got %d", q.K)
	}
	if q.MinSimilarity < 0 || q.MinSimilarity > 1 {
		return apperr.Newf(apperr.CodeIndex, "min similarity %v outside [0, 1]", q.MinSimilarity)
	}
	for field, value := range q.Filters {
		switch field {
		case FieldOwnerID, FieldStatus, FieldKind:
		default:
			return apperr.Newf(apperr.CodeIndex, "unsupported filter field %q", field)
		}
		if value == "" {
			return apperr.Newf(apperr.CodeIndex, "empty value for filter %q", field)
		}
	}
	return nil
}

func (q Query) matches(e Entry) bool {
	for field, value := range q.Filters {
		if e.field(field) != value {
			return false
		}
	}
	for _, id := range q.ExcludeIDs {
		if id == e.ID {
			return false
		}
	}
	return true
}

// scored is a candidate before it is cut to K.
type scored struct {
	id    uuid.UUID
	seq   uint64
	score float32
}

// rank orders candidates by score descending, then seq and ID ascending, and
// returns at most k hits.
func rank(cands []scored, k int) []Hit {
	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.seq != b.seq {
			return a.seq < b.seq
		}
		return a.id.String() < b.id.String()
	})
	if len(cands) > k {
		cands = cands[:k]
	}
	hits := make([]Hit, len(cands))
	for i, c := range cands {
		hits[i] = Hit{ID: c.id, Similarity: c.score, Distance: Distance(c.score)}
	}
	return hits
}
