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
	"log/slog"
	"sync"
	"time"

	"github.com/coder/hnsw"
	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/apperr"
)

// MemoryOptions tunes a MemoryIndex.
type MemoryOptions struct {
	Dimensions int
	// MinTrainSize is the number of entries below which Rebuild leaves the
	// index in exact-scan mode.
	MinTrainSize int
	M            int
	EfSearch     int
	// Oversample multiplies K when collecting graph candidates so that
	// post-filtering still leaves K results.
	Oversample int
}

type memEntry struct {
	Entry
	seq uint64 // first insertion order, kept across updates
	rev uint64 // changes on every upsert; graph node key
}

// graphSnapshot is an immutable HNSW graph plus the revisions it contains.
type graphSnapshot struct {
	graph *hnsw.Graph[uint64]
	revs  map[uint64]uuid.UUID
	built time.Time
}

// MemoryIndex keeps every entry in memory. Until Rebuild trains a graph all
// queries scan. Afterwards a query merges graph candidates with a scan of
// entries written since the last rebuild, and scores every candidate exactly.
type MemoryIndex struct {
	opts MemoryOptions

	mu      sync.RWMutex
	entries map[uuid.UUID]*memEntry
	nextSeq uint64
	nextRev uint64
	snap    *graphSnapshot

	rebuildMu sync.Mutex
}

func NewMemoryIndex(opts MemoryOptions) *MemoryIndex {
	if opts.MinTrainSize <= 0 {
		opts.MinTrainSize = 1000
	}
	if opts.M <= 0 {
		opts.M = 16
	}
	if opts.EfSearch <= 0 {
		opts.EfSearch = 64
	}
	if opts.Oversample <= 0 {
		opts.Oversample = 4
	}
	return &MemoryIndex{opts: opts, entries: make(map[uuid.UUID]*memEntry)}
}

func (x *MemoryIndex) Upsert(_ context.Context, e Entry) error {
	if len(e.Vector) != x.opts.Dimensions {
		return apperr.Newf(apperr.CodeIndex, "entry %s has %d dimensions, index expects %d", e.ID, len(e.Vector), x.opts.Dimensions)
	}
	vec := make([]float32, len(e.Vector))
	copy(vec, e.Vector)
	e.Vector = vec

	x.mu.Lock()
	defer x.mu.Unlock()
	x.nextRev++
	if cur, ok := x.entries[e.ID]; ok {
		cur.Entry = e
		cur.rev = x.nextRev
		return nil
	}
	x.nextSeq++
	x.entries[e.ID] = &memEntry{Entry: e, seq: x.nextSeq, rev: x.nextRev}
	return nil
}

func (x *MemoryIndex) Remove(_ context.Context, id uuid.UUID) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.entries, id)
	return nil
}

func (x *MemoryIndex) Query(ctx context.Context, q Query) ([]Hit, error) {
	if err := q.Validate(x.opts.Dimensions); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.snap == nil {
		return rank(x.scan(q, nil), q.K), nil
	}

	want := q.K * x.opts.Oversample
	candidates := x.snap.graph.Search(q.Vector, want)
	seen := make(map[uuid.UUID]struct{}, len(candidates))
	var cands []scored
	for _, node := range candidates {
		id, ok := x.snap.revs[node.Key]
		if !ok {
			continue
		}
		e, ok := x.entries[id]
		if !ok || e.rev != node.Key || !q.matches(e.Entry) {
			continue
		}
		if s, ok := x.score(q, e); ok {
			cands = append(cands, s)
			seen[id] = struct{}{}
		}
	}
	// Entries written after the graph was built are only reachable by scan.
	cands = append(cands, x.scan(q, func(e *memEntry) bool {
		if _, dup := seen[e.ID]; dup {
			return false
		}
		_, inGraph := x.snap.revs[e.rev]
		return !inGraph
	})...)

	// A short graph answer may hide matches behind the filters.
	if len(cands) < q.K && len(candidates) >= want {
		return rank(x.scan(q, nil), q.K), nil
	}
	return rank(cands, q.K), nil
}

// scan scores every entry accepted by keep (all entries when keep is nil).
// Callers hold at least a read lock.
func (x *MemoryIndex) scan(q Query, keep func(*memEntry) bool) []scored {
	var out []scored
	for _, e := range x.entries {
		if keep != nil && !keep(e) {
			continue
		}
		if !q.matches(e.Entry) {
			continue
		}
		if s, ok := x.score(q, e); ok {
			out = append(out, s)
		}
	}
	return out
}

func (x *MemoryIndex) score(q Query, e *memEntry) (scored, bool) {
	s := Score(Cosine(q.Vector, e.Vector))
	if s < q.MinSimilarity {
		return scored{}, false
	}
	return scored{id: e.ID, seq: e.seq, score: s}, true
}

// Rebuild trains a new graph from a snapshot of the entries and swaps it in.
// Reads and writes continue while the graph is being built. With fewer than
// MinTrainSize entries the index stays in scan mode.
func (x *MemoryIndex) Rebuild(ctx context.Context) error {
	x.rebuildMu.Lock()
	defer x.rebuildMu.Unlock()

	x.mu.RLock()
	nodes := make([]hnsw.Node[uint64], 0, len(x.entries))
	revs := make(map[uint64]uuid.UUID, len(x.entries))
	for _, e := range x.entries {
		nodes = append(nodes, hnsw.MakeNode(e.rev, e.Vector))
		revs[e.rev] = e.ID
	}
	x.mu.RUnlock()

	if len(nodes) < x.opts.MinTrainSize {
		slog.InfoContext(ctx, "vector index below training size, keeping exact scan",
			"entries", len(nodes), "min_train_size", x.opts.MinTrainSize)
		x.mu.Lock()
		x.snap = nil
		x.mu.Unlock()
		return nil
	}

	start := time.Now()
	g := hnsw.NewGraph[uint64]()
	g.M = x.opts.M
	g.EfSearch = x.opts.EfSearch
	g.Distance = hnsw.CosineDistance
	for i, n := range nodes {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return apperr.Wrap(apperr.CodeIndex, err, "rebuild cancelled")
			}
		}
		g.Add(n)
	}

	x.mu.Lock()
	x.snap = &graphSnapshot{graph: g, revs: revs, built: time.Now()}
	x.mu.Unlock()

	slog.InfoContext(ctx, "vector index rebuilt", "nodes", len(nodes), "elapsed", time.Since(start))
	return nil
}

func (x *MemoryIndex) Stats(_ context.Context) Stats {
	x.mu.RLock()
	defer x.mu.RUnlock()
	st := Stats{Entries: len(x.entries), Backend: "memory"}
	if x.snap == nil {
		st.Untrained = len(x.entries)
		return st
	}
	st.Trained = true
	st.GraphSize = x.snap.graph.Len()
	st.LastRebuild = x.snap.built
	for _, e := range x.entries {
		if _, ok := x.snap.revs[e.rev]; !ok {
			st.Untrained++
		}
	}
	return st
}
