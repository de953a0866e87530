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

package services

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-photo-search/internal/cloud"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/apperr"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/model"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/providers"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/repository"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/vector"
	"github.com/jaycherian/gcp-go-photo-search/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// Search operation names used in metrics.
const (
	OpSearch  = "search"
	OpSimilar = "similar"
	OpBatch   = "batch"
)

// ErrQueryNotEmbedded is reported for a batch query whose embedding could not
// be generated.
const ErrQueryNotEmbedded = "query embedding could not be generated"

var suggestionTemplates = []string{
	"%s photos",
	"%s videos",
	"%s at night",
	"%s with friends",
	"%s outdoor",
	"funny %s",
	"%s selfie",
	"%s landscape",
}

// SearchService answers natural language and similarity queries over an
// owner's completed items.
type SearchService struct {
	Repo     *repository.MediaRepository
	Index    vector.Index
	Embedder providers.EmbeddingGenerator
	Metrics  *telemetry.SearchMetrics
	Config   cloud.Search
}

// Search embeds req.Query and returns the owner's best matching items.
//
// The index is asked for limit x oversampling candidates so that kind and date
// filters applied afterwards still leave a full page. TotalFound counts what
// survived the filters; Results holds at most limit of them, ranked from 1.
// When the query cannot be embedded the response is empty and
// QueryEmbeddingGenerated is false; that is not an error.
func (s *SearchService) Search(ctx context.Context, owner uuid.UUID, req model.SearchRequest) (resp *model.SearchResponse, err error) {
	start := time.Now()
	defer func() { s.observe(OpSearch, start, resp, err) }()

	req.Query = normalizeQuery(req.Query)
	if req.Query == "" {
		return nil, apperr.Validation("query must not be empty").
			WithDetails(map[string]string{"query": "is required"})
	}
	if req.Limit == 0 {
		req.Limit = s.defaultLimit()
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if max := s.Config.MaxQueryLength; max > 0 && utf8.RuneCountInString(req.Query) > max {
		return nil, apperr.Newf(apperr.CodeValidation, "query longer than %d characters", max)
	}
	if max := s.Config.MaxLimit; max > 0 && req.Limit > max {
		return nil, apperr.Newf(apperr.CodeValidation, "limit must be at most %d", max)
	}
	if req.DateFrom != nil && req.DateTo != nil && req.DateFrom.After(*req.DateTo) {
		return nil, apperr.Validation("dateFrom must not be after dateTo")
	}

	resp = &model.SearchResponse{
		Results: []model.SearchResult{},
		Query:   req.Query,
		AppliedFilters: model.AppliedFilters{
			Kinds:               req.Kinds,
			DateFrom:            req.DateFrom,
			DateTo:              req.DateTo,
			SimilarityThreshold: req.SimilarityThreshold,
			Limit:               req.Limit,
		},
	}

	embedding, err := s.Embedder.Embed(ctx, req.Query)
	if err != nil {
		slog.WarnContext(ctx, "failed to embed search query", "owner_id", owner, "error", err)
		resp.SearchTimeMs = elapsedMs(start)
		return resp, nil
	}
	resp.QueryEmbeddingGenerated = true

	hits, err := s.Index.Query(ctx, vector.Query{
		Vector:        embedding,
		K:             req.Limit * s.oversampling(),
		Filters:       ownerFilters(owner),
		MinSimilarity: req.SimilarityThreshold,
	})
	if err != nil {
		return nil, err
	}

	results, err := s.hydrate(ctx, hits, owner, func(item *model.MediaItem) bool {
		return matchesKinds(item, req.Kinds) && withinDates(item, req.DateFrom, req.DateTo)
	})
	if err != nil {
		return nil, err
	}
	fill(resp, results, req.Limit)
	resp.SearchTimeMs = elapsedMs(start)
	return resp, nil
}

// FindSimilar ranks other completed items by their similarity to item id. The
// item itself is never returned. Only the owner's items are considered unless
// req.IncludeOtherOwners is set and the deployment allows cross-owner lookups;
// req.ExcludeSameOwner then drops the owner's other items.
func (s *SearchService) FindSimilar(ctx context.Context, owner, id uuid.UUID, req model.SimilarRequest) (resp *model.SearchResponse, err error) {
	start := time.Now()
	defer func() { s.observe(OpSimilar, start, resp, err) }()

	if req.Limit == 0 {
		req.Limit = s.Config.SimilarDefaultLimit
		if req.Limit <= 0 {
			req.Limit = 10
		}
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if req.IncludeOtherOwners && !s.Config.AllowCrossOwnerSimilar {
		return nil, apperr.Forbidden("cross-owner similarity search is not enabled")
	}
	if req.ExcludeSameOwner && !req.IncludeOtherOwners {
		return nil, apperr.Validation("excludeSameOwner requires includeOtherOwners")
	}
	threshold := s.Config.SimilarThreshold
	if req.SimilarityThreshold != nil {
		threshold = *req.SimilarityThreshold
	}

	item, err := s.Repo.GetOwned(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	embedding := item.EmbeddingSlice()
	if item.Status != model.StatusCompleted || embedding == nil {
		return nil, apperr.Newf(apperr.CodeStateConflict, "item %s is %s; only completed items can be compared", item.ID, item.Status)
	}

	filters := map[string]string{vector.FieldStatus: string(model.StatusCompleted)}
	if !req.IncludeOtherOwners {
		filters[vector.FieldOwnerID] = owner.String()
	}
	hits, err := s.Index.Query(ctx, vector.Query{
		Vector:        embedding,
		K:             req.Limit * s.oversampling(),
		Filters:       filters,
		MinSimilarity: threshold,
		ExcludeIDs:    []uuid.UUID{item.ID},
	})
	if err != nil {
		return nil, err
	}

	scope := owner
	if req.IncludeOtherOwners {
		scope = uuid.Nil
	}
	results, err := s.hydrate(ctx, hits, scope, func(candidate *model.MediaItem) bool {
		if req.ExcludeSameOwner && candidate.OwnerID == owner {
			return false
		}
		return candidate.ID != item.ID
	})
	if err != nil {
		return nil, err
	}
	resp = &model.SearchResponse{
		Results:                 []model.SearchResult{},
		Query:                   item.ID.String(),
		QueryEmbeddingGenerated: true,
		AppliedFilters:          model.AppliedFilters{SimilarityThreshold: threshold, Limit: req.Limit},
	}
	fill(resp, results, req.Limit)
	resp.SearchTimeMs = elapsedMs(start)
	return resp, nil
}

// BatchSearch runs independent queries with bounded concurrency. A query that
// fails, or whose embedding could not be generated, is reported under Errors
// and never affects the others.
func (s *SearchService) BatchSearch(ctx context.Context, owner uuid.UUID, req model.BatchSearchRequest) (*model.BatchSearchResponse, error) {
	start := time.Now()
	if req.Limit == 0 {
		req.Limit = s.Config.BatchLimit
		if req.Limit <= 0 {
			req.Limit = 10
		}
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if max := s.Config.MaxBatchQueries; max > 0 && len(req.Queries) > max {
		return nil, apperr.Newf(apperr.CodeValidation, "at most %d queries per batch", max)
	}

	out := &model.BatchSearchResponse{
		Results: make(map[string]*model.SearchResponse, len(req.Queries)),
		Errors:  make(map[string]string),
	}
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.batchConcurrency())

	seen := make(map[string]bool, len(req.Queries))
	for _, query := range req.Queries {
		if seen[query] {
			continue
		}
		seen[query] = true
		g.Go(func() error {
			resp, err := s.Search(ctx, owner, model.SearchRequest{
				Query:               query,
				Limit:               req.Limit,
				SimilarityThreshold: req.SimilarityThreshold,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				out.Errors[query] = err.Error()
			case !resp.QueryEmbeddingGenerated:
				out.Results[query] = resp
				out.Errors[query] = ErrQueryNotEmbedded
			default:
				out.Results[query] = resp
			}
			return nil
		})
	}
	_ = g.Wait()

	out.TotalTimeMs = elapsedMs(start)
	outcome := "ok"
	if len(out.Errors) > 0 {
		outcome = "partial"
	}
	s.Metrics.Observe(OpBatch, outcome, time.Since(start))
	return out, nil
}

// Suggestions completes a partial query from fixed templates.
func (s *SearchService) Suggestions(partial string, limit int) []string {
	partial = normalizeQuery(partial)
	if len(partial) < 2 {
		return []string{}
	}
	if limit <= 0 || limit > 10 {
		limit = 5
	}
	out := make([]string, 0, limit)
	needle := strings.ToLower(partial)
	for _, tmpl := range suggestionTemplates {
		suggestion := strings.Replace(tmpl, "%s", partial, 1)
		if !strings.Contains(strings.ToLower(suggestion), needle) {
			continue
		}
		out = append(out, suggestion)
		if len(out) == limit {
			break
		}
	}
	return out
}

// hydrate loads the items behind hits, keeping hit order. Items that vanished
// or stopped being completed since they were indexed are dropped, as are
// items outside owner when owner is set.
func (s *SearchService) hydrate(ctx context.Context, hits []vector.Hit, owner uuid.UUID, keep func(*model.MediaItem) bool) ([]model.SearchResult, error) {
	if len(hits) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	items, err := s.Repo.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]model.SearchResult, 0, len(hits))
	for _, h := range hits {
		item, ok := items[h.ID]
		if !ok || item.Status != model.StatusCompleted {
			continue
		}
		if owner != uuid.Nil && item.OwnerID != owner {
			continue
		}
		if !keep(item) {
			continue
		}
		out = append(out, model.SearchResult{Item: item, SimilarityScore: h.Similarity, Distance: h.Distance})
	}
	return out, nil
}

// fill trims results to limit and ranks them 1..N.
func fill(resp *model.SearchResponse, results []model.SearchResult, limit int) {
	resp.TotalFound = len(results)
	if len(results) > limit {
		results = results[:limit]
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	if results != nil {
		resp.Results = results
	}
	resp.ReturnedCount = len(resp.Results)
}

func (s *SearchService) observe(op string, start time.Time, resp *model.SearchResponse, err error) {
	outcome := "ok"
	switch {
	case err != nil:
		outcome = strings.ToLower(string(apperr.CodeOf(err)))
	case resp != nil && !resp.QueryEmbeddingGenerated:
		outcome = "no_embedding"
	}
	s.Metrics.Observe(op, outcome, time.Since(start))
}

func (s *SearchService) defaultLimit() int {
	if s.Config.DefaultLimit > 0 {
		return s.Config.DefaultLimit
	}
	return 20
}

func (s *SearchService) oversampling() int {
	if s.Config.OversamplingFactor > 0 {
		return s.Config.OversamplingFactor
	}
	return 2
}

func (s *SearchService) batchConcurrency() int {
	if s.Config.BatchConcurrency > 0 {
		return s.Config.BatchConcurrency
	}
	return 3
}

func ownerFilters(owner uuid.UUID) map[string]string {
	return map[string]string{
		vector.FieldOwnerID: owner.String(),
		vector.FieldStatus:  string(model.StatusCompleted),
	}
}

func matchesKinds(item *model.MediaItem, kinds []model.MediaKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if item.Kind == k {
			return true
		}
	}
	return false
}

// withinDates is inclusive at both ends.
func withinDates(item *model.MediaItem, from, to *time.Time) bool {
	if from != nil && item.CreatedAt.Before(*from) {
		return false
	}
	if to != nil && item.CreatedAt.After(*to) {
		return false
	}
	return true
}

func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(q), " ")
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
