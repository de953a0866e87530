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

package model

import (
	"time"

	"github.com/google/uuid"
)

// ProcessRequest is the queue payload that hands an item to the pipeline.
type ProcessRequest struct {
	ItemID     uuid.UUID `json:"itemId"`
	OwnerID    uuid.UUID `json:"ownerId"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// SearchRequest is a natural language query over the caller's library.
type SearchRequest struct {
	Query               string      `json:"query" validate:"required,max=500"`
	Limit               int         `json:"limit" validate:"omitempty,min=1,max=100"`
	SimilarityThreshold float32     `json:"similarityThreshold" validate:"gte=0,lte=1"`
	Kinds               []MediaKind `json:"fileTypes,omitempty" validate:"omitempty,dive,oneof=image video"`
	DateFrom            *time.Time  `json:"dateFrom,omitempty"`
	DateTo              *time.Time  `json:"dateTo,omitempty"`
}

// BatchSearchRequest runs several independent queries with shared options.
type BatchSearchRequest struct {
	Queries             []string `json:"queries" validate:"required,min=1,max=5,dive,required,max=500"`
	Limit               int      `json:"limit" validate:"omitempty,min=1,max=100"`
	SimilarityThreshold float32  `json:"similarityThreshold" validate:"gte=0,lte=1"`
}

// SimilarRequest controls a find-similar lookup.
type SimilarRequest struct {
	Limit               int      `json:"limit" validate:"omitempty,min=1,max=50"`
	SimilarityThreshold *float32 `json:"similarityThreshold,omitempty" validate:"omitempty,gte=0,lte=1"`
	IncludeOtherOwners  bool     `json:"includeOtherOwners"`
	ExcludeSameOwner    bool     `json:"excludeSameOwner"`
}

// SearchResult is one ranked hit. Rank starts at 1 and has no gaps.
type SearchResult struct {
	Item            *MediaItem `json:"item"`
	SimilarityScore float32    `json:"similarityScore"`
	Distance        float32    `json:"distance"`
	Rank            int        `json:"rank"`
}

// AppliedFilters echoes the constraints a search ran with.
type AppliedFilters struct {
	Kinds               []MediaKind `json:"fileTypes,omitempty"`
	DateFrom            *time.Time  `json:"dateFrom,omitempty"`
	DateTo              *time.Time  `json:"dateTo,omitempty"`
	SimilarityThreshold float32     `json:"similarityThreshold"`
	Limit               int         `json:"limit"`
}

// SearchResponse is the outcome of a search. TotalFound counts the matches
// that survived filtering; ReturnedCount is len(Results).
type SearchResponse struct {
	Results                 []SearchResult `json:"results"`
	TotalFound              int            `json:"totalFound"`
	ReturnedCount           int            `json:"returnedCount"`
	SearchTimeMs            float64        `json:"searchTimeMs"`
	Query                   string         `json:"query"`
	QueryEmbeddingGenerated bool           `json:"queryEmbeddingGenerated"`
	AppliedFilters          AppliedFilters `json:"appliedFilters"`
}

// BatchSearchResponse maps each submitted query to its result. Queries that
// failed appear in Errors instead of Results.
type BatchSearchResponse struct {
	Results     map[string]*SearchResponse `json:"results"`
	Errors      map[string]string          `json:"errors,omitempty"`
	TotalTimeMs float64                    `json:"totalTimeMs"`
}

// MediaStats summarises a library by status.
type MediaStats struct {
	Total    int64                      `json:"total"`
	ByStatus map[ProcessingStatus]int64 `json:"byStatus"`
}

// ListFilter selects a page of an owner's items, newest first.
type ListFilter struct {
	OwnerID uuid.UUID
	Kind    MediaKind
	Status  ProcessingStatus
	Limit   int
	Offset  int
}
