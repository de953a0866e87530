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

// Package model holds the data structures shared across the application:
// the persisted MediaItem, its lifecycle enums, and the transient search and
// queue payloads.
package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// EmbeddingDimensions is the fixed length of every stored embedding.
const EmbeddingDimensions = 1536

// MediaItem is one uploaded photo or video and its processing outcome.
//
// Embedding is non-nil exactly when Status is StatusCompleted. Description is
// written when the item leaves StatusAnalyzing and before the embedding exists.
// Version increases on every write and guards concurrent transitions.
type MediaItem struct {
	ID           uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID      uuid.UUID        `gorm:"type:uuid;not null;index:idx_media_items_owner_status,priority:1" json:"ownerId"`
	Filename     string           `gorm:"type:text;not null" json:"filename"`
	Kind         MediaKind        `gorm:"type:text;not null" json:"kind"`
	ContentType  string           `gorm:"type:text;not null" json:"contentType"`
	SizeBytes    int64            `gorm:"not null" json:"sizeBytes"`
	StorageRef   string           `gorm:"type:text;not null" json:"storageRef"`
	Status       ProcessingStatus `gorm:"type:text;not null;default:pending;index:idx_media_items_owner_status,priority:2" json:"status"`
	Description  *string          `gorm:"type:text" json:"description,omitempty"`
	Embedding    *pgvector.Vector `gorm:"type:vector(1536)" json:"-"`
	ThumbnailRef *string          `gorm:"type:text" json:"thumbnailRef,omitempty"`
	ErrorDetail  *string          `gorm:"type:text" json:"errorDetail,omitempty"`
	Metadata     string           `gorm:"type:text;not null;default:'{}'" json:"-"`
	Version      int64            `gorm:"not null;default:1" json:"version"`
	CreatedAt    time.Time        `gorm:"not null;index" json:"createdAt"`
	UpdatedAt    time.Time        `gorm:"not null" json:"updatedAt"`
}

func (MediaItem) TableName() string {
	return "media_items"
}

// NewMediaItem returns a pending item with a fresh random ID.
func NewMediaItem(ownerID uuid.UUID, filename string, kind MediaKind, contentType string, size int64) *MediaItem {
	now := time.Now().UTC()
	return &MediaItem{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		Filename:    filename,
		Kind:        kind,
		ContentType: contentType,
		SizeBytes:   size,
		Status:      StatusPending,
		Metadata:    "{}",
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// EmbeddingSlice returns the embedding values, or nil when there is none.
func (m *MediaItem) EmbeddingSlice() []float32 {
	if m == nil || m.Embedding == nil {
		return nil
	}
	return m.Embedding.Slice()
}

// MediaMetadata is the decoded form of MediaItem.Metadata.
type MediaMetadata struct {
	Width           int     `json:"width,omitempty"`
	Height          int     `json:"height,omitempty"`
	Format          string  `json:"format,omitempty"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
	FramesExtracted int     `json:"framesExtracted,omitempty"`
}

// DecodeMetadata parses Metadata, returning an empty value when it is blank
// or malformed.
func (m *MediaItem) DecodeMetadata() MediaMetadata {
	var out MediaMetadata
	if m == nil || m.Metadata == "" {
		return out
	}
	_ = json.Unmarshal([]byte(m.Metadata), &out)
	return out
}

// EncodeMetadata replaces Metadata with the JSON form of meta.
func (m *MediaItem) EncodeMetadata(meta MediaMetadata) {
	b, err := json.Marshal(meta)
	if err != nil {
		return
	}
	m.Metadata = string(b)
}
