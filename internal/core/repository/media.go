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

// Package repository persists media items with gorm.
//
// Every status change is a single conditional UPDATE guarded by the expected
// status and version, so two workers can never both move the same item, and
// the embedding, description and completed status land in the same statement.
// Version only guards status transitions; thumbnail and metadata writes leave
// it untouched so they never race the pipeline.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/apperr"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/model"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/vector"
	"gorm.io/gorm"
)

type MediaRepository struct {
	db *gorm.DB
}

func NewMediaRepository(db *gorm.DB) *MediaRepository {
	return &MediaRepository{db: db}
}

// DB exposes the connection for components that share it (pgvector index).
func (r *MediaRepository) DB() *gorm.DB {
	return r.db
}

func (r *MediaRepository) Create(ctx context.Context, item *model.MediaItem) error {
	if item.Status != model.StatusPending || item.Embedding != nil {
		return apperr.Validation("new items must be pending without an embedding")
	}
	return wrap(r.db.WithContext(ctx).Create(item).Error, "create media item")
}

func (r *MediaRepository) Get(ctx context.Context, id uuid.UUID) (*model.MediaItem, error) {
	var item model.MediaItem
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&item).Error; err != nil {
		return nil, wrap(err, "get media item")
	}
	return &item, nil
}

// GetOwned returns the item only when it belongs to owner.
func (r *MediaRepository) GetOwned(ctx context.Context, owner, id uuid.UUID) (*model.MediaItem, error) {
	var item model.MediaItem
	if err := r.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, owner).Take(&item).Error; err != nil {
		return nil, wrap(err, "get media item")
	}
	return &item, nil
}

// GetMany loads ids in one query. Missing ids are absent from the map.
func (r *MediaRepository) GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.MediaItem, error) {
	out := make(map[uuid.UUID]*model.MediaItem, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var items []model.MediaItem
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&items).Error; err != nil {
		return nil, wrap(err, "load media items")
	}
	for i := range items {
		out[items[i].ID] = &items[i]
	}
	return out, nil
}

// List returns one page of an owner's items, newest first, and the total
// number of items matching the filter.
func (r *MediaRepository) List(ctx context.Context, f model.ListFilter) ([]model.MediaItem, int64, error) {
	q := r.db.WithContext(ctx).Model(&model.MediaItem{}).Where("owner_id = ?", f.OwnerID)
	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, wrap(err, "count media items")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	var items []model.MediaItem
	err := q.Order("created_at DESC").Order("id").Limit(limit).Offset(f.Offset).Find(&items).Error
	if err != nil {
		return nil, 0, wrap(err, "list media items")
	}
	return items, total, nil
}

func (r *MediaRepository) CountByStatus(ctx context.Context, owner uuid.UUID) (model.MediaStats, error) {
	type row struct {
		Status model.ProcessingStatus
		N      int64
	}
	var rows []row
	err := r.db.WithContext(ctx).Model(&model.MediaItem{}).
		Select("status, count(*) AS n").
		Where("owner_id = ?", owner).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return model.MediaStats{}, wrap(err, "count by status")
	}
	stats := model.MediaStats{ByStatus: make(map[model.ProcessingStatus]int64, len(rows))}
	for _, r := range rows {
		stats.ByStatus[r.Status] = r.N
		stats.Total += r.N
	}
	return stats, nil
}

// Transition moves id from one status to another if it is still at version.
// It returns the new version.
func (r *MediaRepository) Transition(ctx context.Context, id uuid.UUID, from, to model.ProcessingStatus, version int64) (int64, error) {
	if !model.CanTransition(from, to) {
		return 0, apperr.Newf(apperr.CodeStateConflict, "transition %s -> %s is not allowed", from, to)
	}
	if to == model.StatusCompleted || to == model.StatusEmbedding {
		return 0, apperr.Newf(apperr.CodeStateConflict, "use SaveDescription/Complete to enter %s", to)
	}
	return r.casUpdate(ctx, id, from, version, map[string]any{"status": to})
}

// SaveDescription stores the description and moves analyzing -> embedding.
func (r *MediaRepository) SaveDescription(ctx context.Context, id uuid.UUID, version int64, description string) (int64, error) {
	if description == "" {
		return 0, apperr.Validation("description must not be empty")
	}
	return r.casUpdate(ctx, id, model.StatusAnalyzing, version, map[string]any{
		"status":      model.StatusEmbedding,
		"description": description,
	})
}

// Complete writes the description, the embedding and the completed status in
// one statement. The embedding must have dims values.
func (r *MediaRepository) Complete(ctx context.Context, id uuid.UUID, version int64, description string, embedding []float32, dims int) (int64, error) {
	col, err := vector.ToColumn(embedding, dims)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeValidation, err, "complete media item")
	}
	if description == "" {
		return 0, apperr.Validation("description must not be empty")
	}
	return r.casUpdate(ctx, id, model.StatusEmbedding, version, map[string]any{
		"status":       model.StatusCompleted,
		"description":  description,
		"embedding":    *col,
		"error_detail": nil,
	})
}

// MarkFailed moves an in-flight item to failed with detail. A description is
// kept only if the item had already left analyzing. It returns false, without
// writing anything, when the item is not in flight, which makes repeated calls
// for the same failure harmless.
func (r *MediaRepository) MarkFailed(ctx context.Context, id uuid.UUID, detail string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.MediaItem{}).
		Where("id = ? AND status IN ?", id, []model.ProcessingStatus{model.StatusAnalyzing, model.StatusEmbedding}).
		Updates(map[string]any{
			"description":  gorm.Expr("CASE WHEN status = ? THEN NULL ELSE description END", model.StatusAnalyzing),
			"status":       model.StatusFailed,
			"error_detail": detail,
			"embedding":    nil,
			"version":      gorm.Expr("version + 1"),
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return false, wrap(res.Error, "mark media item failed")
	}
	return res.RowsAffected == 1, nil
}

// ResetForReprocess moves a failed item back to pending and clears every
// output of the previous attempt.
func (r *MediaRepository) ResetForReprocess(ctx context.Context, owner, id uuid.UUID) (*model.MediaItem, error) {
	res := r.db.WithContext(ctx).Model(&model.MediaItem{}).
		Where("id = ? AND owner_id = ? AND status = ?", id, owner, model.StatusFailed).
		Updates(map[string]any{
			"status":       model.StatusPending,
			"description":  nil,
			"embedding":    nil,
			"error_detail": nil,
			"version":      gorm.Expr("version + 1"),
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, wrap(res.Error, "reset media item")
	}
	if res.RowsAffected == 0 {
		item, err := r.GetOwned(ctx, owner, id)
		if err != nil {
			return nil, err
		}
		return nil, apperr.Newf(apperr.CodeStateConflict, "only failed items can be reprocessed, item is %s", item.Status)
	}
	return r.GetOwned(ctx, owner, id)
}

func (r *MediaRepository) SetThumbnail(ctx context.Context, id uuid.UUID, ref string) error {
	res := r.db.WithContext(ctx).Model(&model.MediaItem{}).Where("id = ?", id).
		UpdateColumns(map[string]any{"thumbnail_ref": ref, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return wrap(res.Error, "set thumbnail")
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("media item not found")
	}
	return nil
}

func (r *MediaRepository) SetMetadata(ctx context.Context, id uuid.UUID, meta model.MediaMetadata) error {
	var tmp model.MediaItem
	tmp.EncodeMetadata(meta)
	res := r.db.WithContext(ctx).Model(&model.MediaItem{}).Where("id = ?", id).
		UpdateColumns(map[string]any{"metadata": tmp.Metadata, "updated_at": time.Now().UTC()})
	return wrap(res.Error, "set metadata")
}

// Delete removes the owner's item and reports whether it existed.
func (r *MediaRepository) Delete(ctx context.Context, owner, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, owner).Delete(&model.MediaItem{})
	if res.Error != nil {
		return false, wrap(res.Error, "delete media item")
	}
	return res.RowsAffected > 0, nil
}

// StalePending returns pending items created before cutoff, oldest first.
func (r *MediaRepository) StalePending(ctx context.Context, cutoff time.Time, limit int) ([]model.MediaItem, error) {
	var items []model.MediaItem
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.StatusPending, cutoff.UTC()).
		Order("created_at").Limit(limit).Find(&items).Error
	return items, wrap(err, "list stale pending items")
}

// ForEachCompleted streams completed items with their embeddings in batches.
func (r *MediaRepository) ForEachCompleted(ctx context.Context, batchSize int, fn func([]model.MediaItem) error) error {
	var batch []model.MediaItem
	res := r.db.WithContext(ctx).
		Where("status = ? AND embedding IS NOT NULL", model.StatusCompleted).
		FindInBatches(&batch, batchSize, func(_ *gorm.DB, _ int) error {
			return fn(batch)
		})
	return wrap(res.Error, "stream completed items")
}

// casUpdate applies fields when id is at (status, version) and bumps version.
func (r *MediaRepository) casUpdate(ctx context.Context, id uuid.UUID, status model.ProcessingStatus, version int64, fields map[string]any) (int64, error) {
	fields["version"] = gorm.Expr("version + 1")
	fields["updated_at"] = time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&model.MediaItem{}).
		Where("id = ? AND status = ? AND version = ?", id, status, version).
		Updates(fields)
	if res.Error != nil {
		return 0, wrap(res.Error, "update media item")
	}
	if res.RowsAffected == 0 {
		current, err := r.Get(ctx, id)
		if err != nil {
			return 0, err
		}
		return 0, apperr.Newf(apperr.CodeStateConflict,
			"item %s is %s at version %d, expected %s at version %d",
			id, current.Status, current.Version, status, version)
	}
	return version + 1, nil
}
