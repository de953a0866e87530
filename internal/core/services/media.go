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
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-photo-search/internal/cloud"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/apperr"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/extract"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/model"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/repository"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/storage"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/vector"
)

const thumbnailTimeout = 2 * time.Minute

// ProcessEnqueuer hands an item to the processing pipeline.
type ProcessEnqueuer interface {
	Enqueue(ctx context.Context, req model.ProcessRequest) error
}

// ThumbnailGenerator renders the preview of a stored item.
type ThumbnailGenerator interface {
	Generate(ctx context.Context, item *model.MediaItem) error
}

// IngestRequest is one uploaded file. Size is what the client declared; the
// stored size is what was actually read from Body.
type IngestRequest struct {
	OwnerID     uuid.UUID `validate:"required"`
	Filename    string    `validate:"required,max=255"`
	ContentType string    `validate:"required"`
	Size        int64     `validate:"gte=0"`
	Body        io.Reader `validate:"required"`
}

// MediaService manages the lifecycle of an owner's media outside the
// pipeline: upload, lookup, deletion and reprocessing.
type MediaService struct {
	Repo       *repository.MediaRepository
	Store      storage.MediaStore
	Index      vector.Index
	Enqueuer   ProcessEnqueuer
	Thumbnails ThumbnailGenerator
	Config     cloud.Storage

	background sync.WaitGroup
}

// Ingest stores the upload, records a pending item and hands it to the
// pipeline. It returns as soon as the item is recorded; processing happens in
// the background.
func (s *MediaService) Ingest(ctx context.Context, req IngestRequest) (*model.MediaItem, error) {
	if req.OwnerID == uuid.Nil {
		return nil, apperr.Validation("owner is required")
	}
	req.Filename = filepath.Base(strings.TrimSpace(req.Filename))
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	maxBytes := s.Config.MaxUploadBytes
	if maxBytes > 0 && req.Size > maxBytes {
		return nil, apperr.Newf(apperr.CodePayloadTooLarge, "file exceeds %d bytes", maxBytes)
	}

	contentType, kind, err := s.classify(req.ContentType)
	if err != nil {
		return nil, err
	}

	body := bufio.NewReaderSize(req.Body, extract.SniffLen)
	head, err := body.Peek(extract.SniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, apperr.Wrap(apperr.CodeValidation, err, "could not read upload")
	}
	if len(head) == 0 {
		return nil, apperr.Validation("file is empty")
	}
	sniffed, ok := extract.Sniff(head)
	if !ok {
		return nil, apperr.New(apperr.CodeUnsupportedMedia, "file content is not a recognised image or video")
	}
	if sniffed.Kind != kind {
		return nil, apperr.Newf(apperr.CodeUnsupportedMedia, "declared %s but content is %s", contentType, sniffed.MIMEType).
			WithDetails(map[string]string{"declared": contentType, "detected": sniffed.MIMEType})
	}
	ext := sniffed.Extension
	if ext == "" {
		ext = storage.ExtOf(req.Filename)
	}

	item := model.NewMediaItem(req.OwnerID, req.Filename, kind, contentType, req.Size)
	counter := &countingReader{r: body, limit: maxBytes}
	ref, err := s.Store.Save(ctx, item.OwnerID, item.ID, counter, ext)
	if err != nil {
		if counter.exceeded {
			return nil, apperr.Newf(apperr.CodePayloadTooLarge, "file exceeds %d bytes", maxBytes)
		}
		return nil, err
	}
	item.StorageRef = ref
	item.SizeBytes = counter.n

	if err := s.Repo.Create(ctx, item); err != nil {
		if _, derr := s.Store.Delete(context.WithoutCancel(ctx), item.OwnerID, item.ID); derr != nil {
			slog.WarnContext(ctx, "failed to clean up upload", "item_id", item.ID, "error", derr)
		}
		return nil, err
	}
	slog.InfoContext(ctx, "media uploaded", "item_id", item.ID, "owner_id", item.OwnerID, "kind", item.Kind, "size", item.SizeBytes)

	s.enqueue(ctx, item)
	s.thumbnail(ctx, item)
	return item, nil
}

func (s *MediaService) classify(contentType string) (string, model.MediaKind, error) {
	ct, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", "", apperr.Newf(apperr.CodeUnsupportedMedia, "invalid content type %q", contentType)
	}
	switch {
	case slices.Contains(s.Config.ImageTypes, ct):
		return ct, model.KindImage, nil
	case slices.Contains(s.Config.VideoTypes, ct):
		return ct, model.KindVideo, nil
	}
	return "", "", apperr.Newf(apperr.CodeUnsupportedMedia, "content type %s is not accepted", ct).
		WithDetails(map[string][]string{"image": s.Config.ImageTypes, "video": s.Config.VideoTypes})
}

// enqueue is best effort; an item that never reaches the queue stays pending
// until recovery picks it up.
func (s *MediaService) enqueue(ctx context.Context, item *model.MediaItem) {
	if s.Enqueuer == nil {
		return
	}
	req := model.ProcessRequest{ItemID: item.ID, OwnerID: item.OwnerID, EnqueuedAt: time.Now().UTC()}
	if err := s.Enqueuer.Enqueue(ctx, req); err != nil {
		slog.WarnContext(ctx, "failed to enqueue media item", "item_id", item.ID, "error", err)
	}
}

func (s *MediaService) thumbnail(ctx context.Context, item *model.MediaItem) {
	if s.Thumbnails == nil {
		return
	}
	snapshot := *item
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), thumbnailTimeout)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer cancel()
		if err := s.Thumbnails.Generate(bg, &snapshot); err != nil {
			slog.WarnContext(bg, "thumbnail generation failed", "item_id", snapshot.ID, "error", err)
		}
	}()
}

// Wait blocks until background work started by Ingest has finished.
func (s *MediaService) Wait() {
	s.background.Wait()
}

func (s *MediaService) Get(ctx context.Context, owner, id uuid.UUID) (*model.MediaItem, error) {
	return s.Repo.GetOwned(ctx, owner, id)
}

// List returns a page of the owner's items, newest first, and the total
// number of matching items.
func (s *MediaService) List(ctx context.Context, filter model.ListFilter) ([]model.MediaItem, int64, error) {
	if filter.OwnerID == uuid.Nil {
		return nil, 0, apperr.Validation("owner is required")
	}
	if filter.Kind != "" && !filter.Kind.IsValid() {
		return nil, 0, apperr.Newf(apperr.CodeValidation, "unknown kind %q", filter.Kind)
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, 0, apperr.Newf(apperr.CodeValidation, "unknown status %q", filter.Status)
	}
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.Repo.List(ctx, filter)
}

// Delete removes the item, its index entry and its stored files. It reports
// false when the owner has no such item.
func (s *MediaService) Delete(ctx context.Context, owner, id uuid.UUID) (bool, error) {
	existed, err := s.Repo.Delete(ctx, owner, id)
	if err != nil || !existed {
		return false, err
	}
	if s.Index != nil {
		if err := s.Index.Remove(ctx, id); err != nil {
			slog.WarnContext(ctx, "failed to remove index entry", "item_id", id, "error", err)
		}
	}
	if _, err := s.Store.Delete(ctx, owner, id); err != nil {
		slog.WarnContext(ctx, "failed to delete stored files", "item_id", id, "error", err)
	}
	slog.InfoContext(ctx, "media deleted", "item_id", id, "owner_id", owner)
	return true, nil
}

// Reprocess sends a failed item through the pipeline again.
func (s *MediaService) Reprocess(ctx context.Context, owner, id uuid.UUID) (*model.MediaItem, error) {
	item, err := s.Repo.ResetForReprocess(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	s.enqueue(ctx, item)
	return item, nil
}

func (s *MediaService) Stats(ctx context.Context, owner uuid.UUID) (model.MediaStats, error) {
	return s.Repo.CountByStatus(ctx, owner)
}

// MediaURL returns a time limited link to the original, or to the thumbnail
// when thumbnail is set.
func (s *MediaService) MediaURL(ctx context.Context, owner, id uuid.UUID, thumbnail bool) (string, error) {
	item, err := s.Repo.GetOwned(ctx, owner, id)
	if err != nil {
		return "", err
	}
	ref := item.StorageRef
	if thumbnail {
		if item.ThumbnailRef == nil {
			return "", apperr.NotFound("thumbnail not available yet")
		}
		ref = *item.ThumbnailRef
	}
	ttl := time.Duration(s.Config.SignedURLTTL) * time.Minute
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return s.Store.URL(ctx, ref, ttl)
}

// countingReader counts bytes and fails once more than limit were read.
type countingReader struct {
	r        io.Reader
	limit    int64
	n        int64
	exceeded bool
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if c.limit > 0 && c.n > c.limit {
		c.exceeded = true
		return n, errors.New("upload exceeds size limit")
	}
	return n, err
}
