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

package services_test

import (
	"bytes"
	"context"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/apperr"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/model"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/repository"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/services"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/storage"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/vector"
	test "github.com/jaycherian/gcp-go-photo-search/internal/testutil"
	"github.com/zeebo/assert"
)

type recordingEnqueuer struct {
	mu   sync.Mutex
	reqs []model.ProcessRequest
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, req model.ProcessRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return nil
}

func (r *recordingEnqueuer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reqs)
}

type recordingThumbnails struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (r *recordingThumbnails) Generate(_ context.Context, item *model.MediaItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, item.ID)
	return nil
}

type mediaFixture struct {
	repo     *repository.MediaRepository
	store    *storage.LocalStore
	index    *vector.MemoryIndex
	enqueuer *recordingEnqueuer
	thumbs   *recordingThumbnails
	svc      *services.MediaService
	owner    uuid.UUID
}

func newMediaFixture(t *testing.T) *mediaFixture {
	t.Helper()
	store, err := storage.NewLocalStore(t.TempDir())
	assert.NoError(t, err)
	f := &mediaFixture{
		repo:     repository.NewMediaRepository(test.NewTestDB(t)),
		store:    store,
		index:    vector.NewMemoryIndex(vector.MemoryOptions{Dimensions: model.EmbeddingDimensions}),
		enqueuer: &recordingEnqueuer{},
		thumbs:   &recordingThumbnails{},
		owner:    uuid.New(),
	}
	f.svc = &services.MediaService{
		Repo:       f.repo,
		Store:      store,
		Index:      f.index,
		Enqueuer:   f.enqueuer,
		Thumbnails: f.thumbs,
		Config:     test.GetConfig().Storage,
	}
	t.Cleanup(f.svc.Wait)
	return f
}

func (f *mediaFixture) ingestJPEG(t *testing.T, name string) *model.MediaItem {
	t.Helper()
	data := test.JPEG(40, 30, color.RGBA{G: 180, A: 255})
	item, err := f.svc.Ingest(ctx, services.IngestRequest{
		OwnerID:     f.owner,
		Filename:    name,
		ContentType: "image/jpeg",
		Size:        int64(len(data)),
		Body:        bytes.NewReader(data),
	})
	assert.NoError(t, err)
	return item
}

func TestIngestStoresAndEnqueues(t *testing.T) {
	f := newMediaFixture(t)
	item := f.ingestJPEG(t, "../holiday.jpg")

	assert.Equal(t, model.StatusPending, item.Status)
	assert.Equal(t, model.KindImage, item.Kind)
	assert.Equal(t, "holiday.jpg", item.Filename)
	assert.That(t, item.SizeBytes > 0)

	stored, err := f.repo.Get(ctx, item.ID)
	assert.NoError(t, err)
	assert.Equal(t, item.StorageRef, stored.StorageRef)

	_, err = os.Stat(filepath.Join(f.store.Root(), filepath.FromSlash(item.StorageRef)))
	assert.NoError(t, err)

	assert.Equal(t, 1, f.enqueuer.count())
	f.svc.Wait()
	assert.Equal(t, 1, len(f.thumbs.ids))
	assert.Equal(t, item.ID, f.thumbs.ids[0])
}

func TestIngestRejectsMismatchedContent(t *testing.T) {
	f := newMediaFixture(t)
	data := test.JPEG(8, 8, color.White)
	_, err := f.svc.Ingest(ctx, services.IngestRequest{
		OwnerID: f.owner, Filename: "clip.mp4", ContentType: "video/mp4",
		Size: int64(len(data)), Body: bytes.NewReader(data),
	})
	assert.That(t, apperr.IsCode(err, apperr.CodeUnsupportedMedia))

	_, err = f.svc.Ingest(ctx, services.IngestRequest{
		OwnerID: f.owner, Filename: "notes.txt", ContentType: "text/plain",
		Size: 5, Body: strings.NewReader("hello"),
	})
	assert.That(t, apperr.IsCode(err, apperr.CodeUnsupportedMedia))
	assert.Equal(t, 0, f.enqueuer.count())
}

func TestIngestEnforcesSizeLimit(t *testing.T) {
	f := newMediaFixture(t)
	f.svc.Config.MaxUploadBytes = 100
	data := test.JPEG(64, 64, color.Black)

	// Declared size over the limit.
	_, err := f.svc.Ingest(ctx, services.IngestRequest{
		OwnerID: f.owner, Filename: "big.jpg", ContentType: "image/jpeg",
		Size: int64(len(data)), Body: bytes.NewReader(data),
	})
	assert.That(t, apperr.IsCode(err, apperr.CodePayloadTooLarge))

	// Undeclared size, caught while streaming; nothing is left behind.
	_, err = f.svc.Ingest(ctx, services.IngestRequest{
		OwnerID: f.owner, Filename: "big.jpg", ContentType: "image/jpeg",
		Body: bytes.NewReader(data),
	})
	assert.That(t, apperr.IsCode(err, apperr.CodePayloadTooLarge))

	items, total, err := f.svc.List(ctx, model.ListFilter{OwnerID: f.owner})
	assert.NoError(t, err)
	assert.Equal(t, int64(0), total)
	assert.Equal(t, 0, len(items))
	files, err := filepath.Glob(filepath.Join(f.store.Root(), "*", "*", "*"))
	assert.NoError(t, err)
	assert.Equal(t, 0, len(files))
}

func TestDeleteRemovesEverything(t *testing.T) {
	f := newMediaFixture(t)
	item := f.ingestJPEG(t, "gone.jpg")
	f.svc.Wait()
	assert.NoError(t, f.index.Upsert(ctx, vector.Entry{
		ID: item.ID, OwnerID: f.owner, Status: model.StatusCompleted, Kind: model.KindImage,
		Vector: test.UnitVector(0, 1),
	}))

	// Someone else cannot delete it.
	existed, err := f.svc.Delete(ctx, uuid.New(), item.ID)
	assert.NoError(t, err)
	assert.That(t, !existed)

	existed, err = f.svc.Delete(ctx, f.owner, item.ID)
	assert.NoError(t, err)
	assert.That(t, existed)
	assert.Equal(t, 0, f.index.Stats(ctx).Entries)

	_, err = f.repo.Get(ctx, item.ID)
	assert.That(t, apperr.IsCode(err, apperr.CodeNotFound))
	_, _, err = f.store.ReadOriginal(ctx, f.owner, item.ID)
	assert.Error(t, err)

	existed, err = f.svc.Delete(ctx, f.owner, item.ID)
	assert.NoError(t, err)
	assert.That(t, !existed)
}

func TestReprocessOnlyFailedItems(t *testing.T) {
	f := newMediaFixture(t)
	item := f.ingestJPEG(t, "retry.jpg")

	_, err := f.svc.Reprocess(ctx, f.owner, item.ID)
	assert.That(t, apperr.IsCode(err, apperr.CodeStateConflict))

	_, err = f.repo.Transition(ctx, item.ID, model.StatusPending, model.StatusAnalyzing, item.Version)
	assert.NoError(t, err)
	_, err = f.repo.MarkFailed(ctx, item.ID, "generate-description: timeout")
	assert.NoError(t, err)

	reset, err := f.svc.Reprocess(ctx, f.owner, item.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.StatusPending, reset.Status)
	assert.That(t, reset.ErrorDetail == nil)
	assert.Equal(t, 2, f.enqueuer.count())
}

func TestMediaURLAndStats(t *testing.T) {
	f := newMediaFixture(t)
	item := f.ingestJPEG(t, "link.jpg")

	url, err := f.svc.MediaURL(ctx, f.owner, item.ID, false)
	assert.NoError(t, err)
	assert.That(t, strings.HasPrefix(url, "file://"))

	_, err = f.svc.MediaURL(ctx, f.owner, item.ID, true)
	assert.That(t, apperr.IsCode(err, apperr.CodeNotFound))

	stats, err := f.svc.Stats(ctx, f.owner)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, int64(1), stats.ByStatus[model.StatusPending])
}

func TestIndexServiceWarmLoadsCompletedItems(t *testing.T) {
	sf := newSearchFixture(t)
	sf.seed(t, sf.owner, "a.jpg", model.KindImage, vec(1, 0), time.Now())
	sf.seed(t, sf.owner, "b.jpg", model.KindImage, vec(0, 1), time.Now())

	fresh := vector.NewMemoryIndex(vector.MemoryOptions{Dimensions: model.EmbeddingDimensions, MinTrainSize: 2})
	svc := &services.IndexService{Repo: sf.repo, Index: fresh}
	n, err := svc.Warm(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 2, n)

	stats := svc.Stats(ctx)
	assert.Equal(t, 2, stats.Entries)
	assert.That(t, stats.Trained)

	stats, err = svc.Rebuild(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 2, stats.GraphSize)
}
