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

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-photo-search/internal/api"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/model"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/repository"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/services"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/storage"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/vector"
	"github.com/jaycherian/gcp-go-photo-search/internal/telemetry"
	test "github.com/jaycherian/gcp-go-photo-search/internal/testutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type apiFixture struct {
	repo     *repository.MediaRepository
	index    *vector.MemoryIndex
	embedder *test.StubEmbedder
	media    *services.MediaService
	router   *gin.Engine
	owner    uuid.UUID
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	config := test.GetConfig()
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	registry := prometheus.NewRegistry()

	f := &apiFixture{
		repo:     repository.NewMediaRepository(test.NewTestDB(t)),
		index:    vector.NewMemoryIndex(vector.MemoryOptions{Dimensions: model.EmbeddingDimensions}),
		embedder: &test.StubEmbedder{Vectors: map[string][]float32{}},
		owner:    uuid.New(),
	}
	f.media = &services.MediaService{Repo: f.repo, Store: store, Index: f.index, Config: config.Storage}
	search := &services.SearchService{
		Repo:     f.repo,
		Index:    f.index,
		Embedder: f.embedder,
		Metrics:  telemetry.NewSearchMetrics(registry),
		Config:   config.Search,
	}
	f.router = api.NewRouter("test", api.Services{
		Media:    f.media,
		Search:   search,
		Index:    &services.IndexService{Repo: f.repo, Index: f.index},
		Gatherer: registry,
	})
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.OwnerHeader, f.owner.String())
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) upload(t *testing.T, name, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, name))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(api.OwnerHeader, f.owner.String())
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) seed(t *testing.T, name string, v []float32) *model.MediaItem {
	t.Helper()
	return f.seedFor(t, f.owner, name, v)
}

func (f *apiFixture) seedFor(t *testing.T, owner uuid.UUID, name string, v []float32) *model.MediaItem {
	t.Helper()
	item := model.NewMediaItem(owner, name, model.KindImage, "image/jpeg", 10)
	item.StorageRef = owner.String() + "/" + item.ID.String() + "/original.jpg"
	require.NoError(t, f.repo.Create(ctx, item))
	version, err := f.repo.Transition(ctx, item.ID, model.StatusPending, model.StatusAnalyzing, item.Version)
	require.NoError(t, err)
	version, err = f.repo.SaveDescription(ctx, item.ID, version, "description of "+name)
	require.NoError(t, err)
	_, err = f.repo.Complete(ctx, item.ID, version, "description of "+name, v, model.EmbeddingDimensions)
	require.NoError(t, err)
	got, err := f.repo.Get(ctx, item.ID)
	require.NoError(t, err)
	require.NoError(t, f.index.Upsert(ctx, vector.EntryFromItem(got)))
	return got
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type errorEnvelope struct {
	Error api.ErrorBody `json:"error"`
}

func TestHealthAndMetrics(t *testing.T) {
	f := newAPIFixture(t)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	f.do(t, http.MethodPost, "/api/v1/search", model.SearchRequest{Query: "beach"})
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "search")
}

func TestOwnerHeaderIsRequired(t *testing.T) {
	f := newAPIFixture(t)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/uploads", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/uploads", nil)
	req.Header.Set(api.OwnerHeader, "not-a-uuid")
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", string(decode[errorEnvelope](t, rec).Error.Code))
}

func TestUploadListGetDelete(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.upload(t, "bike.jpg", "image/jpeg", test.JPEG(32, 24, color.RGBA{R: 200, A: 255}))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	item := decode[model.MediaItem](t, rec)
	assert.Equal(t, model.StatusPending, item.Status)
	assert.Equal(t, "bike.jpg", item.Filename)

	rec = f.do(t, http.MethodGet, "/api/v1/uploads", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Items []model.MediaItem `json:"items"`
		Total int64             `json:"total"`
	}](t, rec)
	assert.EqualValues(t, 1, list.Total)
	require.Len(t, list.Items, 1)
	assert.Equal(t, item.ID, list.Items[0].ID)

	rec = f.do(t, http.MethodGet, "/api/v1/uploads/"+item.ID.String(), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/uploads/"+item.ID.String()+"/url", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), item.ID.String())

	rec = f.do(t, http.MethodDelete, "/api/v1/uploads/"+item.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/uploads/"+item.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", string(decode[errorEnvelope](t, rec).Error.Code))

	rec = f.do(t, http.MethodDelete, "/api/v1/uploads/"+item.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadRejectsMismatchedContent(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.upload(t, "fake.mp4", "video/mp4", test.JPEG(8, 8, color.White))
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	rec = f.upload(t, "notes.txt", "text/plain", []byte("hello"))
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestUploadRequiresFileField(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/uploads", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReprocessRejectsItemsThatDidNotFail(t *testing.T) {
	f := newAPIFixture(t)
	item := f.seed(t, "done.jpg", test.UnitVector(0, 1))

	rec := f.do(t, http.MethodPost, "/api/v1/uploads/"+item.ID.String()+"/reprocess", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "STATE_CONFLICT", string(decode[errorEnvelope](t, rec).Error.Code))
}

func TestSearchEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	bike := f.seed(t, "bike.jpg", test.UnitVector(0, 1))
	f.seed(t, "cat.jpg", test.UnitVector(1, 1))
	f.embedder.Vectors["red bicycle"] = test.UnitVector(0, 1)

	rec := f.do(t, http.MethodPost, "/api/v1/search", model.SearchRequest{Query: "red bicycle", Limit: 5})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[model.SearchResponse](t, rec)
	assert.True(t, resp.QueryEmbeddingGenerated)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, bike.ID, resp.Results[0].Item.ID)
	assert.Equal(t, 1, resp.Results[0].Rank)
	assert.Equal(t, len(resp.Results), resp.ReturnedCount)

	rec = f.do(t, http.MethodPost, "/api/v1/search", model.SearchRequest{Query: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/search", model.SearchRequest{Query: "bike", Limit: 1000})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSimilarEndpointExcludesSelf(t *testing.T) {
	f := newAPIFixture(t)
	a := f.seed(t, "a.jpg", test.UnitVector(0, 1))
	near := make([]float32, model.EmbeddingDimensions)
	near[0], near[1] = 0.9, 0.1
	b := f.seed(t, "b.jpg", near)

	rec := f.do(t, http.MethodGet, "/api/v1/search/similar/"+a.ID.String()+"?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[model.SearchResponse](t, rec)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, b.ID, resp.Results[0].Item.ID)

	rec = f.do(t, http.MethodGet, "/api/v1/search/similar/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/search/similar/nope", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSimilarEndpointKeepsOtherOwnersPrivate(t *testing.T) {
	f := newAPIFixture(t)
	mine := f.seed(t, "mine.jpg", test.UnitVector(0, 1))
	f.seedFor(t, uuid.New(), "victim.jpg", test.UnitVector(0, 1))

	rec := f.do(t, http.MethodGet, "/api/v1/search/similar/"+mine.ID.String()+"?includeOtherOwners=true", nil)
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
	assert.Equal(t, "FORBIDDEN", string(decode[errorEnvelope](t, rec).Error.Code))
	assert.NotContains(t, rec.Body.String(), "victim.jpg")

	rec = f.do(t, http.MethodGet, "/api/v1/search/similar/"+mine.ID.String()+"?excludeSameOwner=true", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/search/similar/"+mine.ID.String()+"?threshold=0", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, decode[model.SearchResponse](t, rec).Results)
}

func TestBatchAndSuggestions(t *testing.T) {
	f := newAPIFixture(t)
	f.seed(t, "a.jpg", test.UnitVector(0, 1))

	rec := f.do(t, http.MethodPost, "/api/v1/search/batch", model.BatchSearchRequest{Queries: []string{"dogs", "cats"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[model.BatchSearchResponse](t, rec)
	assert.Len(t, resp.Results, 2)
	assert.Empty(t, resp.Errors)

	rec = f.do(t, http.MethodPost, "/api/v1/search/batch", model.BatchSearchRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/search/suggestions?q=sun&limit=3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	suggestions := decode[struct {
		Suggestions []string `json:"suggestions"`
	}](t, rec)
	assert.LessOrEqual(t, len(suggestions.Suggestions), 3)
	assert.NotEmpty(t, suggestions.Suggestions)
}

func TestStatsAndRebuild(t *testing.T) {
	f := newAPIFixture(t)
	f.seed(t, "a.jpg", test.UnitVector(0, 1))
	f.seed(t, "b.jpg", test.UnitVector(1, 1))

	rec := f.do(t, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[struct {
		Media model.MediaStats `json:"media"`
		Index vector.Stats     `json:"index"`
	}](t, rec)
	assert.EqualValues(t, 2, stats.Media.Total)
	assert.EqualValues(t, 2, stats.Media.ByStatus[model.StatusCompleted])
	assert.Equal(t, 2, stats.Index.Entries)

	rec = f.do(t, http.MethodPost, "/api/v1/admin/index/rebuild", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[vector.Stats](t, rec).Entries)
}
