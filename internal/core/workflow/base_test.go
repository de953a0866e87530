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

package workflow_test

import (
	"bytes"
	"context"
	"image/color"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-photo-search/internal/cloud"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/model"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/providers"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/repository"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/storage"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/vector"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/workflow"
	"github.com/jaycherian/gcp-go-photo-search/internal/telemetry"
	test "github.com/jaycherian/gcp-go-photo-search/internal/testutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const tName = "photo-search-workflow-test"

var (
	ctx    context.Context
	logger = otelslog.NewLogger(tName)
)

func TestMain(m *testing.M) {
	var cancel context.CancelFunc
	ctx, cancel = context.WithCancel(context.Background())
	closer, err := telemetry.SetupLogging("error", "")
	if err != nil {
		panic(err)
	}
	exitCode := m.Run()
	logger.InfoContext(ctx, "workflow tests finished", "exit_code", exitCode)
	_ = closer.Close()
	cancel()
	os.Exit(exitCode)
}

// fakeFrames returns n solid frames without running ffmpeg.
type fakeFrames struct {
	n int
}

func (f fakeFrames) Frames(_ context.Context, _ string, max int) ([][]byte, error) {
	n := f.n
	if n > max {
		n = max
	}
	out := make([][]byte, n)
	for i := range out {
		out[i] = test.JPEG(32, 32, color.Gray{Y: uint8(i * 20)})
	}
	return out, nil
}

// harness wires a processing workflow to sqlite, a local store and stubs.
type harness struct {
	config    *cloud.Config
	repo      *repository.MediaRepository
	store     *storage.LocalStore
	index     *vector.MemoryIndex
	describer *test.StubDescriber
	embedder  *test.StubEmbedder
	metrics   *telemetry.PipelineMetrics
	owner     uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := *test.GetConfig()
	cfg.Pipeline.ProviderConcurrency = 3
	cfg.Pipeline.MaxFrames = 10
	cfg.Pipeline.FramesPerCall = 5
	cfg.Pipeline.ErrorDetailLimit = 500
	cfg.BigQueryDataSource.Enabled = false

	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return &harness{
		config:    &cfg,
		repo:      repository.NewMediaRepository(test.NewTestDB(t)),
		store:     store,
		index:     vector.NewMemoryIndex(vector.MemoryOptions{Dimensions: model.EmbeddingDimensions}),
		describer: &test.StubDescriber{Text: "A red bicycle leaning against a brick wall."},
		embedder:  &test.StubEmbedder{},
		metrics:   telemetry.NewPipelineMetrics(prometheus.NewRegistry()),
		owner:     uuid.New(),
	}
}

func (h *harness) deps() workflow.ProcessingDeps {
	return workflow.ProcessingDeps{
		Repo:      h.repo,
		Store:     h.store,
		Frames:    fakeFrames{n: 10},
		Describer: providers.GuardDescriber(h.describer, 2*time.Second),
		Embedder:  providers.GuardEmbedder(h.embedder, model.EmbeddingDimensions, 1000, 2*time.Second),
		Index:     h.index,
		Metrics:   h.metrics,
	}
}

func (h *harness) workflow(t *testing.T, deps workflow.ProcessingDeps) *workflow.MediaProcessingWorkflow {
	t.Helper()
	wf, err := workflow.NewMediaProcessingWorkflow(h.config, deps)
	require.NoError(t, err)
	return wf
}

// upload stores a file and creates its pending row.
func (h *harness) upload(t *testing.T, filename string, kind model.MediaKind) *model.MediaItem {
	t.Helper()
	contentType, ext := "image/jpeg", "jpg"
	if kind == model.KindVideo {
		contentType, ext = "video/mp4", "mp4"
	}
	item := model.NewMediaItem(h.owner, filename, kind, contentType, 0)
	data := test.JPEG(64, 48, color.RGBA{R: 200, A: 255})
	ref, err := h.store.Save(ctx, h.owner, item.ID, bytes.NewReader(data), ext)
	require.NoError(t, err)
	item.StorageRef = ref
	item.SizeBytes = int64(len(data))
	require.NoError(t, h.repo.Create(ctx, item))
	return item
}

func (h *harness) request(item *model.MediaItem) model.ProcessRequest {
	return model.ProcessRequest{ItemID: item.ID, OwnerID: item.OwnerID, EnqueuedAt: time.Now().UTC()}
}

func (h *harness) reload(t *testing.T, id uuid.UUID) *model.MediaItem {
	t.Helper()
	item, err := h.repo.Get(ctx, id)
	require.NoError(t, err)
	return item
}

// requireSettled checks the invariants every settled item must hold.
func requireSettled(t *testing.T, item *model.MediaItem) {
	t.Helper()
	require.Equal(t, item.Status == model.StatusCompleted, item.Embedding != nil,
		"embedding must exist exactly when the item is completed (status %s)", item.Status)
	if item.Embedding != nil {
		require.NotNil(t, item.Description)
		require.Len(t, item.EmbeddingSlice(), model.EmbeddingDimensions)
	}
}
