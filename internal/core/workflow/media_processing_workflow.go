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

// Package workflow strings the commands into the application's pipelines:
// processing an uploaded item into a searchable one, rendering previews, and
// the periodic recovery of work that was never picked up.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-photo-search/internal/cloud"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/commands"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/cor"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/model"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/providers"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/repository"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/storage"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/vector"
	"github.com/jaycherian/gcp-go-photo-search/internal/telemetry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// failureWriteTimeout bounds recording a failure after the item's own
// context has ended.
const failureWriteTimeout = 10 * time.Second

// ProcessingDeps are the collaborators of the processing pipeline. Describer
// and Embedder are wrapped in the provider guards unless they already are.
type ProcessingDeps struct {
	Repo      *repository.MediaRepository
	Store     storage.MediaStore
	Frames    commands.FrameSampler
	Describer providers.DescriptionGenerator
	Embedder  providers.EmbeddingGenerator
	Index     vector.Index
	BigQuery  *bigquery.Client
	Metrics   *telemetry.PipelineMetrics
}

// MediaProcessingWorkflow takes one pending item to completed or failed.
//
// It is safe for concurrent use: every queue worker shares one instance, and
// so one provider gate. An item whose chain fails is marked failed on its own;
// other items in flight are unaffected.
type MediaProcessingWorkflow struct {
	cor.BaseCommand
	chain    cor.Chain
	failures *FailureHandler
	metrics  *telemetry.PipelineMetrics
}

func NewMediaProcessingWorkflow(config *cloud.Config, deps ProcessingDeps) (*MediaProcessingWorkflow, error) {
	imagePrompt, videoPrompt, err := commands.ParsePrompts(config.PromptTemplates.ImagePrompt, config.PromptTemplates.VideoPrompt)
	if err != nil {
		return nil, err
	}

	describer := deps.Describer
	if _, ok := describer.(*providers.GuardedDescriber); !ok {
		describer = providers.GuardDescriber(describer, config.AgentModels[cloud.DescriptionModelKey].Timeout())
	}
	embedder := deps.Embedder
	if _, ok := embedder.(*providers.GuardedEmbedder); !ok {
		em := config.EmbeddingModels[cloud.EmbeddingModelKey]
		dims := em.Dimensions
		if dims <= 0 {
			dims = model.EmbeddingDimensions
		}
		embedder = providers.GuardEmbedder(embedder, dims, em.MaxInputChars, em.Timeout())
	}

	gateSize := int64(config.Pipeline.ProviderConcurrency)
	if gateSize <= 0 {
		gateSize = 1
	}
	gate := semaphore.NewWeighted(gateSize)

	out := &MediaProcessingWorkflow{
		BaseCommand: *cor.NewBaseCommand("media-processing-workflow"),
		failures:    NewFailureHandler(deps.Repo, config.Pipeline.ErrorDetailLimit),
		metrics:     deps.Metrics,
	}

	chain := cor.NewBaseChain(out.GetName())
	chain.AddCommand(commands.NewProcessRequestReader("read-process-request"))
	chain.AddCommand(commands.NewMediaClaim("claim-media", deps.Repo))
	chain.AddCommand(commands.NewMediaToTempFile("media-to-temp-file", deps.Store, "process-"))
	chain.AddCommand(commands.NewTimed(
		commands.NewFrameExtractor("extract-frames", deps.Frames, deps.Repo, config.Pipeline.MaxFrames), deps.Metrics))
	chain.AddCommand(commands.NewTimed(commands.NewGated(
		commands.NewMediaDescriber("generate-description", describer, imagePrompt, videoPrompt, config.Pipeline.FramesPerCall),
		gate, deps.Metrics), deps.Metrics))
	chain.AddCommand(commands.NewDescriptionPersist("persist-description", deps.Repo))
	chain.AddCommand(commands.NewTimed(commands.NewGated(
		commands.NewDescriptionEmbedder("generate-embedding", embedder),
		gate, deps.Metrics), deps.Metrics))
	chain.AddCommand(commands.NewMediaComplete("complete-media", deps.Repo, deps.Index, embedder.Dimensions()))
	if config.BigQueryDataSource.Enabled {
		chain.AddCommand(commands.NewMediaExportToBigQuery("export-to-bigquery", deps.BigQuery,
			config.BigQueryDataSource.DatasetName, config.BigQueryDataSource.MediaTable))
	}
	out.chain = chain
	return out, nil
}

func (m *MediaProcessingWorkflow) IsExecutable(context cor.Context) bool {
	return context != nil && context.GetContext() != nil
}

// Execute runs the chain and settles the item. Failures are recorded on the
// item; the context only asks for redelivery when that was impossible.
func (m *MediaProcessingWorkflow) Execute(context cor.Context) {
	start := time.Now()
	m.chain.Execute(context)
	m.metrics.ObserveStage(m.GetName(), time.Since(start))

	item := commands.ItemFrom(context)
	switch {
	case !context.HasErrors():
		m.metrics.CountItem(telemetry.OutcomeCompleted)
	case commands.Skipped(context):
		m.metrics.CountItem(telemetry.OutcomeSkipped)
	case item == nil:
		// Nothing was claimed, so there is nothing to mark.
		if cor.RetryRequested(context) {
			m.metrics.CountItem(telemetry.OutcomeRetried)
		} else {
			m.metrics.CountItem(telemetry.OutcomeSkipped)
		}
	default:
		m.settleFailure(context, item)
	}
}

func (m *MediaProcessingWorkflow) settleFailure(context cor.Context, item *model.MediaItem) {
	ctx, cancel := goContextWithoutCancel(context.GetContext(), failureWriteTimeout)
	defer cancel()

	if _, err := m.failures.Fail(ctx, item.ID, context.Err()); err != nil {
		slog.ErrorContext(ctx, "could not record media failure", "item_id", item.ID, "error", err)
		context.Add(cor.CtxRetry, true)
		m.metrics.CountItem(telemetry.OutcomeRetried)
		return
	}
	item.Status = model.StatusFailed
	m.metrics.CountItem(telemetry.OutcomeFailed)
}

// Process runs one request to the end and returns the chain's error, if any.
func (m *MediaProcessingWorkflow) Process(ctx context.Context, req model.ProcessRequest) error {
	chainCtx := cor.NewContextWithInput(ctx, &req)
	defer chainCtx.Close()
	m.Execute(chainCtx)
	return chainCtx.Err()
}

// ProcessBatch processes requests with at most concurrency in flight. Each
// request succeeds or fails on its own; the result holds the error of every
// request that failed, keyed by item.
func (m *MediaProcessingWorkflow) ProcessBatch(ctx context.Context, reqs []model.ProcessRequest, concurrency int) map[uuid.UUID]error {
	if concurrency <= 0 {
		concurrency = 1
	}
	var (
		mu     sync.Mutex
		failed = make(map[uuid.UUID]error)
		g      errgroup.Group
	)
	g.SetLimit(concurrency)
	for _, req := range reqs {
		g.Go(func() error {
			if err := m.Process(ctx, req); err != nil {
				mu.Lock()
				failed[req.ItemID] = fmt.Errorf("item %s: %w", req.ItemID, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return failed
}

func goContextWithoutCancel(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), timeout)
}
