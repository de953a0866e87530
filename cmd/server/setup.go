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

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jaycherian/gcp-go-photo-search/internal/cloud"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/extract"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/model"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/providers"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/queue"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/repository"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/services"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/storage"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/vector"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/workflow"
	"github.com/jaycherian/gcp-go-photo-search/internal/migrate"
	"github.com/jaycherian/gcp-go-photo-search/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"
)

// StateManager holds every long lived dependency of the server.
type StateManager struct {
	config   *cloud.Config
	cloud    *cloud.ServiceClients
	db       *gorm.DB
	registry *prometheus.Registry

	repo        *repository.MediaRepository
	store       storage.MediaStore
	index       vector.Index
	queue       queue.Queue
	extractPool *extract.Pool

	processing *workflow.MediaProcessingWorkflow
	recovery   *workflow.MediaRecoveryWorkflow

	searchService *services.SearchService
	mediaService  *services.MediaService
	indexService  *services.IndexService
}

var state = &StateManager{}

// SetupOS points the config loader at ./configs and the local runtime unless
// the environment already chose otherwise.
func SetupOS() error {
	if _, ok := os.LookupEnv(cloud.EnvConfigFilePrefix); !ok {
		if err := os.Setenv(cloud.EnvConfigFilePrefix, "configs"); err != nil {
			return err
		}
	}
	if _, ok := os.LookupEnv(cloud.EnvConfigRuntime); !ok {
		return os.Setenv(cloud.EnvConfigRuntime, "local")
	}
	return nil
}

// GetConfig loads and validates the configuration once.
func GetConfig() (*cloud.Config, error) {
	if state.config != nil {
		return state.config, nil
	}
	if err := SetupOS(); err != nil {
		return nil, fmt.Errorf("setup os: %w", err)
	}
	config, err := cloud.LoadAll()
	if err != nil {
		return nil, err
	}
	state.config = config
	return config, nil
}

// InitState opens every client and builds the services and workflows. It
// does not start background work; see SetupListeners.
func InitState(ctx context.Context) (err error) {
	config, err := GetConfig()
	if err != nil {
		return err
	}

	if state.cloud, err = cloud.NewCloudServiceClients(ctx, config); err != nil {
		return err
	}

	if state.db, err = cloud.OpenDatabase(ctx, config.Database); err != nil {
		return err
	}
	if config.Database.AutoMigrate {
		if err := migrate.Up(ctx, state.db); err != nil {
			return err
		}
		if version, err := migrate.Version(ctx, state.db); err == nil {
			slog.InfoContext(ctx, "database migrated", "version", version)
		}
	}
	state.repo = repository.NewMediaRepository(state.db)

	if state.store, err = newStore(ctx, config, state.cloud); err != nil {
		return err
	}
	state.index = newIndex(config, state.db)
	if state.queue, err = newQueue(config, state.cloud); err != nil {
		return err
	}

	state.registry = prometheus.NewRegistry()
	state.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	dims := model.EmbeddingDimensions
	embeddingModel := config.EmbeddingModels[cloud.EmbeddingModelKey]
	describer := providers.NewGeminiDescriber(state.cloud.AgentModels[cloud.DescriptionModelKey])
	documentEmbedder := providers.NewGenAIEmbedder(state.cloud.EmbeddingModels[cloud.EmbeddingModelKey], providers.TaskRetrievalDocument)

	var queryEmbedder providers.EmbeddingGenerator = providers.NewGenAIEmbedder(state.cloud.EmbeddingModels[cloud.EmbeddingModelKey], providers.TaskRetrievalQuery)
	if state.cloud.RedisClient != nil {
		queryEmbedder = &providers.CachedEmbedder{
			Inner:     queryEmbedder,
			Cache:     providers.NewRedisEmbeddingCache(state.cloud.RedisClient, "query-embedding"),
			TTL:       time.Duration(config.Cache.TTLMinutes) * time.Minute,
			Namespace: embeddingModel.Model,
		}
	}

	state.extractPool = extract.NewPool(config.Pipeline.ExtractorWorkers, config.Pipeline.QueueDepth)
	extractor := extract.NewExtractor(state.extractPool, config.Pipeline.FfmpegPath, config.Pipeline.ThumbnailSize)

	state.processing, err = workflow.NewMediaProcessingWorkflow(config, workflow.ProcessingDeps{
		Repo:      state.repo,
		Store:     state.store,
		Frames:    extractor,
		Describer: describer,
		Embedder:  documentEmbedder,
		Index:     state.index,
		BigQuery:  state.cloud.BiqQueryClient,
		Metrics:   telemetry.NewPipelineMetrics(state.registry),
	})
	if err != nil {
		return err
	}

	enqueuer := queue.NewEnqueuer(state.queue)
	state.recovery = workflow.NewMediaRecoveryWorkflow(config, state.repo, enqueuer)
	thumbnails := workflow.NewMediaThumbnailWorkflow(config, extractor, state.store, state.repo)

	state.mediaService = &services.MediaService{
		Repo:       state.repo,
		Store:      state.store,
		Index:      state.index,
		Enqueuer:   enqueuer,
		Thumbnails: thumbnails,
		Config:     config.Storage,
	}
	state.searchService = &services.SearchService{
		Repo:     state.repo,
		Index:    state.index,
		Embedder: providers.GuardEmbedder(queryEmbedder, dims, embeddingModel.MaxInputChars, embeddingModel.Timeout()),
		Metrics:  telemetry.NewSearchMetrics(state.registry),
		Config:   config.Search,
	}
	state.indexService = &services.IndexService{Repo: state.repo, Index: state.index}
	return nil
}

func newStore(ctx context.Context, config *cloud.Config, clients *cloud.ServiceClients) (storage.MediaStore, error) {
	switch config.Storage.Backend {
	case cloud.StorageGCS:
		return storage.NewGCSStore(clients.StorageClient, config.Storage.Bucket, clients.IAMClient, config.Application.SignerServiceAccountEmail), nil
	case cloud.StorageMinio:
		client, err := storage.NewMinioClient(config.Storage.MinioEndpoint, config.Storage.MinioAccessKey, config.Storage.MinioSecretKey, config.Storage.MinioUseSSL)
		if err != nil {
			return nil, err
		}
		return storage.NewMinioStore(ctx, client, config.Storage.Bucket)
	default:
		return storage.NewLocalStore(config.Storage.LocalPath)
	}
}

func newIndex(config *cloud.Config, db *gorm.DB) vector.Index {
	if config.Search.Index == cloud.IndexPgVector {
		return vector.NewPgVectorIndex(db, vector.PgVectorOptions{
			Dimensions:     model.EmbeddingDimensions,
			M:              config.Search.HnswM,
			EfConstruction: config.Search.HnswEfConstruction,
			EfSearch:       config.Search.HnswEfSearch,
		})
	}
	return vector.NewMemoryIndex(vector.MemoryOptions{
		Dimensions:   model.EmbeddingDimensions,
		MinTrainSize: config.Search.MinTrainSize,
		M:            config.Search.HnswM,
		EfSearch:     config.Search.HnswEfSearch,
		Oversample:   config.Search.OversamplingFactor,
	})
}

func newQueue(config *cloud.Config, clients *cloud.ServiceClients) (queue.Queue, error) {
	switch config.Queue.Transport {
	case cloud.QueuePubSub:
		listener, ok := clients.PubSubListeners[cloud.ProcessTopicKey]
		if !ok {
			return nil, fmt.Errorf("no pubsub listener for %q", cloud.ProcessTopicKey)
		}
		return queue.NewPubSubQueue(clients.PubsubClient, config.TopicSubscriptions[cloud.ProcessTopicKey], listener, config.Pipeline.Workers), nil
	case cloud.QueueRabbitMQ:
		return queue.NewRabbitQueue(config.Queue.RabbitMQURL, config.Queue.RabbitQueue, config.Pipeline.Workers)
	default:
		return queue.NewMemoryQueue(config.Pipeline.QueueDepth, config.Pipeline.Workers), nil
	}
}

// Close releases resources in reverse order of creation. Background work must
// have stopped before it is called.
func (s *StateManager) Close() error {
	var errs []error
	if s.mediaService != nil {
		s.mediaService.Wait()
	}
	if s.queue != nil {
		errs = append(errs, s.queue.Close())
	}
	if s.extractPool != nil {
		s.extractPool.Close()
	}
	if s.cloud != nil {
		errs = append(errs, s.cloud.Close())
	}
	if s.db != nil {
		if sqlDB, err := s.db.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
