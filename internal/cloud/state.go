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

// Package cloud holds configuration and the clients for the external
// services the application talks to. ServiceClients is created once at
// startup and shared by the services, workflows and listeners.
package cloud

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/bigquery"
	credentials "cloud.google.com/go/iam/credentials/apiv1"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"google.golang.org/genai"
)

// ServiceClients is the set of clients the configuration asks for. Clients
// for services that are not configured stay nil.
type ServiceClients struct {
	StorageClient   *storage.Client                   // GCS, when storage.backend = gcs.
	PubsubClient    *pubsub.Client                    // when queue.transport = pubsub.
	GenAIClient     *genai.Client                     // Vertex AI, when a project is configured.
	BiqQueryClient  *bigquery.Client                  // when big_query_data_source.enabled.
	IAMClient       *credentials.IamCredentialsClient // signs GCS URLs for a service account.
	RedisClient     *redis.Client                     // embedding cache, when cache.redis_addr is set.
	PubSubListeners map[string]*PubSubListener
	EmbeddingModels map[string]*QuotaAwareEmbeddingModel
	AgentModels     map[string]*QuotaAwareGenerativeAIModel
}

// Close releases every client that was opened.
func (c *ServiceClients) Close() error {
	var err error
	if c.StorageClient != nil {
		err = multierr.Append(err, c.StorageClient.Close())
	}
	if c.PubsubClient != nil {
		err = multierr.Append(err, c.PubsubClient.Close())
	}
	if c.BiqQueryClient != nil {
		err = multierr.Append(err, c.BiqQueryClient.Close())
	}
	if c.IAMClient != nil {
		err = multierr.Append(err, c.IAMClient.Close())
	}
	if c.RedisClient != nil {
		err = multierr.Append(err, c.RedisClient.Close())
	}
	return err
}

// NewCloudServiceClients opens the clients required by config. On error the
// clients opened so far are closed.
func NewCloudServiceClients(ctx context.Context, config *Config) (cloud *ServiceClients, err error) {
	cloud = &ServiceClients{
		PubSubListeners: make(map[string]*PubSubListener),
		EmbeddingModels: make(map[string]*QuotaAwareEmbeddingModel),
		AgentModels:     make(map[string]*QuotaAwareGenerativeAIModel),
	}
	defer func() {
		if err != nil {
			_ = cloud.Close()
			cloud = nil
		}
	}()
	projectID := config.Application.GoogleProjectId

	if config.Storage.Backend == StorageGCS {
		if cloud.StorageClient, err = storage.NewClient(ctx); err != nil {
			return cloud, fmt.Errorf("storage client: %w", err)
		}
		if config.Application.SignerServiceAccountEmail != "" {
			if cloud.IAMClient, err = credentials.NewIamCredentialsClient(ctx); err != nil {
				return cloud, fmt.Errorf("iam credentials client: %w", err)
			}
		}
	}

	if config.Queue.Transport == QueuePubSub {
		if cloud.PubsubClient, err = pubsub.NewClient(ctx, projectID); err != nil {
			return cloud, fmt.Errorf("pubsub client: %w", err)
		}
		// The command is attached later, when the workflows exist.
		for key, values := range config.TopicSubscriptions {
			listener, err := NewPubSubListener(cloud.PubsubClient, values.Name, nil)
			if err != nil {
				return cloud, err
			}
			cloud.PubSubListeners[key] = listener
		}
	}

	if config.BigQueryDataSource.Enabled {
		if cloud.BiqQueryClient, err = bigquery.NewClient(ctx, projectID); err != nil {
			return cloud, fmt.Errorf("bigquery client: %w", err)
		}
	}

	if config.Cache.RedisAddr != "" {
		cloud.RedisClient = redis.NewClient(&redis.Options{
			Addr:     config.Cache.RedisAddr,
			Password: config.Cache.RedisPassword,
			DB:       config.Cache.RedisDB,
		})
		if err = cloud.RedisClient.Ping(ctx).Err(); err != nil {
			return cloud, fmt.Errorf("redis ping %s: %w", config.Cache.RedisAddr, err)
		}
	}

	if projectID == "" {
		slog.WarnContext(ctx, "no google project configured; description and embedding models are disabled")
		return cloud, nil
	}
	cloud.GenAIClient, err = genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: config.Application.GoogleLocation,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return cloud, fmt.Errorf("genai client: %w", err)
	}

	for key, values := range config.EmbeddingModels {
		cloud.EmbeddingModels[key] = NewQuotaAwareEmbeddingModel(values.Model, cloud.GenAIClient.Models, values.Dimensions, values.MaxRequestsPerMinute)
	}

	// Every agent model gets its generation settings and a client side rate
	// limit.
	for key, values := range config.AgentModels {
		generation := &genai.GenerateContentConfig{
			Temperature:       genai.Ptr[float32](values.Temperature),
			TopP:              genai.Ptr[float32](values.TopP),
			TopK:              genai.Ptr[float32](values.TopK),
			MaxOutputTokens:   values.MaxTokens,
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: values.SystemInstructions}}},
			SafetySettings:    DefaultSafetySettings,
			ResponseMIMEType:  values.OutputFormat,
		}
		cloud.AgentModels[key] = NewQuotaAwareModel(generation, values.Model, cloud.GenAIClient.Models, values.RateLimit)
	}
	slog.InfoContext(ctx, "cloud clients ready",
		"agent_models", len(cloud.AgentModels), "embedding_models", len(cloud.EmbeddingModels))
	return cloud, nil
}
