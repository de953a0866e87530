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

// Package cloud holds the configuration model and the clients for the external
// services the application talks to. This file defines the structure of the
// TOML configuration; see utils.go for how the files are layered.
package cloud

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"
)

// DefaultSafetySettings are applied to every description model. Photo
// libraries routinely contain content the default filters would refuse to
// describe.
var DefaultSafetySettings = []*genai.SafetySetting{
	{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
}

// Backends selectable in configuration.
const (
	StorageLocal = "local"
	StorageGCS   = "gcs"
	StorageMinio = "minio"

	QueueMemory   = "memory"
	QueuePubSub   = "pubsub"
	QueueRabbitMQ = "rabbitmq"

	DatabasePostgres = "postgres"
	DatabaseSqlite   = "sqlite"

	IndexMemory   = "memory"
	IndexPgVector = "pgvector"
)

// Logical model names looked up in EmbeddingModels and AgentModels.
const (
	DescriptionModelKey = "description"
	EmbeddingModelKey   = "search"
	// ProcessTopicKey names the Pub/Sub subscription the pipeline consumes.
	ProcessTopicKey = "process"
)

type BigQueryDataSource struct {
	Enabled     bool   `toml:"enabled"`
	DatasetName string `toml:"dataset"`
	MediaTable  string `toml:"media_table"`
}

type PromptTemplates struct {
	ImagePrompt string `toml:"image"`
	VideoPrompt string `toml:"video"`
}

type VertexAiEmbeddingModel struct {
	Model                string `toml:"model"`
	MaxRequestsPerMinute int    `toml:"max_requests_per_minute"`
	Dimensions           int    `toml:"dimensions"`
	MaxInputChars        int    `toml:"max_input_chars"`
	TimeoutInSeconds     int    `toml:"timeout_in_seconds"`
}

func (m VertexAiEmbeddingModel) Timeout() time.Duration {
	return secondsOr(m.TimeoutInSeconds, 30)
}

type VertexAiLLMModel struct {
	Model              string  `toml:"model"`
	SystemInstructions string  `toml:"system_instructions"`
	Temperature        float32 `toml:"temperature"`
	TopP               float32 `toml:"top_p"`
	TopK               float32 `toml:"top_k"`
	MaxTokens          int32   `toml:"max_tokens"`
	OutputFormat       string  `toml:"output_format"`
	RateLimit          int     `toml:"rate_limit"`
	TimeoutInSeconds   int     `toml:"timeout_in_seconds"`
}

func (m VertexAiLLMModel) Timeout() time.Duration {
	return secondsOr(m.TimeoutInSeconds, 60)
}

type TopicSubscription struct {
	Name             string `toml:"name"`
	Topic            string `toml:"topic"`
	DeadLetterTopic  string `toml:"dead_letter_topic"`
	TimeoutInSeconds int    `toml:"timeout_in_seconds"`
}

type Storage struct {
	Backend        string   `toml:"backend"`
	LocalPath      string   `toml:"local_path"`
	Bucket         string   `toml:"bucket"`
	MinioEndpoint  string   `toml:"minio_endpoint"`
	MinioAccessKey string   `toml:"minio_access_key"`
	MinioSecretKey string   `toml:"minio_secret_key"`
	MinioUseSSL    bool     `toml:"minio_use_ssl"`
	MaxUploadBytes int64    `toml:"max_upload_bytes"`
	ImageTypes     []string `toml:"image_types"`
	VideoTypes     []string `toml:"video_types"`
	SignedURLTTL   int      `toml:"signed_url_ttl_minutes"`
}

type Database struct {
	Driver          string `toml:"driver"`
	DSN             string `toml:"dsn"`
	MaxOpenConns    int    `toml:"max_open_conns"`
	MaxIdleConns    int    `toml:"max_idle_conns"`
	ConnMaxLifetime int    `toml:"conn_max_lifetime_seconds"`
	MigrationsDir   string `toml:"migrations_dir"`
	AutoMigrate     bool   `toml:"auto_migrate"`
}

type Pipeline struct {
	Workers             int    `toml:"workers"`
	ProviderConcurrency int    `toml:"provider_concurrency"`
	QueueDepth          int    `toml:"queue_depth"`
	MaxFrames           int    `toml:"max_frames"`
	FramesPerCall       int    `toml:"frames_per_call"`
	ErrorDetailLimit    int    `toml:"error_detail_limit"`
	FfmpegPath          string `toml:"ffmpeg_path"`
	ThumbnailSize       int    `toml:"thumbnail_size"`
	ExtractorWorkers    int    `toml:"extractor_workers"`
	RecoverOnStart      bool   `toml:"recover_on_start"`
	RecoveryAfterSecs   int    `toml:"recovery_after_seconds"`
	RecoveryPeriodSecs  int    `toml:"recovery_period_seconds"`
}

type Search struct {
	OversamplingFactor  int     `toml:"oversampling_factor"`
	DefaultLimit        int     `toml:"default_limit"`
	MaxLimit            int     `toml:"max_limit"`
	MaxQueryLength      int     `toml:"max_query_length"`
	BatchConcurrency    int     `toml:"batch_concurrency"`
	MaxBatchQueries     int     `toml:"max_batch_queries"`
	BatchLimit          int     `toml:"batch_limit"`
	SimilarThreshold    float32 `toml:"similar_threshold"`
	SimilarDefaultLimit int     `toml:"similar_default_limit"`
	// AllowCrossOwnerSimilar lets find-similar consider other owners' items.
	AllowCrossOwnerSimilar bool   `toml:"allow_cross_owner_similar"`
	Index                  string `toml:"index"`
	HnswM                  int    `toml:"hnsw_m"`
	HnswEfConstruction     int    `toml:"hnsw_ef_construction"`
	HnswEfSearch           int    `toml:"hnsw_ef_search"`
	MinTrainSize           int    `toml:"min_train_size"`
	RebuildPeriodSecs      int    `toml:"rebuild_period_seconds"`
}

type Cache struct {
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	TTLMinutes    int    `toml:"ttl_minutes"`
}

type Queue struct {
	Transport   string `toml:"transport"`
	RabbitMQURL string `toml:"rabbitmq_url"`
	RabbitQueue string `toml:"rabbitmq_queue"`
}

type Telemetry struct {
	Export bool `toml:"export"`
}

// Config is the root of the configuration tree.
type Config struct {
	Application struct {
		Name                      string `toml:"name"`
		GoogleProjectId           string `toml:"google_project_id"`
		GoogleLocation            string `toml:"location"`
		ThreadPoolSize            int    `toml:"thread_pool_size"`
		SignerServiceAccountEmail string `toml:"signer_service_account_email"`
		Port                      string `toml:"port"`
		LogLevel                  string `toml:"log_level"`
		LogFile                   string `toml:"log_file"`
	} `toml:"application"`
	Storage            Storage                           `toml:"storage"`
	Database           Database                          `toml:"database"`
	Pipeline           Pipeline                          `toml:"pipeline"`
	Search             Search                            `toml:"search"`
	Cache              Cache                             `toml:"cache"`
	Queue              Queue                             `toml:"queue"`
	Telemetry          Telemetry                         `toml:"telemetry"`
	BigQueryDataSource BigQueryDataSource                `toml:"big_query_data_source"`
	PromptTemplates    PromptTemplates                   `toml:"prompt_templates"`
	TopicSubscriptions map[string]TopicSubscription      `toml:"topic_subscriptions"`
	EmbeddingModels    map[string]VertexAiEmbeddingModel `toml:"embedding_models"`
	AgentModels        map[string]VertexAiLLMModel       `toml:"agent_models"`
}

// NewConfig returns a Config with the defaults every deployment shares.
// Values decoded from TOML overwrite them.
func NewConfig() *Config {
	c := &Config{
		TopicSubscriptions: make(map[string]TopicSubscription),
		EmbeddingModels:    make(map[string]VertexAiEmbeddingModel),
		AgentModels:        make(map[string]VertexAiLLMModel),
	}
	c.Application.Name = "photo-search"
	c.Application.Port = "8080"
	c.Application.LogLevel = "info"
	c.Application.ThreadPoolSize = 4
	c.Storage = Storage{
		Backend:        StorageLocal,
		LocalPath:      "uploads",
		MaxUploadBytes: 100 * 1024 * 1024,
		ImageTypes:     []string{"image/jpeg", "image/jpg", "image/png", "image/webp", "image/heic", "image/heif"},
		VideoTypes:     []string{"video/mp4", "video/mpeg", "video/quicktime", "video/x-msvideo", "video/x-flv", "video/webm"},
		SignedURLTTL:   15,
	}
	c.Database = Database{Driver: DatabasePostgres, MaxOpenConns: 10, MaxIdleConns: 5, ConnMaxLifetime: 1800, MigrationsDir: "migrations"}
	c.Pipeline = Pipeline{
		Workers:             4,
		ProviderConcurrency: 3,
		QueueDepth:          1000,
		MaxFrames:           10,
		FramesPerCall:       5,
		ErrorDetailLimit:    500,
		FfmpegPath:          "ffmpeg",
		ThumbnailSize:       256,
		ExtractorWorkers:    2,
		RecoverOnStart:      true,
		RecoveryAfterSecs:   300,
		RecoveryPeriodSecs:  60,
	}
	c.Search = Search{
		OversamplingFactor:  2,
		DefaultLimit:        20,
		MaxLimit:            100,
		MaxQueryLength:      500,
		BatchConcurrency:    3,
		MaxBatchQueries:     5,
		BatchLimit:          10,
		SimilarThreshold:    0.5,
		SimilarDefaultLimit: 10,
		Index:               IndexMemory,
		HnswM:               16,
		HnswEfConstruction:  200,
		HnswEfSearch:        64,
		MinTrainSize:        1000,
		RebuildPeriodSecs:   0,
	}
	c.Cache.TTLMinutes = 60
	c.Queue = Queue{Transport: QueueMemory, RabbitQueue: "media.process"}
	c.PromptTemplates = PromptTemplates{}
	return c
}

// Validate reports configuration that would make a component fail at runtime.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case StorageLocal:
		if c.Storage.LocalPath == "" {
			errs = append(errs, errors.New("storage.local_path is required for the local backend"))
		}
	case StorageGCS, StorageMinio:
		if c.Storage.Bucket == "" {
			errs = append(errs, fmt.Errorf("storage.bucket is required for the %s backend", c.Storage.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}
	switch c.Queue.Transport {
	case QueueMemory:
	case QueuePubSub:
		if _, ok := c.TopicSubscriptions[ProcessTopicKey]; !ok {
			errs = append(errs, fmt.Errorf("topic_subscriptions.%s is required for the pubsub transport", ProcessTopicKey))
		}
	case QueueRabbitMQ:
		if c.Queue.RabbitMQURL == "" {
			errs = append(errs, errors.New("queue.rabbitmq_url is required for the rabbitmq transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown queue transport %q", c.Queue.Transport))
	}
	switch c.Database.Driver {
	case DatabasePostgres, DatabaseSqlite:
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}
	if c.Search.Index == IndexPgVector && c.Database.Driver != DatabasePostgres {
		errs = append(errs, errors.New("search.index = pgvector requires the postgres driver"))
	}
	if em, ok := c.EmbeddingModels[EmbeddingModelKey]; ok && em.Dimensions != 0 && em.Dimensions != 1536 {
		errs = append(errs, fmt.Errorf("embedding_models.%s.dimensions must be 1536, got %d", EmbeddingModelKey, em.Dimensions))
	}
	if c.Pipeline.ProviderConcurrency <= 0 {
		errs = append(errs, errors.New("pipeline.provider_concurrency must be positive"))
	}
	if c.Pipeline.FramesPerCall > c.Pipeline.MaxFrames {
		errs = append(errs, errors.New("pipeline.frames_per_call cannot exceed pipeline.max_frames"))
	}
	return errors.Join(errs...)
}

func secondsOr(n int, def int) time.Duration {
	if n <= 0 {
		n = def
	}
	return time.Duration(n) * time.Second
}
