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

// Configuration loading and genai helpers.
//
// Logic Flow for LoadConfig:
//  1. The directory is taken from GCP_CONFIG_PREFIX and the runtime name from
//     GCP_RUNTIME (default "test").
//  2. ".env.toml" is decoded first, then ".env.<runtime>.toml" on top of it,
//     so runtime files only need to carry what differs.
//  3. PHOTOSEARCH_* environment variables override secrets and endpoints.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"go.opentelemetry.io/otel/metric"
	"google.golang.org/genai"
)

const (
	ConfigFileBaseName  = ".env"
	ConfigFileExtension = ".toml"
	ConfigSeparator     = "."
	EnvConfigFilePrefix = "GCP_CONFIG_PREFIX"
	EnvConfigRuntime    = "GCP_RUNTIME"
	EnvOverridePrefix   = "PHOTOSEARCH"
	MaxRetries          = 3
)

// EnvOverrides are the values that usually come from the deployment rather
// than from checked-in TOML.
type EnvOverrides struct {
	GoogleProjectID string `envconfig:"GOOGLE_PROJECT_ID"`
	Port            string `envconfig:"PORT"`
	DatabaseDSN     string `envconfig:"DATABASE_DSN"`
	RedisAddr       string `envconfig:"REDIS_ADDR"`
	RedisPassword   string `envconfig:"REDIS_PASSWORD"`
	MinioAccessKey  string `envconfig:"MINIO_ACCESS_KEY"`
	MinioSecretKey  string `envconfig:"MINIO_SECRET_KEY"`
	RabbitMQURL     string `envconfig:"RABBITMQ_URL"`
}

func fileExists(in string) bool {
	_, err := os.Stat(in)
	return !errors.Is(err, os.ErrNotExist)
}

// LoadConfig decodes the layered TOML files into baseConfig.
func LoadConfig(baseConfig any) error {
	dir := os.Getenv(EnvConfigFilePrefix)
	runtimeEnvironment := os.Getenv(EnvConfigRuntime)
	if runtimeEnvironment == "" {
		runtimeEnvironment = "test"
	}

	baseFile := filepath.Join(dir, ConfigFileBaseName+ConfigFileExtension)
	envFile := filepath.Join(dir, ConfigFileBaseName+ConfigSeparator+runtimeEnvironment+ConfigFileExtension)
	slog.Debug("loading configuration", "base", baseFile, "runtime", envFile)

	for _, f := range []string{baseFile, envFile} {
		if !fileExists(f) {
			continue
		}
		if _, err := toml.DecodeFile(f, baseConfig); err != nil {
			return fmt.Errorf("decode configuration file %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnvOverrides copies any PHOTOSEARCH_* variables onto config.
func ApplyEnvOverrides(config *Config) error {
	var o EnvOverrides
	if err := envconfig.Process(EnvOverridePrefix, &o); err != nil {
		return fmt.Errorf("read environment overrides: %w", err)
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&config.Application.GoogleProjectId, o.GoogleProjectID)
	set(&config.Application.Port, o.Port)
	set(&config.Database.DSN, o.DatabaseDSN)
	set(&config.Cache.RedisAddr, o.RedisAddr)
	set(&config.Cache.RedisPassword, o.RedisPassword)
	set(&config.Storage.MinioAccessKey, o.MinioAccessKey)
	set(&config.Storage.MinioSecretKey, o.MinioSecretKey)
	set(&config.Queue.RabbitMQURL, o.RabbitMQURL)
	return nil
}

// LoadAll is NewConfig + LoadConfig + ApplyEnvOverrides + Validate.
func LoadAll() (*Config, error) {
	config := NewConfig()
	if err := LoadConfig(config); err != nil {
		return nil, err
	}
	if err := ApplyEnvOverrides(config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// TokenCounters are optional metrics recorded around model calls.
type TokenCounters struct {
	Input  metric.Int64Counter
	Output metric.Int64Counter
	Retry  metric.Int64Counter
}

// GenerateMultiModalResponse calls the model up to MaxRetries times with a
// linear backoff and returns the concatenated text of all candidates. Context
// errors are returned immediately.
func GenerateMultiModalResponse(
	ctx context.Context,
	counters TokenCounters,
	model *QuotaAwareGenerativeAIModel,
	content []*genai.Content) (string, error) {

	var lastErr error
	for attempt := 0; attempt < MaxRetries; attempt++ {
		if attempt > 0 {
			if counters.Retry != nil {
				counters.Retry.Add(ctx, 1)
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * model.RetryBackoff):
			}
		}
		resp, err := model.GenerateContent(ctx, content)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return "", err
			}
			continue
		}
		if resp.UsageMetadata != nil {
			if counters.Input != nil {
				counters.Input.Add(ctx, int64(resp.UsageMetadata.PromptTokenCount))
			}
			if counters.Output != nil {
				counters.Output.Add(ctx, int64(resp.UsageMetadata.CandidatesTokenCount))
			}
		}
		return ResponseText(resp), nil
	}
	return "", fmt.Errorf("generation failed after %d attempts: %w", MaxRetries, lastErr)
}

// ResponseText concatenates the text parts of every candidate.
func ResponseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part != nil {
				sb.WriteString(part.Text)
			}
		}
	}
	return strings.TrimSpace(sb.String())
}

// NewImageContent builds a single user turn holding the prompt, the primary
// image, any extra frames and an optional trailing context line.
func NewImageContent(prompt string, image []byte, mimeType string, frames [][]byte, extra string) []*genai.Content {
	parts := []*genai.Part{genai.NewPartFromBytes(image, mimeType)}
	for _, f := range frames {
		parts = append(parts, genai.NewPartFromBytes(f, "image/jpeg"))
	}
	parts = append(parts, genai.NewPartFromText(prompt))
	if extra != "" {
		parts = append(parts, genai.NewPartFromText(extra))
	}
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}
