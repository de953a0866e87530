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

package providers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/jaycherian/gcp-go-photo-search/internal/core/vector"
	"github.com/redis/go-redis/v9"
)

// EmbeddingCache stores vectors by key.
type EmbeddingCache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, v []float32, ttl time.Duration) error
}

// RedisEmbeddingCache keeps vectors in Redis in their pgvector text form.
type RedisEmbeddingCache struct {
	client redis.Cmdable
	prefix string
}

func NewRedisEmbeddingCache(client redis.Cmdable, prefix string) *RedisEmbeddingCache {
	if prefix == "" {
		prefix = "emb"
	}
	return &RedisEmbeddingCache{client: client, prefix: prefix}
}

func (c *RedisEmbeddingCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	s, err := c.client.Get(ctx, c.prefix+":"+key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	v, err := vector.Decode(s)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (c *RedisEmbeddingCache) Set(ctx context.Context, key string, v []float32, ttl time.Duration) error {
	return c.client.Set(ctx, c.prefix+":"+key, vector.Encode(v), ttl).Err()
}

// CachedEmbedder serves repeated texts from a cache. Cache failures are
// logged and fall through to the inner generator.
type CachedEmbedder struct {
	Inner EmbeddingGenerator
	Cache EmbeddingCache
	TTL   time.Duration
	// Namespace separates models with different vector spaces.
	Namespace string
}

func (c *CachedEmbedder) Dimensions() int {
	return c.Inner.Dimensions()
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)
	if v, ok, err := c.Cache.Get(ctx, key); err != nil {
		slog.WarnContext(ctx, "embedding cache read failed", "error", err)
	} else if ok && len(v) == c.Inner.Dimensions() {
		return v, nil
	}

	v, err := c.Inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.Cache.Set(ctx, key, v, c.TTL); err != nil {
		slog.WarnContext(ctx, "embedding cache write failed", "error", err)
	}
	return v, nil
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(c.Namespace + "\x00" + text))
	return hex.EncodeToString(sum[:])
}
