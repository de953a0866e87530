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

// Package test provides the shared fixtures of the test suite: the test
// configuration, a throwaway sqlite database, deterministic provider stubs
// and vector helpers.
package test

import (
	"bytes"
	"context"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/jaycherian/gcp-go-photo-search/internal/cloud"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/model"
	"github.com/jaycherian/gcp-go-photo-search/internal/migrate"
	"gorm.io/gorm"
)

// StateManager caches the test configuration for the whole run.
type StateManager struct {
	once   sync.Once
	config *cloud.Config
}

var state = &StateManager{}

// HandleErr fails the test when err is non-nil.
func HandleErr(err error, t *testing.T) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// RepoRoot returns the module root, independent of the package under test.
func RepoRoot() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))
}

// GetConfig loads configs/.env.toml and configs/.env.test.toml once.
func GetConfig() *cloud.Config {
	state.once.Do(func() {
		_ = os.Setenv(cloud.EnvConfigFilePrefix, filepath.Join(RepoRoot(), "configs"))
		_ = os.Setenv(cloud.EnvConfigRuntime, "test")
		cfg := cloud.NewConfig()
		if err := cloud.LoadConfig(cfg); err != nil {
			panic(err)
		}
		state.config = cfg
	})
	return state.config
}

// NewTestDB opens a migrated sqlite database that lives for the test only.
// A single connection serialises access so concurrent tests do not hit
// sqlite's writer lock.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.Join(t.TempDir(), "media.db"))
	db, err := cloud.OpenDatabase(context.Background(), cloud.Database{
		Driver:       cloud.DatabaseSqlite,
		DSN:          dsn,
		MaxOpenConns: 1,
	})
	HandleErr(err, t)
	HandleErr(migrate.Up(context.Background(), db), t)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// UnitVector returns an EmbeddingDimensions vector with sign at index i.
func UnitVector(i int, sign float32) []float32 {
	v := make([]float32, model.EmbeddingDimensions)
	v[i%model.EmbeddingDimensions] = sign
	return v
}

// JPEG renders a solid w x h JPEG.
func JPEG(w, h int, c color.Color) []byte {
	img := imaging.New(w, h, c)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
