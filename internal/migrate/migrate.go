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

// Package migrate brings the schema up to date. Postgres runs the embedded
// goose migrations (pgvector extension, table, HNSW index); sqlite, used for
// tests and single-node demos, is migrated from the gorm model.
package migrate

import (
	"context"
	"embed"
	"fmt"

	"github.com/jaycherian/gcp-go-photo-search/internal/core/model"
	"github.com/pressly/goose/v3"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrations embed.FS

const dir = "migrations"

// Up migrates db to the latest schema for its dialect.
func Up(ctx context.Context, db *gorm.DB) error {
	if db.Dialector.Name() != "postgres" {
		if err := db.WithContext(ctx).AutoMigrate(&model.MediaItem{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, sqlDB, dir); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Version returns the applied goose version, or -1 for non-Postgres databases.
func Version(ctx context.Context, db *gorm.DB) (int64, error) {
	if db.Dialector.Name() != "postgres" {
		return -1, nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return 0, err
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, sqlDB)
}
