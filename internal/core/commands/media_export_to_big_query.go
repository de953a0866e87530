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

package commands

import (
	"log/slog"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/cor"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/model"
)

// MediaExportRow is the analytics copy of a completed item. The embedding is
// left out; BigQuery is used for reporting, not for search.
type MediaExportRow struct {
	ID          string    `bigquery:"id"`
	OwnerID     string    `bigquery:"owner_id"`
	Filename    string    `bigquery:"filename"`
	Kind        string    `bigquery:"kind"`
	ContentType string    `bigquery:"content_type"`
	SizeBytes   int64     `bigquery:"size_bytes"`
	Description string    `bigquery:"description"`
	CreatedAt   time.Time `bigquery:"created_at"`
	CompletedAt time.Time `bigquery:"completed_at"`
}

// NewMediaExportRow flattens a completed item.
func NewMediaExportRow(item *model.MediaItem) *MediaExportRow {
	row := &MediaExportRow{
		ID:          item.ID.String(),
		OwnerID:     item.OwnerID.String(),
		Filename:    item.Filename,
		Kind:        string(item.Kind),
		ContentType: item.ContentType,
		SizeBytes:   item.SizeBytes,
		CreatedAt:   item.CreatedAt,
		CompletedAt: time.Now().UTC(),
	}
	if item.Description != nil {
		row.Description = *item.Description
	}
	return row
}

// MediaExportToBigQuery streams completed items into a BigQuery table. The
// item is already complete when this runs, so an insert failure is logged and
// never recorded on the chain.
type MediaExportToBigQuery struct {
	cor.BaseCommand
	client  *bigquery.Client
	dataset string
	table   string
}

func NewMediaExportToBigQuery(name string, client *bigquery.Client, dataset string, table string) *MediaExportToBigQuery {
	return &MediaExportToBigQuery{BaseCommand: itemCommand(name), client: client, dataset: dataset, table: table}
}

func (s *MediaExportToBigQuery) IsExecutable(context cor.Context) bool {
	item := ItemFrom(context)
	return s.client != nil && s.BaseCommand.IsExecutable(context) &&
		item != nil && item.Status == model.StatusCompleted
}

func (s *MediaExportToBigQuery) Execute(context cor.Context) {
	item := context.Get(s.GetInputParam()).(*model.MediaItem)
	ctx := context.GetContext()

	i := s.client.Dataset(s.dataset).Table(s.table).Inserter()
	if err := i.Put(ctx, NewMediaExportRow(item)); err != nil {
		slog.WarnContext(ctx, "failed to export media item to bigquery", "item_id", item.ID, "error", err)
		if s.ErrorCounter != nil {
			s.ErrorCounter.Add(ctx, 1)
		}
		return
	}
	s.Succeed(context, item)
}
