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
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/apperr"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/cor"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/model"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MediaClaim takes ownership of a pending item by moving it to analyzing.
// Only one worker can win the compare-and-swap; the others stop without
// touching the item.
type MediaClaim struct {
	cor.BaseCommand
	repo *repository.MediaRepository
}

func NewMediaClaim(name string, repo *repository.MediaRepository) *MediaClaim {
	c := &MediaClaim{BaseCommand: *cor.NewBaseCommand(name), repo: repo}
	c.InputParamName = ParamRequest
	return c
}

func (c *MediaClaim) Execute(context cor.Context) {
	req := context.Get(c.GetInputParam()).(*model.ProcessRequest)
	ctx := context.GetContext()
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("item_id", req.ItemID.String()))

	item, err := c.repo.Get(ctx, req.ItemID)
	if err != nil {
		if apperr.IsCode(err, apperr.CodeNotFound) {
			// Deleted between upload and processing.
			slog.InfoContext(ctx, "media item no longer exists", "item_id", req.ItemID)
			context.Add(ParamSkipped, true)
		}
		requestRetry(context, err)
		c.Fail(context, err)
		return
	}
	if req.OwnerID != uuid.Nil && item.OwnerID != req.OwnerID {
		context.Add(ParamSkipped, true)
		c.Fail(context, apperr.Newf(apperr.CodeStateConflict, "item %s does not belong to owner %s", item.ID, req.OwnerID))
		return
	}
	if item.Status != model.StatusPending {
		slog.InfoContext(ctx, "media item already claimed", "item_id", item.ID, "status", item.Status)
		context.Add(ParamSkipped, true)
		c.Fail(context, apperr.Newf(apperr.CodeStateConflict, "item %s is %s, not pending", item.ID, item.Status))
		return
	}

	version, err := c.repo.Transition(ctx, item.ID, model.StatusPending, model.StatusAnalyzing, item.Version)
	if err != nil {
		if apperr.IsCode(err, apperr.CodeStateConflict) || apperr.IsCode(err, apperr.CodeNotFound) {
			context.Add(ParamSkipped, true)
		}
		requestRetry(context, err)
		c.Fail(context, fmt.Errorf("claim %s: %w", item.ID, err))
		return
	}
	item.Status = model.StatusAnalyzing
	item.Version = version

	slog.InfoContext(ctx, "claimed media item", "item_id", item.ID, "owner_id", item.OwnerID, "kind", item.Kind)
	context.Add(ParamItem, item)
	c.Succeed(context, item)
}
