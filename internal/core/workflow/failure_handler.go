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

package workflow

import (
	"context"
	"errors"
	"log/slog"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/providers"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/repository"
)

// DefaultErrorDetailLimit bounds the failure text stored on an item.
const DefaultErrorDetailLimit = 500

// FailureHandler records a pipeline failure on an item. Calling it again for
// an item that is no longer in flight changes nothing.
type FailureHandler struct {
	repo  *repository.MediaRepository
	limit int
}

func NewFailureHandler(repo *repository.MediaRepository, limit int) *FailureHandler {
	if limit <= 0 {
		limit = DefaultErrorDetailLimit
	}
	return &FailureHandler{repo: repo, limit: limit}
}

// Fail marks the item failed with the text of cause and reports whether this
// call changed it.
func (h *FailureHandler) Fail(ctx context.Context, id uuid.UUID, cause error) (bool, error) {
	if cause == nil {
		cause = errors.New("unknown failure")
	}
	detail := ErrorDetail(cause, h.limit)
	changed, err := h.repo.MarkFailed(ctx, id, detail)
	if err != nil {
		return false, err
	}
	if changed {
		slog.WarnContext(ctx, "media item failed", "item_id", id, "error_detail", detail)
	} else {
		slog.DebugContext(ctx, "media item already settled", "item_id", id)
	}
	return changed, nil
}

// ErrorDetail renders err in at most limit characters, marker included.
func ErrorDetail(err error, limit int) string {
	text := err.Error()
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	keep := limit - utf8.RuneCountInString(providers.TruncationMarker)
	if keep <= 0 {
		return string([]rune(text)[:limit])
	}
	return providers.Truncate(text, keep)
}
