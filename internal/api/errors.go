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

// Package api exposes the media and search services over HTTP with gin.
// Every route under /api/v1 acts on behalf of the owner named by the
// X-Owner-ID header.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/apperr"
)

const (
	OwnerHeader = "X-Owner-ID"
	ownerKey    = "owner"
)

// ErrorBody is the JSON envelope of every failed request.
type ErrorBody struct {
	Code      apperr.Code `json:"code"`
	Message   string      `json:"message"`
	Details   any         `json:"details,omitempty"`
	Retryable bool        `json:"retryable"`
}

// RequireOwner rejects requests without a valid owner header and stores the
// owner on the gin context.
func RequireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(OwnerHeader)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrorBody{
				Code:    apperr.CodeValidation,
				Message: OwnerHeader + " header is required",
			}})
			return
		}
		owner, err := uuid.Parse(raw)
		if err != nil || owner == uuid.Nil {
			Fail(c, apperr.Validation(OwnerHeader+" must be a UUID"))
			return
		}
		c.Set(ownerKey, owner)
		c.Next()
	}
}

// Owner returns the owner stored by RequireOwner.
func Owner(c *gin.Context) uuid.UUID {
	if v, ok := c.Get(ownerKey); ok {
		if owner, ok := v.(uuid.UUID); ok {
			return owner
		}
	}
	return uuid.Nil
}

// Fail writes err as an ErrorBody with the status of its code. Messages of
// codes that do not allow details are replaced by the public message.
func Fail(c *gin.Context, err error) {
	typed := apperr.As(err)
	if typed == nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			typed = apperr.New(apperr.CodePayloadTooLarge, "request body too large")
		} else {
			typed = apperr.Wrap(apperr.CodeInternal, err, "unexpected error")
		}
	}
	meta := apperr.MetadataFor(typed.Code())
	body := ErrorBody{
		Code:      typed.Code(),
		Message:   meta.PublicMessage,
		Retryable: typed.Retryable(),
	}
	if meta.DetailsAllowed {
		body.Message = typed.Message()
		body.Details = typed.Details()
	}
	if meta.HTTPStatus >= http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(meta.HTTPStatus, gin.H{"error": body})
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		Fail(c, apperr.Validation("id must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}
