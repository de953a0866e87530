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

// Package storage persists original uploads and their derived files. Objects
// for an item live under "<owner>/<id>/": the upload as "original.<ext>" and
// derived files such as the thumbnail next to it.
package storage

import (
	"context"
	"errors"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/apperr"
)

const (
	OriginalBase  = "original"
	ThumbnailName = "thumb_256.jpg"
	defaultExt    = "bin"
)

// MediaStore is the byte store behind every media item.
type MediaStore interface {
	// Save streams r to the original object of the item and returns its
	// reference. Nothing is left behind when the write fails.
	Save(ctx context.Context, owner, id uuid.UUID, r io.Reader, ext string) (string, error)
	// SaveDerived stores a generated file (thumbnail, frame) next to the original.
	SaveDerived(ctx context.Context, owner, id uuid.UUID, name string, data []byte) (string, error)
	// Delete removes every object of the item. Deleting an item that has no
	// objects returns false and no error.
	Delete(ctx context.Context, owner, id uuid.UUID) (bool, error)
	// ReadOriginal opens the original upload and reports its extension.
	ReadOriginal(ctx context.Context, owner, id uuid.UUID) (io.ReadCloser, string, error)
	// URL returns a time limited link to ref.
	URL(ctx context.Context, ref string, ttl time.Duration) (string, error)
}

func Prefix(owner, id uuid.UUID) string {
	return owner.String() + "/" + id.String() + "/"
}

func OriginalKey(owner, id uuid.UUID, ext string) string {
	return Prefix(owner, id) + OriginalBase + "." + NormalizeExt(ext)
}

func DerivedKey(owner, id uuid.UUID, name string) string {
	return Prefix(owner, id) + path.Base(name)
}

// NormalizeExt lower-cases ext, strips a leading dot and replaces anything that
// is not a short alphanumeric token with "bin".
func NormalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	if ext == "" || len(ext) > 8 {
		return defaultExt
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return defaultExt
		}
	}
	return ext
}

// ExtOf returns the extension of an object key without the dot.
func ExtOf(key string) string {
	return strings.TrimPrefix(path.Ext(key), ".")
}

// ContentTypeOf guesses the MIME type of an object from its extension.
func ContentTypeOf(key string) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// ValidRef reports whether ref is a key this package could have produced.
func ValidRef(ref string) bool {
	parts := strings.Split(ref, "/")
	if len(parts) != 3 || parts[2] == "" || strings.HasPrefix(parts[2], ".") {
		return false
	}
	if _, err := uuid.Parse(parts[0]); err != nil {
		return false
	}
	_, err := uuid.Parse(parts[1])
	return err == nil
}

func notFound(owner, id uuid.UUID) error {
	return apperr.NotFound("media object not found").WithDetails(map[string]string{
		"owner_id": owner.String(),
		"item_id":  id.String(),
	})
}

func storageErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	if apperr.As(err) != nil {
		return err
	}
	e := apperr.Storage(err, msg)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		e = e.WithRetryable(true)
	}
	return e
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
