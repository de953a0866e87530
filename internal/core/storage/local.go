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

package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/apperr"
)

// LocalStore keeps objects on the local filesystem below root.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root %s: %w", abs, err)
	}
	return &LocalStore{root: abs}, nil
}

func (s *LocalStore) Root() string {
	return s.root
}

func (s *LocalStore) Save(ctx context.Context, owner, id uuid.UUID, r io.Reader, ext string) (string, error) {
	key := OriginalKey(owner, id, ext)
	if err := s.write(ctx, key, r); err != nil {
		return "", err
	}
	return key, nil
}

func (s *LocalStore) SaveDerived(ctx context.Context, owner, id uuid.UUID, name string, data []byte) (string, error) {
	key := DerivedKey(owner, id, name)
	if err := s.write(ctx, key, bytes.NewReader(data)); err != nil {
		return "", err
	}
	return key, nil
}

// write goes through a temp file in the destination directory and renames it
// into place so readers never see a partial object.
func (s *LocalStore) write(ctx context.Context, key string, r io.Reader) error {
	dst := s.path(key)
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return storageErr(err, "create media directory")
	}
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return storageErr(err, "create temp object")
	}
	cleanup := func() {
		_ = tmp.Close()
		if err := os.Remove(tmp.Name()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("failed to remove partial upload", "path", tmp.Name(), "error", err)
		}
	}
	if _, err := io.Copy(tmp, ctxReader{ctx: ctx, r: r}); err != nil {
		cleanup()
		return storageErr(err, "write media object")
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return storageErr(err, "flush media object")
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return storageErr(err, "close media object")
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		cleanup()
		return storageErr(err, "commit media object")
	}
	return nil
}

func (s *LocalStore) Delete(_ context.Context, owner, id uuid.UUID) (bool, error) {
	dir := s.path(Prefix(owner, id))
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, storageErr(err, "stat media directory")
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, storageErr(err, "delete media directory")
	}
	// The owner directory is left in place; other items may still use it.
	return true, nil
}

func (s *LocalStore) ReadOriginal(_ context.Context, owner, id uuid.UUID) (io.ReadCloser, string, error) {
	matches, err := filepath.Glob(filepath.Join(s.path(Prefix(owner, id)), OriginalBase+".*"))
	if err != nil {
		return nil, "", storageErr(err, "locate original")
	}
	if len(matches) == 0 {
		return nil, "", notFound(owner, id)
	}
	f, err := os.Open(matches[0])
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", notFound(owner, id)
		}
		return nil, "", storageErr(err, "open original")
	}
	return f, ExtOf(matches[0]), nil
}

// URL returns a file URL; the local backend has no expiry to enforce.
func (s *LocalStore) URL(_ context.Context, ref string, _ time.Duration) (string, error) {
	if !ValidRef(ref) {
		return "", apperr.Validation("invalid media reference")
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(s.path(ref))}
	return u.String(), nil
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}
