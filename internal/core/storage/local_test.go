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

package storage_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/apperr"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *storage.LocalStore {
	s, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestLocalSaveAndReadOriginal(t *testing.T) {
	s, ctx := newStore(t), context.Background()
	owner, id := uuid.New(), uuid.New()

	ref, err := s.Save(ctx, owner, id, strings.NewReader("jpeg bytes"), ".JPG")
	require.NoError(t, err)
	assert.Equal(t, owner.String()+"/"+id.String()+"/original.jpg", ref)
	assert.True(t, storage.ValidRef(ref))

	rc, ext, err := s.ReadOriginal(ctx, owner, id)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "jpg", ext)
	assert.Equal(t, "jpeg bytes", string(body))
}

type failingReader struct{ n int }

func (f *failingReader) Read(p []byte) (int, error) {
	if f.n > 0 {
		f.n--
		return copy(p, "partial"), nil
	}
	return 0, errors.New("connection reset")
}

func TestLocalFailedSaveLeavesNothing(t *testing.T) {
	s, ctx := newStore(t), context.Background()
	owner, id := uuid.New(), uuid.New()

	_, err := s.Save(ctx, owner, id, &failingReader{n: 2}, "png")
	require.Error(t, err)
	assert.True(t, apperr.IsCode(err, apperr.CodeStorage))

	entries, err := os.ReadDir(filepath.Join(s.Root(), owner.String(), id.String()))
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, _, err = s.ReadOriginal(ctx, owner, id)
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))
}

func TestLocalSaveHonoursCancellation(t *testing.T) {
	s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Save(ctx, uuid.New(), uuid.New(), strings.NewReader("x"), "jpg")
	require.Error(t, err)
	assert.True(t, apperr.IsRetryable(err))
}

func TestLocalDeleteIsIdempotent(t *testing.T) {
	s, ctx := newStore(t), context.Background()
	owner, id := uuid.New(), uuid.New()
	_, err := s.Save(ctx, owner, id, strings.NewReader("v"), "mp4")
	require.NoError(t, err)
	thumb, err := s.SaveDerived(ctx, owner, id, storage.ThumbnailName, []byte("thumb"))
	require.NoError(t, err)
	assert.Equal(t, storage.DerivedKey(owner, id, storage.ThumbnailName), thumb)

	deleted, err := s.Delete(ctx, owner, id)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.Delete(ctx, owner, id)
	require.NoError(t, err)
	assert.False(t, deleted)

	_, _, err = s.ReadOriginal(ctx, owner, id)
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))
}

func TestLocalURL(t *testing.T) {
	s, ctx := newStore(t), context.Background()
	owner, id := uuid.New(), uuid.New()
	ref, err := s.Save(ctx, owner, id, strings.NewReader("v"), "png")
	require.NoError(t, err)

	u, err := s.URL(ctx, ref, 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "file://"))
	assert.True(t, strings.HasSuffix(u, "/original.png"))

	_, err = s.URL(ctx, "../../etc/passwd", 0)
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
}

func TestNormalizeExt(t *testing.T) {
	cases := map[string]string{
		".JPG":          "jpg",
		"heic":          "heic",
		"":              "bin",
		"tar.gz":        "bin",
		"../../x":       "bin",
		"averylongext1": "bin",
	}
	for in, want := range cases {
		assert.Equal(t, want, storage.NormalizeExt(in), in)
	}
}
