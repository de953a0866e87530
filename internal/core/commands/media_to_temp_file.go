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
	"io"
	"log/slog"
	"os"

	"github.com/jaycherian/gcp-go-photo-search/internal/core/cor"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/model"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/storage"
)

// MediaToTempFile copies the original upload of the item to a local temp file
// and registers it for cleanup when the chain context closes.
type MediaToTempFile struct {
	cor.BaseCommand
	store          storage.MediaStore
	tempFilePrefix string
}

func NewMediaToTempFile(name string, store storage.MediaStore, tempFilePrefix string) *MediaToTempFile {
	return &MediaToTempFile{BaseCommand: itemCommand(name), store: store, tempFilePrefix: tempFilePrefix}
}

func (c *MediaToTempFile) Execute(context cor.Context) {
	item := context.Get(c.GetInputParam()).(*model.MediaItem)
	ctx := context.GetContext()

	reader, ext, err := c.store.ReadOriginal(ctx, item.OwnerID, item.ID)
	if err != nil {
		c.Fail(context, fmt.Errorf("read original: %w", err))
		return
	}
	defer func() {
		if err := reader.Close(); err != nil {
			slog.WarnContext(ctx, "failed to close media reader", "item_id", item.ID, "error", err)
		}
	}()

	tempFile, err := os.CreateTemp("", c.tempFilePrefix+"*."+ext)
	if err != nil {
		c.Fail(context, fmt.Errorf("could not create temp file: %w", err))
		return
	}
	context.AddTempFile(tempFile.Name())

	written, err := io.Copy(tempFile, reader)
	if closeErr := tempFile.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		c.Fail(context, fmt.Errorf("copy original to %s after %d bytes: %w", tempFile.Name(), written, err))
		return
	}

	slog.DebugContext(ctx, "downloaded original", "item_id", item.ID, "path", tempFile.Name(), "bytes", written)
	context.Add(ParamLocalFile, tempFile.Name())
	c.Succeed(context, tempFile.Name())
}
