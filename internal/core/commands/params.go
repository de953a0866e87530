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

// Package commands holds the steps of the media pipelines. Each step is a
// cor.Command; the workflow package strings them into chains.
//
// Steps after the claim read the claimed item from ParamItem and keep it
// current: every successful write updates the item's Status, Version and
// written fields in place, so the next step's compare-and-swap uses the
// right version.
package commands

import (
	"github.com/jaycherian/gcp-go-photo-search/internal/core/apperr"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/cor"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/model"
)

// Context keys shared by the pipeline commands.
const (
	ParamRequest     = "__process_request__"
	ParamItem        = "__media_item__"
	ParamLocalFile   = "__local_file__"
	ParamFrames      = "__frames__"
	ParamDescription = "__description__"
	ParamEmbedding   = "__embedding__"
	// ParamSkipped marks work that must not be recorded as a failure: another
	// worker owns the item or it no longer exists.
	ParamSkipped = "__skipped__"
)

// ItemFrom returns the claimed item, or nil before the claim.
func ItemFrom(ctx cor.Context) *model.MediaItem {
	item, _ := ctx.Get(ParamItem).(*model.MediaItem)
	return item
}

// Skipped reports whether the chain stopped on work it should not own.
func Skipped(ctx cor.Context) bool {
	skipped, _ := ctx.Get(ParamSkipped).(bool)
	return skipped
}

// requestRetry asks the transport to redeliver when the database failed in a
// way that may pass.
func requestRetry(ctx cor.Context, err error) {
	if apperr.IsCode(err, apperr.CodeStorage) && apperr.IsRetryable(err) {
		ctx.Add(cor.CtxRetry, true)
	}
}

// itemCommand is a BaseCommand that reads the claimed item.
func itemCommand(name string) cor.BaseCommand {
	c := *cor.NewBaseCommand(name)
	c.InputParamName = ParamItem
	return c
}
