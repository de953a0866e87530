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

// Package queue hands work items from the request path to the processing
// workers. Every transport delivers the raw message body to a cor.Command as
// its string input, acknowledges after the command ran and asks for
// redelivery only when the command set cor.CtxRetry.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jaycherian/gcp-go-photo-search/internal/core/apperr"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/cor"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/model"
)

var (
	ErrQueueFull   = errors.New("queue: full")
	ErrQueueClosed = errors.New("queue: closed")
)

type Queue interface {
	Publish(ctx context.Context, body []byte) error
	// Listen delivers messages to command until ctx is done or the transport
	// fails. It blocks.
	Listen(ctx context.Context, command cor.Command) error
	Close() error
}

// Enqueuer publishes process requests for media items.
type Enqueuer struct {
	queue Queue
}

func NewEnqueuer(q Queue) *Enqueuer {
	return &Enqueuer{queue: q}
}

func (e *Enqueuer) Enqueue(ctx context.Context, req model.ProcessRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("queue: encode process request: %w", err)
	}
	if err := e.queue.Publish(ctx, body); err != nil {
		return apperr.Wrap(apperr.CodeInternal, err, "could not enqueue media for processing").
			WithDetails(map[string]string{"item_id": req.ItemID.String()})
	}
	return nil
}

// deliver runs command on body and reports whether the message should be
// redelivered.
func deliver(ctx context.Context, command cor.Command, body []byte) (redeliver bool) {
	chainCtx := cor.NewContextWithInput(ctx, string(body))
	defer chainCtx.Close()

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic while handling message", "command", command.GetName(), "panic", r)
			redeliver = false
		}
	}()

	command.Execute(chainCtx)
	if err := chainCtx.Err(); err != nil {
		slog.WarnContext(ctx, "error executing chain", "command", command.GetName(), "error", err)
	}
	return cor.RetryRequested(chainCtx)
}
