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

package cloud

import (
	"context"
	"log/slog"

	"cloud.google.com/go/pubsub"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/cor"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PubSubListener feeds every message of a subscription into a command. The
// message body becomes the command's input.
//
// A message is acknowledged once the command has run, whether or not it
// recorded errors: failures are persisted on the item itself. It is nacked
// only when the command sets cor.CtxRetry, which means the outcome could not
// be recorded and Pub/Sub should redeliver it.
type PubSubListener struct {
	client       *pubsub.Client
	subscription *pubsub.Subscription
	command      cor.Command
}

func NewPubSubListener(
	pubsubClient *pubsub.Client,
	subscriptionID string,
	command cor.Command,
) (cmd *PubSubListener, err error) {
	sub := pubsubClient.Subscription(subscriptionID)
	cmd = &PubSubListener{
		client:       pubsubClient,
		subscription: sub,
		command:      command,
	}
	return cmd, nil
}

// SetCommand attaches the command once; later calls are ignored.
func (m *PubSubListener) SetCommand(command cor.Command) {
	if m.command == nil {
		m.command = command
	}
}

// SetConcurrency caps the number of messages handled at the same time.
func (m *PubSubListener) SetConcurrency(n int) {
	if n <= 0 {
		return
	}
	m.subscription.ReceiveSettings.NumGoroutines = 1
	m.subscription.ReceiveSettings.MaxOutstandingMessages = n
}

// Listen blocks until ctx is cancelled or the subscription fails.
func (m *PubSubListener) Listen(ctx context.Context) error {
	slog.InfoContext(ctx, "listening", "subscription", m.subscription.String())
	tracer := otel.Tracer("message-listener")

	err := m.subscription.Receive(ctx, func(msgCtx context.Context, msg *pubsub.Message) {
		spanCtx, span := tracer.Start(msgCtx, "receive-message")
		defer span.End()
		span.SetAttributes(
			attribute.String("msg.id", msg.ID),
			attribute.Int("msg.delivery_attempt", deliveryAttempt(msg)),
		)

		chainCtx := cor.NewContextWithInput(spanCtx, string(msg.Data))
		defer chainCtx.Close()

		m.command.Execute(chainCtx)

		if err := chainCtx.Err(); err != nil {
			span.SetStatus(codes.Error, "failed")
			slog.WarnContext(spanCtx, "error executing chain", "msg_id", msg.ID, "error", err)
		} else {
			span.SetStatus(codes.Ok, "success")
		}

		if cor.RetryRequested(chainCtx) {
			msg.Nack()
			return
		}
		msg.Ack()
	})
	if err != nil {
		slog.ErrorContext(ctx, "error receiving data", "subscription", m.subscription.String(), "error", err)
	}
	return err
}

func deliveryAttempt(msg *pubsub.Message) int {
	if msg.DeliveryAttempt == nil {
		return 0
	}
	return *msg.DeliveryAttempt
}
