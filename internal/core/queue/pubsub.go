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

package queue

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/jaycherian/gcp-go-photo-search/internal/cloud"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/cor"
)

// PubSubQueue publishes to a topic and consumes through a PubSubListener on
// its subscription.
type PubSubQueue struct {
	topic    *pubsub.Topic
	listener *cloud.PubSubListener
	workers  int
}

func NewPubSubQueue(client *pubsub.Client, sub cloud.TopicSubscription, listener *cloud.PubSubListener, workers int) *PubSubQueue {
	return &PubSubQueue{topic: client.Topic(sub.Topic), listener: listener, workers: workers}
}

func (q *PubSubQueue) Publish(ctx context.Context, body []byte) error {
	res := q.topic.Publish(ctx, &pubsub.Message{
		Data:       body,
		Attributes: map[string]string{"content-type": "application/json"},
	})
	if _, err := res.Get(ctx); err != nil {
		return fmt.Errorf("queue: publish to %s: %w", q.topic.ID(), err)
	}
	return nil
}

func (q *PubSubQueue) Listen(ctx context.Context, command cor.Command) error {
	q.listener.SetCommand(command)
	q.listener.SetConcurrency(q.workers)
	return q.listener.Listen(ctx)
}

// Close flushes pending publishes. The client is owned by cloud.ServiceClients.
func (q *PubSubQueue) Close() error {
	q.topic.Stop()
	return nil
}
