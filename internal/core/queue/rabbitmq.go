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
	"log/slog"
	"sync"

	"github.com/jaycherian/gcp-go-photo-search/internal/core/cor"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitQueue uses a durable RabbitMQ queue with persistent messages and
// manual acknowledgements.
type RabbitQueue struct {
	conn      *amqp.Connection
	publishMu sync.Mutex
	publishCh *amqp.Channel
	name      string
	workers   int
}

// NewRabbitQueue connects to url and declares queueName.
func NewRabbitQueue(url, queueName string, workers int) (*RabbitQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := declare(ch, queueName); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	if workers <= 0 {
		workers = 1
	}
	slog.Info("RabbitMQ queue ready", "queue", queueName)
	return &RabbitQueue{conn: conn, publishCh: ch, name: queueName, workers: workers}, nil
}

func declare(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(
		name,  // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", name, err)
	}
	return nil
}

func (q *RabbitQueue) Publish(ctx context.Context, body []byte) error {
	q.publishMu.Lock()
	defer q.publishMu.Unlock()
	err := q.publishCh.PublishWithContext(ctx,
		"",     // exchange
		q.name, // routing key
		false,  // mandatory
		false,  // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Listen consumes on its own channel with a prefetch equal to the number of
// workers, so no worker holds more than one unacknowledged message.
func (q *RabbitQueue) Listen(ctx context.Context, command cor.Command) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open consumer channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(q.workers, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch: %w", err)
	}
	deliveries, err := ch.ConsumeWithContext(ctx,
		q.name, // queue
		"",     // consumer
		false,  // auto-ack
		false,  // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return fmt.Errorf("failed to consume from %s: %w", q.name, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range deliveries {
				if deliver(ctx, command, d.Body) {
					if err := d.Nack(false, true); err != nil {
						slog.WarnContext(ctx, "failed to nack message", "error", err)
					}
					continue
				}
				if err := d.Ack(false); err != nil {
					slog.WarnContext(ctx, "failed to ack message", "error", err)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (q *RabbitQueue) Close() error {
	if q.publishCh != nil {
		if err := q.publishCh.Close(); err != nil {
			slog.Warn("error closing channel", "error", err)
		}
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
