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

package queue_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/cor"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/model"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder captures message bodies and asks for a retry the first time it
// sees a body listed in retryOnce.
type recorder struct {
	cor.BaseCommand
	mu        sync.Mutex
	seen      []string
	retryOnce map[string]bool
	done      chan struct{}
	want      int
}

func newRecorder(want int) *recorder {
	return &recorder{
		BaseCommand: *cor.NewBaseCommand("recorder"),
		retryOnce:   map[string]bool{},
		done:        make(chan struct{}),
		want:        want,
	}
}

func (r *recorder) Execute(ctx cor.Context) {
	body := ctx.Get(cor.CtxIn).(string)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, body)
	if r.retryOnce[body] {
		delete(r.retryOnce, body)
		ctx.Add(cor.CtxRetry, true)
		return
	}
	if len(r.seen) == r.want {
		close(r.done)
	}
}

func (r *recorder) bodies() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

func listen(t *testing.T, q queue.Queue, cmd cor.Command) context.CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Listen(ctx, cmd)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestMemoryQueueDeliversEveryMessage(t *testing.T) {
	q := queue.NewMemoryQueue(10, 3)
	rec := newRecorder(5)
	listen(t, q, rec)

	for _, b := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, q.Publish(context.Background(), []byte(b)))
	}
	select {
	case <-rec.done:
	case <-time.After(5 * time.Second):
		t.Fatal("messages were not delivered")
	}
	assert.ElementsMatch(t, []string{"a", "b", "c", "d", "e"}, rec.bodies())
}

func TestMemoryQueueRejectsWhenFull(t *testing.T) {
	q := queue.NewMemoryQueue(2, 1)
	require.NoError(t, q.Publish(context.Background(), []byte("1")))
	require.NoError(t, q.Publish(context.Background(), []byte("2")))
	assert.ErrorIs(t, q.Publish(context.Background(), []byte("3")), queue.ErrQueueFull)
	assert.Equal(t, 2, q.Len())

	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Publish(context.Background(), []byte("4")), queue.ErrQueueClosed)
}

func TestMemoryQueueRedeliversOnRetry(t *testing.T) {
	q := queue.NewMemoryQueue(4, 1)
	q.RetryDelay = 10 * time.Millisecond
	rec := newRecorder(2)
	rec.retryOnce["flaky"] = true
	listen(t, q, rec)

	require.NoError(t, q.Publish(context.Background(), []byte("flaky")))
	select {
	case <-rec.done:
	case <-time.After(5 * time.Second):
		t.Fatal("retried message was not redelivered")
	}
	assert.Equal(t, []string{"flaky", "flaky"}, rec.bodies())
}

func TestEnqueuerEncodesProcessRequest(t *testing.T) {
	q := queue.NewMemoryQueue(1, 1)
	req := model.ProcessRequest{ItemID: uuid.New(), OwnerID: uuid.New(), EnqueuedAt: time.Now().UTC()}
	require.NoError(t, queue.NewEnqueuer(q).Enqueue(context.Background(), req))

	rec := newRecorder(1)
	listen(t, q, rec)
	select {
	case <-rec.done:
	case <-time.After(5 * time.Second):
		t.Fatal("request was not delivered")
	}
	var got model.ProcessRequest
	require.NoError(t, json.Unmarshal([]byte(rec.bodies()[0]), &got))
	assert.Equal(t, req.ItemID, got.ItemID)
	assert.Equal(t, req.OwnerID, got.OwnerID)
}
