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

package cor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"go.uber.org/multierr"
)

// BaseContext is the default Context. It is safe for concurrent use so that a
// command may fan work out to goroutines that report back through it.
type BaseContext struct {
	mu         sync.RWMutex
	data       map[string]any
	errors     map[string]error
	errorOrder []string
	tempFiles  []string
	context    context.Context
}

// NewBaseContext returns an empty context with no Go context attached.
func NewBaseContext() Context {
	return &BaseContext{
		data:      make(map[string]any),
		errors:    make(map[string]error),
		tempFiles: make([]string, 0),
	}
}

// NewContextWithInput returns a context bound to ctx with input stored under CtxIn.
func NewContextWithInput(ctx context.Context, input any) Context {
	c := NewBaseContext()
	c.SetContext(ctx)
	if input != nil {
		c.Add(CtxIn, input)
	}
	return c
}

func (c *BaseContext) SetContext(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.context = ctx
}

func (c *BaseContext) GetContext() context.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.context
}

// Close removes the registered temp files. Missing files are ignored.
func (c *BaseContext) Close() {
	for _, file := range c.GetTempFiles() {
		if err := os.RemoveAll(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed to remove temporary file", "path", file, "error", err)
		}
	}
}

func (c *BaseContext) Add(key string, value any) Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return c
}

func (c *BaseContext) AddTempFile(file string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tempFiles = append(c.tempFiles, file)
}

func (c *BaseContext) GetTempFiles() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.tempFiles))
	copy(out, c.tempFiles)
	return out
}

// AddError records err under key. A second error for the same key is combined
// with the first rather than replacing it.
func (c *BaseContext) AddError(key string, err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.errors[key]; ok {
		c.errors[key] = multierr.Append(prev, err)
		return
	}
	c.errors[key] = err
	c.errorOrder = append(c.errorOrder, key)
}

// GetErrors returns a copy of the recorded errors.
func (c *BaseContext) GetErrors() map[string]error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]error, len(c.errors))
	for k, v := range c.errors {
		out[k] = v
	}
	return out
}

func (c *BaseContext) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var combined error
	for _, key := range c.errorOrder {
		combined = multierr.Append(combined, fmt.Errorf("%s: %w", key, c.errors[key]))
	}
	return combined
}

func (c *BaseContext) Get(key string) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data[key]
}

func (c *BaseContext) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}

func (c *BaseContext) HasErrors() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.errors) > 0
}

// RetryRequested reports whether a command asked the transport to redeliver
// the work item instead of acknowledging it.
func RetryRequested(c Context) bool {
	retry, _ := c.Get(CtxRetry).(bool)
	return retry
}
