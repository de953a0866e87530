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
	"time"

	"github.com/jaycherian/gcp-go-photo-search/internal/core/apperr"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/cor"
	"github.com/jaycherian/gcp-go-photo-search/internal/telemetry"
	"golang.org/x/sync/semaphore"
)

// Gated runs a command only after acquiring a slot on a semaphore shared by
// every worker, bounding concurrent provider calls across items.
type Gated struct {
	cor.Command
	sem     *semaphore.Weighted
	metrics *telemetry.PipelineMetrics
}

func NewGated(command cor.Command, sem *semaphore.Weighted, metrics *telemetry.PipelineMetrics) *Gated {
	return &Gated{Command: command, sem: sem, metrics: metrics}
}

func (g *Gated) Execute(context cor.Context) {
	ctx := context.GetContext()
	if err := g.sem.Acquire(ctx, 1); err != nil {
		context.AddError(g.GetName(), apperr.Wrap(apperr.CodeProvider, err, "provider call timeout waiting for a slot"))
		return
	}
	g.metrics.GateEntered()
	defer func() {
		g.metrics.GateLeft()
		g.sem.Release(1)
	}()
	g.Command.Execute(context)
}

// Timed records how long a command took under its own name.
type Timed struct {
	cor.Command
	metrics *telemetry.PipelineMetrics
}

func NewTimed(command cor.Command, metrics *telemetry.PipelineMetrics) *Timed {
	return &Timed{Command: command, metrics: metrics}
}

func (t *Timed) Execute(context cor.Context) {
	start := time.Now()
	t.Command.Execute(context)
	t.metrics.ObserveStage(t.GetName(), time.Since(start))
}
