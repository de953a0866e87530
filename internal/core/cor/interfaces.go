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

// Package cor (Chain of Responsibility) is the small workflow engine the media
// pipeline is assembled from. A Chain runs Commands in order over a shared
// Context, which carries the request-scoped Go context, the values commands
// hand to each other, the errors they raise and the temp files to remove.
package cor

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// CtxIn holds the primary input of the command about to run. BaseChain
	// moves the previous command's CtxOut here.
	CtxIn = "__IN__"
	// CtxOut is where a command leaves its primary output.
	CtxOut = "__OUT__"
	// CtxRetry is set to true by a workflow when the failure could not be
	// recorded and the work item should be redelivered by the transport.
	CtxRetry = "__RETRY__"

	// MeterName is the instrumentation scope shared by all commands.
	MeterName = "github.com/jaycherian/gcp-go-photo-search"
)

// Context is the shared state of a single workflow execution.
type Context interface {
	// SetContext replaces the Go context (cancellation, deadlines, spans).
	SetContext(ctx context.Context)
	GetContext() context.Context

	// Add stores a value and returns the Context for chaining.
	Add(key string, value any) Context
	Get(key string) any
	Remove(key string)

	// AddError records a failure under the name of the command that raised it.
	AddError(key string, err error)
	GetErrors() map[string]error
	HasErrors() bool
	// Err combines every recorded error in the order they were added, or
	// returns nil when there are none.
	Err() error

	// AddTempFile registers a path that Close removes.
	AddTempFile(file string)
	GetTempFiles() []string

	// Close removes every registered temp file.
	Close()
}

// Executable is anything that runs against a Context.
type Executable interface {
	Execute(context Context)
}

// Command is a single named, instrumented step of a workflow.
type Command interface {
	Executable

	GetName() string
	GetInputParam() string
	GetOutputParam() string

	// IsExecutable reports whether the Context holds what the command needs.
	// A chain skips commands that are not executable.
	IsExecutable(context Context) bool

	GetTracer() trace.Tracer
	GetMeter() metric.Meter
	GetSuccessCounter() metric.Int64Counter
	GetErrorCounter() metric.Int64Counter
}

// Chain is a Command composed of other Commands.
type Chain interface {
	Command

	// ContinueOnFailure keeps the chain running after a command records an error.
	ContinueOnFailure(bool) Chain
	AddCommand(command Command) Chain
}
