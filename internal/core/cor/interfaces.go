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

// Package cor (Chain of Responsibility) provides the building blocks the
// migration is assembled from. This file defines the interfaces; the Base*
// files hold the default implementations.
//
// A workflow is a `Chain` of `Command`s sharing one `Context`. Commands read
// their input from the Context, do their work and write their output back. A
// command that fails records the error in the Context, which stops the chain
// unless it was told to continue on failure.
package cor

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// CtxIn and CtxOut are the keys a BaseChain pipes data through.
const (
	// CtxIn is the default key for the primary input of a command. The BaseChain
	// fills it with the output of the previous command.
	CtxIn = "__IN__"
	// CtxOut is the default key where a command places its primary output.
	CtxOut = "__OUT__"
)

// Context is the shared state of one workflow execution. Implementations must
// be safe for concurrent use, since commands fan work out to goroutines that
// record errors as they go.
type Context interface {
	// SetContext sets the standard Go context carrying cancellation and the
	// current trace span.
	SetContext(ctx context.Context)

	// GetContext returns the standard Go context.
	GetContext() context.Context

	// Add stores a value under key and returns the Context for chaining.
	Add(key string, value interface{}) Context

	// Get returns the value stored under key, or nil.
	Get(key string) interface{}

	// Remove deletes the value stored under key.
	Remove(key string)

	// AddError records err under key, normally the name of the failing command.
	// A second error under the same key is joined to the first.
	AddError(key string, err error)

	// GetErrors returns a copy of the recorded errors keyed by command name.
	GetErrors() map[string]error

	// HasErrors reports whether any error has been recorded.
	HasErrors() bool

	// Err returns all recorded errors joined in key order, or nil.
	Err() error
}

// Executable is anything with an Execute step.
type Executable interface {
	Execute(context Context)
}

// Command is a named, instrumented unit of work.
type Command interface {
	Executable

	// GetName returns the name used in logs, spans and metric names.
	GetName() string

	// GetInputParam returns the Context key of the command's primary input.
	GetInputParam() string

	// GetOutputParam returns the Context key of the command's primary output.
	GetOutputParam() string

	// IsExecutable is the precondition checked before Execute.
	IsExecutable(context Context) bool

	GetTracer() trace.Tracer
	GetMeter() metric.Meter
	GetSuccessCounter() metric.Int64Counter
	GetErrorCounter() metric.Int64Counter
}

// Chain is an ordered sequence of commands. A Chain is itself a Command, so
// chains nest.
type Chain interface {
	Command

	// ContinueOnFailure makes the chain run every command even after one of
	// them recorded an error.
	ContinueOnFailure(bool) Chain

	// AddCommand appends command to the sequence.
	AddCommand(command Command) Chain
}
