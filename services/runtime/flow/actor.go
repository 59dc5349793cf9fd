// Copyright (C) 2025 Formlio (maintainers@forml.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package flow defines the actor capability interfaces consumed by the
// serving runtime.
//
// An actor is the unit of pipeline computation: it always has an apply
// action and may additionally support training and state persistence.
// Capabilities are expressed as small static interfaces so the closure
// compiler resolves actions through ordinary interface dispatch rather
// than reflection.
//
// # Ownership Model
//
// Actors may hold mutable in-process state (fitted coefficients, buffers).
// An actor instance therefore belongs to exactly one compiled expression
// and must never be shared across expressions or goroutines. Concurrency
// is achieved by spawning a fresh actor per worker via Builder.Spawn.
//
// # Thread Safety
//
// Builder implementations must be safe for concurrent use; Actor
// implementations are assumed NOT to be.
package flow

// Actor is the minimal capability every pipeline node implements.
//
// Apply runs the node's apply-mode action over its positional inputs and
// returns a single output. Multi-output nodes return a []any that
// downstream getter instructions project from.
type Actor interface {
	// Apply invokes the actor's apply action.
	//
	// Inputs:
	//
	//	inputs - Positional upstream outputs, in dependency order.
	//
	// Outputs:
	//
	//	any - The node output (possibly a []any for multi-output nodes).
	//	error - Non-nil if the actor's computation fails.
	Apply(inputs ...any) (any, error)
}

// Trainable is the optional capability of actors that learn from data.
//
// The serving runtime never calls Train (train-mode graphs are compiled
// elsewhere), but the compiler accepts train actions so one symbol model
// covers both modes.
type Trainable interface {
	Actor

	// Train fits the actor against features and labels.
	Train(features, labels any) error
}

// Stateful is the optional capability of actors with persistable state.
//
// The worker pool uses SetState to restore a versioned generation's
// persisted bytes into a freshly spawned actor before serving.
type Stateful interface {
	Actor

	// State serializes the actor's learned state.
	State() ([]byte, error)

	// SetState restores previously persisted state.
	//
	// SetState is called at most once, before the first Apply.
	SetState(state []byte) error
}

// Builder constructs actor instances for one pipeline node.
//
// Spawn must return a fresh, independent actor on every call. Builders
// carry the node's hyperparameters; learned state is restored separately
// via Stateful.SetState.
type Builder interface {
	// Spawn creates a new actor instance.
	Spawn() Actor
}

// BuilderFunc adapts a plain function to the Builder interface.
type BuilderFunc func() Actor

// Spawn calls the underlying function.
func (f BuilderFunc) Spawn() Actor { return f() }
