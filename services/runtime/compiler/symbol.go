// Copyright (C) 2025 Formlio (maintainers@forml.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package compiler turns an ordered apply-mode symbol graph into a single
// composed callable, the Expression.
//
// The pipeline composition layer (out of scope here) produces a DAG of
// instructions; this package compiles that DAG once and the serving path
// then invokes the resulting Expression repeatedly with per-request input.
// All compilation work (topological leveling, actor spawning, state
// restoration, fan-out wiring) happens up front so the per-call path is a
// plain chain of function calls.
//
// # Ownership Model
//
// The compiled Expression exclusively owns its term graph and the actors
// spawned into it. Terms never outlive the Expression and are never shared
// between Expressions.
//
// # Thread Safety
//
// Compile is safe for concurrent use. An Expression is NOT safe for
// concurrent invocation: actors may hold mutable in-process state.
// Replicate the Expression per worker instead of sharing one instance.
package compiler

import "github.com/formlio/forml-sub003/services/runtime/flow"

// Action selects which actor capability a functor instruction binds.
type Action int

const (
	// Apply binds the actor's apply action (the serving path).
	Apply Action = iota

	// Train binds the actor's train action. Never present in apply-mode
	// graphs served by this runtime, but accepted so one symbol model
	// covers both modes.
	Train
)

// String returns the action name for logs and error messages.
func (a Action) String() string {
	switch a {
	case Apply:
		return "apply"
	case Train:
		return "train"
	default:
		return "unknown"
	}
}

// Op is one instruction: an opaque unit of computation within a symbol
// graph. The concrete variants below are the only implementations.
type Op interface {
	isOp()
}

// Loader marks a graph input carrying persisted actor state. Loaders are
// evaluated eagerly at compile time against the provided State accessor
// and inlined into their consuming functor; they never become terms.
type Loader struct {
	// Node is the state key passed to State.Load.
	Node string
}

// Functor applies an actor action, optionally pre-loaded with persisted
// state delivered through upstream Loader dependencies.
type Functor struct {
	// Node identifies the pipeline node, used in error messages.
	Node string

	// Builder spawns the actor instance backing this functor.
	Builder flow.Builder

	// Action selects apply or train dispatch.
	Action Action
}

// Getter projects one element out of a multi-output upstream result.
type Getter struct {
	// Index is the position projected from the upstream []any.
	Index int
}

// Committer merges trained partitions into a new generation. Reserved for
// train-mode graphs; rejected by this compiler.
type Committer struct{}

// Dumper persists trained actor state. Reserved for train-mode graphs;
// rejected by this compiler.
type Dumper struct{}

func (Loader) isOp()    {}
func (Functor) isOp()   {}
func (Getter) isOp()    {}
func (Committer) isOp() {}
func (Dumper) isOp()    {}

// Symbol pairs one instruction with its upstream dependencies.
//
// Args lists dependency symbol ids in positional order; the referenced
// symbols' outputs become the instruction's call arguments. Loader
// dependencies are consumed at compile time (state restoration) and do
// not count as positional data arguments.
type Symbol struct {
	// ID uniquely identifies this symbol within the graph.
	ID string

	// Op is the instruction to materialize.
	Op Op

	// Args are upstream symbol ids, in positional order.
	Args []string
}

// State provides read access to one generation's persisted node state.
// Implemented by the model registry; consumed when inlining loaders.
type State interface {
	// Load returns the persisted bytes for one pipeline node.
	Load(node string) ([]byte, error)
}

// StateFunc adapts a plain function to the State interface.
type StateFunc func(node string) ([]byte, error)

// Load calls the underlying function.
func (f StateFunc) Load(node string) ([]byte, error) { return f(node) }
