// Copyright (C) 2025 Formlio (maintainers@forml.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package compiler

import "errors"

// Structural errors raised during compilation. These are fatal and never
// retried; they indicate a malformed symbol graph.
var (
	// ErrCyclic is returned when the dependency graph contains a cycle.
	ErrCyclic = errors.New("symbol graph is not acyclic")

	// ErrNoTerminal is returned when no symbol qualifies as the graph
	// output (every symbol is referenced by another one).
	ErrNoTerminal = errors.New("symbol graph has no terminal node")

	// ErrMultipleTerminals is returned when more than one symbol has zero
	// downstream consumers. A servable apply graph has exactly one output.
	ErrMultipleTerminals = errors.New("symbol graph has multiple terminal nodes")

	// ErrNoSource is returned when no symbol consumes the external input.
	ErrNoSource = errors.New("symbol graph has no closure source")

	// ErrMultipleSources is returned when more than one symbol would
	// consume the external input.
	ErrMultipleSources = errors.New("symbol graph has multiple closure sources")

	// ErrDependentLoader is returned when a loader instruction declares
	// dependencies. Loaders are graph inputs and must depend on nothing.
	ErrDependentLoader = errors.New("loader instruction must not have dependencies")

	// ErrUnexpectedOp is returned when a committer or dumper instruction
	// appears in an apply-mode graph. Those are reserved for training and
	// persistence graphs.
	ErrUnexpectedOp = errors.New("unexpected instruction in apply graph")

	// ErrUnknownDependency is returned when a symbol references a
	// dependency id that is not part of the graph.
	ErrUnknownDependency = errors.New("unknown dependency")

	// ErrDuplicateSymbol is returned when two symbols share an id.
	ErrDuplicateSymbol = errors.New("duplicate symbol id")

	// ErrDetachedSymbol is returned when a symbol is unreachable from the
	// terminal node.
	ErrDetachedSymbol = errors.New("symbol not reachable from terminal")

	// ErrStatelessActor is returned when persisted state is wired into an
	// actor that does not implement flow.Stateful.
	ErrStatelessActor = errors.New("actor does not accept state")

	// ErrUntrainableActor is returned when a train action is bound to an
	// actor that does not implement flow.Trainable.
	ErrUntrainableActor = errors.New("actor does not support training")
)

// Evaluation faults. ErrNotIndexable is a user-facing actor contract
// violation; the replica errors are programming-error-class faults in the
// compiled expression itself.
var (
	// ErrNotIndexable is returned when a getter projects from an upstream
	// output that is not a multi-output sequence.
	ErrNotIndexable = errors.New("upstream output is not indexable")

	// ErrReplicaClash is returned when a fan-out queue is non-empty at the
	// moment its push term executes.
	ErrReplicaClash = errors.New("fanout queue not drained before push")

	// ErrReplicaEmpty is returned when a pop term finds its fan-out queue
	// empty, meaning the matching push has not executed yet.
	ErrReplicaEmpty = errors.New("fanout queue empty on pop")

	// ErrReplicaLeak is returned when any fan-out queue still holds
	// replicas after a full top-level expression evaluation.
	ErrReplicaLeak = errors.New("fanout replicas outstanding after evaluation")
)
