// Copyright (C) 2025 Formlio (maintainers@forml.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pool

import "fmt"

// Task is one unit of serving work: a decoded request entry tagged with
// the executor-assigned id. Ids are unique and strictly increasing within
// one executor's lifetime.
type Task struct {
	// ID correlates the task with its eventual result.
	ID uint64

	// Entry is the decoded request payload handed to the expression.
	Entry any
}

// FaultKind classifies a failure crossing the pool boundary.
type FaultKind string

const (
	// FaultActor marks an actor raising during expression evaluation.
	// Actor faults are pool-fatal: in-process actor state may now be
	// inconsistent.
	FaultActor FaultKind = "actor"

	// FaultInternal marks a programming-error-class fault inside the
	// compiled expression (fan-out invariant violations).
	FaultInternal FaultKind = "internal"
)

// Fault is the serializable error representation carried by a failure
// Result. Workers never pass error values across the boundary directly;
// the receiving side reconstructs a typed error from the fault.
type Fault struct {
	// Kind classifies the failure.
	Kind FaultKind

	// Message is the flattened error text.
	Message string
}

// Error makes Fault usable as an ordinary error on the receiving side.
func (f *Fault) Error() string {
	return fmt.Sprintf("%s fault: %s", f.Kind, f.Message)
}

// Result is the outcome of one task: exactly one of Outcome or Fault is
// set. Produced by a worker, consumed by the executor's reconciliation
// loop.
type Result struct {
	// ID matches the originating task.
	ID uint64

	// Outcome is the expression output on success.
	Outcome any

	// Fault is the failure description, nil on success.
	Fault *Fault
}
