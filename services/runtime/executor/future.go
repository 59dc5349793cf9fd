// Copyright (C) 2025 Formlio (maintainers@forml.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package executor

import (
	"context"
	"sync"
)

// Future is the pending half of a submitted task. It resolves exactly
// once, either with the task's outcome or with an error.
//
// # Thread Safety
//
// Safe for concurrent use; any number of goroutines may Await the same
// future.
type Future struct {
	done    chan struct{}
	once    sync.Once
	outcome any
	err     error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// resolve settles the future. Later calls are no-ops.
func (f *Future) resolve(outcome any, err error) {
	f.once.Do(func() {
		f.outcome = outcome
		f.err = err
		close(f.done)
	})
}

// Await blocks until the future resolves or the context ends.
//
// Outputs:
//
//	any   - The task outcome on success.
//	error - The task's error, or the context error if ctx ended first.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.outcome, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
