// Copyright (C) 2025 Formlio (maintainers@forml.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package executor

import "errors"

var (
	// ErrInvalidConfig indicates a required configuration piece is missing.
	ErrInvalidConfig = errors.New("executor: invalid configuration")

	// ErrNotRunning indicates a task was submitted outside the running
	// window, either before Start or after the pool drained.
	ErrNotRunning = errors.New("executor: not running")

	// ErrAlreadyStarted indicates Start was called twice.
	ErrAlreadyStarted = errors.New("executor: already started")

	// ErrAborted resolves futures whose task was accepted but whose
	// result will never arrive because the pool went down first.
	ErrAborted = errors.New("executor: aborted before completion")
)
