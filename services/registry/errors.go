// Copyright (C) 2025 Formlio (maintainers@forml.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package registry

import "errors"

// Sentinel errors for registry operations.
var (
	// ErrNotFound is returned when a project, release, generation or node
	// does not exist in the registry. Callers surface this as a
	// missing-resource error, never retried automatically.
	ErrNotFound = errors.New("not found in registry")

	// ErrImmutable is returned by every write-class operation on a frozen
	// registry view. The serving path only ever sees frozen registries.
	ErrImmutable = errors.New("registry is frozen for serving")

	// ErrEmptyGeneration is returned when a generation exists but holds
	// no persisted node state.
	ErrEmptyGeneration = errors.New("generation holds no state")

	// ErrClosed is returned by every operation on a registry after Close.
	ErrClosed = errors.New("registry is closed")
)
