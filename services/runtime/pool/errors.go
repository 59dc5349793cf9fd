// Copyright (C) 2025 Formlio (maintainers@forml.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pool

import "errors"

// Sentinel errors for pool lifecycle operations.
var (
	// ErrInvalidConfig is returned when the pool configuration is missing
	// required pieces (loader, channels).
	ErrInvalidConfig = errors.New("invalid pool configuration")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("pool already started")

	// ErrNotStarted is returned when Stop is called before Start.
	ErrNotStarted = errors.New("pool not started")
)
