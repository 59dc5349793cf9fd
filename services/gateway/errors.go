// Copyright (C) 2025 Formlio (maintainers@forml.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gateway

import "errors"

var (
	// ErrInvalidConfig indicates the gateway configuration failed
	// validation.
	ErrInvalidConfig = errors.New("gateway: invalid configuration")

	// ErrNilEngine indicates the gateway was built without an engine.
	ErrNilEngine = errors.New("gateway: nil engine")
)
