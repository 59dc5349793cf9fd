// Copyright (C) 2025 Formlio (maintainers@forml.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package application

import "errors"

var (
	// ErrUnknown indicates no descriptor is registered under the
	// requested application name.
	ErrUnknown = errors.New("application: unknown application")

	// ErrDecode indicates the request payload could not be parsed
	// into a pipeline entry.
	ErrDecode = errors.New("application: undecodable request")

	// ErrEncoding indicates none of the accepted response encodings
	// is supported by the descriptor.
	ErrEncoding = errors.New("application: unsupported encoding")
)
