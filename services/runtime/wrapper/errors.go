// Copyright (C) 2025 Formlio (maintainers@forml.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package wrapper

import "errors"

// ErrInvalidConfig indicates a required configuration piece is missing.
var ErrInvalidConfig = errors.New("wrapper: invalid configuration")
