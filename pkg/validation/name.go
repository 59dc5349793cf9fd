// Copyright (C) 2025 Formlio (maintainers@forml.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation for registry identifiers.
//
// Project, release and node names are embedded in store keys and file
// paths; validating them at the write boundary prevents key-space
// corruption and path traversal from user-provided names.
package validation

import (
	"fmt"
	"regexp"
)

// namePattern matches valid registry identifiers.
// Allows: letters, digits, then dots, hyphens, underscores.
// Max length: 64 characters.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]{0,63}$`)

// ValidateName validates one registry identifier (a project, release
// or node name).
//
// Valid names:
//   - 1-64 characters
//   - Letters and digits
//   - Dots (.), hyphens (-) and underscores (_) after the first character
//
// Separators ("/") and whitespace are rejected, so a name can never
// escape its segment of a store key or a directory path.
//
// Example:
//
//	if err := validation.ValidateName(project); err != nil {
//	    return fmt.Errorf("invalid project: %w", err)
//	}
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid name %q (must be 1-64 alphanumeric chars, dots, hyphens, or underscores)", name)
	}
	return nil
}

// ValidateNames validates multiple identifiers at once.
// Returns an error naming every invalid entry if any fail.
func ValidateNames(names ...string) error {
	var invalid []string
	for _, name := range names {
		if err := ValidateName(name); err != nil {
			invalid = append(invalid, name)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid names: %q", invalid)
	}
	return nil
}
