// Copyright (C) 2025 Formlio (maintainers@forml.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package application

import (
	"fmt"
	"sort"
	"sync"
)

// Directory is a mutable in-process Inventory. Descriptors are
// registered at startup or at refresh time; lookups are cheap and
// lock-short.
//
// # Thread Safety
//
// Safe for concurrent use.
type Directory struct {
	mu      sync.RWMutex
	entries map[string]Descriptor
}

var _ Inventory = (*Directory)(nil)

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{entries: map[string]Descriptor{}}
}

// Put registers a descriptor under its own name, replacing any
// previous registration for that name.
func (d *Directory) Put(desc Descriptor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[desc.Name()] = desc
}

// Get implements Inventory.
func (d *Directory) Get(application string) (Descriptor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	desc, ok := d.entries[application]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknown, application)
	}
	return desc, nil
}

// List implements Inventory. Names come back sorted.
func (d *Directory) List() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.entries))
	for name := range d.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
