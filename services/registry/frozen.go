// Copyright (C) 2025 Formlio (maintainers@forml.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package registry

import (
	"context"
	"fmt"
	"io"
)

// Frozen is a read-only view over a mutable registry.
//
// Every read-class operation delegates transparently to the wrapped
// registry; every write-class operation fails with ErrImmutable without
// touching the underlying store. The serving path is handed a Frozen view
// so the same registry object used for publishing can never be mutated by
// a serving code path.
//
// # Lifecycle
//
// One Frozen view is created per wrapper and lives for the wrapper's
// lifetime. Close on the view is a write-class operation: it refuses to
// close the underlying registry.
type Frozen struct {
	inner Registry
}

// Freeze wraps a registry in a read-only view.
func Freeze(r Registry) *Frozen {
	return &Frozen{inner: r}
}

// Projects delegates to the wrapped registry.
func (f *Frozen) Projects(ctx context.Context) ([]string, error) {
	return f.inner.Projects(ctx)
}

// Releases delegates to the wrapped registry.
func (f *Frozen) Releases(ctx context.Context, project string) ([]string, error) {
	return f.inner.Releases(ctx, project)
}

// Generations delegates to the wrapped registry.
func (f *Frozen) Generations(ctx context.Context, project, release string) ([]int, error) {
	return f.inner.Generations(ctx, project, release)
}

// Pull delegates to the wrapped registry.
func (f *Frozen) Pull(ctx context.Context, instance Instance) (Tag, error) {
	return f.inner.Pull(ctx, instance)
}

// Read delegates to the wrapped registry.
func (f *Frozen) Read(ctx context.Context, instance Instance, node string) ([]byte, error) {
	return f.inner.Read(ctx, instance, node)
}

// Open delegates to the wrapped registry.
func (f *Frozen) Open(ctx context.Context, project, release string) (io.ReadCloser, error) {
	return f.inner.Open(ctx, project, release)
}

// Push always fails with ErrImmutable.
func (f *Frozen) Push(context.Context, string, string, io.Reader) error {
	return fmt.Errorf("push: %w", ErrImmutable)
}

// Write always fails with ErrImmutable.
func (f *Frozen) Write(context.Context, Instance, string, []byte) error {
	return fmt.Errorf("write: %w", ErrImmutable)
}

// Close always fails with ErrImmutable; the view does not own the
// underlying registry's lifecycle.
func (f *Frozen) Close() error {
	return fmt.Errorf("close: %w", ErrImmutable)
}

// Frozen satisfies Registry so serving components cannot tell it apart
// from the real thing.
var _ Registry = (*Frozen)(nil)
