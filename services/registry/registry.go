// Copyright (C) 2025 Formlio (maintainers@forml.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package registry defines the versioned model registry consumed by the
// serving runtime.
//
// A registry stores, per project and release, the packaged pipeline
// artifact and any number of generations: immutable snapshots of the
// pipeline's learned per-node state produced by training runs.
//
// The serving path never mutates a registry. It is handed a Frozen view
// (see frozen.go) that forwards all read operations and fails every
// write-class operation with ErrImmutable.
//
// # Thread Safety
//
// All Registry implementations in this repository are safe for concurrent
// use.
package registry

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Instance identifies one immutable, versioned snapshot of a pipeline's
// learned state. Instances are value-comparable and usable as map keys;
// equal instances must share one executor.
type Instance struct {
	// Project is the pipeline project name.
	Project string

	// Release is the published pipeline version within the project.
	Release string

	// Generation is the training snapshot number within the release.
	Generation int
}

// String renders the instance as project/release/generation.
func (i Instance) String() string {
	return fmt.Sprintf("%s/%s/%d", i.Project, i.Release, i.Generation)
}

// Tag is the metadata of one generation: which pipeline nodes have
// persisted state and when the snapshot was committed.
type Tag struct {
	// Nodes lists the pipeline node ids with persisted state.
	Nodes []string `json:"nodes"`

	// Created is the commit time of the generation.
	Created time.Time `json:"created"`
}

// Registry is the versioned artifact and state store.
//
// Read-class operations (Projects, Releases, Generations, Pull, Read,
// Open) are always available. Write-class operations (Push, Write, Close)
// are blocked on frozen views.
type Registry interface {
	// Projects lists all project names.
	Projects(ctx context.Context) ([]string, error)

	// Releases lists the published releases of a project, oldest first.
	// Returns ErrNotFound for an unknown project.
	Releases(ctx context.Context, project string) ([]string, error)

	// Generations lists the training generations of a release in
	// ascending order. Returns ErrNotFound for an unknown release.
	Generations(ctx context.Context, project, release string) ([]int, error)

	// Pull returns the metadata tag of one generation.
	Pull(ctx context.Context, instance Instance) (Tag, error)

	// Read returns the persisted state of one pipeline node within a
	// generation.
	Read(ctx context.Context, instance Instance, node string) ([]byte, error)

	// Open returns the packaged pipeline artifact of a release. The
	// caller must close the returned reader.
	Open(ctx context.Context, project, release string) (io.ReadCloser, error)

	// Push publishes a release's packaged pipeline artifact.
	Push(ctx context.Context, project, release string, artifact io.Reader) error

	// Write persists one node's state into a generation, creating the
	// generation on first write.
	Write(ctx context.Context, instance Instance, node string, state []byte) error

	// Close releases the registry's underlying resources.
	Close() error
}

// State adapts one generation of a registry to the compiler's state
// accessor: Load(node) reads that node's persisted bytes.
type State struct {
	ctx      context.Context
	registry Registry
	instance Instance
}

// NewState returns a state accessor bound to one generation.
//
// The context is captured because state loading happens deep inside
// expression compilation where no request context exists; pass the worker
// pool's lifecycle context.
func NewState(ctx context.Context, r Registry, instance Instance) State {
	return State{ctx: ctx, registry: r, instance: instance}
}

// Load reads the persisted bytes for one pipeline node.
func (s State) Load(node string) ([]byte, error) {
	return s.registry.Read(s.ctx, s.instance, node)
}

// Instance returns the generation this accessor is bound to.
func (s State) Instance() Instance {
	return s.instance
}
