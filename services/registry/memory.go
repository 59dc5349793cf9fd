// Copyright (C) 2025 Formlio (maintainers@forml.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package registry

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process registry for tests and single-node setups.
//
// # Thread Safety
//
// Safe for concurrent use; all state is guarded by one RWMutex.
type Memory struct {
	mu       sync.RWMutex
	closed   bool
	artifact map[string]map[string][]byte   // project -> release -> package
	state    map[Instance]map[string][]byte // generation -> node -> bytes
	created  map[Instance]time.Time         // generation -> commit time
	releases map[string][]string            // project -> ordered releases
}

// NewMemory creates an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{
		artifact: make(map[string]map[string][]byte),
		state:    make(map[Instance]map[string][]byte),
		created:  make(map[Instance]time.Time),
		releases: make(map[string][]string),
	}
}

// Projects lists all project names in lexical order.
func (m *Memory) Projects(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	projects := make([]string, 0, len(m.releases))
	for project := range m.releases {
		projects = append(projects, project)
	}
	sort.Strings(projects)
	return projects, nil
}

// Releases lists a project's releases in publication order.
func (m *Memory) Releases(_ context.Context, project string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	releases, ok := m.releases[project]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]string, len(releases))
	copy(out, releases)
	return out, nil
}

// Generations lists a release's generations in ascending order.
func (m *Memory) Generations(_ context.Context, project, release string) ([]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	if !m.hasRelease(project, release) {
		return nil, ErrNotFound
	}
	generations := make([]int, 0)
	for instance := range m.state {
		if instance.Project == project && instance.Release == release {
			generations = append(generations, instance.Generation)
		}
	}
	sort.Ints(generations)
	return generations, nil
}

// Pull returns the metadata tag of one generation.
func (m *Memory) Pull(_ context.Context, instance Instance) (Tag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Tag{}, ErrClosed
	}
	nodes, ok := m.state[instance]
	if !ok {
		return Tag{}, ErrNotFound
	}
	tag := Tag{Created: m.created[instance], Nodes: make([]string, 0, len(nodes))}
	for node := range nodes {
		tag.Nodes = append(tag.Nodes, node)
	}
	sort.Strings(tag.Nodes)
	return tag, nil
}

// Read returns one node's persisted state.
func (m *Memory) Read(_ context.Context, instance Instance, node string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	nodes, ok := m.state[instance]
	if !ok {
		return nil, ErrNotFound
	}
	state, ok := nodes[node]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(state))
	copy(out, state)
	return out, nil
}

// Open returns the release's packaged artifact.
func (m *Memory) Open(_ context.Context, project, release string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	artifact, ok := m.artifact[project][release]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(artifact)), nil
}

// Push publishes a release's packaged artifact.
func (m *Memory) Push(_ context.Context, project, release string, artifact io.Reader) error {
	payload, err := io.ReadAll(artifact)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.artifact[project] == nil {
		m.artifact[project] = make(map[string][]byte)
	}
	if _, exists := m.artifact[project][release]; !exists {
		m.releases[project] = append(m.releases[project], release)
	}
	m.artifact[project][release] = payload
	return nil
}

// Write persists one node's state, creating the generation on first write.
func (m *Memory) Write(_ context.Context, instance Instance, node string, state []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if !m.hasRelease(instance.Project, instance.Release) {
		// State may only attach to a published release.
		return ErrNotFound
	}
	if m.state[instance] == nil {
		m.state[instance] = make(map[string][]byte)
		m.created[instance] = time.Now()
	}
	payload := make([]byte, len(state))
	copy(payload, state)
	m.state[instance][node] = payload
	return nil
}

// Close discards the in-memory content. Every subsequent operation
// fails with ErrClosed; closing twice is harmless.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.artifact = nil
	m.state = nil
	m.created = nil
	m.releases = nil
	return nil
}

// hasRelease reports whether the release was published. Caller holds mu.
func (m *Memory) hasRelease(project, release string) bool {
	for _, r := range m.releases[project] {
		if r == release {
			return true
		}
	}
	return false
}

var _ Registry = (*Memory)(nil)
