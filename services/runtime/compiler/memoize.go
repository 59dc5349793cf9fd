// Copyright (C) 2025 Formlio (maintainers@forml.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package compiler

import "sync"

// memoized caches node state so repeated compilations over the same
// backing source hit storage at most once per node.
type memoized struct {
	source State
	mu     sync.Mutex
	cache  map[string]entry
}

type entry struct {
	state []byte
	err   error
}

// Memoize wraps a state source with a load-once cache. Every worker in
// a pool compiles its own private expression; wrapping the shared source
// keeps the heavy fetch per node down to a single round trip regardless
// of the worker count. Errors are cached too, so a broken node does not
// get retried by every worker.
//
// The returned State is safe for concurrent use.
func Memoize(source State) State {
	return &memoized{source: source, cache: map[string]entry{}}
}

func (m *memoized) Load(node string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit, ok := m.cache[node]; ok {
		return hit.state, hit.err
	}
	state, err := m.source.Load(node)
	m.cache[node] = entry{state: state, err: err}
	return state, err
}
