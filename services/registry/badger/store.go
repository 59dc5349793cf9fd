// Copyright (C) 2025 Formlio (maintainers@forml.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package badger provides a BadgerDB-backed model registry.
//
// BadgerDB gives the registry low-latency embedded storage (~100µs reads)
// without an external database, which fits the single-host serving
// deployment this runtime targets.
//
// # Key Scheme
//
//	artifact/<project>/<release>              packaged pipeline
//	tag/<project>/<release>/<generation>      generation metadata (JSON)
//	state/<project>/<release>/<generation>/<node>   persisted node state
//
// Project, release and node names must not contain '/'.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/formlio/forml-sub003/pkg/validation"
	"github.com/formlio/forml-sub003/services/registry"
)

// Config holds configuration for the registry store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output.
	// If nil, BadgerDB logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults: durable synchronous writes.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns a configuration for testing: no disk I/O.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is a BadgerDB-backed registry.
//
// # Thread Safety
//
// Safe for concurrent use; BadgerDB transactions provide isolation and
// the only in-process state is the database handle.
type Store struct {
	db     *badger.DB
	closed sync.Once
}

// Open creates and opens a registry store with the given configuration.
//
// Description:
//
//	Opens a BadgerDB database at the configured path, or in memory if
//	InMemory is true. Creates the directory if it doesn't exist.
//
// Inputs:
//
//	cfg - Store configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*Store - The opened store. Caller must call Close() when done.
//	error - Non-nil if the path is invalid or the database cannot open.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent registry")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create registry directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open registry database: %w", err)
	}
	return &Store{db: db}, nil
}

const (
	prefixArtifact = "artifact/"
	prefixTag      = "tag/"
	prefixState    = "state/"
)

func artifactKey(project, release string) []byte {
	return []byte(prefixArtifact + project + "/" + release)
}

func tagKey(i registry.Instance) []byte {
	return []byte(prefixTag + i.Project + "/" + i.Release + "/" + strconv.Itoa(i.Generation))
}

func stateKey(i registry.Instance, node string) []byte {
	return []byte(prefixState + i.Project + "/" + i.Release + "/" + strconv.Itoa(i.Generation) + "/" + node)
}

// Projects lists all project names in lexical order.
func (s *Store) Projects(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	err := s.scanKeys(ctx, prefixArtifact, func(rest string) error {
		if project, _, ok := strings.Cut(rest, "/"); ok {
			seen[project] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	projects := make([]string, 0, len(seen))
	for project := range seen {
		projects = append(projects, project)
	}
	sort.Strings(projects)
	return projects, nil
}

// Releases lists a project's releases in lexical order.
func (s *Store) Releases(ctx context.Context, project string) ([]string, error) {
	releases := make([]string, 0)
	err := s.scanKeys(ctx, prefixArtifact+project+"/", func(rest string) error {
		releases = append(releases, rest)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(releases) == 0 {
		return nil, fmt.Errorf("project %s: %w", project, registry.ErrNotFound)
	}
	sort.Strings(releases)
	return releases, nil
}

// Generations lists a release's generations in ascending order.
func (s *Store) Generations(ctx context.Context, project, release string) ([]int, error) {
	if !s.hasKey(artifactKey(project, release)) {
		return nil, fmt.Errorf("release %s/%s: %w", project, release, registry.ErrNotFound)
	}
	generations := make([]int, 0)
	err := s.scanKeys(ctx, prefixTag+project+"/"+release+"/", func(rest string) error {
		generation, err := strconv.Atoi(rest)
		if err != nil {
			return fmt.Errorf("malformed generation key %q: %w", rest, err)
		}
		generations = append(generations, generation)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Ints(generations)
	return generations, nil
}

// Pull returns the metadata tag of one generation.
func (s *Store) Pull(_ context.Context, instance registry.Instance) (registry.Tag, error) {
	var tag registry.Tag
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(tagKey(instance))
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			return json.Unmarshal(value, &tag)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return registry.Tag{}, fmt.Errorf("generation %s: %w", instance, registry.ErrNotFound)
	}
	if err != nil {
		return registry.Tag{}, fmt.Errorf("pull %s: %w", instance, err)
	}
	return tag, nil
}

// Read returns one node's persisted state.
func (s *Store) Read(_ context.Context, instance registry.Instance, node string) ([]byte, error) {
	var state []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(stateKey(instance, node))
		if err != nil {
			return err
		}
		state, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("state %s/%s: %w", instance, node, registry.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", instance, node, err)
	}
	return state, nil
}

// Open returns the release's packaged pipeline artifact.
func (s *Store) Open(_ context.Context, project, release string) (io.ReadCloser, error) {
	var artifact []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(artifactKey(project, release))
		if err != nil {
			return err
		}
		artifact, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("release %s/%s: %w", project, release, registry.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s/%s: %w", project, release, err)
	}
	return io.NopCloser(bytes.NewReader(artifact)), nil
}

// Push publishes a release's packaged artifact.
func (s *Store) Push(_ context.Context, project, release string, artifact io.Reader) error {
	if err := validation.ValidateNames(project, release); err != nil {
		return fmt.Errorf("push: %w", err)
	}
	payload, err := io.ReadAll(artifact)
	if err != nil {
		return fmt.Errorf("read artifact: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(artifactKey(project, release), payload)
	})
	if err != nil {
		return fmt.Errorf("push %s/%s: %w", project, release, err)
	}
	return nil
}

// Write persists one node's state into a generation, creating or
// extending the generation tag in the same transaction.
func (s *Store) Write(_ context.Context, instance registry.Instance, node string, state []byte) error {
	if err := validation.ValidateNames(instance.Project, instance.Release, node); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(artifactKey(instance.Project, instance.Release)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("release %s/%s: %w", instance.Project, instance.Release, registry.ErrNotFound)
			}
			return err
		}

		tag := registry.Tag{Created: time.Now()}
		if item, err := txn.Get(tagKey(instance)); err == nil {
			if err := item.Value(func(value []byte) error {
				return json.Unmarshal(value, &tag)
			}); err != nil {
				return err
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		found := false
		for _, existing := range tag.Nodes {
			if existing == node {
				found = true
				break
			}
		}
		if !found {
			tag.Nodes = append(tag.Nodes, node)
			sort.Strings(tag.Nodes)
		}

		encoded, err := json.Marshal(tag)
		if err != nil {
			return err
		}
		if err := txn.Set(tagKey(instance), encoded); err != nil {
			return err
		}
		return txn.Set(stateKey(instance, node), state)
	})
	if err != nil {
		return fmt.Errorf("write %s/%s: %w", instance, node, err)
	}
	return nil
}

// Close closes the underlying database. Safe to call multiple times.
func (s *Store) Close() error {
	var err error
	s.closed.Do(func() {
		err = s.db.Close()
	})
	return err
}

// scanKeys iterates keys under a prefix, passing the key remainder after
// the prefix to fn. Values are not fetched.
func (s *Store) scanKeys(ctx context.Context, prefix string, fn func(rest string) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := string(it.Item().Key())
			if err := fn(strings.TrimPrefix(key, prefix)); err != nil {
				return err
			}
		}
		return nil
	})
}

// hasKey reports whether a key exists.
func (s *Store) hasKey(key []byte) bool {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	return err == nil
}

var _ registry.Registry = (*Store)(nil)
