// Copyright (C) 2025 Formlio (maintainers@forml.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package dealer maps each versioned pipeline instance to exactly one
// live executor, creating it lazily on first use and keeping it for the
// dealer's lifetime.
package dealer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/formlio/forml-sub003/services/registry"
	"github.com/formlio/forml-sub003/services/runtime/compiler"
	"github.com/formlio/forml-sub003/services/runtime/executor"
	"github.com/formlio/forml-sub003/services/runtime/pool"
)

// Composer produces the apply-mode symbol graph of one pipeline
// instance, typically by unpacking the instance's published artifact.
type Composer interface {
	Compose(ctx context.Context, instance registry.Instance) ([]compiler.Symbol, error)
}

// ComposerFunc adapts a function to the Composer interface.
type ComposerFunc func(ctx context.Context, instance registry.Instance) ([]compiler.Symbol, error)

// Compose implements Composer.
func (f ComposerFunc) Compose(ctx context.Context, instance registry.Instance) ([]compiler.Symbol, error) {
	return f(ctx, instance)
}

// Config assembles a dealer.
type Config struct {
	// Registry is the read-only view node state is loaded from. Required.
	Registry registry.Registry

	// Composer resolves instances to symbol graphs. Required.
	Composer Composer

	// Workers is the per-executor pool size; zero means host CPU count.
	Workers int

	// Logger receives lifecycle logs. If nil, uses slog.Default().
	Logger *slog.Logger
}

// Dealer is the executor cache.
//
// # Eviction
//
// There is none: an executor created for an instance lives until
// Shutdown. Serving catalogs are small and instances immutable, so the
// cache only ever grows by one entry per published generation actually
// requested.
//
// # Thread Safety
//
// Safe for concurrent use. Concurrent first requests for the same
// instance start exactly one executor; latecomers block on the cold
// start rather than racing it.
type Dealer struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	cache map[registry.Instance]*executor.Executor
}

// New assembles a dealer.
func New(cfg Config) (*Dealer, error) {
	if cfg.Registry == nil || cfg.Composer == nil {
		return nil, ErrInvalidConfig
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dealer{
		cfg:    cfg,
		logger: logger,
		cache:  map[registry.Instance]*executor.Executor{},
	}, nil
}

// Predict evaluates one decoded entry against an instance's pipeline.
//
// Description:
//
//	Obtains the instance's executor, creating and starting it if this
//	is the first request for the instance, submits the entry and
//	awaits the outcome.
//
// Inputs:
//
//	ctx      - Bounds the caller's wait. Executor startup deliberately
//	           outlives request cancellation so an aborted first
//	           request does not tear down the pool it warmed up.
//	instance - The versioned pipeline snapshot to serve with.
//	entry    - The decoded pipeline input.
//
// Outputs:
//
//	any   - The pipeline outcome.
//	error - Compose/load failures, actor faults, executor.ErrNotRunning
//	        if the instance's pool has drained, or the context error.
func (d *Dealer) Predict(ctx context.Context, instance registry.Instance, entry any) (any, error) {
	exec, err := d.executor(ctx, instance)
	if err != nil {
		return nil, err
	}
	future, err := exec.Apply(ctx, entry)
	if err != nil {
		return nil, err
	}
	return future.Await(ctx)
}

// executor returns the instance's cached executor, starting one on
// first use. The lock covers the cold start so equal instances can
// never race two pools into existence.
func (d *Dealer) executor(ctx context.Context, instance registry.Instance) (*executor.Executor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if exec, ok := d.cache[instance]; ok {
		return exec, nil
	}

	exec, err := executor.New(executor.Config{
		Loader:  d.loader(instance),
		Workers: d.cfg.Workers,
		Logger:  d.logger,
	})
	if err != nil {
		return nil, err
	}
	if err := exec.Start(context.WithoutCancel(ctx)); err != nil {
		return nil, err
	}
	d.cache[instance] = exec
	d.logger.Info("executor started", slog.String("instance", instance.String()))
	return exec, nil
}

// loader builds the one-off pool loader for an instance: compose the
// symbol graph, wrap the instance's node state in a load-once cache and
// hand back a factory compiling one private expression per worker over
// that shared state.
func (d *Dealer) loader(instance registry.Instance) pool.Loader {
	return func(ctx context.Context) (pool.Factory, error) {
		symbols, err := d.cfg.Composer.Compose(ctx, instance)
		if err != nil {
			return nil, err
		}
		state := compiler.Memoize(registry.NewState(ctx, d.cfg.Registry, instance))
		return func() (*compiler.Expression, error) {
			return compiler.Compile(symbols, state)
		}, nil
	}
}

// Shutdown stops every cached executor and clears the cache.
func (d *Dealer) Shutdown() {
	d.mu.Lock()
	cache := d.cache
	d.cache = map[registry.Instance]*executor.Executor{}
	d.mu.Unlock()

	for instance, exec := range cache {
		if err := exec.Stop(); err != nil {
			d.logger.Error("executor stop failed",
				slog.String("instance", instance.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}
