// Copyright (C) 2025 Formlio (maintainers@forml.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package wrapper owns the request lifecycle around prediction: decode
// the raw request, select a versioned pipeline instance, later encode
// the outcome. It holds the only registry handle on the serving path,
// frozen so no descriptor can mutate published state.
package wrapper

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/formlio/forml-sub003/services/registry"
	"github.com/formlio/forml-sub003/services/runtime/application"
)

// Query is the request-scoped context accumulated by Extract and
// consumed by Respond: everything prediction and encoding need to know
// about one request.
type Query struct {
	// ID tags the request across log lines and traces.
	ID uuid.UUID

	// Descriptor is the application descriptor resolved for the request.
	Descriptor application.Descriptor

	// Instance is the pipeline snapshot selected to serve the request.
	Instance registry.Instance

	// Accept lists the caller's response encodings in preference order.
	Accept []application.Encoding

	// Decoded is the parsed entry plus descriptor-private context.
	Decoded application.Decoded
}

// Config assembles a wrapper.
type Config struct {
	// Registry is the backing registry; the wrapper freezes it and
	// never exposes the mutable handle. Required.
	Registry registry.Registry

	// Inventory resolves application names to descriptors. Required.
	Inventory application.Inventory

	// Concurrency caps how many decode/select/encode calls may run at
	// once; descriptor work can be CPU-heavy. Defaults to the host CPU
	// count.
	Concurrency int64

	// Logger receives request logs. If nil, uses slog.Default().
	Logger *slog.Logger
}

// Wrapper decodes, selects and encodes over a frozen registry view.
//
// # Thread Safety
//
// Safe for concurrent use.
type Wrapper struct {
	frozen    *registry.Frozen
	inventory application.Inventory
	gate      *semaphore.Weighted
	logger    *slog.Logger

	mu    sync.RWMutex
	cache map[string]application.Descriptor
}

// New freezes the registry and assembles a wrapper.
func New(cfg Config) (*Wrapper, error) {
	if cfg.Registry == nil || cfg.Inventory == nil {
		return nil, ErrInvalidConfig
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = int64(runtime.NumCPU())
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Wrapper{
		frozen:    registry.Freeze(cfg.Registry),
		inventory: cfg.Inventory,
		gate:      semaphore.NewWeighted(cfg.Concurrency),
		logger:    logger,
		cache:     map[string]application.Descriptor{},
	}, nil
}

// Registry exposes the read-only registry view the wrapper serves from.
func (w *Wrapper) Registry() registry.Registry {
	return w.frozen
}

// Extract turns one raw request into a Query.
//
// Description:
//
//	Resolves the application's descriptor (cached after the first
//	lookup, invalidated only by Refresh), decodes the payload and has
//	the descriptor select the serving instance against the frozen
//	registry. Decode and select run under the CPU gate.
//
// Outputs:
//
//	Query - Bundles descriptor, instance, accept list and decoded entry.
//	error - application.ErrUnknown for unregistered names, decode or
//	        selection failures otherwise. No executor resources are
//	        touched on any failure path.
func (w *Wrapper) Extract(ctx context.Context, app string, req application.Request, stats application.Stats) (Query, error) {
	desc, err := w.descriptor(app)
	if err != nil {
		return Query{}, err
	}

	if err := w.gate.Acquire(ctx, 1); err != nil {
		return Query{}, err
	}
	defer w.gate.Release(1)

	decoded, err := desc.Decode(req)
	if err != nil {
		return Query{}, err
	}
	instance, err := desc.Select(ctx, w.frozen, decoded.Context, stats)
	if err != nil {
		return Query{}, err
	}

	query := Query{
		ID:         uuid.New(),
		Descriptor: desc,
		Instance:   instance,
		Accept:     req.Accept,
		Decoded:    decoded,
	}
	w.logger.Debug("request extracted",
		slog.String("request", query.ID.String()),
		slog.String("application", app),
		slog.String("instance", instance.String()),
	)
	return query, nil
}

// Respond encodes a pipeline outcome for the query's caller, under the
// CPU gate.
func (w *Wrapper) Respond(ctx context.Context, query Query, outcome any) (application.Response, error) {
	if err := w.gate.Acquire(ctx, 1); err != nil {
		return application.Response{}, err
	}
	defer w.gate.Release(1)
	return query.Descriptor.Encode(outcome, query.Accept, query.Decoded.Context)
}

// Refresh drops the descriptor cache so the next request per
// application resolves against the current inventory. Wired to the
// registry watcher in a standard deployment.
func (w *Wrapper) Refresh() {
	w.mu.Lock()
	w.cache = map[string]application.Descriptor{}
	w.mu.Unlock()
	w.logger.Info("descriptor cache invalidated")
}

// descriptor resolves an application name, consulting the cache first.
func (w *Wrapper) descriptor(app string) (application.Descriptor, error) {
	w.mu.RLock()
	desc, ok := w.cache[app]
	w.mu.RUnlock()
	if ok {
		return desc, nil
	}

	desc, err := w.inventory.Get(app)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.cache[app] = desc
	w.mu.Unlock()
	return desc, nil
}
