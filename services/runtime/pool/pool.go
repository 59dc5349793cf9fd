// Copyright (C) 2025 Formlio (maintainers@forml.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pool hosts one compiled expression behind a fixed-size group of
// worker goroutines consuming tasks from a shared queue.
//
// # Isolation Model
//
// Compiled expressions are not safe for concurrent invocation: actors may
// hold mutable in-process state. The pool therefore materializes one
// private expression per worker. The heavy part of materialization, the
// persisted state load, happens exactly once in the supervisor (the
// Loader); the per-worker Factory then builds cheap term graphs over that
// shared read-only state. No worker ever mutates the shared state, so no
// locking is involved on the serving path.
//
// # Failure Semantics
//
// A worker whose invocation fails pushes a failure Result for that task,
// raises the shared stop signal and exits; one worker's unrecoverable
// error is pool-fatal since its actor state may now be inconsistent. The
// supervisor observes the exit, keeps the stop signal raised and joins
// the remaining workers.
package pool

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/formlio/forml-sub003/services/runtime/compiler"
)

// Factory materializes one worker's private expression over state already
// loaded by the Loader. Called once per worker.
type Factory func() (*compiler.Expression, error)

// Loader performs the one-off heavy setup for a pool: fetching the
// symbol graph and persisted state, then returning the per-worker
// factory. Called exactly once, in Start.
type Loader func(ctx context.Context) (Factory, error)

// Config assembles a worker pool.
type Config struct {
	// Loader performs the one-off state load. Required.
	Loader Loader

	// Tasks is the shared task queue the workers consume. Required.
	Tasks <-chan Task

	// Results is the shared result queue the workers produce to. Required.
	Results chan<- Result

	// Stop is the shared stop signal; closing it drains the pool. Required.
	Stop <-chan struct{}

	// Workers is the worker count. Defaults to the host CPU count.
	Workers int

	// Logger receives pool lifecycle logs. If nil, uses slog.Default().
	Logger *slog.Logger
}

// Pool supervises a fixed-size group of expression workers.
//
// # Thread Safety
//
// Safe for concurrent use. Start is callable once; Stop any number of
// times.
type Pool struct {
	cfg     Config
	logger  *slog.Logger
	alive   atomic.Bool
	started atomic.Bool
	fatal   func() // raises the shared stop signal, idempotent
	done    chan struct{}
}

// New validates the configuration and assembles a pool.
//
// Outputs:
//
//	*Pool - Not yet running; call Start.
//	error - ErrInvalidConfig if a required piece is missing.
func New(cfg Config) (*Pool, error) {
	if cfg.Loader == nil || cfg.Tasks == nil || cfg.Results == nil || cfg.Stop == nil {
		return nil, ErrInvalidConfig
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}, nil
}

// Start loads the expression state once and launches the workers.
//
// Description:
//
//	Runs the Loader (the single heavy state load), materializes one
//	private expression per worker via the returned Factory, and starts
//	the worker goroutines. Returns once all workers are running; the
//	supervisor then watches them in the background and reports
//	not-alive as soon as any worker exits.
//
// Inputs:
//
//	ctx - Lifecycle context; cancellation drains the pool.
//	stopSignal - Idempotent function raising the shared stop signal, so
//	             a failing worker can proactively drain its siblings.
//
// Outputs:
//
//	error - Non-nil if the load fails, any worker's expression cannot be
//	        materialized, or the pool was already started.
func (p *Pool) Start(ctx context.Context, stopSignal func()) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	p.fatal = stopSignal

	factory, err := p.cfg.Loader(ctx)
	if err != nil {
		close(p.done)
		return err
	}

	// Materialize every worker's expression up front so a structural
	// defect surfaces at startup, not on the first request.
	expressions := make([]*compiler.Expression, p.cfg.Workers)
	for i := range expressions {
		if expressions[i], err = factory(); err != nil {
			close(p.done)
			return err
		}
	}

	group, gctx := errgroup.WithContext(ctx)
	for i, expr := range expressions {
		group.Go(p.worker(gctx, i, expr))
	}
	p.alive.Store(true)
	p.logger.Info("worker pool started", slog.Int("workers", p.cfg.Workers))

	go func() {
		defer close(p.done)
		err := group.Wait()
		p.alive.Store(false)
		p.fatal()
		if err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Error("worker pool drained after failure", slog.String("error", err.Error()))
		} else {
			p.logger.Info("worker pool drained")
		}
	}()
	return nil
}

// worker returns the poll loop for one worker goroutine.
func (p *Pool) worker(ctx context.Context, id int, expr *compiler.Expression) func() error {
	return func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.cfg.Stop:
				return nil
			case task, ok := <-p.cfg.Tasks:
				if !ok {
					return nil
				}
				outcome, err := expr.Invoke(task.Entry)
				if err != nil {
					p.emit(ctx, Result{ID: task.ID, Fault: faultOf(err)})
					p.logger.Error("worker failed, draining pool",
						slog.Int("worker", id),
						slog.Uint64("task", task.ID),
						slog.String("error", err.Error()),
					)
					p.fatal()
					return err
				}
				p.emit(ctx, Result{ID: task.ID, Outcome: outcome})
			}
		}
	}
}

// emit pushes one result, giving up when the pool is draining.
func (p *Pool) emit(ctx context.Context, result Result) {
	select {
	case p.cfg.Results <- result:
	case <-ctx.Done():
	case <-p.cfg.Stop:
	}
}

// Alive reports whether every worker is still running.
func (p *Pool) Alive() bool {
	return p.alive.Load()
}

// Stop raises the stop signal and blocks until all workers have joined.
func (p *Pool) Stop() error {
	if !p.started.Load() {
		return ErrNotStarted
	}
	p.fatal()
	<-p.done
	return nil
}

// faultOf classifies an invocation error for the pool boundary.
func faultOf(err error) *Fault {
	kind := FaultActor
	if errors.Is(err, compiler.ErrReplicaClash) ||
		errors.Is(err, compiler.ErrReplicaEmpty) ||
		errors.Is(err, compiler.ErrReplicaLeak) {
		kind = FaultInternal
	}
	return &Fault{Kind: kind, Message: err.Error()}
}
