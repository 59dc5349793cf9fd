// Copyright (C) 2025 Formlio (maintainers@forml.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package executor bridges synchronous callers and the asynchronous
// worker pool. It hands each submitted entry a unique task id, tracks a
// future per outstanding id and reconciles pool results back onto the
// matching futures.
package executor

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/formlio/forml-sub003/services/runtime/pool"
)

// healthInterval bounds how long a dead pool can go unnoticed while no
// results are flowing.
const healthInterval = 100 * time.Millisecond

// Config assembles an executor.
type Config struct {
	// Loader performs the pool's one-off state load. Required.
	Loader pool.Loader

	// Workers is the pool size. Defaults to the host CPU count.
	Workers int

	// Queue is the task buffer depth. Defaults to twice the worker
	// count, so submission only blocks under sustained overload.
	Queue int

	// Logger receives lifecycle logs. If nil, uses slog.Default().
	Logger *slog.Logger
}

// Executor runs one pipeline instance: a worker pool plus the
// bookkeeping that turns its task/result streams into awaitable calls.
//
// # Thread Safety
//
// Safe for concurrent use. Apply may be called from any number of
// goroutines while the executor is running.
type Executor struct {
	cfg    Config
	logger *slog.Logger

	tasks   chan pool.Task
	results chan pool.Result
	stop    chan struct{}
	once    sync.Once

	pool *pool.Pool
	next atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]*Future

	started atomic.Bool
	running atomic.Bool
	done    chan struct{}
}

// New validates the configuration and assembles an executor.
func New(cfg Config) (*Executor, error) {
	if cfg.Loader == nil {
		return nil, ErrInvalidConfig
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Queue <= 0 {
		cfg.Queue = 2 * cfg.Workers
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		cfg:     cfg,
		logger:  logger,
		tasks:   make(chan pool.Task, cfg.Queue),
		results: make(chan pool.Result, cfg.Queue),
		stop:    make(chan struct{}),
		pending: map[uint64]*Future{},
		done:    make(chan struct{}),
	}
	var err error
	e.pool, err = pool.New(pool.Config{
		Loader:  cfg.Loader,
		Tasks:   e.tasks,
		Results: e.results,
		Stop:    e.stop,
		Workers: cfg.Workers,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Start brings up the pool and the reconcile loop.
//
// Outputs:
//
//	error - Non-nil if the pool's state load or materialization fails,
//	        or if the executor was already started.
func (e *Executor) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if err := e.pool.Start(ctx, e.signal); err != nil {
		close(e.done)
		return err
	}
	e.running.Store(true)
	go e.reconcile()
	return nil
}

// Apply submits one entry for evaluation.
//
// Description:
//
//	Assigns the entry the next task id (ids are unique and strictly
//	increasing for the lifetime of the executor), registers a future
//	for it and enqueues the task. The future resolves when a worker
//	reports the task's result, or with ErrAborted if the pool drains
//	first.
//
// Inputs:
//
//	ctx   - Bounds the enqueue; does not bound the evaluation itself.
//	entry - The decoded entry to push through the expression.
//
// Outputs:
//
//	*Future - Awaitable handle for the outcome.
//	error   - ErrNotRunning outside the running window, or the context
//	          error if enqueueing was cut short.
func (e *Executor) Apply(ctx context.Context, entry any) (*Future, error) {
	if !e.running.Load() {
		return nil, ErrNotRunning
	}
	id := e.next.Add(1)
	future := newFuture()

	e.mu.Lock()
	e.pending[id] = future
	e.mu.Unlock()

	select {
	case e.tasks <- pool.Task{ID: id, Entry: entry}:
		return future, nil
	case <-e.stop:
		e.forget(id)
		return nil, ErrNotRunning
	case <-ctx.Done():
		e.forget(id)
		return nil, ctx.Err()
	}
}

// Alive reports whether the executor can still accept work.
func (e *Executor) Alive() bool {
	return e.running.Load()
}

// Stop drains the pool, fails any still-outstanding futures with
// ErrAborted and blocks until the reconcile loop has exited. Safe to
// call repeatedly.
func (e *Executor) Stop() error {
	if !e.started.Load() {
		return ErrNotRunning
	}
	e.signal()
	<-e.done
	return nil
}

// signal raises the shared stop signal exactly once.
func (e *Executor) signal() {
	e.once.Do(func() {
		e.running.Store(false)
		close(e.stop)
	})
}

// reconcile routes pool results onto their futures until the stop
// signal, then settles whatever is left.
func (e *Executor) reconcile() {
	defer close(e.done)
	health := time.NewTicker(healthInterval)
	defer health.Stop()

	for {
		select {
		case result := <-e.results:
			e.settle(result)
		case <-health.C:
			if !e.pool.Alive() {
				e.signal()
			}
		case <-e.stop:
			e.shutdown()
			return
		}
	}
}

// shutdown joins the workers, settles any results they managed to emit
// and aborts the rest.
func (e *Executor) shutdown() {
	if err := e.pool.Stop(); err != nil {
		e.logger.Error("pool stop failed", slog.String("error", err.Error()))
	}
	for {
		select {
		case result := <-e.results:
			e.settle(result)
		default:
			e.abort()
			return
		}
	}
}

// settle resolves the future registered for one result. Results for
// unknown ids are logged and dropped; each id resolves at most once.
func (e *Executor) settle(result pool.Result) {
	e.mu.Lock()
	future, ok := e.pending[result.ID]
	delete(e.pending, result.ID)
	e.mu.Unlock()
	if !ok {
		e.logger.Warn("result for unknown task", slog.Uint64("task", result.ID))
		return
	}
	if result.Fault != nil {
		future.resolve(nil, result.Fault)
		return
	}
	future.resolve(result.Outcome, nil)
}

// abort fails every future still outstanding.
func (e *Executor) abort() {
	e.mu.Lock()
	orphans := e.pending
	e.pending = map[uint64]*Future{}
	e.mu.Unlock()
	if len(orphans) > 0 {
		e.logger.Warn("aborting outstanding tasks", slog.Int("count", len(orphans)))
	}
	for _, future := range orphans {
		future.resolve(nil, ErrAborted)
	}
}

// forget drops a future that never made it onto the queue.
func (e *Executor) forget(id uint64) {
	e.mu.Lock()
	delete(e.pending, id)
	e.mu.Unlock()
}
