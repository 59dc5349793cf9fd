// Copyright (C) 2025 Formlio (maintainers@forml.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package watch notifies the serving layer when the registry inventory
// changes on disk.
//
// A publishing tool writing new releases or generations into a
// file-backed registry is an out-of-process event; the wrapper's
// descriptor and listing caches are only invalidated by an explicit
// inventory refresh. This watcher bridges the two: it observes the
// registry root directory and fires one debounced refresh callback per
// burst of file events.
package watch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the window during which further file events are
// folded into one refresh.
const DefaultDebounce = 250 * time.Millisecond

// RefreshFunc is invoked once per debounced burst of registry changes.
type RefreshFunc func()

// Watcher observes a registry root directory and triggers inventory
// refreshes.
//
// # Thread Safety
//
// Safe for concurrent use. The refresh callback runs on a single
// goroutine; it must not block for long.
type Watcher struct {
	root     string
	refresh  RefreshFunc
	debounce time.Duration
	logger   *slog.Logger

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a watcher over the registry root directory.
//
// Inputs:
//
//	root - Directory holding the file-backed registry.
//	refresh - Callback fired after each debounced burst of changes.
//	logger - Logger for watch events. If nil, uses slog.Default().
//
// Outputs:
//
//	*Watcher - Not yet started; call Start.
//	error - Non-nil if the OS watcher cannot be created.
func New(root string, refresh RefreshFunc, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		root:     root,
		refresh:  refresh,
		debounce: DefaultDebounce,
		logger:   logger,
		watcher:  fsw,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. The watcher runs until Stop is called or the
// context is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.root); err != nil {
		return err
	}
	go w.run(ctx)
	w.logger.Info("registry inventory watch started", slog.String("root", w.root))
	return nil
}

// Stop halts watching and releases the OS watcher. Safe to call multiple
// times.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()
	})
}

func (w *Watcher) run(ctx context.Context) {
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug("registry change observed",
				slog.String("path", event.Name),
				slog.String("op", event.Op.String()),
			)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.logger.Info("registry inventory refresh triggered")
			w.refresh()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("registry watch error", slog.String("error", err.Error()))
		}
	}
}
