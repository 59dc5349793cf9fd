// Copyright (C) 2025 Formlio (maintainers@forml.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// forml-serve hosts published pipelines behind an HTTP gateway.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/formlio/forml-sub003/pkg/logging"
	"github.com/formlio/forml-sub003/services/gateway"
	"github.com/formlio/forml-sub003/services/registry"
	badgerstore "github.com/formlio/forml-sub003/services/registry/badger"
	"github.com/formlio/forml-sub003/services/registry/watch"
	"github.com/formlio/forml-sub003/services/runtime/application"
	"github.com/formlio/forml-sub003/services/runtime/compiler"
	"github.com/formlio/forml-sub003/services/runtime/dealer"
	"github.com/formlio/forml-sub003/services/runtime/engine"
	"github.com/formlio/forml-sub003/services/runtime/flow"
	"github.com/formlio/forml-sub003/services/runtime/telemetry"
	"github.com/formlio/forml-sub003/services/runtime/wrapper"
)

var (
	flagPort     int
	flagConfig   string
	flagStore    string
	flagInMemory bool
	flagApps     []string
	flagWorkers  int
	flagLogLevel string
	flagLogDir   string
	flagDebug    bool

	rootCmd = &cobra.Command{
		Use:   "forml-serve",
		Short: "Low-latency serving gateway for published pipelines",
		Long: `forml-serve hosts versioned pipeline generations from a local
registry and exposes them for prediction over HTTP.`,
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the serving gateway",
		RunE:  runServe,
	}
)

func init() {
	serveCmd.Flags().IntVar(&flagPort, "port", 8000, "HTTP listen port")
	serveCmd.Flags().StringVar(&flagConfig, "config", "", "optional gateway YAML config file")
	serveCmd.Flags().StringVar(&flagStore, "store", "~/.forml/registry", "registry store directory")
	serveCmd.Flags().BoolVar(&flagInMemory, "in-memory", false, "use a volatile in-memory registry")
	serveCmd.Flags().StringSliceVar(&flagApps, "application", nil,
		"application to serve, as name=project (repeatable)")
	serveCmd.Flags().IntVar(&flagWorkers, "workers", 0, "workers per pipeline pool (0 = host CPU count)")
	serveCmd.Flags().StringVar(&flagLogLevel, "log-level", "info", "minimum log level")
	serveCmd.Flags().StringVar(&flagLogDir, "log-dir", "", "optional directory for JSON log files")
	serveCmd.Flags().BoolVar(&flagDebug, "debug", false, "enable debug endpoints and request logging")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(flagLogLevel),
		LogDir:  flagLogDir,
		Service: "forml-serve",
	})
	defer logger.Close()
	slog := logger.Slog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.DefaultConfig())
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Error("telemetry shutdown failed", "error", err)
		}
	}()

	// Registry: durable badger store by default, volatile for demos.
	var store registry.Registry
	if flagInMemory {
		store = registry.NewMemory()
	} else {
		cfg := badgerstore.DefaultConfig(expandPath(flagStore))
		cfg.Logger = slog
		badger, err := badgerstore.Open(cfg)
		if err != nil {
			return fmt.Errorf("open registry store: %w", err)
		}
		defer badger.Close()
		store = badger
	}

	inventory := application.NewDirectory()
	for _, spec := range flagApps {
		name, project, ok := splitApp(spec)
		if !ok {
			return fmt.Errorf("invalid --application %q, want name=project", spec)
		}
		inventory.Put(&application.Latest{Application: name, Project: project})
		slog.Info("application registered", "application", name, "project", project)
	}

	w, err := wrapper.New(wrapper.Config{
		Registry:  store,
		Inventory: inventory,
		Logger:    slog,
	})
	if err != nil {
		return err
	}
	d, err := dealer.New(dealer.Config{
		Registry: w.Registry(),
		Composer: dealer.ComposerFunc(linearComposer),
		Workers:  flagWorkers,
		Logger:   slog,
	})
	if err != nil {
		return err
	}
	eng, err := engine.New(w, d, slog)
	if err != nil {
		return err
	}
	defer eng.Shutdown()

	// Refresh descriptors when the store directory changes underneath
	// a running gateway (out-of-band publishes).
	if !flagInMemory {
		watcher, err := watch.New(expandPath(flagStore), func() { eng.Refresh() }, slog)
		if err != nil {
			slog.Warn("registry watcher unavailable", "error", err)
		} else if err := watcher.Start(ctx); err != nil {
			slog.Warn("registry watcher failed to start", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	cfg := gateway.DefaultConfig()
	if flagConfig != "" {
		if cfg, err = gateway.LoadConfig(flagConfig); err != nil {
			return err
		}
	}
	cfg.Port = flagPort
	cfg.Debug = flagDebug

	srv, err := gateway.New(cfg, eng, slog)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

// linearComposer serves the stock single-model graph: one persisted
// node named "model" evaluated by the built-in linear actor. Custom
// deployments swap in their own Composer.
func linearComposer(context.Context, registry.Instance) ([]compiler.Symbol, error) {
	return []compiler.Symbol{
		{ID: "model-state", Op: compiler.Loader{Node: "model"}},
		{ID: "model", Op: compiler.Functor{
			Builder: flow.BuilderFunc(func() flow.Actor { return &flow.Linear{} }),
			Action:  compiler.Apply,
		}, Args: []string{"model-state"}},
	}, nil
}

// expandPath resolves a leading ~ to the user's home directory.
func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

// splitApp parses a name=project binding.
func splitApp(spec string) (name, project string, ok bool) {
	for i := 0; i < len(spec); i++ {
		if spec[i] == '=' {
			if i == 0 || i == len(spec)-1 {
				return "", "", false
			}
			return spec[:i], spec[i+1:], true
		}
	}
	return "", "", false
}
