// Copyright (C) 2025 Formlio (maintainers@forml.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package telemetry

import (
	"context"
	"errors"
	"testing"
)

func TestInit_DisabledExporters(t *testing.T) {
	cfg := Config{TraceExporter: "none", MetricExporter: "none"}
	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInit_StdoutExporters(t *testing.T) {
	cfg := Config{
		ServiceName:    "forml-serve",
		TraceExporter:  "stdout",
		MetricExporter: "stdout",
	}
	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInit_RejectsUnknownExporter(t *testing.T) {
	cfg := Config{TraceExporter: "carrier-pigeon", MetricExporter: "none"}
	if _, err := Init(context.Background(), cfg); !errors.Is(err, ErrUnknownExporter) {
		t.Fatalf("Init: %v, want ErrUnknownExporter", err)
	}
}

func TestInit_NilContext(t *testing.T) {
	//nolint:staticcheck // deliberately passing nil to exercise the guard
	if _, err := Init(nil, DefaultConfig()); !errors.Is(err, ErrNilContext) {
		t.Fatalf("Init(nil): %v, want ErrNilContext", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ServiceName != "forml-serve" {
		t.Errorf("ServiceName = %q", cfg.ServiceName)
	}
	if cfg.MetricExporter == "" || cfg.TraceExporter == "" {
		t.Error("exporters not defaulted")
	}
}
