// Copyright (C) 2025 Formlio (maintainers@forml.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package engine is the top-level serving composition: extract a query
// from the raw request, predict through the dealer, encode the outcome.
// It holds no state of its own beyond observability instruments.
package engine

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/formlio/forml-sub003/services/registry"
	"github.com/formlio/forml-sub003/services/runtime/application"
	"github.com/formlio/forml-sub003/services/runtime/dealer"
	"github.com/formlio/forml-sub003/services/runtime/wrapper"
)

var (
	tracer = otel.Tracer("forml.engine")
	meter  = otel.Meter("forml.engine")
)

// Engine coordinates one request across the wrapper and the dealer.
//
// Thread Safety:
//
//	Engine is safe for concurrent use. Any number of requests may be
//	in flight on the same Engine.
type Engine struct {
	wrapper *wrapper.Wrapper
	dealer  *dealer.Dealer
	logger  *slog.Logger

	// Metrics (initialized lazily)
	metricsOnce    sync.Once
	requestLatency metric.Float64Histogram
	requests       metric.Int64Counter
	failures       metric.Int64Counter
}

// New assembles an engine over an already-configured wrapper and dealer.
//
// Inputs:
//
//	w - The request lifecycle wrapper. Must not be nil.
//	d - The executor dealer. Must not be nil.
//	logger - Logger for request logs. If nil, uses slog.Default().
//
// Outputs:
//
//	*Engine - The configured engine.
//	error - Non-nil if a collaborator is missing.
func New(w *wrapper.Wrapper, d *dealer.Dealer, logger *slog.Logger) (*Engine, error) {
	if w == nil || d == nil {
		return nil, ErrInvalidInput
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{wrapper: w, dealer: d, logger: logger}, nil
}

// initMetrics lazily initializes metrics.
// Logs errors if metric creation fails but continues serving (graceful degradation).
func (e *Engine) initMetrics() {
	e.metricsOnce.Do(func() {
		var initErrors []string

		var err error
		e.requestLatency, err = meter.Float64Histogram("serving_request_duration_seconds",
			metric.WithDescription("End-to-end request time, extract through respond"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "request_latency: "+err.Error())
		}

		e.requests, err = meter.Int64Counter("serving_request_total",
			metric.WithDescription("Number of requests handled"),
		)
		if err != nil {
			initErrors = append(initErrors, "requests: "+err.Error())
		}

		e.failures, err = meter.Int64Counter("serving_request_failure_total",
			metric.WithDescription("Number of requests that ended in an error"),
		)
		if err != nil {
			initErrors = append(initErrors, "failures: "+err.Error())
		}

		if len(initErrors) > 0 {
			e.logger.Error("failed to initialize some serving metrics (observability degraded)",
				slog.String("errors", strings.Join(initErrors, "; ")),
			)
		}
	})
}

// Apply serves one request end to end.
//
// Description:
//
//	Extracts a query (descriptor resolution, decode, instance
//	selection), predicts the decoded entry through the instance's
//	executor and encodes the outcome for the caller.
//
// Inputs:
//
//	ctx - Bounds the whole request.
//	app - The application name addressing a registered descriptor.
//	req - The raw transport request.
//
// Outputs:
//
//	application.Response - The encoded outcome.
//	error - application.ErrUnknown, registry.ErrNotFound and decode
//	        errors from extraction; actor faults and executor errors
//	        from prediction; encoding errors from respond.
func (e *Engine) Apply(ctx context.Context, app string, req application.Request) (application.Response, error) {
	e.initMetrics()
	start := time.Now()

	ctx, span := tracer.Start(ctx, "engine.Apply",
		trace.WithAttributes(attribute.String("application", app)),
	)
	defer span.End()

	resp, err := e.apply(ctx, span, app, req)

	elapsed := time.Since(start).Seconds()
	attrs := metric.WithAttributes(attribute.String("application", app))
	if e.requestLatency != nil {
		e.requestLatency.Record(ctx, elapsed, attrs)
	}
	if e.requests != nil {
		e.requests.Add(ctx, 1, attrs)
	}
	if err != nil {
		if e.failures != nil {
			e.failures.Add(ctx, 1, attrs)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("request failed",
			slog.String("application", app),
			slog.String("error", err.Error()),
		)
		return application.Response{}, err
	}

	span.SetStatus(codes.Ok, "")
	return resp, nil
}

func (e *Engine) apply(ctx context.Context, span trace.Span, app string, req application.Request) (application.Response, error) {
	query, err := e.wrapper.Extract(ctx, app, req, application.Stats{})
	if err != nil {
		return application.Response{}, err
	}
	span.SetAttributes(
		attribute.String("request", query.ID.String()),
		attribute.String("instance", query.Instance.String()),
	)

	outcome, err := e.dealer.Predict(ctx, query.Instance, query.Decoded.Entry)
	if err != nil {
		return application.Response{}, err
	}

	return e.wrapper.Respond(ctx, query, outcome)
}

// Registry exposes the wrapper's read-only registry view for metadata
// endpoints.
func (e *Engine) Registry() registry.Registry {
	return e.wrapper.Registry()
}

// Refresh invalidates the wrapper's descriptor cache.
func (e *Engine) Refresh() {
	e.wrapper.Refresh()
}

// Shutdown stops every executor the dealer has started.
func (e *Engine) Shutdown() {
	e.dealer.Shutdown()
	e.logger.Info("engine shut down")
}
