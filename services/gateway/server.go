// Copyright (C) 2025 Formlio (maintainers@forml.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package gateway exposes the serving engine over HTTP: a prediction
// endpoint per application plus read-only registry metadata endpoints.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/formlio/forml-sub003/services/registry"
	"github.com/formlio/forml-sub003/services/runtime/application"
	"github.com/formlio/forml-sub003/services/runtime/engine"
	"github.com/formlio/forml-sub003/services/runtime/executor"
	"github.com/formlio/forml-sub003/services/runtime/telemetry"
)

// Server is the HTTP front of one engine.
//
// Thread Safety:
//
//	Safe for concurrent use. Run blocks and should be called once.
type Server struct {
	cfg    Config
	engine *engine.Engine
	router *gin.Engine
	logger *slog.Logger
}

// New validates the configuration and assembles the router.
//
// Inputs:
//
//	cfg - Gateway configuration. Use DefaultConfig() for defaults.
//	eng - The serving engine. Must not be nil.
//	logger - Logger for server logs. If nil, uses slog.Default().
//
// Outputs:
//
//	*Server - Routes registered, not yet listening.
//	error - ErrInvalidConfig or ErrNilEngine.
func New(cfg Config, eng *engine.Engine, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if eng == nil {
		return nil, ErrNilEngine
	}
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{cfg: cfg, engine: eng, logger: logger}
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	if cfg.Debug {
		s.router.Use(gin.Logger())
	}
	s.router.Use(otelgin.Middleware("forml-gateway"))
	s.routes()
	return s, nil
}

// Router returns the underlying gin engine for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) routes() {
	s.router.GET("/health", s.health)
	if handler := telemetry.MetricsHandler(); handler != nil {
		s.router.GET("/metrics", gin.WrapH(handler))
	}

	v1 := s.router.Group("/v1")
	v1.POST("/apply/:application", s.apply)
	v1.GET("/projects", s.projects)
	v1.GET("/projects/:project/releases", s.releases)
	v1.GET("/projects/:project/releases/:release/generations", s.generations)
}

// Run serves until the context is canceled, then drains in-flight
// requests within the configured grace period.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("gateway draining")
	grace, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(grace); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	return <-errCh
}

// ====================================================================
// Handlers
// ====================================================================

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) apply(c *gin.Context) {
	app := c.Param("application")

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
		return
	}

	params := map[string]string{}
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	req := application.Request{
		Payload:  payload,
		Encoding: mediaType(c.ContentType()),
		Params:   params,
		Accept:   acceptList(c.GetHeader("Accept")),
	}

	resp, err := s.engine.Apply(c.Request.Context(), app, req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Data(http.StatusOK, string(resp.Encoding), resp.Payload)
}

func (s *Server) projects(c *gin.Context) {
	projects, err := s.engine.Registry().Projects(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

func (s *Server) releases(c *gin.Context) {
	releases, err := s.engine.Registry().Releases(c.Request.Context(), c.Param("project"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"releases": releases})
}

func (s *Server) generations(c *gin.Context) {
	generations, err := s.engine.Registry().Generations(
		c.Request.Context(), c.Param("project"), c.Param("release"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"generations": generations})
}

// fail maps runtime errors onto HTTP statuses.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, application.ErrUnknown),
		errors.Is(err, registry.ErrNotFound),
		errors.Is(err, registry.ErrEmptyGeneration):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, application.ErrDecode):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, application.ErrEncoding):
		c.JSON(http.StatusNotAcceptable, gin.H{"error": err.Error()})
	case errors.Is(err, executor.ErrNotRunning), errors.Is(err, executor.ErrAborted):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		s.logger.Error("request failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// mediaType strips parameters from a Content-Type header value.
func mediaType(contentType string) application.Encoding {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return application.Encoding(strings.TrimSpace(contentType))
}

// acceptList splits an Accept header into encodings, dropping quality
// parameters.
func acceptList(accept string) []application.Encoding {
	if accept == "" {
		return nil
	}
	var encodings []application.Encoding
	for _, part := range strings.Split(accept, ",") {
		if enc := mediaType(part); enc != "" {
			encodings = append(encodings, enc)
		}
	}
	return encodings
}
