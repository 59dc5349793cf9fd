// Copyright (C) 2025 Formlio (maintainers@forml.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formlio/forml-sub003/services/registry"
	"github.com/formlio/forml-sub003/services/runtime/application"
	"github.com/formlio/forml-sub003/services/runtime/compiler"
	"github.com/formlio/forml-sub003/services/runtime/dealer"
	"github.com/formlio/forml-sub003/services/runtime/engine"
	"github.com/formlio/forml-sub003/services/runtime/flow"
	"github.com/formlio/forml-sub003/services/runtime/wrapper"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	ctx := context.Background()
	mem := registry.NewMemory()
	require.NoError(t, mem.Push(ctx, "energy", "1.0", strings.NewReader("artifact")))
	instance := registry.Instance{Project: "energy", Release: "1.0", Generation: 1}
	model := &flow.Linear{Weights: []float64{1, 1}, Bias: 0}
	state, err := model.State()
	require.NoError(t, err)
	require.NoError(t, mem.Write(ctx, instance, "model", state))

	inv := application.NewDirectory()
	inv.Put(&application.Latest{Application: "forecast", Project: "energy"})

	w, err := wrapper.New(wrapper.Config{Registry: mem, Inventory: inv})
	require.NoError(t, err)

	composer := dealer.ComposerFunc(func(context.Context, registry.Instance) ([]compiler.Symbol, error) {
		return []compiler.Symbol{
			{ID: "model-state", Op: compiler.Loader{Node: "model"}},
			{ID: "model", Op: compiler.Functor{
				Builder: flow.BuilderFunc(func() flow.Actor { return &flow.Linear{} }),
				Action:  compiler.Apply,
			}, Args: []string{"model-state"}},
		}, nil
	})
	d, err := dealer.New(dealer.Config{Registry: w.Registry(), Composer: composer, Workers: 2})
	require.NoError(t, err)

	eng, err := engine.New(w, d, nil)
	require.NoError(t, err)
	t.Cleanup(eng.Shutdown)

	srv, err := New(DefaultConfig(), eng, nil)
	require.NoError(t, err)
	return srv
}

func do(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestServer_Apply(t *testing.T) {
	srv := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/apply/forecast",
		strings.NewReader(`[2, 3]`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	rec := do(srv, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "5", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
}

func TestServer_ApplyUnknownApplication(t *testing.T) {
	srv := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/apply/absent",
		strings.NewReader(`[1]`))
	rec := do(srv, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown application")
}

func TestServer_ApplyBadPayload(t *testing.T) {
	srv := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/apply/forecast",
		strings.NewReader(`{broken`))
	rec := do(srv, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ApplyUnsupportedAccept(t *testing.T) {
	srv := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/apply/forecast",
		strings.NewReader(`[1, 2]`))
	req.Header.Set("Accept", "text/csv")
	rec := do(srv, req)
	require.Equal(t, http.StatusNotAcceptable, rec.Code)
}

func TestServer_Metadata(t *testing.T) {
	srv := testServer(t)

	rec := do(srv, httptest.NewRequest(http.MethodGet, "/v1/projects", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"projects":["energy"]}`, rec.Body.String())

	rec = do(srv, httptest.NewRequest(http.MethodGet, "/v1/projects/energy/releases", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"releases":["1.0"]}`, rec.Body.String())

	rec = do(srv, httptest.NewRequest(http.MethodGet, "/v1/projects/energy/releases/1.0/generations", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"generations":[1]}`, rec.Body.String())

	rec = do(srv, httptest.NewRequest(http.MethodGet, "/v1/projects/absent/releases", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Health(t *testing.T) {
	srv := testServer(t)
	rec := do(srv, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Port = 0
	require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg.Port = 70000
	require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9001\ndebug: true\n"), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.Port)
	assert.True(t, cfg.Debug)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
