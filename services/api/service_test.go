// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/abraxus/pkg/logging"
	"github.com/AleutianAI/abraxus/services/kernel"
	"github.com/AleutianAI/abraxus/services/llm"
	"github.com/AleutianAI/abraxus/services/orchestrator"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

// echoClient answers "echo:<prompt>" and splits extraction text on commas.
type echoClient struct{}

func (echoClient) Acquire(context.Context) error { return nil }
func (echoClient) Release() error                { return nil }
func (echoClient) Mode() llm.Mode                { return llm.ModeLive }

func (echoClient) Query(_ context.Context, prompt string) string {
	return "echo:" + prompt
}

func (echoClient) ExtractConcepts(_ context.Context, text string) []string {
	pieces := strings.Split(text, ",")
	for i := range pieces {
		pieces[i] = strings.TrimSpace(pieces[i])
	}
	return pieces
}

func newTestSystem(t *testing.T, initialize bool) *orchestrator.System {
	t.Helper()
	k, err := kernel.New(kernel.Config{KnowledgeDir: "kb_dir"},
		kernel.WithLogger(logging.Discard()),
		kernel.WithMetrics(nil),
		kernel.WithClientFactory(func(llm.Config) kernel.LanguageModel { return echoClient{} }),
	)
	require.NoError(t, err)
	sys := orchestrator.New(k, orchestrator.WithLogger(logging.Discard()), orchestrator.WithMetrics(nil))
	t.Cleanup(func() { _ = sys.Close() })
	if initialize {
		require.NoError(t, sys.Initialize(context.Background()))
	}
	return sys
}

func newTestRouter(t *testing.T, sys *orchestrator.System) *gin.Engine {
	t.Helper()
	svc, err := New(Config{
		GinMode: gin.TestMode,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		}),
	}, sys, WithLogger(logging.Discard()))
	require.NoError(t, err)
	return svc.Router()
}

func do(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// ============================================================================
// Construction Tests
// ============================================================================

func TestNew_NilSystem(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)
}

func TestApplyConfigDefaults(t *testing.T) {
	cfg := applyConfigDefaults(Config{})
	assert.Equal(t, 12310, cfg.Port)
	assert.Equal(t, gin.ReleaseMode, cfg.GinMode)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "abraxus", cfg.ServiceName)
	assert.NotNil(t, cfg.MetricsHandler)
}

func TestSetupRoutes_Registered(t *testing.T) {
	router := newTestRouter(t, newTestSystem(t, false))

	want := map[string]bool{
		"GET /health":          false,
		"GET /metrics":         false,
		"GET /v1/status":       false,
		"POST /v1/experiments": false,
		"POST /v1/run":         false,
		"GET /v1/history":      false,
		"GET /v1/concepts":     false,
		"POST /v1/query":       false,
	}
	for _, r := range router.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for route, found := range want {
		assert.True(t, found, "route %s not registered", route)
	}
}

// ============================================================================
// Handler Tests
// ============================================================================

func TestHealth(t *testing.T) {
	w := do(t, newTestRouter(t, newTestSystem(t, false)), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestMetrics(t *testing.T) {
	w := do(t, newTestRouter(t, newTestSystem(t, false)), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "# metrics")
}

func TestStatus(t *testing.T) {
	sys := newTestSystem(t, false)
	router := newTestRouter(t, sys)

	st := decode[map[string]any](t, do(t, router, http.MethodGet, "/v1/status", nil))
	assert.Equal(t, false, st["running"])
	assert.Equal(t, float64(0), st["kb_size"])
	assert.Equal(t, "kb_dir", st["kb_dir"])

	require.NoError(t, sys.Initialize(context.Background()))
	st = decode[map[string]any](t, do(t, router, http.MethodGet, "/v1/status", nil))
	assert.Equal(t, true, st["running"])
	assert.Equal(t, "running", st["state"])
	assert.Equal(t, float64(1), st["history_size"])
}

func TestAddExperiment(t *testing.T) {
	router := newTestRouter(t, newTestSystem(t, true))

	w := do(t, router, http.MethodPost, "/v1/experiments", map[string]string{
		"name": "E1", "hypothesis": "H1", "procedure": "P1",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decode[ExperimentResponse](t, w)
	assert.Equal(t, "E1", resp.Original.Name)
	assert.Equal(t, "Not-E1", resp.Negation.Name)
	assert.Equal(t, "The opposite of: H1", resp.Negation.Hypothesis)
	assert.Equal(t, "Attempt to disprove: P1", resp.Negation.Procedure)
	assert.Equal(t, 1, resp.Experiments)
}

func TestAddExperiment_BadRequest(t *testing.T) {
	router := newTestRouter(t, newTestSystem(t, true))

	for _, body := range []any{
		map[string]string{"hypothesis": "H"},
		map[string]string{"name": "E"},
		"not an object",
	} {
		w := do(t, router, http.MethodPost, "/v1/experiments", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, fmt.Sprint(body))
	}
}

func TestAddExperiment_RequiredFields(t *testing.T) {
	sys := newTestSystem(t, true)
	router := newTestRouter(t, sys)

	w := do(t, router, http.MethodPost, "/v1/experiments", map[string]string{"name": "E", "procedure": "P"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decode[ExperimentResponse](t, w)
	assert.Equal(t, "The opposite of: ", resp.Negation.Hypothesis)

	for _, body := range []map[string]string{
		{"name": "E", "hypothesis": "H", "procedure": ""},
		{"name": "", "hypothesis": "H", "procedure": "P"},
	} {
		w := do(t, router, http.MethodPost, "/v1/experiments", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Invalid request body")
	}
	assert.Len(t, sys.Experiments(), 1)
}

func TestRun(t *testing.T) {
	router := newTestRouter(t, newTestSystem(t, true))
	do(t, router, http.MethodPost, "/v1/experiments", map[string]string{"name": "E1", "procedure": "P1"})
	do(t, router, http.MethodPost, "/v1/experiments", map[string]string{"name": "E2", "procedure": "P2"})

	w := do(t, router, http.MethodPost, "/v1/run", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[RunResponse](t, w)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "echo:P1", resp.Results[0].Original)
	assert.Equal(t, "echo:Attempt to disprove: P2", resp.Results[1].Negation)
	assert.NotEmpty(t, resp.RunID)
	assert.Positive(t, resp.KBSize)

	w = do(t, router, http.MethodPost, "/v1/run", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	history := decode[map[string][]HistoryEntry](t, do(t, router, http.MethodGet, "/v1/history", nil))
	entries := history["entries"]
	require.Len(t, entries, 5)
	assert.Equal(t, "System initialized", entries[0].Message)
	assert.Equal(t, "Evolved based on experiment results", entries[4].Message)
	assert.Regexp(t, `^\d{8}_\d{6}$`, entries[0].Stamp)
}

func TestRun_NotInitialized(t *testing.T) {
	router := newTestRouter(t, newTestSystem(t, false))
	do(t, router, http.MethodPost, "/v1/experiments", map[string]string{"name": "E1", "procedure": "P1"})

	w := do(t, router, http.MethodPost, "/v1/run", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	resp := decode[RunResponse](t, w)
	assert.Empty(t, resp.Results)
	assert.Contains(t, resp.Error, "not initialized")
}

func TestConcepts(t *testing.T) {
	sys := newTestSystem(t, true)
	router := newTestRouter(t, sys)
	_, err := sys.Kernel().MergeConcepts(context.Background(), []string{"trail", "caster", "gyroscope"})
	require.NoError(t, err)

	resp := decode[map[string]any](t, do(t, router, http.MethodGet, "/v1/concepts", nil))
	assert.Equal(t, []any{"caster", "gyroscope", "trail"}, resp["concepts"])
	assert.Equal(t, float64(3), resp["count"])
}

func TestQuery(t *testing.T) {
	sys := newTestSystem(t, true)
	router := newTestRouter(t, sys)

	w := do(t, router, http.MethodPost, "/v1/query", QueryRequest{Prompt: "a, b"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "echo:a, b", decode[QueryResponse](t, w).Response)
	assert.Equal(t, 0, sys.Kernel().Status().KnowledgeBaseSize)

	w = do(t, router, http.MethodPost, "/v1/query", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQuery_NotRunning(t *testing.T) {
	router := newTestRouter(t, newTestSystem(t, false))

	w := do(t, router, http.MethodPost, "/v1/query", QueryRequest{Prompt: "x"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

// ============================================================================
// Server Lifecycle Tests
// ============================================================================

func TestRun_ServesUntilCancelled(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	svc, err := New(Config{Host: "127.0.0.1", Port: port, GinMode: gin.TestMode, ShutdownTimeout: time.Second},
		newTestSystem(t, false), WithLogger(logging.Discard()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
