// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/rollback-webhook/pkg/logging"
	"github.com/AleutianAI/rollback-webhook/services/webhook/datatypes"
	"github.com/AleutianAI/rollback-webhook/services/webhook/rollback"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

const testComposeYAML = `services:
  order-service:
    image: workshop/order-service:${ORDER_SERVICE_VERSION}
  inventory-service:
    image: workshop/inventory-service:${INVENTORY_SERVICE_VERSION}
  payment-service:
    image: workshop/payment-service:${PAYMENT_SERVICE_VERSION}
`

// testHarness is a fully wired router over temp files and a scripted
// process manager.
type testHarness struct {
	router *gin.Engine
	mock   *rollback.MockProcessManager
	store  *rollback.VersionStore
}

// newTestHarness builds the route table with all compose invocations
// succeeding unless restartFails is set.
func newTestHarness(t *testing.T, restartFails bool) *testHarness {
	t.Helper()
	dir := t.TempDir()

	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("ORDER_SERVICE_VERSION=v1.1\n"), 0o644); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	composePath := filepath.Join(dir, "docker-compose.yml")
	if err := os.WriteFile(composePath, []byte(testComposeYAML), 0o644); err != nil {
		t.Fatalf("failed to write compose file: %v", err)
	}

	mock := &rollback.MockProcessManager{
		RunFunc: func(_ context.Context, name string, args ...string) (rollback.RunResult, error) {
			switch {
			case name == "docker" && len(args) >= 1 && args[0] == "info":
				return rollback.RunResult{Stdout: "Server Version: 27.0"}, nil
			case name == "docker" && len(args) >= 2 && args[0] == "compose" && args[1] == "version":
				return rollback.RunResult{Stdout: "Docker Compose version v2.24.0"}, nil
			case restartFails:
				return rollback.RunResult{ExitCode: 1, Stderr: "no such image"}, nil
			default:
				return rollback.RunResult{Stdout: "Container Started"}, nil
			}
		},
	}

	logger := logging.New(logging.Config{Level: slog.LevelError, JSON: true, Output: io.Discard})
	store := rollback.NewVersionStore(envPath, logger)
	runner := rollback.NewComposeRunner(mock, composePath, envPath, logger)
	executor := rollback.NewExecutor(store, runner, composePath, logger, nil)

	router := gin.New()
	SetupRoutes(router, Deps{
		Executor:    executor,
		Runner:      runner,
		Store:       store,
		ComposeFile: composePath,
		Version:     "test",
		Environment: "test",
		StartTime:   time.Now(),
		Log:         logger,
	})

	return &testHarness{router: router, mock: mock, store: store}
}

func (h *testHarness) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

// ============================================================================
// Rollback Endpoint Tests
// ============================================================================

func TestRollbackEndpoint_Completed(t *testing.T) {
	h := newTestHarness(t, false)

	w := h.do(http.MethodPost, "/rollback",
		`{"service":"order-service","target_version":"v1.0","alert_id":"slo-burn","reason":"latency"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp datatypes.RollbackResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Status != datatypes.RollbackCompleted {
		t.Errorf("expected ROLLBACK_COMPLETED, got %s", resp.Status)
	}
	if resp.PreviousVersion == nil || *resp.PreviousVersion != "v1.1" {
		t.Errorf("expected previous_version v1.1, got %v", resp.PreviousVersion)
	}
	if resp.TargetVersion != "v1.0" {
		t.Errorf("expected target_version v1.0, got %s", resp.TargetVersion)
	}
}

func TestRollbackEndpoint_RestartFailureStill200(t *testing.T) {
	h := newTestHarness(t, true)

	w := h.do(http.MethodPost, "/rollback",
		`{"service":"order-service","target_version":"v1.0","alert_id":"slo-burn","reason":"latency"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 despite failure, got %d", w.Code)
	}

	var resp datatypes.RollbackResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Status != datatypes.RollbackFailed {
		t.Errorf("expected ROLLBACK_FAILED, got %s", resp.Status)
	}
	if resp.Error == "" {
		t.Error("expected error detail in failed response")
	}
}

func TestRollbackEndpoint_UnknownService422(t *testing.T) {
	h := newTestHarness(t, false)

	w := h.do(http.MethodPost, "/rollback",
		`{"service":"search-service","target_version":"v1.0","alert_id":"slo-burn","reason":"latency"}`)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}

	// Validation rejections must never reach the compose CLI.
	if calls := h.mock.GetCalls(); len(calls) != 0 {
		t.Errorf("expected no process invocations, got %d", len(calls))
	}
}

func TestRollbackEndpoint_MissingFields422(t *testing.T) {
	h := newTestHarness(t, false)

	w := h.do(http.MethodPost, "/rollback", `{"service":"order-service"}`)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
}

func TestRollbackEndpoint_MalformedJSON422(t *testing.T) {
	h := newTestHarness(t, false)

	w := h.do(http.MethodPost, "/rollback", `{"service": `)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
}

// ============================================================================
// Status / Health / Ready Tests
// ============================================================================

func TestStatusEndpoint(t *testing.T) {
	h := newTestHarness(t, false)

	// Before any rollback.
	w := h.do(http.MethodGet, "/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var status datatypes.StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("failed to parse status: %v", err)
	}
	if status.LastRollback != nil {
		t.Error("expected no last rollback before any attempt")
	}
	if status.TotalRollbacks != 0 {
		t.Errorf("expected zero total rollbacks, got %d", status.TotalRollbacks)
	}

	// After one successful rollback.
	h.do(http.MethodPost, "/rollback",
		`{"service":"order-service","target_version":"v1.0","alert_id":"slo-burn","reason":"latency"}`)

	w = h.do(http.MethodGet, "/status", "")
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("failed to parse status: %v", err)
	}
	if status.LastRollback == nil {
		t.Fatal("expected last rollback to be recorded")
	}
	if status.TotalRollbacks != 1 {
		t.Errorf("expected one total rollback, got %d", status.TotalRollbacks)
	}
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestHarness(t, false)

	w := h.do(http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var health datatypes.HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatalf("failed to parse health: %v", err)
	}
	if health.Status != "healthy" {
		t.Errorf("expected healthy, got %s", health.Status)
	}
	if !health.DockerAvailable {
		t.Error("expected docker_available true")
	}
}

func TestReadyEndpoint(t *testing.T) {
	h := newTestHarness(t, false)

	w := h.do(http.MethodGet, "/ready", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var ready datatypes.ReadyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &ready); err != nil {
		t.Fatalf("failed to parse ready: %v", err)
	}
	if !ready.Ready {
		t.Error("expected ready true")
	}
	for _, check := range []string{"docker", "env_file", "compose_file"} {
		if !ready.Checks[check] {
			t.Errorf("expected check %s to pass", check)
		}
	}
}

func TestReadyEndpoint_DaemonDown503(t *testing.T) {
	h := newTestHarness(t, false)
	h.mock.RunFunc = func(_ context.Context, name string, args ...string) (rollback.RunResult, error) {
		return rollback.RunResult{ExitCode: 1, Stderr: "Cannot connect to the Docker daemon"}, nil
	}

	w := h.do(http.MethodGet, "/ready", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}

	var ready datatypes.ReadyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &ready); err != nil {
		t.Fatalf("failed to parse ready: %v", err)
	}
	if ready.Ready {
		t.Error("expected ready false")
	}
	if ready.Checks["docker"] {
		t.Error("expected docker check to fail")
	}
}

func TestRootEndpoint(t *testing.T) {
	h := newTestHarness(t, false)

	w := h.do(http.MethodGet, "/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "rollback-webhook") {
		t.Errorf("expected service descriptor, got %s", w.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestHarness(t, false)

	w := h.do(http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
