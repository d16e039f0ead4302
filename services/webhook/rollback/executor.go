// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package rollback implements the remediation path of the workshop: pin a
// service to a target version in the version store, restart it through the
// compose CLI, and report a structured, terminal result.
//
// # Components
//
//   - VersionStore: the flat KEY=VALUE file holding each service's pin.
//   - ComposeRunner: single-service restarts with bounded timeouts and a
//     tagged failure taxonomy.
//   - Executor: the state machine tying the two together, plus the
//     process-lifetime record of the most recent attempt.
//   - StoreWatcher: diagnostic visibility into external store edits.
//
// Every step of a rollback is instrumented with OpenTelemetry spans so
// participants can watch their own remediation in the trace view.
package rollback

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/rollback-webhook/pkg/logging"
	"github.com/AleutianAI/rollback-webhook/services/webhook/datatypes"
	"github.com/AleutianAI/rollback-webhook/services/webhook/observability"
)

var tracer = otel.Tracer("workshop.rollback")

// =============================================================================
// Executor
// =============================================================================

// Executor turns a remediation request into a version pin change and a
// service restart, and tracks the most recent attempt.
//
// # State Machine
//
// The sequence is linear with no branching back:
//
//	INITIATED -> (environment invalid)  -> FAILED
//	INITIATED -> (pin write fails)      -> FAILED
//	INITIATED -> (restart fails)        -> FAILED
//	INITIATED -> (restart ok)           -> COMPLETED
//
// The whole sequence runs synchronously inside ExecuteRollback, so callers
// only ever observe the terminal states.
//
// # Concurrency
//
// Concurrent requests targeting the same service serialize on a
// per-service lock held across the full read-pin-restart sequence;
// requests for different services proceed in parallel. The serialization
// closes the last-writer-wins race on the version store that a lockless
// design would have — callers should not rely on any cross-service
// ordering. External writers to the store file remain unguarded.
//
// # Failure Semantics
//
// ExecuteRollback never returns an error: every failure mode is converted
// into a FAILED record with the detail in its Error field. Callers must
// branch on Status.
type Executor struct {
	store   *VersionStore
	runner  *ComposeRunner
	compose string
	log     *logging.Logger
	metrics *observability.Metrics

	// stateMu guards lastRollback and totalRollbacks. The state is shared
	// across request goroutines and is diagnostic only; the version store
	// file is the source of truth.
	stateMu        sync.Mutex
	lastRollback   *datatypes.RollbackResponse
	totalRollbacks int64

	// serviceMu hands out the per-service locks.
	serviceMu sync.Mutex
	locks     map[datatypes.ServiceName]*sync.Mutex
}

// NewExecutor creates an Executor.
//
// # Inputs
//
//   - store: The version store to pin against. Must not be nil.
//   - runner: The compose runner performing restarts. Must not be nil.
//   - composeFile: Path to the compose file, checked during validation.
//   - log: Logger; nil gets the package default.
//   - metrics: Metrics sink; nil disables recording (unit tests).
func NewExecutor(store *VersionStore, runner *ComposeRunner, composeFile string, log *logging.Logger, metrics *observability.Metrics) *Executor {
	if log == nil {
		log = logging.Default()
	}
	return &Executor{
		store:   store,
		runner:  runner,
		compose: composeFile,
		log:     log,
		metrics: metrics,
		locks:   make(map[datatypes.ServiceName]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing rollbacks for one service.
func (e *Executor) lockFor(service datatypes.ServiceName) *sync.Mutex {
	e.serviceMu.Lock()
	defer e.serviceMu.Unlock()
	mu, ok := e.locks[service]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[service] = mu
	}
	return mu
}

// ValidateEnvironment checks that a rollback could run right now.
//
// # Description
//
// Three checks, short-circuiting on the first failure: the version store
// file exists, the compose file exists, and the container daemon answers
// its probe. The returned message names the failed check for operators.
//
// # Outputs
//
//   - bool: True when all checks pass.
//   - string: Empty on success; otherwise a human-readable failure.
func (e *Executor) ValidateEnvironment(ctx context.Context) (bool, string) {
	if !e.store.Exists() {
		return false, fmt.Sprintf("environment file not found: %s", e.store.Path())
	}
	if _, err := os.Stat(e.compose); err != nil {
		return false, fmt.Sprintf("compose file not found: %s", e.compose)
	}
	if !e.runner.ProbeDaemon(ctx) {
		return false, "docker not available: daemon probe failed"
	}
	return true, ""
}

// ExecuteRollback runs one complete rollback attempt.
//
// # Description
//
// Validates the environment, reads the current pin, writes the target pin,
// and restarts the service, building a terminal RollbackResponse along the
// way. Note the accepted inconsistency window: when the restart step
// fails, the store already points at the target version while the
// container may still run the old image. No compensating write-back is
// performed — the record documents the split-brain for operators and the
// next successful restart converges on the pin.
//
// # Outputs
//
//   - *datatypes.RollbackResponse: Terminal record, never nil. Callers
//     must check Status; this method never returns an error.
func (e *Executor) ExecuteRollback(ctx context.Context, req *datatypes.RollbackRequest) *datatypes.RollbackResponse {
	mu := e.lockFor(req.Service)
	mu.Lock()
	defer mu.Unlock()

	e.metrics.RollbackStarted()
	defer e.metrics.RollbackEnded()

	startedAt := time.Now().UTC()
	rollbackID := fmt.Sprintf("rb-%s-%s", startedAt.Format("20060102-150405"), req.Service)

	ctx, span := tracer.Start(ctx, "Executor.ExecuteRollback", trace.WithAttributes(
		attribute.String("rollback.id", rollbackID),
		attribute.String("rollback.service", string(req.Service)),
		attribute.String("rollback.target_version", req.TargetVersion),
		attribute.String("rollback.alert_id", req.AlertID),
		attribute.String("rollback.reason", req.Reason),
	))
	defer span.End()

	var traceID string
	if sc := span.SpanContext(); sc.IsValid() {
		traceID = sc.TraceID().String()
	}

	record := &datatypes.RollbackResponse{
		Status:        datatypes.RollbackInitiated,
		Service:       req.Service,
		TargetVersion: req.TargetVersion,
		RollbackID:    rollbackID,
		StartedAt:     startedAt,
		TraceID:       traceID,
	}

	e.log.InfoContext(ctx, "starting rollback",
		"rollback_id", rollbackID,
		"service", req.Service,
		"target_version", req.TargetVersion,
		"alert_id", req.AlertID,
		"reason", req.Reason)

	// Step 1: environment validation. A failure here leaves the version
	// store untouched.
	if ok, errMsg := e.ValidateEnvironment(ctx); !ok {
		e.log.ErrorContext(ctx, "environment validation failed", "error", errMsg)
		return e.fail(ctx, span, record, fmt.Sprintf("rollback validation failed: %s", errMsg), errMsg)
	}

	// Step 2: current pin. "Unknown" does not block progress.
	if prev, found := e.store.ReadVersion(ctx, req.Service); found {
		record.PreviousVersion = &prev
		span.SetAttributes(attribute.String("rollback.previous_version", prev))
		e.log.InfoContext(ctx, "current pinned version", "service", req.Service, "version", prev)
	} else {
		e.log.InfoContext(ctx, "no current pin for service, previous version unknown",
			"service", req.Service)
	}

	// Drift diagnostic only: the compose CLI is the authority on whether
	// the service can actually restart.
	if declared, known := ComposeDeclaresService(e.compose, string(req.Service)); known && !declared {
		e.log.WarnContext(ctx, "service not declared in compose file, restart will likely fail",
			"service", req.Service, "compose_file", e.compose)
	}

	// Step 3: write the target pin.
	if err := e.updateVersionPin(ctx, req); err != nil {
		errMsg := fmt.Sprintf("failed to update version store: %v", err)
		return e.fail(ctx, span, record, fmt.Sprintf("rollback failed: %s", errMsg), errMsg)
	}

	// Step 4: restart. The pin is already updated; a failure from here on
	// is the documented split-brain window.
	if output, rerr := e.restartService(ctx, req.Service); rerr != nil {
		e.metrics.RecordRestartFailure(string(req.Service), string(rerr.Reason))
		record.Message = fmt.Sprintf("rollback failed during service restart: %s", rerr.Message)
		return e.fail(ctx, span, record, record.Message, rerr.Message)
	} else if output != "" {
		e.log.DebugContext(ctx, "compose output", "output", truncate(output, 500))
	}

	// Success.
	completedAt := time.Now().UTC()
	duration := completedAt.Sub(startedAt).Seconds()

	prev := "unknown"
	if record.PreviousVersion != nil {
		prev = *record.PreviousVersion
	}

	record.Status = datatypes.RollbackCompleted
	record.CompletedAt = &completedAt
	record.Message = fmt.Sprintf("successfully rolled back %s from %s to %s in %.2f seconds",
		req.Service, prev, req.TargetVersion, duration)

	span.SetAttributes(
		attribute.String("rollback.status", string(record.Status)),
		attribute.Float64("rollback.duration_seconds", duration),
	)

	e.log.InfoContext(ctx, record.Message,
		"rollback_id", rollbackID,
		"service", req.Service,
		"previous_version", prev,
		"target_version", req.TargetVersion,
		"duration_seconds", duration)

	e.finish(record, true, duration)
	return record
}

// updateVersionPin writes the target pin inside its own span.
func (e *Executor) updateVersionPin(ctx context.Context, req *datatypes.RollbackRequest) error {
	ctx, span := tracer.Start(ctx, "Executor.updateVersionPin", trace.WithAttributes(
		attribute.String("store.path", e.store.Path()),
		attribute.String("rollback.service", string(req.Service)),
		attribute.String("rollback.target_version", req.TargetVersion),
	))
	defer span.End()

	err := e.store.WriteVersion(ctx, req.Service, req.TargetVersion)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// restartService performs the restart inside its own span.
func (e *Executor) restartService(ctx context.Context, service datatypes.ServiceName) (string, *RestartError) {
	ctx, span := tracer.Start(ctx, "Executor.restartService", trace.WithAttributes(
		attribute.String("rollback.service", string(service)),
		attribute.String("compose.file", e.compose),
	))
	defer span.End()

	output, rerr := e.runner.RestartService(ctx, service)
	if rerr != nil {
		span.SetAttributes(attribute.String("restart.failure_reason", string(rerr.Reason)))
		span.RecordError(rerr)
		return "", rerr
	}
	span.SetAttributes(attribute.Bool("restart.success", true))
	return output, nil
}

// fail stamps the record as FAILED and stores it as the last rollback.
// Failed attempts never advance the success counter.
func (e *Executor) fail(ctx context.Context, span trace.Span, record *datatypes.RollbackResponse, message, errDetail string) *datatypes.RollbackResponse {
	completedAt := time.Now().UTC()
	record.Status = datatypes.RollbackFailed
	record.CompletedAt = &completedAt
	record.Error = errDetail
	if record.Message == "" {
		record.Message = message
	}

	span.SetAttributes(
		attribute.String("rollback.status", string(record.Status)),
		attribute.String("rollback.error", errDetail),
	)

	e.log.ErrorContext(ctx, "rollback failed",
		"rollback_id", record.RollbackID,
		"service", record.Service,
		"error", errDetail)

	e.finish(record, false, completedAt.Sub(record.StartedAt).Seconds())
	return record
}

// finish stores the record and updates the counters. Only COMPLETED
// attempts count toward the total: it is a successful-remediations
// counter, not an attempts counter.
func (e *Executor) finish(record *datatypes.RollbackResponse, completed bool, seconds float64) {
	e.stateMu.Lock()
	e.lastRollback = record
	if completed {
		e.totalRollbacks++
	}
	e.stateMu.Unlock()

	e.metrics.RecordRollback(string(record.Service), completed, seconds)
}

// LastRollback returns the most recent terminal record, or nil when no
// rollback has run in this process's lifetime.
func (e *Executor) LastRollback() *datatypes.RollbackResponse {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.lastRollback
}

// TotalRollbacks returns the count of completed rollbacks since startup.
func (e *Executor) TotalRollbacks() int64 {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.totalRollbacks
}

// truncate bounds span/log payloads taken from subprocess output.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
