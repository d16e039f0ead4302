// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the rollback webhook service.
//
// This file contains the rollback request/response contract consumed by the
// alerting system, plus the health, readiness, and status report types.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Enumerations
// =============================================================================

// ServiceName identifies a service that can be rolled back.
//
// The set is closed: the webhook only manages the three checkout services
// deployed by the workshop compose file. Anything else is rejected at the
// HTTP boundary before the executor is invoked.
type ServiceName string

const (
	// OrderService is the checkout order service.
	OrderService ServiceName = "order-service"

	// InventoryService is the stock-checking service.
	InventoryService ServiceName = "inventory-service"

	// PaymentService is the simulated payment gateway.
	PaymentService ServiceName = "payment-service"
)

// KnownServices returns all services the webhook is allowed to manage.
func KnownServices() []ServiceName {
	return []ServiceName{OrderService, InventoryService, PaymentService}
}

// IsValid reports whether s is one of the managed services.
func (s ServiceName) IsValid() bool {
	switch s {
	case OrderService, InventoryService, PaymentService:
		return true
	}
	return false
}

// RollbackStatus is the lifecycle state of a rollback operation.
//
// The executor runs synchronously, so callers only ever observe the two
// terminal states. IN_PROGRESS exists for external reporting tools that may
// poll mid-flight in a future extension.
type RollbackStatus string

const (
	// RollbackInitiated is the state a record is created in.
	RollbackInitiated RollbackStatus = "ROLLBACK_INITIATED"

	// RollbackInProgress is reserved for future asynchronous reporting.
	// It is never returned by the executor today.
	RollbackInProgress RollbackStatus = "ROLLBACK_IN_PROGRESS"

	// RollbackCompleted means the version pin was written and the service
	// restart succeeded.
	RollbackCompleted RollbackStatus = "ROLLBACK_COMPLETED"

	// RollbackFailed means validation, the pin write, or the restart
	// failed. The record's Error field carries the detail.
	RollbackFailed RollbackStatus = "ROLLBACK_FAILED"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// webhookValidate is the validator instance for webhook datatypes.
var webhookValidate = validator.New()

// =============================================================================
// Rollback Request
// =============================================================================

// RollbackRequest is the webhook payload sent by the alerting system when a
// latency or SLO burn-rate alert fires.
//
// # Fields
//
//   - Service: Required. One of the managed service names.
//   - TargetVersion: Required. Version label to pin (e.g. "v1.0").
//   - AlertID: Required. Identifier of the alert rule that fired.
//   - AlertName: Optional. Human-readable alert name for logging.
//   - Reason: Required. Free-text reason (e.g. "SLO burn rate exceeded").
//   - TriggeredAt: Optional. When the alert fired.
//   - AdditionalContext: Optional. Free-form alert context (burn rates,
//     latency percentiles). Logged, never interpreted.
//   - RequestID: Optional. UUID v4 correlating this delivery; generated
//     server-side when absent (see EnsureDefaults).
//
// # Validation
//
// Uses go-playground/validator. The service enum is enforced with oneof so
// an unknown service fails validation rather than reaching the executor.
type RollbackRequest struct {
	Service           ServiceName    `json:"service" validate:"required,oneof=order-service inventory-service payment-service"`
	TargetVersion     string         `json:"target_version" validate:"required"`
	AlertID           string         `json:"alert_id" validate:"required"`
	AlertName         string         `json:"alert_name,omitempty"`
	Reason            string         `json:"reason" validate:"required"`
	TriggeredAt       *time.Time     `json:"triggered_at,omitempty"`
	AdditionalContext map[string]any `json:"additional_context,omitempty"`
	RequestID         string         `json:"request_id,omitempty" validate:"omitempty,uuid4"`
}

// Validate validates the RollbackRequest fields.
//
// Call after binding the JSON body; a non-nil error names the offending
// field.
func (r *RollbackRequest) Validate() error {
	return webhookValidate.Struct(r)
}

// EnsureDefaults populates the RequestID when the caller omitted it, so
// every delivery is traceable in logs.
func (r *RollbackRequest) EnsureDefaults() {
	if r.RequestID == "" {
		r.RequestID = uuid.NewString()
	}
}

// =============================================================================
// Rollback Response
// =============================================================================

// RollbackResponse is the structured result of one rollback attempt.
//
// A response is terminal once returned: the executor never mutates a record
// after handing it back. The webhook returns it with HTTP 200 regardless of
// Status, so automated callers always get a parseable body and must branch
// on the status field rather than the HTTP code.
type RollbackResponse struct {
	// Status is the terminal state of this attempt.
	Status RollbackStatus `json:"status"`

	// Message is a human-readable summary.
	Message string `json:"message"`

	// Service is the service that was (or was not) rolled back.
	Service ServiceName `json:"service"`

	// PreviousVersion is the pin before the rollback. Nil when the version
	// store had no entry for the service ("unknown", not an error).
	PreviousVersion *string `json:"previous_version"`

	// TargetVersion is the pin requested by the alert.
	TargetVersion string `json:"target_version"`

	// RollbackID uniquely identifies this attempt. Derived from the UTC
	// start time plus the service name; collisions are implausible at
	// operator-triggered rates.
	RollbackID string `json:"rollback_id"`

	// StartedAt and CompletedAt bound the attempt.
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error carries failure detail when Status is ROLLBACK_FAILED.
	Error string `json:"error,omitempty"`

	// TraceID correlates the attempt with its OpenTelemetry trace.
	TraceID string `json:"trace_id,omitempty"`
}

// =============================================================================
// Report Types
// =============================================================================

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status          string `json:"status"`
	Version         string `json:"version"`
	Environment     string `json:"environment"`
	DockerAvailable bool   `json:"docker_available"`
}

// ReadyResponse is the GET /ready body. Checks holds the individual
// readiness probes: docker, env_file, compose_file.
type ReadyResponse struct {
	Ready  bool            `json:"ready"`
	Checks map[string]bool `json:"checks"`
}

// StatusResponse is the GET /status body, reporting the most recent
// rollback and the running success counter.
type StatusResponse struct {
	LastRollback         *RollbackResponse `json:"last_rollback"`
	TotalRollbacks       int64             `json:"total_rollbacks"`
	ServiceUptimeSeconds float64           `json:"service_uptime_seconds"`
}
