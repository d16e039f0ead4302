// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the rollback
// webhook.
//
// # Description
//
// Metrics cover the remediation path end to end:
//   - Rollback attempts by service and terminal status
//   - Rollback duration histograms
//   - Restart failures by tagged reason (CLI_NOT_FOUND, NON_ZERO_EXIT,
//     TIMEOUT, UNKNOWN)
//   - In-flight rollback gauge
//   - Webhook request counters by endpoint and status
//
// # Integration
//
// Exposed via the /metrics endpoint (promhttp). Use with Prometheus +
// Grafana alongside the OTel traces during the workshop.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace and subsystem for all webhook metrics.
const (
	metricsNamespace  = "workshop"
	rollbackSubsystem = "rollback"
)

// Metrics holds all Prometheus metrics for the rollback webhook.
//
// Initialize once at startup via InitMetrics(). All record methods are
// nil-safe so unit tests can run an executor without a metrics instance.
type Metrics struct {
	// RollbacksTotal counts rollback attempts by service and terminal status.
	// Labels: service, status (completed, failed)
	RollbacksTotal *prometheus.CounterVec

	// RollbackDurationSeconds measures end-to-end rollback duration.
	// Labels: service, status (completed, failed)
	RollbackDurationSeconds *prometheus.HistogramVec

	// RestartFailuresTotal counts restart failures by tagged reason.
	// Labels: service, reason (CLI_NOT_FOUND, NON_ZERO_EXIT, TIMEOUT, UNKNOWN)
	RestartFailuresTotal *prometheus.CounterVec

	// RollbacksInFlight tracks currently executing rollbacks.
	RollbacksInFlight prometheus.Gauge

	// RequestsTotal counts webhook HTTP requests by endpoint and status.
	// Labels: endpoint (rollback, status, health, ready), status (ok, rejected)
	RequestsTotal *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// InitMetrics initializes and returns the process-wide metrics instance.
//
// # Description
//
// Registers all metrics against the default Prometheus registry. Safe to
// call more than once; registration happens exactly once and subsequent
// calls return the same instance.
//
// # Outputs
//
//   - *Metrics: The initialized metrics instance.
func InitMetrics() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = &Metrics{
			RollbacksTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: rollbackSubsystem,
					Name:      "attempts_total",
					Help:      "Total rollback attempts by service and terminal status",
				},
				[]string{"service", "status"},
			),

			RollbackDurationSeconds: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: metricsNamespace,
					Subsystem: rollbackSubsystem,
					Name:      "duration_seconds",
					Help:      "End-to-end rollback duration in seconds",
					Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
				},
				[]string{"service", "status"},
			),

			RestartFailuresTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: rollbackSubsystem,
					Name:      "restart_failures_total",
					Help:      "Restart failures by service and tagged reason",
				},
				[]string{"service", "reason"},
			),

			RollbacksInFlight: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: metricsNamespace,
					Subsystem: rollbackSubsystem,
					Name:      "in_flight",
					Help:      "Number of rollbacks currently executing",
				},
			),

			RequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: "webhook",
					Name:      "requests_total",
					Help:      "Webhook HTTP requests by endpoint and status",
				},
				[]string{"endpoint", "status"},
			),
		}
	})
	return defaultMetrics
}

// RecordRollback records a finished rollback attempt.
//
// # Inputs
//
//   - service: The service that was targeted.
//   - completed: Whether the attempt reached ROLLBACK_COMPLETED.
//   - seconds: End-to-end duration.
func (m *Metrics) RecordRollback(service string, completed bool, seconds float64) {
	if m == nil {
		return
	}
	status := "completed"
	if !completed {
		status = "failed"
	}
	m.RollbacksTotal.WithLabelValues(service, status).Inc()
	m.RollbackDurationSeconds.WithLabelValues(service, status).Observe(seconds)
}

// RecordRestartFailure records a tagged restart failure.
func (m *Metrics) RecordRestartFailure(service, reason string) {
	if m == nil {
		return
	}
	m.RestartFailuresTotal.WithLabelValues(service, reason).Inc()
}

// RollbackStarted increments the in-flight gauge.
func (m *Metrics) RollbackStarted() {
	if m == nil {
		return
	}
	m.RollbacksInFlight.Inc()
}

// RollbackEnded decrements the in-flight gauge.
func (m *Metrics) RollbackEnded() {
	if m == nil {
		return
	}
	m.RollbacksInFlight.Dec()
}

// RecordRequest records a webhook HTTP request outcome.
func (m *Metrics) RecordRequest(endpoint string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "rejected"
	}
	m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
}
