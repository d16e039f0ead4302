// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the HTTP surface of the rollback webhook.
//
// The contract with the alerting system is deliberately asymmetric:
// malformed or invalid payloads get 4xx before the executor is touched,
// but once a rollback attempt starts, the handler returns 200 with the
// terminal record regardless of outcome. Alerting pipelines treat non-2xx
// as "delivery failed, retry" — a retried rollback that already failed
// once would just thrash the environment, so failure is expressed in the
// body's status field instead.
package handlers

import (
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/rollback-webhook/pkg/logging"
	"github.com/AleutianAI/rollback-webhook/services/webhook/datatypes"
	"github.com/AleutianAI/rollback-webhook/services/webhook/observability"
	"github.com/AleutianAI/rollback-webhook/services/webhook/rollback"
)

// HandleRollback processes a rollback webhook delivery.
//
// # Description
//
// Binds and validates the JSON payload, then runs the rollback
// synchronously and returns the terminal record. Validation failures are
// 422 with the offending detail; everything past validation is 200.
//
// # Responses
//
//   - 422: Malformed JSON or failed field validation.
//   - 200: Terminal RollbackResponse (status COMPLETED or FAILED).
func HandleRollback(exec *rollback.Executor, log *logging.Logger, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var req datatypes.RollbackRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			log.WarnContext(ctx, "rejected malformed rollback payload", "error", err)
			metrics.RecordRequest("rollback", false)
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "invalid request body",
				"details": err.Error(),
			})
			return
		}

		if err := req.Validate(); err != nil {
			log.WarnContext(ctx, "rejected invalid rollback request",
				"service", req.Service, "error", err)
			metrics.RecordRequest("rollback", false)
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "validation failed",
				"details": err.Error(),
			})
			return
		}

		req.EnsureDefaults()

		log.InfoContext(ctx, "rollback webhook received",
			"service", req.Service,
			"target_version", req.TargetVersion,
			"alert_id", req.AlertID,
			"alert_name", req.AlertName,
			"request_id", req.RequestID)

		record := exec.ExecuteRollback(ctx, &req)

		metrics.RecordRequest("rollback", true)
		c.JSON(http.StatusOK, record)
	}
}

// HandleStatus reports the most recent rollback and the success counter.
func HandleStatus(exec *rollback.Executor, startTime time.Time, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics.RecordRequest("status", true)
		c.JSON(http.StatusOK, datatypes.StatusResponse{
			LastRollback:         exec.LastRollback(),
			TotalRollbacks:       exec.TotalRollbacks(),
			ServiceUptimeSeconds: time.Since(startTime).Seconds(),
		})
	}
}

// HandleHealth is the liveness probe. Always 200: the process is up, and
// the body reports whether the container daemon currently answers.
func HandleHealth(runner *rollback.ComposeRunner, version, environment string, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics.RecordRequest("health", true)
		c.JSON(http.StatusOK, datatypes.HealthResponse{
			Status:          "healthy",
			Version:         version,
			Environment:     environment,
			DockerAvailable: runner.ProbeDaemon(c.Request.Context()),
		})
	}
}

// HandleReady is the readiness probe: 200 when every dependency a
// rollback needs is present, 503 otherwise, with per-check detail.
func HandleReady(runner *rollback.ComposeRunner, store *rollback.VersionStore, composeFile string, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := map[string]bool{
			"docker":       runner.ProbeDaemon(c.Request.Context()),
			"env_file":     store.Exists(),
			"compose_file": fileExists(composeFile),
		}

		ready := true
		for _, ok := range checks {
			ready = ready && ok
		}

		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		metrics.RecordRequest("ready", ready)
		c.JSON(status, datatypes.ReadyResponse{Ready: ready, Checks: checks})
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// HandleRoot describes the service and its endpoints for anyone poking
// the base URL during the workshop.
func HandleRoot(version, environment string, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service":        "rollback-webhook",
			"version":        version,
			"environment":    environment,
			"uptime_seconds": time.Since(startTime).Seconds(),
			"endpoints": gin.H{
				"rollback": "POST /rollback",
				"status":   "GET /status",
				"health":   "GET /health",
				"ready":    "GET /ready",
				"metrics":  "GET /metrics",
			},
		})
	}
}
