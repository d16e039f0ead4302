// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the rollback webhook.
//
// The webhook is called by an automated alerting pipeline, not humans, so
// the middleware's job is to keep every response machine-parseable: a
// panic anywhere in a handler must still produce structured JSON rather
// than gin's default empty 500.
package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/rollback-webhook/pkg/logging"
)

// Recovery converts handler panics into a structured 500 response.
//
// # Description
//
// Logs the panic with the request's trace context so the crash shows up
// next to the rollback spans, then answers with a JSON error body. The
// connection is not aborted mid-write: gin's CustomRecovery runs before
// any body has been written for our handlers.
func Recovery(log *logging.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.ErrorContext(c.Request.Context(), "handler panic recovered",
			"panic", recovered,
			"path", c.Request.URL.Path,
			"method", c.Request.Method)

		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal server error",
			"message": "the webhook hit an unexpected error; check service logs",
			"type":    "panic",
		})
	})
}

// RequestLogger emits one structured line per request with latency and
// status, replacing gin's default writer-based logger so everything goes
// through the same slog pipeline.
func RequestLogger(log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// Probes are high-frequency noise at info level.
		level := log.InfoContext
		if c.Request.URL.Path == "/health" || c.Request.URL.Path == "/ready" {
			level = log.DebugContext
		}

		level(c.Request.Context(), "request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP())
	}
}
