// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/rollback-webhook/pkg/logging"
	"github.com/AleutianAI/rollback-webhook/services/webhook/handlers"
	"github.com/AleutianAI/rollback-webhook/services/webhook/observability"
	"github.com/AleutianAI/rollback-webhook/services/webhook/rollback"
)

// Deps bundles everything the route table needs. Built once in main and
// in the route-level tests.
type Deps struct {
	Executor    *rollback.Executor
	Runner      *rollback.ComposeRunner
	Store       *rollback.VersionStore
	ComposeFile string
	Version     string
	Environment string
	StartTime   time.Time
	Log         *logging.Logger
	Metrics     *observability.Metrics
}

// SetupRoutes registers the full webhook route table.
//
//	GET  /          service descriptor
//	GET  /health    liveness (always 200)
//	GET  /ready     readiness (200 / 503 with per-check detail)
//	GET  /metrics   Prometheus exposition
//	POST /rollback  execute a rollback
//	GET  /status    last rollback + success counter
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/", handlers.HandleRoot(deps.Version, deps.Environment, deps.StartTime))
	router.GET("/health", handlers.HandleHealth(deps.Runner, deps.Version, deps.Environment, deps.Metrics))
	router.GET("/ready", handlers.HandleReady(deps.Runner, deps.Store, deps.ComposeFile, deps.Metrics))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/rollback", handlers.HandleRollback(deps.Executor, deps.Log, deps.Metrics))
	router.GET("/status", handlers.HandleStatus(deps.Executor, deps.StartTime, deps.Metrics))
}
