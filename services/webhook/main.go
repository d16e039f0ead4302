// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// The rollback webhook receives alert-triggered remediation requests and
// rolls a checkout service back to a known-good version: it rewrites the
// service's pin in the shared env file and restarts just that service
// through the compose CLI.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/rollback-webhook/pkg/logging"
	"github.com/AleutianAI/rollback-webhook/services/webhook/middleware"
	"github.com/AleutianAI/rollback-webhook/services/webhook/observability"
	"github.com/AleutianAI/rollback-webhook/services/webhook/rollback"
	"github.com/AleutianAI/rollback-webhook/services/webhook/routes"
)

const serviceVersion = "1.0.0"

// config is resolved entirely from the environment; the webhook runs as a
// sidecar container in the workshop compose stack and has no config file.
type config struct {
	Port         string
	EnvFile      string
	ComposeFile  string
	Environment  string
	LogLevel     string
	OTelEndpoint string
}

func loadConfig() config {
	return config{
		Port:         getenv("WEBHOOK_PORT", "9000"),
		EnvFile:      getenv("ENV_FILE", ".env"),
		ComposeFile:  getenv("COMPOSE_FILE", "docker-compose.yml"),
		Environment:  getenv("ENVIRONMENT", "workshop"),
		LogLevel:     getenv("LOG_LEVEL", "info"),
		OTelEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel-collector:4317"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("rollback-webhook")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			log.Printf("failed to shutdown OTLP exporter: %v", err)
		}
	}, nil
}

func main() {
	cfg := loadConfig()
	startTime := time.Now()

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.LogLevel),
		Service: "rollback-webhook",
		JSON:    true,
		Output:  os.Stdout,
	})

	cleanup, err := initTracer(cfg.OTelEndpoint)
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	metrics := observability.InitMetrics()
	store := rollback.NewVersionStore(cfg.EnvFile, logger)
	runner := rollback.NewComposeRunner(nil, cfg.ComposeFile, cfg.EnvFile, logger)
	executor := rollback.NewExecutor(store, runner, cfg.ComposeFile, logger, metrics)

	logger.Info("starting rollback webhook",
		"version", serviceVersion,
		"environment", cfg.Environment,
		"port", cfg.Port,
		"env_file", cfg.EnvFile,
		"compose_file", cfg.ComposeFile)

	// Startup validation is advisory: the webhook comes up even when a
	// dependency is missing, because the workshop stack starts containers
	// in parallel and the daemon socket may mount a beat later. /ready
	// reports the live state.
	if ok, errMsg := executor.ValidateEnvironment(context.Background()); ok {
		logger.Info("environment validation PASSED")
	} else {
		logger.Warn("environment validation FAILED, rollbacks will fail until resolved",
			"error", errMsg)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	if watcher, werr := rollback.NewStoreWatcher(cfg.EnvFile, logger); werr != nil {
		logger.Warn("version store watcher unavailable", "error", werr)
	} else {
		defer watcher.Close()
		go watcher.Run(ctx)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(otelgin.Middleware("rollback-webhook"))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger))

	routes.SetupRoutes(router, routes.Deps{
		Executor:    executor,
		Runner:      runner,
		Store:       store,
		ComposeFile: cfg.ComposeFile,
		Version:     serviceVersion,
		Environment: cfg.Environment,
		StartTime:   startTime,
		Log:         logger,
		Metrics:     metrics,
	})

	logger.Info("rollback webhook listening", "port", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
