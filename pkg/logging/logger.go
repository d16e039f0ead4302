// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for workshop services.
//
// The package wraps Go's standard library slog with two additions the
// workshop depends on:
//
//   - A service attribute stamped on every record, so aggregated logs can
//     be filtered per component.
//   - OpenTelemetry trace correlation: when a log call carries a context
//     with an active span, the record gains trace_id and span_id fields.
//     This is what lets participants pivot from a log line to the trace
//     that produced it.
//
// # Basic Usage
//
//	logger := logging.New(logging.Config{Service: "rollback-webhook", JSON: true})
//	logger.InfoContext(ctx, "rollback started", "service", svc)
//
// Records written without a context (or with a context that has no span)
// simply omit the correlation fields.
//
// # Log Levels
//
// Four levels are supported, matching slog conventions: Debug, Info, Warn,
// Error. The minimum level is set via Config.Level, typically from the
// LOG_LEVEL environment variable.
//
// # Thread Safety
//
// Logger is safe for concurrent use; slog handlers are thread-safe and the
// wrapper holds no mutable state.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// Configuration
// =============================================================================

// Config configures the Logger behavior.
//
// A zero-value Config produces a text logger at Info level writing to
// stderr with no service attribute.
type Config struct {
	// Level sets the minimum log level. Default: slog.LevelInfo.
	Level slog.Level

	// Service identifies the component generating logs. When non-empty it
	// is included in every record as the "service" attribute.
	Service string

	// JSON enables JSON output (machine-parseable). When false, records
	// are human-readable text. Service deployments should set this; CLI
	// usage usually leaves it off.
	JSON bool

	// Output overrides the destination. Default: os.Stderr.
	Output io.Writer
}

// ParseLevel maps a LOG_LEVEL-style string to a slog.Level.
//
// Unrecognized values fall back to Info, which keeps a misconfigured
// deployment noisy rather than silent.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// =============================================================================
// Logger
// =============================================================================

// Logger is a slog.Logger with trace correlation attached.
//
// Use the *Context variants whenever a request context is available; the
// non-context variants exist for startup and shutdown paths where no span
// can be active.
type Logger struct {
	slog *slog.Logger
}

// New creates a Logger from the given configuration.
//
// # Description
//
// Builds an slog handler chain: base text/JSON handler, wrapped by the
// trace-correlation handler, with the service attribute applied last so it
// appears on every record.
//
// # Inputs
//
//   - config: Logger configuration (see Config).
//
// # Outputs
//
//   - *Logger: Ready-to-use logger. Never nil.
func New(config Config) *Logger {
	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: config.Level}

	var base slog.Handler
	if config.JSON {
		base = slog.NewJSONHandler(out, opts)
	} else {
		base = slog.NewTextHandler(out, opts)
	}

	var handler slog.Handler = &traceHandler{next: base}
	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{
			slog.String("service", config.Service),
		})
	}

	return &Logger{slog: slog.New(handler)}
}

// Default returns a text logger at Info level with no service attribute.
func Default() *Logger {
	return New(Config{})
}

// Debug logs at Debug level without trace correlation.
func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }

// Info logs at Info level without trace correlation.
func (l *Logger) Info(msg string, args ...any) { l.slog.Info(msg, args...) }

// Warn logs at Warn level without trace correlation.
func (l *Logger) Warn(msg string, args ...any) { l.slog.Warn(msg, args...) }

// Error logs at Error level without trace correlation.
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// DebugContext logs at Debug level, correlating with any span in ctx.
func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.slog.DebugContext(ctx, msg, args...)
}

// InfoContext logs at Info level, correlating with any span in ctx.
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.slog.InfoContext(ctx, msg, args...)
}

// WarnContext logs at Warn level, correlating with any span in ctx.
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.slog.WarnContext(ctx, msg, args...)
}

// ErrorContext logs at Error level, correlating with any span in ctx.
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.slog.ErrorContext(ctx, msg, args...)
}

// With returns a new Logger carrying additional attributes.
//
// Useful for request-scoped loggers:
//
//	reqLogger := logger.With("rollback_id", id)
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...)}
}

// Slog returns the underlying slog.Logger for call sites that need it
// directly (for example slog.SetDefault at startup).
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// =============================================================================
// Trace Correlation Handler (Internal)
// =============================================================================

// traceHandler injects OpenTelemetry span context into log records.
//
// When the record's context carries a valid span, trace_id and span_id
// attributes are appended before delegating to the wrapped handler. Records
// without a span pass through untouched.
type traceHandler struct {
	next slog.Handler
}

// Enabled delegates to the wrapped handler.
func (h *traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle appends trace correlation attributes when a span is active.
func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.next.Handle(ctx, r)
}

// WithAttrs returns a new handler with additional attributes.
func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{next: h.next.WithAttrs(attrs)}
}

// WithGroup returns a new handler with a group name.
func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{next: h.next.WithGroup(name)}
}
