// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rollback

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"time"

	"github.com/AleutianAI/rollback-webhook/pkg/logging"
	"github.com/AleutianAI/rollback-webhook/services/webhook/datatypes"
)

// Default timeouts for compose CLI interaction. Restarts legitimately take
// time to pull and start containers; probes must stay snappy because they
// sit on the health and readiness paths.
const (
	// DefaultProbeTimeout bounds CLI and daemon probes.
	DefaultProbeTimeout = 5 * time.Second

	// DefaultRestartTimeout bounds a single-service restart.
	DefaultRestartTimeout = 60 * time.Second
)

// =============================================================================
// Failure Taxonomy
// =============================================================================

// FailureReason tags why a restart failed, so callers can branch without
// string-matching the message.
type FailureReason string

const (
	// ReasonCLINotFound means the compose binary could not be launched.
	ReasonCLINotFound FailureReason = "CLI_NOT_FOUND"

	// ReasonNonZeroExit means the compose command ran and failed.
	ReasonNonZeroExit FailureReason = "NON_ZERO_EXIT"

	// ReasonTimeout means the restart exceeded its deadline.
	ReasonTimeout FailureReason = "TIMEOUT"

	// ReasonUnknown covers launch failures that are none of the above.
	ReasonUnknown FailureReason = "UNKNOWN"
)

// RestartError is a tagged restart failure. Message carries the raw detail
// (stderr, timeout notice, or launch error text).
type RestartError struct {
	Reason  FailureReason
	Message string
}

// Error implements the error interface.
func (e *RestartError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// =============================================================================
// Compose Runner
// =============================================================================

// ComposeRunner restarts a single managed service through the compose CLI.
//
// # Description
//
// The runner builds `<compose> -f <file> --env-file <env> up -d --no-deps
// <service>` so only the named service is disturbed; its siblings keep
// running. The compose command itself is detected on every restart —
// `docker compose` (v2 plugin) when its version subcommand answers, the
// legacy `docker-compose` binary otherwise. No caching: restarts are
// operator-triggered and rare, and the runtime may be swapped out between
// them during a workshop.
//
// # Thread Safety
//
// ComposeRunner holds no mutable state and is safe for concurrent use.
type ComposeRunner struct {
	pm             ProcessManager
	log            *logging.Logger
	composeFile    string
	envFile        string
	probeTimeout   time.Duration
	restartTimeout time.Duration
}

// NewComposeRunner creates a runner for the given compose and env files.
//
// A nil ProcessManager gets the production implementation; zero timeouts
// get the package defaults.
func NewComposeRunner(pm ProcessManager, composeFile, envFile string, log *logging.Logger) *ComposeRunner {
	if pm == nil {
		pm = NewDefaultProcessManager()
	}
	if log == nil {
		log = logging.Default()
	}
	return &ComposeRunner{
		pm:             pm,
		log:            log,
		composeFile:    composeFile,
		envFile:        envFile,
		probeTimeout:   DefaultProbeTimeout,
		restartTimeout: DefaultRestartTimeout,
	}
}

// WithTimeouts overrides the probe and restart timeouts. Zero values keep
// the current setting. Returns the runner for chaining in tests.
func (r *ComposeRunner) WithTimeouts(probe, restart time.Duration) *ComposeRunner {
	if probe > 0 {
		r.probeTimeout = probe
	}
	if restart > 0 {
		r.restartTimeout = restart
	}
	return r
}

// DetectComposeCommand probes for the compose v2 plugin and falls back to
// the legacy binary.
//
// # Outputs
//
//   - []string: The command prefix, either ["docker", "compose"] or
//     ["docker-compose"].
func (r *ComposeRunner) DetectComposeCommand(ctx context.Context) []string {
	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	result, err := r.pm.Run(probeCtx, "docker", "compose", "version")
	if err == nil && result.ExitCode == 0 && !result.TimedOut {
		return []string{"docker", "compose"}
	}

	r.log.DebugContext(ctx, "docker compose v2 not available, falling back to docker-compose",
		"exit_code", result.ExitCode, "error", err)
	return []string{"docker-compose"}
}

// ProbeDaemon reports whether the container daemon answers `docker info`
// within the probe timeout. Used by environment validation and by the
// health and readiness endpoints.
func (r *ComposeRunner) ProbeDaemon(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	result, err := r.pm.Run(probeCtx, "docker", "info")
	return err == nil && result.ExitCode == 0 && !result.TimedOut
}

// RestartService restarts exactly one service.
//
// # Description
//
// Detects the compose command, then runs the single-service up with a
// bounded deadline. Every failure path resolves to a *RestartError; the
// method never panics and never lets a launch exception escape.
//
// # Outputs
//
//   - string: The compose CLI's stdout on success.
//   - *RestartError: Nil on success; otherwise the tagged failure with
//     stderr, a timeout notice, or the launch error as Message.
func (r *ComposeRunner) RestartService(ctx context.Context, service datatypes.ServiceName) (string, *RestartError) {
	composeCmd := r.DetectComposeCommand(ctx)

	args := append(composeCmd[1:],
		"-f", r.composeFile,
		"--env-file", r.envFile,
		"up", "-d", "--no-deps",
		string(service),
	)

	r.log.InfoContext(ctx, "restarting service via compose",
		"service", service,
		"command", composeCmd[0],
		"compose_file", r.composeFile)

	runCtx, cancel := context.WithTimeout(ctx, r.restartTimeout)
	defer cancel()

	result, err := r.pm.Run(runCtx, composeCmd[0], args...)
	switch {
	case err != nil:
		r.log.ErrorContext(ctx, "failed to launch compose CLI",
			"service", service, "error", err)
		return "", &RestartError{
			Reason:  classifyLaunchError(err),
			Message: fmt.Sprintf("error restarting %s: %v", service, err),
		}

	case result.TimedOut:
		msg := fmt.Sprintf("timeout while restarting %s", service)
		r.log.ErrorContext(ctx, "compose restart timed out",
			"service", service, "timeout", r.restartTimeout)
		return "", &RestartError{Reason: ReasonTimeout, Message: msg}

	case result.ExitCode != 0:
		r.log.ErrorContext(ctx, "compose restart exited non-zero",
			"service", service, "exit_code", result.ExitCode, "stderr", result.Stderr)
		return "", &RestartError{Reason: ReasonNonZeroExit, Message: result.Stderr}
	}

	r.log.InfoContext(ctx, "service restarted", "service", service)
	return result.Stdout, nil
}

// classifyLaunchError distinguishes a missing binary from other launch
// failures (permissions, resource limits).
func classifyLaunchError(err error) FailureReason {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return ReasonCLINotFound
	}
	return ReasonUnknown
}
