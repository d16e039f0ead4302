// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rollback

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
)

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// ProcessManager handles external process operations.
//
// # Description
//
// All compose CLI invocations in the rollback path go through this
// interface so the executor and launcher can be unit tested without a
// container runtime. The production implementation shells out with
// os/exec; tests use MockProcessManager.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use from multiple goroutines.
//
// # Context Handling
//
// Run respects context cancellation and deadlines: when the context
// expires, the child process is killed and the result carries TimedOut.
type ProcessManager interface {
	// Run executes a command synchronously and returns its captured output.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation/timeout.
	//   - name: The executable name or path.
	//   - args: Command arguments (variadic).
	//
	// # Outputs
	//
	//   - RunResult: Captured stdout/stderr, exit code, timeout flag.
	//   - error: Non-nil only when the command could not be launched
	//     (binary not found, permission denied). A non-zero exit is a
	//     result, not an error.
	Run(ctx context.Context, name string, args ...string) (RunResult, error)
}

// RunResult is the normalized outcome of one child process execution.
type RunResult struct {
	// Stdout is the captured standard output, trimmed.
	Stdout string

	// Stderr is the captured standard error, trimmed.
	Stderr string

	// ExitCode is the process exit status. Zero on success; -1 when the
	// process was killed before exiting normally.
	ExitCode int

	// TimedOut is true when the context deadline killed the process.
	TimedOut bool
}

// -----------------------------------------------------------------------------
// Implementation
// -----------------------------------------------------------------------------

// DefaultProcessManager implements ProcessManager using os/exec.
type DefaultProcessManager struct{}

// NewDefaultProcessManager creates the production process manager.
func NewDefaultProcessManager() *DefaultProcessManager {
	return &DefaultProcessManager{}
}

// Run executes a command synchronously and returns its captured output.
func (pm *DefaultProcessManager) Run(ctx context.Context, name string, args ...string) (RunResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := RunResult{
		Stdout: strings.TrimSpace(stdout.String()),
		Stderr: strings.TrimSpace(stderr.String()),
	}

	if err == nil {
		return result, nil
	}

	// Deadline expiry kills the child; report it as a timeout result so
	// the launcher can tag the failure rather than guess from message text.
	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
		result.ExitCode = -1
		result.TimedOut = true
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}

	// Launch failure: binary not found, permission denied, bad working dir.
	result.ExitCode = -1
	return result, err
}

// -----------------------------------------------------------------------------
// Mock Implementation for Testing
// -----------------------------------------------------------------------------

// MockProcessManager is a test double for ProcessManager.
//
// Configure the mock by setting RunFunc before use; calling Run with a nil
// RunFunc panics. Calls records every invocation for verification.
//
// # Examples
//
//	mock := &MockProcessManager{
//	    RunFunc: func(ctx context.Context, name string, args ...string) (RunResult, error) {
//	        return RunResult{Stdout: "ok"}, nil
//	    },
//	}
type MockProcessManager struct {
	// RunFunc is called when Run is invoked.
	RunFunc func(ctx context.Context, name string, args ...string) (RunResult, error)

	// Calls records all method invocations for verification.
	Calls []ProcessCall

	// mu protects Calls for concurrent access.
	mu sync.Mutex
}

// ProcessCall records a single Run invocation.
type ProcessCall struct {
	Name string
	Args []string
}

// Run delegates to RunFunc and records the call.
func (m *MockProcessManager) Run(ctx context.Context, name string, args ...string) (RunResult, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, ProcessCall{Name: name, Args: args})
	m.mu.Unlock()
	if m.RunFunc == nil {
		panic("MockProcessManager.RunFunc not set")
	}
	return m.RunFunc(ctx, name, args...)
}

// GetCalls returns a copy of all recorded calls.
func (m *MockProcessManager) GetCalls() []ProcessCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]ProcessCall, len(m.Calls))
	copy(result, m.Calls)
	return result
}

// Compile-time interface compliance check.
var (
	_ ProcessManager = (*DefaultProcessManager)(nil)
	_ ProcessManager = (*MockProcessManager)(nil)
)
