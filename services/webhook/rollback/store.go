// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rollback

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/rollback-webhook/pkg/logging"
	"github.com/AleutianAI/rollback-webhook/services/webhook/datatypes"
)

// =============================================================================
// Key Derivation
// =============================================================================

// DeriveKey maps a service name to its version-store key.
//
// The mapping is the compose convention: uppercase, dashes to underscores,
// "_VERSION" suffix. Pure function, no I/O.
//
//	DeriveKey(datatypes.OrderService) == "ORDER_SERVICE_VERSION"
func DeriveKey(service datatypes.ServiceName) string {
	upper := strings.ToUpper(strings.ReplaceAll(string(service), "-", "_"))
	return upper + "_VERSION"
}

// =============================================================================
// Version Store
// =============================================================================

// VersionStore reads and writes the flat KEY=VALUE file that pins each
// managed service to a deployable version.
//
// # Description
//
// The store file is the source of truth for what version each service
// should be running; the compose CLI reads it as an env file. No in-memory
// cache is kept: every call reopens the file, because other tooling (an
// operator's editor, the workshop setup scripts) may edit it between calls.
//
// # Consistency
//
// The store has no built-in consistency guarantee under concurrent
// writers. The executor serializes its own writes per service; external
// writers are observed, not defended against (see StoreWatcher).
//
// Writes replace the whole file via a temp-file-then-rename, so a crash
// mid-write can never leave a torn file behind.
type VersionStore struct {
	path string
	log  *logging.Logger
}

// NewVersionStore creates a store backed by the file at path.
//
// The file is not required to exist yet; reads against a missing file
// degrade to "unknown" and the executor's environment validation is what
// rejects rollbacks against a missing store.
func NewVersionStore(path string, log *logging.Logger) *VersionStore {
	if log == nil {
		log = logging.Default()
	}
	return &VersionStore{path: path, log: log}
}

// Path returns the store file path.
func (s *VersionStore) Path() string {
	return s.path
}

// Exists reports whether the store file is present.
func (s *VersionStore) Exists() bool {
	info, err := os.Stat(s.path)
	return err == nil && !info.IsDir()
}

// ReadVersion returns the pinned version for a service.
//
// # Description
//
// Scans the file in order and returns the value of the first line whose
// trimmed prefix matches the derived key. A missing file, an unreadable
// file, or an absent key all degrade to ("", false) — "unknown" is a valid
// answer for the caller, not an error.
//
// # Outputs
//
//   - string: The pinned version, surrounding whitespace trimmed.
//   - bool: False when no pin was found.
func (s *VersionStore) ReadVersion(ctx context.Context, service datatypes.ServiceName) (string, bool) {
	key := DeriveKey(service)

	data, err := os.ReadFile(s.path)
	if err != nil {
		s.log.DebugContext(ctx, "version store not readable, treating as unknown",
			"path", s.path, "error", err)
		return "", false
	}

	prefix := key + "="
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, prefix) {
			version := strings.TrimSpace(strings.TrimPrefix(trimmed, prefix))
			s.log.DebugContext(ctx, "found pinned version",
				"service", service, "version", version)
			return version, true
		}
	}

	return "", false
}

// WriteVersion pins a service to a version.
//
// # Description
//
// Reads the file into an ordered line list, replaces the first matching
// KEY= line in place, or appends a new line when the key is absent, then
// rewrites the whole file. Unrelated lines (other pins, comments) are
// preserved byte for byte.
//
// The rewrite goes through a temp file in the store's directory followed
// by a rename, so concurrent readers see either the old or the new
// content, never a torn write.
//
// # Outputs
//
//   - error: Non-nil on any I/O failure (missing directory, permission,
//     disk full). The store logs the detail; callers treat the error as a
//     boolean failure signal.
func (s *VersionStore) WriteVersion(ctx context.Context, service datatypes.ServiceName, version string) error {
	key := DeriveKey(service)

	data, err := os.ReadFile(s.path)
	if err != nil {
		s.log.ErrorContext(ctx, "failed to read version store for update",
			"path", s.path, "error", err)
		return fmt.Errorf("read version store: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	prefix := key + "="
	updated := false
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), prefix) {
			lines[i] = key + "=" + version
			updated = true
			break
		}
	}

	if !updated {
		s.log.WarnContext(ctx, "version key not present in store, appending",
			"key", key)
		// Keep the trailing newline (if any) at the end of the file.
		if n := len(lines); n > 0 && lines[n-1] == "" {
			lines[n-1] = key + "=" + version
			lines = append(lines, "")
		} else {
			lines = append(lines, key+"="+version)
		}
	}

	if err := s.replaceFile(strings.Join(lines, "\n")); err != nil {
		s.log.ErrorContext(ctx, "failed to rewrite version store",
			"path", s.path, "error", err)
		return err
	}

	s.log.InfoContext(ctx, "updated version pin",
		"key", key, "version", version)
	return nil
}

// replaceFile atomically replaces the store file's content.
//
// The temp file lives in the same directory as the target so the final
// rename stays on one filesystem.
func (s *VersionStore) replaceFile(content string) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace version store: %w", err)
	}
	return nil
}
