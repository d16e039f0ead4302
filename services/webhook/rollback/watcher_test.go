// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rollback

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreWatcher_Lifecycle(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("ORDER_SERVICE_VERSION=v1.0\n"), 0o644))

	watcher, err := NewStoreWatcher(envPath, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		watcher.Run(ctx)
		close(done)
	}()

	// Touch the file so the event path gets exercised at least once.
	require.NoError(t, os.WriteFile(envPath, []byte("ORDER_SERVICE_VERSION=v1.1\n"), 0o644))

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on context cancellation")
	}

	assert.NoError(t, watcher.Close())
}

func TestStoreWatcher_MissingDirectory(t *testing.T) {
	_, err := NewStoreWatcher(filepath.Join(t.TempDir(), "nope", ".env"), testLogger())
	assert.Error(t, err)
}
