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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/rollback-webhook/services/webhook/datatypes"
)

func TestDeriveKey(t *testing.T) {
	tests := []struct {
		service datatypes.ServiceName
		want    string
	}{
		{datatypes.OrderService, "ORDER_SERVICE_VERSION"},
		{datatypes.InventoryService, "INVENTORY_SERVICE_VERSION"},
		{datatypes.PaymentService, "PAYMENT_SERVICE_VERSION"},
	}

	for _, tt := range tests {
		t.Run(string(tt.service), func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveKey(tt.service))
		})
	}
}

func writeStoreFile(t *testing.T, content string) *VersionStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return NewVersionStore(path, testLogger())
}

func TestVersionStore_ReadVersion(t *testing.T) {
	store := writeStoreFile(t, "# workshop pins\nORDER_SERVICE_VERSION=v1.1\nINVENTORY_SERVICE_VERSION= v2.0 \n")
	ctx := context.Background()

	t.Run("existing pin", func(t *testing.T) {
		version, found := store.ReadVersion(ctx, datatypes.OrderService)
		assert.True(t, found)
		assert.Equal(t, "v1.1", version)
	})

	t.Run("pin with padding is trimmed", func(t *testing.T) {
		version, found := store.ReadVersion(ctx, datatypes.InventoryService)
		assert.True(t, found)
		assert.Equal(t, "v2.0", version)
	})

	t.Run("absent key is unknown, not an error", func(t *testing.T) {
		version, found := store.ReadVersion(ctx, datatypes.PaymentService)
		assert.False(t, found)
		assert.Empty(t, version)
	})
}

func TestVersionStore_ReadVersion_MissingFile(t *testing.T) {
	store := NewVersionStore(filepath.Join(t.TempDir(), "nope.env"), testLogger())

	version, found := store.ReadVersion(context.Background(), datatypes.OrderService)
	assert.False(t, found)
	assert.Empty(t, version)
}

func TestVersionStore_WriteVersion_ReplacesInPlace(t *testing.T) {
	store := writeStoreFile(t, "# pins\nORDER_SERVICE_VERSION=v1.1\nPAYMENT_SERVICE_VERSION=v3.0\n")
	ctx := context.Background()

	require.NoError(t, store.WriteVersion(ctx, datatypes.OrderService, "v1.0"))

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Equal(t, "# pins\nORDER_SERVICE_VERSION=v1.0\nPAYMENT_SERVICE_VERSION=v3.0\n", string(data))

	version, found := store.ReadVersion(ctx, datatypes.OrderService)
	require.True(t, found)
	assert.Equal(t, "v1.0", version)
}

func TestVersionStore_WriteVersion_AppendsMissingKey(t *testing.T) {
	store := writeStoreFile(t, "ORDER_SERVICE_VERSION=v1.1\n")
	ctx := context.Background()

	require.NoError(t, store.WriteVersion(ctx, datatypes.PaymentService, "v2.5"))

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Equal(t, "ORDER_SERVICE_VERSION=v1.1\nPAYMENT_SERVICE_VERSION=v2.5\n", string(data))
}

func TestVersionStore_WriteVersion_MissingFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.env")
	store := NewVersionStore(path, testLogger())

	err := store.WriteVersion(context.Background(), datatypes.OrderService, "v1.0")
	require.Error(t, err)

	// The failed write must not create the file.
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestVersionStore_WriteVersion_PreservesUnrelatedLines(t *testing.T) {
	original := "# managed by setup.sh\nOTHER_FLAG=true\nORDER_SERVICE_VERSION=v1.1\n\nTRAILING_COMMENT=yes\n"
	store := writeStoreFile(t, original)

	require.NoError(t, store.WriteVersion(context.Background(), datatypes.OrderService, "v0.9"))

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Equal(t,
		"# managed by setup.sh\nOTHER_FLAG=true\nORDER_SERVICE_VERSION=v0.9\n\nTRAILING_COMMENT=yes\n",
		string(data))
}

func TestVersionStore_Exists(t *testing.T) {
	store := writeStoreFile(t, "ORDER_SERVICE_VERSION=v1.0\n")
	assert.True(t, store.Exists())

	missing := NewVersionStore(filepath.Join(t.TempDir(), "gone.env"), testLogger())
	assert.False(t, missing.Exists())
}
