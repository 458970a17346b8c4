package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate_ReachesExpectedVersion(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	var version int
	require.NoError(t, store.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, ExpectedSchemaVersion, version)
	assert.Equal(t, ExpectedSchemaVersion, migrations[len(migrations)-1].Version)

	got, err := store.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ExpectedSchemaVersion, got)
}

func TestMigrate_IsIdempotent(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	require.NoError(t, store.Migrate(context.Background()))
}

func TestMigrate_CreatesTables(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	tables := []string{
		"tenants", "periods", "rule_sets", "entities", "rule_set_assignments", "raw_data",
		"calculation_batches", "calculation_results", "disputes", "classification_signals",
		"synaptic_density",
	}
	for _, table := range tables {
		t.Run(table, func(t *testing.T) {
			var count int
			err := store.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&count)
			require.NoError(t, err)
			assert.Equal(t, 1, count)
		})
	}
}

func TestMigrate_NilContext(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	//nolint:staticcheck // nil context is the case under test
	assert.ErrorIs(t, store.Migrate(nil), ErrNilContext)
}
