// Package testutil provides test utilities for packages that need a real
// store: an in-memory SQLite database plus a fluent scenario builder for
// tenants, plans, payees and raw data.
package testutil

import (
	"context"
	"testing"

	"github.com/CCAFRICA/spm-platform/internal/storage"
)

// TestDB represents a test database with associated test utilities.
type TestDB struct {
	Storage  *storage.SQLiteStorage
	Scenario *Scenario
	t        *testing.T
}

// SetupTestDB creates a new migrated in-memory test database.
// It automatically handles cleanup.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return &TestDB{Storage: store, t: t}
}

// SetupTestDBWithScenario creates a test database and seeds it.
//
// Example:
//
//	db := testutil.SetupTestDBWithScenario(t, func(b *testutil.Builder) *testutil.Builder {
//		return b.WithRuleSet(testutil.PercentagePlan("rs1", "revenue", "0.10")).
//			WithEntity("1001", "Ana", "S1", nil).
//			WithRow("sales", "1001", "", map[string]any{"revenue": 1000})
//	})
func SetupTestDBWithScenario(t *testing.T, configure func(*Builder) *Builder) *TestDB {
	t.Helper()

	db := SetupTestDB(t)
	builder := NewBuilder(t)
	if configure != nil {
		builder = configure(builder)
	}

	scenario, err := builder.Build(context.Background(), db.Storage)
	if err != nil {
		t.Fatalf("failed to build scenario: %v", err)
	}
	db.Scenario = scenario
	return db
}
