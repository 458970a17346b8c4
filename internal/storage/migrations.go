package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/CCAFRICA/spm-platform/internal/common"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 5

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

func execAll(tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Tenants, periods, rule sets and population",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS tenants (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,

				`CREATE TABLE IF NOT EXISTS periods (
					id TEXT PRIMARY KEY,
					tenant_id TEXT NOT NULL REFERENCES tenants(id),
					key TEXT NOT NULL,
					start_date DATETIME NOT NULL,
					end_date DATETIME NOT NULL,
					status TEXT NOT NULL DEFAULT 'open',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (tenant_id, key)
				)`,

				`CREATE TABLE IF NOT EXISTS rule_sets (
					id TEXT PRIMARY KEY,
					tenant_id TEXT NOT NULL REFERENCES tenants(id),
					name TEXT NOT NULL,
					version INTEGER NOT NULL DEFAULT 1,
					status TEXT NOT NULL,
					gate_policy TEXT,
					population TEXT,
					variants TEXT NOT NULL,
					input_bindings TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_rule_sets_tenant_status ON rule_sets(tenant_id, status)`,

				`CREATE TABLE IF NOT EXISTS entities (
					id TEXT PRIMARY KEY,
					tenant_id TEXT NOT NULL REFERENCES tenants(id),
					external_id TEXT NOT NULL,
					name TEXT NOT NULL,
					group_key TEXT,
					attributes TEXT,
					UNIQUE (tenant_id, external_id)
				)`,

				`CREATE TABLE IF NOT EXISTS rule_set_assignments (
					tenant_id TEXT NOT NULL,
					rule_set_id TEXT NOT NULL REFERENCES rule_sets(id),
					entity_id TEXT NOT NULL REFERENCES entities(id),
					variant_key TEXT,
					PRIMARY KEY (tenant_id, rule_set_id, entity_id)
				)`,
			})
		},
	},
	{
		Version:     2,
		Description: "Imported raw data rows",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS raw_data (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					tenant_id TEXT NOT NULL,
					period_id TEXT NOT NULL,
					data_type TEXT NOT NULL,
					entity_id TEXT,
					group_key TEXT,
					row_data TEXT NOT NULL
				)`,
				`CREATE INDEX idx_raw_data_scope ON raw_data(tenant_id, period_id, data_type)`,
			})
		},
	},
	{
		Version:     3,
		Description: "Calculation batches and results",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS calculation_batches (
					id TEXT PRIMARY KEY,
					tenant_id TEXT NOT NULL,
					period_id TEXT NOT NULL,
					rule_set_id TEXT NOT NULL,
					status TEXT NOT NULL,
					entity_count INTEGER NOT NULL DEFAULT 0,
					total_payout TEXT NOT NULL DEFAULT '0',
					config TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_batches_scope ON calculation_batches(tenant_id, period_id, rule_set_id)`,

				`CREATE TABLE IF NOT EXISTS calculation_results (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					tenant_id TEXT NOT NULL,
					batch_id TEXT NOT NULL REFERENCES calculation_batches(id),
					entity_id TEXT NOT NULL,
					period_id TEXT NOT NULL,
					rule_set_id TEXT NOT NULL,
					components TEXT NOT NULL,
					total_payout TEXT NOT NULL,
					metadata TEXT NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (tenant_id, entity_id, period_id, rule_set_id)
				)`,
				`CREATE INDEX idx_results_batch ON calculation_results(tenant_id, batch_id)`,
			})
		},
	},
	{
		Version:     4,
		Description: "Disputes",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS disputes (
					id TEXT PRIMARY KEY,
					tenant_id TEXT NOT NULL,
					entity_id TEXT NOT NULL,
					period_id TEXT NOT NULL,
					batch_id TEXT NOT NULL,
					component TEXT,
					category TEXT NOT NULL,
					description TEXT,
					amount_disputed TEXT NOT NULL DEFAULT '0',
					status TEXT NOT NULL,
					resolution TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_disputes_tenant_status ON disputes(tenant_id, status)`,
				`CREATE TRIGGER update_disputes_updated_at
				AFTER UPDATE ON disputes
				FOR EACH ROW
				WHEN NEW.updated_at = OLD.updated_at
				BEGIN
					UPDATE disputes SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
				END`,
			})
		},
	},
	{
		Version:     5,
		Description: "Classification signals and synaptic density",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS classification_signals (
					id TEXT PRIMARY KEY,
					tenant_id TEXT NOT NULL,
					signal_type TEXT NOT NULL,
					domain TEXT,
					cohort_kind TEXT NOT NULL,
					cohort_key TEXT NOT NULL,
					confidence REAL NOT NULL DEFAULT 0,
					payload TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_signals_tenant_type ON classification_signals(tenant_id, signal_type)`,
				`CREATE INDEX idx_signals_cohort ON classification_signals(tenant_id, cohort_kind, cohort_key)`,

				`CREATE TABLE IF NOT EXISTS synaptic_density (
					tenant_id TEXT PRIMARY KEY,
					density TEXT NOT NULL,
					signal_count INTEGER NOT NULL DEFAULT 0,
					computed_at DATETIME NOT NULL
				)`,
			})
		},
	},
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("%w: schema version mismatch: expected %d, got %d", common.ErrDatabaseCorrupted, ExpectedSchemaVersion, finalVersion)
	}

	return nil
}

// SchemaVersion returns the applied schema version.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}
