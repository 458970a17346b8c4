package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/CCAFRICA/spm-platform/internal/storage"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the database schema to the latest version.

This command ensures your local database has all the required
tables and indexes for the application to function properly.`,
		RunE: runMigrate,
	}

	cmd.Flags().Bool("status", false, "Show current migration status without applying changes")

	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	status, _ := cmd.Flags().GetBool("status")
	dbPath := databasePath()
	ctx := cmd.Context()

	slog.Info("Starting database migration", "database", dbPath, "status_only", status)

	if status {
		store, err := storage.NewSQLiteStorage(dbPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer func() { _ = store.Close() }()

		current, err := store.SchemaVersion(ctx)
		if err != nil {
			return err
		}
		slog.Info("📊 Database Migration Status",
			"path", dbPath,
			"current_version", current,
			"latest_version", storage.ExpectedSchemaVersion,
			"up_to_date", current == storage.ExpectedSchemaVersion)
		return nil
	}

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	defer func() { _ = store.Close() }()

	slog.Info("✅ Database migrations completed successfully!", "version", storage.ExpectedSchemaVersion)
	return nil
}
