package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/CCAFRICA/spm-platform/internal/ai"
	"github.com/CCAFRICA/spm-platform/internal/common"
	"github.com/CCAFRICA/spm-platform/internal/config"
	"github.com/CCAFRICA/spm-platform/internal/ingest"
	"github.com/CCAFRICA/spm-platform/internal/model"
	"github.com/CCAFRICA/spm-platform/internal/signals"
	"github.com/CCAFRICA/spm-platform/internal/storage"
	"github.com/CCAFRICA/spm-platform/internal/synaptic"
)

// databasePath returns the configured database path with ~ and variables
// expanded.
func databasePath() string {
	return config.DatabasePath(viper.GetString("database.path"))
}

// initStorage opens the database, creating its directory, and migrates it.
func initStorage(ctx context.Context) (*storage.SQLiteStorage, error) {
	dbPath := databasePath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// app holds the collaborators shared by the commands.
type app struct {
	store    *storage.SQLiteStorage
	sink     *signals.Sink
	loader   *synaptic.Loader
	writer   *synaptic.Writer
	ai       ai.Service
	aiCloser ai.Closer
	settings config.Settings
}

func newApp(ctx context.Context) (*app, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, err
	}
	store, err := initStorage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	aiService, aiCloser, err := ai.NewFromSettings(settings.AI)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize ai service: %w", err)
	}

	loader := synaptic.NewLoader(store, settings.Synaptic)
	return &app{
		store:    store,
		sink:     signals.NewSink(store, settings.Signals.QueueSize),
		loader:   loader,
		writer:   synaptic.NewWriter(store, loader),
		ai:       aiService,
		aiCloser: aiCloser,
		settings: settings,
	}, nil
}

// close drains the signal sink before the store goes away.
func (a *app) close() {
	a.sink.Close()
	stats := a.sink.Stats()
	slog.Debug("Signal sink closed",
		"emitted", stats.Emitted,
		"written", stats.Written,
		"dropped", stats.Dropped,
		"failed", stats.Failed)

	if a.aiCloser != nil {
		a.aiCloser.Close()
	}
	a.loader.Close()
	if err := a.store.Close(); err != nil {
		common.LogError(err, "failed to close storage", common.Fields{"database": databasePath()})
	}
}

// flushSignals drains queued signals and drops the tenant's density
// snapshot so the next agent run sees them.
func (a *app) flushSignals(ctx context.Context, tenantID string) {
	a.sink.Close()
	if a.sink.Stats().Written > 0 {
		a.loader.Invalidate(ctx, tenantID)
	}
}

func tenantID() (string, error) {
	id := strings.TrimSpace(viper.GetString("tenant"))
	if id == "" {
		return "", common.NewUserError("a tenant is required (--tenant or SPM_TENANT)", common.ErrMissingConfig)
	}
	return id, nil
}

// resolvePeriod accepts a period key or id.
func (a *app) resolvePeriod(ctx context.Context, tenantID, ref string) (*model.Period, error) {
	p, err := a.store.GetPeriodByKey(ctx, tenantID, ref)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, common.ErrMissingPeriod) && !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}
	return a.store.GetPeriod(ctx, tenantID, ref)
}

// resolveEntity accepts an external id or an entity id.
func (a *app) resolveEntity(ctx context.Context, tenantID, ref string) (string, error) {
	entities, err := a.store.ListEntities(ctx, tenantID)
	if err != nil {
		return "", err
	}
	for _, e := range entities {
		if e.ID == ref || strings.EqualFold(e.ExternalID, ref) {
			return e.ID, nil
		}
	}
	return ingest.EntityID(tenantID, ref), nil
}

func readFile(path string) ([]ingest.Record, error) {
	format, err := ingest.FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path) //nolint:gosec // user-supplied import file
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return ingest.ReadRecords(f, format)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
