package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/CCAFRICA/spm-platform/internal/common"
	"github.com/CCAFRICA/spm-platform/internal/model"
	"github.com/CCAFRICA/spm-platform/internal/service"
)

// SaveSignal stores one historical signal.
func (s *SQLiteStorage) SaveSignal(ctx context.Context, signal *model.Signal) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSignal(signal); err != nil {
		return err
	}
	if signal.CreatedAt.IsZero() {
		signal.CreatedAt = time.Now()
	}
	payload, err := marshalJSON(signal.Payload)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO classification_signals (id, tenant_id, signal_type, domain, cohort_kind, cohort_key, confidence, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, signal.ID, signal.TenantID, signal.Type, nullString(signal.Domain), signal.CohortKind,
		signal.CohortKey, signal.Confidence, payload, signal.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save signal: %w", err)
	}
	return nil
}

// ListSignals returns signals matching the filter, oldest first.
func (s *SQLiteStorage) ListSignals(ctx context.Context, filter service.SignalFilter) ([]model.Signal, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(filter.TenantID, "filter.TenantID"); err != nil {
		return nil, err
	}

	clauses := []string{"tenant_id = ?"}
	args := []any{filter.TenantID}
	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			placeholders[i] = "?"
			args = append(args, t)
		}
		clauses = append(clauses, "signal_type IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.CohortKind != "" {
		clauses = append(clauses, "cohort_kind = ?")
		args = append(args, filter.CohortKind)
	}
	if filter.CohortKey != "" {
		clauses = append(clauses, "cohort_key = ?")
		args = append(args, filter.CohortKey)
	}
	if filter.Since != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, *filter.Since)
	}
	args = append(args, pageLimit(filter.Limit), filter.Offset)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, signal_type, domain, cohort_kind, cohort_key, confidence, payload, created_at
		FROM classification_signals
		WHERE `+strings.Join(clauses, " AND ")+`
		ORDER BY created_at, id
		LIMIT ? OFFSET ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var signals []model.Signal
	for rows.Next() {
		var (
			sig     model.Signal
			domain  sql.NullString
			payload sql.NullString
		)
		if err := rows.Scan(&sig.ID, &sig.TenantID, &sig.Type, &domain, &sig.CohortKind, &sig.CohortKey,
			&sig.Confidence, &payload, &sig.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		sig.Domain = domain.String
		if err := unmarshalJSON(payload, &sig.Payload); err != nil {
			return nil, err
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

// GetSynapticDensity returns the persisted density snapshot of a tenant.
func (s *SQLiteStorage) GetSynapticDensity(ctx context.Context, tenantID string) (*service.DensityRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	var (
		rec     service.DensityRecord
		density string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, density, signal_count, computed_at
		FROM synaptic_density WHERE tenant_id = ?
	`, tenantID).Scan(&rec.TenantID, &density, &rec.SignalCount, &rec.ComputedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: density for tenant %s", common.ErrNotFound, tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get synaptic density: %w", err)
	}
	rec.Density = []byte(density)
	return &rec, nil
}

// SaveSynapticDensity replaces the tenant's density snapshot.
func (s *SQLiteStorage) SaveSynapticDensity(ctx context.Context, record *service.DensityRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("%w: density record", ErrNilParameter)
	}
	if err := validateString(record.TenantID, "record.TenantID"); err != nil {
		return err
	}
	if record.ComputedAt.IsZero() {
		record.ComputedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO synaptic_density (tenant_id, density, signal_count, computed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			density = excluded.density,
			signal_count = excluded.signal_count,
			computed_at = excluded.computed_at
	`, record.TenantID, string(record.Density), record.SignalCount, record.ComputedAt)
	if err != nil {
		return fmt.Errorf("failed to save synaptic density: %w", err)
	}
	return nil
}

// DeleteSynapticDensity drops the snapshot so the next load recomputes it.
func (s *SQLiteStorage) DeleteSynapticDensity(ctx context.Context, tenantID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM synaptic_density WHERE tenant_id = ?`, tenantID); err != nil {
		return fmt.Errorf("failed to delete synaptic density: %w", err)
	}
	return nil
}
