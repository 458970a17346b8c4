package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/CCAFRICA/spm-platform/internal/common"
	"github.com/CCAFRICA/spm-platform/internal/model"
)

// CreateTenant inserts a tenant.
func (s *SQLiteStorage) CreateTenant(ctx context.Context, tenant *model.Tenant) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if tenant == nil {
		return fmt.Errorf("%w: tenant", ErrNilParameter)
	}
	if err := validateString(tenant.ID, "tenant.ID"); err != nil {
		return err
	}
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, tenant.ID, tenant.Name, tenant.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

// GetTenant retrieves a tenant by id.
func (s *SQLiteStorage) GetTenant(ctx context.Context, id string) (*model.Tenant, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	var t model.Tenant
	err := s.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM tenants WHERE id = ?`, id).
		Scan(&t.ID, &t.Name, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", common.ErrMissingTenant, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return &t, nil
}

// SavePeriod inserts or updates a period.
func (s *SQLiteStorage) SavePeriod(ctx context.Context, period *model.Period) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePeriod(period); err != nil {
		return err
	}
	if period.Status == "" {
		period.Status = model.PeriodOpen
	}
	if period.CreatedAt.IsZero() {
		period.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO periods (id, tenant_id, key, start_date, end_date, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			key = excluded.key,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			status = excluded.status
	`, period.ID, period.TenantID, period.Key, period.StartDate, period.EndDate, period.Status, period.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save period: %w", err)
	}
	return nil
}

// GetPeriod retrieves a period of a tenant.
func (s *SQLiteStorage) GetPeriod(ctx context.Context, tenantID, periodID string) (*model.Period, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getPeriod(ctx, `WHERE tenant_id = ? AND id = ?`, tenantID, periodID)
}

// GetPeriodByKey retrieves a period by its human key such as "2024-01".
func (s *SQLiteStorage) GetPeriodByKey(ctx context.Context, tenantID, key string) (*model.Period, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getPeriod(ctx, `WHERE tenant_id = ? AND key = ?`, tenantID, key)
}

func (s *SQLiteStorage) getPeriod(ctx context.Context, where, tenantID, value string) (*model.Period, error) {
	var p model.Period
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, key, start_date, end_date, status, created_at
		FROM periods `+where, tenantID, value).Scan(
		&p.ID, &p.TenantID, &p.Key, &p.StartDate, &p.EndDate, &p.Status, &p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", common.ErrMissingPeriod, value)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get period: %w", err)
	}
	return &p, nil
}
