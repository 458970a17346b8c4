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

// CreateDispute files a new dispute. Disputes always start open.
func (s *SQLiteStorage) CreateDispute(ctx context.Context, dispute *model.Dispute) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if dispute != nil && dispute.Status == "" {
		dispute.Status = model.DisputeOpen
	}
	if err := validateDispute(dispute); err != nil {
		return err
	}
	if dispute.Status != model.DisputeOpen {
		return fmt.Errorf("%w: new disputes must be open, got %q", ErrInvalidTransition, dispute.Status)
	}
	now := time.Now()
	dispute.CreatedAt = now
	dispute.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO disputes (id, tenant_id, entity_id, period_id, batch_id, component, category,
			description, amount_disputed, status, resolution, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, dispute.ID, dispute.TenantID, dispute.EntityID, dispute.PeriodID, dispute.BatchID,
		nullString(dispute.Component), dispute.Category, dispute.Description,
		dispute.AmountDisputed.String(), dispute.Status, nullString(string(dispute.Resolution)),
		dispute.CreatedAt, dispute.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create dispute: %w", err)
	}
	return nil
}

// GetDispute retrieves a dispute.
func (s *SQLiteStorage) GetDispute(ctx context.Context, tenantID, disputeID string) (*model.Dispute, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getDisputeTx(ctx, s.db, tenantID, disputeID)
}

func (s *SQLiteStorage) getDisputeTx(ctx context.Context, q queryable, tenantID, disputeID string) (*model.Dispute, error) {
	var (
		d          model.Dispute
		component  sql.NullString
		desc       sql.NullString
		amount     string
		resolution sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, tenant_id, entity_id, period_id, batch_id, component, category, description,
			amount_disputed, status, resolution, created_at, updated_at
		FROM disputes WHERE tenant_id = ? AND id = ?
	`, tenantID, disputeID).Scan(&d.ID, &d.TenantID, &d.EntityID, &d.PeriodID, &d.BatchID,
		&component, &d.Category, &desc, &amount, &d.Status, &resolution, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: dispute %s", common.ErrMissingDispute, disputeID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dispute: %w", err)
	}
	d.Component = component.String
	d.Description = desc.String
	if resolution.Valid && resolution.String != "" {
		d.Resolution = []byte(resolution.String)
	}
	if d.AmountDisputed, err = parseDecimal(amount); err != nil {
		return nil, err
	}
	return &d, nil
}

// UpdateDispute saves the status and resolution of a dispute. Status
// changes must follow the dispute lifecycle.
func (s *SQLiteStorage) UpdateDispute(ctx context.Context, dispute *model.Dispute) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateDispute(dispute); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := s.getDisputeTx(ctx, tx, dispute.TenantID, dispute.ID)
		if err != nil {
			return err
		}
		if current.Status != dispute.Status && !current.Status.CanTransitionTo(dispute.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, dispute.Status)
		}
		dispute.UpdatedAt = time.Now()
		if _, err := tx.ExecContext(ctx, `
			UPDATE disputes SET status = ?, resolution = ?, updated_at = ?
			WHERE tenant_id = ? AND id = ?
		`, dispute.Status, nullString(string(dispute.Resolution)), dispute.UpdatedAt,
			dispute.TenantID, dispute.ID); err != nil {
			return fmt.Errorf("failed to update dispute: %w", err)
		}
		return nil
	})
}
