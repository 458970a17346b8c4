package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/CCAFRICA/spm-platform/internal/common"
	"github.com/CCAFRICA/spm-platform/internal/model"
)

// ReplaceResults posts a calculation batch. Prior results for the same
// (tenant, period, rule set) are deleted and their batches superseded in the
// same transaction, so a re-run overwrites rather than appends.
func (s *SQLiteStorage) ReplaceResults(ctx context.Context, batch *model.CalculationBatch, results []model.CalculationResult) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateBatch(batch, results); err != nil {
		return err
	}
	if batch.Status == "" {
		batch.Status = model.BatchCompleted
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now()
	}
	config, err := marshalJSON(batch.Config)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE calculation_batches SET status = ?
			WHERE tenant_id = ? AND period_id = ? AND rule_set_id = ? AND status = ?
		`, model.BatchSuperseded, batch.TenantID, batch.PeriodID, batch.RuleSetID, model.BatchCompleted); err != nil {
			return fmt.Errorf("failed to supersede prior batches: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			DELETE FROM calculation_results
			WHERE tenant_id = ? AND period_id = ? AND rule_set_id = ?
		`, batch.TenantID, batch.PeriodID, batch.RuleSetID)
		if err != nil {
			return fmt.Errorf("failed to delete prior results: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			slog.Debug("Deleted prior results",
				"tenant_id", batch.TenantID,
				"period_id", batch.PeriodID,
				"rule_set_id", batch.RuleSetID,
				"rows", n)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO calculation_batches (id, tenant_id, period_id, rule_set_id, status, entity_count, total_payout, config, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, batch.ID, batch.TenantID, batch.PeriodID, batch.RuleSetID, batch.Status, batch.EntityCount,
			batch.TotalPayout.String(), config, batch.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert batch: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO calculation_results (tenant_id, batch_id, entity_id, period_id, rule_set_id, components, total_payout, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare result insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for i := range results {
			r := &results[i]
			r.BatchID = batch.ID
			if r.CreatedAt.IsZero() {
				r.CreatedAt = batch.CreatedAt
			}
			components, err := marshalJSON(r.Components)
			if err != nil {
				return err
			}
			metadata, err := marshalJSON(r.Metadata)
			if err != nil {
				return err
			}
			res, err := stmt.ExecContext(ctx, r.TenantID, r.BatchID, r.EntityID, r.PeriodID, r.RuleSetID,
				components, r.TotalPayout.String(), metadata, r.CreatedAt)
			if err != nil {
				return fmt.Errorf("failed to insert result for %s: %w", r.EntityID, err)
			}
			if id, err := res.LastInsertId(); err == nil {
				r.ID = id
			}
		}
		return nil
	})
}

// GetBatch retrieves a calculation batch.
func (s *SQLiteStorage) GetBatch(ctx context.Context, tenantID, batchID string) (*model.CalculationBatch, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getBatchTx(ctx, s.db, tenantID, batchID)
}

func (s *SQLiteStorage) getBatchTx(ctx context.Context, q queryable, tenantID, batchID string) (*model.CalculationBatch, error) {
	var (
		b      model.CalculationBatch
		total  string
		config sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, tenant_id, period_id, rule_set_id, status, entity_count, total_payout, config, created_at
		FROM calculation_batches WHERE tenant_id = ? AND id = ?
	`, tenantID, batchID).Scan(&b.ID, &b.TenantID, &b.PeriodID, &b.RuleSetID, &b.Status,
		&b.EntityCount, &total, &config, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", common.ErrMissingBatch, batchID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	if b.TotalPayout, err = parseDecimal(total); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(config, &b.Config); err != nil {
		return nil, err
	}
	return &b, nil
}

// ListResultsByBatch returns the results of a batch ordered by entity.
func (s *SQLiteStorage) ListResultsByBatch(ctx context.Context, tenantID, batchID string) ([]model.CalculationResult, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, batch_id, entity_id, period_id, rule_set_id, components, total_payout, metadata, created_at
		FROM calculation_results
		WHERE tenant_id = ? AND batch_id = ?
		ORDER BY entity_id
	`, tenantID, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []model.CalculationResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *r)
	}
	return results, rows.Err()
}

// GetResult retrieves one entity's result within a batch.
func (s *SQLiteStorage) GetResult(ctx context.Context, tenantID, batchID, entityID string) (*model.CalculationResult, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, batch_id, entity_id, period_id, rule_set_id, components, total_payout, metadata, created_at
		FROM calculation_results
		WHERE tenant_id = ? AND batch_id = ? AND entity_id = ?
	`, tenantID, batchID, entityID)
	r, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: result for entity %s in batch %s", common.ErrNotFound, entityID, batchID)
	}
	return r, err
}

func scanResult(row rowScanner) (*model.CalculationResult, error) {
	var (
		r          model.CalculationResult
		components sql.NullString
		metadata   sql.NullString
		total      string
	)
	if err := row.Scan(&r.ID, &r.TenantID, &r.BatchID, &r.EntityID, &r.PeriodID, &r.RuleSetID,
		&components, &total, &metadata, &r.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan result: %w", err)
	}
	var err error
	if r.TotalPayout, err = parseDecimal(total); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(components, &r.Components); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(metadata, &r.Metadata); err != nil {
		return nil, err
	}
	return &r, nil
}

// UpdateBatchConfig sets one auxiliary report on a batch. Results are never touched.
func (s *SQLiteStorage) UpdateBatchConfig(ctx context.Context, tenantID, batchID, key string, value json.RawMessage) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(key, "key"); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		batch, err := s.getBatchTx(ctx, tx, tenantID, batchID)
		if err != nil {
			return err
		}
		if batch.Config == nil {
			batch.Config = make(map[string]json.RawMessage)
		}
		batch.Config[key] = value
		config, err := marshalJSON(batch.Config)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE calculation_batches SET config = ? WHERE tenant_id = ? AND id = ?
		`, config, tenantID, batchID); err != nil {
			return fmt.Errorf("failed to update batch config: %w", err)
		}
		return nil
	})
}
