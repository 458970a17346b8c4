package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/CCAFRICA/spm-platform/internal/common"
	"github.com/CCAFRICA/spm-platform/internal/model"
)

// SaveEntities upserts payees by id.
func (s *SQLiteStorage) SaveEntities(ctx context.Context, entities []model.Entity) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateEntities(entities); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO entities (id, tenant_id, external_id, name, group_key, attributes)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				external_id = excluded.external_id,
				name = excluded.name,
				group_key = excluded.group_key,
				attributes = excluded.attributes
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare entity insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, e := range entities {
			attrs, err := marshalJSON(e.Attributes)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, e.ID, e.TenantID, e.ExternalID, e.Name, nullString(e.GroupKey), attrs); err != nil {
				return fmt.Errorf("failed to save entity %s: %w", e.ExternalID, err)
			}
		}
		return nil
	})
}

// GetEntity retrieves one payee.
func (s *SQLiteStorage) GetEntity(ctx context.Context, tenantID, entityID string) (*model.Entity, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, external_id, name, group_key, attributes
		FROM entities WHERE tenant_id = ? AND id = ?
	`, tenantID, entityID)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: entity %s", common.ErrMissingEntity, entityID)
	}
	return e, err
}

// ListEntities returns every payee of a tenant ordered by external id.
func (s *SQLiteStorage) ListEntities(ctx context.Context, tenantID string) ([]model.Entity, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, external_id, name, group_key, attributes
		FROM entities WHERE tenant_id = ?
		ORDER BY external_id
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entities []model.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, *e)
	}
	return entities, rows.Err()
}

func scanEntity(row rowScanner) (*model.Entity, error) {
	var (
		e        model.Entity
		groupKey sql.NullString
		attrs    sql.NullString
	)
	if err := row.Scan(&e.ID, &e.TenantID, &e.ExternalID, &e.Name, &groupKey, &attrs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}
	e.GroupKey = groupKey.String
	if err := unmarshalJSON(attrs, &e.Attributes); err != nil {
		return nil, err
	}
	return &e, nil
}

// SaveAssignments places entities on rule sets.
func (s *SQLiteStorage) SaveAssignments(ctx context.Context, assignments []model.Assignment) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if len(assignments) == 0 {
		return fmt.Errorf("%w: assignments", ErrEmptySlice)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO rule_set_assignments (tenant_id, rule_set_id, entity_id, variant_key)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(tenant_id, rule_set_id, entity_id) DO UPDATE SET
				variant_key = excluded.variant_key
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare assignment insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for i, a := range assignments {
			if a.TenantID == "" || a.RuleSetID == "" || a.EntityID == "" {
				return fmt.Errorf("%w: assignment at index %d is incomplete", ErrNilParameter, i)
			}
			if _, err := stmt.ExecContext(ctx, a.TenantID, a.RuleSetID, a.EntityID, nullString(a.VariantKey)); err != nil {
				return fmt.Errorf("failed to save assignment for %s: %w", a.EntityID, err)
			}
		}
		return nil
	})
}

// ListAssignments returns the population of a rule set.
func (s *SQLiteStorage) ListAssignments(ctx context.Context, tenantID, ruleSetID string) ([]model.Assignment, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, rule_set_id, entity_id, variant_key
		FROM rule_set_assignments
		WHERE tenant_id = ? AND rule_set_id = ?
		ORDER BY entity_id
	`, tenantID, ruleSetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var assignments []model.Assignment
	for rows.Next() {
		var a model.Assignment
		var variant sql.NullString
		if err := rows.Scan(&a.TenantID, &a.RuleSetID, &a.EntityID, &variant); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		a.VariantKey = variant.String
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}
