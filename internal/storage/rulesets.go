package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/CCAFRICA/spm-platform/internal/common"
	"github.com/CCAFRICA/spm-platform/internal/model"
	"github.com/CCAFRICA/spm-platform/internal/plan"
)

const ruleSetColumns = `id, tenant_id, name, version, status, gate_policy, population, variants,
	input_bindings, created_at, updated_at`

// SaveRuleSet inserts or updates a rule set. Once results reference a rule
// set its components can only change together with a version bump.
func (s *SQLiteStorage) SaveRuleSet(ctx context.Context, ruleSet *model.RuleSet) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRuleSet(ruleSet); err != nil {
		return err
	}
	if ruleSet.Version == 0 {
		ruleSet.Version = 1
	}
	if ruleSet.Status == "" {
		ruleSet.Status = model.RuleSetActive
	}

	variants, err := marshalJSON(ruleSet.Variants)
	if err != nil {
		return err
	}
	population, err := marshalJSON(ruleSet.Population)
	if err != nil {
		return err
	}
	bindings, err := marshalJSON(ruleSet.InputBindings)
	if err != nil {
		return err
	}

	now := time.Now()
	if ruleSet.CreatedAt.IsZero() {
		ruleSet.CreatedAt = now
	}
	ruleSet.UpdatedAt = now

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var storedVersion int
		var storedVariants string
		err := tx.QueryRowContext(ctx, `
			SELECT version, variants FROM rule_sets WHERE id = ? AND tenant_id = ?
		`, ruleSet.ID, ruleSet.TenantID).Scan(&storedVersion, &storedVariants)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("failed to read rule set: %w", err)
		case storedVersion == ruleSet.Version && storedVariants != variants:
			var posted bool
			if err := tx.QueryRowContext(ctx, `
				SELECT EXISTS(SELECT 1 FROM calculation_results WHERE tenant_id = ? AND rule_set_id = ?)
			`, ruleSet.TenantID, ruleSet.ID).Scan(&posted); err != nil {
				return fmt.Errorf("failed to check posted results: %w", err)
			}
			if posted {
				return fmt.Errorf("%w: %s v%d", ErrImmutableRuleSet, ruleSet.ID, ruleSet.Version)
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO rule_sets (`+ruleSetColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				version = excluded.version,
				status = excluded.status,
				gate_policy = excluded.gate_policy,
				population = excluded.population,
				variants = excluded.variants,
				input_bindings = excluded.input_bindings,
				updated_at = excluded.updated_at
		`, ruleSet.ID, ruleSet.TenantID, ruleSet.Name, ruleSet.Version, ruleSet.Status,
			nullString(string(ruleSet.GatePolicy)), population, variants, bindings,
			ruleSet.CreatedAt, ruleSet.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to save rule set: %w", err)
		}
		return nil
	})
}

// GetRuleSet retrieves and re-validates a rule set.
func (s *SQLiteStorage) GetRuleSet(ctx context.Context, tenantID, ruleSetID string) (*model.RuleSet, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+ruleSetColumns+` FROM rule_sets WHERE tenant_id = ? AND id = ?
	`, tenantID, ruleSetID)
	rs, err := scanRuleSet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", common.ErrMissingRuleSet, ruleSetID)
	}
	if err != nil {
		return nil, err
	}
	return rs, nil
}

// ListActiveRuleSets returns the tenant's active rule sets ordered by name.
func (s *SQLiteStorage) ListActiveRuleSets(ctx context.Context, tenantID string) ([]model.RuleSet, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ruleSetColumns+` FROM rule_sets
		WHERE tenant_id = ? AND status = ?
		ORDER BY name, id
	`, tenantID, model.RuleSetActive)
	if err != nil {
		return nil, fmt.Errorf("failed to query rule sets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ruleSets []model.RuleSet
	for rows.Next() {
		rs, err := scanRuleSet(rows)
		if err != nil {
			return nil, err
		}
		ruleSets = append(ruleSets, *rs)
	}
	return ruleSets, rows.Err()
}

// UpdateRuleSetBindings replaces the stored input bindings. Last write wins.
func (s *SQLiteStorage) UpdateRuleSetBindings(ctx context.Context, tenantID, ruleSetID string, bindings model.InputBindings) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	for _, d := range bindings.MetricDerivations {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("%w: %w", common.ErrInvalidPlan, err)
		}
	}
	encoded, err := marshalJSON(bindings)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE rule_sets SET input_bindings = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`, encoded, time.Now(), tenantID, ruleSetID)
	if err != nil {
		return fmt.Errorf("failed to update input bindings: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", common.ErrMissingRuleSet, ruleSetID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRuleSet(row rowScanner) (*model.RuleSet, error) {
	var (
		rs         model.RuleSet
		gatePolicy sql.NullString
		population sql.NullString
		variants   sql.NullString
		bindings   sql.NullString
	)
	err := row.Scan(&rs.ID, &rs.TenantID, &rs.Name, &rs.Version, &rs.Status, &gatePolicy,
		&population, &variants, &bindings, &rs.CreatedAt, &rs.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan rule set: %w", err)
	}
	rs.GatePolicy = model.GatePolicy(gatePolicy.String)

	if err := plan.ValidateComponents([]byte(variants.String)); err != nil {
		return nil, fmt.Errorf("rule set %s: %w", rs.ID, err)
	}
	if err := unmarshalJSON(variants, &rs.Variants); err != nil {
		return nil, fmt.Errorf("%w: rule set %s: %w", common.ErrInvalidPlan, rs.ID, err)
	}
	if err := unmarshalJSON(population, &rs.Population); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(bindings, &rs.InputBindings); err != nil {
		return nil, err
	}
	if err := rs.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidPlan, err)
	}
	return &rs, nil
}
