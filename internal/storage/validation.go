package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/CCAFRICA/spm-platform/internal/model"
)

// Validation errors.
var (
	ErrNilContext        = errors.New("context cannot be nil")
	ErrEmptyString       = errors.New("string parameter cannot be empty")
	ErrNilParameter      = errors.New("parameter cannot be nil")
	ErrEmptySlice        = errors.New("slice cannot be empty")
	ErrInvalidDateRange  = errors.New("start date must be before end date")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidEntity     = errors.New("invalid entity")
	ErrInvalidRawData    = errors.New("invalid raw data row")
	ErrInvalidResult     = errors.New("invalid calculation result")
	ErrInvalidDispute    = errors.New("invalid dispute")
	ErrInvalidSignal     = errors.New("invalid signal")
	ErrImmutableRuleSet  = errors.New("rule set is referenced by posted results; bump its version to change components")
	ErrCorruptColumn     = errors.New("corrupt column value")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validatePeriod(p *model.Period) error {
	if p == nil {
		return fmt.Errorf("%w: period", ErrNilParameter)
	}
	if err := validateString(p.ID, "period.ID"); err != nil {
		return err
	}
	if err := validateString(p.TenantID, "period.TenantID"); err != nil {
		return err
	}
	if err := validateString(p.Key, "period.Key"); err != nil {
		return err
	}
	if p.EndDate.Before(p.StartDate) {
		return fmt.Errorf("%w: period %s", ErrInvalidDateRange, p.Key)
	}
	switch p.Status {
	case "", model.PeriodOpen, model.PeriodClosed:
	default:
		return fmt.Errorf("%w: period status %q", ErrInvalidStatus, p.Status)
	}
	return nil
}

func validateRuleSet(rs *model.RuleSet) error {
	if rs == nil {
		return fmt.Errorf("%w: rule set", ErrNilParameter)
	}
	if err := validateString(rs.ID, "ruleSet.ID"); err != nil {
		return err
	}
	if err := validateString(rs.TenantID, "ruleSet.TenantID"); err != nil {
		return err
	}
	return rs.Validate()
}

func validateEntities(entities []model.Entity) error {
	if len(entities) == 0 {
		return fmt.Errorf("%w: entities", ErrEmptySlice)
	}
	for i, e := range entities {
		if e.ID == "" || e.TenantID == "" || e.ExternalID == "" {
			return fmt.Errorf("%w at index %d: id, tenant and external id are required", ErrInvalidEntity, i)
		}
	}
	return nil
}

func validateRawData(rows []model.RawDataRow) error {
	if len(rows) == 0 {
		return fmt.Errorf("%w: raw data", ErrEmptySlice)
	}
	for i, r := range rows {
		if r.TenantID == "" || r.PeriodID == "" || r.DataType == "" {
			return fmt.Errorf("%w at index %d: tenant, period and data type are required", ErrInvalidRawData, i)
		}
		if r.EntityID == "" && r.GroupKey == "" {
			return fmt.Errorf("%w at index %d: entity id or group key is required", ErrInvalidRawData, i)
		}
	}
	return nil
}

func validateBatch(batch *model.CalculationBatch, results []model.CalculationResult) error {
	if batch == nil {
		return fmt.Errorf("%w: batch", ErrNilParameter)
	}
	for _, field := range []struct{ name, value string }{
		{"batch.ID", batch.ID},
		{"batch.TenantID", batch.TenantID},
		{"batch.PeriodID", batch.PeriodID},
		{"batch.RuleSetID", batch.RuleSetID},
	} {
		if err := validateString(field.value, field.name); err != nil {
			return err
		}
	}
	seen := make(map[string]bool, len(results))
	for i, r := range results {
		if r.TenantID != batch.TenantID || r.PeriodID != batch.PeriodID || r.RuleSetID != batch.RuleSetID {
			return fmt.Errorf("%w at index %d: result scope differs from batch", ErrInvalidResult, i)
		}
		if r.EntityID == "" {
			return fmt.Errorf("%w at index %d: missing entity", ErrInvalidResult, i)
		}
		if seen[r.EntityID] {
			return fmt.Errorf("%w at index %d: duplicate entity %s", ErrInvalidResult, i, r.EntityID)
		}
		seen[r.EntityID] = true
	}
	return nil
}

func validateDispute(d *model.Dispute) error {
	if d == nil {
		return fmt.Errorf("%w: dispute", ErrNilParameter)
	}
	if d.ID == "" || d.TenantID == "" || d.EntityID == "" || d.BatchID == "" {
		return fmt.Errorf("%w: id, tenant, entity and batch are required", ErrInvalidDispute)
	}
	if !d.Status.IsValid() {
		return fmt.Errorf("%w: dispute status %q", ErrInvalidStatus, d.Status)
	}
	return nil
}

func validateSignal(s *model.Signal) error {
	if s == nil {
		return fmt.Errorf("%w: signal", ErrNilParameter)
	}
	if s.ID == "" || s.TenantID == "" || s.Type == "" {
		return fmt.Errorf("%w: id, tenant and type are required", ErrInvalidSignal)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("%w: confidence must be between 0 and 1", ErrInvalidSignal)
	}
	return nil
}
