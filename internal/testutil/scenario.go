package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/CCAFRICA/spm-platform/internal/model"
	"github.com/CCAFRICA/spm-platform/internal/service"
)

// Default identifiers used by the builder.
const (
	TenantID  = "tenant-1"
	PeriodID  = "period-2024-01"
	PeriodKey = "2024-01"
)

// EntityID returns the internal id the builder assigns to an external id.
func EntityID(externalID string) string {
	return "ent-" + externalID
}

// Scenario is the seeded state.
type Scenario struct {
	Period   *model.Period
	RuleSets map[string]*model.RuleSet
	Entities map[string]model.Entity
	TenantID string
}

// Builder provides a fluent interface for seeding a tenant.
type Builder struct {
	t           *testing.T
	ruleSets    []*model.RuleSet
	entities    []model.Entity
	assignments []model.Assignment
	rows        []model.RawDataRow
}

// NewBuilder creates a builder for TenantID / PeriodKey.
func NewBuilder(t *testing.T) *Builder {
	return &Builder{t: t}
}

// WithRuleSet adds a plan. Every entity added afterwards or before is
// assigned to every plan unless WithAssignment is used.
func (b *Builder) WithRuleSet(rs *model.RuleSet) *Builder {
	rs.TenantID = TenantID
	b.ruleSets = append(b.ruleSets, rs)
	return b
}

// WithEntity adds a payee.
func (b *Builder) WithEntity(externalID, name, groupKey string, attrs map[string]string) *Builder {
	b.entities = append(b.entities, model.Entity{
		ID:         EntityID(externalID),
		TenantID:   TenantID,
		ExternalID: externalID,
		Name:       name,
		GroupKey:   groupKey,
		Attributes: attrs,
	})
	return b
}

// WithAssignment pins an entity to a plan variant. When any assignment is
// given, automatic assignment is disabled.
func (b *Builder) WithAssignment(ruleSetID, externalID, variant string) *Builder {
	b.assignments = append(b.assignments, model.Assignment{
		TenantID:   TenantID,
		RuleSetID:  ruleSetID,
		EntityID:   EntityID(externalID),
		VariantKey: variant,
	})
	return b
}

// WithRow adds a raw data row. An empty externalID makes it a group-level row.
func (b *Builder) WithRow(dataType, externalID, groupKey string, data map[string]any) *Builder {
	row := model.RawDataRow{
		TenantID: TenantID,
		PeriodID: PeriodID,
		DataType: dataType,
		GroupKey: groupKey,
		Data:     data,
	}
	if externalID != "" {
		row.EntityID = EntityID(externalID)
	}
	b.rows = append(b.rows, row)
	return b
}

// Build writes everything to storage.
func (b *Builder) Build(ctx context.Context, store service.Storage) (*Scenario, error) {
	if err := store.CreateTenant(ctx, &model.Tenant{ID: TenantID, Name: "Test Tenant"}); err != nil {
		return nil, err
	}
	period := &model.Period{
		ID:        PeriodID,
		TenantID:  TenantID,
		Key:       PeriodKey,
		StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	}
	if err := store.SavePeriod(ctx, period); err != nil {
		return nil, err
	}

	scenario := &Scenario{
		TenantID: TenantID,
		Period:   period,
		RuleSets: make(map[string]*model.RuleSet),
		Entities: make(map[string]model.Entity),
	}
	for _, rs := range b.ruleSets {
		if err := store.SaveRuleSet(ctx, rs); err != nil {
			return nil, fmt.Errorf("seed rule set %s: %w", rs.ID, err)
		}
		scenario.RuleSets[rs.ID] = rs
	}

	if len(b.entities) > 0 {
		if err := store.SaveEntities(ctx, b.entities); err != nil {
			return nil, fmt.Errorf("seed entities: %w", err)
		}
	}
	for _, e := range b.entities {
		scenario.Entities[e.ExternalID] = e
	}

	assignments := b.assignments
	if len(assignments) == 0 {
		for _, rs := range b.ruleSets {
			for _, e := range b.entities {
				assignments = append(assignments, model.Assignment{TenantID: TenantID, RuleSetID: rs.ID, EntityID: e.ID})
			}
		}
	}
	if len(assignments) > 0 {
		if err := store.SaveAssignments(ctx, assignments); err != nil {
			return nil, fmt.Errorf("seed assignments: %w", err)
		}
	}

	if len(b.rows) > 0 {
		if err := store.SaveRawData(ctx, b.rows); err != nil {
			return nil, fmt.Errorf("seed raw data: %w", err)
		}
	}
	return scenario, nil
}
