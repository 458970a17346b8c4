// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/CCAFRICA/spm-platform/internal/model"
)

// RawDataFilter scopes a paginated raw data read. Empty PeriodID reads every
// period of the tenant; empty DataType reads every sheet.
type RawDataFilter struct {
	TenantID string
	PeriodID string
	DataType string
	Limit    int
	Offset   int
}

// SignalFilter scopes a signal read. Zero values match everything.
type SignalFilter struct {
	Since      *time.Time
	TenantID   string
	Types      []model.SignalType
	CohortKind model.CohortKind
	CohortKey  string
	Limit      int
	Offset     int
}

// DensityRecord is a persisted pre-aggregated density snapshot.
type DensityRecord struct {
	ComputedAt  time.Time
	TenantID    string
	Density     json.RawMessage
	SignalCount int
}

// Storage defines the contract for our persistence layer. Every read and
// write is scoped to a tenant.
type Storage interface {
	// Tenant and period operations
	CreateTenant(ctx context.Context, tenant *model.Tenant) error
	GetTenant(ctx context.Context, id string) (*model.Tenant, error)
	SavePeriod(ctx context.Context, period *model.Period) error
	GetPeriod(ctx context.Context, tenantID, periodID string) (*model.Period, error)
	GetPeriodByKey(ctx context.Context, tenantID, key string) (*model.Period, error)

	// Rule set operations
	SaveRuleSet(ctx context.Context, ruleSet *model.RuleSet) error
	GetRuleSet(ctx context.Context, tenantID, ruleSetID string) (*model.RuleSet, error)
	ListActiveRuleSets(ctx context.Context, tenantID string) ([]model.RuleSet, error)
	UpdateRuleSetBindings(ctx context.Context, tenantID, ruleSetID string, bindings model.InputBindings) error

	// Entity and assignment operations
	SaveEntities(ctx context.Context, entities []model.Entity) error
	GetEntity(ctx context.Context, tenantID, entityID string) (*model.Entity, error)
	ListEntities(ctx context.Context, tenantID string) ([]model.Entity, error)
	SaveAssignments(ctx context.Context, assignments []model.Assignment) error
	ListAssignments(ctx context.Context, tenantID, ruleSetID string) ([]model.Assignment, error)

	// Raw data operations
	SaveRawData(ctx context.Context, rows []model.RawDataRow) error
	ListRawData(ctx context.Context, filter RawDataFilter) ([]model.RawDataRow, error)
	CountRawData(ctx context.Context, filter RawDataFilter) (int, error)
	DeleteRawData(ctx context.Context, tenantID, periodID, dataType string) (int64, error)

	// Calculation operations
	ReplaceResults(ctx context.Context, batch *model.CalculationBatch, results []model.CalculationResult) error
	GetBatch(ctx context.Context, tenantID, batchID string) (*model.CalculationBatch, error)
	ListResultsByBatch(ctx context.Context, tenantID, batchID string) ([]model.CalculationResult, error)
	GetResult(ctx context.Context, tenantID, batchID, entityID string) (*model.CalculationResult, error)
	UpdateBatchConfig(ctx context.Context, tenantID, batchID, key string, value json.RawMessage) error

	// Dispute operations
	CreateDispute(ctx context.Context, dispute *model.Dispute) error
	GetDispute(ctx context.Context, tenantID, disputeID string) (*model.Dispute, error)
	UpdateDispute(ctx context.Context, dispute *model.Dispute) error

	// Signal and density operations
	SaveSignal(ctx context.Context, signal *model.Signal) error
	ListSignals(ctx context.Context, filter SignalFilter) ([]model.Signal, error)
	GetSynapticDensity(ctx context.Context, tenantID string) (*DensityRecord, error)
	SaveSynapticDensity(ctx context.Context, record *DensityRecord) error
	DeleteSynapticDensity(ctx context.Context, tenantID string) error

	// Maintenance
	Migrate(ctx context.Context) error
	Close() error
}

// RetryOptions configures retry behavior for external collaborators.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
