package model

import (
	"encoding/json"
	"time"

	"github.com/CCAFRICA/spm-platform/internal/money"
)

// BatchStatus is the lifecycle of a calculation batch.
type BatchStatus string

// Batch statuses.
const (
	BatchCompleted  BatchStatus = "completed"
	BatchSuperseded BatchStatus = "superseded"
)

// Batch auxiliary config keys.
const (
	BatchConfigAnomalies      = "anomalies"
	BatchConfigReconciliation = "reconciliation"
)

// CalculationBatch groups the results of one calculation run. Config holds
// auxiliary advisory reports keyed by name.
type CalculationBatch struct {
	CreatedAt   time.Time                  `json:"created_at"`
	Config      map[string]json.RawMessage `json:"config,omitempty"`
	ID          string                     `json:"id"`
	TenantID    string                     `json:"tenant_id"`
	PeriodID    string                     `json:"period_id"`
	RuleSetID   string                     `json:"rule_set_id"`
	Status      BatchStatus                `json:"status"`
	TotalPayout money.Decimal              `json:"total_payout"`
	EntityCount int                        `json:"entity_count"`
}

// ComponentPayout is one component's contribution to a result.
type ComponentPayout struct {
	ComponentID   string        `json:"componentId"`
	ComponentName string        `json:"componentName"`
	Kind          ComponentKind `json:"kind"`
	TraceID       string        `json:"traceId"`
	Payout        money.Decimal `json:"payout"`
}

// Result flags.
const (
	FlagMissingMetric = "missing_metric"
	FlagGated         = "gated"
	FlagNoVariant     = "no_variant"
	FlagLowConfidence = "low_confidence"
)

// ResultMetadata carries the explainability payload of a result.
type ResultMetadata struct {
	Variant        string           `json:"variant"`
	GatedBy        string           `json:"gatedBy,omitempty"`
	IntentTraces   []ExecutionTrace `json:"intentTraces"`
	MissingMetrics []string         `json:"missingMetrics,omitempty"`
	Flags          []string         `json:"flags,omitempty"`
}

// CalculationResult is the payout of one entity for one period under one rule set.
type CalculationResult struct {
	CreatedAt   time.Time         `json:"created_at"`
	TenantID    string            `json:"tenant_id"`
	BatchID     string            `json:"batch_id"`
	EntityID    string            `json:"entity_id"`
	PeriodID    string            `json:"period_id"`
	RuleSetID   string            `json:"rule_set_id"`
	Components  []ComponentPayout `json:"components"`
	Metadata    ResultMetadata    `json:"metadata"`
	TotalPayout money.Decimal     `json:"total_payout"`
	ID          int64             `json:"id"`
}

// HasFlag reports whether the result carries flag.
func (r CalculationResult) HasFlag(flag string) bool {
	for _, f := range r.Metadata.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Trace returns the trace for a component id or name.
func (r CalculationResult) Trace(component string) (ExecutionTrace, bool) {
	for _, t := range r.Metadata.IntentTraces {
		if t.ComponentID == component || t.ComponentName == component {
			return t, true
		}
	}
	return ExecutionTrace{}, false
}
