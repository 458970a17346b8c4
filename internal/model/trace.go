package model

import "github.com/CCAFRICA/spm-platform/internal/money"

// Resolution paths recorded on resolved inputs.
const (
	PathDirect     = "direct"
	PathDerived    = "derived"
	PathAggregated = "aggregated"
	PathMissing    = "missing"
)

// ResolvedInput is one metric value fed into a component, with how it was found.
type ResolvedInput struct {
	Metric     string        `json:"metric"`
	Path       string        `json:"path"`
	Source     string        `json:"source,omitempty"`
	Value      money.Decimal `json:"value"`
	Confidence float64       `json:"confidence"`
	Resolved   bool          `json:"resolved"`
}

// Band resolution statuses.
const (
	BandExact = "exact"
	BandGap   = "gap"
	BandBelow = "below"
	BandAbove = "above"
)

// LookupResolution records which band, cell or predicate produced the outcome.
type LookupResolution struct {
	Passed      *bool          `json:"passed,omitempty"`
	Rate        *money.Decimal `json:"rate,omitempty"`
	Band        string         `json:"band,omitempty"`
	Label       string         `json:"label,omitempty"`
	Status      string         `json:"status,omitempty"`
	RowBand     string         `json:"rowBand,omitempty"`
	ColumnBand  string         `json:"columnBand,omitempty"`
	RowStatus   string         `json:"rowStatus,omitempty"`
	ColStatus   string         `json:"columnStatus,omitempty"`
	TierIndex   int            `json:"tierIndex"`
	RowIndex    int            `json:"rowIndex"`
	ColumnIndex int            `json:"columnIndex"`
}

// Modifier kinds.
const (
	ModifierCap          = "capped"
	ModifierClampTier    = "clamped_tier"
	ModifierClampRow     = "clamped_row"
	ModifierClampColumn  = "clamped_column"
	ModifierGateFailed   = "gate_failed"
	ModifierGatedBy      = "gated_by"
	ModifierMissingInput = "missing_input"
)

// Modifier is an adjustment applied after the raw lookup or multiplication.
type Modifier struct {
	Kind   string        `json:"kind"`
	Detail string        `json:"detail,omitempty"`
	Before money.Decimal `json:"before"`
	After  money.Decimal `json:"after"`
}

// ExecutionTrace records how one component's payout was computed for one entity.
type ExecutionTrace struct {
	Lookup          *LookupResolution `json:"lookup,omitempty"`
	TraceID         string            `json:"traceId"`
	ComponentID     string            `json:"componentId"`
	ComponentName   string            `json:"componentName"`
	Kind            ComponentKind     `json:"kind"`
	EntityID        string            `json:"entityId"`
	Inputs          []ResolvedInput   `json:"inputs"`
	Modifiers       []Modifier        `json:"modifiers,omitempty"`
	ComputedOutcome money.Decimal     `json:"computedOutcome"`
	Outcome         money.Decimal     `json:"outcome"`
	Confidence      float64           `json:"confidence"`
}

// HasMissingInput reports whether any input could not be resolved.
func (t ExecutionTrace) HasMissingInput() bool {
	for _, in := range t.Inputs {
		if !in.Resolved {
			return true
		}
	}
	return false
}

// HasModifier reports whether a modifier of the given kind was applied.
func (t ExecutionTrace) HasModifier(kind string) bool {
	for _, m := range t.Modifiers {
		if m.Kind == kind {
			return true
		}
	}
	return false
}
