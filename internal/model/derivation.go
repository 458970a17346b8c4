package model

import (
	"fmt"
	"strings"

	"github.com/CCAFRICA/spm-platform/internal/money"
)

// Operation is how a derivation computes its metric.
type Operation string

// Derivation operations.
const (
	OpSum   Operation = "sum"
	OpCount Operation = "count"
	OpAvg   Operation = "avg"
	OpMax   Operation = "max"
	OpMin   Operation = "min"
	OpRatio Operation = "ratio"
)

// IsValid reports whether op is a known operation.
func (op Operation) IsValid() bool {
	switch op {
	case OpSum, OpCount, OpAvg, OpMax, OpMin, OpRatio:
		return true
	}
	return false
}

// ActualsSuffix is appended to a raw derivation's metric when a ratio
// derivation takes over the metric name.
const ActualsSuffix = "_actuals"

// GoalSuffix names the denominator metric convergence creates for attainment ratios.
const GoalSuffix = "_goal"

// MetricDerivation describes how to compute a metric from raw data.
type MetricDerivation struct {
	ScaleFactor       *money.Decimal `json:"scale_factor,omitempty"`
	Metric            string         `json:"metric"`
	Operation         Operation      `json:"operation"`
	SourcePattern     string         `json:"source_pattern,omitempty"`
	SourceField       string         `json:"source_field,omitempty"`
	NumeratorMetric   string         `json:"numerator_metric,omitempty"`
	DenominatorMetric string         `json:"denominator_metric,omitempty"`
	SignalID          string         `json:"signal_id,omitempty"`
	MatchScore        float64        `json:"match_score,omitempty"`
	Confidence        float64        `json:"confidence,omitempty"`
	AIAssisted        bool           `json:"ai_assisted,omitempty"`
}

// EffectiveConfidence is 1.0 for deterministic bindings and the recorded
// confidence for AI-assisted ones.
func (d MetricDerivation) EffectiveConfidence() float64 {
	if !d.AIAssisted || d.Confidence <= 0 {
		return 1.0
	}
	return d.Confidence
}

// Validate checks the derivation is self-consistent.
func (d MetricDerivation) Validate() error {
	if strings.TrimSpace(d.Metric) == "" {
		return fmt.Errorf("derivation: missing metric")
	}
	if !d.Operation.IsValid() {
		return fmt.Errorf("derivation %q: unknown operation %q", d.Metric, d.Operation)
	}
	if d.Operation == OpRatio {
		if d.NumeratorMetric == "" || d.DenominatorMetric == "" {
			return fmt.Errorf("derivation %q: ratio needs numerator_metric and denominator_metric", d.Metric)
		}
		return nil
	}
	if d.SourcePattern == "" {
		return fmt.Errorf("derivation %q: missing source_pattern", d.Metric)
	}
	if d.SourceField == "" && d.Operation != OpCount {
		return fmt.Errorf("derivation %q: missing source_field", d.Metric)
	}
	return nil
}

// InputBindings is the plan's stored binding of metrics to raw data.
type InputBindings struct {
	MetricDerivations []MetricDerivation `json:"metric_derivations"`
}

// Find returns the derivation for metric, matching names case-insensitively.
func (b InputBindings) Find(metric string) (MetricDerivation, bool) {
	for _, d := range b.MetricDerivations {
		if strings.EqualFold(d.Metric, metric) {
			return d, true
		}
	}
	return MetricDerivation{}, false
}
