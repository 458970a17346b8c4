package model

import "time"

// SignalType buckets historical signals.
type SignalType string

// Signal types.
const (
	SignalClassification SignalType = "classification"
	SignalConfidence     SignalType = "confidence"
	SignalAnomaly        SignalType = "anomaly"
	SignalCorrection     SignalType = "correction"
	SignalDataQuality    SignalType = "data_quality"
	SignalResolution     SignalType = "resolution"
	SignalTraining       SignalType = "training"
)

// CohortKind is the dimension a signal is keyed by.
type CohortKind string

// Cohort kinds.
const (
	CohortMetric    CohortKind = "metric"
	CohortComponent CohortKind = "component"
	CohortEntity    CohortKind = "entity"
	CohortGroup     CohortKind = "group"
	CohortRuleSet   CohortKind = "rule_set"
)

// Signal is one historical observation feeding agent memory.
type Signal struct {
	CreatedAt  time.Time      `json:"created_at"`
	Payload    map[string]any `json:"payload,omitempty"`
	ID         string         `json:"id"`
	TenantID   string         `json:"tenant_id"`
	Type       SignalType     `json:"type"`
	Domain     string         `json:"domain,omitempty"`
	CohortKind CohortKind     `json:"cohort_kind"`
	CohortKey  string         `json:"cohort_key"`
	Confidence float64        `json:"confidence"`
}

// PayloadString returns a string payload value.
func (s Signal) PayloadString(key string) string {
	if v, ok := s.Payload[key].(string); ok {
		return v
	}
	return ""
}
