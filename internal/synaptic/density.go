// Package synaptic aggregates historical signals into per-tenant agent
// memory and exposes it as a read-only surface of priors.
package synaptic

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/CCAFRICA/spm-platform/internal/model"
)

// Payload keys read when folding a signal into a synapse.
const (
	PayloadKind   = "kind"
	PayloadDelta  = "delta"
	PayloadMetric = "metric"
)

// Cohort identifies the dimension a synapse is keyed by.
type Cohort struct {
	Kind model.CohortKind `json:"kind"`
	Key  string           `json:"key"`
}

// ComponentCohort is the cohort of a plan component.
func ComponentCohort(component string) Cohort {
	return Cohort{Kind: model.CohortComponent, Key: component}
}

// MetricCohort is the cohort of a plan metric.
func MetricCohort(metric string) Cohort {
	return Cohort{Kind: model.CohortMetric, Key: metric}
}

// EntityCohort is the cohort of a single entity.
func EntityCohort(entityID string) Cohort {
	return Cohort{Kind: model.CohortEntity, Key: entityID}
}

func (c Cohort) String() string {
	return string(c.Kind) + ":" + strings.ToLower(strings.TrimSpace(c.Key))
}

// Synapse is the aggregate of every signal seen for one cohort.
type Synapse struct {
	LastSeen       time.Time      `json:"lastSeen"`
	Kinds          map[string]int `json:"kinds,omitempty"`
	Cohort         Cohort         `json:"cohort"`
	MeanConfidence float64        `json:"meanConfidence"`
	TotalDelta     float64        `json:"totalDelta"`
	Count          int            `json:"count"`
}

func (s *Synapse) add(sig model.Signal) {
	s.MeanConfidence = (s.MeanConfidence*float64(s.Count) + sig.Confidence) / float64(s.Count+1)
	s.Count++
	s.TotalDelta += payloadFloat(sig.Payload[PayloadDelta])
	if kind := sig.PayloadString(PayloadKind); kind != "" {
		if s.Kinds == nil {
			s.Kinds = make(map[string]int)
		}
		s.Kinds[kind]++
	}
	if sig.CreatedAt.After(s.LastSeen) {
		s.LastSeen = sig.CreatedAt
	}
}

// MeanDelta is TotalDelta averaged over Count.
func (s *Synapse) MeanDelta() float64 {
	if s == nil || s.Count == 0 {
		return 0
	}
	return s.TotalDelta / float64(s.Count)
}

// Bucket maps cohort strings to synapses.
type Bucket map[string]*Synapse

func (b Bucket) add(c Cohort, sig model.Signal) {
	key := c.String()
	s, ok := b[key]
	if !ok {
		s = &Synapse{Cohort: Cohort{Kind: c.Kind, Key: strings.TrimSpace(c.Key)}}
		b[key] = s
	}
	s.add(sig)
}

func (b Bucket) get(c Cohort) *Synapse {
	return b[c.String()]
}

// Density is a tenant's aggregated signal history.
type Density struct {
	Confidence  Bucket `json:"confidenceSynapses"`
	Anomaly     Bucket `json:"anomalySynapses"`
	Correction  Bucket `json:"correctionSynapses"`
	DataQuality Bucket `json:"dataQualitySynapses"`
	SignalCount int    `json:"signalCount"`
}

// NewDensity returns an empty density.
func NewDensity() *Density {
	return &Density{
		Confidence:  make(Bucket),
		Anomaly:     make(Bucket),
		Correction:  make(Bucket),
		DataQuality: make(Bucket),
	}
}

// Build folds signals into a new density.
func Build(signals []model.Signal) *Density {
	d := NewDensity()
	for _, s := range signals {
		d.Add(s)
	}
	return d
}

// Add folds one signal into its bucket. Resolution and training signals
// are kept in the store for audit but carry no prior.
func (d *Density) Add(sig model.Signal) {
	cohort := Cohort{Kind: sig.CohortKind, Key: sig.CohortKey}
	switch sig.Type {
	case model.SignalClassification, model.SignalConfidence:
		d.Confidence.add(cohort, sig)
	case model.SignalAnomaly:
		d.Anomaly.add(cohort, sig)
	case model.SignalCorrection:
		d.Correction.add(cohort, sig)
		if metric := sig.PayloadString(PayloadMetric); metric != "" && sig.CohortKind != model.CohortMetric {
			d.Correction.add(MetricCohort(metric), sig)
		}
	case model.SignalDataQuality:
		d.DataQuality.add(cohort, sig)
	default:
		return
	}
	d.SignalCount++
}

// IsEmpty reports whether no signal has been folded in.
func (d *Density) IsEmpty() bool {
	return d == nil || d.SignalCount == 0
}

// Marshal encodes the density for persistence.
func (d *Density) Marshal() (json.RawMessage, error) {
	return json.Marshal(d)
}

// Unmarshal decodes a persisted density, filling any missing bucket.
func Unmarshal(data []byte) (*Density, error) {
	d := NewDensity()
	if err := json.Unmarshal(data, d); err != nil {
		return nil, err
	}
	for _, b := range []*Bucket{&d.Confidence, &d.Anomaly, &d.Correction, &d.DataQuality} {
		if *b == nil {
			*b = make(Bucket)
		}
	}
	return d, nil
}

func payloadFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f
	}
	return 0
}
