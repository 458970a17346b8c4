// Package resolution investigates disputed payouts: it walks the disputed
// entity's execution traces, weighs them against agent memory and
// recommends a remedy.
package resolution

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/CCAFRICA/spm-platform/internal/config"
	"github.com/CCAFRICA/spm-platform/internal/model"
	"github.com/CCAFRICA/spm-platform/internal/money"
	"github.com/CCAFRICA/spm-platform/internal/synaptic"
)

// SignalDomain tags the synapses this package writes.
const SignalDomain = "resolution"

// RootCause classifies why a disputed amount is what it is.
type RootCause string

// Root causes.
const (
	RootDataQuality        RootCause = "data_quality"
	RootPlanInterpretation RootCause = "plan_interpretation"
	RootCalculationError   RootCause = "calculation_error"
	RootLegitimate         RootCause = "legitimate"
)

// Recommendation is the proposed remedy.
type Recommendation string

// Recommendations.
const (
	RecommendReject   Recommendation = "reject_with_evidence"
	RecommendAdjust   Recommendation = "adjust"
	RecommendEscalate Recommendation = "escalate"
)

// Status is the dispute status a recommendation settles on.
func (r Recommendation) Status() model.DisputeStatus {
	switch r {
	case RecommendReject:
		return model.DisputeRejected
	case RecommendAdjust:
		return model.DisputeResolved
	default:
		return model.DisputeEscalated
	}
}

// Finding is one traced component examined during an investigation.
type Finding struct {
	Lookup        *model.LookupResolution `json:"lookup,omitempty"`
	ComponentID   string                  `json:"componentId"`
	ComponentName string                  `json:"componentName,omitempty"`
	Kind          model.ComponentKind     `json:"kind"`
	TraceID       string                  `json:"traceId"`
	Boundary      string                  `json:"boundary,omitempty"`
	Inputs        []model.ResolvedInput   `json:"inputs"`
	Modifiers     []model.Modifier        `json:"modifiers,omitempty"`
	Payout        money.Decimal           `json:"payout"`
	Confidence    float64                 `json:"confidence"`
}

// Investigation is the agent's verdict on one dispute. It is stored as the
// dispute's resolution.
type Investigation struct {
	InvestigatedAt           time.Time        `json:"investigatedAt"`
	Adjustment               *money.Decimal   `json:"adjustment,omitempty"`
	DisputeID                string           `json:"disputeId"`
	EntityID                 string           `json:"entityId"`
	BatchID                  string           `json:"batchId"`
	Component                string           `json:"component,omitempty"`
	RootCause                RootCause        `json:"rootCause"`
	Recommendation           Recommendation   `json:"recommendation"`
	PriorsOutcome            synaptic.Outcome `json:"priorsOutcome,omitempty"`
	SynapseID                string           `json:"synapseId,omitempty"`
	TrainingSignalID         string           `json:"trainingSignalId,omitempty"`
	Evidence                 []string         `json:"evidence"`
	Findings                 []Finding        `json:"findings,omitempty"`
	Confidence               float64          `json:"confidence"`
	ResolutionSynapseWritten bool             `json:"resolutionSynapseWritten"`
}

// SynapseWriter records resolution and training synapses.
type SynapseWriter interface {
	WriteSynapse(ctx context.Context, signal model.Signal) (model.Signal, error)
}

// Context is everything the agent may look at. Result is nil when the
// entity has no row in the disputed batch; RuleSet may be nil when the plan
// could not be loaded.
type Context struct {
	Result  *model.CalculationResult
	RuleSet *model.RuleSet
	Surface *synaptic.Surface
	Dispute model.Dispute
}

// Agent classifies disputes.
type Agent struct {
	writer   SynapseWriter
	settings config.ResolutionSettings
	now      func() time.Time
}

// NewAgent creates an agent. A nil writer records no synapses.
func NewAgent(writer SynapseWriter, settings config.ResolutionSettings) *Agent {
	if settings.RepeatedCorrectionMin <= 0 {
		settings.RepeatedCorrectionMin = config.Defaults().Resolution.RepeatedCorrectionMin
	}
	return &Agent{writer: writer, settings: settings, now: time.Now}
}

// Investigate walks the disputed traces and produces a verdict. Synapse
// writes are best effort.
func (a *Agent) Investigate(ctx context.Context, ic Context) Investigation {
	surface := ic.Surface
	if surface == nil {
		surface = synaptic.NewSurface(nil)
	}
	d := ic.Dispute
	inv := Investigation{
		InvestigatedAt: a.now(),
		DisputeID:      d.ID,
		EntityID:       d.EntityID,
		BatchID:        d.BatchID,
		Component:      d.Component,
	}

	a.classify(&inv, ic, surface)
	inv.Confidence = math.Round(inv.Confidence*100) / 100
	a.writeSynapses(ctx, &inv, d)

	slog.Info("Dispute investigated",
		"tenant_id", d.TenantID,
		"dispute_id", d.ID,
		"entity_id", d.EntityID,
		"root_cause", inv.RootCause,
		"recommendation", inv.Recommendation,
		"confidence", inv.Confidence)
	return inv
}

func (a *Agent) classify(inv *Investigation, ic Context, surface *synaptic.Surface) {
	if ic.Result == nil {
		inv.RootCause = RootCalculationError
		inv.Recommendation = RecommendEscalate
		inv.Confidence = 0.6
		inv.Evidence = append(inv.Evidence, fmt.Sprintf("no result for entity %s in batch %s", inv.EntityID, inv.BatchID))
		return
	}

	traces := ic.Result.Metadata.IntentTraces
	if name := strings.TrimSpace(ic.Dispute.Component); name != "" {
		trace, ok := ic.Result.Trace(name)
		if !ok {
			inv.RootCause = RootPlanInterpretation
			inv.Recommendation = RecommendEscalate
			inv.Confidence = 0.6
			inv.Evidence = append(inv.Evidence, fmt.Sprintf("component %s is not part of variant %s", name, ic.Result.Metadata.Variant))
			return
		}
		traces = []model.ExecutionTrace{trace}
	}

	var (
		missing      []string
		metrics      []string
		explanations []string
		qualityHits  int
		minConf      = 1.0
	)
	for _, t := range traces {
		f := a.finding(ic, t)
		inv.Findings = append(inv.Findings, f)
		minConf = math.Min(minConf, t.Confidence)
		if f.Boundary != "" {
			explanations = append(explanations, f.Boundary)
		}
		for _, m := range t.Modifiers {
			switch m.Kind {
			case model.ModifierGateFailed, model.ModifierGatedBy, model.ModifierCap,
				model.ModifierClampTier, model.ModifierClampRow, model.ModifierClampColumn:
				explanations = append(explanations, fmt.Sprintf("component %s %s: %s -> %s %s", t.ComponentID, m.Kind, m.Before, m.After, m.Detail))
			}
		}
		for _, in := range t.Inputs {
			metrics = append(metrics, in.Metric)
			qualityHits += surface.DataQualityIssues(in.Metric)
			if !in.Resolved {
				missing = append(missing, in.Metric)
			}
		}
	}

	repeated, adjustment, corrections := a.correctionHistory(traces, metrics, surface)
	repeatedMin := a.settings.RepeatedCorrectionMin

	switch {
	case len(missing) > 0:
		inv.RootCause = RootDataQuality
		inv.Recommendation = RecommendEscalate
		inv.Confidence = 0.9
		if qualityHits > 0 {
			inv.Confidence = 0.95
		}
		for _, m := range missing {
			inv.Evidence = append(inv.Evidence, fmt.Sprintf("metric %s could not be resolved from imported data", m))
			inv.Evidence = append(inv.Evidence, surface.Evidence(synaptic.MetricCohort(m))...)
		}

	case repeated:
		inv.RootCause = RootCalculationError
		inv.Recommendation = RecommendAdjust
		inv.Confidence = math.Min(0.95, 0.7+0.05*float64(corrections))
		amount := ic.Dispute.AmountDisputed
		if adjustment != nil {
			amount = *adjustment
			inv.Evidence = append(inv.Evidence, fmt.Sprintf("adjustment from mean historical correction %s", amount))
		} else {
			inv.Evidence = append(inv.Evidence, "no historical correction amount, adjusting by the disputed amount")
		}
		amount = amount.RoundCents()
		inv.Adjustment = &amount
		for _, t := range traces {
			inv.Evidence = append(inv.Evidence, surface.Evidence(synaptic.ComponentCohort(t.ComponentID))...)
		}

	case minConf < 1:
		inv.RootCause = RootPlanInterpretation
		inv.Recommendation = RecommendEscalate
		inv.Confidence = math.Min(0.9, 0.6+(1-minConf)/2)
		for _, t := range traces {
			for _, in := range t.Inputs {
				if in.Resolved && in.Confidence < 1 {
					inv.Evidence = append(inv.Evidence, fmt.Sprintf("metric %s bound by an AI-assisted derivation with confidence %.2f (%s)", in.Metric, in.Confidence, in.Source))
				}
			}
		}

	case qualityHits >= repeatedMin:
		inv.RootCause = RootDataQuality
		inv.Recommendation = RecommendEscalate
		inv.Confidence = 0.7
		for _, m := range metrics {
			inv.Evidence = append(inv.Evidence, surface.Evidence(synaptic.MetricCohort(m))...)
		}

	default:
		inv.RootCause = RootLegitimate
		inv.Recommendation = RecommendReject
		inv.Confidence = 0.8
		if len(explanations) > 0 {
			inv.Confidence = 0.9
		}
		inv.Evidence = append(inv.Evidence, explanations...)
		for _, f := range inv.Findings {
			inv.Evidence = append(inv.Evidence, describe(f))
		}
		if n := surface.AnomalyCount(synaptic.EntityCohort(inv.EntityID)); n >= repeatedMin {
			inv.Confidence -= 0.1
			inv.Evidence = append(inv.Evidence, fmt.Sprintf("entity flagged by %d prior anomaly signal(s)", n))
		}
	}
}

// correctionHistory reports whether any traced component or metric has
// repeated corrections, with the mean correction of the first such cohort.
func (a *Agent) correctionHistory(traces []model.ExecutionTrace, metrics []string, surface *synaptic.Surface) (bool, *money.Decimal, int) {
	cohorts := make([]synaptic.Cohort, 0, len(traces)+len(metrics))
	for _, t := range traces {
		cohorts = append(cohorts, synaptic.ComponentCohort(t.ComponentID))
	}
	for _, m := range metrics {
		cohorts = append(cohorts, synaptic.MetricCohort(m))
	}

	var (
		repeated   bool
		adjustment *money.Decimal
		count      int
	)
	for _, c := range cohorts {
		if !surface.RepeatedCorrections("", c, a.settings.RepeatedCorrectionMin) {
			continue
		}
		repeated = true
		count = max(count, surface.CorrectionCount(c))
		if adjustment == nil {
			if delta, ok := surface.MeanCorrectionDelta(c); ok && delta != 0 {
				d := money.FromFloat(delta)
				adjustment = &d
			}
		}
	}
	return repeated, adjustment, count
}

func (a *Agent) finding(ic Context, t model.ExecutionTrace) Finding {
	f := Finding{
		Lookup:        t.Lookup,
		ComponentID:   t.ComponentID,
		ComponentName: t.ComponentName,
		Kind:          t.Kind,
		TraceID:       t.TraceID,
		Inputs:        t.Inputs,
		Modifiers:     t.Modifiers,
		Payout:        t.Outcome,
		Confidence:    t.Confidence,
	}
	if c, ok := component(ic.RuleSet, ic.Result.Metadata.Variant, t.ComponentID); ok {
		f.Boundary, _ = boundaryNote(c, t, a.settings.BoundaryProximityFactor)
	}
	return f
}

func component(rs *model.RuleSet, variant, id string) (model.Component, bool) {
	if rs == nil {
		return model.Component{}, false
	}
	v, ok := rs.Variant(variant)
	if !ok {
		return model.Component{}, false
	}
	for _, c := range v.Components {
		if c.ID == id {
			return c, true
		}
	}
	return model.Component{}, false
}

func describe(f Finding) string {
	var parts []string
	for _, in := range f.Inputs {
		parts = append(parts, fmt.Sprintf("%s=%s via %s", in.Metric, in.Value, in.Path))
	}
	line := fmt.Sprintf("component %s paid %s", f.ComponentID, f.Payout)
	if len(parts) > 0 {
		line += " from " + strings.Join(parts, ", ")
	}
	if f.Lookup != nil {
		switch {
		case f.Lookup.Band != "":
			line += fmt.Sprintf(" in band %s", f.Lookup.Band)
		case f.Lookup.RowBand != "":
			line += fmt.Sprintf(" in cell %s x %s", f.Lookup.RowBand, f.Lookup.ColumnBand)
		}
	}
	return line
}

// writeSynapses records the verdict as a resolution synapse and a training
// signal when the agent is confident enough.
func (a *Agent) writeSynapses(ctx context.Context, inv *Investigation, d model.Dispute) {
	if a.writer == nil || inv.Confidence < a.settings.SynapseMinConfidence {
		return
	}

	cohort := synaptic.EntityCohort(d.EntityID)
	if len(inv.Findings) == 1 {
		cohort = synaptic.ComponentCohort(inv.Findings[0].ComponentID)
	}
	payload := map[string]any{
		synaptic.PayloadKind: string(inv.RootCause),
		"recommendation":     string(inv.Recommendation),
		"dispute_id":         d.ID,
		"batch_id":           d.BatchID,
		"entity_id":          d.EntityID,
	}
	if inv.Adjustment != nil {
		payload[synaptic.PayloadDelta] = inv.Adjustment.Float64()
	}

	written, err := a.writer.WriteSynapse(ctx, model.Signal{
		TenantID:   d.TenantID,
		Type:       model.SignalResolution,
		Domain:     SignalDomain,
		CohortKind: cohort.Kind,
		CohortKey:  cohort.Key,
		Confidence: inv.Confidence,
		Payload:    payload,
	})
	if err != nil {
		slog.Warn("Failed to write resolution synapse", "tenant_id", d.TenantID, "dispute_id", d.ID, "error", err)
		return
	}
	inv.SynapseID = written.ID
	inv.ResolutionSynapseWritten = true

	training, err := a.writer.WriteSynapse(ctx, model.Signal{
		TenantID:   d.TenantID,
		Type:       model.SignalTraining,
		Domain:     SignalDomain,
		CohortKind: model.CohortEntity,
		CohortKey:  d.EntityID,
		Confidence: inv.Confidence,
		Payload: map[string]any{
			"category":       d.Category,
			"description":    d.Description,
			"root_cause":     string(inv.RootCause),
			"recommendation": string(inv.Recommendation),
			"evidence":       inv.Evidence,
		},
	})
	if err != nil {
		slog.Warn("Failed to write training signal", "tenant_id", d.TenantID, "dispute_id", d.ID, "error", err)
		return
	}
	inv.TrainingSignalID = training.ID
}
