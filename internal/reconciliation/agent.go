// Package reconciliation compares posted calculation results with an
// externally supplied benchmark and feeds confirmed corrections back into
// agent memory.
package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/CCAFRICA/spm-platform/internal/config"
	"github.com/CCAFRICA/spm-platform/internal/model"
	"github.com/CCAFRICA/spm-platform/internal/money"
	"github.com/CCAFRICA/spm-platform/internal/synaptic"
)

// SignalDomain tags the correction synapses this package writes.
const SignalDomain = "reconciliation"

// Class is the outcome of one benchmark comparison.
type Class string

// Comparison classes.
const (
	ClassMatch                Class = "match"
	ClassRounding             Class = "rounding"
	ClassDiscrepancy          Class = "discrepancy"
	ClassFalseGreen           Class = "false_green"
	ClassFalseGreenRisk       Class = "false_green_risk"
	ClassMissingInCalculation Class = "missing_in_calculation"
	ClassMissingInBenchmark   Class = "missing_in_benchmark"
)

// Comparison pairs one calculated amount with its benchmark. Component is
// empty for entity totals.
type Comparison struct {
	Calculated *money.Decimal `json:"calculated,omitempty"`
	Benchmark  *money.Decimal `json:"benchmark,omitempty"`
	Delta      *money.Decimal `json:"delta,omitempty"`
	EntityID   string         `json:"entityId,omitempty"`
	ExternalID string         `json:"externalId"`
	Component  string         `json:"component,omitempty"`
	Class      Class          `json:"class"`
	SynapseID  string         `json:"synapseId,omitempty"`
	Evidence   []string       `json:"evidence,omitempty"`
	Confidence float64        `json:"confidence"`
}

// IsTotal reports whether the comparison is at entity-total level.
func (c Comparison) IsTotal() bool { return c.Component == "" }

// Report is the reconciliation outcome of one batch.
type Report struct {
	GeneratedAt        time.Time        `json:"generatedAt"`
	Classes            map[Class]int    `json:"classes"`
	TenantID           string           `json:"tenantId"`
	BatchID            string           `json:"batchId"`
	PriorsOutcome      synaptic.Outcome `json:"priorsOutcome"`
	Error              string           `json:"error,omitempty"`
	Comparisons        []Comparison     `json:"comparisons"`
	MatchCount         int              `json:"matchCount"`
	MismatchCount      int              `json:"mismatchCount"`
	CorrectionsWritten int              `json:"correctionsWritten"`
	Concordance        float64          `json:"concordance"`
	Success            bool             `json:"success"`
}

// Totals returns the entity-total comparisons.
func (r *Report) Totals() []Comparison {
	var out []Comparison
	for _, c := range r.Comparisons {
		if c.IsTotal() {
			out = append(out, c)
		}
	}
	return out
}

// Find returns the comparison for an external id and component ("" for
// the total).
func (r *Report) Find(externalID, component string) (Comparison, bool) {
	for _, c := range r.Comparisons {
		if strings.EqualFold(c.ExternalID, externalID) && strings.EqualFold(c.Component, component) {
			return c, true
		}
	}
	return Comparison{}, false
}

// SynapseWriter records correction synapses.
type SynapseWriter interface {
	WriteSynapse(ctx context.Context, signal model.Signal) (model.Signal, error)
}

// Input is everything one reconciliation needs. Entities maps entity id to
// entity so results can be paired by external id.
type Input struct {
	Surface    *synaptic.Surface
	Entities   map[string]model.Entity
	TenantID   string
	BatchID    string
	Benchmarks []model.BenchmarkRecord
	Results    []model.CalculationResult
}

// Agent classifies benchmark comparisons.
type Agent struct {
	writer      SynapseWriter
	settings    config.ReconciliationSettings
	repeatedMin int
	now         func() time.Time
}

// NewAgent creates an agent. A nil writer records no corrections.
// repeatedMin is the number of prior corrections on a component that makes
// a matching total suspect.
func NewAgent(writer SynapseWriter, settings config.ReconciliationSettings, repeatedMin int) *Agent {
	if repeatedMin <= 0 {
		repeatedMin = config.Defaults().Resolution.RepeatedCorrectionMin
	}
	return &Agent{writer: writer, settings: settings, repeatedMin: repeatedMin, now: time.Now}
}

type benchmarkSet struct {
	total      *model.BenchmarkRecord
	components []model.BenchmarkRecord
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Reconcile pairs results with benchmarks and classifies every pair. It
// never modifies results; correction synapses are best effort.
func (a *Agent) Reconcile(ctx context.Context, in Input) *Report {
	surface := in.Surface
	if surface == nil {
		surface = synaptic.NewSurface(nil)
	}
	report := &Report{
		TenantID:    in.TenantID,
		BatchID:     in.BatchID,
		GeneratedAt: a.now(),
		Classes:     make(map[Class]int),
		Success:     true,
	}

	benchmarks := make(map[string]*benchmarkSet)
	var order []string
	for _, b := range in.Benchmarks {
		key := normalizeID(b.EntityExternalID)
		set, ok := benchmarks[key]
		if !ok {
			set = &benchmarkSet{}
			benchmarks[key] = set
			order = append(order, key)
		}
		if b.IsTotal() {
			rec := b
			set.total = &rec
			continue
		}
		set.components = append(set.components, b)
	}

	results := make([]model.CalculationResult, len(in.Results))
	copy(results, in.Results)
	externalID := func(r model.CalculationResult) string {
		if ent, ok := in.Entities[r.EntityID]; ok && ent.ExternalID != "" {
			return ent.ExternalID
		}
		return r.EntityID
	}
	sort.Slice(results, func(i, j int) bool { return externalID(results[i]) < externalID(results[j]) })

	seen := make(map[string]bool)
	for _, r := range results {
		ext := externalID(r)
		key := normalizeID(ext)
		seen[key] = true
		set, ok := benchmarks[key]
		if !ok {
			total := r.TotalPayout
			report.add(Comparison{
				EntityID:   r.EntityID,
				ExternalID: ext,
				Calculated: &total,
				Class:      ClassMissingInBenchmark,
				Confidence: 1,
			})
			continue
		}
		a.reconcileEntity(report, r, ext, set, surface)
	}

	for _, key := range order {
		if seen[key] {
			continue
		}
		set := benchmarks[key]
		records := set.components
		if set.total != nil {
			records = append([]model.BenchmarkRecord{*set.total}, records...)
		}
		for _, b := range records {
			amount := b.Amount
			c := Comparison{
				ExternalID: b.EntityExternalID,
				Benchmark:  &amount,
				Class:      ClassMissingInCalculation,
				Confidence: 1,
			}
			if !b.IsTotal() {
				c.Component = strings.TrimSpace(b.Component)
			}
			report.add(c)
		}
	}

	a.writeCorrections(ctx, report, in)
	report.finish()

	slog.Info("Reconciliation complete",
		"tenant_id", in.TenantID,
		"batch_id", in.BatchID,
		"comparisons", len(report.Comparisons),
		"concordance", report.Concordance,
		"corrections", report.CorrectionsWritten)
	return report
}

func (a *Agent) reconcileEntity(report *Report, r model.CalculationResult, ext string, set *benchmarkSet, surface *synaptic.Surface) {
	var (
		componentComparisons []Comparison
		offsetting           = map[int]bool{}
		benchmarked          = map[string]bool{}
	)
	for _, b := range set.components {
		payout, trace, ok := findComponent(r, b.Component)
		if !ok {
			amount := b.Amount
			componentComparisons = append(componentComparisons, Comparison{
				EntityID:   r.EntityID,
				ExternalID: ext,
				Component:  strings.TrimSpace(b.Component),
				Benchmark:  &amount,
				Class:      ClassMissingInCalculation,
				Confidence: 1,
			})
			if !amount.IsZero() {
				offsetting[-amount.Sign()] = true
			}
			continue
		}
		benchmarked[payout.ComponentID] = true
		c := a.compare(r.EntityID, ext, payout.ComponentID, payout.Payout, b.Amount)
		c.Confidence = trace.Confidence
		if c.Class == ClassDiscrepancy {
			offsetting[c.Delta.Sign()] = true
		}
		componentComparisons = append(componentComparisons, c)
	}
	// With per-component benchmarks supplied, a paying component that has
	// none is unbenchmarked rather than implicitly zero.
	if len(set.components) > 0 {
		for _, p := range r.Components {
			if benchmarked[p.ComponentID] || p.Payout.IsZero() {
				continue
			}
			calculated := p.Payout
			componentComparisons = append(componentComparisons, Comparison{
				EntityID:   r.EntityID,
				ExternalID: ext,
				Component:  p.ComponentID,
				Calculated: &calculated,
				Class:      ClassMissingInBenchmark,
				Confidence: 1,
			})
			offsetting[calculated.Sign()] = true
		}
	}

	benchmarkTotal, ok := totalBenchmark(set)
	if !ok {
		total := r.TotalPayout
		report.add(Comparison{EntityID: r.EntityID, ExternalID: ext, Calculated: &total, Class: ClassMissingInBenchmark, Confidence: 1})
		report.add(componentComparisons...)
		return
	}

	total := a.compare(r.EntityID, ext, "", r.TotalPayout, benchmarkTotal)
	total.Confidence = resultConfidence(r)
	if total.Class == ClassMatch || total.Class == ClassRounding {
		switch {
		case offsetting[1] && offsetting[-1]:
			total.Class = ClassFalseGreen
			for _, c := range componentComparisons {
				if line, ok := offsetEvidence(c); ok {
					total.Evidence = append(total.Evidence, line)
				}
			}
		case len(set.components) == 0:
			if evidence := a.suspectComponents(r, surface); len(evidence) > 0 {
				total.Class = ClassFalseGreenRisk
				total.Evidence = evidence
			}
		}
	}

	report.add(total)
	report.add(componentComparisons...)
}

// offsetEvidence describes a component comparison that contributes to a
// false green total.
func offsetEvidence(c Comparison) (string, bool) {
	switch c.Class {
	case ClassDiscrepancy:
		return fmt.Sprintf("component %s off by %s", c.Component, c.Delta.RoundCents()), true
	case ClassMissingInCalculation:
		if c.Benchmark.IsZero() {
			return "", false
		}
		return fmt.Sprintf("component %s missing from calculation (benchmark %s)", c.Component, c.Benchmark.RoundCents()), true
	case ClassMissingInBenchmark:
		return fmt.Sprintf("component %s has no benchmark (calculated %s)", c.Component, c.Calculated.RoundCents()), true
	}
	return "", false
}

// suspectComponents lists paying components with repeated corrections.
func (a *Agent) suspectComponents(r model.CalculationResult, surface *synaptic.Surface) []string {
	var evidence []string
	for _, c := range r.Components {
		if c.Payout.IsZero() {
			continue
		}
		cohort := synaptic.ComponentCohort(c.ComponentID)
		if surface.RepeatedCorrections("", cohort, a.repeatedMin) {
			evidence = append(evidence, surface.Evidence(cohort)...)
		}
	}
	return evidence
}

func (a *Agent) compare(entityID, ext, component string, calculated, benchmark money.Decimal) Comparison {
	delta := calculated.Sub(benchmark)
	c := Comparison{
		EntityID:   entityID,
		ExternalID: ext,
		Component:  component,
		Calculated: &calculated,
		Benchmark:  &benchmark,
		Delta:      &delta,
		Confidence: 1,
	}
	abs := delta.Abs()
	switch {
	case abs.Cmp(money.FromFloat(a.settings.MatchEpsilon)) <= 0:
		c.Class = ClassMatch
	case abs.Cmp(money.FromFloat(a.settings.RoundingTolerance)) <= 0:
		c.Class = ClassRounding
	default:
		c.Class = ClassDiscrepancy
	}
	return c
}

// writeCorrections records a correction synapse for every confident
// discrepancy. Failures are logged and leave SynapseID empty.
func (a *Agent) writeCorrections(ctx context.Context, report *Report, in Input) {
	if a.writer == nil {
		return
	}
	falseGreen := make(map[string]bool)
	for _, c := range report.Comparisons {
		if c.IsTotal() && c.Class == ClassFalseGreen {
			falseGreen[normalizeID(c.ExternalID)] = true
		}
	}
	hasComponents := make(map[string]bool)
	for _, c := range report.Comparisons {
		if !c.IsTotal() {
			hasComponents[normalizeID(c.ExternalID)] = true
		}
	}

	for i := range report.Comparisons {
		c := &report.Comparisons[i]
		if c.Class != ClassDiscrepancy || c.Confidence < a.settings.CorrectionMinConfidence {
			continue
		}
		if c.IsTotal() && hasComponents[normalizeID(c.ExternalID)] {
			continue
		}
		kind := string(ClassDiscrepancy)
		if falseGreen[normalizeID(c.ExternalID)] {
			kind = string(ClassFalseGreen)
		}
		signal := correctionSignal(in, *c, kind)
		written, err := a.writer.WriteSynapse(ctx, signal)
		if err != nil {
			slog.Warn("Failed to write correction synapse",
				"tenant_id", in.TenantID,
				"batch_id", in.BatchID,
				"entity_id", c.EntityID,
				"component", c.Component,
				"error", err)
			continue
		}
		c.SynapseID = written.ID
		report.CorrectionsWritten++
	}
}

func correctionSignal(in Input, c Comparison, kind string) model.Signal {
	correction := c.Benchmark.Sub(*c.Calculated)
	signal := model.Signal{
		TenantID:   in.TenantID,
		Type:       model.SignalCorrection,
		Domain:     SignalDomain,
		Confidence: c.Confidence,
		Payload: map[string]any{
			synaptic.PayloadKind:  kind,
			synaptic.PayloadDelta: correction.RoundCents().Float64(),
			"batch_id":            in.BatchID,
			"entity_id":           c.EntityID,
			"calculated":          c.Calculated.String(),
			"benchmark":           c.Benchmark.String(),
		},
	}
	if c.IsTotal() {
		signal.CohortKind = model.CohortEntity
		signal.CohortKey = c.EntityID
		return signal
	}
	signal.CohortKind = model.CohortComponent
	signal.CohortKey = c.Component
	for _, r := range in.Results {
		if r.EntityID != c.EntityID {
			continue
		}
		if trace, ok := r.Trace(c.Component); ok && len(trace.Inputs) > 0 {
			signal.Payload[synaptic.PayloadMetric] = trace.Inputs[0].Metric
		}
	}
	return signal
}

func (r *Report) add(cs ...Comparison) {
	r.Comparisons = append(r.Comparisons, cs...)
}

// finish tallies classes and concordance. Only entity totals that were
// paired with a benchmark count toward concordance.
func (r *Report) finish() {
	for _, c := range r.Comparisons {
		r.Classes[c.Class]++
		if !c.IsTotal() {
			continue
		}
		switch c.Class {
		case ClassMatch, ClassRounding, ClassFalseGreenRisk:
			r.MatchCount++
		case ClassDiscrepancy, ClassFalseGreen:
			r.MismatchCount++
		}
	}
	if n := r.MatchCount + r.MismatchCount; n > 0 {
		r.Concordance = math.Round(float64(r.MatchCount)/float64(n)*1000) / 10
	}
}

func findComponent(r model.CalculationResult, name string) (model.ComponentPayout, model.ExecutionTrace, bool) {
	name = strings.TrimSpace(name)
	for _, c := range r.Components {
		if strings.EqualFold(c.ComponentID, name) || strings.EqualFold(c.ComponentName, name) {
			trace, ok := r.Trace(c.ComponentID)
			if !ok {
				trace = model.ExecutionTrace{Confidence: 1}
			}
			return c, trace, true
		}
	}
	return model.ComponentPayout{}, model.ExecutionTrace{}, false
}

// totalBenchmark is the explicit total, or the sum of component benchmarks.
func totalBenchmark(set *benchmarkSet) (money.Decimal, bool) {
	if set.total != nil {
		return set.total.Amount, true
	}
	if len(set.components) == 0 {
		return money.Zero, false
	}
	amounts := make([]money.Decimal, len(set.components))
	for i, b := range set.components {
		amounts[i] = b.Amount
	}
	return money.Sum(amounts...), true
}

func resultConfidence(r model.CalculationResult) float64 {
	confidence := 1.0
	for _, t := range r.Metadata.IntentTraces {
		confidence = math.Min(confidence, t.Confidence)
	}
	return confidence
}
