// Package calculation evaluates a compensation plan for every assigned
// entity in a period and posts the traced results as one batch.
package calculation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/CCAFRICA/spm-platform/internal/anomaly"
	"github.com/CCAFRICA/spm-platform/internal/common"
	"github.com/CCAFRICA/spm-platform/internal/config"
	"github.com/CCAFRICA/spm-platform/internal/model"
	"github.com/CCAFRICA/spm-platform/internal/money"
	"github.com/CCAFRICA/spm-platform/internal/service"
	"github.com/CCAFRICA/spm-platform/internal/signals"
)

// SignalDomain tags the signals emitted by calculation runs.
const SignalDomain = "calculation"

// ProgressFunc is called after each entity is evaluated.
type ProgressFunc func(done, total int)

// Request scopes one calculation run.
type Request struct {
	Progress  ProgressFunc
	TenantID  string
	PeriodID  string
	RuleSetID string
}

// RunResult is the structured outcome of a run. Input errors set
// Success=false and Error and write nothing.
type RunResult struct {
	Anomalies   *anomaly.Report           `json:"anomalies,omitempty"`
	BatchID     string                    `json:"batchId,omitempty"`
	Error       string                    `json:"error,omitempty"`
	Results     []model.CalculationResult `json:"results,omitempty"`
	Log         []string                  `json:"log"`
	TotalPayout money.Decimal             `json:"totalPayout"`
	EntityCount int                       `json:"entityCount"`
	Success     bool                      `json:"success"`
}

func (r *RunResult) logf(format string, args ...any) {
	r.Log = append(r.Log, fmt.Sprintf(format, args...))
}

// Engine runs calculations against a store.
type Engine struct {
	store    service.Storage
	emitter  signals.Emitter
	anomaly  anomaly.Options
	now      func() time.Time
	pageSize int
}

// NewEngine creates an engine. Anomalies and unresolved metrics are
// reported through emitter; nil discards them.
func NewEngine(store service.Storage, emitter signals.Emitter, settings config.CalculationSettings, anomalyOpts anomaly.Options) *Engine {
	pageSize := settings.PageSize
	if pageSize <= 0 {
		pageSize = config.Defaults().Calculation.PageSize
	}
	if emitter == nil {
		emitter = signals.Discard{}
	}
	return &Engine{store: store, emitter: emitter, anomaly: anomalyOpts, now: time.Now, pageSize: pageSize}
}

// Run calculates a period under a rule set and replaces any earlier results
// for the same scope. Re-running with unchanged inputs reproduces the same
// totals and row count. Only infrastructure failures return an error.
func (e *Engine) Run(ctx context.Context, req Request) (*RunResult, error) {
	out := &RunResult{TotalPayout: money.Zero}
	err := e.run(ctx, req, out)
	if err == nil {
		return out, nil
	}
	if common.IsInputError(err) {
		slog.Warn("Calculation rejected",
			"tenant_id", req.TenantID,
			"period_id", req.PeriodID,
			"rule_set_id", req.RuleSetID,
			"error", err)
		return &RunResult{TotalPayout: money.Zero, Error: err.Error(), Log: append(out.Log, "failed: "+err.Error())}, nil
	}
	return nil, err
}

func (e *Engine) run(ctx context.Context, req Request, out *RunResult) error {
	if req.TenantID == "" || req.PeriodID == "" || req.RuleSetID == "" {
		return fmt.Errorf("%w: tenant, period and rule set are required", common.ErrInvalidPlan)
	}
	if _, err := e.store.GetTenant(ctx, req.TenantID); err != nil {
		return err
	}
	period, err := e.store.GetPeriod(ctx, req.TenantID, req.PeriodID)
	if err != nil {
		return err
	}
	rs, err := e.store.GetRuleSet(ctx, req.TenantID, req.RuleSetID)
	if err != nil {
		return err
	}
	out.logf("rule set %s (%s) v%d, period %s", rs.ID, rs.Name, rs.Version, period.Key)

	population, assigned, err := e.population(ctx, req.TenantID, rs.ID)
	if err != nil {
		return err
	}
	out.logf("%d assigned entities", len(population))

	rows, err := e.loadRows(ctx, req.TenantID, period.ID)
	if err != nil {
		return err
	}
	out.logf("%d raw rows loaded in pages of %d", len(rows), e.pageSize)

	batchID := uuid.NewString()
	resolver := NewResolver(rows, rs.InputBindings)
	results := make([]model.CalculationResult, 0, len(population))
	total := money.Zero
	for i, m := range population {
		result := e.evaluateEntity(rs, m, resolver, batchID)
		result.TenantID = req.TenantID
		result.PeriodID = period.ID
		result.RuleSetID = rs.ID
		results = append(results, result)
		total = total.Add(result.TotalPayout)
		if req.Progress != nil {
			req.Progress(i+1, len(population))
		}
	}

	batch := &model.CalculationBatch{
		ID:          batchID,
		TenantID:    req.TenantID,
		PeriodID:    period.ID,
		RuleSetID:   rs.ID,
		Status:      model.BatchCompleted,
		TotalPayout: total,
		EntityCount: len(results),
		CreatedAt:   e.now(),
	}
	if err := e.store.ReplaceResults(ctx, batch, results); err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	out.logf("batch %s posted: %d results, total %s", batchID, len(results), total.RoundCents())

	report := e.detectAnomalies(ctx, batch, results, assigned)
	out.logf("%d anomalies detected", len(report.Anomalies))
	e.emitSignals(batch, results, report)

	out.Success = true
	out.BatchID = batchID
	out.TotalPayout = total
	out.EntityCount = len(results)
	out.Results = results
	out.Anomalies = &report

	slog.Info("Calculation complete",
		"tenant_id", req.TenantID,
		"period_id", period.ID,
		"rule_set_id", rs.ID,
		"batch_id", batchID,
		"entities", len(results),
		"total_payout", total.String())
	return nil
}

// member is one assigned entity.
type member struct {
	entity     model.Entity
	assignment model.Assignment
}

// population returns the plan's known assigned entities ordered by
// external id, plus every assigned entity id.
func (e *Engine) population(ctx context.Context, tenantID, ruleSetID string) ([]member, []string, error) {
	assignments, err := e.store.ListAssignments(ctx, tenantID, ruleSetID)
	if err != nil {
		return nil, nil, fmt.Errorf("list assignments: %w", err)
	}
	if len(assignments) == 0 {
		return nil, nil, fmt.Errorf("%w: %s", common.ErrNoPopulation, ruleSetID)
	}

	entities, err := e.store.ListEntities(ctx, tenantID)
	if err != nil {
		return nil, nil, fmt.Errorf("list entities: %w", err)
	}
	byID := make(map[string]model.Entity, len(entities))
	for _, ent := range entities {
		byID[ent.ID] = ent
	}

	members := make([]member, 0, len(assignments))
	assigned := make([]string, 0, len(assignments))
	for _, a := range assignments {
		assigned = append(assigned, a.EntityID)
		ent, ok := byID[a.EntityID]
		if !ok {
			slog.Warn("Assignment references unknown entity",
				"tenant_id", tenantID,
				"rule_set_id", ruleSetID,
				"entity_id", a.EntityID)
			continue
		}
		members = append(members, member{entity: ent, assignment: a})
	}
	if len(members) == 0 {
		return nil, nil, fmt.Errorf("%w: %s", common.ErrNoPopulation, ruleSetID)
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].entity.ExternalID < members[j].entity.ExternalID
	})
	return members, assigned, nil
}

// loadRows reads every raw row of the period page by page.
func (e *Engine) loadRows(ctx context.Context, tenantID, periodID string) ([]model.RawDataRow, error) {
	var rows []model.RawDataRow
	for offset := 0; ; offset += e.pageSize {
		page, err := e.store.ListRawData(ctx, service.RawDataFilter{
			TenantID: tenantID,
			PeriodID: periodID,
			Limit:    e.pageSize,
			Offset:   offset,
		})
		if err != nil {
			return nil, fmt.Errorf("load raw data: %w", err)
		}
		rows = append(rows, page...)
		if len(page) < e.pageSize {
			break
		}
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", common.ErrNoRawData, periodID)
	}
	return rows, nil
}

func (e *Engine) evaluateEntity(rs *model.RuleSet, m member, resolver *Resolver, batchID string) model.CalculationResult {
	variant, ok := SelectVariant(rs, m.entity, m.assignment)
	meta := model.ResultMetadata{Variant: variant.Key}
	if !ok {
		meta.Flags = append(meta.Flags, model.FlagNoVariant)
	}

	cache := make(map[string]model.ResolvedInput)
	resolve := func(metric string) model.ResolvedInput {
		if in, ok := cache[metric]; ok {
			return in
		}
		in := resolver.Resolve(m.entity, metric)
		cache[metric] = in
		return in
	}

	components := variant.EnabledComponents()
	traces := make([]model.ExecutionTrace, len(components))
	for i, c := range components {
		traces[i] = Evaluate(c, m.entity.ID, resolve)
		traces[i].TraceID = fmt.Sprintf("%s:%s:%s", batchID, m.entity.ID, c.ID)
	}

	if rs.EffectiveGatePolicy() == model.GateBlocksVariant {
		for _, gate := range traces {
			if !gateFailed(gate) {
				continue
			}
			meta.GatedBy = gate.ComponentID
			meta.Flags = append(meta.Flags, model.FlagGated)
			for i := range traces {
				if traces[i].ComponentID == gate.ComponentID {
					continue
				}
				traces[i].Modifiers = append(traces[i].Modifiers, model.Modifier{
					Kind:   model.ModifierGatedBy,
					Detail: gate.ComponentID,
					Before: traces[i].Outcome,
					After:  money.Zero,
				})
				traces[i].Outcome = money.Zero
			}
			break
		}
	}

	result := model.CalculationResult{EntityID: m.entity.ID, TotalPayout: money.Zero}
	seenMissing := make(map[string]bool)
	lowConfidence := false
	for _, t := range traces {
		result.Components = append(result.Components, model.ComponentPayout{
			ComponentID:   t.ComponentID,
			ComponentName: t.ComponentName,
			Kind:          t.Kind,
			TraceID:       t.TraceID,
			Payout:        t.Outcome,
		})
		result.TotalPayout = result.TotalPayout.Add(t.Outcome)
		for _, in := range t.Inputs {
			switch {
			case !in.Resolved && !seenMissing[in.Metric]:
				seenMissing[in.Metric] = true
				meta.MissingMetrics = append(meta.MissingMetrics, in.Metric)
			case in.Resolved && in.Confidence < 1:
				lowConfidence = true
			}
		}
	}
	if len(meta.MissingMetrics) > 0 {
		meta.Flags = append(meta.Flags, model.FlagMissingMetric)
	}
	if lowConfidence {
		meta.Flags = append(meta.Flags, model.FlagLowConfidence)
	}
	meta.IntentTraces = traces
	result.Metadata = meta
	return result
}

// detectAnomalies runs the detector and stores its summary on the batch.
// Persistence failures are logged and never fail the run.
func (e *Engine) detectAnomalies(ctx context.Context, batch *model.CalculationBatch, results []model.CalculationResult, assigned []string) anomaly.Report {
	records := make([]anomaly.Record, len(results))
	for i, r := range results {
		records[i] = anomaly.Record{EntityID: r.EntityID, TotalPayout: r.TotalPayout}
	}

	report := anomaly.Detect(records, assigned, e.anomaly)
	payload, err := json.Marshal(report)
	if err == nil {
		err = e.store.UpdateBatchConfig(ctx, batch.TenantID, batch.ID, model.BatchConfigAnomalies, payload)
	}
	if err != nil {
		slog.Warn("Failed to store anomaly summary",
			"tenant_id", batch.TenantID,
			"batch_id", batch.ID,
			"error", err)
	}
	return report
}

// emitSignals feeds agent memory: one anomaly signal per affected entity and
// one data-quality signal per unresolved metric.
func (e *Engine) emitSignals(batch *model.CalculationBatch, results []model.CalculationResult, report anomaly.Report) {
	for _, a := range report.Anomalies {
		for _, id := range a.EntityIDs {
			e.emitter.Emit(model.Signal{
				TenantID:   batch.TenantID,
				Type:       model.SignalAnomaly,
				Domain:     SignalDomain,
				CohortKind: model.CohortEntity,
				CohortKey:  id,
				Confidence: 1,
				Payload: map[string]any{
					"kind":     string(a.Kind),
					"severity": string(a.Severity),
					"batch_id": batch.ID,
				},
			})
		}
	}
	for _, r := range results {
		for _, metric := range r.Metadata.MissingMetrics {
			e.emitter.Emit(model.Signal{
				TenantID:   batch.TenantID,
				Type:       model.SignalDataQuality,
				Domain:     SignalDomain,
				CohortKind: model.CohortMetric,
				CohortKey:  metric,
				Confidence: 1,
				Payload: map[string]any{
					"kind":      model.FlagMissingMetric,
					"entity_id": r.EntityID,
					"batch_id":  batch.ID,
				},
			})
		}
	}
}
