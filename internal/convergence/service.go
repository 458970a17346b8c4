// Package convergence binds the metrics a compensation plan needs to fields
// found in a tenant's imported raw data and merges the resulting derivation
// rules into the plan.
package convergence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/google/uuid"

	"github.com/CCAFRICA/spm-platform/internal/ai"
	"github.com/CCAFRICA/spm-platform/internal/common"
	"github.com/CCAFRICA/spm-platform/internal/config"
	"github.com/CCAFRICA/spm-platform/internal/model"
	"github.com/CCAFRICA/spm-platform/internal/money"
	"github.com/CCAFRICA/spm-platform/internal/service"
	"github.com/CCAFRICA/spm-platform/internal/signals"
)

// SignalDomain tags the classification signals emitted by convergence.
const SignalDomain = "convergence"

// maxAICandidates bounds how many candidates are offered for AI review.
const maxAICandidates = 5

// MatchStatus is the outcome for one required metric.
type MatchStatus string

// Match statuses.
const (
	MatchApplied    MatchStatus = "matched"
	MatchAIAssisted MatchStatus = "ai_assisted"
	MatchUnresolved MatchStatus = "unresolved"
)

// MatchReport explains how one metric was bound, or why it was not.
type MatchReport struct {
	Metric       string          `json:"metric"`
	Status       MatchStatus     `json:"status"`
	Candidate    string          `json:"candidate,omitempty"`
	Operation    model.Operation `json:"operation,omitempty"`
	SignalID     string          `json:"signalId,omitempty"`
	Alternatives []string        `json:"alternatives,omitempty"`
	Score        float64         `json:"score"`
}

// Request scopes a convergence run. An empty PeriodID scans all periods.
type Request struct {
	TenantID  string
	RuleSetID string
	PeriodID  string
}

// Result is the outcome of converging one rule set. Input errors are
// reported through Success and Error.
type Result struct {
	RuleSetID   string                   `json:"ruleSetId"`
	Error       string                   `json:"error,omitempty"`
	Derivations []model.MetricDerivation `json:"derivations"`
	Bindings    []model.MetricDerivation `json:"bindings,omitempty"`
	Matches     []MatchReport            `json:"matchReport"`
	Merge       []MergeEvent             `json:"merge,omitempty"`
	Signals     []model.Signal           `json:"signals,omitempty"`
	Success     bool                     `json:"success"`
}

// Summary is the outcome of converging every active rule set of a tenant.
type Summary struct {
	Error                string    `json:"error,omitempty"`
	Reports              []*Result `json:"reports"`
	DerivationsGenerated int       `json:"derivationsGenerated"`
	RuleSetsProcessed    int       `json:"ruleSetsProcessed"`
	Success              bool      `json:"success"`
}

// Service runs metric convergence.
type Service struct {
	store    service.Storage
	ai       ai.Service
	emitter  signals.Emitter
	settings config.ConvergenceSettings
}

// NewService creates a convergence service. aiService may be nil, in which
// case only deterministic matches are applied; a nil emitter discards signals.
func NewService(store service.Storage, aiService ai.Service, emitter signals.Emitter, settings config.ConvergenceSettings) *Service {
	if emitter == nil {
		emitter = signals.Discard{}
	}
	return &Service{store: store, ai: aiService, emitter: emitter, settings: settings}
}

// Converge binds the required metrics of one rule set and persists the
// merged derivations. Only infrastructure failures are returned as errors.
func (s *Service) Converge(ctx context.Context, req Request) (*Result, error) {
	result, err := s.converge(ctx, req)
	if err != nil {
		if common.IsInputError(err) {
			return &Result{RuleSetID: req.RuleSetID, Error: err.Error()}, nil
		}
		return nil, err
	}
	return result, nil
}

// ConvergeAll converges every active rule set of the tenant.
func (s *Service) ConvergeAll(ctx context.Context, tenantID, periodID string) (*Summary, error) {
	if _, err := s.store.GetTenant(ctx, tenantID); err != nil {
		if errors.Is(err, common.ErrMissingTenant) {
			return &Summary{Error: err.Error()}, nil
		}
		return nil, err
	}

	ruleSets, err := s.store.ListActiveRuleSets(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list active rule sets: %w", err)
	}

	summary := &Summary{Success: true}
	for _, rs := range ruleSets {
		result, err := s.Converge(ctx, Request{TenantID: tenantID, RuleSetID: rs.ID, PeriodID: periodID})
		if err != nil {
			return nil, err
		}
		summary.Reports = append(summary.Reports, result)
		if !result.Success {
			summary.Success = false
			continue
		}
		summary.RuleSetsProcessed++
		summary.DerivationsGenerated += len(result.Derivations)
	}
	return summary, nil
}

func (s *Service) converge(ctx context.Context, req Request) (*Result, error) {
	if req.TenantID == "" || req.RuleSetID == "" {
		return nil, fmt.Errorf("%w: tenant and rule set are required", common.ErrInvalidPlan)
	}
	if _, err := s.store.GetTenant(ctx, req.TenantID); err != nil {
		return nil, err
	}
	rs, err := s.store.GetRuleSet(ctx, req.TenantID, req.RuleSetID)
	if err != nil {
		return nil, err
	}
	if req.PeriodID != "" {
		if _, err := s.store.GetPeriod(ctx, req.TenantID, req.PeriodID); err != nil {
			return nil, err
		}
	}

	inv, err := BuildInventory(ctx, s.store, req.TenantID, req.PeriodID, s.settings.PageSize)
	if err != nil {
		return nil, err
	}
	if inv.RowCount == 0 {
		return nil, fmt.Errorf("%w: tenant %s", common.ErrNoRawData, req.TenantID)
	}

	result := &Result{RuleSetID: rs.ID, Success: true}
	for _, metric := range rs.RequiredMetrics() {
		derivations, report := s.matchMetric(ctx, req.TenantID, metric, inv)
		signal := s.classificationSignal(req.TenantID, rs.ID, report)
		report.SignalID = signal.ID
		s.emitter.Emit(signal)

		result.Derivations = append(result.Derivations, derivations...)
		result.Matches = append(result.Matches, report)
		result.Signals = append(result.Signals, signal)
	}

	merged, events := MergeDerivations(rs.InputBindings.MetricDerivations, result.Derivations)
	result.Bindings = merged
	result.Merge = events
	if Changed(events) {
		bindings := model.InputBindings{MetricDerivations: merged}
		if err := s.store.UpdateRuleSetBindings(ctx, req.TenantID, rs.ID, bindings); err != nil {
			return nil, fmt.Errorf("update bindings: %w", err)
		}
	}

	slog.Info("Convergence complete",
		"tenant_id", req.TenantID,
		"rule_set_id", rs.ID,
		"metrics", len(result.Matches),
		"derivations", len(result.Derivations),
		"changed", Changed(events))
	return result, nil
}

// matchMetric picks derivations for one metric. Deterministic matches come
// first; AI review only runs when the best deterministic score is weak.
func (s *Service) matchMetric(ctx context.Context, tenantID, metric string, inv *Inventory) ([]model.MetricDerivation, MatchReport) {
	report := MatchReport{Metric: metric, Status: MatchUnresolved}
	ranked := Rank(metric, inv)
	for i, c := range ranked {
		if i == maxAICandidates {
			break
		}
		report.Alternatives = append(report.Alternatives, c.Profile.ID())
	}

	var (
		best        []model.MetricDerivation
		bestScore   float64
		bestSource  string
		bestOp      model.Operation
		candidateOK bool
	)
	if len(ranked) > 0 {
		top := ranked[0]
		bestScore = top.Score
		bestSource = top.Profile.ID()
		bestOp = operationFor(top.Profile)
		best = []model.MetricDerivation{deriveField(metric, top.Profile, top.Score)}
		candidateOK = true
	}

	if MetricSemantic(metric) == SemanticPercentage && (!candidateOK || ranked[0].Profile.Semantic != SemanticPercentage) {
		if pair, ok := findAttainment(metric, inv); ok && pair.Score() > bestScore {
			bestScore = pair.Score()
			bestSource = pair.Actual.Profile.ID() + " / " + pair.Goal.Profile.ID()
			bestOp = model.OpRatio
			best = deriveRatio(metric, pair)
			candidateOK = true
		}
	}

	report.Score = bestScore
	report.Candidate = bestSource

	if s.ai != nil && len(ranked) > 0 && bestScore < s.settings.AIReviewBelow {
		if picked, resp, ok := s.review(ctx, tenantID, metric, ranked); ok {
			d := deriveField(metric, picked.Profile, picked.Score)
			d.AIAssisted = true
			d.Confidence = resp.Confidence
			d.SignalID = resp.SignalID

			report.Status = MatchAIAssisted
			report.Candidate = picked.Profile.ID()
			report.Score = resp.Confidence
			report.Operation = d.Operation
			return []model.MetricDerivation{d}, report
		}
	}

	if !candidateOK || bestScore < s.settings.MinConfidence {
		return nil, report
	}
	report.Status = MatchApplied
	report.Operation = bestOp
	return best, report
}

// review asks the AI collaborator to choose among the top candidates.
func (s *Service) review(ctx context.Context, tenantID, metric string, ranked []ScoredField) (ScoredField, ai.Response, bool) {
	byID := make(map[string]ScoredField)
	req := ai.Request{
		TenantID: tenantID,
		Task:     ai.TaskFieldBinding,
		Subject:  metric,
		Context:  map[string]string{"semantic": string(MetricSemantic(metric))},
	}
	for i, c := range ranked {
		if i == maxAICandidates {
			break
		}
		id := c.Profile.ID()
		byID[id] = c
		req.Candidates = append(req.Candidates, ai.Candidate{
			ID:    id,
			Label: fmt.Sprintf("%s (%s)", c.Profile.Field, c.Profile.Semantic),
			Score: c.Score,
		})
	}

	resp, err := s.ai.Suggest(ctx, req)
	if err != nil {
		slog.Warn("AI field review failed, keeping deterministic match",
			"tenant_id", tenantID,
			"metric", metric,
			"error", err)
		return ScoredField{}, ai.Response{}, false
	}

	picked, ok := byID[resp.Result]
	if !ok || resp.Confidence < s.settings.MinConfidence {
		slog.Debug("AI field review not applied",
			"metric", metric,
			"result", resp.Result,
			"confidence", resp.Confidence)
		return ScoredField{}, resp, false
	}
	return picked, resp, true
}

func (s *Service) classificationSignal(tenantID, ruleSetID string, report MatchReport) model.Signal {
	return model.Signal{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		Type:       model.SignalClassification,
		Domain:     SignalDomain,
		CohortKind: model.CohortMetric,
		CohortKey:  report.Metric,
		Confidence: report.Score,
		Payload: map[string]any{
			"rule_set_id": ruleSetID,
			"candidate":   report.Candidate,
			"status":      string(report.Status),
			"operation":   string(report.Operation),
			"applied":     report.Status != MatchUnresolved,
		},
	}
}

// operationFor picks how a field aggregates into a metric.
func operationFor(p FieldProfile) model.Operation {
	switch p.Semantic {
	case SemanticPercentage:
		return model.OpAvg
	case SemanticBoolean:
		return model.OpMax
	}
	return model.OpSum
}

func sourcePattern(dataType string) string {
	return "^" + regexp.QuoteMeta(dataType) + "$"
}

func deriveField(metric string, p FieldProfile, score float64) model.MetricDerivation {
	return model.MetricDerivation{
		Metric:        metric,
		Operation:     operationFor(p),
		SourcePattern: sourcePattern(p.DataType),
		SourceField:   p.Field,
		MatchScore:    score,
	}
}

// deriveRatio emits [M raw actuals, M_goal, M ratio]. Merging turns the raw
// entry into M_actuals when the ratio takes over the name.
func deriveRatio(metric string, pair attainment) []model.MetricDerivation {
	scale := money.FromInt(100)
	goal := metric + model.GoalSuffix
	return []model.MetricDerivation{
		deriveField(metric, pair.Actual.Profile, pair.Actual.Score),
		deriveField(goal, pair.Goal.Profile, pair.Goal.Score),
		{
			Metric:            metric,
			Operation:         model.OpRatio,
			NumeratorMetric:   metric + model.ActualsSuffix,
			DenominatorMetric: goal,
			ScaleFactor:       &scale,
			MatchScore:        pair.Score(),
		},
	}
}
