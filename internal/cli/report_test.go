package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CCAFRICA/spm-platform/internal/anomaly"
	"github.com/CCAFRICA/spm-platform/internal/calculation"
	"github.com/CCAFRICA/spm-platform/internal/convergence"
	"github.com/CCAFRICA/spm-platform/internal/model"
	"github.com/CCAFRICA/spm-platform/internal/money"
	"github.com/CCAFRICA/spm-platform/internal/reconciliation"
	"github.com/CCAFRICA/spm-platform/internal/resolution"
)

func dec(s string) *money.Decimal {
	d := money.MustNew(s)
	return &d
}

func TestRenderRun(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var buf bytes.Buffer
		run := &calculation.RunResult{
			Success:     true,
			BatchID:     "batch-1",
			EntityCount: 2,
			TotalPayout: money.MustNew("620.00"),
			Results: []model.CalculationResult{
				{EntityID: "ent-1001", TotalPayout: money.MustNew("470.00"), Metadata: model.ResultMetadata{Variant: "certified"}},
				{EntityID: "ent-1004", TotalPayout: money.MustNew("150.00"), Metadata: model.ResultMetadata{Variant: "certified", Flags: []string{"missing_metric"}}},
			},
			Log: []string{"evaluated 2 entities"},
		}
		require.NoError(t, RenderRun(&buf, run))

		out := buf.String()
		assert.Contains(t, out, "Calculation batch batch-1")
		assert.Contains(t, out, "620.00")
		assert.Contains(t, out, "ent-1004")
		assert.Contains(t, out, "missing_metric")
		assert.Contains(t, out, "evaluated 2 entities")
	})

	t.Run("failure", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, RenderRun(&buf, &calculation.RunResult{Error: "period not found"}))
		assert.Contains(t, buf.String(), "Calculation failed: period not found")
	})
}

func TestRenderAnomalies(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderAnomalies(&buf, anomaly.Report{}))
	assert.Contains(t, buf.String(), "No anomalies detected")

	buf.Reset()
	report := anomaly.Report{
		Stats: anomaly.Stats{Count: 4, Mean: 280},
		Anomalies: []anomaly.Anomaly{{
			Kind: anomaly.KindZeroPayout, Severity: anomaly.SeverityMedium,
			Description: "1 entity paid zero", EntityIDs: []string{"ent-1002"},
		}},
	}
	require.NoError(t, RenderAnomalies(&buf, report))
	out := buf.String()
	assert.Contains(t, out, ChartIcon+" Payout anomalies")
	assert.Contains(t, out, "mean 280.00")
	assert.Contains(t, out, "zero_payout")
	assert.Contains(t, out, "1 entity paid zero")
}

func TestRenderConvergence(t *testing.T) {
	var buf bytes.Buffer
	result := &convergence.Result{
		Success:   true,
		RuleSetID: "rs1",
		Matches: []convergence.MatchReport{
			{Metric: "store_attainment", Status: convergence.MatchApplied, Candidate: "stores.attainment", Operation: model.OpAvg, Score: 0.92},
			{Metric: "attendance", Status: convergence.MatchUnresolved},
		},
	}
	require.NoError(t, RenderConvergence(&buf, result))

	out := buf.String()
	assert.Contains(t, out, "Convergence for rs1")
	assert.Contains(t, out, "stores.attainment")
	assert.Contains(t, out, "0.92")
	assert.Contains(t, out, "unresolved")
}

func TestRenderReconciliation(t *testing.T) {
	var buf bytes.Buffer
	report := &reconciliation.Report{
		Success:     true,
		BatchID:     "batch-1",
		Concordance: 66.7,
		MatchCount:  2,
		Classes:     map[reconciliation.Class]int{reconciliation.ClassMatch: 2, reconciliation.ClassDiscrepancy: 1},
		Comparisons: []reconciliation.Comparison{
			{ExternalID: "1001", Class: reconciliation.ClassMatch, Calculated: dec("100"), Benchmark: dec("100"), Delta: dec("0")},
			{ExternalID: "1002", Component: "commission", Class: reconciliation.ClassDiscrepancy, Calculated: dec("200"), Benchmark: dec("250"), Delta: dec("-50")},
			{ExternalID: "1009", Class: reconciliation.ClassMissingInCalculation, Benchmark: dec("75")},
		},
	}
	require.NoError(t, RenderReconciliation(&buf, report))

	out := buf.String()
	assert.Contains(t, out, "66.7%")
	assert.Contains(t, out, "discrepancy=1  match=2")
	assert.Contains(t, out, "-50")
	assert.Contains(t, out, "missing_in_calculation")
	assert.NotContains(t, out, "1001", "matches are summarized, not listed")
}

func TestRenderReconciliation_Summaries(t *testing.T) {
	tests := []struct {
		name   string
		report *reconciliation.Report
		want   []string
		absent string
	}{
		{
			name: "all matching",
			report: &reconciliation.Report{
				Success: true, BatchID: "batch-1", Concordance: 100, MatchCount: 1,
				Classes: map[reconciliation.Class]int{reconciliation.ClassMatch: 1},
				Comparisons: []reconciliation.Comparison{
					{ExternalID: "1001", Class: reconciliation.ClassMatch, Calculated: dec("100"), Benchmark: dec("100"), Delta: dec("0")},
				},
			},
			want:   []string{"Every comparison matches"},
			absent: "Component",
		},
		{
			name: "false green evidence",
			report: &reconciliation.Report{
				Success: true, BatchID: "batch-2", MismatchCount: 1,
				Classes: map[reconciliation.Class]int{reconciliation.ClassFalseGreen: 1, reconciliation.ClassMissingInCalculation: 1},
				Comparisons: []reconciliation.Comparison{
					{ExternalID: "1001", Class: reconciliation.ClassFalseGreen, Calculated: dec("150"), Benchmark: dec("150"), Delta: dec("0"),
						Evidence: []string{"component insurance missing from calculation (benchmark 50.00)"}},
					{ExternalID: "1001", Component: "insurance", Class: reconciliation.ClassMissingInCalculation, Benchmark: dec("50")},
				},
			},
			want:   []string{"false_green", "Evidence", "1001: component insurance missing from calculation (benchmark 50.00)"},
			absent: "Every comparison matches",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, RenderReconciliation(&buf, tt.report))
			out := buf.String()
			for _, w := range tt.want {
				assert.Contains(t, out, w)
			}
			assert.NotContains(t, out, tt.absent)
		})
	}
}

func TestRenderInvestigation(t *testing.T) {
	var buf bytes.Buffer
	out := &resolution.Outcome{
		Success: true,
		Dispute: &model.Dispute{ID: "d1", Status: model.DisputeResolved},
		Investigation: &resolution.Investigation{
			DisputeID:      "d1",
			EntityID:       "ent-1001",
			Component:      "store",
			RootCause:      resolution.RootCalculationError,
			Recommendation: resolution.RecommendAdjust,
			Confidence:     0.8,
			Adjustment:     dec("25.00"),
			Evidence:       []string{"adjustment from mean historical correction 25"},
		},
	}
	require.NoError(t, RenderInvestigation(&buf, out))

	text := buf.String()
	assert.Contains(t, text, "calculation_error")
	assert.Contains(t, text, "resolved")
	assert.Contains(t, text, "25.00")
	assert.Contains(t, text, "mean historical correction")
}
