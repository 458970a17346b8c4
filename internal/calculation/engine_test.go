package calculation

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CCAFRICA/spm-platform/internal/anomaly"
	"github.com/CCAFRICA/spm-platform/internal/config"
	"github.com/CCAFRICA/spm-platform/internal/model"
	"github.com/CCAFRICA/spm-platform/internal/money"
	"github.com/CCAFRICA/spm-platform/internal/testutil"
)

func retailPlan(policy model.GatePolicy) *model.RuleSet {
	rs := testutil.RetailPlan("rs1")
	rs.GatePolicy = policy
	rs.InputBindings = model.InputBindings{MetricDerivations: []model.MetricDerivation{
		derive("store_optical_sales", model.OpSum, "^stores$", "optical_sales"),
		derive("store_attainment", model.OpAvg, "^stores$", "attainment"),
	}}
	return rs
}

func retailScenario(rs *model.RuleSet) func(*testutil.Builder) *testutil.Builder {
	certified := map[string]string{"certified": "true"}
	return func(b *testutil.Builder) *testutil.Builder {
		return b.WithRuleSet(rs).
			WithEntity("1001", "Ana", "S1", certified).
			WithEntity("1002", "Ben", "S1", certified).
			WithEntity("1003", "Cy", "S2", map[string]string{"certified": "false"}).
			WithEntity("1004", "Dee", "S1", certified).
			WithRow("associates", "1001", "S1", map[string]any{"optical_attainment": 95, "insurance_revenue": 2000, "attendance": 95}).
			WithRow("associates", "1002", "S1", map[string]any{"optical_attainment": 95, "insurance_revenue": 2000, "attendance": 80}).
			WithRow("associates", "1003", "S2", map[string]any{"insurance_revenue": 20000, "attendance": 99}).
			WithRow("stores", "", "S1", map[string]any{"optical_sales": 85000, "attainment": 102}).
			WithRow("stores", "", "S2", map[string]any{"optical_sales": 10, "attainment": 50})
	}
}

type recordingEmitter struct {
	mu      sync.Mutex
	signals []model.Signal
}

func (r *recordingEmitter) Emit(s model.Signal) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, s)
	return true
}

func (r *recordingEmitter) ofType(typ model.SignalType) []model.Signal {
	var out []model.Signal
	for _, s := range r.signals {
		if s.Type == typ {
			out = append(out, s)
		}
	}
	return out
}

func newEngine(db *testutil.TestDB) *Engine {
	return NewEngine(db.Storage, nil, config.CalculationSettings{PageSize: 2}, anomaly.DefaultOptions())
}

func request() Request {
	return Request{TenantID: testutil.TenantID, PeriodID: testutil.PeriodID, RuleSetID: "rs1"}
}

func resultFor(t *testing.T, run *RunResult, externalID string) model.CalculationResult {
	t.Helper()
	for _, r := range run.Results {
		if r.EntityID == testutil.EntityID(externalID) {
			return r
		}
	}
	t.Fatalf("no result for %s", externalID)
	return model.CalculationResult{}
}

func TestEngine_Run(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDBWithScenario(t, retailScenario(retailPlan("")))

	var progress []int
	req := request()
	req.Progress = func(done, total int) {
		assert.Equal(t, 4, total)
		progress = append(progress, done)
	}

	run, err := newEngine(db).Run(ctx, req)
	require.NoError(t, err)
	require.True(t, run.Success, run.Error)
	assert.Equal(t, []int{1, 2, 3, 4}, progress)
	assert.Equal(t, 4, run.EntityCount)
	assert.True(t, run.TotalPayout.Equal(money.FromInt(1120)), run.TotalPayout.String())
	assert.NotEmpty(t, run.Log)

	t.Run("payouts", func(t *testing.T) {
		ana := resultFor(t, run, "1001")
		assert.Equal(t, "certified", ana.Metadata.Variant)
		assert.True(t, ana.TotalPayout.Equal(money.FromInt(470)))
		assert.Empty(t, ana.Metadata.Flags)

		cy := resultFor(t, run, "1003")
		assert.Equal(t, "standard", cy.Metadata.Variant)
		assert.True(t, cy.TotalPayout.Equal(money.FromInt(500)))
		trace, ok := cy.Trace("insurance")
		require.True(t, ok)
		assert.True(t, trace.HasModifier(model.ModifierCap))
	})

	t.Run("trace completeness", func(t *testing.T) {
		rs, err := db.Storage.GetRuleSet(ctx, testutil.TenantID, "rs1")
		require.NoError(t, err)
		for _, r := range run.Results {
			v, ok := rs.Variant(r.Metadata.Variant)
			require.True(t, ok)
			assert.Len(t, r.Metadata.IntentTraces, len(v.EnabledComponents()), r.EntityID)
			assert.Len(t, r.Components, len(v.EnabledComponents()))

			sum := money.Zero
			for _, c := range r.Components {
				sum = sum.Add(c.Payout)
				_, ok := r.Trace(c.ComponentID)
				assert.True(t, ok)
			}
			assert.True(t, sum.Equal(r.TotalPayout))
		}
	})

	t.Run("group level fallback is traced", func(t *testing.T) {
		trace, ok := resultFor(t, run, "1001").Trace("optical")
		require.True(t, ok)
		require.Len(t, trace.Inputs, 2)
		assert.Equal(t, model.PathDirect, trace.Inputs[0].Path)
		assert.Equal(t, model.PathAggregated, trace.Inputs[1].Path)
		assert.Contains(t, trace.Inputs[1].Source, "aggregated:S1")
		assert.Equal(t, 2, trace.Lookup.RowIndex)
		assert.Equal(t, 2, trace.Lookup.ColumnIndex)
	})

	t.Run("failed gate zeroes the variant", func(t *testing.T) {
		ben := resultFor(t, run, "1002")
		assert.True(t, ben.TotalPayout.IsZero())
		assert.True(t, ben.HasFlag(model.FlagGated))
		assert.Equal(t, "attendance", ben.Metadata.GatedBy)
		for _, trace := range ben.Metadata.IntentTraces {
			assert.True(t, trace.Outcome.IsZero(), trace.ComponentID)
			if trace.ComponentID != "attendance" {
				assert.True(t, trace.HasModifier(model.ModifierGatedBy), trace.ComponentID)
			}
		}
	})

	t.Run("unresolved metric still yields a flagged row", func(t *testing.T) {
		dee := resultFor(t, run, "1004")
		assert.True(t, dee.HasFlag(model.FlagMissingMetric))
		assert.ElementsMatch(t, []string{"optical_attainment", "insurance_revenue", "attendance"}, dee.Metadata.MissingMetrics)
		assert.True(t, dee.TotalPayout.Equal(money.FromInt(150)), "store tier still pays")
		assert.False(t, dee.HasFlag(model.FlagGated), "an unevaluated gate does not block")
	})

	t.Run("results and anomalies persisted", func(t *testing.T) {
		stored, err := db.Storage.ListResultsByBatch(ctx, testutil.TenantID, run.BatchID)
		require.NoError(t, err)
		assert.Len(t, stored, 4)

		batch, err := db.Storage.GetBatch(ctx, testutil.TenantID, run.BatchID)
		require.NoError(t, err)
		assert.True(t, batch.TotalPayout.Equal(run.TotalPayout))
		require.Contains(t, batch.Config, model.BatchConfigAnomalies)

		var report anomaly.Report
		require.NoError(t, json.Unmarshal(batch.Config[model.BatchConfigAnomalies], &report))
		zero, ok := report.Find(anomaly.KindZeroPayout)
		require.True(t, ok)
		assert.Equal(t, []string{testutil.EntityID("1002")}, zero.EntityIDs)
	})
}

func TestEngine_Idempotent(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDBWithScenario(t, retailScenario(retailPlan("")))
	engine := newEngine(db)

	first, err := engine.Run(ctx, request())
	require.NoError(t, err)
	second, err := engine.Run(ctx, request())
	require.NoError(t, err)

	assert.True(t, first.TotalPayout.Equal(second.TotalPayout))
	assert.Equal(t, first.EntityCount, second.EntityCount)
	assert.NotEqual(t, first.BatchID, second.BatchID)

	current, err := db.Storage.ListResultsByBatch(ctx, testutil.TenantID, second.BatchID)
	require.NoError(t, err)
	assert.Len(t, current, first.EntityCount)

	old, err := db.Storage.ListResultsByBatch(ctx, testutil.TenantID, first.BatchID)
	require.NoError(t, err)
	assert.Empty(t, old, "prior rows are replaced, not appended")

	oldBatch, err := db.Storage.GetBatch(ctx, testutil.TenantID, first.BatchID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchSuperseded, oldBatch.Status)
}

func TestEngine_ComponentOnlyGate(t *testing.T) {
	db := testutil.SetupTestDBWithScenario(t, retailScenario(retailPlan(model.GateComponentOnly)))

	run, err := newEngine(db).Run(context.Background(), request())
	require.NoError(t, err)

	ben := resultFor(t, run, "1002")
	assert.True(t, ben.TotalPayout.Equal(money.FromInt(470)))
	assert.False(t, ben.HasFlag(model.FlagGated))
	trace, ok := ben.Trace("attendance")
	require.True(t, ok)
	assert.True(t, trace.HasModifier(model.ModifierGateFailed))
}

func TestEngine_LowConfidenceFlag(t *testing.T) {
	rs := retailPlan("")
	rs.InputBindings.MetricDerivations[1].AIAssisted = true
	rs.InputBindings.MetricDerivations[1].Confidence = 0.7
	db := testutil.SetupTestDBWithScenario(t, retailScenario(rs))

	run, err := newEngine(db).Run(context.Background(), request())
	require.NoError(t, err)

	ana := resultFor(t, run, "1001")
	assert.True(t, ana.HasFlag(model.FlagLowConfidence))
	trace, ok := ana.Trace("store")
	require.True(t, ok)
	assert.Equal(t, 0.7, trace.Confidence)
	optical, _ := ana.Trace("optical")
	assert.Equal(t, 1.0, optical.Confidence)
}

func TestEngine_EmitsMemorySignals(t *testing.T) {
	db := testutil.SetupTestDBWithScenario(t, retailScenario(retailPlan("")))
	emitter := &recordingEmitter{}
	engine := NewEngine(db.Storage, emitter, config.CalculationSettings{}, anomaly.DefaultOptions())

	run, err := engine.Run(context.Background(), request())
	require.NoError(t, err)
	require.True(t, run.Success)

	quality := emitter.ofType(model.SignalDataQuality)
	assert.Len(t, quality, 3, "one per metric Dee could not resolve")
	for _, s := range quality {
		assert.Equal(t, model.CohortMetric, s.CohortKind)
		assert.Equal(t, testutil.EntityID("1004"), s.PayloadString("entity_id"))
	}

	anomalies := emitter.ofType(model.SignalAnomaly)
	require.NotEmpty(t, anomalies)
	assert.Equal(t, testutil.EntityID("1002"), anomalies[len(anomalies)-1].CohortKey)
	assert.Equal(t, string(anomaly.KindZeroPayout), anomalies[len(anomalies)-1].PayloadString("kind"))
}

func TestEngine_InputErrors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		setup  func(t *testing.T, db *testutil.TestDB) Request
		errMsg string
	}{
		{
			name:   "missing period",
			setup:  func(*testing.T, *testutil.TestDB) Request { r := request(); r.PeriodID = "nope"; return r },
			errMsg: "period not found",
		},
		{
			name:   "missing rule set",
			setup:  func(*testing.T, *testutil.TestDB) Request { r := request(); r.RuleSetID = "nope"; return r },
			errMsg: "rule set not found",
		},
		{
			name:   "missing tenant",
			setup:  func(*testing.T, *testutil.TestDB) Request { r := request(); r.TenantID = "ghost"; return r },
			errMsg: "tenant not found",
		},
		{
			name: "no raw data for period",
			setup: func(t *testing.T, db *testutil.TestDB) Request {
				require.NoError(t, db.Storage.SavePeriod(ctx, &model.Period{
					ID: "p2", TenantID: testutil.TenantID, Key: "2024-02",
					StartDate: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
					EndDate:   time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
				}))
				r := request()
				r.PeriodID = "p2"
				return r
			},
			errMsg: "no raw data",
		},
		{
			name: "no population",
			setup: func(t *testing.T, db *testutil.TestDB) Request {
				require.NoError(t, db.Storage.SaveRuleSet(ctx, &model.RuleSet{
					ID: "empty", TenantID: testutil.TenantID, Name: "Empty", Status: model.RuleSetActive,
					Variants: []model.Variant{{Key: "default", Components: []model.Component{testutil.Percentage("c", "x", "1")}}},
				}))
				r := request()
				r.RuleSetID = "empty"
				return r
			},
			errMsg: "no eligible entities",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testutil.SetupTestDBWithScenario(t, retailScenario(retailPlan("")))
			run, err := newEngine(db).Run(ctx, tt.setup(t, db))
			require.NoError(t, err)
			assert.False(t, run.Success)
			assert.Contains(t, run.Error, tt.errMsg)
			assert.Empty(t, run.BatchID)
			assert.Empty(t, run.Results)
		})
	}
}
