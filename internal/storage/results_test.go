package storage

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CCAFRICA/spm-platform/internal/common"
	"github.com/CCAFRICA/spm-platform/internal/model"
	"github.com/CCAFRICA/spm-platform/internal/money"
)

func resultFor(entity, payout string) model.CalculationResult {
	amount := money.MustNew(payout)
	return model.CalculationResult{
		TenantID:  "t1",
		EntityID:  entity,
		PeriodID:  "p1",
		RuleSetID: "rs1",
		Components: []model.ComponentPayout{{
			ComponentID: "commission", ComponentName: "Commission", Kind: model.KindPercentage,
			TraceID: entity + ":commission", Payout: amount,
		}},
		TotalPayout: amount,
		Metadata: model.ResultMetadata{
			Variant: "default",
			IntentTraces: []model.ExecutionTrace{{
				TraceID: entity + ":commission", ComponentID: "commission", Kind: model.KindPercentage,
				EntityID: entity, Outcome: amount, ComputedOutcome: amount, Confidence: 1,
			}},
		},
	}
}

func TestReplaceResults_OverwritesScope(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	seedScope(t, store)

	first := &model.CalculationBatch{ID: "b1", TenantID: "t1", PeriodID: "p1", RuleSetID: "rs1",
		EntityCount: 2, TotalPayout: money.MustNew("300.50")}
	require.NoError(t, store.ReplaceResults(ctx, first, []model.CalculationResult{
		resultFor("e1", "100.25"), resultFor("e2", "200.25"),
	}))

	second := &model.CalculationBatch{ID: "b2", TenantID: "t1", PeriodID: "p1", RuleSetID: "rs1",
		EntityCount: 2, TotalPayout: money.MustNew("300.50")}
	require.NoError(t, store.ReplaceResults(ctx, second, []model.CalculationResult{
		resultFor("e1", "100.25"), resultFor("e2", "200.25"),
	}))

	var count int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM calculation_results WHERE tenant_id = 't1'`).Scan(&count))
	assert.Equal(t, 2, count)

	old, err := store.GetBatch(ctx, "t1", "b1")
	require.NoError(t, err)
	assert.Equal(t, model.BatchSuperseded, old.Status)

	current, err := store.GetBatch(ctx, "t1", "b2")
	require.NoError(t, err)
	assert.Equal(t, model.BatchCompleted, current.Status)
	assert.Equal(t, "300.50", current.TotalPayout.String())

	results, err := store.ListResultsByBatch(ctx, "t1", "b2")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "e1", results[0].EntityID)
	assert.Equal(t, "100.25", results[0].TotalPayout.String())
	require.Len(t, results[0].Metadata.IntentTraces, 1)

	stale, err := store.ListResultsByBatch(ctx, "t1", "b1")
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestReplaceResults_RejectsMixedScope(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	seedScope(t, store)

	batch := &model.CalculationBatch{ID: "b1", TenantID: "t1", PeriodID: "p1", RuleSetID: "rs1"}
	foreign := resultFor("e1", "1")
	foreign.PeriodID = "p2"
	err := store.ReplaceResults(context.Background(), batch, []model.CalculationResult{foreign})
	assert.ErrorIs(t, err, ErrInvalidResult)

	dup := []model.CalculationResult{resultFor("e1", "1"), resultFor("e1", "2")}
	assert.ErrorIs(t, store.ReplaceResults(context.Background(), batch, dup), ErrInvalidResult)

	_, err = store.GetBatch(context.Background(), "t1", "b1")
	assert.ErrorIs(t, err, common.ErrMissingBatch)
}

func TestGetResult(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	seedScope(t, store)

	batch := &model.CalculationBatch{ID: "b1", TenantID: "t1", PeriodID: "p1", RuleSetID: "rs1"}
	require.NoError(t, store.ReplaceResults(ctx, batch, []model.CalculationResult{resultFor("e1", "42")}))

	r, err := store.GetResult(ctx, "t1", "b1", "e1")
	require.NoError(t, err)
	trace, ok := r.Trace("commission")
	require.True(t, ok)
	assert.Equal(t, "e1", trace.EntityID)

	_, err = store.GetResult(ctx, "t1", "b1", "e9")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestUpdateBatchConfig(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	seedScope(t, store)

	batch := &model.CalculationBatch{ID: "b1", TenantID: "t1", PeriodID: "p1", RuleSetID: "rs1"}
	require.NoError(t, store.ReplaceResults(ctx, batch, []model.CalculationResult{resultFor("e1", "42")}))

	require.NoError(t, store.UpdateBatchConfig(ctx, "t1", "b1", model.BatchConfigAnomalies, json.RawMessage(`{"count":0}`)))
	require.NoError(t, store.UpdateBatchConfig(ctx, "t1", "b1", model.BatchConfigReconciliation, json.RawMessage(`{"concordance":100}`)))

	got, err := store.GetBatch(ctx, "t1", "b1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":0}`, string(got.Config[model.BatchConfigAnomalies]))
	assert.JSONEq(t, `{"concordance":100}`, string(got.Config[model.BatchConfigReconciliation]))

	r, err := store.GetResult(ctx, "t1", "b1", "e1")
	require.NoError(t, err)
	assert.Equal(t, "42", r.TotalPayout.String())

	err = store.UpdateBatchConfig(ctx, "t1", "nope", "x", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, common.ErrMissingBatch)
}
