package resolution

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CCAFRICA/spm-platform/internal/anomaly"
	"github.com/CCAFRICA/spm-platform/internal/calculation"
	"github.com/CCAFRICA/spm-platform/internal/config"
	"github.com/CCAFRICA/spm-platform/internal/model"
	"github.com/CCAFRICA/spm-platform/internal/money"
	"github.com/CCAFRICA/spm-platform/internal/service"
	"github.com/CCAFRICA/spm-platform/internal/synaptic"
	"github.com/CCAFRICA/spm-platform/internal/testutil"
)

func setupService(t *testing.T) (*testutil.TestDB, *Service, string) {
	t.Helper()
	db := testutil.SetupTestDBWithScenario(t, func(b *testutil.Builder) *testutil.Builder {
		return b.WithRuleSet(floorPlan()).
			WithEntity("1001", "Ana", "S1", nil).
			WithEntity("1002", "Ben", "S1", nil).
			WithRow("kpis", "1001", "S1", map[string]any{"store_attainment": 99.5, "attendance": 95, "insurance_revenue": 1000}).
			WithRow("kpis", "1002", "S1", map[string]any{"store_attainment": 110, "attendance": 97, "insurance_revenue": 400})
	})

	engine := calculation.NewEngine(db.Storage, nil, config.CalculationSettings{}, anomaly.DefaultOptions())
	run, err := engine.Run(context.Background(), calculation.Request{
		TenantID: testutil.TenantID, PeriodID: testutil.PeriodID, RuleSetID: "rs1",
	})
	require.NoError(t, err)
	require.True(t, run.Success, run.Error)

	loader := synaptic.NewLoader(db.Storage, config.SynapticSettings{})
	t.Cleanup(loader.Close)
	agent := NewAgent(synaptic.NewWriter(db.Storage, loader), config.Defaults().Resolution)
	return db, NewService(db.Storage, loader, agent), run.BatchID
}

func TestService_InvestigateDispute(t *testing.T) {
	ctx := context.Background()
	db, svc, batchID := setupService(t)

	d, err := svc.Open(ctx, DisputeRequest{
		TenantID:       testutil.TenantID,
		EntityID:       testutil.EntityID("1001"),
		BatchID:        batchID,
		Component:      "store",
		Description:    "attainment should have paid the 100% tier",
		AmountDisputed: money.MustNew("150"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.DisputeOpen, d.Status)
	assert.Equal(t, "payout", d.Category)
	assert.Equal(t, testutil.PeriodID, d.PeriodID)

	out, err := svc.InvestigateDispute(ctx, DisputeRequest{TenantID: testutil.TenantID, DisputeID: d.ID})
	require.NoError(t, err)
	require.True(t, out.Success, out.Error)

	inv := out.Investigation
	assert.Equal(t, RootLegitimate, inv.RootCause)
	assert.Equal(t, RecommendReject, inv.Recommendation)
	assert.Equal(t, synaptic.OutcomeEmpty, inv.PriorsOutcome)
	assert.True(t, inv.ResolutionSynapseWritten)
	require.Len(t, inv.Findings, 1)
	assert.Contains(t, inv.Findings[0].Boundary, "below the next band")

	t.Run("resolution stored on the dispute", func(t *testing.T) {
		stored, err := db.Storage.GetDispute(ctx, testutil.TenantID, d.ID)
		require.NoError(t, err)
		assert.Equal(t, model.DisputeRejected, stored.Status)

		var decoded Investigation
		require.NoError(t, json.Unmarshal(stored.Resolution, &decoded))
		assert.Equal(t, RootLegitimate, decoded.RootCause)
		assert.Equal(t, inv.Evidence, decoded.Evidence)
	})

	t.Run("resolution and training signals recorded", func(t *testing.T) {
		signals, err := db.Storage.ListSignals(ctx, service.SignalFilter{
			TenantID: testutil.TenantID,
			Types:    []model.SignalType{model.SignalResolution, model.SignalTraining},
		})
		require.NoError(t, err)
		assert.Len(t, signals, 2)
	})

	t.Run("closed dispute is not reopened", func(t *testing.T) {
		again, err := svc.InvestigateDispute(ctx, DisputeRequest{TenantID: testutil.TenantID, DisputeID: d.ID})
		require.NoError(t, err)
		assert.False(t, again.Success)
		assert.Contains(t, again.Error, "dispute already closed")
	})
}

func TestService_EscalatedDisputeReinvestigated(t *testing.T) {
	ctx := context.Background()
	_, svc, batchID := setupService(t)

	req := DisputeRequest{
		TenantID:  testutil.TenantID,
		EntityID:  testutil.EntityID("1002"),
		BatchID:   batchID,
		Component: "optical",
	}
	first, err := svc.InvestigateDispute(ctx, req)
	require.NoError(t, err)
	require.True(t, first.Success, first.Error)
	assert.NotEmpty(t, first.Dispute.ID, "dispute filed on the fly")
	assert.Equal(t, model.DisputeEscalated, first.Dispute.Status)
	assert.Equal(t, RootPlanInterpretation, first.Investigation.RootCause)

	req.DisputeID = first.Dispute.ID
	second, err := svc.InvestigateDispute(ctx, req)
	require.NoError(t, err)
	require.True(t, second.Success, second.Error)
	assert.Equal(t, model.DisputeEscalated, second.Dispute.Status)
}

func TestService_InputErrors(t *testing.T) {
	ctx := context.Background()
	_, svc, batchID := setupService(t)

	tests := []struct {
		name   string
		req    DisputeRequest
		errMsg string
	}{
		{"unknown dispute", DisputeRequest{TenantID: testutil.TenantID, DisputeID: "nope"}, "dispute not found"},
		{"unknown batch", DisputeRequest{TenantID: testutil.TenantID, EntityID: testutil.EntityID("1001"), BatchID: "nope"}, "calculation batch not found"},
		{"unknown entity", DisputeRequest{TenantID: testutil.TenantID, EntityID: "ent-ghost", BatchID: batchID}, "entity not found"},
		{"unknown tenant", DisputeRequest{TenantID: "ghost", EntityID: testutil.EntityID("1001"), BatchID: batchID}, "tenant not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := svc.InvestigateDispute(ctx, tt.req)
			require.NoError(t, err)
			assert.False(t, out.Success)
			assert.Contains(t, out.Error, tt.errMsg)
		})
	}
}
