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

func TestDispute_Lifecycle(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	seedScope(t, store)

	d := &model.Dispute{
		ID: "d1", TenantID: "t1", EntityID: "e1", PeriodID: "p1", BatchID: "b1",
		Component: "Commission", Category: "calculation", Description: "short paid",
		AmountDisputed: money.MustNew("125.00"),
	}
	require.NoError(t, store.CreateDispute(ctx, d))
	assert.Equal(t, model.DisputeOpen, d.Status)

	d.Status = model.DisputeResolved
	assert.ErrorIs(t, store.UpdateDispute(ctx, d), ErrInvalidTransition)

	d.Status = model.DisputeInvestigating
	require.NoError(t, store.UpdateDispute(ctx, d))

	d.Status = model.DisputeResolved
	d.Resolution = json.RawMessage(`{"rootCause":"data_quality"}`)
	require.NoError(t, store.UpdateDispute(ctx, d))

	got, err := store.GetDispute(ctx, "t1", "d1")
	require.NoError(t, err)
	assert.Equal(t, model.DisputeResolved, got.Status)
	assert.Equal(t, "125.00", got.AmountDisputed.String())
	assert.JSONEq(t, `{"rootCause":"data_quality"}`, string(got.Resolution))

	got.Status = model.DisputeInvestigating
	assert.ErrorIs(t, store.UpdateDispute(ctx, got), ErrInvalidTransition)
}

func TestDispute_Validation(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	tests := []struct {
		dispute *model.Dispute
		want    error
		name    string
	}{
		{name: "nil", dispute: nil, want: ErrNilParameter},
		{name: "missing batch", dispute: &model.Dispute{ID: "d", TenantID: "t1", EntityID: "e"}, want: ErrInvalidDispute},
		{name: "not open", dispute: &model.Dispute{ID: "d", TenantID: "t1", EntityID: "e", BatchID: "b", Status: model.DisputeEscalated}, want: ErrInvalidTransition},
		{name: "unknown status", dispute: &model.Dispute{ID: "d", TenantID: "t1", EntityID: "e", BatchID: "b", Status: "pending"}, want: ErrInvalidStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, store.CreateDispute(ctx, tt.dispute), tt.want)
		})
	}

	_, err := store.GetDispute(ctx, "t1", "missing")
	assert.ErrorIs(t, err, common.ErrMissingDispute)
}
