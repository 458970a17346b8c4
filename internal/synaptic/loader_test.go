package synaptic

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CCAFRICA/spm-platform/internal/config"
	"github.com/CCAFRICA/spm-platform/internal/model"
	"github.com/CCAFRICA/spm-platform/internal/service"
	"github.com/CCAFRICA/spm-platform/internal/testutil"
)

func newLoader(t *testing.T, store Store) *Loader {
	t.Helper()
	l := NewLoader(store, config.SynapticSettings{PageSize: 2})
	t.Cleanup(l.Close)
	return l
}

func seed(t *testing.T, store Store, n int) {
	t.Helper()
	t0 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		sig := correction("optical", "optical_attainment", "discrepancy", 10, t0.Add(time.Duration(i)*time.Minute))
		sig.TenantID = testutil.TenantID
		require.NoError(t, store.SaveSignal(context.Background(), &sig))
	}
}

func TestLoadPriorsForAgent(t *testing.T) {
	ctx := context.Background()

	t.Run("no history is empty", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		priors := newLoader(t, db.Storage).LoadPriorsForAgent(ctx, testutil.TenantID, "reconciliation", "reconciler")
		assert.Equal(t, OutcomeEmpty, priors.Outcome)
		assert.True(t, priors.Surface.IsEmpty())
		assert.Equal(t, "reconciliation", priors.Domain)
	})

	t.Run("recomputed then served from snapshot", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		seed(t, db.Storage, 5)

		first := newLoader(t, db.Storage).LoadPriorsForAgent(ctx, testutil.TenantID, "reconciliation", "reconciler")
		assert.Equal(t, OutcomeDegraded, first.Outcome)
		assert.Equal(t, 5, first.Surface.CorrectionCount(ComponentCohort("optical")), "every page is read")

		rec, err := db.Storage.GetSynapticDensity(ctx, testutil.TenantID)
		require.NoError(t, err)
		assert.Equal(t, 5, rec.SignalCount)

		second := newLoader(t, db.Storage).LoadPriorsForAgent(ctx, testutil.TenantID, "resolution", "investigator")
		assert.Equal(t, OutcomeOk, second.Outcome)
		assert.Equal(t, 5, second.Surface.CorrectionCount(ComponentCohort("optical")))
	})

	t.Run("corrupt snapshot falls through to recompute", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		seed(t, db.Storage, 1)
		require.NoError(t, db.Storage.SaveSynapticDensity(ctx, &service.DensityRecord{
			TenantID: testutil.TenantID, Density: []byte(`{not json`),
		}))

		priors := newLoader(t, db.Storage).LoadPriorsForAgent(ctx, testutil.TenantID, "reconciliation", "reconciler")
		assert.Equal(t, OutcomeDegraded, priors.Outcome)
		assert.Equal(t, 1, priors.Density.SignalCount)
	})

	t.Run("store failure yields empty priors", func(t *testing.T) {
		priors := newLoader(t, failingStore{}).LoadPriorsForAgent(ctx, testutil.TenantID, "resolution", "investigator")
		assert.Equal(t, OutcomeEmpty, priors.Outcome)
		require.NotNil(t, priors.Surface)
		assert.False(t, priors.Surface.RepeatedCorrections("", ComponentCohort("optical"), 1))
	})
}

func TestWriteSynapse(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	seed(t, db.Storage, 2)
	loader := newLoader(t, db.Storage)
	writer := NewWriter(db.Storage, loader)

	before := loader.LoadPriorsForAgent(ctx, testutil.TenantID, "reconciliation", "reconciler")
	require.Equal(t, 2, before.Surface.CorrectionCount(ComponentCohort("optical")))

	written, err := writer.WriteSynapse(ctx, model.Signal{
		TenantID:   testutil.TenantID,
		Type:       model.SignalCorrection,
		CohortKind: model.CohortComponent,
		CohortKey:  "optical",
		Confidence: 0.95,
		Payload:    map[string]any{PayloadKind: "discrepancy", PayloadDelta: 20.0},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, written.ID)
	assert.False(t, written.CreatedAt.IsZero())

	_, err = db.Storage.GetSynapticDensity(ctx, testutil.TenantID)
	assert.Error(t, err, "snapshot dropped on write")

	after := loader.LoadPriorsForAgent(ctx, testutil.TenantID, "reconciliation", "reconciler")
	assert.Equal(t, OutcomeDegraded, after.Outcome)
	assert.Equal(t, 3, after.Surface.CorrectionCount(ComponentCohort("optical")))

	_, err = writer.WriteSynapse(ctx, model.Signal{TenantID: testutil.TenantID})
	assert.Error(t, err, "a signal without a type is rejected")
}

type failingStore struct{}

var errStore = errors.New("store offline")

func (failingStore) SaveSignal(context.Context, *model.Signal) error { return errStore }
func (failingStore) ListSignals(context.Context, service.SignalFilter) ([]model.Signal, error) {
	return nil, errStore
}
func (failingStore) GetSynapticDensity(context.Context, string) (*service.DensityRecord, error) {
	return nil, errStore
}
func (failingStore) SaveSynapticDensity(context.Context, *service.DensityRecord) error { return errStore }
func (failingStore) DeleteSynapticDensity(context.Context, string) error             { return errStore }
