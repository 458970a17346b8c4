package synaptic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CCAFRICA/spm-platform/internal/model"
)

func correction(component, metric, kind string, delta any, at time.Time) model.Signal {
	return model.Signal{
		ID:         component + kind + at.String(),
		TenantID:   "tenant-1",
		Type:       model.SignalCorrection,
		CohortKind: model.CohortComponent,
		CohortKey:  component,
		Confidence: 0.9,
		CreatedAt:  at,
		Payload:    map[string]any{PayloadKind: kind, PayloadDelta: delta, PayloadMetric: metric},
	}
}

func TestBuild(t *testing.T) {
	t0 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	signals := []model.Signal{
		correction("optical", "optical_attainment", "discrepancy", 12.5, t0),
		correction("Optical", "optical_attainment", "discrepancy", "7.5", t0.Add(time.Hour)),
		correction("store", "", "false_green", 0, t0),
		{Type: model.SignalClassification, CohortKind: model.CohortMetric, CohortKey: "insurance_revenue", Confidence: 0.8,
			Payload: map[string]any{PayloadKind: "matched"}},
		{Type: model.SignalClassification, CohortKind: model.CohortMetric, CohortKey: "insurance_revenue", Confidence: 0.6},
		{Type: model.SignalAnomaly, CohortKind: model.CohortEntity, CohortKey: "ent-1", Payload: map[string]any{PayloadKind: "zero_payout"}},
		{Type: model.SignalDataQuality, CohortKind: model.CohortMetric, CohortKey: "attendance"},
		{Type: model.SignalTraining, CohortKind: model.CohortEntity, CohortKey: "ent-1"},
	}

	d := Build(signals)

	assert.Equal(t, 7, d.SignalCount, "training signals carry no prior")

	optical := d.Correction.get(ComponentCohort("OPTICAL"))
	require.NotNil(t, optical, "cohort keys are case-insensitive")
	assert.Equal(t, 2, optical.Count)
	assert.InDelta(t, 20.0, optical.TotalDelta, 1e-9)
	assert.InDelta(t, 10.0, optical.MeanDelta(), 1e-9)
	assert.Equal(t, map[string]int{"discrepancy": 2}, optical.Kinds)
	assert.Equal(t, t0.Add(time.Hour), optical.LastSeen)

	metric := d.Correction.get(MetricCohort("optical_attainment"))
	require.NotNil(t, metric, "corrections are also keyed by their metric")
	assert.Equal(t, 2, metric.Count)

	conf := d.Confidence.get(MetricCohort("insurance_revenue"))
	require.NotNil(t, conf)
	assert.InDelta(t, 0.7, conf.MeanConfidence, 1e-9)

	assert.Equal(t, 1, d.Anomaly.get(EntityCohort("ent-1")).Count)
	assert.Equal(t, 1, d.DataQuality.get(MetricCohort("attendance")).Count)
}

func TestDensityRoundTrip(t *testing.T) {
	d := Build([]model.Signal{correction("optical", "", "discrepancy", 5, time.Now().UTC())})

	data, err := d.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), "correctionSynapses")

	back, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, 1, back.SignalCount)
	assert.Equal(t, 1, back.Correction.get(ComponentCohort("optical")).Count)

	sparse, err := Unmarshal([]byte(`{"signalCount": 0}`))
	require.NoError(t, err)
	assert.NotNil(t, sparse.Anomaly)
	assert.True(t, sparse.IsEmpty())

	_, err = Unmarshal([]byte(`{`))
	assert.Error(t, err)
}
