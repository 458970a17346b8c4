package calculation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CCAFRICA/spm-platform/internal/model"
	"github.com/CCAFRICA/spm-platform/internal/money"
	"github.com/CCAFRICA/spm-platform/internal/testutil"
)

// values resolves metrics from a fixed map; absent metrics are missing.
func values(kv map[string]string) MetricSource {
	return func(metric string) model.ResolvedInput {
		v, ok := kv[metric]
		if !ok {
			return model.ResolvedInput{Metric: metric, Path: model.PathMissing, Value: money.Zero}
		}
		return model.ResolvedInput{Metric: metric, Path: model.PathDirect, Value: money.MustNew(v), Confidence: 1, Resolved: true}
	}
}

func TestEvaluate_TierBoundaries(t *testing.T) {
	tier := testutil.Tiers("volume", "units",
		[3]string{"0", "999", "0"},
		[3]string{"1000", "1999", "50"},
		[3]string{"2000", "", "100"},
	)

	tests := []struct {
		input  string
		want   string
		index  int
		status string
	}{
		{"0", "0.00", 0, model.BandExact},
		{"999", "0.00", 0, model.BandExact},
		{"999.5", "0.00", 0, model.BandGap},
		{"1000", "50.00", 1, model.BandExact},
		{"1999", "50.00", 1, model.BandExact},
		{"1999.50", "50.00", 1, model.BandGap},
		{"2000", "100.00", 2, model.BandExact},
		{"1000000", "100.00", 2, model.BandExact},
		{"-1", "0.00", -1, model.BandBelow},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			trace := Evaluate(tier, "e1", values(map[string]string{"units": tt.input}))
			assert.Equal(t, tt.want, trace.Outcome.String())
			assert.Equal(t, tt.index, trace.Lookup.TierIndex)
			assert.Equal(t, tt.status, trace.Lookup.Status)
			assert.Empty(t, trace.Modifiers)
			assert.Equal(t, 1.0, trace.Confidence)
		})
	}
}

func TestEvaluate_TierClampsAboveBoundedTop(t *testing.T) {
	tier := testutil.Tiers("store", "attainment",
		[3]string{"0", "99.99", "0"},
		[3]string{"100", "120", "300"},
	)

	trace := Evaluate(tier, "e1", values(map[string]string{"attainment": "150"}))
	assert.True(t, trace.Outcome.Equal(money.FromInt(300)))
	assert.Equal(t, 1, trace.Lookup.TierIndex)
	assert.Equal(t, model.BandAbove, trace.Lookup.Status)
	require.True(t, trace.HasModifier(model.ModifierClampTier))
	assert.Equal(t, "120", trace.Modifiers[0].After.String())
}

func TestEvaluate_MatrixClamp(t *testing.T) {
	matrix := testutil.OpticalMatrix("optical")

	tests := []struct {
		name      string
		row, col  string
		wantRow   int
		wantCol   int
		want      int64
		modifiers []string
	}{
		{"inside", "95", "85000", 2, 2, 220, nil},
		{"row boundary inclusive", "89.99", "60000", 1, 1, 110, nil},
		{"beyond top on both axes", "250", "900000", 4, 4, 440, nil},
		{"below bottom on both axes", "-10", "-1", 0, 0, 0, []string{model.ModifierClampRow, model.ModifierClampColumn}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trace := Evaluate(matrix, "e1", values(map[string]string{
				"optical_attainment":  tt.row,
				"store_optical_sales": tt.col,
			}))
			assert.Equal(t, tt.wantRow, trace.Lookup.RowIndex)
			assert.Equal(t, tt.wantCol, trace.Lookup.ColumnIndex)
			assert.True(t, trace.Outcome.Equal(money.FromInt(tt.want)), trace.Outcome.String())
			for _, m := range tt.modifiers {
				assert.True(t, trace.HasModifier(m), m)
			}
			assert.Len(t, trace.Inputs, 2)
		})
	}
}

func TestEvaluate_MatrixAboveBoundedEdge(t *testing.T) {
	matrix := testutil.OpticalMatrix("optical")
	top := testutil.DecPtr("200")
	matrix.Matrix.RowBands[4].Max = top

	trace := Evaluate(matrix, "e1", values(map[string]string{"optical_attainment": "250", "store_optical_sales": "0"}))
	assert.Equal(t, 4, trace.Lookup.RowIndex)
	assert.Equal(t, model.BandAbove, trace.Lookup.RowStatus)
	assert.True(t, trace.HasModifier(model.ModifierClampRow))
	assert.False(t, trace.HasModifier(model.ModifierClampColumn))
	assert.True(t, trace.Outcome.Equal(money.FromInt(400)))
}

func TestEvaluate_Percentage(t *testing.T) {
	c := testutil.Percentage("insurance", "revenue", "0.05")
	c.Percentage.Cap = testutil.DecPtr("500")

	t.Run("under cap", func(t *testing.T) {
		trace := Evaluate(c, "e1", values(map[string]string{"revenue": "1234.5"}))
		assert.Equal(t, "61.73", trace.Outcome.String())
		assert.Empty(t, trace.Modifiers)
		require.NotNil(t, trace.Lookup.Rate)
		assert.Equal(t, "0.05", trace.Lookup.Rate.String())
	})

	t.Run("cap applies after multiplication", func(t *testing.T) {
		trace := Evaluate(c, "e1", values(map[string]string{"revenue": "20000"}))
		assert.True(t, trace.Outcome.Equal(money.FromInt(500)))
		assert.True(t, trace.ComputedOutcome.Equal(money.FromInt(1000)))
		assert.True(t, trace.HasModifier(model.ModifierCap))
	})
}

func TestEvaluate_Gate(t *testing.T) {
	gate := testutil.Gate("attendance", "attendance", model.GateGTE, "90")
	gate.Gate.Payout = testutil.DecPtr("25")

	pass := Evaluate(gate, "e1", values(map[string]string{"attendance": "90"}))
	require.NotNil(t, pass.Lookup.Passed)
	assert.True(t, *pass.Lookup.Passed)
	assert.True(t, pass.Outcome.Equal(money.FromInt(25)))
	assert.False(t, gateFailed(pass))

	fail := Evaluate(gate, "e1", values(map[string]string{"attendance": "89.9"}))
	assert.False(t, *fail.Lookup.Passed)
	assert.True(t, fail.Outcome.IsZero())
	assert.True(t, fail.HasModifier(model.ModifierGateFailed))
	assert.True(t, gateFailed(fail))
}

func TestEvaluate_MissingInput(t *testing.T) {
	gate := testutil.Gate("attendance", "attendance", model.GateGTE, "90")
	trace := Evaluate(gate, "e1", values(nil))

	assert.True(t, trace.HasMissingInput())
	assert.True(t, trace.HasModifier(model.ModifierMissingInput))
	assert.True(t, trace.Outcome.IsZero())
	assert.Nil(t, trace.Lookup.Passed)
	assert.False(t, gateFailed(trace), "an unevaluated gate does not block")
	assert.Zero(t, trace.Confidence)
}

func TestEvaluate_ConfidenceIsMinimumOfInputs(t *testing.T) {
	matrix := testutil.OpticalMatrix("optical")
	source := func(metric string) model.ResolvedInput {
		in := model.ResolvedInput{Metric: metric, Value: money.FromInt(100), Confidence: 1, Resolved: true}
		if metric == "store_optical_sales" {
			in.Confidence = 0.72
		}
		return in
	}
	trace := Evaluate(matrix, "e1", source)
	assert.Equal(t, 0.72, trace.Confidence)
}

func TestFindBand_Empty(t *testing.T) {
	idx, status := findBand(nil, money.FromInt(1))
	assert.Equal(t, -1, idx)
	assert.Equal(t, model.BandBelow, status)
}
