package calculation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CCAFRICA/spm-platform/internal/model"
	"github.com/CCAFRICA/spm-platform/internal/money"
	"github.com/CCAFRICA/spm-platform/internal/testutil"
)

func row(dataType, entityID, group string, data map[string]any) model.RawDataRow {
	return model.RawDataRow{DataType: dataType, EntityID: entityID, GroupKey: group, Data: data}
}

func derive(metric string, op model.Operation, pattern, field string) model.MetricDerivation {
	return model.MetricDerivation{Metric: metric, Operation: op, SourcePattern: pattern, SourceField: field}
}

func TestResolver(t *testing.T) {
	ana := model.Entity{ID: "e1", ExternalID: "1001", GroupKey: "S1"}
	rows := []model.RawDataRow{
		row("HR Roster", "e1", "S1", map[string]any{"attendance": "96%", "Certified": true}),
		row("insurance", "e1", "S1", map[string]any{"premium": 700}),
		row("insurance", "e1", "S1", map[string]any{"premium": "$1,300.50"}),
		row("insurance", "e2", "S1", map[string]any{"premium": 9999}),
		row("store_kpis", "", "S1", map[string]any{"sales": 90000, "goal": 100000}),
		row("store_kpis", "", "S2", map[string]any{"sales": 1, "goal": 1}),
		row("visits", "e1", "S1", map[string]any{"visit_date": "2024-01-02"}),
		row("visits", "e1", "S1", map[string]any{"visit_date": "2024-01-09"}),
		row("visits", "e1", "S1", map[string]any{"visit_date": ""}),
	}
	bindings := model.InputBindings{MetricDerivations: []model.MetricDerivation{
		derive("insurance_revenue", model.OpSum, "^insurance$", "premium"),
		derive("largest_premium", model.OpMax, "^insurance$", "premium"),
		derive("smallest_premium", model.OpMin, "^insurance$", "premium"),
		derive("avg_premium", model.OpAvg, "^insurance$", "premium"),
		derive("visit_count", model.OpCount, "^visits$", "visit_date"),
		derive("store_sales_actuals", model.OpSum, "store_kpis", "sales"),
		derive("store_sales_goal", model.OpSum, "store_kpis", "goal"),
		{
			Metric:            "store_sales",
			Operation:         model.OpRatio,
			NumeratorMetric:   "store_sales_actuals",
			DenominatorMetric: "store_sales_goal",
			ScaleFactor:       testutil.DecPtr("100"),
		},
		{Metric: "broken_ratio", Operation: model.OpRatio, NumeratorMetric: "insurance_revenue", DenominatorMetric: "nothing"},
		{
			Metric: "ai_premium", Operation: model.OpSum, SourcePattern: "^insurance$", SourceField: "premium",
			AIAssisted: true, Confidence: 0.8,
		},
	}}
	r := NewResolver(rows, bindings)

	t.Run("direct field", func(t *testing.T) {
		in := r.Resolve(ana, "attendance")
		assert.True(t, in.Resolved)
		assert.Equal(t, model.PathDirect, in.Path)
		assert.Equal(t, "direct:HR Roster.attendance", in.Source)
		assert.Equal(t, "96", in.Value.String())
		assert.Equal(t, 1.0, in.Confidence)
	})

	t.Run("direct field is case insensitive and accepts booleans", func(t *testing.T) {
		in := r.Resolve(ana, "certified")
		assert.True(t, in.Resolved)
		assert.True(t, in.Value.Equal(money.FromInt(1)))
	})

	t.Run("derived over entity rows", func(t *testing.T) {
		in := r.Resolve(ana, "insurance_revenue")
		assert.Equal(t, model.PathDerived, in.Path)
		assert.Equal(t, "derived:sum(^insurance$.premium)", in.Source)
		assert.Equal(t, "2000.50", in.Value.String())
	})

	t.Run("operations", func(t *testing.T) {
		assert.Equal(t, "1300.50", r.Resolve(ana, "largest_premium").Value.String())
		assert.Equal(t, "700", r.Resolve(ana, "smallest_premium").Value.String())
		assert.True(t, r.Resolve(ana, "avg_premium").Value.Equal(money.MustNew("1000.25")))
		assert.True(t, r.Resolve(ana, "visit_count").Value.Equal(money.FromInt(2)), "empty values are not counted")
	})

	t.Run("aggregated over group rows", func(t *testing.T) {
		in := r.Resolve(ana, "store_sales_actuals")
		assert.Equal(t, model.PathAggregated, in.Path)
		assert.Contains(t, in.Source, "aggregated:S1")
		assert.True(t, in.Value.Equal(money.FromInt(90000)))
	})

	t.Run("ratio with scale", func(t *testing.T) {
		in := r.Resolve(ana, "store_sales")
		require.True(t, in.Resolved)
		assert.Equal(t, model.PathAggregated, in.Path)
		assert.True(t, in.Value.Equal(money.FromInt(90)), in.Value.String())
	})

	t.Run("ratio ignores a direct field of the same name", func(t *testing.T) {
		shadowed := append([]model.RawDataRow{row("pos", "e1", "S1", map[string]any{"store_sales": 5})}, rows...)
		in := NewResolver(shadowed, bindings).Resolve(ana, "store_sales")
		assert.True(t, in.Value.Equal(money.FromInt(90)))
	})

	t.Run("ratio with missing side is unresolved", func(t *testing.T) {
		in := r.Resolve(ana, "broken_ratio")
		assert.False(t, in.Resolved)
		assert.Equal(t, model.PathMissing, in.Path)
	})

	t.Run("zero denominator is unresolved", func(t *testing.T) {
		zero := []model.RawDataRow{row("store_kpis", "", "S1", map[string]any{"sales": 5, "goal": 0})}
		in := NewResolver(zero, bindings).Resolve(ana, "store_sales")
		assert.False(t, in.Resolved)
	})

	t.Run("ai assisted derivation carries its confidence", func(t *testing.T) {
		assert.Equal(t, 0.8, r.Resolve(ana, "ai_premium").Confidence)
	})

	t.Run("missing", func(t *testing.T) {
		in := r.Resolve(ana, "warp_factor")
		assert.False(t, in.Resolved)
		assert.Equal(t, model.PathMissing, in.Path)
		assert.True(t, in.Value.IsZero())
	})

	t.Run("no group key means no aggregation", func(t *testing.T) {
		loner := model.Entity{ID: "e9", ExternalID: "9"}
		assert.False(t, r.Resolve(loner, "store_sales_actuals").Resolved)
	})
}

func TestResolver_DerivationOverSameNamedField(t *testing.T) {
	ana := model.Entity{ID: "e1", ExternalID: "1001", GroupKey: "S1"}
	rows := []model.RawDataRow{
		row("insurance", "e1", "S1", map[string]any{"premium": 700}),
		row("insurance", "e1", "S1", map[string]any{"premium": 1300}),
		row("HR Roster", "e1", "S1", map[string]any{"tenure": 4}),
		row("store_kpis", "", "S1", map[string]any{"tenure": 9}),
	}
	bindings := model.InputBindings{MetricDerivations: []model.MetricDerivation{
		derive("premium", model.OpSum, "^insurance$", "premium"),
		derive("tenure", model.OpSum, "^store_kpis$", "tenure"),
	}}
	r := NewResolver(rows, bindings)

	t.Run("sum covers every entity row", func(t *testing.T) {
		in := r.Resolve(ana, "premium")
		require.True(t, in.Resolved)
		assert.Equal(t, model.PathDerived, in.Path)
		assert.Equal(t, "derived:sum(^insurance$.premium)", in.Source)
		assert.True(t, in.Value.Equal(money.FromInt(2000)), in.Value.String())
	})

	t.Run("entity field wins over the group fallback", func(t *testing.T) {
		in := r.Resolve(ana, "tenure")
		assert.Equal(t, model.PathDirect, in.Path)
		assert.True(t, in.Value.Equal(money.FromInt(4)))
	})

	t.Run("row order does not change the result", func(t *testing.T) {
		reversed := []model.RawDataRow{rows[1], rows[0], rows[2], rows[3]}
		in := NewResolver(reversed, bindings).Resolve(ana, "premium")
		assert.True(t, in.Value.Equal(money.FromInt(2000)))
	})
}

func TestLookupField_CaseVariantsAreDeterministic(t *testing.T) {
	data := map[string]any{"REVENUE": 1, "Revenue": 2, "rEvenue": 3}
	for i := 0; i < 20; i++ {
		v, ok := lookupField(data, "revenue")
		require.True(t, ok)
		assert.Equal(t, 1, v, "lexically smallest key wins")
	}

	v, ok := lookupField(data, "Revenue")
	require.True(t, ok)
	assert.Equal(t, 2, v, "exact name wins")
}

func TestResolver_RatioCycleTerminates(t *testing.T) {
	bindings := model.InputBindings{MetricDerivations: []model.MetricDerivation{
		{Metric: "a", Operation: model.OpRatio, NumeratorMetric: "b", DenominatorMetric: "b"},
		{Metric: "b", Operation: model.OpRatio, NumeratorMetric: "a", DenominatorMetric: "a"},
	}}
	in := NewResolver(nil, bindings).Resolve(model.Entity{ID: "e1"}, "a")
	assert.False(t, in.Resolved)
}
