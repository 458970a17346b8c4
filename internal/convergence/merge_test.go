package convergence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CCAFRICA/spm-platform/internal/model"
)

func sum(metric, field string) model.MetricDerivation {
	return model.MetricDerivation{Metric: metric, Operation: model.OpSum, SourcePattern: "^kpis$", SourceField: field}
}

func ratio(metric string) model.MetricDerivation {
	return model.MetricDerivation{
		Metric:            metric,
		Operation:         model.OpRatio,
		NumeratorMetric:   metric + model.ActualsSuffix,
		DenominatorMetric: metric + model.GoalSuffix,
	}
}

func metrics(ds []model.MetricDerivation) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Metric
	}
	return out
}

func actions(events []MergeEvent) []MergeAction {
	out := make([]MergeAction, len(events))
	for i, e := range events {
		out[i] = e.Action
	}
	return out
}

func TestMergeDerivations(t *testing.T) {
	t.Run("new metric appends", func(t *testing.T) {
		out, events := MergeDerivations(nil, []model.MetricDerivation{sum("sales", "sales")})
		assert.Equal(t, []string{"sales"}, metrics(out))
		assert.Equal(t, []MergeAction{ActionAppended}, actions(events))
	})

	t.Run("same name and operation skips", func(t *testing.T) {
		existing := []model.MetricDerivation{sum("sales", "sales")}
		out, events := MergeDerivations(existing, []model.MetricDerivation{sum("SALES", "other")})
		assert.Equal(t, existing, out)
		assert.Equal(t, []MergeAction{ActionSkipped}, actions(events))
		assert.False(t, Changed(events))
	})

	t.Run("ratio renames raw entry to actuals", func(t *testing.T) {
		existing := []model.MetricDerivation{sum("attainment", "sales")}
		out, events := MergeDerivations(existing, []model.MetricDerivation{ratio("attainment")})

		require.Len(t, out, 2)
		assert.Equal(t, "attainment_actuals", out[0].Metric)
		assert.Equal(t, model.OpSum, out[0].Operation)
		assert.Equal(t, "attainment", out[1].Metric)
		assert.Equal(t, model.OpRatio, out[1].Operation)
		assert.Equal(t, []MergeAction{ActionRenamed, ActionAppended}, actions(events))
		assert.Equal(t, "attainment", existing[0].Metric, "input not modified")
	})

	t.Run("ratio drops raw entry when actuals already exists", func(t *testing.T) {
		existing := []model.MetricDerivation{sum("attainment", "sales"), sum("attainment_actuals", "sales")}
		out, events := MergeDerivations(existing, []model.MetricDerivation{ratio("attainment")})
		assert.Equal(t, []string{"attainment_actuals", "attainment"}, metrics(out))
		assert.Equal(t, []MergeAction{ActionRenamed, ActionAppended}, actions(events))
	})

	t.Run("raw entry for a ratio name becomes actuals", func(t *testing.T) {
		existing := []model.MetricDerivation{ratio("attainment")}
		out, events := MergeDerivations(existing, []model.MetricDerivation{sum("attainment", "sales")})
		assert.Equal(t, []string{"attainment", "attainment_actuals"}, metrics(out))
		assert.Equal(t, []MergeEvent{{Metric: "attainment_actuals", Action: ActionAppended}}, events)
	})

	t.Run("different non ratio operation replaces", func(t *testing.T) {
		existing := []model.MetricDerivation{sum("visits", "visits")}
		avg := model.MetricDerivation{Metric: "visits", Operation: model.OpAvg, SourcePattern: "^kpis$", SourceField: "visits"}
		out, events := MergeDerivations(existing, []model.MetricDerivation{avg})
		require.Len(t, out, 1)
		assert.Equal(t, model.OpAvg, out[0].Operation)
		assert.Equal(t, []MergeAction{ActionReplaced}, actions(events))
	})

	t.Run("attainment triple converges and re-merging is a no-op", func(t *testing.T) {
		incoming := []model.MetricDerivation{sum("attainment", "sales"), sum("attainment_goal", "sales_goal"), ratio("attainment")}

		first, events := MergeDerivations(nil, incoming)
		assert.Equal(t, []string{"attainment_actuals", "attainment_goal", "attainment"}, metrics(first))
		assert.True(t, Changed(events))

		second, events := MergeDerivations(first, incoming)
		assert.Equal(t, first, second)
		assert.Equal(t, []MergeAction{ActionSkipped, ActionSkipped, ActionSkipped}, actions(events))
		assert.False(t, Changed(events))
	})
}
