package resolution

import (
	"fmt"
	"math"

	"github.com/CCAFRICA/spm-platform/internal/model"
	"github.com/CCAFRICA/spm-platform/internal/money"
)

// boundaryNote describes how close a traced value came to the next payout
// step. Proximity is computed in float64; payouts never pass through it.
func boundaryNote(c model.Component, trace model.ExecutionTrace, factor float64) (string, bool) {
	if factor <= 0 || trace.Lookup == nil || trace.HasMissingInput() || len(trace.Inputs) == 0 {
		return "", false
	}
	switch c.Kind {
	case model.KindTierLookup:
		if c.Tier == nil {
			return "", false
		}
		bands := make([]model.Band, len(c.Tier.Tiers))
		for i, t := range c.Tier.Tiers {
			bands[i] = t.Band
		}
		return nextBand(c.Tier.Metric, bands, trace.Lookup.TierIndex, trace.Inputs[0].Value, factor)
	case model.KindMatrixLookup:
		if c.Matrix == nil || len(trace.Inputs) < 2 {
			return "", false
		}
		if note, ok := nextBand(c.Matrix.RowMetric, c.Matrix.RowBands, trace.Lookup.RowIndex, trace.Inputs[0].Value, factor); ok {
			return note, true
		}
		return nextBand(c.Matrix.ColumnMetric, c.Matrix.ColumnBands, trace.Lookup.ColumnIndex, trace.Inputs[1].Value, factor)
	case model.KindConditionalGate:
		if c.Gate == nil || trace.Lookup.Passed == nil || *trace.Lookup.Passed {
			return "", false
		}
		return nearThreshold(c.Gate, trace.Inputs[0].Value, factor)
	}
	return "", false
}

// nextBand reports whether v sits just under the band after idx.
func nextBand(metric string, bands []model.Band, idx int, v money.Decimal, factor float64) (string, bool) {
	next := idx + 1
	if next >= len(bands) {
		return "", false
	}
	width := bandWidth(bands[next])
	if idx >= 0 {
		width = bandWidth(bands[idx])
	}
	gap := bands[next].Min.Sub(v).Float64()
	if gap <= 0 || width <= 0 || gap > factor*width {
		return "", false
	}
	return fmt.Sprintf("%s %s is %.2f below the next band %s", metric, v, gap, bands[next]), true
}

func bandWidth(b model.Band) float64 {
	if b.Max == nil {
		return math.Abs(b.Min.Float64())
	}
	return b.Max.Sub(b.Min).Float64()
}

func nearThreshold(g *model.GateConfig, v money.Decimal, factor float64) (string, bool) {
	var gap float64
	switch g.Operator {
	case model.GateGTE, model.GateGT:
		gap = g.Threshold.Sub(v).Float64()
	case model.GateLTE, model.GateLT:
		gap = v.Sub(g.Threshold).Float64()
	default:
		return "", false
	}
	limit := factor * math.Abs(g.Threshold.Float64())
	if gap < 0 || limit <= 0 || gap > limit {
		return "", false
	}
	return fmt.Sprintf("%s %s missed the %s %s threshold by %.2f", g.Metric, v, g.Operator, g.Threshold, gap), true
}
