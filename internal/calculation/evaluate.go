package calculation

import (
	"fmt"

	"github.com/CCAFRICA/spm-platform/internal/model"
	"github.com/CCAFRICA/spm-platform/internal/money"
)

// MetricSource resolves a metric for the entity being evaluated.
type MetricSource func(metric string) model.ResolvedInput

// Evaluate computes one component's payout and its trace. A component with
// an unresolved input pays $0 and records a missing_input modifier. Gates
// with a missing input are not evaluated and do not block the variant.
func Evaluate(c model.Component, entityID string, resolve MetricSource) model.ExecutionTrace {
	trace := model.ExecutionTrace{
		ComponentID:   c.ID,
		ComponentName: c.Name,
		Kind:          c.Kind,
		EntityID:      entityID,
		Lookup:        &model.LookupResolution{TierIndex: -1, RowIndex: -1, ColumnIndex: -1},
	}
	for _, metric := range c.Metrics() {
		trace.Inputs = append(trace.Inputs, resolve(metric))
	}
	trace.Confidence = traceConfidence(trace.Inputs)

	if trace.HasMissingInput() {
		for _, in := range trace.Inputs {
			if !in.Resolved {
				trace.Modifiers = append(trace.Modifiers, model.Modifier{Kind: model.ModifierMissingInput, Detail: in.Metric})
			}
		}
		trace.ComputedOutcome = money.Zero
		trace.Outcome = money.Zero
		return trace
	}

	switch c.Kind {
	case model.KindTierLookup:
		evaluateTier(c.Tier, &trace)
	case model.KindMatrixLookup:
		evaluateMatrix(c.Matrix, &trace)
	case model.KindPercentage:
		evaluatePercentage(c.Percentage, &trace)
	case model.KindConditionalGate:
		evaluateGate(c.Gate, &trace)
	}
	trace.Outcome = trace.Outcome.RoundCents()
	return trace
}

func traceConfidence(inputs []model.ResolvedInput) float64 {
	if len(inputs) == 0 {
		return 1
	}
	c := inputs[0].Confidence
	for _, in := range inputs[1:] {
		c = minFloat(c, in.Confidence)
	}
	return c
}

// findBand locates v among ascending bands. Values in a gap resolve to the
// lower band; values below the first band report -1; values above a
// bounded last band clamp to it.
func findBand(bands []model.Band, v money.Decimal) (int, string) {
	for i, b := range bands {
		if b.Contains(v) {
			return i, model.BandExact
		}
	}
	if len(bands) == 0 || v.Cmp(bands[0].Min) < 0 {
		return -1, model.BandBelow
	}
	last := len(bands) - 1
	if bands[last].Max != nil && v.Cmp(*bands[last].Max) > 0 {
		return last, model.BandAbove
	}
	for i := last; i >= 0; i-- {
		if bands[i].Min.Cmp(v) <= 0 {
			return i, model.BandGap
		}
	}
	return -1, model.BandBelow
}

func evaluateTier(cfg *model.TierConfig, trace *model.ExecutionTrace) {
	v := trace.Inputs[0].Value
	bands := make([]model.Band, len(cfg.Tiers))
	for i, t := range cfg.Tiers {
		bands[i] = t.Band
	}

	idx, status := findBand(bands, v)
	trace.Lookup.TierIndex = idx
	trace.Lookup.Status = status
	if idx < 0 {
		trace.ComputedOutcome = money.Zero
		trace.Outcome = money.Zero
		return
	}

	tier := cfg.Tiers[idx]
	trace.Lookup.Band = tier.Band.String()
	trace.Lookup.Label = tier.Label
	trace.ComputedOutcome = tier.Value
	trace.Outcome = tier.Value
	if status == model.BandAbove {
		trace.Modifiers = append(trace.Modifiers, model.Modifier{
			Kind:   model.ModifierClampTier,
			Detail: fmt.Sprintf("%s above top tier %s", v, tier.Band),
			Before: v,
			After:  *tier.Max,
		})
	}
}

// clampBand is findBand for matrix axes: below the first band clamps to it.
func clampBand(bands []model.Band, v money.Decimal) (int, string) {
	idx, status := findBand(bands, v)
	if idx < 0 {
		return 0, model.BandBelow
	}
	return idx, status
}

func evaluateMatrix(cfg *model.MatrixConfig, trace *model.ExecutionTrace) {
	rowValue, colValue := trace.Inputs[0].Value, trace.Inputs[1].Value
	row, rowStatus := clampBand(cfg.RowBands, rowValue)
	col, colStatus := clampBand(cfg.ColumnBands, colValue)

	trace.Lookup.RowIndex = row
	trace.Lookup.ColumnIndex = col
	trace.Lookup.RowStatus = rowStatus
	trace.Lookup.ColStatus = colStatus
	trace.Lookup.RowBand = cfg.RowBands[row].String()
	trace.Lookup.ColumnBand = cfg.ColumnBands[col].String()

	trace.Modifiers = append(trace.Modifiers, clampModifier(model.ModifierClampRow, cfg.RowBands[row], rowStatus, rowValue)...)
	trace.Modifiers = append(trace.Modifiers, clampModifier(model.ModifierClampColumn, cfg.ColumnBands[col], colStatus, colValue)...)

	value := cfg.Values[row][col]
	trace.ComputedOutcome = value
	trace.Outcome = value
}

func clampModifier(kind string, band model.Band, status string, v money.Decimal) []model.Modifier {
	switch status {
	case model.BandBelow:
		return []model.Modifier{{Kind: kind, Detail: fmt.Sprintf("%s below %s", v, band), Before: v, After: band.Min}}
	case model.BandAbove:
		return []model.Modifier{{Kind: kind, Detail: fmt.Sprintf("%s above %s", v, band), Before: v, After: *band.Max}}
	}
	return nil
}

func evaluatePercentage(cfg *model.PercentageConfig, trace *model.ExecutionTrace) {
	rate := cfg.Rate
	trace.Lookup.Rate = &rate

	raw := trace.Inputs[0].Value.Mul(cfg.Rate)
	trace.ComputedOutcome = raw
	trace.Outcome = raw
	if cfg.Cap != nil && raw.Cmp(*cfg.Cap) > 0 {
		trace.Outcome = *cfg.Cap
		trace.Modifiers = append(trace.Modifiers, model.Modifier{
			Kind:   model.ModifierCap,
			Detail: fmt.Sprintf("capped at %s", cfg.Cap),
			Before: raw,
			After:  *cfg.Cap,
		})
	}
}

func evaluateGate(cfg *model.GateConfig, trace *model.ExecutionTrace) {
	passed := cfg.Evaluate(trace.Inputs[0].Value)
	trace.Lookup.Passed = &passed
	trace.Lookup.Label = fmt.Sprintf("%s %s %s", cfg.Metric, cfg.Operator, cfg.Threshold)

	payout := money.Zero
	if cfg.Payout != nil {
		payout = *cfg.Payout
	}
	trace.ComputedOutcome = payout
	trace.Outcome = payout
	if !passed {
		trace.Outcome = money.Zero
		trace.Modifiers = append(trace.Modifiers, model.Modifier{
			Kind:   model.ModifierGateFailed,
			Detail: trace.Lookup.Label,
			Before: payout,
			After:  money.Zero,
		})
	}
}

// gateFailed reports whether trace is a gate that was evaluated and failed.
func gateFailed(trace model.ExecutionTrace) bool {
	return trace.Kind == model.KindConditionalGate &&
		trace.Lookup != nil &&
		trace.Lookup.Passed != nil &&
		!*trace.Lookup.Passed
}
