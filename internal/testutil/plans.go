package testutil

import (
	"github.com/CCAFRICA/spm-platform/internal/model"
	"github.com/CCAFRICA/spm-platform/internal/money"
)

// Dec parses a decimal literal.
func Dec(s string) money.Decimal {
	return money.MustNew(s)
}

// DecPtr parses a decimal literal and returns a pointer to it.
func DecPtr(s string) *money.Decimal {
	d := money.MustNew(s)
	return &d
}

// SingleVariant builds an active plan with one "default" variant.
func SingleVariant(id string, components ...model.Component) *model.RuleSet {
	return &model.RuleSet{
		ID:     id,
		Name:   "Plan " + id,
		Status: model.RuleSetActive,
		Variants: []model.Variant{{
			Key:        "default",
			Components: components,
		}},
	}
}

// Percentage builds a percentage component.
func Percentage(id, metric, rate string) model.Component {
	return model.Component{
		ID:         id,
		Name:       id,
		Kind:       model.KindPercentage,
		Enabled:    true,
		Percentage: &model.PercentageConfig{Metric: metric, Rate: Dec(rate)},
	}
}

// PercentagePlan is a single percentage component plan.
func PercentagePlan(id, metric, rate string) *model.RuleSet {
	return SingleVariant(id, Percentage("commission", metric, rate))
}

// Tiers builds a tier component from (min, max, value) triples; an empty
// max is unbounded.
func Tiers(id, metric string, bands ...[3]string) model.Component {
	tiers := make([]model.Tier, len(bands))
	for i, b := range bands {
		tiers[i] = model.Tier{Band: model.Band{Min: Dec(b[0])}, Value: Dec(b[2])}
		if b[1] != "" {
			tiers[i].Max = DecPtr(b[1])
		}
	}
	return model.Component{
		ID:      id,
		Name:    id,
		Kind:    model.KindTierLookup,
		Enabled: true,
		Tier:    &model.TierConfig{Metric: metric, Tiers: tiers},
	}
}

// Gate builds a conditional gate component.
func Gate(id, metric string, op model.GateOperator, threshold string) model.Component {
	return model.Component{
		ID:      id,
		Name:    id,
		Kind:    model.KindConditionalGate,
		Enabled: true,
		Gate:    &model.GateConfig{Metric: metric, Operator: op, Threshold: Dec(threshold)},
	}
}

// Bands builds contiguous bands from ascending lower bounds; the last band
// is unbounded and every other band ends just below the next minimum.
func Bands(mins ...string) []model.Band {
	bands := make([]model.Band, len(mins))
	for i, m := range mins {
		bands[i] = model.Band{Min: Dec(m)}
		if i+1 < len(mins) {
			bands[i].Max = DecPtr(Dec(mins[i+1]).Sub(Dec("0.01")).String())
		}
	}
	return bands
}

// OpticalMatrix is a 5x5 attainment × store volume matrix paying row*100 + col*10.
func OpticalMatrix(id string) model.Component {
	rows := Bands("0", "80", "90", "100", "110")
	cols := Bands("0", "60000", "80000", "100000", "120000")
	values := make([][]money.Decimal, len(rows))
	for r := range rows {
		values[r] = make([]money.Decimal, len(cols))
		for c := range cols {
			values[r][c] = money.FromInt(int64(r*100 + c*10))
		}
	}
	return model.Component{
		ID:   id,
		Name: "Optical Sales",
		Kind: model.KindMatrixLookup,
		Matrix: &model.MatrixConfig{
			RowMetric:    "optical_attainment",
			ColumnMetric: "store_optical_sales",
			RowBands:     rows,
			ColumnBands:  cols,
			Values:       values,
		},
		Enabled: true,
	}
}

// RetailPlan is a two-variant plan: certified associates earn the optical
// matrix, a store tier and an insurance commission behind an attendance
// gate; everyone else earns only the insurance commission.
func RetailPlan(id string) *model.RuleSet {
	insurance := Percentage("insurance", "insurance_revenue", "0.05")
	insurance.Name = "Insurance Sales"
	insurance.Percentage.Cap = DecPtr("500")

	store := Tiers("store", "store_attainment",
		[3]string{"0", "99.99", "0"},
		[3]string{"100", "104.99", "150"},
		[3]string{"105", "", "300"},
	)
	store.Name = "Store Sales"

	attendance := Gate("attendance", "attendance", model.GateGTE, "90")
	attendance.Name = "Attendance Gate"

	return &model.RuleSet{
		ID:         id,
		Name:       "Retail Floor Plan",
		Status:     model.RuleSetActive,
		GatePolicy: model.GateBlocksVariant,
		Population: model.Population{
			VariantAttribute: "certified",
			DefaultVariant:   "standard",
			VariantRules:     []model.VariantRule{{Variant: "certified", Equals: "true"}},
		},
		Variants: []model.Variant{
			{Key: "certified", Name: "Certified", Components: []model.Component{OpticalMatrix("optical"), store, insurance, attendance}},
			{Key: "standard", Name: "Standard", Components: []model.Component{insurance}},
		},
	}
}
