package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CCAFRICA/spm-platform/internal/money"
)

func TestComponent_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		blob    string
		kind    ComponentKind
		wantErr bool
	}{
		{
			name: "tier lookup",
			blob: `{"id":"c1","name":"Sales Tier","kind":"tier_lookup","tierConfig":{"metric":"revenue","tiers":[
				{"min":0,"max":999,"value":0},{"min":1000,"max":1999,"value":50},{"min":2000,"max":null,"value":100}]}}`,
			kind: KindTierLookup,
		},
		{
			name: "percentage with cap",
			blob: `{"id":"c2","name":"Commission","kind":"percentage","percentageConfig":{"metric":"revenue","rate":"0.05","cap":500}}`,
			kind: KindPercentage,
		},
		{
			name: "gate",
			blob: `{"id":"g1","name":"Attendance","kind":"conditional_gate","gateConfig":{"metric":"attendance","operator":"gte","threshold":90}}`,
			kind: KindConditionalGate,
		},
		{
			name:    "kind without matching config",
			blob:    `{"id":"c3","name":"Broken","kind":"tier_lookup","percentageConfig":{"metric":"revenue","rate":0.1}}`,
			wantErr: true,
		},
		{
			name:    "two config blocks",
			blob:    `{"id":"c4","name":"Broken","kind":"percentage","percentageConfig":{"metric":"m","rate":0.1},"gateConfig":{"metric":"m","operator":"gte","threshold":1}}`,
			wantErr: true,
		},
		{
			name:    "overlapping tiers",
			blob:    `{"id":"c5","name":"Broken","kind":"tier_lookup","tierConfig":{"metric":"m","tiers":[{"min":0,"max":100,"value":1},{"min":100,"max":200,"value":2}]}}`,
			wantErr: true,
		},
		{
			name:    "unbounded tier not last",
			blob:    `{"id":"c6","name":"Broken","kind":"tier_lookup","tierConfig":{"metric":"m","tiers":[{"min":0,"max":null,"value":1},{"min":100,"max":200,"value":2}]}}`,
			wantErr: true,
		},
		{
			name:    "unknown gate operator",
			blob:    `{"id":"g2","name":"Broken","kind":"conditional_gate","gateConfig":{"metric":"m","operator":"between","threshold":1}}`,
			wantErr: true,
		},
		{
			name:    "unknown kind",
			blob:    `{"id":"x","name":"Broken","kind":"bonus_pool","percentageConfig":{"metric":"m","rate":0.1}}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Component
			err := json.Unmarshal([]byte(tt.blob), &c)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidComponent)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, c.Kind)
			assert.True(t, c.Enabled, "enabled defaults to true")
		})
	}
}

func TestComponent_RoundTripKeepsDisabledFlag(t *testing.T) {
	in := Component{
		ID:         "c1",
		Name:       "Commission",
		Kind:       KindPercentage,
		Percentage: &PercentageConfig{Metric: "revenue", Rate: money.MustNew("0.1")},
	}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out Component
	require.NoError(t, json.Unmarshal(data, &out))
	assert.False(t, out.Enabled)
	assert.Equal(t, "revenue", out.Percentage.Metric)
}

func TestMatrixConfig_DimensionsMustAgree(t *testing.T) {
	c := Component{
		ID:   "m1",
		Kind: KindMatrixLookup,
		Matrix: &MatrixConfig{
			RowMetric:    "attainment",
			ColumnMetric: "store_sales",
			RowBands:     []Band{{Min: money.FromInt(0)}},
			ColumnBands:  []Band{{Min: money.FromInt(0), Max: ptr(money.FromInt(10))}, {Min: money.FromInt(11)}},
			Values:       [][]money.Decimal{{money.FromInt(1)}},
		},
	}
	assert.ErrorIs(t, c.Validate(), ErrInvalidComponent)
}

func TestGateConfig_Evaluate(t *testing.T) {
	tests := []struct {
		op    GateOperator
		value string
		want  bool
	}{
		{op: GateGTE, value: "90", want: true},
		{op: GateGTE, value: "89.99", want: false},
		{op: GateGT, value: "90", want: false},
		{op: GateLTE, value: "90", want: true},
		{op: GateLT, value: "90", want: false},
		{op: GateEQ, value: "90.00", want: true},
		{op: GateTruthy, value: "0", want: false},
		{op: GateTruthy, value: "1", want: true},
	}
	for _, tt := range tests {
		g := GateConfig{Metric: "m", Operator: tt.op, Threshold: money.FromInt(90)}
		assert.Equal(t, tt.want, g.Evaluate(money.MustNew(tt.value)), "%s %s", tt.op, tt.value)
	}
}

func TestBand_ContainsIsInclusive(t *testing.T) {
	b := Band{Min: money.FromInt(1000), Max: ptr(money.FromInt(1999))}
	assert.True(t, b.Contains(money.FromInt(1000)))
	assert.True(t, b.Contains(money.FromInt(1999)))
	assert.False(t, b.Contains(money.FromInt(2000)))
	assert.False(t, b.Contains(money.MustNew("999.99")))
}

func ptr(d money.Decimal) *money.Decimal { return &d }
