package calculation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/CCAFRICA/spm-platform/internal/model"
	"github.com/CCAFRICA/spm-platform/internal/testutil"
)

func TestSelectVariant(t *testing.T) {
	rs := testutil.RetailPlan("rs1")
	certified := model.Entity{ID: "e1", Attributes: map[string]string{"Certified": " TRUE "}}
	plain := model.Entity{ID: "e2", Attributes: map[string]string{"certified": "false"}}

	tests := []struct {
		name       string
		rs         func() *model.RuleSet
		entity     model.Entity
		assignment model.Assignment
		want       string
		ok         bool
	}{
		{"explicit assignment wins", nil, certified, model.Assignment{VariantKey: "standard"}, "standard", true},
		{"attribute rule", nil, certified, model.Assignment{}, "certified", true},
		{"default when no rule matches", nil, plain, model.Assignment{}, "standard", true},
		{"unknown assignment falls back and flags", nil, certified, model.Assignment{VariantKey: "gold"}, "certified", false},
		{
			"first variant without population config",
			func() *model.RuleSet {
				p := testutil.RetailPlan("rs1")
				p.Population = model.Population{}
				return p
			},
			plain, model.Assignment{}, "certified", true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := rs
			if tt.rs != nil {
				plan = tt.rs()
			}
			v, ok := SelectVariant(plan, tt.entity, tt.assignment)
			assert.Equal(t, tt.want, v.Key)
			assert.Equal(t, tt.ok, ok)
		})
	}
}
