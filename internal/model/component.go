package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/CCAFRICA/spm-platform/internal/money"
)

// ComponentKind discriminates the component union.
type ComponentKind string

// Component kinds.
const (
	KindTierLookup      ComponentKind = "tier_lookup"
	KindMatrixLookup    ComponentKind = "matrix_lookup"
	KindPercentage      ComponentKind = "percentage"
	KindConditionalGate ComponentKind = "conditional_gate"
)

// ErrInvalidComponent is wrapped by every component validation failure.
var ErrInvalidComponent = errors.New("invalid component")

// Band is a closed interval [Min, Max]. A nil Max is unbounded.
type Band struct {
	Max   *money.Decimal `json:"max"`
	Label string         `json:"label,omitempty"`
	Min   money.Decimal  `json:"min"`
}

// Contains reports whether v lies inside the band, inclusive on both ends.
func (b Band) Contains(v money.Decimal) bool {
	if v.Cmp(b.Min) < 0 {
		return false
	}
	return b.Max == nil || v.Cmp(*b.Max) <= 0
}

func (b Band) String() string {
	if b.Max == nil {
		return fmt.Sprintf("[%s, ∞)", b.Min)
	}
	return fmt.Sprintf("[%s, %s]", b.Min, b.Max)
}

// Tier is a band paying a fixed value.
type Tier struct {
	Band
	Value money.Decimal `json:"value"`
}

// TierConfig is a 1-D ordered band lookup.
type TierConfig struct {
	Metric string `json:"metric"`
	Tiers  []Tier `json:"tiers"`
}

// MatrixConfig is a 2-D band lookup. Values is indexed [row][column].
type MatrixConfig struct {
	RowMetric    string            `json:"rowMetric"`
	ColumnMetric string            `json:"columnMetric"`
	RowBands     []Band            `json:"rowBands"`
	ColumnBands  []Band            `json:"columnBands"`
	Values       [][]money.Decimal `json:"values"`
}

// PercentageConfig pays metric × rate, capped after multiplication.
type PercentageConfig struct {
	Cap    *money.Decimal `json:"cap,omitempty"`
	Metric string         `json:"metric"`
	Rate   money.Decimal  `json:"rate"`
}

// GateOperator compares a gate metric against its threshold.
type GateOperator string

// Gate operators.
const (
	GateGTE    GateOperator = "gte"
	GateGT     GateOperator = "gt"
	GateLTE    GateOperator = "lte"
	GateLT     GateOperator = "lt"
	GateEQ     GateOperator = "eq"
	GateTruthy GateOperator = "truthy"
)

// GateConfig is a boolean predicate over one metric. Payout is paid when
// the predicate holds and defaults to zero.
type GateConfig struct {
	Payout    *money.Decimal `json:"payout,omitempty"`
	Metric    string         `json:"metric"`
	Operator  GateOperator   `json:"operator"`
	Threshold money.Decimal  `json:"threshold"`
}

// Evaluate applies the predicate to v.
func (g GateConfig) Evaluate(v money.Decimal) bool {
	c := v.Cmp(g.Threshold)
	switch g.Operator {
	case GateGTE:
		return c >= 0
	case GateGT:
		return c > 0
	case GateLTE:
		return c <= 0
	case GateLT:
		return c < 0
	case GateEQ:
		return c == 0
	case GateTruthy:
		return !v.IsZero()
	}
	return false
}

// Component is one payable calculation unit. Exactly one of the config
// pointers is set, matching Kind.
type Component struct {
	Tier       *TierConfig
	Matrix     *MatrixConfig
	Percentage *PercentageConfig
	Gate       *GateConfig
	ID         string
	Name       string
	Kind       ComponentKind
	Enabled    bool
}

type componentJSON struct {
	Enabled          *bool             `json:"enabled,omitempty"`
	TierConfig       *TierConfig       `json:"tierConfig,omitempty"`
	MatrixConfig     *MatrixConfig     `json:"matrixConfig,omitempty"`
	PercentageConfig *PercentageConfig `json:"percentageConfig,omitempty"`
	GateConfig       *GateConfig       `json:"gateConfig,omitempty"`
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Kind             ComponentKind     `json:"kind"`
}

// MarshalJSON writes the discriminated blob.
func (c Component) MarshalJSON() ([]byte, error) {
	enabled := c.Enabled
	return json.Marshal(componentJSON{
		ID:               c.ID,
		Name:             c.Name,
		Kind:             c.Kind,
		Enabled:          &enabled,
		TierConfig:       c.Tier,
		MatrixConfig:     c.Matrix,
		PercentageConfig: c.Percentage,
		GateConfig:       c.Gate,
	})
}

// UnmarshalJSON decodes and validates the discriminated blob. Components
// that fail validation never reach the evaluator.
func (c *Component) UnmarshalJSON(data []byte) error {
	var raw componentJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidComponent, err)
	}
	decoded := Component{
		ID:         raw.ID,
		Name:       raw.Name,
		Kind:       raw.Kind,
		Enabled:    raw.Enabled == nil || *raw.Enabled,
		Tier:       raw.TierConfig,
		Matrix:     raw.MatrixConfig,
		Percentage: raw.PercentageConfig,
		Gate:       raw.GateConfig,
	}
	if err := decoded.Validate(); err != nil {
		return err
	}
	*c = decoded
	return nil
}

// Validate checks the union is well formed and the kind-specific config is consistent.
func (c Component) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidComponent)
	}
	set := 0
	for _, present := range []bool{c.Tier != nil, c.Matrix != nil, c.Percentage != nil, c.Gate != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w %q: exactly one config block required, found %d", ErrInvalidComponent, c.ID, set)
	}

	switch c.Kind {
	case KindTierLookup:
		if c.Tier == nil {
			return fmt.Errorf("%w %q: tier_lookup requires tierConfig", ErrInvalidComponent, c.ID)
		}
		return c.Tier.validate(c.ID)
	case KindMatrixLookup:
		if c.Matrix == nil {
			return fmt.Errorf("%w %q: matrix_lookup requires matrixConfig", ErrInvalidComponent, c.ID)
		}
		return c.Matrix.validate(c.ID)
	case KindPercentage:
		if c.Percentage == nil {
			return fmt.Errorf("%w %q: percentage requires percentageConfig", ErrInvalidComponent, c.ID)
		}
		if c.Percentage.Metric == "" {
			return fmt.Errorf("%w %q: percentage requires metric", ErrInvalidComponent, c.ID)
		}
		if c.Percentage.Cap != nil && c.Percentage.Cap.Sign() < 0 {
			return fmt.Errorf("%w %q: negative cap", ErrInvalidComponent, c.ID)
		}
		return nil
	case KindConditionalGate:
		if c.Gate == nil {
			return fmt.Errorf("%w %q: conditional_gate requires gateConfig", ErrInvalidComponent, c.ID)
		}
		if c.Gate.Metric == "" {
			return fmt.Errorf("%w %q: gate requires metric", ErrInvalidComponent, c.ID)
		}
		switch c.Gate.Operator {
		case GateGTE, GateGT, GateLTE, GateLT, GateEQ, GateTruthy:
			return nil
		}
		return fmt.Errorf("%w %q: unknown gate operator %q", ErrInvalidComponent, c.ID, c.Gate.Operator)
	default:
		return fmt.Errorf("%w %q: unknown kind %q", ErrInvalidComponent, c.ID, c.Kind)
	}
}

// Metrics lists the metrics this component reads, in evaluation order.
func (c Component) Metrics() []string {
	switch {
	case c.Tier != nil:
		return []string{c.Tier.Metric}
	case c.Matrix != nil:
		return []string{c.Matrix.RowMetric, c.Matrix.ColumnMetric}
	case c.Percentage != nil:
		return []string{c.Percentage.Metric}
	case c.Gate != nil:
		return []string{c.Gate.Metric}
	}
	return nil
}

func (t *TierConfig) validate(id string) error {
	if t.Metric == "" {
		return fmt.Errorf("%w %q: tier_lookup requires metric", ErrInvalidComponent, id)
	}
	if len(t.Tiers) == 0 {
		return fmt.Errorf("%w %q: tier_lookup requires at least one tier", ErrInvalidComponent, id)
	}
	bands := make([]Band, len(t.Tiers))
	for i, tier := range t.Tiers {
		bands[i] = tier.Band
	}
	return validateBands(id, "tiers", bands)
}

func (m *MatrixConfig) validate(id string) error {
	if m.RowMetric == "" || m.ColumnMetric == "" {
		return fmt.Errorf("%w %q: matrix_lookup requires rowMetric and columnMetric", ErrInvalidComponent, id)
	}
	if len(m.RowBands) == 0 || len(m.ColumnBands) == 0 {
		return fmt.Errorf("%w %q: matrix_lookup requires row and column bands", ErrInvalidComponent, id)
	}
	if err := validateBands(id, "rowBands", m.RowBands); err != nil {
		return err
	}
	if err := validateBands(id, "columnBands", m.ColumnBands); err != nil {
		return err
	}
	if len(m.Values) != len(m.RowBands) {
		return fmt.Errorf("%w %q: %d value rows for %d row bands", ErrInvalidComponent, id, len(m.Values), len(m.RowBands))
	}
	for i, row := range m.Values {
		if len(row) != len(m.ColumnBands) {
			return fmt.Errorf("%w %q: value row %d has %d cells for %d column bands", ErrInvalidComponent, id, i, len(row), len(m.ColumnBands))
		}
	}
	return nil
}

// validateBands enforces ascending, non-overlapping bands with only the last
// band allowed to be unbounded.
func validateBands(id, field string, bands []Band) error {
	for i, b := range bands {
		if b.Max != nil && b.Max.Cmp(b.Min) < 0 {
			return fmt.Errorf("%w %q: %s[%d] has max below min", ErrInvalidComponent, id, field, i)
		}
		if i == len(bands)-1 {
			break
		}
		if b.Max == nil {
			return fmt.Errorf("%w %q: %s[%d] is unbounded but not last", ErrInvalidComponent, id, field, i)
		}
		if bands[i+1].Min.Cmp(*b.Max) <= 0 {
			return fmt.Errorf("%w %q: %s[%d] overlaps %s[%d]", ErrInvalidComponent, id, field, i, field, i+1)
		}
	}
	return nil
}
