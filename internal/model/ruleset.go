package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidRuleSet is wrapped by every rule set validation failure.
var ErrInvalidRuleSet = errors.New("invalid rule set")

// RuleSetStatus is the lifecycle state of a plan.
type RuleSetStatus string

// Rule set statuses.
const (
	RuleSetDraft    RuleSetStatus = "draft"
	RuleSetActive   RuleSetStatus = "active"
	RuleSetArchived RuleSetStatus = "archived"
)

// GatePolicy decides how far a failing conditional gate reaches.
type GatePolicy string

// Gate policies.
const (
	// GateBlocksVariant zeroes every component of the entity's variant.
	GateBlocksVariant GatePolicy = "block_variant"
	// GateComponentOnly zeroes only the gate itself.
	GateComponentOnly GatePolicy = "component_only"
)

// Variant is an alternate component list selected per entity.
type Variant struct {
	Key        string      `json:"key"`
	Name       string      `json:"name,omitempty"`
	Components []Component `json:"components"`
}

// EnabledComponents returns the enabled components in plan order.
func (v Variant) EnabledComponents() []Component {
	enabled := make([]Component, 0, len(v.Components))
	for _, c := range v.Components {
		if c.Enabled {
			enabled = append(enabled, c)
		}
	}
	return enabled
}

// VariantRule selects Variant when the population attribute equals Equals.
type VariantRule struct {
	Variant string `json:"variant"`
	Equals  string `json:"equals"`
}

// Population selects a variant per entity.
type Population struct {
	VariantAttribute string        `json:"variantAttribute,omitempty"`
	DefaultVariant   string        `json:"defaultVariant,omitempty"`
	VariantRules     []VariantRule `json:"variantRules,omitempty"`
}

// RuleSet is a compensation plan.
type RuleSet struct {
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
	ID            string        `json:"id"`
	TenantID      string        `json:"tenantId"`
	Name          string        `json:"name"`
	Status        RuleSetStatus `json:"status"`
	GatePolicy    GatePolicy    `json:"gatePolicy,omitempty"`
	Population    Population    `json:"population"`
	Variants      []Variant     `json:"variants"`
	InputBindings InputBindings `json:"input_bindings"`
	Version       int           `json:"version"`
}

// EffectiveGatePolicy defaults an unset policy to GateBlocksVariant.
func (r *RuleSet) EffectiveGatePolicy() GatePolicy {
	if r.GatePolicy == "" {
		return GateBlocksVariant
	}
	return r.GatePolicy
}

// Variant returns the variant with the given key.
func (r *RuleSet) Variant(key string) (Variant, bool) {
	for _, v := range r.Variants {
		if v.Key == key {
			return v, true
		}
	}
	return Variant{}, false
}

// RequiredMetrics lists every metric read by any enabled component across
// all variants, deduplicated case-insensitively in first-seen order.
func (r *RuleSet) RequiredMetrics() []string {
	seen := make(map[string]bool)
	var metrics []string
	for _, v := range r.Variants {
		for _, c := range v.EnabledComponents() {
			for _, m := range c.Metrics() {
				key := strings.ToLower(m)
				if m == "" || seen[key] {
					continue
				}
				seen[key] = true
				metrics = append(metrics, m)
			}
		}
	}
	return metrics
}

// Validate checks structural invariants of the plan.
func (r *RuleSet) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidRuleSet)
	}
	switch r.Status {
	case "", RuleSetDraft, RuleSetActive, RuleSetArchived:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRuleSet, r.Status)
	}
	switch r.GatePolicy {
	case "", GateBlocksVariant, GateComponentOnly:
	default:
		return fmt.Errorf("%w: unknown gate policy %q", ErrInvalidRuleSet, r.GatePolicy)
	}
	if len(r.Variants) == 0 {
		return fmt.Errorf("%w: at least one variant required", ErrInvalidRuleSet)
	}

	keys := make(map[string]bool)
	for _, v := range r.Variants {
		if v.Key == "" {
			return fmt.Errorf("%w: variant missing key", ErrInvalidRuleSet)
		}
		if keys[v.Key] {
			return fmt.Errorf("%w: duplicate variant %q", ErrInvalidRuleSet, v.Key)
		}
		keys[v.Key] = true
		if len(v.Components) == 0 {
			return fmt.Errorf("%w: variant %q has no components", ErrInvalidRuleSet, v.Key)
		}
		ids := make(map[string]bool)
		for _, c := range v.Components {
			if err := c.Validate(); err != nil {
				return fmt.Errorf("%w: variant %q: %w", ErrInvalidRuleSet, v.Key, err)
			}
			if ids[c.ID] {
				return fmt.Errorf("%w: variant %q has duplicate component %q", ErrInvalidRuleSet, v.Key, c.ID)
			}
			ids[c.ID] = true
		}
	}

	if d := r.Population.DefaultVariant; d != "" && !keys[d] {
		return fmt.Errorf("%w: default variant %q does not exist", ErrInvalidRuleSet, d)
	}
	for _, rule := range r.Population.VariantRules {
		if !keys[rule.Variant] {
			return fmt.Errorf("%w: variant rule references unknown variant %q", ErrInvalidRuleSet, rule.Variant)
		}
	}

	metrics := make(map[string]bool)
	for _, d := range r.InputBindings.MetricDerivations {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRuleSet, err)
		}
		key := strings.ToLower(d.Metric)
		if metrics[key] {
			return fmt.Errorf("%w: duplicate derivation for metric %q", ErrInvalidRuleSet, d.Metric)
		}
		metrics[key] = true
	}
	return nil
}
