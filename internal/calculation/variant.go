package calculation

import (
	"strings"

	"github.com/CCAFRICA/spm-platform/internal/model"
)

// SelectVariant picks the variant an entity is paid under: the assignment's
// explicit variant, then the first population rule matching the entity's
// variant attribute, then the plan default, then the first variant.
// ok is false when an explicit or default variant names a variant the plan
// does not have; the fallback is still returned.
func SelectVariant(rs *model.RuleSet, entity model.Entity, assignment model.Assignment) (model.Variant, bool) {
	ok := true
	if key := assignment.VariantKey; key != "" {
		if v, found := rs.Variant(key); found {
			return v, true
		}
		ok = false
	}

	pop := rs.Population
	if pop.VariantAttribute != "" {
		if value, found := attribute(entity.Attributes, pop.VariantAttribute); found {
			for _, rule := range pop.VariantRules {
				if strings.EqualFold(strings.TrimSpace(value), strings.TrimSpace(rule.Equals)) {
					if v, found := rs.Variant(rule.Variant); found {
						return v, ok
					}
				}
			}
		}
	}

	if pop.DefaultVariant != "" {
		if v, found := rs.Variant(pop.DefaultVariant); found {
			return v, ok
		}
		ok = false
	}
	return rs.Variants[0], ok
}

func attribute(attrs map[string]string, name string) (string, bool) {
	if v, ok := attrs[name]; ok {
		return v, true
	}
	for k, v := range attrs {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}
