package calculation

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/CCAFRICA/spm-platform/internal/common"
	"github.com/CCAFRICA/spm-platform/internal/model"
	"github.com/CCAFRICA/spm-platform/internal/money"
)

// maxDerivationDepth bounds ratio-of-ratio chains.
const maxDerivationDepth = 4

// rowIndex groups a period's raw rows by entity and, for group-level rows,
// by group key. Row order is preserved.
type rowIndex struct {
	byEntity map[string][]model.RawDataRow
	byGroup  map[string][]model.RawDataRow
}

func newRowIndex(rows []model.RawDataRow) *rowIndex {
	idx := &rowIndex{
		byEntity: make(map[string][]model.RawDataRow),
		byGroup:  make(map[string][]model.RawDataRow),
	}
	for _, row := range rows {
		if row.IsEntityLevel() {
			idx.byEntity[row.EntityID] = append(idx.byEntity[row.EntityID], row)
			continue
		}
		if row.GroupKey != "" {
			idx.byGroup[row.GroupKey] = append(idx.byGroup[row.GroupKey], row)
		}
	}
	return idx
}

// Resolver turns metric names into values for one entity.
type Resolver struct {
	rows     *rowIndex
	bindings model.InputBindings
}

// NewResolver indexes rows for resolution against the plan's bindings.
func NewResolver(rows []model.RawDataRow, bindings model.InputBindings) *Resolver {
	return &Resolver{rows: newRowIndex(rows), bindings: bindings}
}

// Resolve finds a metric for entity. A metric without a derivation reads a
// field of that name from the entity's rows. A metric with a derivation
// applies it over the entity's rows first, then falls back to a same-named
// field, then to the group-level rows of the entity's group. Ratio metrics
// are always computed. Anything else is missing.
func (r *Resolver) Resolve(entity model.Entity, metric string) model.ResolvedInput {
	return r.resolve(entity, metric, 0)
}

func (r *Resolver) resolve(entity model.Entity, metric string, depth int) model.ResolvedInput {
	missing := model.ResolvedInput{Metric: metric, Path: model.PathMissing, Value: money.Zero}
	if depth > maxDerivationDepth {
		missing.Source = "derivation depth exceeded"
		return missing
	}

	d, hasDerivation := r.bindings.Find(metric)
	if !hasDerivation {
		if in, ok := r.direct(entity, metric); ok {
			return in
		}
		return missing
	}

	if d.Operation == model.OpRatio {
		return r.ratio(entity, d, depth)
	}

	entityRows := matching(r.rows.byEntity[entity.ID], d.SourcePattern)
	if v, ok := aggregate(entityRows, d); ok {
		return model.ResolvedInput{
			Metric:     metric,
			Path:       model.PathDerived,
			Source:     fmt.Sprintf("derived:%s(%s.%s)", d.Operation, d.SourcePattern, d.SourceField),
			Value:      v,
			Confidence: d.EffectiveConfidence(),
			Resolved:   true,
		}
	}
	if in, ok := r.direct(entity, metric); ok {
		return in
	}

	if entity.GroupKey != "" {
		groupRows := matching(r.rows.byGroup[entity.GroupKey], d.SourcePattern)
		if v, ok := aggregate(groupRows, d); ok {
			return model.ResolvedInput{
				Metric:     metric,
				Path:       model.PathAggregated,
				Source:     fmt.Sprintf("aggregated:%s %s(%s.%s)", entity.GroupKey, d.Operation, d.SourcePattern, d.SourceField),
				Value:      v,
				Confidence: d.EffectiveConfidence(),
				Resolved:   true,
			}
		}
	}
	return missing
}

func (r *Resolver) direct(entity model.Entity, metric string) (model.ResolvedInput, bool) {
	for _, row := range r.rows.byEntity[entity.ID] {
		raw, ok := lookupField(row.Data, metric)
		if !ok {
			continue
		}
		v, ok := money.Parse(raw)
		if !ok {
			continue
		}
		return model.ResolvedInput{
			Metric:     metric,
			Path:       model.PathDirect,
			Source:     fmt.Sprintf("direct:%s.%s", row.DataType, metric),
			Value:      v,
			Confidence: 1,
			Resolved:   true,
		}, true
	}
	return model.ResolvedInput{}, false
}

func (r *Resolver) ratio(entity model.Entity, d model.MetricDerivation, depth int) model.ResolvedInput {
	num := r.resolve(entity, d.NumeratorMetric, depth+1)
	den := r.resolve(entity, d.DenominatorMetric, depth+1)
	source := fmt.Sprintf("derived:ratio(%s/%s)", d.NumeratorMetric, d.DenominatorMetric)
	out := model.ResolvedInput{Metric: d.Metric, Path: model.PathMissing, Source: source, Value: money.Zero}
	if !num.Resolved || !den.Resolved || den.Value.IsZero() {
		return out
	}

	v, err := num.Value.Div(den.Value)
	if err != nil {
		return out
	}
	if d.ScaleFactor != nil {
		v = v.Mul(*d.ScaleFactor)
	}

	out.Path = model.PathDerived
	if num.Path == model.PathAggregated || den.Path == model.PathAggregated {
		out.Path = model.PathAggregated
	}
	out.Value = v
	out.Confidence = minFloat(num.Confidence, den.Confidence, d.EffectiveConfidence())
	out.Resolved = true
	return out
}

// matching filters rows whose data type matches a derivation's source pattern.
func matching(rows []model.RawDataRow, pattern string) []model.RawDataRow {
	var out []model.RawDataRow
	for _, row := range rows {
		ok, err := common.MatchRegex(pattern, row.DataType)
		if err != nil {
			slog.Debug("Invalid source pattern", "pattern", pattern, "error", err)
			return nil
		}
		if ok {
			out = append(out, row)
		}
	}
	return out
}

// aggregate applies a derivation operation to rows. It reports false when
// no row carries a usable value.
func aggregate(rows []model.RawDataRow, d model.MetricDerivation) (money.Decimal, bool) {
	if d.Operation == model.OpCount {
		n := 0
		for _, row := range rows {
			if d.SourceField == "" {
				n++
				continue
			}
			if raw, ok := lookupField(row.Data, d.SourceField); ok && raw != nil && raw != "" {
				n++
			}
		}
		return money.FromInt(int64(n)), n > 0
	}

	var values []money.Decimal
	for _, row := range rows {
		raw, ok := lookupField(row.Data, d.SourceField)
		if !ok {
			continue
		}
		if v, ok := money.Parse(raw); ok {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return money.Zero, false
	}

	switch d.Operation {
	case model.OpSum:
		return money.Sum(values...), true
	case model.OpAvg:
		avg, err := money.Sum(values...).Div(money.FromInt(int64(len(values))))
		return avg, err == nil
	case model.OpMax:
		best := values[0]
		for _, v := range values[1:] {
			if v.Cmp(best) > 0 {
				best = v
			}
		}
		return best, true
	case model.OpMin:
		best := values[0]
		for _, v := range values[1:] {
			best = best.Min(v)
		}
		return best, true
	}
	return money.Zero, false
}

// lookupField finds a row field by exact name, then case-insensitively.
// Several case variants resolve to the lexically smallest key.
func lookupField(data map[string]any, field string) (any, bool) {
	if v, ok := data[field]; ok {
		return v, true
	}
	var (
		match string
		found bool
	)
	for k := range data {
		if strings.EqualFold(k, field) && (!found || k < match) {
			match, found = k, true
		}
	}
	if !found {
		return nil, false
	}
	return data[match], true
}

func minFloat(first float64, rest ...float64) float64 {
	m := first
	for _, v := range rest {
		if v < m {
			m = v
		}
	}
	return m
}
