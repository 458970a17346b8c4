package convergence

import (
	"strings"

	"github.com/CCAFRICA/spm-platform/internal/model"
)

// MergeAction is what happened to one incoming derivation.
type MergeAction string

// Merge actions.
const (
	ActionAppended MergeAction = "appended"
	ActionSkipped  MergeAction = "skipped"
	ActionRenamed  MergeAction = "renamed"
	ActionReplaced MergeAction = "replaced"
)

// MergeEvent records one merge decision.
type MergeEvent struct {
	Metric string      `json:"metric"`
	Action MergeAction `json:"action"`
	Detail string      `json:"detail,omitempty"`
}

// MergeDerivations folds incoming derivations into existing ones. Metric
// names stay unique, except that a ratio for M takes over the name and the
// raw derivation it displaces lives on as M_actuals. Merging the same
// input twice is a no-op. existing is not modified.
func MergeDerivations(existing, incoming []model.MetricDerivation) ([]model.MetricDerivation, []MergeEvent) {
	out := make([]model.MetricDerivation, len(existing))
	copy(out, existing)
	var events []MergeEvent

	for _, d := range incoming {
		idx := indexOf(out, d.Metric)
		switch {
		case idx < 0:
			out = append(out, d)
			events = append(events, MergeEvent{Metric: d.Metric, Action: ActionAppended})

		case out[idx].Operation == d.Operation:
			events = append(events, MergeEvent{Metric: d.Metric, Action: ActionSkipped})

		case d.Operation == model.OpRatio:
			actuals := out[idx].Metric + model.ActualsSuffix
			if indexOf(out, actuals) >= 0 {
				out = append(out[:idx], out[idx+1:]...)
				events = append(events, MergeEvent{Metric: d.Metric, Action: ActionRenamed, Detail: "dropped; " + actuals + " already exists"})
			} else {
				out[idx].Metric = actuals
				events = append(events, MergeEvent{Metric: d.Metric, Action: ActionRenamed, Detail: "renamed to " + actuals})
			}
			out = append(out, d)
			events = append(events, MergeEvent{Metric: d.Metric, Action: ActionAppended})

		case out[idx].Operation == model.OpRatio:
			actuals := d.Metric + model.ActualsSuffix
			if indexOf(out, actuals) >= 0 {
				events = append(events, MergeEvent{Metric: actuals, Action: ActionSkipped})
				continue
			}
			d.Metric = actuals
			out = append(out, d)
			events = append(events, MergeEvent{Metric: actuals, Action: ActionAppended})

		default:
			out[idx] = d
			events = append(events, MergeEvent{Metric: d.Metric, Action: ActionReplaced})
		}
	}
	return out, events
}

// Changed reports whether any event altered the derivation list.
func Changed(events []MergeEvent) bool {
	for _, e := range events {
		if e.Action != ActionSkipped {
			return true
		}
	}
	return false
}

func indexOf(derivations []model.MetricDerivation, metric string) int {
	for i, d := range derivations {
		if strings.EqualFold(d.Metric, metric) {
			return i
		}
	}
	return -1
}
