// Package anomaly is a read-only statistical health check over the totals
// of one calculation batch.
package anomaly

import (
	"fmt"
	"math"
	"sort"

	"github.com/CCAFRICA/spm-platform/internal/money"
)

// Kind names an anomaly check.
type Kind string

// Anomaly kinds.
const (
	KindIdenticalValues Kind = "identical_values"
	KindOutlierHigh     Kind = "outlier_high"
	KindOutlierLow      Kind = "outlier_low"
	KindZeroPayout      Kind = "zero_payout"
	KindMissingEntity   Kind = "missing_entity"
)

// Severity ranks how urgently an anomaly needs review.
type Severity string

// Severities.
const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

// Record is one entity's total payout.
type Record struct {
	EntityID    string        `json:"entityId"`
	TotalPayout money.Decimal `json:"totalPayout"`
}

// Anomaly is one finding and the entities it affects.
type Anomaly struct {
	Kind        Kind     `json:"kind"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Value       string   `json:"value,omitempty"`
	EntityIDs   []string `json:"entityIds"`
}

// Stats describes the payout distribution. StdDev is the population
// standard deviation.
type Stats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Report is the detector output.
type Report struct {
	Anomalies []Anomaly `json:"anomalies"`
	Stats     Stats     `json:"stats"`
}

// Options tunes the checks.
type Options struct {
	StdDevThreshold   float64
	IdenticalMinCount int
}

// DefaultOptions returns the usual thresholds.
func DefaultOptions() Options {
	return Options{StdDevThreshold: 2, IdenticalMinCount: 3}
}

var kindOrder = map[Kind]int{
	KindMissingEntity:   0,
	KindOutlierHigh:     1,
	KindOutlierLow:      2,
	KindIdenticalValues: 3,
	KindZeroPayout:      4,
}

// Detect runs every check independently. assigned lists the entities that
// should have a result; pass nil to skip the missing-entity check. Anomalies
// are sorted by affected entity count, largest first.
func Detect(records []Record, assigned []string, opts Options) Report {
	if opts.StdDevThreshold <= 0 {
		opts.StdDevThreshold = DefaultOptions().StdDevThreshold
	}
	if opts.IdenticalMinCount < 2 {
		opts.IdenticalMinCount = DefaultOptions().IdenticalMinCount
	}

	report := Report{Stats: computeStats(records)}
	report.Anomalies = append(report.Anomalies, identicalValues(records, opts.IdenticalMinCount)...)
	report.Anomalies = append(report.Anomalies, outliers(records, report.Stats, opts.StdDevThreshold)...)
	if a, ok := zeroPayouts(records, report.Stats); ok {
		report.Anomalies = append(report.Anomalies, a)
	}
	if a, ok := missingEntities(records, assigned); ok {
		report.Anomalies = append(report.Anomalies, a)
	}

	sort.SliceStable(report.Anomalies, func(i, j int) bool {
		a, b := report.Anomalies[i], report.Anomalies[j]
		if len(a.EntityIDs) != len(b.EntityIDs) {
			return len(a.EntityIDs) > len(b.EntityIDs)
		}
		return kindOrder[a.Kind] < kindOrder[b.Kind]
	})
	return report
}

func computeStats(records []Record) Stats {
	n := len(records)
	if n == 0 {
		return Stats{}
	}
	values := make([]float64, n)
	var total float64
	for i, r := range records {
		values[i] = r.TotalPayout.Float64()
		total += values[i]
	}
	sort.Float64s(values)

	mean := total / float64(n)
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}

	median := values[n/2]
	if n%2 == 0 {
		median = (values[n/2-1] + values[n/2]) / 2
	}
	return Stats{
		Count:  n,
		Mean:   mean,
		StdDev: math.Sqrt(sq / float64(n)),
		Median: median,
		Min:    values[0],
		Max:    values[n-1],
	}
}

func identicalValues(records []Record, minCount int) []Anomaly {
	groups := make(map[string][]string)
	var keys []string
	for _, r := range records {
		key := r.TotalPayout.RoundCents().String()
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], r.EntityID)
	}

	var out []Anomaly
	for _, key := range keys {
		ids := groups[key]
		if len(ids) < minCount {
			continue
		}
		sort.Strings(ids)
		out = append(out, Anomaly{
			Kind:        KindIdenticalValues,
			Severity:    SeverityMedium,
			Value:       key,
			EntityIDs:   ids,
			Description: fmt.Sprintf("%d entities share the payout %s", len(ids), key),
		})
	}
	return out
}

func outliers(records []Record, stats Stats, threshold float64) []Anomaly {
	if stats.StdDev == 0 {
		return nil
	}
	upper := stats.Mean + threshold*stats.StdDev
	lower := stats.Mean - threshold*stats.StdDev

	var high, low []string
	for _, r := range records {
		v := r.TotalPayout.Float64()
		switch {
		case v > upper:
			high = append(high, r.EntityID)
		case v < lower && !r.TotalPayout.IsZero():
			low = append(low, r.EntityID)
		}
	}

	var out []Anomaly
	if len(high) > 0 {
		sort.Strings(high)
		out = append(out, Anomaly{
			Kind:        KindOutlierHigh,
			Severity:    SeverityHigh,
			EntityIDs:   high,
			Value:       fmt.Sprintf("%.2f", upper),
			Description: fmt.Sprintf("%d payouts above mean + %.1f standard deviations (%.2f)", len(high), threshold, upper),
		})
	}
	if len(low) > 0 {
		sort.Strings(low)
		out = append(out, Anomaly{
			Kind:        KindOutlierLow,
			Severity:    SeverityHigh,
			EntityIDs:   low,
			Value:       fmt.Sprintf("%.2f", lower),
			Description: fmt.Sprintf("%d non-zero payouts below mean - %.1f standard deviations (%.2f)", len(low), threshold, lower),
		})
	}
	return out
}

func zeroPayouts(records []Record, stats Stats) (Anomaly, bool) {
	if stats.Mean <= 0 {
		return Anomaly{}, false
	}
	var ids []string
	for _, r := range records {
		if r.TotalPayout.IsZero() {
			ids = append(ids, r.EntityID)
		}
	}
	if len(ids) == 0 {
		return Anomaly{}, false
	}
	sort.Strings(ids)
	return Anomaly{
		Kind:        KindZeroPayout,
		Severity:    SeverityMedium,
		EntityIDs:   ids,
		Description: fmt.Sprintf("%d entities paid $0 while the mean payout is %.2f", len(ids), stats.Mean),
	}, true
}

func missingEntities(records []Record, assigned []string) (Anomaly, bool) {
	if len(assigned) == 0 {
		return Anomaly{}, false
	}
	present := make(map[string]bool, len(records))
	for _, r := range records {
		present[r.EntityID] = true
	}
	seen := make(map[string]bool)
	var ids []string
	for _, id := range assigned {
		if !present[id] && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return Anomaly{}, false
	}
	sort.Strings(ids)
	return Anomaly{
		Kind:        KindMissingEntity,
		Severity:    SeverityHigh,
		EntityIDs:   ids,
		Description: fmt.Sprintf("%d assigned entities have no result", len(ids)),
	}, true
}

// Count returns how many anomalies of kind the report holds.
func (r Report) Count(kind Kind) int {
	n := 0
	for _, a := range r.Anomalies {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

// Find returns the first anomaly of kind.
func (r Report) Find(kind Kind) (Anomaly, bool) {
	for _, a := range r.Anomalies {
		if a.Kind == kind {
			return a, true
		}
	}
	return Anomaly{}, false
}
