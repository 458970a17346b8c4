package synaptic

import (
	"fmt"
	"sort"
	"strings"
)

// Surface is a read-only view over a density. Agents use it as a prior,
// never as ground truth.
type Surface struct {
	density *Density
}

// NewSurface wraps a density. A nil density behaves as empty.
func NewSurface(d *Density) *Surface {
	if d == nil {
		d = NewDensity()
	}
	return &Surface{density: d}
}

// IsEmpty reports whether the surface has no history at all.
func (s *Surface) IsEmpty() bool {
	return s.density.IsEmpty()
}

// RepeatedCorrections reports whether the cohort has at least min
// correction signals of kind. An empty kind counts every correction.
func (s *Surface) RepeatedCorrections(kind string, c Cohort, min int) bool {
	syn := s.density.Correction.get(c)
	if syn == nil {
		return false
	}
	if kind == "" {
		return syn.Count >= min
	}
	return syn.Kinds[kind] >= min
}

// CorrectionCount is the number of correction signals on the cohort.
func (s *Surface) CorrectionCount(c Cohort) int {
	if syn := s.density.Correction.get(c); syn != nil {
		return syn.Count
	}
	return 0
}

// MeanCorrectionDelta is the average corrected amount on the cohort.
func (s *Surface) MeanCorrectionDelta(c Cohort) (float64, bool) {
	syn := s.density.Correction.get(c)
	if syn == nil || syn.Count == 0 {
		return 0, false
	}
	return syn.MeanDelta(), true
}

// ConfidenceFor is the mean historical binding confidence of a metric.
func (s *Surface) ConfidenceFor(metric string) (float64, bool) {
	syn := s.density.Confidence.get(MetricCohort(metric))
	if syn == nil || syn.Count == 0 {
		return 0, false
	}
	return syn.MeanConfidence, true
}

// AnomalyCount is the number of anomaly signals on the cohort.
func (s *Surface) AnomalyCount(c Cohort) int {
	if syn := s.density.Anomaly.get(c); syn != nil {
		return syn.Count
	}
	return 0
}

// DataQualityIssues is the number of data-quality signals on a metric.
func (s *Surface) DataQualityIssues(metric string) int {
	if syn := s.density.DataQuality.get(MetricCohort(metric)); syn != nil {
		return syn.Count
	}
	return 0
}

// Evidence describes every synapse held for the cohort, one line per bucket.
func (s *Surface) Evidence(c Cohort) []string {
	var lines []string
	for _, b := range []struct {
		name   string
		bucket Bucket
	}{
		{"correction", s.density.Correction},
		{"anomaly", s.density.Anomaly},
		{"data quality", s.density.DataQuality},
		{"confidence", s.density.Confidence},
	} {
		syn := b.bucket.get(c)
		if syn == nil || syn.Count == 0 {
			continue
		}
		line := fmt.Sprintf("%d %s signal(s) on %s %s", syn.Count, b.name, c.Kind, c.Key)
		switch b.name {
		case "correction":
			line += fmt.Sprintf(", mean delta %.2f", syn.MeanDelta())
		case "confidence":
			line += fmt.Sprintf(", mean confidence %.2f", syn.MeanConfidence)
		}
		if kinds := formatKinds(syn.Kinds); kinds != "" {
			line += " (" + kinds + ")"
		}
		lines = append(lines, line)
	}
	return lines
}

func formatKinds(kinds map[string]int) string {
	if len(kinds) == 0 {
		return ""
	}
	names := make([]string, 0, len(kinds))
	for k := range kinds {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, k := range names {
		parts[i] = fmt.Sprintf("%s=%d", k, kinds[k])
	}
	return strings.Join(parts, ", ")
}
