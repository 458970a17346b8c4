package convergence

import (
	"math"
	"sort"
)

// Weights of the match score.
const (
	fieldWeight    = 0.55
	sheetWeight    = 0.15
	affinityWeight = 0.30

	exactMatchScore = 0.95
	goalPenalty     = 0.5
)

// ScoredField is a ranked candidate for one metric.
type ScoredField struct {
	Profile FieldProfile
	Score   float64
}

// Score rates how likely a field is to carry a metric, in [0,1].
func Score(metric string, p FieldProfile) float64 {
	if !p.Semantic.IsNumeric() {
		return 0
	}
	metricTokens := Tokenize(metric)
	fieldTokens := Tokenize(p.Field)
	fieldCov := coverage(metricTokens, fieldTokens)
	sheetCov := coverage(metricTokens, Tokenize(p.DataType))
	if fieldCov == 0 && sheetCov == 0 {
		return 0
	}

	score := fieldWeight*fieldCov + sheetWeight*sheetCov + affinityWeight*affinity(MetricSemantic(metric), p.Semantic)
	if containsAny(fieldTokens, goalWords) && !containsAny(metricTokens, goalWords) {
		score *= goalPenalty
	}
	if Normalize(metric) == Normalize(p.Field) {
		score = math.Max(score, exactMatchScore)
	}
	return round3(score)
}

// Rank scores every profile against metric and returns the non-zero
// candidates, best first. Ties prefer entity-level fields, then id order.
func Rank(metric string, inv *Inventory) []ScoredField {
	var ranked []ScoredField
	for _, p := range inv.Profiles {
		if s := Score(metric, p); s > 0 {
			ranked = append(ranked, ScoredField{Profile: p, Score: s})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Profile.EntityRows != b.Profile.EntityRows {
			return a.Profile.EntityRows > b.Profile.EntityRows
		}
		return a.Profile.ID() < b.Profile.ID()
	})
	return ranked
}

// attainment is an actuals/goal pair that together produce a percentage metric.
type attainment struct {
	Actual ScoredField
	Goal   ScoredField
}

// Score is the weaker of the two bindings.
func (a attainment) Score() float64 {
	return math.Min(a.Actual.Score, a.Goal.Score)
}

// findAttainment looks for an actuals field and a goal field sharing the
// metric's base tokens (the name without attainment words). Goals in the
// same data type as the actuals are preferred.
func findAttainment(metric string, inv *Inventory) (attainment, bool) {
	base := without(Tokenize(metric), percentWords)
	if len(base) == 0 {
		return attainment{}, false
	}

	baseScore := func(p FieldProfile, drop map[string]bool) float64 {
		fieldCov := coverage(base, without(Tokenize(p.Field), drop))
		sheetCov := coverage(base, Tokenize(p.DataType))
		if fieldCov == 0 && sheetCov == 0 {
			return 0
		}
		return round3(fieldWeight*fieldCov + sheetWeight*sheetCov + affinityWeight)
	}

	var actual ScoredField
	for _, p := range inv.Profiles {
		switch p.Semantic {
		case SemanticCurrency, SemanticCount, SemanticNumeric:
		default:
			continue
		}
		if containsAny(Tokenize(p.Field), goalWords) {
			continue
		}
		if s := baseScore(p, actualWords); s > actual.Score {
			actual = ScoredField{Profile: p, Score: s}
		}
	}
	if actual.Score == 0 {
		return attainment{}, false
	}

	bestGoal := func(sameType bool) ScoredField {
		var goal ScoredField
		for _, p := range inv.Profiles {
			if sameType && p.DataType != actual.Profile.DataType {
				continue
			}
			if !p.Semantic.IsNumeric() || p.Semantic == SemanticBoolean || !containsAny(Tokenize(p.Field), goalWords) {
				continue
			}
			if s := baseScore(p, goalWords); s > goal.Score {
				goal = ScoredField{Profile: p, Score: s}
			}
		}
		return goal
	}

	goal := bestGoal(true)
	if goal.Score == 0 {
		goal = bestGoal(false)
	}
	if goal.Score == 0 {
		return attainment{}, false
	}
	return attainment{Actual: actual, Goal: goal}, true
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
