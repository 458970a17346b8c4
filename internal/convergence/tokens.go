package convergence

import (
	"strings"
	"unicode"
)

// Semantic is the inferred kind of value a field or metric carries.
type Semantic string

// Semantic types.
const (
	SemanticCurrency   Semantic = "currency"
	SemanticPercentage Semantic = "percentage"
	SemanticCount      Semantic = "count"
	SemanticBoolean    Semantic = "boolean"
	SemanticIdentifier Semantic = "identifier"
	SemanticText       Semantic = "text"
	SemanticNumeric    Semantic = "numeric"
)

// IsNumeric reports whether values of this type can feed a metric.
func (s Semantic) IsNumeric() bool {
	return s != SemanticIdentifier && s != SemanticText
}

var synonyms = map[string]string{
	"rev":           "revenue",
	"revenues":      "revenue",
	"amt":           "amount",
	"qty":           "quantity",
	"pct":           "percent",
	"percentage":    "percent",
	"att":           "attainment",
	"attain":        "attainment",
	"achievement":   "attainment",
	"tgt":           "target",
	"targets":       "target",
	"goals":         "goal",
	"quotas":        "quota",
	"sale":          "sales",
	"txn":           "transactions",
	"txns":          "transactions",
	"cnt":           "count",
	"num":           "number",
	"no":            "number",
	"vol":           "volume",
	"ins":           "insurance",
	"cert":          "certified",
	"certification": "certified",
}

var stopWords = map[string]bool{
	"the": true, "of": true, "and": true, "total": true, "monthly": true,
	"sheet": true, "data": true, "value": true, "by": true, "per": true,
}

var (
	percentWords  = set("attainment", "percent", "rate", "ratio")
	goalWords     = set("goal", "target", "quota", "budget", "objective")
	actualWords   = set("actual", "actuals", "achieved", "real")
	currencyWords = set("revenue", "sales", "amount", "premium", "volume", "commission", "payout", "income", "usd", "dollars")
	countWords    = set("count", "units", "quantity", "visits", "transactions", "tickets", "orders", "policies", "days", "exams")
	booleanWords  = set("certified", "flag", "is", "has", "eligible", "active", "enrolled")
	idWords       = set("id", "code", "number", "key", "uuid", "external", "sku")
)

func set(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// Tokenize splits a field, sheet or metric name into normalized tokens.
// snake_case, kebab-case, spaces and camelCase boundaries all separate tokens.
func Tokenize(name string) []string {
	var (
		tokens  []string
		current []rune
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		tok := strings.ToLower(string(current))
		current = current[:0]
		if s, ok := synonyms[tok]; ok {
			tok = s
		}
		if stopWords[tok] {
			return
		}
		tokens = append(tokens, tok)
	}

	runes := []rune(name)
	for i, r := range runes {
		switch {
		case r == '%':
			flush()
			current = append(current, []rune("percent")...)
			flush()
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			flush()
		case unicode.IsUpper(r) && i > 0 && unicode.IsLower(runes[i-1]):
			flush()
			current = append(current, r)
		case unicode.IsDigit(r) && i > 0 && unicode.IsLetter(runes[i-1]),
			unicode.IsLetter(r) && i > 0 && unicode.IsDigit(runes[i-1]):
			flush()
			current = append(current, r)
		default:
			current = append(current, r)
		}
	}
	flush()
	return tokens
}

// Normalize joins the tokens of name with underscores.
func Normalize(name string) string {
	return strings.Join(Tokenize(name), "_")
}

// coverage is the fraction of want tokens present in have.
func coverage(want, have []string) float64 {
	if len(want) == 0 {
		return 0
	}
	present := make(map[string]bool, len(have))
	for _, h := range have {
		present[h] = true
	}
	hits := 0
	for _, w := range want {
		if present[w] {
			hits++
		}
	}
	return float64(hits) / float64(len(want))
}

func without(tokens []string, drop map[string]bool) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !drop[t] {
			out = append(out, t)
		}
	}
	return out
}

func containsAny(tokens []string, words map[string]bool) bool {
	for _, t := range tokens {
		if words[t] {
			return true
		}
	}
	return false
}

// MetricSemantic infers what kind of value a plan metric expects from its name.
func MetricSemantic(metric string) Semantic {
	tokens := Tokenize(metric)
	switch {
	case containsAny(tokens, percentWords):
		return SemanticPercentage
	case containsAny(tokens, booleanWords):
		return SemanticBoolean
	case containsAny(tokens, countWords):
		return SemanticCount
	case containsAny(tokens, currencyWords):
		return SemanticCurrency
	}
	return SemanticNumeric
}

// affinity scores how well a field's semantic type can feed a metric's.
func affinity(metric, field Semantic) float64 {
	if !field.IsNumeric() {
		return 0
	}
	if metric == field {
		return 1
	}
	switch {
	case metric == SemanticNumeric || field == SemanticNumeric:
		return 0.7
	case metric == SemanticCount && field == SemanticCurrency,
		metric == SemanticCurrency && field == SemanticCount:
		return 0.4
	case metric == SemanticBoolean && field == SemanticCount,
		metric == SemanticCount && field == SemanticBoolean:
		return 0.5
	case metric == SemanticPercentage:
		return 0.3
	}
	return 0.2
}
