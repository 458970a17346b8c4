package convergence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"snake case", "store_optical_sales", []string{"store", "optical", "sales"}},
		{"camel case", "storeOpticalSales", []string{"store", "optical", "sales"}},
		{"synonyms", "Ins Rev", []string{"insurance", "revenue"}},
		{"percent sign", "Attainment %", []string{"attainment", "percent"}},
		{"stop words", "Total Sales by Store", []string{"sales", "store"}},
		{"digits split", "q1Sales", []string{"q", "1", "sales"}},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.in))
		})
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, Normalize("insurance_revenue"), Normalize("Ins Rev"))
	assert.NotEqual(t, Normalize("store_sales"), Normalize("store_sales_goal"))
}

func TestMetricSemantic(t *testing.T) {
	tests := map[string]Semantic{
		"optical_attainment": SemanticPercentage,
		"collection_rate":    SemanticPercentage,
		"is_certified":       SemanticBoolean,
		"store_visits":       SemanticCount,
		"insurance_revenue":  SemanticCurrency,
		"attendance":         SemanticNumeric,
	}
	for metric, want := range tests {
		assert.Equal(t, want, MetricSemantic(metric), metric)
	}
}

func TestAffinity(t *testing.T) {
	assert.Equal(t, 1.0, affinity(SemanticCurrency, SemanticCurrency))
	assert.Zero(t, affinity(SemanticCurrency, SemanticIdentifier))
	assert.Zero(t, affinity(SemanticNumeric, SemanticText))
	assert.Greater(t, affinity(SemanticCurrency, SemanticNumeric), affinity(SemanticPercentage, SemanticCurrency))
}
