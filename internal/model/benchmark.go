package model

import (
	"strings"

	"github.com/CCAFRICA/spm-platform/internal/money"
)

// BenchmarkTotal is the component value that marks a total-level benchmark.
const BenchmarkTotal = "total"

// BenchmarkRecord is an externally supplied ground-truth amount.
type BenchmarkRecord struct {
	EntityExternalID string        `json:"entityExternalId"`
	Component        string        `json:"componentOrTotal,omitempty"`
	Amount           money.Decimal `json:"amount"`
}

// IsTotal reports whether the record benchmarks the entity total.
func (b BenchmarkRecord) IsTotal() bool {
	c := strings.TrimSpace(b.Component)
	return c == "" || strings.EqualFold(c, BenchmarkTotal)
}
