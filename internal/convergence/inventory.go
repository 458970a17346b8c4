package convergence

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/CCAFRICA/spm-platform/internal/money"
	"github.com/CCAFRICA/spm-platform/internal/service"
)

// FieldProfile summarizes one field of one data type across the scanned rows.
type FieldProfile struct {
	DataType   string
	Field      string
	Semantic   Semantic
	Rows       int
	Numeric    int
	Integers   int
	Booleans   int
	EntityRows int
	GroupRows  int
	MaxAbs     float64
}

// ID is the candidate id reported to callers and the AI service.
func (p FieldProfile) ID() string {
	return p.DataType + "." + p.Field
}

// NumericRatio is the fraction of non-empty values that parsed as numbers.
func (p FieldProfile) NumericRatio() float64 {
	if p.Rows == 0 {
		return 0
	}
	return float64(p.Numeric) / float64(p.Rows)
}

// Inventory is every field seen in a tenant's raw data.
type Inventory struct {
	Profiles []FieldProfile
	RowCount int
}

// BuildInventory scans raw data page by page and profiles each
// (data_type, field) pair. An empty periodID scans every period.
func BuildInventory(ctx context.Context, store service.Storage, tenantID, periodID string, pageSize int) (*Inventory, error) {
	if pageSize <= 0 {
		pageSize = 500
	}

	profiles := make(map[string]*FieldProfile)
	inv := &Inventory{}
	for offset := 0; ; offset += pageSize {
		rows, err := store.ListRawData(ctx, service.RawDataFilter{
			TenantID: tenantID,
			PeriodID: periodID,
			Limit:    pageSize,
			Offset:   offset,
		})
		if err != nil {
			return nil, fmt.Errorf("scan raw data: %w", err)
		}

		for _, row := range rows {
			inv.RowCount++
			for field, value := range row.Data {
				key := row.DataType + "\x00" + field
				p, ok := profiles[key]
				if !ok {
					p = &FieldProfile{DataType: row.DataType, Field: field}
					profiles[key] = p
				}
				observe(p, value)
				if row.IsEntityLevel() {
					p.EntityRows++
				} else {
					p.GroupRows++
				}
			}
		}

		if len(rows) < pageSize {
			break
		}
	}

	inv.Profiles = make([]FieldProfile, 0, len(profiles))
	for _, p := range profiles {
		p.Semantic = classifyField(*p)
		inv.Profiles = append(inv.Profiles, *p)
	}
	sort.Slice(inv.Profiles, func(i, j int) bool {
		return inv.Profiles[i].ID() < inv.Profiles[j].ID()
	})
	return inv, nil
}

func observe(p *FieldProfile, value any) {
	if value == nil {
		return
	}
	if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
		return
	}
	p.Rows++

	if _, ok := value.(bool); ok {
		p.Booleans++
		p.Numeric++
		return
	}
	if s, ok := value.(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "false", "yes", "no", "y", "n":
			p.Booleans++
			return
		}
	}

	d, ok := money.Parse(value)
	if !ok {
		return
	}
	p.Numeric++
	if d.Equal(d.Round(0)) {
		p.Integers++
	}
	f := d.Abs().Float64()
	if f > p.MaxAbs {
		p.MaxAbs = f
	}
}

// classifyField infers a field's semantic type from its name and the values seen.
func classifyField(p FieldProfile) Semantic {
	tokens := Tokenize(p.Field)
	switch {
	case containsAny(tokens, idWords):
		return SemanticIdentifier
	case p.Rows > 0 && p.Booleans == p.Rows:
		return SemanticBoolean
	case p.NumericRatio() < 0.5:
		return SemanticText
	case containsAny(tokens, percentWords):
		return SemanticPercentage
	case containsAny(tokens, booleanWords) && p.MaxAbs <= 1:
		return SemanticBoolean
	case containsAny(tokens, countWords):
		return SemanticCount
	case containsAny(tokens, currencyWords), containsAny(tokens, goalWords):
		return SemanticCurrency
	case p.Integers == p.Numeric && p.MaxAbs < 10000:
		return SemanticCount
	}
	return SemanticNumeric
}
