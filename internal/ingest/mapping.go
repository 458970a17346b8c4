package ingest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/CCAFRICA/spm-platform/internal/common"
	"github.com/CCAFRICA/spm-platform/internal/model"
	"github.com/CCAFRICA/spm-platform/internal/money"
)

// Default column names.
const (
	DefaultEntityColumn    = "entity_id"
	DefaultNameColumn      = "name"
	DefaultGroupColumn     = "store"
	DefaultComponentColumn = "component"
	DefaultAmountColumn    = "amount"
)

var entityNamespace = uuid.MustParse("6f1c3a52-8d0e-4c61-9b7a-2f4e5d8c1a90")

// EntityID derives a stable entity id from the tenant and external id, so
// re-importing a roster updates rather than duplicates.
func EntityID(tenantID, externalID string) string {
	key := tenantID + "/" + strings.ToLower(strings.TrimSpace(externalID))
	return uuid.NewSHA1(entityNamespace, []byte(key)).String()
}

// EntityOptions names the roster columns. Every other column becomes an
// attribute.
type EntityOptions struct {
	TenantID    string
	IDColumn    string
	NameColumn  string
	GroupColumn string
}

func (o *EntityOptions) defaults() {
	if o.IDColumn == "" {
		o.IDColumn = DefaultEntityColumn
	}
	if o.NameColumn == "" {
		o.NameColumn = DefaultNameColumn
	}
	if o.GroupColumn == "" {
		o.GroupColumn = DefaultGroupColumn
	}
}

// Entities maps roster records to entities.
func Entities(records []Record, opts EntityOptions) ([]model.Entity, error) {
	opts.defaults()
	out := make([]model.Entity, 0, len(records))
	seen := make(map[string]int, len(records))
	for i, rec := range records {
		ext := rec.String(opts.IDColumn)
		if ext == "" {
			return nil, fmt.Errorf("%w: roster row %d has no %s", common.ErrInvalidImport, i+1, opts.IDColumn)
		}
		if prev, ok := seen[strings.ToLower(ext)]; ok {
			return nil, fmt.Errorf("%w: roster rows %d and %d share id %s", common.ErrInvalidImport, prev, i+1, ext)
		}
		seen[strings.ToLower(ext)] = i + 1

		e := model.Entity{
			ID:         EntityID(opts.TenantID, ext),
			TenantID:   opts.TenantID,
			ExternalID: ext,
			Name:       rec.String(opts.NameColumn),
			GroupKey:   rec.String(opts.GroupColumn),
		}
		for col := range rec {
			switch col {
			case opts.IDColumn, opts.NameColumn, opts.GroupColumn:
				continue
			}
			if e.Attributes == nil {
				e.Attributes = make(map[string]string)
			}
			e.Attributes[col] = rec.String(col)
		}
		out = append(out, e)
	}
	return out, nil
}

// RowOptions scopes a raw data import. Records without an entity value
// become group-level rows keyed by GroupColumn.
type RowOptions struct {
	TenantID     string
	PeriodID     string
	DataType     string
	EntityColumn string
	GroupColumn  string
}

// RowResult is the outcome of mapping raw data records.
type RowResult struct {
	Rows []model.RawDataRow
	// Unknown lists external ids with no roster entry; their rows are skipped.
	Unknown []string
}

// Rows maps records to raw data rows, matching the entity column to roster
// external ids case-insensitively.
func Rows(records []Record, entities []model.Entity, opts RowOptions) (RowResult, error) {
	if opts.EntityColumn == "" {
		opts.EntityColumn = DefaultEntityColumn
	}
	if opts.GroupColumn == "" {
		opts.GroupColumn = DefaultGroupColumn
	}
	if strings.TrimSpace(opts.DataType) == "" {
		return RowResult{}, fmt.Errorf("%w: data type is required", common.ErrInvalidImport)
	}

	byExternal := make(map[string]model.Entity, len(entities))
	for _, e := range entities {
		byExternal[strings.ToLower(e.ExternalID)] = e
	}

	var (
		result  RowResult
		unknown = make(map[string]bool)
	)
	for i, rec := range records {
		row := model.RawDataRow{
			TenantID: opts.TenantID,
			PeriodID: opts.PeriodID,
			DataType: opts.DataType,
			GroupKey: rec.String(opts.GroupColumn),
			Data:     make(map[string]any, len(rec)),
		}
		if ext := rec.String(opts.EntityColumn); ext != "" {
			e, ok := byExternal[strings.ToLower(ext)]
			if !ok {
				unknown[ext] = true
				continue
			}
			row.EntityID = e.ID
			if row.GroupKey == "" {
				row.GroupKey = e.GroupKey
			}
		} else if row.GroupKey == "" {
			return RowResult{}, fmt.Errorf("%w: row %d has neither %s nor %s", common.ErrInvalidImport, i+1, opts.EntityColumn, opts.GroupColumn)
		}
		for col, v := range rec {
			if col == opts.EntityColumn || col == opts.GroupColumn {
				continue
			}
			row.Data[col] = v
		}
		result.Rows = append(result.Rows, row)
	}

	for ext := range unknown {
		result.Unknown = append(result.Unknown, ext)
	}
	sort.Strings(result.Unknown)
	return result, nil
}

// BenchmarkOptions names the benchmark columns. A record carrying the amount
// column is one (entity, component, amount) triple, with an empty component
// meaning the total. Otherwise every numeric column is a component benchmark
// and a column named "total" benchmarks the entity total.
type BenchmarkOptions struct {
	EntityColumn    string
	ComponentColumn string
	AmountColumn    string
}

// Benchmarks maps records to benchmark records.
func Benchmarks(records []Record, opts BenchmarkOptions) ([]model.BenchmarkRecord, error) {
	if opts.EntityColumn == "" {
		opts.EntityColumn = DefaultEntityColumn
	}
	if opts.ComponentColumn == "" {
		opts.ComponentColumn = DefaultComponentColumn
	}
	if opts.AmountColumn == "" {
		opts.AmountColumn = DefaultAmountColumn
	}

	var out []model.BenchmarkRecord
	for i, rec := range records {
		ext := rec.String(opts.EntityColumn)
		if ext == "" {
			return nil, fmt.Errorf("%w: benchmark row %d has no %s", common.ErrInvalidImport, i+1, opts.EntityColumn)
		}

		if _, long := rec[opts.AmountColumn]; long {
			amount, ok := money.Parse(rec[opts.AmountColumn])
			if !ok {
				return nil, fmt.Errorf("%w: benchmark row %d amount %q is not a number", common.ErrInvalidImport, i+1, rec.String(opts.AmountColumn))
			}
			out = append(out, model.BenchmarkRecord{
				EntityExternalID: ext,
				Component:        rec.String(opts.ComponentColumn),
				Amount:           amount,
			})
			continue
		}

		cols := make([]string, 0, len(rec))
		for col := range rec {
			if col != opts.EntityColumn {
				cols = append(cols, col)
			}
		}
		sort.Strings(cols)
		for _, col := range cols {
			amount, ok := money.Parse(rec[col])
			if !ok {
				continue
			}
			out = append(out, model.BenchmarkRecord{EntityExternalID: ext, Component: col, Amount: amount})
		}
	}
	return out, nil
}
