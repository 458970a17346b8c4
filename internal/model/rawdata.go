package model

// RawDataRow is one imported row. EntityID is empty for group-level rows,
// which are keyed by GroupKey instead.
type RawDataRow struct {
	Data     map[string]any `json:"row_data"`
	TenantID string         `json:"tenant_id"`
	PeriodID string         `json:"period_id"`
	DataType string         `json:"data_type"`
	EntityID string         `json:"entity_id,omitempty"`
	GroupKey string         `json:"group_key,omitempty"`
	ID       int64          `json:"id"`
}

// IsEntityLevel reports whether the row belongs to a single entity.
func (r RawDataRow) IsEntityLevel() bool {
	return r.EntityID != ""
}
