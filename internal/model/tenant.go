// Package model defines the core domain models used throughout the application.
package model

import "time"

// Tenant is an isolated customer. Every row in the store is scoped to one.
type Tenant struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
	Name      string    `json:"name"`
}

// PeriodStatus tracks whether a period still accepts calculation runs.
type PeriodStatus string

// Period status constants.
const (
	PeriodOpen   PeriodStatus = "open"
	PeriodClosed PeriodStatus = "closed"
)

// Period is a compensation period such as a month.
type Period struct {
	StartDate time.Time    `json:"start_date"`
	EndDate   time.Time    `json:"end_date"`
	CreatedAt time.Time    `json:"created_at"`
	ID        string       `json:"id"`
	TenantID  string       `json:"tenant_id"`
	Key       string       `json:"key"`
	Status    PeriodStatus `json:"status"`
}

// Entity is a payee: an individual whose payout is calculated. GroupKey is
// the store/team the entity rolls up to, used when raw data only exists at
// group level.
type Entity struct {
	Attributes map[string]string `json:"attributes,omitempty"`
	ID         string            `json:"id"`
	TenantID   string            `json:"tenant_id"`
	ExternalID string            `json:"external_id"`
	Name       string            `json:"name"`
	GroupKey   string            `json:"group_key,omitempty"`
}

// Assignment places an entity on a rule set, optionally pinning the variant.
type Assignment struct {
	TenantID   string `json:"tenant_id"`
	RuleSetID  string `json:"rule_set_id"`
	EntityID   string `json:"entity_id"`
	VariantKey string `json:"variant_key,omitempty"`
}
