package model

import (
	"encoding/json"
	"time"

	"github.com/CCAFRICA/spm-platform/internal/money"
)

// DisputeStatus is the dispute lifecycle state.
type DisputeStatus string

// Dispute statuses.
const (
	DisputeOpen          DisputeStatus = "open"
	DisputeInvestigating DisputeStatus = "investigating"
	DisputeResolved      DisputeStatus = "resolved"
	DisputeRejected      DisputeStatus = "rejected"
	DisputeEscalated     DisputeStatus = "escalated"
)

var disputeTransitions = map[DisputeStatus][]DisputeStatus{
	DisputeOpen:          {DisputeInvestigating},
	DisputeInvestigating: {DisputeResolved, DisputeRejected, DisputeEscalated},
	DisputeEscalated:     {DisputeInvestigating},
}

// IsValid reports whether s is a known status.
func (s DisputeStatus) IsValid() bool {
	switch s {
	case DisputeOpen, DisputeInvestigating, DisputeResolved, DisputeRejected, DisputeEscalated:
		return true
	}
	return false
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s DisputeStatus) CanTransitionTo(next DisputeStatus) bool {
	for _, allowed := range disputeTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Dispute is a payee's challenge of a posted result.
type Dispute struct {
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Resolution     json.RawMessage `json:"resolution,omitempty"`
	ID             string          `json:"id"`
	TenantID       string          `json:"tenant_id"`
	EntityID       string          `json:"entity_id"`
	PeriodID       string          `json:"period_id"`
	BatchID        string          `json:"batch_id"`
	Component      string          `json:"component,omitempty"`
	Category       string          `json:"category"`
	Description    string          `json:"description"`
	Status         DisputeStatus   `json:"status"`
	AmountDisputed money.Decimal   `json:"amount_disputed"`
}
