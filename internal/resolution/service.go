package resolution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/CCAFRICA/spm-platform/internal/common"
	"github.com/CCAFRICA/spm-platform/internal/model"
	"github.com/CCAFRICA/spm-platform/internal/money"
	"github.com/CCAFRICA/spm-platform/internal/service"
	"github.com/CCAFRICA/spm-platform/internal/synaptic"
)

// AgentType identifies this agent when loading priors.
const AgentType = "resolution_agent"

// ErrDisputeClosed is returned when investigating a resolved or rejected dispute.
var ErrDisputeClosed = errors.New("dispute already closed")

// PriorsLoader loads agent memory.
type PriorsLoader interface {
	LoadPriorsForAgent(ctx context.Context, tenantID, domain, agentType string) synaptic.Priors
}

// DisputeRequest files a dispute, or names an existing one by DisputeID.
type DisputeRequest struct {
	AmountDisputed money.Decimal
	TenantID       string
	DisputeID      string
	EntityID       string
	BatchID        string
	Component      string
	Category       string
	Description    string
}

// Outcome is the structured result of an investigation trigger.
type Outcome struct {
	Dispute       *model.Dispute `json:"dispute,omitempty"`
	Investigation *Investigation `json:"investigation,omitempty"`
	Error         string         `json:"error,omitempty"`
	Success       bool           `json:"success"`
}

// Service runs the dispute lifecycle around the agent.
type Service struct {
	store  service.Storage
	priors PriorsLoader
	agent  *Agent
}

// NewService creates a resolution service.
func NewService(store service.Storage, priors PriorsLoader, agent *Agent) *Service {
	return &Service{store: store, priors: priors, agent: agent}
}

// Open files a new dispute against a posted result.
func (s *Service) Open(ctx context.Context, req DisputeRequest) (*model.Dispute, error) {
	if req.TenantID == "" || req.EntityID == "" || req.BatchID == "" {
		return nil, fmt.Errorf("%w: tenant, entity and batch are required", common.ErrMissingDispute)
	}
	if _, err := s.store.GetTenant(ctx, req.TenantID); err != nil {
		return nil, err
	}
	batch, err := s.store.GetBatch(ctx, req.TenantID, req.BatchID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetEntity(ctx, req.TenantID, req.EntityID); err != nil {
		return nil, err
	}

	id := req.DisputeID
	if id == "" {
		id = uuid.NewString()
	}
	category := req.Category
	if category == "" {
		category = "payout"
	}
	d := &model.Dispute{
		ID:             id,
		TenantID:       req.TenantID,
		EntityID:       req.EntityID,
		PeriodID:       batch.PeriodID,
		BatchID:        batch.ID,
		Component:      req.Component,
		Category:       category,
		Description:    req.Description,
		Status:         model.DisputeOpen,
		AmountDisputed: req.AmountDisputed,
	}
	if err := s.store.CreateDispute(ctx, d); err != nil {
		return nil, fmt.Errorf("create dispute: %w", err)
	}
	slog.Info("Dispute opened", "tenant_id", d.TenantID, "dispute_id", d.ID, "entity_id", d.EntityID, "batch_id", d.BatchID)
	return d, nil
}

// InvestigateDispute investigates an existing dispute, filing it first when
// DisputeID is empty or unknown. Input errors produce Success=false.
func (s *Service) InvestigateDispute(ctx context.Context, req DisputeRequest) (*Outcome, error) {
	out, err := s.investigate(ctx, req)
	if err == nil {
		return out, nil
	}
	if common.IsInputError(err) || errors.Is(err, ErrDisputeClosed) {
		slog.Warn("Investigation rejected", "tenant_id", req.TenantID, "dispute_id", req.DisputeID, "error", err)
		return &Outcome{Error: err.Error()}, nil
	}
	return nil, err
}

func (s *Service) investigate(ctx context.Context, req DisputeRequest) (*Outcome, error) {
	d, err := s.dispute(ctx, req)
	if err != nil {
		return nil, err
	}

	switch d.Status {
	case model.DisputeOpen, model.DisputeEscalated:
		d.Status = model.DisputeInvestigating
		if err := s.store.UpdateDispute(ctx, d); err != nil {
			return nil, fmt.Errorf("start investigation: %w", err)
		}
	case model.DisputeInvestigating:
	default:
		return nil, fmt.Errorf("%w: %s is %s", ErrDisputeClosed, d.ID, d.Status)
	}

	ic := Context{Dispute: *d}
	result, err := s.store.GetResult(ctx, d.TenantID, d.BatchID, d.EntityID)
	switch {
	case err == nil:
		ic.Result = result
		if rs, err := s.store.GetRuleSet(ctx, d.TenantID, result.RuleSetID); err == nil {
			ic.RuleSet = rs
		} else {
			slog.Warn("Investigating without plan", "tenant_id", d.TenantID, "rule_set_id", result.RuleSetID, "error", err)
		}
	case errors.Is(err, common.ErrNotFound):
	default:
		return nil, fmt.Errorf("load result: %w", err)
	}

	priors := s.priors.LoadPriorsForAgent(ctx, d.TenantID, SignalDomain, AgentType)
	ic.Surface = priors.Surface
	inv := s.agent.Investigate(ctx, ic)
	inv.PriorsOutcome = priors.Outcome

	resolution, err := json.Marshal(inv)
	if err != nil {
		return nil, fmt.Errorf("encode investigation: %w", err)
	}
	d.Resolution = resolution
	d.Status = inv.Recommendation.Status()
	if err := s.store.UpdateDispute(ctx, d); err != nil {
		return nil, fmt.Errorf("record resolution: %w", err)
	}
	return &Outcome{Dispute: d, Investigation: &inv, Success: true}, nil
}

func (s *Service) dispute(ctx context.Context, req DisputeRequest) (*model.Dispute, error) {
	if req.DisputeID != "" {
		d, err := s.store.GetDispute(ctx, req.TenantID, req.DisputeID)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, common.ErrMissingDispute) || req.EntityID == "" {
			return nil, err
		}
	}
	return s.Open(ctx, req)
}
