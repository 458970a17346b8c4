package reconciliation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/CCAFRICA/spm-platform/internal/common"
	"github.com/CCAFRICA/spm-platform/internal/model"
	"github.com/CCAFRICA/spm-platform/internal/service"
	"github.com/CCAFRICA/spm-platform/internal/synaptic"
)

// AgentType identifies this agent when loading priors.
const AgentType = "reconciliation_agent"

// PriorsLoader loads agent memory.
type PriorsLoader interface {
	LoadPriorsForAgent(ctx context.Context, tenantID, domain, agentType string) synaptic.Priors
}

// Request is one reconciliation trigger.
type Request struct {
	TenantID   string
	BatchID    string
	Benchmarks []model.BenchmarkRecord
}

// Service loads a batch, reconciles it and stores the report on the batch.
type Service struct {
	store  service.Storage
	priors PriorsLoader
	agent  *Agent
}

// NewService creates a reconciliation service.
func NewService(store service.Storage, priors PriorsLoader, agent *Agent) *Service {
	return &Service{store: store, priors: priors, agent: agent}
}

// Reconcile compares a batch with benchmark records. Input errors produce
// a report with Success=false; only infrastructure failures return an error.
func (s *Service) Reconcile(ctx context.Context, req Request) (*Report, error) {
	report, err := s.reconcile(ctx, req)
	if err == nil {
		return report, nil
	}
	if common.IsInputError(err) {
		slog.Warn("Reconciliation rejected", "tenant_id", req.TenantID, "batch_id", req.BatchID, "error", err)
		return &Report{TenantID: req.TenantID, BatchID: req.BatchID, Classes: map[Class]int{}, Error: err.Error()}, nil
	}
	return nil, err
}

func (s *Service) reconcile(ctx context.Context, req Request) (*Report, error) {
	if req.TenantID == "" || req.BatchID == "" {
		return nil, fmt.Errorf("%w: tenant and batch are required", common.ErrMissingBatch)
	}
	if len(req.Benchmarks) == 0 {
		return nil, fmt.Errorf("%w: batch %s", common.ErrNoBenchmarks, req.BatchID)
	}
	if _, err := s.store.GetTenant(ctx, req.TenantID); err != nil {
		return nil, err
	}
	batch, err := s.store.GetBatch(ctx, req.TenantID, req.BatchID)
	if err != nil {
		return nil, err
	}
	results, err := s.store.ListResultsByBatch(ctx, req.TenantID, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	entities, err := s.store.ListEntities(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	byID := make(map[string]model.Entity, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}

	priors := s.priors.LoadPriorsForAgent(ctx, req.TenantID, SignalDomain, AgentType)
	report := s.agent.Reconcile(ctx, Input{
		Surface:    priors.Surface,
		Entities:   byID,
		TenantID:   req.TenantID,
		BatchID:    batch.ID,
		Benchmarks: req.Benchmarks,
		Results:    results,
	})
	report.PriorsOutcome = priors.Outcome

	payload, err := json.Marshal(report)
	if err == nil {
		err = s.store.UpdateBatchConfig(ctx, req.TenantID, batch.ID, model.BatchConfigReconciliation, payload)
	}
	if err != nil {
		slog.Warn("Failed to store reconciliation report", "tenant_id", req.TenantID, "batch_id", batch.ID, "error", err)
	}
	return report, nil
}
