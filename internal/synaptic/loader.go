package synaptic

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/CCAFRICA/spm-platform/internal/cache"
	"github.com/CCAFRICA/spm-platform/internal/config"
	"github.com/CCAFRICA/spm-platform/internal/model"
	"github.com/CCAFRICA/spm-platform/internal/service"
)

// Store is the slice of storage agent memory needs.
type Store interface {
	SaveSignal(ctx context.Context, signal *model.Signal) error
	ListSignals(ctx context.Context, filter service.SignalFilter) ([]model.Signal, error)
	GetSynapticDensity(ctx context.Context, tenantID string) (*service.DensityRecord, error)
	SaveSynapticDensity(ctx context.Context, record *service.DensityRecord) error
	DeleteSynapticDensity(ctx context.Context, tenantID string) error
}

// Outcome records which step of the fallback chain produced the priors.
type Outcome string

// Load outcomes.
const (
	OutcomeOk       Outcome = "ok"       // pre-aggregated snapshot, possibly cached
	OutcomeDegraded Outcome = "degraded" // recomputed from raw signals
	OutcomeEmpty    Outcome = "empty"
)

// Priors is what an agent receives from memory.
type Priors struct {
	Density   *Density
	Surface   *Surface
	Domain    string
	AgentType string
	Outcome   Outcome
}

func newPriors(d *Density, outcome Outcome, domain, agentType string) Priors {
	return Priors{Density: d, Surface: NewSurface(d), Domain: domain, AgentType: agentType, Outcome: outcome}
}

// Loader loads per-tenant density through a cache, the persisted snapshot
// and finally the signal history.
type Loader struct {
	store    Store
	cache    *cache.TTL[*Density]
	now      func() time.Time
	pageSize int
}

// NewLoader creates a loader. Close releases its cache.
func NewLoader(store Store, settings config.SynapticSettings) *Loader {
	pageSize := settings.PageSize
	if pageSize <= 0 {
		pageSize = config.Defaults().Synaptic.PageSize
	}
	return &Loader{
		store:    store,
		cache:    cache.New[*Density](settings.CacheTTL),
		now:      time.Now,
		pageSize: pageSize,
	}
}

// Close stops the cache sweep.
func (l *Loader) Close() {
	l.cache.Close()
}

// LoadPriorsForAgent returns the tenant's priors. It never fails: every
// error is logged and the chain falls through to the next step, ending at
// an empty density.
func (l *Loader) LoadPriorsForAgent(ctx context.Context, tenantID, domain, agentType string) Priors {
	log := slog.With("tenant_id", tenantID, "domain", domain, "agent", agentType)

	if d, ok := l.cache.Get(tenantID); ok {
		return newPriors(d, OutcomeOk, domain, agentType)
	}

	d, err := l.loadSnapshot(ctx, tenantID)
	if err == nil {
		l.cache.Set(tenantID, d)
		return newPriors(d, OutcomeOk, domain, agentType)
	}
	log.Debug("No density snapshot, recomputing", "error", err)

	d, err = l.Recompute(ctx, tenantID)
	if err != nil {
		log.Warn("Failed to recompute density, continuing without priors", "error", err)
		return newPriors(NewDensity(), OutcomeEmpty, domain, agentType)
	}
	if d.IsEmpty() {
		return newPriors(d, OutcomeEmpty, domain, agentType)
	}
	l.cache.Set(tenantID, d)
	return newPriors(d, OutcomeDegraded, domain, agentType)
}

func (l *Loader) loadSnapshot(ctx context.Context, tenantID string) (*Density, error) {
	rec, err := l.store.GetSynapticDensity(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	d, err := Unmarshal(rec.Density)
	if err != nil {
		return nil, fmt.Errorf("decode density snapshot: %w", err)
	}
	return d, nil
}

// Recompute rebuilds the density from the full signal history and
// persists it as the new snapshot. A failed snapshot write is logged.
func (l *Loader) Recompute(ctx context.Context, tenantID string) (*Density, error) {
	d := NewDensity()
	for offset := 0; ; offset += l.pageSize {
		page, err := l.store.ListSignals(ctx, service.SignalFilter{
			TenantID: tenantID,
			Limit:    l.pageSize,
			Offset:   offset,
		})
		if err != nil {
			return nil, fmt.Errorf("list signals: %w", err)
		}
		for _, s := range page {
			d.Add(s)
		}
		if len(page) < l.pageSize {
			break
		}
	}
	if d.IsEmpty() {
		return d, nil
	}

	payload, err := d.Marshal()
	if err == nil {
		err = l.store.SaveSynapticDensity(ctx, &service.DensityRecord{
			TenantID:    tenantID,
			Density:     payload,
			SignalCount: d.SignalCount,
			ComputedAt:  l.now(),
		})
	}
	if err != nil {
		slog.Warn("Failed to persist density snapshot", "tenant_id", tenantID, "error", err)
	}
	return d, nil
}

// Invalidate drops the cached and persisted density of a tenant.
func (l *Loader) Invalidate(ctx context.Context, tenantID string) {
	l.cache.Delete(tenantID)
	if err := l.store.DeleteSynapticDensity(ctx, tenantID); err != nil {
		slog.Warn("Failed to drop density snapshot", "tenant_id", tenantID, "error", err)
	}
}
