package synaptic

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/CCAFRICA/spm-platform/internal/model"
)

// Writer records synapses synchronously. Unlike the signal sink, a write
// is confirmed before the caller reports it.
type Writer struct {
	store  Store
	loader *Loader
	now    func() time.Time
}

// NewWriter creates a writer. A nil loader skips invalidation.
func NewWriter(store Store, loader *Loader) *Writer {
	return &Writer{store: store, loader: loader, now: time.Now}
}

// WriteSynapse stores the signal and invalidates the tenant's priors so the
// next load sees it.
func (w *Writer) WriteSynapse(ctx context.Context, signal model.Signal) (model.Signal, error) {
	if signal.ID == "" {
		signal.ID = uuid.NewString()
	}
	if signal.CreatedAt.IsZero() {
		signal.CreatedAt = w.now()
	}
	if err := w.store.SaveSignal(ctx, &signal); err != nil {
		return signal, fmt.Errorf("write %s synapse: %w", signal.Type, err)
	}
	if w.loader != nil {
		w.loader.Invalidate(ctx, signal.TenantID)
	}
	return signal, nil
}
