// Package signals delivers classification, correction and training signals
// to the store without ever blocking or failing the caller.
package signals

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/CCAFRICA/spm-platform/internal/common"
	"github.com/CCAFRICA/spm-platform/internal/model"
)

const writeTimeout = 5 * time.Second

// Store persists signals.
type Store interface {
	SaveSignal(ctx context.Context, signal *model.Signal) error
}

// Emitter is a non-blocking signal emission handle.
type Emitter interface {
	// Emit queues a signal and reports whether it was accepted.
	Emit(signal model.Signal) bool
}

// Discard drops every signal.
type Discard struct{}

// Emit implements Emitter.
func (Discard) Emit(model.Signal) bool { return false }

// Stats is a snapshot of the sink counters.
type Stats struct {
	Emitted int64
	Dropped int64
	Written int64
	Failed  int64
}

// Sink writes signals on a background goroutine through a bounded queue.
// Delivery is at most once: a full queue drops the signal and a failed
// write is logged, never retried.
type Sink struct {
	store   Store
	queue   chan model.Signal
	done    chan struct{}
	emitted atomic.Int64
	dropped atomic.Int64
	written atomic.Int64
	failed  atomic.Int64
	mu      sync.RWMutex
	closed  bool
}

// NewSink starts a sink with the given queue capacity.
func NewSink(store Store, queueSize int) *Sink {
	if queueSize < 1 {
		queueSize = 1
	}
	s := &Sink{
		store: store,
		queue: make(chan model.Signal, queueSize),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

// Emit implements Emitter. Missing ids and timestamps are filled in.
func (s *Sink) Emit(signal model.Signal) bool {
	if signal.ID == "" {
		signal.ID = uuid.NewString()
	}
	if signal.CreatedAt.IsZero() {
		signal.CreatedAt = time.Now()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return false
	}

	select {
	case s.queue <- signal:
		s.emitted.Add(1)
		return true
	default:
		s.dropped.Add(1)
		slog.Debug("Signal queue full, dropping signal",
			"tenant_id", signal.TenantID,
			"type", signal.Type)
		return false
	}
}

// Close stops accepting signals and waits for queued ones to be written.
func (s *Sink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	<-s.done
}

// Stats returns the current counters.
func (s *Sink) Stats() Stats {
	return Stats{
		Emitted: s.emitted.Load(),
		Dropped: s.dropped.Load(),
		Written: s.written.Load(),
		Failed:  s.failed.Load(),
	}
}

func (s *Sink) run() {
	defer close(s.done)
	for signal := range s.queue {
		s.write(signal)
	}
}

func (s *Sink) write(signal model.Signal) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := s.store.SaveSignal(ctx, &signal); err != nil {
		s.failed.Add(1)
		common.LogWarn(err, "Failed to write signal", common.Fields{
			"tenant_id":  signal.TenantID,
			"type":       signal.Type,
			"cohort_key": signal.CohortKey,
		})
		return
	}
	s.written.Add(1)
}
