package signals

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CCAFRICA/spm-platform/internal/model"
)

type memoryStore struct {
	block   chan struct{}
	err     error
	signals []model.Signal
	mu      sync.Mutex
}

func (m *memoryStore) SaveSignal(_ context.Context, s *model.Signal) error {
	if m.block != nil {
		<-m.block
	}
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals = append(m.signals, *s)
	return nil
}

func (m *memoryStore) saved() []model.Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Signal(nil), m.signals...)
}

func signal(key string) model.Signal {
	return model.Signal{TenantID: "t1", Type: model.SignalClassification, CohortKind: model.CohortMetric, CohortKey: key, Confidence: 0.9}
}

func TestSink_DeliversAndDrains(t *testing.T) {
	store := &memoryStore{}
	sink := NewSink(store, 16)

	for _, key := range []string{"revenue", "attendance", "units"} {
		assert.True(t, sink.Emit(signal(key)))
	}
	sink.Close()

	saved := store.saved()
	require.Len(t, saved, 3)
	assert.NotEmpty(t, saved[0].ID)
	assert.False(t, saved[0].CreatedAt.IsZero())
	assert.Equal(t, Stats{Emitted: 3, Written: 3}, sink.Stats())
}

func TestSink_DropsWhenFull(t *testing.T) {
	store := &memoryStore{block: make(chan struct{})}
	sink := NewSink(store, 1)

	// The worker holds the first signal while blocked, the queue holds the second.
	accepted := 0
	for i := 0; i < 10; i++ {
		if sink.Emit(signal("m")) {
			accepted++
		}
	}
	assert.LessOrEqual(t, accepted, 2)
	assert.Equal(t, int64(10-accepted), sink.Stats().Dropped)

	close(store.block)
	sink.Close()
	assert.Equal(t, int64(accepted), sink.Stats().Written)
}

func TestSink_SwallowsWriteFailures(t *testing.T) {
	store := &memoryStore{err: errors.New("disk full")}
	sink := NewSink(store, 4)

	assert.True(t, sink.Emit(signal("m")))
	sink.Close()

	stats := sink.Stats()
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(0), stats.Written)
}

func TestSink_EmitAfterClose(t *testing.T) {
	sink := NewSink(&memoryStore{}, 4)
	sink.Close()
	sink.Close()

	assert.False(t, sink.Emit(signal("m")))
	assert.Equal(t, int64(1), sink.Stats().Dropped)
}

func TestDiscard(t *testing.T) {
	var e Emitter = Discard{}
	assert.False(t, e.Emit(signal("m")))
}
