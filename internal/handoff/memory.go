package handoff

import (
	"context"
	"sync"

	"jt-go/internal/jt"
)

// MemorySink keeps handed-off batches in memory. It is safe for concurrent
// use and is meant for tests.
type MemorySink struct {
	mu       sync.Mutex
	batches  []jt.HandoffBatch
	failNext error
}

var _ jt.HandoffSink = (*MemorySink)(nil)

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Handoff(ctx context.Context, b jt.HandoffBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failNext; err != nil {
		m.failNext = nil
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.Records = append([]jt.ActivityRecord(nil), b.Records...)
	m.batches = append(m.batches, b)
	return nil
}

// FailNext makes the next Handoff call return err.
func (m *MemorySink) FailNext(err error) {
	m.mu.Lock()
	m.failNext = err
	m.mu.Unlock()
}

// Batches returns the accepted batches in arrival order.
func (m *MemorySink) Batches() []jt.HandoffBatch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]jt.HandoffBatch(nil), m.batches...)
}

// Records returns every accepted record across all batches.
func (m *MemorySink) Records() []jt.ActivityRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []jt.ActivityRecord
	for _, b := range m.batches {
		out = append(out, b.Records...)
	}
	return out
}
