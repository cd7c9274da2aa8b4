package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kansa/internal/model"
)

// Memory is an in-process Ledger used by tests, the demo seed flow, and
// unit-level engine work. Per-run sub-logs are disjoint; appends to
// different runs never contend on ordering, only on the map lock.
type Memory struct {
	mu   sync.Mutex
	logs map[uuid.UUID][]model.AuditEvent
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{logs: make(map[uuid.UUID][]model.AuditEvent)}
}

// Append records the event, assigning the next event id for the run.
func (m *Memory) Append(_ context.Context, ev model.AuditEvent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	trail := m.logs[ev.RunID]
	ev.EventID = int64(len(trail)) + 1
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	m.logs[ev.RunID] = append(trail, ev)
	return ev.EventID, nil
}

// ReadTrail returns a copy of the run's events in append order.
func (m *Memory) ReadTrail(_ context.Context, runID uuid.UUID) ([]model.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	trail := m.logs[runID]
	out := make([]model.AuditEvent, len(trail))
	copy(out, trail)
	return out, nil
}
