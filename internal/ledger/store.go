package ledger

import (
	"context"

	"github.com/google/uuid"

	"github.com/ashita-ai/kansa/internal/model"
)

// EventStore is the slice of the storage layer a durable ledger needs.
type EventStore interface {
	AppendAuditEvent(ctx context.Context, ev model.AuditEvent) (int64, error)
	AuditTrail(ctx context.Context, runID uuid.UUID) ([]model.AuditEvent, error)
}

// StoreLedger is the durable Ledger backed by the relational store. The
// store assigns event ids transactionally, so durability and ordering come
// from the database itself.
type StoreLedger struct {
	store EventStore
}

// NewStoreLedger creates a ledger over the given store.
func NewStoreLedger(store EventStore) *StoreLedger {
	return &StoreLedger{store: store}
}

// Append durably records the event.
func (s *StoreLedger) Append(ctx context.Context, ev model.AuditEvent) (int64, error) {
	return s.store.AppendAuditEvent(ctx, ev)
}

// ReadTrail returns the run's events ordered by event id.
func (s *StoreLedger) ReadTrail(ctx context.Context, runID uuid.UUID) ([]model.AuditEvent, error) {
	return s.store.AuditTrail(ctx, runID)
}
