// Package ledger provides the append-only audit trail for review runs.
//
// Every component that changes run state records the causing event here
// before proceeding (write-before-proceed): an append must be durable in
// the backing store before the caller continues. Events for a run are
// totally ordered by event id, which the ledger assigns on append:
// strictly increasing and gapless within a run, starting at 1.
package ledger

import (
	"context"

	"github.com/google/uuid"

	"github.com/ashita-ai/kansa/internal/model"
)

// Ledger is the audit trail contract consumed by the orchestration core.
// Implementations must be safe for concurrent use by independent runs;
// within one run, callers append sequentially.
type Ledger interface {
	// Append durably records the event and returns its assigned event id.
	// The ledger sets EventID and, when zero, OccurredAt. Returned errors
	// mean the event was NOT durably recorded and the caller must not
	// proceed with the state change the event describes.
	Append(ctx context.Context, ev model.AuditEvent) (int64, error)

	// ReadTrail returns the run's events ordered by event id. Reading is
	// idempotent: two reads of the same terminal run yield identical
	// results. Trails of failed runs remain fully readable.
	ReadTrail(ctx context.Context, runID uuid.UUID) ([]model.AuditEvent, error)
}
