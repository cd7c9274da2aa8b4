package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kansa/internal/model"
)

// AppendAuditEvent durably records an audit event, assigning the next
// event_id for the run inside the insert itself. The (run_id, event_id)
// primary key makes an id collision a hard error rather than a silent gap;
// within one run appends are sequential, so collisions don't occur in
// practice.
func (db *DB) AppendAuditEvent(ctx context.Context, ev model.AuditEvent) (int64, error) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	if ev.Payload == nil {
		ev.Payload = map[string]any{}
	}

	var eventID int64
	err := db.pool.QueryRow(ctx,
		`INSERT INTO audit_events (run_id, event_id, step, kind, payload, occurred_at, duration_ms)
		 SELECT $1, COALESCE(MAX(event_id), 0) + 1, $2, $3, $4, $5, $6
		 FROM audit_events WHERE run_id = $1
		 RETURNING event_id`,
		ev.RunID, ev.Step, string(ev.Kind), ev.Payload, ev.OccurredAt, ev.DurationMs,
	).Scan(&eventID)
	if err != nil {
		return 0, fmt.Errorf("storage: append audit event: %w", err)
	}
	return eventID, nil
}

// AuditTrail returns the run's events ordered by event_id ascending.
func (db *DB) AuditTrail(ctx context.Context, runID uuid.UUID) ([]model.AuditEvent, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT event_id, run_id, step, kind, payload, occurred_at, duration_ms
		 FROM audit_events WHERE run_id = $1 ORDER BY event_id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("storage: audit trail: %w", err)
	}
	defer rows.Close()

	var events []model.AuditEvent
	for rows.Next() {
		var ev model.AuditEvent
		var kind string
		if err := rows.Scan(&ev.EventID, &ev.RunID, &ev.Step, &kind,
			&ev.Payload, &ev.OccurredAt, &ev.DurationMs); err != nil {
			return nil, fmt.Errorf("storage: scan audit event: %w", err)
		}
		ev.Kind = model.EventKind(kind)
		events = append(events, ev)
	}
	return events, rows.Err()
}
