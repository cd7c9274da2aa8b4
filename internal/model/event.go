package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventKind represents the category of an audit event.
type EventKind string

const (
	EventStepStarted      EventKind = "step_started"
	EventToolInvoked      EventKind = "tool_invoked"
	EventGuardrailBlocked EventKind = "guardrail_blocked"
	EventStepCompleted    EventKind = "step_completed"
	EventStepFailed       EventKind = "step_failed"
	EventRunEscalated     EventKind = "run_escalated"
	EventRunFinalized     EventKind = "run_finalized"
)

// AuditEvent is an append-only record in the run's audit trail.
// Source of truth for "why" a decision was made. Never mutated or deleted.
//
// EventID is assigned by the ledger on append: strictly increasing and
// gapless within a run, starting at 1. Ordering is guaranteed only within
// a run, not across runs.
type AuditEvent struct {
	EventID    int64          `json:"event_id"`
	RunID      uuid.UUID      `json:"run_id"`
	Step       string         `json:"step"`
	Kind       EventKind      `json:"kind"`
	Payload    map[string]any `json:"payload"`
	OccurredAt time.Time      `json:"occurred_at"`
	DurationMs *int64         `json:"duration_ms,omitempty"`
}

// StepStartedPayload is the payload for step_started events.
type StepStartedPayload struct {
	Attempt int `json:"attempt"`
}

// ToolInvokedPayload is the payload for tool_invoked events.
type ToolInvokedPayload struct {
	Capability string `json:"capability"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// GuardrailBlockedPayload is the payload for guardrail_blocked events.
type GuardrailBlockedPayload struct {
	Capability    string `json:"capability"`
	Check         string `json:"check"` // allowlist, schema, content_filter, call_budget
	Stage         string `json:"stage"` // request or response
	Reason        string `json:"reason"`
	ForceEscalate bool   `json:"force_escalate,omitempty"`
}

// StepCompletedPayload is the payload for step_completed events.
type StepCompletedPayload struct {
	Attempt int      `json:"attempt"`
	Fields  []string `json:"fields,omitempty"` // run context fields written by the step
}

// StepFailedPayload is the payload for step_failed events.
type StepFailedPayload struct {
	Attempt   int    `json:"attempt"`
	ErrorKind string `json:"error_kind"`
	Error     string `json:"error"`
}

// RunRoutedPayload is the payload for run_escalated and run_finalized events.
type RunRoutedPayload struct {
	Decision   Decision `json:"decision"`
	Confidence *float64 `json:"confidence,omitempty"`
	Threshold  float64  `json:"threshold"`
	Reason     string   `json:"reason,omitempty"`
}

// PayloadMap converts a typed payload struct into the map form stored on
// AuditEvent. Conversion goes through JSON so field names match the wire
// representation exactly.
func PayloadMap(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{"payload_error": err.Error()}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{"payload_error": err.Error()}
	}
	return m
}
