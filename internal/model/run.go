// Package model defines the core domain types for Kansa.
//
// Types correspond directly to database tables and audit event payloads.
// Types use strong typing (UUIDs, time.Time, enums) and avoid interface{}
// wherever possible.
package model

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle state of a review run.
// Transitions are monotonic: pending → running → {escalated, finalized, failed}.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusEscalated RunStatus = "escalated"
	RunStatusFinalized RunStatus = "finalized"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusEscalated || s == RunStatusFinalized || s == RunStatusFailed
}

// Decision is the routing outcome of a completed run.
type Decision string

const (
	// DecisionNoAction means the review found nothing requiring action.
	DecisionNoAction Decision = "no_action_needed"
	// DecisionAutoResolved means anomalies were found and resolved automatically.
	DecisionAutoResolved Decision = "auto_resolved"
	// DecisionEscalated means the case requires human review.
	DecisionEscalated Decision = "escalated"
)

// RunConfig is the configuration snapshot copied at run start.
// Immutable for the lifetime of the run.
type RunConfig struct {
	AnalysisWindowDays  int           `json:"analysis_window_days"`
	AnomalyThreshold    float64       `json:"anomaly_threshold"`
	EscalationThreshold float64       `json:"escalation_threshold"`
	MaxRetries          int           `json:"max_retries"`
	MaxCapabilityCalls  int           `json:"max_capability_calls"`
	CapabilityTimeout   time.Duration `json:"capability_timeout"`
}

// Default run configuration values. The per-request value is authoritative;
// these apply only when the trigger request omits a field.
const (
	DefaultAnalysisWindowDays  = 30
	DefaultAnomalyThreshold    = 0.8
	DefaultEscalationThreshold = 0.7
	DefaultMaxCapabilityCalls  = 20
	DefaultCapabilityTimeout   = 10 * time.Second
)

// ApplyDefaults fills zero-valued fields with the default configuration.
func (c RunConfig) ApplyDefaults() RunConfig {
	if c.AnalysisWindowDays <= 0 {
		c.AnalysisWindowDays = DefaultAnalysisWindowDays
	}
	if c.AnomalyThreshold <= 0 {
		c.AnomalyThreshold = DefaultAnomalyThreshold
	}
	if c.EscalationThreshold <= 0 {
		c.EscalationThreshold = DefaultEscalationThreshold
	}
	if c.MaxCapabilityCalls <= 0 {
		c.MaxCapabilityCalls = DefaultMaxCapabilityCalls
	}
	if c.CapabilityTimeout <= 0 {
		c.CapabilityTimeout = DefaultCapabilityTimeout
	}
	return c
}

// Run is one execution of the review pipeline for one customer.
// Created by the trigger interface, mutated only by the orchestrator,
// never deleted (retained for audit).
type Run struct {
	ID          uuid.UUID      `json:"id"`
	CustomerID  uuid.UUID      `json:"customer_id"`
	Config      RunConfig      `json:"config"`
	Status      RunStatus      `json:"status"`
	Decision    *Decision      `json:"decision,omitempty"`
	Summary     map[string]any `json:"summary,omitempty"`
	Context     map[string]any `json:"context,omitempty"` // frozen run context, set at terminal state
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}
