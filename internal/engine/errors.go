package engine

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline errors. The kind decides how the orchestrator
// reacts: capability errors are retryable, guardrail violations route the
// run, everything else fails it.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindGuardrail    Kind = "guardrail_violation"
	KindCapability   Kind = "capability"
	KindInvalidState Kind = "invalid_state"
	KindCancelled    Kind = "cancelled"
)

// Error is the typed pipeline error carried through step execution.
type Error struct {
	Kind       Kind
	Step       string
	Capability string
	Reason     string

	// ForceEscalate is set on content-filter guardrail violations: the run
	// must escalate no matter which step tripped the filter.
	ForceEscalate bool

	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("engine: %s", e.Kind)
	if e.Step != "" {
		msg += fmt.Sprintf(" at step %s", e.Step)
	}
	if e.Capability != "" {
		msg += fmt.Sprintf(" (capability %s)", e.Capability)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the error kind, defaulting to capability for untyped
// errors surfaced by capability invocations.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindCapability
}

// Retryable reports whether a failed step attempt may be retried.
// Only capability errors (including timeouts) qualify.
func Retryable(err error) bool {
	return KindOf(err) == KindCapability
}
