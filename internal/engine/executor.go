package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kansa/internal/capability"
	"github.com/ashita-ai/kansa/internal/guardrail"
	"github.com/ashita-ai/kansa/internal/ledger"
	"github.com/ashita-ai/kansa/internal/model"
)

// executor runs step attempts for one run, enforcing the guardrail gate and
// recording every action in the audit ledger before acting on it.
type executor struct {
	runID    uuid.UUID
	run      *model.Run
	registry *capability.Registry
	gate     *guardrail.Gate
	ledger   ledger.Ledger
	logger   *slog.Logger
}

// append records an audit event. A failed append aborts the run: the rule
// is record first, act second, so an unrecorded action must not happen.
func (e *executor) append(ctx context.Context, step State, kind model.EventKind, payload any, durationMs *int64) error {
	_, err := e.ledger.Append(ctx, model.AuditEvent{
		RunID:      e.runID,
		Step:       string(step),
		Kind:       kind,
		Payload:    model.PayloadMap(payload),
		DurationMs: durationMs,
	})
	if err != nil {
		e.logger.Error("audit append failed", "run_id", e.runID, "step", step, "kind", kind, "error", err)
		return &Error{Kind: KindInvalidState, Step: string(step), Reason: "audit append failed", Err: err}
	}
	return nil
}

// runStep executes one attempt of a step, bracketed by step_started and
// step_completed or step_failed events.
func (e *executor) runStep(ctx context.Context, state State, env *stepEnv, attempt int) (Fragment, error) {
	fn, ok := stepFuncs[state]
	if !ok {
		return Fragment{}, &Error{Kind: KindInvalidState, Step: string(state),
			Reason: "state has no executable step"}
	}

	if err := e.append(ctx, state, model.EventStepStarted,
		model.StepStartedPayload{Attempt: attempt}, nil); err != nil {
		return Fragment{}, err
	}

	start := time.Now()
	frag, err := fn(ctx, env)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		kind := KindOf(err)
		if appendErr := e.append(ctx, state, model.EventStepFailed, model.StepFailedPayload{
			Attempt:   attempt,
			ErrorKind: string(kind),
			Error:     err.Error(),
		}, &elapsed); appendErr != nil {
			return Fragment{}, appendErr
		}
		return Fragment{}, err
	}

	if err := e.append(ctx, state, model.EventStepCompleted, model.StepCompletedPayload{
		Attempt: attempt,
		Fields:  frag.Names(),
	}, &elapsed); err != nil {
		return Fragment{}, err
	}
	return frag, nil
}

// invoke sends a request through the guardrail gate, calls the capability
// under the configured deadline, and gates the response. tool_invoked is
// recorded only when the response passes; a blocked attempt leaves a
// guardrail_blocked event instead.
func (e *executor) invoke(ctx context.Context, state State, capName string, input any) (json.RawMessage, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Step: string(state), Capability: capName,
			Reason: "encode request", Err: err}
	}

	if d := e.gate.CheckRequest(e.runID, string(state), capName, payload,
		e.run.Config.MaxCapabilityCalls); !d.Allow {
		return nil, e.blocked(ctx, state, capName, d)
	}

	cap, err := e.registry.Resolve(capName)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Step: string(state), Capability: capName, Err: err}
	}

	invokeCtx, cancel := context.WithTimeout(ctx, e.run.Config.CapabilityTimeout)
	defer cancel()

	start := time.Now()
	output, err := cap.Invoke(invokeCtx, payload)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		if appendErr := e.append(ctx, state, model.EventToolInvoked, model.ToolInvokedPayload{
			Capability: capName,
			DurationMs: elapsed,
			Error:      err.Error(),
		}, &elapsed); appendErr != nil {
			return nil, appendErr
		}
		return nil, &Error{Kind: KindCapability, Step: string(state), Capability: capName, Err: err}
	}

	if d := e.gate.CheckResponse(capName, output); !d.Allow {
		return nil, e.blocked(ctx, state, capName, d)
	}

	if err := e.append(ctx, state, model.EventToolInvoked, model.ToolInvokedPayload{
		Capability: capName,
		DurationMs: elapsed,
	}, &elapsed); err != nil {
		return nil, err
	}
	return output, nil
}

// blocked records a guardrail denial and converts it into a typed error.
func (e *executor) blocked(ctx context.Context, state State, capName string, d guardrail.Decision) error {
	e.logger.Warn("guardrail blocked capability",
		"run_id", e.runID, "step", state, "capability", capName,
		"check", d.Check, "stage", d.Stage, "reason", d.Reason)

	if err := e.append(ctx, state, model.EventGuardrailBlocked, model.GuardrailBlockedPayload{
		Capability:    capName,
		Check:         d.Check,
		Stage:         d.Stage,
		Reason:        d.Reason,
		ForceEscalate: d.ForceEscalate,
	}, nil); err != nil {
		return err
	}

	return &Error{
		Kind:          KindGuardrail,
		Step:          string(state),
		Capability:    capName,
		Reason:        d.Reason,
		ForceEscalate: d.ForceEscalate,
	}
}
