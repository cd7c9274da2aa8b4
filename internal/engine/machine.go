// Package engine is the deterministic orchestration core: it walks each run
// through the fixed pipeline topology, executes steps via the capability
// registry behind the guardrail gate, and records every action in the audit
// ledger before acting on it.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kansa/internal/capability"
	"github.com/ashita-ai/kansa/internal/guardrail"
	"github.com/ashita-ai/kansa/internal/ledger"
	"github.com/ashita-ai/kansa/internal/model"
)

// RunStore is the slice of the storage layer the orchestrator needs.
type RunStore interface {
	GetRun(ctx context.Context, id uuid.UUID) (*model.Run, error)

	// MarkRunRunning transitions pending → running. Any other current
	// status is an error, which also guards against double execution.
	MarkRunRunning(ctx context.Context, id uuid.UUID) error

	// CompleteRun records the terminal status, decision, summary, and the
	// frozen run context.
	CompleteRun(ctx context.Context, id uuid.UUID, status model.RunStatus,
		decision *model.Decision, summary, frozen map[string]any) error
}

// Orchestrator executes review runs. Stateless across runs: all per-run
// state lives in the run context and the ledger, so one orchestrator serves
// any number of concurrent runs.
type Orchestrator struct {
	store    RunStore
	ledger   ledger.Ledger
	registry *capability.Registry
	gate     *guardrail.Gate
	logger   *slog.Logger

	runsCompleted metric.Int64Counter
	stepDuration  metric.Float64Histogram
}

// New creates an orchestrator.
func New(store RunStore, lg ledger.Ledger, registry *capability.Registry,
	gate *guardrail.Gate, logger *slog.Logger) *Orchestrator {

	meter := otel.Meter("github.com/ashita-ai/kansa/internal/engine")
	runsCompleted, _ := meter.Int64Counter("kansa.runs.completed",
		metric.WithDescription("Review runs reaching a terminal state, by status"))
	stepDuration, _ := meter.Float64Histogram("kansa.step.duration",
		metric.WithDescription("Pipeline step execution time"),
		metric.WithUnit("ms"))

	return &Orchestrator{
		store:         store,
		ledger:        lg,
		registry:      registry,
		gate:          gate,
		logger:        logger,
		runsCompleted: runsCompleted,
		stepDuration:  stepDuration,
	}
}

// Execute walks one pending run to a terminal state. It returns an error
// only when the run could not be executed at all or its terminal state could
// not be persisted; a run that ends escalated, finalized, or failed is a
// successful execution.
func (o *Orchestrator) Execute(ctx context.Context, runID uuid.UUID) error {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("engine: load run %s: %w", runID, err)
	}
	if run.Status != model.RunStatusPending {
		return &Error{Kind: KindInvalidState,
			Reason: fmt.Sprintf("run %s is %s, not pending", runID, run.Status)}
	}
	if err := o.store.MarkRunRunning(ctx, runID); err != nil {
		return fmt.Errorf("engine: mark run %s running: %w", runID, err)
	}

	logger := o.logger.With("run_id", runID, "customer_id", run.CustomerID)
	logger.Info("run started",
		"window_days", run.Config.AnalysisWindowDays,
		"escalation_threshold", run.Config.EscalationThreshold)

	rc := NewRunContext()
	exec := &executor{
		runID:    runID,
		run:      run,
		registry: o.registry,
		gate:     o.gate,
		ledger:   o.ledger,
		logger:   logger,
	}
	env := &stepEnv{run: run, rc: rc}
	env.invoke = func(ctx context.Context, capName string, input any) (json.RawMessage, error) {
		return exec.invoke(ctx, env.state, capName, input)
	}

	defer o.gate.ReleaseRun(runID)

	state := transitions[StateStart]
	for state != StateEnd {
		// Cancellation is cooperative and checked only between states, so
		// a step that already started always runs to completion.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return o.abort(run, rc, state, &Error{Kind: KindCancelled, Step: string(state),
				Reason: "run cancelled before step", Err: ctxErr}, logger)
		}

		env.state = state
		frag, stepErr := o.runWithRetries(ctx, exec, env, state, logger)
		if stepErr != nil {
			next, handled := o.routeFailure(env, state, stepErr, logger)
			if !handled {
				return o.fail(run, rc, stepErr, logger)
			}
			state = next
			continue
		}

		if err := rc.Apply(frag); err != nil {
			return o.abort(run, rc, state, err, logger)
		}

		if state == StateEvaluate {
			routing, _ := rc.Routing()
			if routing.Escalate {
				state = StateEscalate
			} else {
				state = StateFinalize
			}
			continue
		}
		state = transitions[state]
	}

	return o.finish(ctx, run, rc, logger)
}

// runWithRetries executes a step, retrying capability failures up to the
// run's retry budget. Each attempt leaves its own step_started and
// step_failed pair in the trail.
func (o *Orchestrator) runWithRetries(ctx context.Context, exec *executor,
	env *stepEnv, state State, logger *slog.Logger) (Fragment, error) {

	var lastErr error
	for attempt := 1; ; attempt++ {
		start := time.Now()
		frag, err := exec.runStep(ctx, state, env, attempt)
		o.stepDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("step", string(state))))

		if err == nil {
			return frag, nil
		}
		lastErr = err

		if !Retryable(err) || attempt > env.run.Config.MaxRetries {
			return Fragment{}, lastErr
		}
		logger.Warn("step failed, retrying",
			"step", state, "attempt", attempt, "max_retries", env.run.Config.MaxRetries, "error", err)

		if ctx.Err() != nil {
			return Fragment{}, lastErr
		}
	}
}

// routeFailure decides whether a step failure redirects the pipeline
// instead of failing the run. Content-filter denials force escalation from
// anywhere; other guardrail denials escalate only at or past evaluate.
func (o *Orchestrator) routeFailure(env *stepEnv, state State, stepErr error, logger *slog.Logger) (State, bool) {
	var pe *Error
	if !errors.As(stepErr, &pe) || pe.Kind != KindGuardrail {
		return "", false
	}

	if pe.ForceEscalate {
		logger.Warn("content filter forced escalation", "step", state, "reason", pe.Reason)
		env.forcedReason = pe.Reason
		// Route through evaluate so the forced verdict is recorded there.
		return StateEvaluate, true
	}
	if atOrAfterEvaluate(state) {
		logger.Warn("guardrail violation escalated run", "step", state, "reason", pe.Reason)
		env.forcedReason = pe.Reason
		return StateEvaluate, true
	}
	return "", false
}

// finish persists the terminal state reached through escalate or finalize.
func (o *Orchestrator) finish(ctx context.Context, run *model.Run, rc *RunContext, logger *slog.Logger) error {
	decision, ok := rc.Decision()
	if !ok {
		return o.abort(run, rc, StateEnd, &Error{Kind: KindInvalidState,
			Reason: "pipeline reached end without a decision"}, logger)
	}

	var confidence float64
	var confidencePtr *float64
	if draft, ok := rc.Draft(); ok {
		confidence = draft.Confidence
		confidencePtr = &confidence
	}
	routing, _ := rc.Routing()

	status := model.RunStatusFinalized
	eventKind := model.EventRunFinalized
	step := StateFinalize
	if decision.Outcome == model.DecisionEscalated {
		status = model.RunStatusEscalated
		eventKind = model.EventRunEscalated
		step = StateEscalate
	}

	exec := &executor{runID: run.ID, run: run, ledger: o.ledger, logger: logger}
	if err := exec.append(ctx, step, eventKind, model.RunRoutedPayload{
		Decision:   decision.Outcome,
		Confidence: confidencePtr,
		Threshold:  run.Config.EscalationThreshold,
		Reason:     routing.Reason,
	}, nil); err != nil {
		return o.fail(run, rc, err, logger)
	}

	summary := map[string]any{
		"transaction_count": len(rc.Transactions()),
		"anomaly_count":     len(rc.Anomalies()),
		"snippet_count":     len(rc.Snippets()),
		"confidence":        confidence,
		"decision":          string(decision.Outcome),
		"reason":            decision.Reason,
	}
	if err := o.store.CompleteRun(ctx, run.ID, status, &decision.Outcome, summary, rc.Snapshot()); err != nil {
		return fmt.Errorf("engine: complete run %s: %w", run.ID, err)
	}

	o.runsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
	logger.Info("run completed", "status", status, "decision", decision.Outcome, "confidence", confidence)
	return nil
}

// abort records a terminating step_failed event and then fails the run.
// Used for failures outside a step attempt (cancellation, context conflicts,
// missing decision), where the executor has not already written one: the
// trail must never end without an event explaining why the run died.
func (o *Orchestrator) abort(run *model.Run, rc *RunContext, state State, cause error, logger *slog.Logger) error {
	// Fresh context: the run's own context may be the very thing that was
	// cancelled.
	appendCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := o.ledger.Append(appendCtx, model.AuditEvent{
		RunID: run.ID,
		Step:  string(state),
		Kind:  model.EventStepFailed,
		Payload: model.PayloadMap(model.StepFailedPayload{
			ErrorKind: string(KindOf(cause)),
			Error:     cause.Error(),
		}),
	}); err != nil {
		logger.Error("terminating audit append failed", "error", err, "cause", cause)
	}
	return o.fail(run, rc, cause, logger)
}

// fail marks the run failed. Callers ensure the trail already carries the
// step_failed or guardrail_blocked event describing why; failures with no
// prior event go through abort instead.
func (o *Orchestrator) fail(run *model.Run, rc *RunContext, cause error, logger *slog.Logger) error {
	summary := map[string]any{
		"error_kind": string(KindOf(cause)),
		"error":      cause.Error(),
	}

	// Persist with a fresh context: the run's own context may be the very
	// thing that was cancelled.
	persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := o.store.CompleteRun(persistCtx, run.ID, model.RunStatusFailed, nil, summary, rc.Snapshot()); err != nil {
		logger.Error("failed to persist failed run", "error", err, "cause", cause)
		return errors.Join(cause, err)
	}

	o.runsCompleted.Add(persistCtx, 1, metric.WithAttributes(
		attribute.String("status", string(model.RunStatusFailed))))
	logger.Error("run failed", "error_kind", KindOf(cause), "error", cause)
	return nil
}
