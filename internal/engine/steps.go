package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ashita-ai/kansa/internal/capability"
	"github.com/ashita-ai/kansa/internal/model"
)

// State is a node in the pipeline state machine.
type State string

const (
	StateStart    State = "start"
	StateIngest   State = "ingest"
	StateDetect   State = "detect"
	StateRetrieve State = "retrieve"
	StateDraft    State = "draft"
	StateEvaluate State = "evaluate"
	StateEscalate State = "escalate"
	StateFinalize State = "finalize"
	StateEnd      State = "end"
	StateFailed   State = "failed"
)

// transitions is the static topology. Evaluate is the only branch point;
// its successor is chosen by the routing verdict, so it is absent here.
var transitions = map[State]State{
	StateStart:    StateIngest,
	StateIngest:   StateDetect,
	StateDetect:   StateRetrieve,
	StateRetrieve: StateDraft,
	StateDraft:    StateEvaluate,
	StateEscalate: StateEnd,
	StateFinalize: StateEnd,
}

// stateOrder positions states along the pipeline. Guardrail denials at or
// after evaluate escalate the run; earlier ones fail it.
var stateOrder = map[State]int{
	StateStart:    0,
	StateIngest:   1,
	StateDetect:   2,
	StateRetrieve: 3,
	StateDraft:    4,
	StateEvaluate: 5,
	StateEscalate: 6,
	StateFinalize: 6,
	StateEnd:      7,
}

// atOrAfterEvaluate reports whether the state sits at or past the branch point.
func atOrAfterEvaluate(s State) bool {
	return stateOrder[s] >= stateOrder[StateEvaluate]
}

// stepEnv is everything one step attempt may touch.
type stepEnv struct {
	run   *model.Run
	rc    *RunContext
	state State

	// forcedReason carries the content-filter violation reason when the
	// run is being force-routed to escalation.
	forcedReason string

	invoke func(ctx context.Context, capName string, input any) (json.RawMessage, error)
}

// stepFunc executes one pipeline step and returns the fields it produced.
type stepFunc func(ctx context.Context, env *stepEnv) (Fragment, error)

// stepFuncs binds each state to its step. Start, end, and failed have no
// step to run.
var stepFuncs = map[State]stepFunc{
	StateIngest:   stepIngest,
	StateDetect:   stepDetect,
	StateRetrieve: stepRetrieve,
	StateDraft:    stepDraft,
	StateEvaluate: stepEvaluate,
	StateEscalate: stepEscalate,
	StateFinalize: stepFinalize,
}

func stepIngest(ctx context.Context, env *stepEnv) (Fragment, error) {
	out, err := env.invoke(ctx, capability.NameTransactionIngest, capability.IngestInput{
		CustomerID: env.run.CustomerID,
		WindowDays: env.run.Config.AnalysisWindowDays,
	})
	if err != nil {
		return Fragment{}, err
	}

	var decoded capability.IngestOutput
	if err := json.Unmarshal(out, &decoded); err != nil {
		return Fragment{}, &Error{Kind: KindCapability, Capability: capability.NameTransactionIngest,
			Reason: "decode output", Err: err}
	}
	if decoded.Transactions == nil {
		decoded.Transactions = []model.Transaction{}
	}
	return Fragment{Transactions: &decoded.Transactions, Summary: &decoded.Summary}, nil
}

func stepDetect(ctx context.Context, env *stepEnv) (Fragment, error) {
	out, err := env.invoke(ctx, capability.NameAnomalyDetect, capability.DetectInput{
		Transactions: env.rc.Transactions(),
		Threshold:    env.run.Config.AnomalyThreshold,
	})
	if err != nil {
		return Fragment{}, err
	}

	var decoded capability.DetectOutput
	if err := json.Unmarshal(out, &decoded); err != nil {
		return Fragment{}, &Error{Kind: KindCapability, Capability: capability.NameAnomalyDetect,
			Reason: "decode output", Err: err}
	}
	if decoded.Anomalies == nil {
		decoded.Anomalies = []model.Anomaly{}
	}
	return Fragment{Anomalies: &decoded.Anomalies}, nil
}

func stepRetrieve(ctx context.Context, env *stepEnv) (Fragment, error) {
	out, err := env.invoke(ctx, capability.NamePolicyRetrieve, capability.RetrieveInput{
		Anomalies: env.rc.Anomalies(),
	})
	if err != nil {
		return Fragment{}, err
	}

	var decoded capability.RetrieveOutput
	if err := json.Unmarshal(out, &decoded); err != nil {
		return Fragment{}, &Error{Kind: KindCapability, Capability: capability.NamePolicyRetrieve,
			Reason: "decode output", Err: err}
	}
	if decoded.Snippets == nil {
		decoded.Snippets = []model.PolicySnippet{}
	}
	return Fragment{Snippets: &decoded.Snippets}, nil
}

func stepDraft(ctx context.Context, env *stepEnv) (Fragment, error) {
	summary, _ := env.rc.Summary()
	out, err := env.invoke(ctx, capability.NameExplanationDraft, capability.DraftInput{
		CustomerID: env.run.CustomerID,
		Anomalies:  env.rc.Anomalies(),
		Summary:    summary,
		Snippets:   env.rc.Snippets(),
	})
	if err != nil {
		return Fragment{}, err
	}

	var decoded capability.DraftOutput
	if err := json.Unmarshal(out, &decoded); err != nil {
		return Fragment{}, &Error{Kind: KindCapability, Capability: capability.NameExplanationDraft,
			Reason: "decode output", Err: err}
	}
	return Fragment{Draft: &decoded.Draft}, nil
}

// stepEvaluate routes the run. Confidence strictly below the threshold
// escalates; at or above it finalizes. A forced reason set by a
// content-filter denial always escalates.
func stepEvaluate(_ context.Context, env *stepEnv) (Fragment, error) {
	if env.forcedReason != "" {
		routing := model.Routing{Escalate: true, Reason: env.forcedReason}
		return Fragment{Routing: &routing}, nil
	}

	draft, ok := env.rc.Draft()
	if !ok {
		return Fragment{}, &Error{Kind: KindInvalidState, Step: string(StateEvaluate),
			Reason: "no draft available to evaluate"}
	}

	threshold := env.run.Config.EscalationThreshold
	routing := model.Routing{}
	if draft.Confidence < threshold {
		routing.Escalate = true
		routing.Reason = fmt.Sprintf("confidence %.2f below threshold %.2f", draft.Confidence, threshold)
	} else {
		routing.Reason = fmt.Sprintf("confidence %.2f meets threshold %.2f", draft.Confidence, threshold)
	}
	return Fragment{Routing: &routing}, nil
}

func stepEscalate(_ context.Context, env *stepEnv) (Fragment, error) {
	reason := "escalated for human review"
	if routing, ok := env.rc.Routing(); ok && routing.Reason != "" {
		reason = routing.Reason
	}
	decision := model.DecisionRecord{Outcome: model.DecisionEscalated, Reason: reason}
	return Fragment{Decision: &decision}, nil
}

// stepFinalize closes the run without human involvement: anomalies that
// were reviewed resolve automatically, a clean window needs no action.
func stepFinalize(_ context.Context, env *stepEnv) (Fragment, error) {
	decision := model.DecisionRecord{Outcome: model.DecisionNoAction, Reason: "no anomalies detected"}
	if len(env.rc.Anomalies()) > 0 {
		decision = model.DecisionRecord{
			Outcome: model.DecisionAutoResolved,
			Reason:  fmt.Sprintf("%d anomalies reviewed and auto-resolved", len(env.rc.Anomalies())),
		}
	}
	return Fragment{Decision: &decision}, nil
}
