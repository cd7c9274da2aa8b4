package engine

import (
	"fmt"

	"github.com/ashita-ai/kansa/internal/model"
)

// Fragment is the set of run-context fields one step attempt produced.
// Pointer fields distinguish "not written" (nil) from "written but empty"
// (pointer to an empty slice).
type Fragment struct {
	Transactions *[]model.Transaction
	Summary      *model.TransactionSummary
	Anomalies    *[]model.Anomaly
	Snippets     *[]model.PolicySnippet
	Draft        *model.Draft
	Routing      *model.Routing
	Decision     *model.DecisionRecord
}

// Names returns the field names the fragment writes, in pipeline order.
func (f Fragment) Names() []string {
	var names []string
	if f.Transactions != nil {
		names = append(names, "transactions")
	}
	if f.Summary != nil {
		names = append(names, "summary")
	}
	if f.Anomalies != nil {
		names = append(names, "anomalies")
	}
	if f.Snippets != nil {
		names = append(names, "snippets")
	}
	if f.Draft != nil {
		names = append(names, "draft")
	}
	if f.Routing != nil {
		names = append(names, "routing")
	}
	if f.Decision != nil {
		names = append(names, "decision")
	}
	return names
}

// RunContext accumulates the data produced by pipeline steps. Each field is
// write-once: a step that produces a field already present is a programming
// error and fails the merge. Only the run's own goroutine touches it, so no
// locking.
type RunContext struct {
	transactions *[]model.Transaction
	summary      *model.TransactionSummary
	anomalies    *[]model.Anomaly
	snippets     *[]model.PolicySnippet
	draft        *model.Draft
	routing      *model.Routing
	decision     *model.DecisionRecord
}

// NewRunContext creates an empty run context.
func NewRunContext() *RunContext {
	return &RunContext{}
}

// Apply merges a step's fragment into the context. Every field in the
// fragment must be unset in the context; on conflict nothing is merged.
func (rc *RunContext) Apply(f Fragment) error {
	conflict := func(field string) error {
		return &Error{
			Kind:   KindInvalidState,
			Reason: fmt.Sprintf("run context field %q already written", field),
		}
	}

	if f.Transactions != nil && rc.transactions != nil {
		return conflict("transactions")
	}
	if f.Summary != nil && rc.summary != nil {
		return conflict("summary")
	}
	if f.Anomalies != nil && rc.anomalies != nil {
		return conflict("anomalies")
	}
	if f.Snippets != nil && rc.snippets != nil {
		return conflict("snippets")
	}
	if f.Draft != nil && rc.draft != nil {
		return conflict("draft")
	}
	if f.Routing != nil && rc.routing != nil {
		return conflict("routing")
	}
	if f.Decision != nil && rc.decision != nil {
		return conflict("decision")
	}

	if f.Transactions != nil {
		rc.transactions = f.Transactions
	}
	if f.Summary != nil {
		rc.summary = f.Summary
	}
	if f.Anomalies != nil {
		rc.anomalies = f.Anomalies
	}
	if f.Snippets != nil {
		rc.snippets = f.Snippets
	}
	if f.Draft != nil {
		rc.draft = f.Draft
	}
	if f.Routing != nil {
		rc.routing = f.Routing
	}
	if f.Decision != nil {
		rc.decision = f.Decision
	}
	return nil
}

// Transactions returns the ingested transactions, or nil if unwritten.
func (rc *RunContext) Transactions() []model.Transaction {
	if rc.transactions == nil {
		return nil
	}
	return *rc.transactions
}

// Summary returns the transaction summary and whether it was written.
func (rc *RunContext) Summary() (model.TransactionSummary, bool) {
	if rc.summary == nil {
		return model.TransactionSummary{}, false
	}
	return *rc.summary, true
}

// Anomalies returns the detected anomalies, or nil if unwritten.
func (rc *RunContext) Anomalies() []model.Anomaly {
	if rc.anomalies == nil {
		return nil
	}
	return *rc.anomalies
}

// Snippets returns the retrieved policy snippets, or nil if unwritten.
func (rc *RunContext) Snippets() []model.PolicySnippet {
	if rc.snippets == nil {
		return nil
	}
	return *rc.snippets
}

// Draft returns the drafted explanation and whether it was written.
func (rc *RunContext) Draft() (model.Draft, bool) {
	if rc.draft == nil {
		return model.Draft{}, false
	}
	return *rc.draft, true
}

// Routing returns the evaluation verdict and whether it was written.
func (rc *RunContext) Routing() (model.Routing, bool) {
	if rc.routing == nil {
		return model.Routing{}, false
	}
	return *rc.routing, true
}

// Decision returns the final decision and whether it was written.
func (rc *RunContext) Decision() (model.DecisionRecord, bool) {
	if rc.decision == nil {
		return model.DecisionRecord{}, false
	}
	return *rc.decision, true
}

// Snapshot freezes the context into a plain map for persistence with the
// terminal run record. Unwritten fields are omitted.
func (rc *RunContext) Snapshot() map[string]any {
	snap := make(map[string]any)
	if rc.transactions != nil {
		snap["transactions"] = model.PayloadMap(map[string]any{"items": *rc.transactions})["items"]
	}
	if rc.summary != nil {
		snap["summary"] = model.PayloadMap(*rc.summary)
	}
	if rc.anomalies != nil {
		snap["anomalies"] = model.PayloadMap(map[string]any{"items": *rc.anomalies})["items"]
	}
	if rc.snippets != nil {
		snap["snippets"] = model.PayloadMap(map[string]any{"items": *rc.snippets})["items"]
	}
	if rc.draft != nil {
		snap["draft"] = model.PayloadMap(*rc.draft)
	}
	if rc.routing != nil {
		snap["routing"] = model.PayloadMap(*rc.routing)
	}
	if rc.decision != nil {
		snap["decision"] = model.PayloadMap(*rc.decision)
	}
	return snap
}
