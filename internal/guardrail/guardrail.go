// Package guardrail enforces safety checks around every capability
// invocation.
//
// The Gate runs a fixed check order on requests: allowlist, JSON Schema,
// content filter, call budget. Responses get schema and content checks.
// Checks short-circuit on the first denial. A denial is a decision, not an
// error: the caller records it and routes the run accordingly.
package guardrail

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/text/unicode/norm"

	"github.com/ashita-ai/kansa/internal/capability"
)

// Check names identify which guardrail produced a decision.
const (
	CheckAllowlist     = "allowlist"
	CheckSchema        = "schema"
	CheckContentFilter = "content_filter"
	CheckCallBudget    = "call_budget"
)

// Stage names identify which side of an invocation was checked.
const (
	StageRequest  = "request"
	StageResponse = "response"
)

// Decision is the outcome of a gate check.
type Decision struct {
	Allow  bool
	Check  string // which check denied; empty when allowed
	Stage  string // request or response
	Reason string

	// ForceEscalate marks content-filter denials: the run must route to
	// escalation regardless of where in the pipeline the denial happened.
	ForceEscalate bool
}

func allowed(stage string) Decision {
	return Decision{Allow: true, Stage: stage}
}

// Policy configures the gate.
type Policy struct {
	// StepCapabilities maps each pipeline step to the one capability it
	// may invoke. Requests from unmapped steps are denied.
	StepCapabilities map[string]string

	// DenyPatterns are case-insensitive regexps matched against every
	// string value in request and response payloads.
	DenyPatterns []string
}

// DefaultDenyPatterns block content a review narrative must never carry:
// real institution names, PII shapes, financial advice, and legal or
// compliance claims.
var DefaultDenyPatterns = []string{
	`\b(Wells Fargo|Bank of America|Chase|Citibank|Capital One|HSBC|Barclays)\b`,
	`\b\d{3}-\d{2}-\d{4}\b`,
	`\b\d{4}[- ]?\d{4}[- ]?\d{4}[- ]?\d{4}\b`,
	`\b(buy|sell|invest in|purchase|guaranteed returns)\b`,
	`\b(guaranteed|promise|warranty|legally binding)\b`,
	`\b(PCI DSS|SOC 2|GDPR compliant|certified by)\b`,
}

// DefaultPolicy returns the standard pipeline policy: each step bound to
// exactly one capability, with the default deny patterns.
func DefaultPolicy() Policy {
	return Policy{
		StepCapabilities: map[string]string{
			"ingest":   capability.NameTransactionIngest,
			"detect":   capability.NameAnomalyDetect,
			"retrieve": capability.NamePolicyRetrieve,
			"draft":    capability.NameExplanationDraft,
		},
		DenyPatterns: DefaultDenyPatterns,
	}
}

type compiledSchemas struct {
	input  *gojsonschema.Schema
	output *gojsonschema.Schema
}

// Gate applies guardrail checks for capability invocations. Immutable after
// construction except for the call budget counters.
type Gate struct {
	policy   Policy
	schemas  map[string]compiledSchemas
	patterns []*regexp.Regexp
	budget   *CallBudget
}

// NewGate compiles the registry's schemas and the policy's deny patterns.
// Compilation failures are configuration errors and abort startup.
func NewGate(reg *capability.Registry, policy Policy) (*Gate, error) {
	schemas := make(map[string]compiledSchemas)
	for _, name := range reg.Names() {
		cap, err := reg.Resolve(name)
		if err != nil {
			return nil, err
		}
		desc := cap.Descriptor()

		in, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(desc.InputSchema))
		if err != nil {
			return nil, fmt.Errorf("guardrail: compile input schema for %q: %w", name, err)
		}
		out, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(desc.OutputSchema))
		if err != nil {
			return nil, fmt.Errorf("guardrail: compile output schema for %q: %w", name, err)
		}
		schemas[name] = compiledSchemas{input: in, output: out}
	}

	patterns := make([]*regexp.Regexp, 0, len(policy.DenyPatterns))
	for _, p := range policy.DenyPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("guardrail: compile deny pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}

	return &Gate{
		policy:   policy,
		schemas:  schemas,
		patterns: patterns,
		budget:   NewCallBudget(),
	}, nil
}

// CheckRequest gates a capability request. maxCalls is the run's capability
// call budget; the budget counter increments only when every earlier check
// passed, so denied requests don't consume budget.
func (g *Gate) CheckRequest(runID uuid.UUID, step, capName string, payload json.RawMessage, maxCalls int) Decision {
	want, ok := g.policy.StepCapabilities[step]
	if !ok || want != capName {
		return Decision{
			Check:  CheckAllowlist,
			Stage:  StageRequest,
			Reason: fmt.Sprintf("step %q may not invoke capability %q", step, capName),
		}
	}

	if d := g.checkSchema(capName, StageRequest, payload); !d.Allow {
		return d
	}
	if d := g.checkContent(StageRequest, payload); !d.Allow {
		return d
	}

	if used, ok := g.budget.Take(runID, capName, maxCalls); !ok {
		return Decision{
			Check:  CheckCallBudget,
			Stage:  StageRequest,
			Reason: fmt.Sprintf("capability %q exceeded call budget (%d/%d)", capName, used, maxCalls),
		}
	}

	return allowed(StageRequest)
}

// CheckResponse gates a capability response: schema first, then content.
func (g *Gate) CheckResponse(capName string, payload json.RawMessage) Decision {
	if d := g.checkSchema(capName, StageResponse, payload); !d.Allow {
		return d
	}
	if d := g.checkContent(StageResponse, payload); !d.Allow {
		return d
	}
	return allowed(StageResponse)
}

// ReleaseRun discards the run's budget counters once it reaches a terminal
// state.
func (g *Gate) ReleaseRun(runID uuid.UUID) {
	g.budget.Release(runID)
}

func (g *Gate) checkSchema(capName, stage string, payload json.RawMessage) Decision {
	cs, ok := g.schemas[capName]
	if !ok {
		return Decision{
			Check:  CheckSchema,
			Stage:  stage,
			Reason: fmt.Sprintf("no schema registered for capability %q", capName),
		}
	}

	schema := cs.input
	if stage == StageResponse {
		schema = cs.output
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return Decision{
			Check:  CheckSchema,
			Stage:  stage,
			Reason: fmt.Sprintf("payload is not valid JSON: %v", err),
		}
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return Decision{
			Check:  CheckSchema,
			Stage:  stage,
			Reason: strings.Join(msgs, "; "),
		}
	}
	return allowed(stage)
}

// checkContent scans every string value in the payload against the deny
// patterns. Text is NFKC-normalized first so homoglyph and width tricks
// (fullwidth digits, ligatures) cannot slip past the patterns.
func (g *Gate) checkContent(stage string, payload json.RawMessage) Decision {
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return Decision{
			Check:  CheckContentFilter,
			Stage:  stage,
			Reason: fmt.Sprintf("payload is not valid JSON: %v", err),
		}
	}

	if match := g.scan(decoded); match != "" {
		return Decision{
			Check:         CheckContentFilter,
			Stage:         stage,
			Reason:        fmt.Sprintf("content contains prohibited pattern: %q", match),
			ForceEscalate: true,
		}
	}
	return allowed(stage)
}

// scan walks the decoded JSON value and returns the first prohibited match.
func (g *Gate) scan(v any) string {
	switch val := v.(type) {
	case string:
		folded := norm.NFKC.String(val)
		for _, re := range g.patterns {
			if m := re.FindString(folded); m != "" {
				return m
			}
		}
	case map[string]any:
		for _, item := range val {
			if m := g.scan(item); m != "" {
				return m
			}
		}
	case []any:
		for _, item := range val {
			if m := g.scan(item); m != "" {
				return m
			}
		}
	}
	return ""
}
