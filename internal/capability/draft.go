package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ashita-ai/kansa/internal/model"
)

const draftInputSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["customer_id", "anomalies", "summary"],
	"additionalProperties": false,
	"properties": {
		"customer_id": {"type": "string", "format": "uuid"},
		"anomalies": {"type": "array", "items": {"type": "object"}},
		"summary": {"type": "object"},
		"snippets": {"type": "array", "items": {"type": "object"}}
	}
}`

const draftOutputSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["draft"],
	"properties": {
		"draft": {
			"type": "object",
			"required": ["narrative", "recommended_actions", "confidence"],
			"properties": {
				"narrative": {"type": "string", "minLength": 1},
				"recommended_actions": {"type": "array", "items": {"type": "string"}, "minItems": 1},
				"confidence": {"type": "number", "minimum": 0, "maximum": 1}
			}
		}
	}
}`

// DraftInput is the request for the explanation_draft capability.
type DraftInput struct {
	CustomerID uuid.UUID                `json:"customer_id"`
	Anomalies  []model.Anomaly          `json:"anomalies"`
	Summary    model.TransactionSummary `json:"summary"`
	Snippets   []model.PolicySnippet    `json:"snippets,omitempty"`
}

// DraftOutput is the explanation_draft response.
type DraftOutput struct {
	Draft model.Draft `json:"draft"`
}

// Drafter turns the review findings into a narrative with a confidence score.
type Drafter interface {
	Draft(ctx context.Context, in DraftInput) (model.Draft, error)
}

// ExplanationDraft wraps a Drafter as a pipeline capability.
type ExplanationDraft struct {
	drafter Drafter
}

// NewExplanationDraft creates the drafting capability.
func NewExplanationDraft(drafter Drafter) *ExplanationDraft {
	return &ExplanationDraft{drafter: drafter}
}

// Descriptor returns the capability metadata.
func (e *ExplanationDraft) Descriptor() Descriptor {
	return Descriptor{
		Name:         NameExplanationDraft,
		Description:  "Draft a narrative explanation of the review findings with recommended actions",
		InputSchema:  json.RawMessage(draftInputSchema),
		OutputSchema: json.RawMessage(draftOutputSchema),
	}
}

// Invoke delegates to the configured drafter.
func (e *ExplanationDraft) Invoke(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in DraftInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("capability: decode draft input: %w", err)
	}

	draft, err := e.drafter.Draft(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("capability: draft explanation: %w", err)
	}

	encoded, err := json.Marshal(DraftOutput{Draft: draft})
	if err != nil {
		return nil, fmt.Errorf("capability: encode draft output: %w", err)
	}
	return encoded, nil
}

// MockDrafter generates a deterministic template-based narrative. The
// confidence score depends only on the anomaly count, which keeps routing
// reproducible end to end.
type MockDrafter struct{}

// NewMockDrafter creates the deterministic drafter.
func NewMockDrafter() *MockDrafter {
	return &MockDrafter{}
}

// Confidence tiers keyed off the anomaly count.
const (
	confidenceClean    = 0.95 // no anomalies
	confidenceFew      = 0.85 // one or two anomalies
	confidenceElevated = 0.65 // three or more anomalies
)

// Draft builds the narrative from the findings.
func (m *MockDrafter) Draft(_ context.Context, in DraftInput) (model.Draft, error) {
	var b strings.Builder
	n := len(in.Anomalies)

	noun := "anomalies"
	if n == 1 {
		noun = "anomaly"
	}
	fmt.Fprintf(&b, "Analysis of %d transactions identified %d potential %s.",
		in.Summary.Count, n, noun)

	if n > 0 {
		b.WriteString("\n\nDetected anomalies include:")
		for i, a := range in.Anomalies {
			if i == 3 {
				break
			}
			fmt.Fprintf(&b, "\n%d. Transaction of $%.2f at %s (score: %.2f)",
				i+1, a.Amount, a.Merchant, a.Score)
			if len(a.Reasons) > 0 {
				fmt.Fprintf(&b, "\n   Reasons: %s", strings.Join(a.Reasons, ", "))
			}
		}
	}

	if len(in.Snippets) > 0 {
		fmt.Fprintf(&b, "\n\nThis analysis references %d relevant internal policies "+
			"regarding transaction monitoring and fraud detection.", len(in.Snippets))
	}

	var actions []string
	var confidence float64
	switch {
	case n == 0:
		actions = []string{"continue_normal_monitoring"}
		confidence = confidenceClean
	case n <= 2:
		actions = []string{"flag_for_review", "notify_customer"}
		confidence = confidenceFew
	default:
		actions = []string{"escalate_to_analyst", "notify_customer", "enhanced_monitoring"}
		confidence = confidenceElevated
	}

	return model.Draft{
		Narrative:          b.String(),
		RecommendedActions: actions,
		Confidence:         confidence,
	}, nil
}
