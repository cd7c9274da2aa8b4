package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashita-ai/kansa/internal/embedding"
	"github.com/ashita-ai/kansa/internal/model"
	"github.com/ashita-ai/kansa/internal/search"
)

// DefaultSnippetLimit is how many policy snippets a retrieval returns when
// the request does not say otherwise.
const DefaultSnippetLimit = 3

const retrieveInputSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["anomalies"],
	"additionalProperties": false,
	"properties": {
		"anomalies": {"type": "array", "items": {"type": "object"}},
		"limit": {"type": "integer", "minimum": 1, "maximum": 10}
	}
}`

const retrieveOutputSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["snippets", "query"],
	"properties": {
		"snippets": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["document_id", "title", "excerpt"],
				"properties": {
					"document_id": {"type": "string", "format": "uuid"},
					"title": {"type": "string"},
					"excerpt": {"type": "string"},
					"category": {"type": "string"},
					"similarity": {"type": "number"}
				}
			}
		},
		"query": {"type": "string"}
	}
}`

// RetrieveInput is the request for the policy_retrieve capability.
type RetrieveInput struct {
	Anomalies []model.Anomaly `json:"anomalies"`
	Limit     int             `json:"limit,omitempty"`
}

// RetrieveOutput is the policy_retrieve response. The generated query is
// echoed back so the audit trail shows what was searched for.
type RetrieveOutput struct {
	Snippets []model.PolicySnippet `json:"snippets"`
	Query    string                `json:"query"`
}

// PolicyRetrieve embeds a query built from the detected anomalies and runs
// vector similarity search over the policy corpus.
type PolicyRetrieve struct {
	embedder embedding.Provider
	searcher search.Searcher
}

// NewPolicyRetrieve creates the retrieval capability.
func NewPolicyRetrieve(embedder embedding.Provider, searcher search.Searcher) *PolicyRetrieve {
	return &PolicyRetrieve{embedder: embedder, searcher: searcher}
}

// Descriptor returns the capability metadata.
func (p *PolicyRetrieve) Descriptor() Descriptor {
	return Descriptor{
		Name:         NamePolicyRetrieve,
		Description:  "Retrieve internal policy snippets relevant to the detected anomalies",
		InputSchema:  json.RawMessage(retrieveInputSchema),
		OutputSchema: json.RawMessage(retrieveOutputSchema),
	}
}

// Invoke builds the query, embeds it, and searches the policy index.
func (p *PolicyRetrieve) Invoke(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in RetrieveInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("capability: decode retrieve input: %w", err)
	}
	limit := in.Limit
	if limit <= 0 {
		limit = DefaultSnippetLimit
	}

	query := buildQuery(in.Anomalies)
	vec, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("capability: embed query: %w", err)
	}

	snippets, err := p.searcher.Search(ctx, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("capability: search policies: %w", err)
	}
	if snippets == nil {
		snippets = []model.PolicySnippet{}
	}

	encoded, err := json.Marshal(RetrieveOutput{Snippets: snippets, Query: query})
	if err != nil {
		return nil, fmt.Errorf("capability: encode retrieve output: %w", err)
	}
	return encoded, nil
}

// buildQuery folds the anomalies' categories and reasons into one search
// string. Duplicates are dropped in first-seen order so the query is
// deterministic for a given anomaly list.
func buildQuery(anomalies []model.Anomaly) string {
	parts := []string{"transaction monitoring fraud detection"}
	seen := map[string]bool{}
	for _, a := range anomalies {
		if a.Category != "" && !seen[a.Category] {
			seen[a.Category] = true
			parts = append(parts, a.Category)
		}
		for _, r := range a.Reasons {
			if !seen[r] {
				seen[r] = true
				parts = append(parts, r)
			}
		}
	}
	return strings.Join(parts, " ")
}
