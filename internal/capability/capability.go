// Package capability defines the invocable units of pipeline work and the
// registry that resolves them by name.
//
// A capability is a named, schema-described operation: the orchestration core
// invokes it with a JSON request and receives a JSON response, with guardrail
// checks applied on both sides. Capabilities never write to run state
// themselves; they return data and the engine merges it.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// Capability names. These are the only names the pipeline ever invokes and
// the only names the guardrail allowlist admits.
const (
	NameTransactionIngest = "transaction_ingest"
	NameAnomalyDetect     = "anomaly_detect"
	NamePolicyRetrieve    = "policy_retrieve"
	NameExplanationDraft  = "explanation_draft"
)

// Descriptor is the static metadata for one capability: its unique name and
// the JSON Schemas its requests and responses must satisfy.
type Descriptor struct {
	Name         string
	Description  string
	InputSchema  json.RawMessage
	OutputSchema json.RawMessage
}

// Capability is one invocable unit of pipeline work.
type Capability interface {
	// Descriptor returns the capability's static metadata.
	Descriptor() Descriptor

	// Invoke executes the capability. Input has already passed the request
	// gate; output will be checked by the response gate before use.
	Invoke(ctx context.Context, input json.RawMessage) (json.RawMessage, error)
}

// Registry holds the capabilities available to the pipeline. Built once at
// startup and never mutated afterwards, so lookups need no locking.
type Registry struct {
	caps map[string]Capability
}

// NewRegistry builds a registry from the given capabilities.
// Duplicate names are a configuration error.
func NewRegistry(caps ...Capability) (*Registry, error) {
	m := make(map[string]Capability, len(caps))
	for _, c := range caps {
		name := c.Descriptor().Name
		if name == "" {
			return nil, fmt.Errorf("capability: empty capability name")
		}
		if _, dup := m[name]; dup {
			return nil, fmt.Errorf("capability: duplicate capability %q", name)
		}
		m[name] = c
	}
	return &Registry{caps: m}, nil
}

// Resolve returns the capability registered under name.
func (r *Registry) Resolve(name string) (Capability, error) {
	c, ok := r.caps[name]
	if !ok {
		return nil, fmt.Errorf("capability: unknown capability %q", name)
	}
	return c, nil
}

// Names returns all registered capability names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
