package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStatusTerminal(t *testing.T) {
	assert.False(t, RunStatusPending.Terminal())
	assert.False(t, RunStatusRunning.Terminal())
	assert.True(t, RunStatusEscalated.Terminal())
	assert.True(t, RunStatusFinalized.Terminal())
	assert.True(t, RunStatusFailed.Terminal())
}

func TestRunConfigApplyDefaults(t *testing.T) {
	cfg := RunConfig{}.ApplyDefaults()
	assert.Equal(t, DefaultAnalysisWindowDays, cfg.AnalysisWindowDays)
	assert.Equal(t, DefaultAnomalyThreshold, cfg.AnomalyThreshold)
	assert.Equal(t, DefaultEscalationThreshold, cfg.EscalationThreshold)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, DefaultMaxCapabilityCalls, cfg.MaxCapabilityCalls)
	assert.Equal(t, DefaultCapabilityTimeout, cfg.CapabilityTimeout)

	// Explicit values survive.
	cfg = RunConfig{AnalysisWindowDays: 7, AnomalyThreshold: 0.5}.ApplyDefaults()
	assert.Equal(t, 7, cfg.AnalysisWindowDays)
	assert.Equal(t, 0.5, cfg.AnomalyThreshold)
}

func TestStartRunRequestValidate(t *testing.T) {
	valid := StartRunRequest{CustomerID: uuid.NewString()}
	require.NoError(t, valid.Validate())

	for name, req := range map[string]StartRunRequest{
		"missing customer": {},
		"bad uuid":         {CustomerID: "nope"},
		"window too large": {CustomerID: uuid.NewString(), AnalysisWindowDays: 400},
		"threshold above one": {CustomerID: uuid.NewString(),
			AnomalyThreshold: ptr(1.5)},
	} {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, req.Validate())
		})
	}
}

func TestStartRunRequestRunConfig(t *testing.T) {
	req := StartRunRequest{
		CustomerID:          uuid.NewString(),
		AnalysisWindowDays:  14,
		EscalationThreshold: ptr(0.9),
	}
	cfg := req.RunConfig()
	assert.Equal(t, 14, cfg.AnalysisWindowDays)
	assert.Equal(t, 0.9, cfg.EscalationThreshold)
	assert.Equal(t, DefaultAnomalyThreshold, cfg.AnomalyThreshold)
}

func TestRunResponseFromLiftsConfidence(t *testing.T) {
	decision := DecisionAutoResolved
	now := time.Now().UTC()
	run := Run{
		ID:          uuid.New(),
		CustomerID:  uuid.New(),
		Status:      RunStatusFinalized,
		Decision:    &decision,
		Summary:     map[string]any{"confidence": 0.85},
		CreatedAt:   now,
		CompletedAt: &now,
	}

	resp := RunResponseFrom(run)
	require.NotNil(t, resp.Confidence)
	assert.Equal(t, 0.85, *resp.Confidence)
	assert.Equal(t, run.ID, resp.RunID)

	run.Summary = nil
	assert.Nil(t, RunResponseFrom(run).Confidence)
}

func ptr[T any](v T) *T { return &v }
