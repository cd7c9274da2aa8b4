package model

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for list endpoints.
type ListResponse struct {
	Data  any          `json:"data"`
	Total int          `json:"total"`
	Meta  ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeForbidden    = "FORBIDDEN"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeConflict     = "CONFLICT"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeInternal     = "INTERNAL"
)

var validate = validator.New()

// StartRunRequest is the trigger interface payload for POST /v1/runs.
type StartRunRequest struct {
	CustomerID          string   `json:"customer_id" validate:"required,uuid"`
	AnalysisWindowDays  int      `json:"analysis_window_days" validate:"omitempty,gte=1,lte=365"`
	AnomalyThreshold    *float64 `json:"anomaly_threshold" validate:"omitempty,gte=0,lte=1"`
	EscalationThreshold *float64 `json:"escalation_threshold" validate:"omitempty,gte=0,lte=1"`
	MaxRetries          *int     `json:"max_retries" validate:"omitempty,gte=0,lte=5"`
}

// Validate checks field constraints on the request.
func (r StartRunRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("model: invalid start run request: %w", err)
	}
	return nil
}

// RunConfig builds the run configuration snapshot from the request,
// filling omitted fields with defaults.
func (r StartRunRequest) RunConfig() RunConfig {
	cfg := RunConfig{AnalysisWindowDays: r.AnalysisWindowDays}
	if r.AnomalyThreshold != nil {
		cfg.AnomalyThreshold = *r.AnomalyThreshold
	}
	if r.EscalationThreshold != nil {
		cfg.EscalationThreshold = *r.EscalationThreshold
	}
	if r.MaxRetries != nil {
		cfg.MaxRetries = *r.MaxRetries
	}
	return cfg.ApplyDefaults()
}

// StartRunResponse is returned by POST /v1/runs with status 202.
type StartRunResponse struct {
	RunID      uuid.UUID `json:"run_id"`
	CustomerID uuid.UUID `json:"customer_id"`
	Status     RunStatus `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// RunResponse is the status interface payload for GET /v1/runs/{run_id}.
type RunResponse struct {
	RunID       uuid.UUID      `json:"run_id"`
	CustomerID  uuid.UUID      `json:"customer_id"`
	Status      RunStatus      `json:"status"`
	Decision    *Decision      `json:"decision,omitempty"`
	Confidence  *float64       `json:"confidence,omitempty"`
	Summary     map[string]any `json:"summary,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// RunResponseFrom projects a Run onto the status interface shape.
func RunResponseFrom(run Run) RunResponse {
	resp := RunResponse{
		RunID:       run.ID,
		CustomerID:  run.CustomerID,
		Status:      run.Status,
		Decision:    run.Decision,
		Summary:     run.Summary,
		CreatedAt:   run.CreatedAt,
		CompletedAt: run.CompletedAt,
	}
	if c, ok := run.Summary["confidence"].(float64); ok {
		resp.Confidence = &c
	}
	return resp
}

// AuthTokenRequest is the payload for POST /auth/token.
type AuthTokenRequest struct {
	APIKey string `json:"api_key" validate:"required"`
}

// Validate checks field constraints on the request.
func (r AuthTokenRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("model: invalid auth token request: %w", err)
	}
	return nil
}

// AuthTokenResponse is returned by POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
