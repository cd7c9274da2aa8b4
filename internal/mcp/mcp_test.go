package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kansa/internal/model"
	"github.com/ashita-ai/kansa/internal/storage"
	"github.com/ashita-ai/kansa/internal/testutil"
)

type fakeScheduler struct {
	scheduled []uuid.UUID
}

func (f *fakeScheduler) Schedule(runID uuid.UUID) error {
	f.scheduled = append(f.scheduled, runID)
	return nil
}

func newTestServer(t *testing.T) (*Server, *storage.Lite, *fakeScheduler) {
	t.Helper()
	lite, err := storage.NewLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(lite.Close)

	sched := &fakeScheduler{}
	return New(lite, sched, testutil.TestLogger(), "test"), lite, sched
}

func seedCustomer(t *testing.T, lite *storage.Lite) model.Customer {
	t.Helper()
	c := model.Customer{
		ID: uuid.New(), Name: "Sam Example", Email: "sam@example.test",
		AccountType: "checking", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, lite.CreateCustomer(context.Background(), c))
	return c
}

// toolRequest builds a CallToolRequest with the given arguments.
func toolRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// parseToolText extracts the first TextContent text from a CallToolResult.
func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no TextContent found in tool result")
	return ""
}

func TestReviewToolStartsRun(t *testing.T) {
	srv, lite, sched := newTestServer(t)
	customer := seedCustomer(t, lite)

	result, err := srv.handleReview(context.Background(), toolRequest("kansa_review", map[string]any{
		"customer_id":          customer.ID.String(),
		"analysis_window_days": float64(7),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))

	var resp struct {
		RunID  uuid.UUID `json:"run_id"`
		Status string    `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Equal(t, "pending", resp.Status)

	require.Len(t, sched.scheduled, 1)
	assert.Equal(t, resp.RunID, sched.scheduled[0])

	run, err := lite.GetRun(context.Background(), resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, 7, run.Config.AnalysisWindowDays)
	assert.Equal(t, model.DefaultAnomalyThreshold, run.Config.AnomalyThreshold)
}

func TestReviewToolRejectsBadInput(t *testing.T) {
	srv, _, sched := newTestServer(t)

	result, err := srv.handleReview(context.Background(), toolRequest("kansa_review", map[string]any{
		"customer_id": "not-a-uuid",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = srv.handleReview(context.Background(), toolRequest("kansa_review", map[string]any{
		"customer_id": uuid.New().String(),
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError, "unknown customer should be a tool error")

	assert.Empty(t, sched.scheduled)
}

func TestRunTool(t *testing.T) {
	srv, lite, _ := newTestServer(t)
	customer := seedCustomer(t, lite)
	ctx := context.Background()

	run := &model.Run{
		ID:         uuid.New(),
		CustomerID: customer.ID,
		Config:     model.RunConfig{}.ApplyDefaults(),
		Status:     model.RunStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, lite.CreateRun(ctx, run))

	result, err := srv.handleRun(ctx, toolRequest("kansa_run", map[string]any{
		"run_id": run.ID.String(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp model.RunResponse
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Equal(t, run.ID, resp.RunID)
	assert.Equal(t, model.RunStatusPending, resp.Status)
}

func TestAuditTool(t *testing.T) {
	srv, lite, _ := newTestServer(t)
	ctx := context.Background()
	runID := uuid.New()

	for _, kind := range []model.EventKind{model.EventStepStarted, model.EventStepCompleted} {
		_, err := lite.AppendAuditEvent(ctx, model.AuditEvent{
			RunID: runID, Step: "ingest", Kind: kind, Payload: map[string]any{},
		})
		require.NoError(t, err)
	}

	result, err := srv.handleAudit(ctx, toolRequest("kansa_audit", map[string]any{
		"run_id": runID.String(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp struct {
		Events []model.AuditEvent `json:"events"`
		Total  int                `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Equal(t, 2, resp.Total)
	require.Len(t, resp.Events, 2)
	assert.Equal(t, int64(1), resp.Events[0].EventID)
}

func TestRunsRecentResource(t *testing.T) {
	srv, lite, _ := newTestServer(t)
	customer := seedCustomer(t, lite)
	ctx := context.Background()

	require.NoError(t, lite.CreateRun(ctx, &model.Run{
		ID:         uuid.New(),
		CustomerID: customer.ID,
		Config:     model.RunConfig{}.ApplyDefaults(),
		Status:     model.RunStatusPending,
		CreatedAt:  time.Now().UTC(),
	}))

	contents, err := srv.handleRunsRecent(ctx, mcplib.ReadResourceRequest{})
	require.NoError(t, err)
	require.Len(t, contents, 1)

	text, ok := contents[0].(mcplib.TextResourceContents)
	require.True(t, ok)
	var runs []model.RunResponse
	require.NoError(t, json.Unmarshal([]byte(text.Text), &runs))
	assert.Len(t, runs, 1)
}
