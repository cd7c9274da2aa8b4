// Package mcp implements the Model Context Protocol server for Kansa.
//
// The MCP server exposes the review pipeline through tools, allowing
// MCP-compatible AI agents to start runs and inspect their audit trails.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kansa/internal/model"
	"github.com/ashita-ai/kansa/internal/storage"
)

// Scheduler accepts runs for background execution.
type Scheduler interface {
	Schedule(runID uuid.UUID) error
}

// Server wraps the MCP server with Kansa's run pipeline.
type Server struct {
	mcpServer *mcpserver.MCPServer
	store     storage.Store
	scheduler Scheduler
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all tools and resources.
func New(store storage.Store, scheduler Scheduler, logger *slog.Logger, version string) *Server {
	s := &Server{
		store:     store,
		scheduler: scheduler,
		logger:    logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"kansa",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	// kansa://runs/recent: recent review runs across all customers.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"kansa://runs/recent",
			"Recent Runs",
			mcplib.WithResourceDescription("Recent review runs, newest first"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleRunsRecent,
	)
}

func (s *Server) registerTools() {
	// kansa_review starts a transaction review run.
	s.mcpServer.AddTool(
		mcplib.NewTool("kansa_review",
			mcplib.WithDescription("Start a transaction review run for a customer. Returns the run ID; the pipeline executes in the background."),
			mcplib.WithString("customer_id", mcplib.Description("Customer UUID"), mcplib.Required()),
			mcplib.WithNumber("analysis_window_days", mcplib.Description("Days of transaction history to analyze (default 30)")),
			mcplib.WithNumber("anomaly_threshold", mcplib.Description("Anomaly score threshold 0.0-1.0 (default 0.8)")),
			mcplib.WithNumber("escalation_threshold", mcplib.Description("Confidence below this escalates to a human (default 0.7)")),
		),
		s.handleReview,
	)

	// kansa_run inspects run status and outcome.
	s.mcpServer.AddTool(
		mcplib.NewTool("kansa_run",
			mcplib.WithDescription("Get the status, decision, and summary of a review run"),
			mcplib.WithString("run_id", mcplib.Description("Run UUID"), mcplib.Required()),
		),
		s.handleRun,
	)

	// kansa_audit reads the full audit trail.
	s.mcpServer.AddTool(
		mcplib.NewTool("kansa_audit",
			mcplib.WithDescription("Read the ordered audit trail of a review run, including guardrail denials and step failures"),
			mcplib.WithString("run_id", mcplib.Description("Run UUID"), mcplib.Required()),
		),
		s.handleAudit,
	)
}

func (s *Server) handleRunsRecent(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	runs, _, err := s.store.ListRuns(ctx, 20, 0)
	if err != nil {
		return nil, fmt.Errorf("mcp: recent runs: %w", err)
	}

	resp := make([]model.RunResponse, len(runs))
	for i, run := range runs {
		resp[i] = model.RunResponseFrom(run)
	}
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal runs: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "kansa://runs/recent",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleReview(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	customerID, err := uuid.Parse(request.GetString("customer_id", ""))
	if err != nil {
		return errorResult("customer_id must be a UUID"), nil
	}

	if _, err := s.store.GetCustomer(ctx, customerID); err != nil {
		return errorResult(fmt.Sprintf("customer lookup failed: %v", err)), nil
	}

	cfg := model.RunConfig{
		AnalysisWindowDays:  request.GetInt("analysis_window_days", 0),
		AnomalyThreshold:    request.GetFloat("anomaly_threshold", 0),
		EscalationThreshold: request.GetFloat("escalation_threshold", 0),
	}.ApplyDefaults()

	run := &model.Run{
		ID:         uuid.New(),
		CustomerID: customerID,
		Config:     cfg,
		Status:     model.RunStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return errorResult(fmt.Sprintf("failed to create run: %v", err)), nil
	}
	if err := s.scheduler.Schedule(run.ID); err != nil {
		return errorResult(fmt.Sprintf("failed to schedule run: %v", err)), nil
	}

	resultData, _ := json.Marshal(map[string]any{
		"run_id":      run.ID,
		"customer_id": run.CustomerID,
		"status":      run.Status,
	})
	return textResult(string(resultData)), nil
}

func (s *Server) handleRun(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	runID, err := uuid.Parse(request.GetString("run_id", ""))
	if err != nil {
		return errorResult("run_id must be a UUID"), nil
	}

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return errorResult(fmt.Sprintf("run lookup failed: %v", err)), nil
	}

	resultData, _ := json.MarshalIndent(model.RunResponseFrom(*run), "", "  ")
	return textResult(string(resultData)), nil
}

func (s *Server) handleAudit(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	runID, err := uuid.Parse(request.GetString("run_id", ""))
	if err != nil {
		return errorResult("run_id must be a UUID"), nil
	}

	trail, err := s.store.AuditTrail(ctx, runID)
	if err != nil {
		return errorResult(fmt.Sprintf("audit trail read failed: %v", err)), nil
	}

	resultData, _ := json.MarshalIndent(map[string]any{
		"run_id": runID,
		"events": trail,
		"total":  len(trail),
	}, "", "  ")
	return textResult(string(resultData)), nil
}

func textResult(text string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: text},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
