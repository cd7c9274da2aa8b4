package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kansa/internal/auth"
	"github.com/ashita-ai/kansa/internal/model"
	"github.com/ashita-ai/kansa/internal/ratelimit"
	"github.com/ashita-ai/kansa/internal/storage"
)

// Server is the Kansa HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Config holds all dependencies and settings for creating a Server.
// Optional fields (nil-safe): JWTMgr, Limiter, MCPServer.
type Config struct {
	// Required dependencies.
	Store     storage.Store
	Scheduler Scheduler
	Logger    *slog.Logger

	// Optional dependencies (nil = disabled).
	JWTMgr       *auth.JWTManager
	AdminKeyHash string // argon2id hash; empty disables auth entirely
	Limiter      ratelimit.Limiter
	MCPServer    *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates the HTTP server with all routes configured.
func New(cfg Config) *Server {
	h := NewHandlers(HandlersDeps{
		Store:        cfg.Store,
		Scheduler:    cfg.Scheduler,
		JWTMgr:       cfg.JWTMgr,
		AdminKeyHash: cfg.AdminKeyHash,
		Logger:       cfg.Logger,
		Version:      cfg.Version,
	})

	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	// Edge rate limits, keyed by client IP. Run creation is tighter than
	// reads because each accepted request schedules pipeline work.
	runsRL := ratelimit.Middleware(cfg.Limiter, "runs", ratelimit.IPKeyFunc, reqIDFunc)
	queryRL := ratelimit.Middleware(cfg.Limiter, "query", ratelimit.IPKeyFunc, reqIDFunc)
	authRL := ratelimit.Middleware(cfg.Limiter, "auth", ratelimit.IPKeyFunc, reqIDFunc)

	authEnabled := cfg.JWTMgr != nil && cfg.AdminKeyHash != ""

	mux := http.NewServeMux()

	if authEnabled {
		mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))
	}

	reviewer := requireRole(authEnabled, auth.RoleReviewer)
	admin := requireRole(authEnabled, auth.RoleAdmin)

	mux.Handle("POST /v1/runs", runsRL(reviewer(http.HandlerFunc(h.HandleStartRun))))
	mux.Handle("GET /v1/runs", queryRL(reviewer(http.HandlerFunc(h.HandleListRuns))))
	mux.Handle("GET /v1/runs/{run_id}", queryRL(reviewer(http.HandlerFunc(h.HandleGetRun))))
	mux.Handle("GET /v1/runs/{run_id}/audit", queryRL(reviewer(http.HandlerFunc(h.HandleAuditTrail))))
	mux.Handle("GET /v1/customers", queryRL(admin(http.HandlerFunc(h.HandleListCustomers))))

	// MCP StreamableHTTP transport.
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", reviewer(mcpHTTP))
	}

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /healthz", h.HandleHealth)

	var jwtMgr *auth.JWTManager
	if authEnabled {
		jwtMgr = cfg.JWTMgr
	}

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → auth → body limit → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = bodyLimitMiddleware(cfg.MaxRequestBodyBytes, handler)
	handler = authMiddleware(jwtMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// requireRole returns middleware that enforces a minimum role.
// Pass-through when auth is disabled.
func requireRole(authEnabled bool, minimum auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !authEnabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "no claims in context")
				return
			}
			if !roleAtLeast(claims.Role, minimum) {
				writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// roleAtLeast reports whether have satisfies the want role.
func roleAtLeast(have, want auth.Role) bool {
	if have == auth.RoleAdmin {
		return true
	}
	return have == want
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
