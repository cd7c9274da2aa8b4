package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kansa/internal/auth"
	"github.com/ashita-ai/kansa/internal/model"
	"github.com/ashita-ai/kansa/internal/storage"
)

// Scheduler accepts runs for background execution.
type Scheduler interface {
	Schedule(runID uuid.UUID) error
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	store        storage.Store
	scheduler    Scheduler
	jwtMgr       *auth.JWTManager
	adminKeyHash string
	logger       *slog.Logger
	version      string
}

// HandlersDeps bundles the dependencies for NewHandlers.
type HandlersDeps struct {
	Store        storage.Store
	Scheduler    Scheduler
	JWTMgr       *auth.JWTManager
	AdminKeyHash string
	Logger       *slog.Logger
	Version      string
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{
		store:        deps.Store,
		scheduler:    deps.Scheduler,
		jwtMgr:       deps.JWTMgr,
		adminKeyHash: deps.AdminKeyHash,
		logger:       deps.Logger,
		version:      deps.Version,
	}
}

// HandleHealth reports service liveness and storage reachability.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := h.store.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, map[string]string{"status": status, "version": h.version})
}

// HandleAuthToken exchanges the admin API key for a JWT.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	valid, err := auth.VerifyAPIKey(req.APIKey, h.adminKeyHash)
	if err != nil || !valid {
		if err != nil {
			auth.DummyVerify()
		}
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid API key")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken("admin", auth.RoleAdmin)
	if err != nil {
		h.logger.Error("token issuance failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "could not issue token")
		return
	}
	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{Token: token, ExpiresAt: expiresAt})
}

// HandleStartRun accepts a review request, creates a pending run, and
// schedules it for background execution. Responds 202 immediately.
func (h *Handlers) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	var req model.StartRunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	customerID, err := uuid.Parse(req.CustomerID)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "customer_id must be a UUID")
		return
	}
	if _, err := h.store.GetCustomer(r.Context(), customerID); err != nil {
		if isNotFound(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "customer not found")
			return
		}
		h.logger.Error("customer lookup failed", "error", err, "customer_id", customerID)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "could not load customer")
		return
	}

	run := &model.Run{
		ID:         uuid.New(),
		CustomerID: customerID,
		Config:     req.RunConfig(),
		Status:     model.RunStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.store.CreateRun(r.Context(), run); err != nil {
		h.logger.Error("create run failed", "error", err, "customer_id", customerID)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "could not create run")
		return
	}

	if err := h.scheduler.Schedule(run.ID); err != nil {
		h.logger.Error("schedule run failed", "error", err, "run_id", run.ID)
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternal, "service shutting down")
		return
	}

	writeJSON(w, r, http.StatusAccepted, model.StartRunResponse{
		RunID:      run.ID,
		CustomerID: run.CustomerID,
		Status:     run.Status,
		CreatedAt:  run.CreatedAt,
	})
}

// HandleGetRun returns the current state of a run.
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathUUID(w, r, "run_id")
	if !ok {
		return
	}

	run, err := h.store.GetRun(r.Context(), runID)
	if err != nil {
		writeRunLookupError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.RunResponseFrom(*run))
}

// HandleListRuns returns runs, newest first, with limit/offset pagination.
func (h *Handlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	runs, total, err := h.store.ListRuns(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list runs failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "could not list runs")
		return
	}

	resp := make([]model.RunResponse, len(runs))
	for i, run := range runs {
		resp[i] = model.RunResponseFrom(run)
	}
	writeList(w, r, http.StatusOK, resp, total)
}

// HandleAuditTrail returns the full ordered audit trail for a run.
// Readable for every run, including failed ones.
func (h *Handlers) HandleAuditTrail(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathUUID(w, r, "run_id")
	if !ok {
		return
	}

	if _, err := h.store.GetRun(r.Context(), runID); err != nil {
		writeRunLookupError(w, r, err)
		return
	}

	trail, err := h.store.AuditTrail(r.Context(), runID)
	if err != nil {
		h.logger.Error("read audit trail failed", "error", err, "run_id", runID)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "could not read audit trail")
		return
	}
	writeList(w, r, http.StatusOK, trail, len(trail))
}

// HandleListCustomers returns all customers.
func (h *Handlers) HandleListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.store.ListCustomers(r.Context())
	if err != nil {
		h.logger.Error("list customers failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "could not list customers")
		return
	}
	writeList(w, r, http.StatusOK, customers, len(customers))
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, name+" must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func writeRunLookupError(w http.ResponseWriter, r *http.Request, err error) {
	if isNotFound(err) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "run not found")
		return
	}
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "could not load run")
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
