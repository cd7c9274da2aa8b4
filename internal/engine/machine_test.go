package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kansa/internal/capability"
	"github.com/ashita-ai/kansa/internal/embedding"
	"github.com/ashita-ai/kansa/internal/guardrail"
	"github.com/ashita-ai/kansa/internal/ledger"
	"github.com/ashita-ai/kansa/internal/model"
)

// fakeStore backs the orchestrator and the ingest capability in tests.
type fakeStore struct {
	mu        sync.Mutex
	runs      map[uuid.UUID]*model.Run
	customers map[uuid.UUID]model.Customer
	txns      map[uuid.UUID][]model.Transaction
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		runs:      make(map[uuid.UUID]*model.Run),
		customers: make(map[uuid.UUID]model.Customer),
		txns:      make(map[uuid.UUID][]model.Transaction),
	}
}

func (s *fakeStore) addRun(run *model.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
}

func (s *fakeStore) GetRun(_ context.Context, id uuid.UUID) (*model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s not found", id)
	}
	cp := *run
	return &cp, nil
}

func (s *fakeStore) MarkRunRunning(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("run %s not found", id)
	}
	if run.Status != model.RunStatusPending {
		return fmt.Errorf("run %s is %s, not pending", id, run.Status)
	}
	run.Status = model.RunStatusRunning
	return nil
}

func (s *fakeStore) CompleteRun(_ context.Context, id uuid.UUID, status model.RunStatus,
	decision *model.Decision, summary, frozen map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("run %s not found", id)
	}
	now := time.Now().UTC()
	run.Status = status
	run.Decision = decision
	run.Summary = summary
	run.Context = frozen
	run.CompletedAt = &now
	return nil
}

func (s *fakeStore) GetCustomer(_ context.Context, id uuid.UUID) (*model.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[id]
	if !ok {
		return nil, fmt.Errorf("customer %s not found", id)
	}
	return &c, nil
}

func (s *fakeStore) TransactionsSince(_ context.Context, customerID uuid.UUID, since time.Time) ([]model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Transaction
	for _, t := range s.txns[customerID] {
		if !t.OccurredAt.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

// fakeSearcher returns a fixed snippet list for any query.
type fakeSearcher struct {
	snippets []model.PolicySnippet
}

func (f *fakeSearcher) Index(_ context.Context, _ []model.PolicyDocument, _ []pgvector.Vector) error {
	return nil
}

func (f *fakeSearcher) Search(_ context.Context, _ pgvector.Vector, limit int) ([]model.PolicySnippet, error) {
	if len(f.snippets) > limit {
		return f.snippets[:limit], nil
	}
	return f.snippets, nil
}

// failingDraft simulates a drafter whose backend never answers in time.
type failingDraft struct{}

func (failingDraft) Descriptor() capability.Descriptor {
	return capability.NewExplanationDraft(capability.NewMockDrafter()).Descriptor()
}

func (failingDraft) Invoke(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
	return nil, context.DeadlineExceeded
}

// leakyDrafter produces a narrative the content filter must block.
type leakyDrafter struct{}

func (leakyDrafter) Draft(_ context.Context, _ capability.DraftInput) (model.Draft, error) {
	return model.Draft{
		Narrative:          "Everything is fine, contact Wells Fargo with questions.",
		RecommendedActions: []string{"continue_normal_monitoring"},
		Confidence:         0.95,
	}, nil
}

func testConfig() model.RunConfig {
	return model.RunConfig{
		AnalysisWindowDays:  30,
		AnomalyThreshold:    0.6,
		EscalationThreshold: 0.7,
		MaxRetries:          0,
		MaxCapabilityCalls:  20,
		CapabilityTimeout:   time.Second,
	}
}

// harness wires a full orchestrator over in-memory parts.
type harness struct {
	store  *fakeStore
	ledger *ledger.Memory
	orch   *Orchestrator
}

func newHarness(t *testing.T, drafter capability.Drafter, extraCaps ...capability.Capability) *harness {
	t.Helper()

	store := newFakeStore()
	caps := []capability.Capability{
		capability.NewTransactionIngest(store),
		capability.NewAnomalyDetect(),
		capability.NewPolicyRetrieve(embedding.NewHashProvider(16), &fakeSearcher{
			snippets: []model.PolicySnippet{{
				DocumentID: uuid.New(),
				Title:      "Transaction Monitoring Standards",
				Excerpt:    "All flagged transactions are reviewed within one business day.",
				Category:   "monitoring",
				Similarity: 0.92,
			}},
		}),
	}
	if drafter != nil {
		caps = append(caps, capability.NewExplanationDraft(drafter))
	}
	caps = append(caps, extraCaps...)

	reg, err := capability.NewRegistry(caps...)
	require.NoError(t, err)

	gate, err := guardrail.NewGate(reg, guardrail.DefaultPolicy())
	require.NoError(t, err)

	lg := ledger.NewMemory()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelError}))
	return &harness{
		store:  store,
		ledger: lg,
		orch:   New(store, lg, reg, gate, logger),
	}
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

// seedCustomer adds a customer with n unremarkable transactions.
func (h *harness) seedCustomer(n int) uuid.UUID {
	customerID := uuid.New()
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	h.store.customers[customerID] = model.Customer{
		ID: customerID, Name: "Jordan Example", Email: "jordan@example.test", AccountType: "checking",
	}

	base := time.Now().UTC().AddDate(0, 0, -5)
	at := time.Date(base.Year(), base.Month(), base.Day(), 14, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		h.store.txns[customerID] = append(h.store.txns[customerID], model.Transaction{
			ID: uuid.New(), CustomerID: customerID, Amount: 50, Currency: "USD",
			Merchant: "Corner Grocery", Category: "groceries",
			OccurredAt: at.Add(time.Duration(i) * time.Minute),
		})
	}
	return customerID
}

// seedAnomalies appends labeled foreign odd-hour transactions, each scoring
// 0.35 + 0.15 + 0.2, above the 0.6 test threshold.
func (h *harness) seedAnomalies(customerID uuid.UUID, n int) {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()

	base := time.Now().UTC().AddDate(0, 0, -3)
	at := time.Date(base.Year(), base.Month(), base.Day(), 3, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		h.store.txns[customerID] = append(h.store.txns[customerID], model.Transaction{
			ID: uuid.New(), CustomerID: customerID, Amount: 120, Currency: "USD",
			Merchant: "UK-Overseas Imports", Category: "retail",
			OccurredAt: at.Add(time.Duration(i) * time.Minute),
			Labeled:    true,
		})
	}
}

func (h *harness) newRun(customerID uuid.UUID, cfg model.RunConfig) uuid.UUID {
	run := &model.Run{
		ID:         uuid.New(),
		CustomerID: customerID,
		Config:     cfg,
		Status:     model.RunStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	h.store.addRun(run)
	return run.ID
}

func (h *harness) trail(t *testing.T, runID uuid.UUID) []model.AuditEvent {
	t.Helper()
	events, err := h.ledger.ReadTrail(context.Background(), runID)
	require.NoError(t, err)
	return events
}

func kinds(events []model.AuditEvent) []model.EventKind {
	out := make([]model.EventKind, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Kind)
	}
	return out
}

func countKindAtStep(events []model.AuditEvent, kind model.EventKind, step string) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == kind && ev.Step == step {
			n++
		}
	}
	return n
}

func TestCleanRunFinalizes(t *testing.T) {
	h := newHarness(t, capability.NewMockDrafter())
	customerID := h.seedCustomer(20)
	runID := h.newRun(customerID, testConfig())

	require.NoError(t, h.orch.Execute(context.Background(), runID))

	run, err := h.store.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFinalized, run.Status)
	require.NotNil(t, run.Decision)
	assert.Equal(t, model.DecisionNoAction, *run.Decision)
	assert.Equal(t, 0.95, run.Summary["confidence"])
	require.NotNil(t, run.CompletedAt)

	events := h.trail(t, runID)
	assert.Equal(t, []model.EventKind{
		model.EventStepStarted, model.EventToolInvoked, model.EventStepCompleted, // ingest
		model.EventStepStarted, model.EventToolInvoked, model.EventStepCompleted, // detect
		model.EventStepStarted, model.EventToolInvoked, model.EventStepCompleted, // retrieve
		model.EventStepStarted, model.EventToolInvoked, model.EventStepCompleted, // draft
		model.EventStepStarted, model.EventStepCompleted, // evaluate
		model.EventStepStarted, model.EventStepCompleted, // finalize
		model.EventRunFinalized,
	}, kinds(events))
}

func TestAnomalousRunEscalates(t *testing.T) {
	h := newHarness(t, capability.NewMockDrafter())
	customerID := h.seedCustomer(20)
	h.seedAnomalies(customerID, 3)
	runID := h.newRun(customerID, testConfig())

	require.NoError(t, h.orch.Execute(context.Background(), runID))

	run, err := h.store.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusEscalated, run.Status)
	require.NotNil(t, run.Decision)
	assert.Equal(t, model.DecisionEscalated, *run.Decision)
	// Three or more anomalies put the mock drafter at 0.65, below 0.7.
	assert.Equal(t, 0.65, run.Summary["confidence"])
	assert.Equal(t, 3, run.Summary["anomaly_count"])

	events := h.trail(t, runID)
	assert.Equal(t, model.EventRunEscalated, events[len(events)-1].Kind)
}

func TestConfidenceAtThresholdFinalizes(t *testing.T) {
	h := newHarness(t, capability.NewMockDrafter())
	customerID := h.seedCustomer(20)

	// A clean run drafts at exactly 0.95; the boundary must finalize.
	cfg := testConfig()
	cfg.EscalationThreshold = 0.95
	runID := h.newRun(customerID, cfg)

	require.NoError(t, h.orch.Execute(context.Background(), runID))

	run, err := h.store.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFinalized, run.Status)
}

func TestCapabilityFailureRetriedThenFails(t *testing.T) {
	h := newHarness(t, nil, failingDraft{})
	customerID := h.seedCustomer(10)

	cfg := testConfig()
	cfg.MaxRetries = 1
	runID := h.newRun(customerID, cfg)

	require.NoError(t, h.orch.Execute(context.Background(), runID))

	run, err := h.store.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Nil(t, run.Decision)
	assert.Equal(t, string(KindCapability), run.Summary["error_kind"])

	events := h.trail(t, runID)
	assert.Equal(t, 2, countKindAtStep(events, model.EventStepStarted, "draft"))
	assert.Equal(t, 2, countKindAtStep(events, model.EventStepFailed, "draft"))
	// Earlier steps ran exactly once.
	assert.Equal(t, 1, countKindAtStep(events, model.EventStepStarted, "ingest"))
}

func TestContentFilterForcesEscalation(t *testing.T) {
	h := newHarness(t, leakyDrafter{})
	customerID := h.seedCustomer(10)
	runID := h.newRun(customerID, testConfig())

	require.NoError(t, h.orch.Execute(context.Background(), runID))

	// Confidence was 0.95 and would have finalized; the content filter
	// overrides the state rule.
	run, err := h.store.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusEscalated, run.Status)
	require.NotNil(t, run.Decision)
	assert.Equal(t, model.DecisionEscalated, *run.Decision)

	events := h.trail(t, runID)
	assert.Equal(t, 1, countKindAtStep(events, model.EventGuardrailBlocked, "draft"))
	// A blocked response leaves no tool_invoked behind.
	assert.Equal(t, 0, countKindAtStep(events, model.EventToolInvoked, "draft"))

	// The block precedes the escalation.
	var blockedAt, escalatedAt int64
	for _, ev := range events {
		switch ev.Kind {
		case model.EventGuardrailBlocked:
			blockedAt = ev.EventID
		case model.EventRunEscalated:
			escalatedAt = ev.EventID
		}
	}
	require.NotZero(t, blockedAt)
	require.NotZero(t, escalatedAt)
	assert.Less(t, blockedAt, escalatedAt)
}

func TestCallBudgetExhaustionFailsRun(t *testing.T) {
	h := newHarness(t, capability.NewMockDrafter())
	customerID := h.seedCustomer(10)

	cfg := testConfig()
	cfg.MaxCapabilityCalls = 0
	runID := h.newRun(customerID, cfg)

	require.NoError(t, h.orch.Execute(context.Background(), runID))

	run, err := h.store.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Equal(t, string(KindGuardrail), run.Summary["error_kind"])

	events := h.trail(t, runID)
	assert.Equal(t, 1, countKindAtStep(events, model.EventGuardrailBlocked, "ingest"))
}

func TestCancelledRunFails(t *testing.T) {
	h := newHarness(t, capability.NewMockDrafter())
	customerID := h.seedCustomer(10)
	runID := h.newRun(customerID, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, h.orch.Execute(ctx, runID))

	run, err := h.store.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Equal(t, string(KindCancelled), run.Summary["error_kind"])

	// Even a run cancelled before its first step leaves a terminating event:
	// the trail never ends without an explanation.
	events := h.trail(t, runID)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, model.EventStepFailed, last.Kind)
	assert.Equal(t, string(KindCancelled), last.Payload["error_kind"])
}

func TestExecuteRejectsNonPendingRun(t *testing.T) {
	h := newHarness(t, capability.NewMockDrafter())
	customerID := h.seedCustomer(5)
	runID := h.newRun(customerID, testConfig())

	require.NoError(t, h.orch.Execute(context.Background(), runID))

	// Terminal run cannot be executed again.
	err := h.orch.Execute(context.Background(), runID)
	require.Error(t, err)
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, KindInvalidState, pe.Kind)
}

func TestEventIDsGaplessFromOne(t *testing.T) {
	h := newHarness(t, capability.NewMockDrafter())
	customerID := h.seedCustomer(20)
	h.seedAnomalies(customerID, 2)
	runID := h.newRun(customerID, testConfig())

	require.NoError(t, h.orch.Execute(context.Background(), runID))

	events := h.trail(t, runID)
	require.NotEmpty(t, events)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.EventID)
		assert.Equal(t, runID, ev.RunID)
	}
}

func TestIdenticalRunsProduceIdenticalTrails(t *testing.T) {
	h := newHarness(t, capability.NewMockDrafter())
	customerID := h.seedCustomer(20)
	h.seedAnomalies(customerID, 3)

	runA := h.newRun(customerID, testConfig())
	runB := h.newRun(customerID, testConfig())

	require.NoError(t, h.orch.Execute(context.Background(), runA))
	require.NoError(t, h.orch.Execute(context.Background(), runB))

	a, err := h.store.GetRun(context.Background(), runA)
	require.NoError(t, err)
	b, err := h.store.GetRun(context.Background(), runB)
	require.NoError(t, err)

	assert.Equal(t, a.Status, b.Status)
	assert.Equal(t, *a.Decision, *b.Decision)
	assert.Equal(t, a.Summary["confidence"], b.Summary["confidence"])
	assert.Equal(t, a.Summary["anomaly_count"], b.Summary["anomaly_count"])

	trailA := h.trail(t, runA)
	trailB := h.trail(t, runB)
	require.Equal(t, len(trailA), len(trailB))
	for i := range trailA {
		assert.Equal(t, trailA[i].Kind, trailB[i].Kind, "event %d kind", i)
		assert.Equal(t, trailA[i].Step, trailB[i].Step, "event %d step", i)
	}
}

func TestFrozenContextPersistedAtTerminalState(t *testing.T) {
	h := newHarness(t, capability.NewMockDrafter())
	customerID := h.seedCustomer(20)
	h.seedAnomalies(customerID, 1)
	runID := h.newRun(customerID, testConfig())

	require.NoError(t, h.orch.Execute(context.Background(), runID))

	run, err := h.store.GetRun(context.Background(), runID)
	require.NoError(t, err)
	require.NotNil(t, run.Context)
	for _, key := range []string{"transactions", "summary", "anomalies", "snippets", "draft", "routing", "decision"} {
		assert.Contains(t, run.Context, key)
	}
}

func TestPoolExecutesScheduledRuns(t *testing.T) {
	h := newHarness(t, capability.NewMockDrafter())
	customerID := h.seedCustomer(10)

	pool := NewPool(h.orch, 2, slog.New(slog.NewTextHandler(testWriter{t}, nil)))

	const runs = 5
	ids := make([]uuid.UUID, 0, runs)
	for i := 0; i < runs; i++ {
		runID := h.newRun(customerID, testConfig())
		ids = append(ids, runID)
		require.NoError(t, pool.Schedule(runID))
	}

	// Wait for completion before shutdown so no run gets cancelled mid-flight.
	require.Eventually(t, func() bool {
		for _, id := range ids {
			run, err := h.store.GetRun(context.Background(), id)
			if err != nil || !run.Status.Terminal() {
				return false
			}
		}
		return true
	}, 10*time.Second, 10*time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, pool.Shutdown(shutdownCtx))

	for _, id := range ids {
		run, err := h.store.GetRun(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusFinalized, run.Status, "run %s", id)
	}

	assert.Error(t, pool.Schedule(uuid.New()))
}
