package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	_ "modernc.org/sqlite" // sqlite driver

	"github.com/ashita-ai/kansa/internal/model"
)

// Lite implements Store on embedded SQLite for development and demos: no
// server, no pgvector extension. Vectors are stored as JSON and similarity
// is computed in Go, which is fine at demo corpus sizes. A single mutex
// serializes access since SQLite allows one writer at a time.
type Lite struct {
	mu sync.Mutex
	db *sql.DB
}

const liteSchema = `
CREATE TABLE IF NOT EXISTS customers (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT NOT NULL,
	account_type TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS transactions (
	id TEXT PRIMARY KEY,
	customer_id TEXT NOT NULL REFERENCES customers(id),
	amount REAL NOT NULL,
	currency TEXT NOT NULL,
	merchant TEXT NOT NULL,
	category TEXT NOT NULL,
	occurred_at TEXT NOT NULL,
	labeled INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_transactions_customer_time ON transactions(customer_id, occurred_at);
CREATE TABLE IF NOT EXISTS policy_documents (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	category TEXT NOT NULL,
	embedding TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	customer_id TEXT NOT NULL,
	config TEXT NOT NULL,
	status TEXT NOT NULL,
	decision TEXT,
	summary TEXT,
	context TEXT,
	created_at TEXT NOT NULL,
	completed_at TEXT
);
CREATE TABLE IF NOT EXISTS audit_events (
	run_id TEXT NOT NULL,
	event_id INTEGER NOT NULL,
	step TEXT NOT NULL,
	kind TEXT NOT NULL,
	payload TEXT NOT NULL,
	occurred_at TEXT NOT NULL,
	duration_ms INTEGER,
	PRIMARY KEY (run_id, event_id)
);
`

// NewLite opens (or creates) an embedded store at path. Use ":memory:" for
// an ephemeral store.
func NewLite(path string) (*Lite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	// One connection keeps the in-memory variant coherent and sidesteps
	// SQLITE_BUSY under the mutex.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(liteSchema); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("storage: init sqlite schema: %w", err)
	}
	return &Lite{db: db}, nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseTimePtr(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := parseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateRun inserts a new review run.
func (l *Lite) CreateRun(ctx context.Context, run *model.Run) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cfg, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("storage: encode run config: %w", err)
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO runs (id, customer_id, config, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID.String(), run.CustomerID.String(), string(cfg), string(run.Status), fmtTime(run.CreatedAt))
	if err != nil {
		return fmt.Errorf("storage: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (l *Lite) GetRun(ctx context.Context, id uuid.UUID) (*model.Run, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	row := l.db.QueryRowContext(ctx,
		`SELECT id, customer_id, config, status, decision, summary, context, created_at, completed_at
		 FROM runs WHERE id = ?`, id.String())

	run, err := scanLiteRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("storage: run %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("storage: get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first with the total count.
func (l *Lite) ListRuns(ctx context.Context, limit, offset int) ([]model.Run, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}

	var total int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count runs: %w", err)
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT id, customer_id, config, status, decision, summary, context, created_at, completed_at
		 FROM runs ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list runs: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		run, err := scanLiteRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("storage: scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, total, rows.Err()
}

// MarkRunRunning transitions a run from pending to running.
func (l *Lite) MarkRunRunning(ctx context.Context, id uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET status = ? WHERE id = ? AND status = ?`,
		string(model.RunStatusRunning), id.String(), string(model.RunStatusPending))
	if err != nil {
		return fmt.Errorf("storage: mark run running: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: mark run running: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("storage: run not found or not pending: %s", id)
	}
	return nil
}

// CompleteRun records the terminal state of a running run.
func (l *Lite) CompleteRun(ctx context.Context, id uuid.UUID, status model.RunStatus,
	decision *model.Decision, summary, frozen map[string]any) error {

	if !status.Terminal() {
		return fmt.Errorf("storage: %q is not a terminal status", status)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var decisionStr *string
	if decision != nil {
		s := string(*decision)
		decisionStr = &s
	}
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("storage: encode summary: %w", err)
	}
	frozenJSON, err := json.Marshal(frozen)
	if err != nil {
		return fmt.Errorf("storage: encode context: %w", err)
	}

	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, decision = ?, summary = ?, context = ?, completed_at = ?
		 WHERE id = ? AND status = ?`,
		string(status), decisionStr, string(summaryJSON), string(frozenJSON),
		fmtTime(time.Now()), id.String(), string(model.RunStatusRunning))
	if err != nil {
		return fmt.Errorf("storage: complete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: complete run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("storage: run not found or not running: %s", id)
	}
	return nil
}

// AppendAuditEvent records an event, assigning the run's next event id.
func (l *Lite) AppendAuditEvent(ctx context.Context, ev model.AuditEvent) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	if ev.Payload == nil {
		ev.Payload = map[string]any{}
	}
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return 0, fmt.Errorf("storage: encode payload: %w", err)
	}

	var eventID int64
	err = l.db.QueryRowContext(ctx,
		`INSERT INTO audit_events (run_id, event_id, step, kind, payload, occurred_at, duration_ms)
		 SELECT ?, COALESCE(MAX(event_id), 0) + 1, ?, ?, ?, ?, ?
		 FROM audit_events WHERE run_id = ?
		 RETURNING event_id`,
		ev.RunID.String(), ev.Step, string(ev.Kind), string(payload),
		fmtTime(ev.OccurredAt), ev.DurationMs, ev.RunID.String(),
	).Scan(&eventID)
	if err != nil {
		return 0, fmt.Errorf("storage: append audit event: %w", err)
	}
	return eventID, nil
}

// AuditTrail returns the run's events in event id order.
func (l *Lite) AuditTrail(ctx context.Context, runID uuid.UUID) ([]model.AuditEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.QueryContext(ctx,
		`SELECT event_id, run_id, step, kind, payload, occurred_at, duration_ms
		 FROM audit_events WHERE run_id = ? ORDER BY event_id ASC`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("storage: audit trail: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var events []model.AuditEvent
	for rows.Next() {
		var ev model.AuditEvent
		var runIDStr, kind, payload, occurredAt string
		if err := rows.Scan(&ev.EventID, &runIDStr, &ev.Step, &kind,
			&payload, &occurredAt, &ev.DurationMs); err != nil {
			return nil, fmt.Errorf("storage: scan audit event: %w", err)
		}
		if ev.RunID, err = uuid.Parse(runIDStr); err != nil {
			return nil, fmt.Errorf("storage: parse run id: %w", err)
		}
		ev.Kind = model.EventKind(kind)
		if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
			return nil, fmt.Errorf("storage: decode payload: %w", err)
		}
		if ev.OccurredAt, err = parseTime(occurredAt); err != nil {
			return nil, fmt.Errorf("storage: parse occurred_at: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CreateCustomer inserts a customer.
func (l *Lite) CreateCustomer(ctx context.Context, c model.Customer) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO customers (id, name, email, account_type, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID.String(), c.Name, c.Email, c.AccountType, fmtTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("storage: create customer: %w", err)
	}
	return nil
}

// GetCustomer retrieves a customer by ID.
func (l *Lite) GetCustomer(ctx context.Context, id uuid.UUID) (*model.Customer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var c model.Customer
	var idStr, createdAt string
	err := l.db.QueryRowContext(ctx,
		`SELECT id, name, email, account_type, created_at FROM customers WHERE id = ?`, id.String(),
	).Scan(&idStr, &c.Name, &c.Email, &c.AccountType, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("storage: customer %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("storage: get customer: %w", err)
	}
	if c.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("storage: parse customer id: %w", err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("storage: parse created_at: %w", err)
	}
	return &c, nil
}

// ListCustomers returns all customers ordered by name.
func (l *Lite) ListCustomers(ctx context.Context) ([]model.Customer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.QueryContext(ctx,
		`SELECT id, name, email, account_type, created_at FROM customers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("storage: list customers: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var customers []model.Customer
	for rows.Next() {
		var c model.Customer
		var idStr, createdAt string
		if err := rows.Scan(&idStr, &c.Name, &c.Email, &c.AccountType, &createdAt); err != nil {
			return nil, fmt.Errorf("storage: scan customer: %w", err)
		}
		if c.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("storage: parse customer id: %w", err)
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("storage: parse created_at: %w", err)
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

// InsertTransactions bulk-inserts transactions in one SQL transaction.
func (l *Lite) InsertTransactions(ctx context.Context, txns []model.Transaction) error {
	if len(txns) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, t := range txns {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO transactions (id, customer_id, amount, currency, merchant, category, occurred_at, labeled)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID.String(), t.CustomerID.String(), t.Amount, t.Currency,
			t.Merchant, t.Category, fmtTime(t.OccurredAt), t.Labeled); err != nil {
			return fmt.Errorf("storage: insert transaction: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit transactions: %w", err)
	}
	return nil
}

// TransactionsSince returns a customer's transactions at or after since.
func (l *Lite) TransactionsSince(ctx context.Context, customerID uuid.UUID, since time.Time) ([]model.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.QueryContext(ctx,
		`SELECT id, customer_id, amount, currency, merchant, category, occurred_at, labeled
		 FROM transactions WHERE customer_id = ? AND occurred_at >= ?
		 ORDER BY occurred_at ASC`, customerID.String(), fmtTime(since))
	if err != nil {
		return nil, fmt.Errorf("storage: transactions since: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var txns []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var idStr, custStr, occurredAt string
		if err := rows.Scan(&idStr, &custStr, &t.Amount, &t.Currency,
			&t.Merchant, &t.Category, &occurredAt, &t.Labeled); err != nil {
			return nil, fmt.Errorf("storage: scan transaction: %w", err)
		}
		if t.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("storage: parse transaction id: %w", err)
		}
		if t.CustomerID, err = uuid.Parse(custStr); err != nil {
			return nil, fmt.Errorf("storage: parse customer id: %w", err)
		}
		if t.OccurredAt, err = parseTime(occurredAt); err != nil {
			return nil, fmt.Errorf("storage: parse occurred_at: %w", err)
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// InsertPolicyDocument upserts a policy document with its embedding stored
// as a JSON array.
func (l *Lite) InsertPolicyDocument(ctx context.Context, doc model.PolicyDocument, embedding pgvector.Vector) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	vec, err := json.Marshal(embedding.Slice())
	if err != nil {
		return fmt.Errorf("storage: encode embedding: %w", err)
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO policy_documents (id, title, content, category, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			category = excluded.category,
			embedding = excluded.embedding`,
		doc.ID.String(), doc.Title, doc.Content, doc.Category, string(vec), fmtTime(doc.CreatedAt))
	if err != nil {
		return fmt.Errorf("storage: insert policy document: %w", err)
	}
	return nil
}

// SearchPolicies scores every document against the query in Go and returns
// the top matches. Brute force, acceptable at demo corpus sizes.
func (l *Lite) SearchPolicies(ctx context.Context, query pgvector.Vector, limit int) ([]model.PolicySnippet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 {
		limit = 3
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT id, title, substr(content, 1, 300), category, embedding FROM policy_documents`)
	if err != nil {
		return nil, fmt.Errorf("storage: search policies: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	q := query.Slice()
	var snippets []model.PolicySnippet
	for rows.Next() {
		var idStr, title, excerpt, category, vecJSON string
		if err := rows.Scan(&idStr, &title, &excerpt, &category, &vecJSON); err != nil {
			return nil, fmt.Errorf("storage: scan policy: %w", err)
		}
		docID, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("storage: parse policy id: %w", err)
		}
		var vec []float32
		if err := json.Unmarshal([]byte(vecJSON), &vec); err != nil {
			return nil, fmt.Errorf("storage: decode embedding: %w", err)
		}
		snippets = append(snippets, model.PolicySnippet{
			DocumentID: docID,
			Title:      title,
			Excerpt:    excerpt,
			Category:   category,
			Similarity: cosine(q, vec),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(snippets, func(i, j int) bool {
		return snippets[i].Similarity > snippets[j].Similarity
	})
	if len(snippets) > limit {
		snippets = snippets[:limit]
	}
	return snippets, nil
}

// Ping verifies the database is reachable.
func (l *Lite) Ping(ctx context.Context) error {
	if err := l.db.PingContext(ctx); err != nil {
		return fmt.Errorf("storage: ping: %w", err)
	}
	return nil
}

// Close closes the database.
func (l *Lite) Close() {
	l.db.Close() //nolint:errcheck
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func scanLiteRun(row rowScanner) (*model.Run, error) {
	var run model.Run
	var idStr, custStr, cfg, status, createdAt string
	var decision, summary, frozen, completedAt *string

	if err := row.Scan(&idStr, &custStr, &cfg, &status, &decision,
		&summary, &frozen, &createdAt, &completedAt); err != nil {
		return nil, err
	}

	var err error
	if run.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("parse run id: %w", err)
	}
	if run.CustomerID, err = uuid.Parse(custStr); err != nil {
		return nil, fmt.Errorf("parse customer id: %w", err)
	}
	if err = json.Unmarshal([]byte(cfg), &run.Config); err != nil {
		return nil, fmt.Errorf("decode run config: %w", err)
	}
	run.Status = model.RunStatus(status)
	if decision != nil {
		d := model.Decision(*decision)
		run.Decision = &d
	}
	if summary != nil {
		if err = json.Unmarshal([]byte(*summary), &run.Summary); err != nil {
			return nil, fmt.Errorf("decode summary: %w", err)
		}
	}
	if frozen != nil {
		if err = json.Unmarshal([]byte(*frozen), &run.Context); err != nil {
			return nil, fmt.Errorf("decode context: %w", err)
		}
	}
	if run.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if run.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, fmt.Errorf("parse completed_at: %w", err)
	}
	return &run, nil
}
