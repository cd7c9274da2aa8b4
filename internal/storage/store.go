package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/kansa/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence contract the rest of the system depends on.
// DB implements it on PostgreSQL; Lite implements it on embedded SQLite for
// development and demos.
type Store interface {
	// Runs.
	CreateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, id uuid.UUID) (*model.Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]model.Run, int, error)
	MarkRunRunning(ctx context.Context, id uuid.UUID) error
	CompleteRun(ctx context.Context, id uuid.UUID, status model.RunStatus,
		decision *model.Decision, summary, frozen map[string]any) error

	// Audit events.
	AppendAuditEvent(ctx context.Context, ev model.AuditEvent) (int64, error)
	AuditTrail(ctx context.Context, runID uuid.UUID) ([]model.AuditEvent, error)

	// Customers and transactions.
	CreateCustomer(ctx context.Context, c model.Customer) error
	GetCustomer(ctx context.Context, id uuid.UUID) (*model.Customer, error)
	ListCustomers(ctx context.Context) ([]model.Customer, error)
	InsertTransactions(ctx context.Context, txns []model.Transaction) error
	TransactionsSince(ctx context.Context, customerID uuid.UUID, since time.Time) ([]model.Transaction, error)

	// Policy documents.
	InsertPolicyDocument(ctx context.Context, doc model.PolicyDocument, embedding pgvector.Vector) error
	SearchPolicies(ctx context.Context, query pgvector.Vector, limit int) ([]model.PolicySnippet, error)

	Ping(ctx context.Context) error
	Close()
}
