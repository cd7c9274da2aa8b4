package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kansa/internal/model"
)

// TransactionSource is the slice of the storage layer the ingest
// capability reads from.
type TransactionSource interface {
	GetCustomer(ctx context.Context, id uuid.UUID) (*model.Customer, error)
	TransactionsSince(ctx context.Context, customerID uuid.UUID, since time.Time) ([]model.Transaction, error)
}

const ingestInputSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["customer_id", "window_days"],
	"additionalProperties": false,
	"properties": {
		"customer_id": {"type": "string", "format": "uuid"},
		"window_days": {"type": "integer", "minimum": 1, "maximum": 365}
	}
}`

const ingestOutputSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["transactions", "summary"],
	"properties": {
		"transactions": {"type": "array", "items": {"type": "object"}},
		"summary": {
			"type": "object",
			"required": ["count", "total_amount", "avg_amount", "max_amount", "window_days"],
			"properties": {
				"count": {"type": "integer", "minimum": 0},
				"total_amount": {"type": "number"},
				"avg_amount": {"type": "number"},
				"max_amount": {"type": "number"},
				"window_days": {"type": "integer", "minimum": 1}
			}
		}
	}
}`

// IngestInput is the request for the transaction_ingest capability.
type IngestInput struct {
	CustomerID uuid.UUID `json:"customer_id"`
	WindowDays int       `json:"window_days"`
}

// IngestOutput is the transaction_ingest response.
type IngestOutput struct {
	Transactions []model.Transaction      `json:"transactions"`
	Summary      model.TransactionSummary `json:"summary"`
}

// TransactionIngest loads a customer's transactions inside the analysis
// window and computes aggregate statistics over them.
type TransactionIngest struct {
	source TransactionSource
	now    func() time.Time
}

// NewTransactionIngest creates the ingest capability.
func NewTransactionIngest(source TransactionSource) *TransactionIngest {
	return &TransactionIngest{source: source, now: time.Now}
}

// Descriptor returns the capability metadata.
func (t *TransactionIngest) Descriptor() Descriptor {
	return Descriptor{
		Name:         NameTransactionIngest,
		Description:  "Load customer transactions for the analysis window and summarize them",
		InputSchema:  json.RawMessage(ingestInputSchema),
		OutputSchema: json.RawMessage(ingestOutputSchema),
	}
}

// Invoke loads and summarizes transactions. An unknown customer is an
// invocation error; a customer with zero transactions in the window is not.
func (t *TransactionIngest) Invoke(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in IngestInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("capability: decode ingest input: %w", err)
	}

	if _, err := t.source.GetCustomer(ctx, in.CustomerID); err != nil {
		return nil, fmt.Errorf("capability: load customer %s: %w", in.CustomerID, err)
	}

	since := t.now().UTC().AddDate(0, 0, -in.WindowDays)
	txns, err := t.source.TransactionsSince(ctx, in.CustomerID, since)
	if err != nil {
		return nil, fmt.Errorf("capability: load transactions: %w", err)
	}

	out := IngestOutput{
		Transactions: txns,
		Summary:      summarize(txns, in.WindowDays),
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("capability: encode ingest output: %w", err)
	}
	return encoded, nil
}

func summarize(txns []model.Transaction, windowDays int) model.TransactionSummary {
	s := model.TransactionSummary{Count: len(txns), WindowDays: windowDays}
	for _, t := range txns {
		s.TotalAmount += t.Amount
		if t.Amount > s.MaxAmount {
			s.MaxAmount = t.Amount
		}
	}
	if s.Count > 0 {
		s.AvgAmount = s.TotalAmount / float64(s.Count)
	}
	return s
}
