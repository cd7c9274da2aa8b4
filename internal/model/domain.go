package model

import (
	"time"

	"github.com/google/uuid"
)

// Customer is an account holder whose transactions get reviewed.
type Customer struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	AccountType string    `json:"account_type"` // checking, savings, business
	CreatedAt   time.Time `json:"created_at"`
}

// Transaction is one customer transaction inside the analysis window.
type Transaction struct {
	ID         uuid.UUID `json:"id"`
	CustomerID uuid.UUID `json:"customer_id"`
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency"`
	Merchant   string    `json:"merchant"`
	Category   string    `json:"category"`
	OccurredAt time.Time `json:"occurred_at"`
	Labeled    bool      `json:"labeled"` // pre-labeled as anomalous in the source data
}

// TransactionSummary is aggregate statistics over an ingested window.
type TransactionSummary struct {
	Count       int     `json:"count"`
	TotalAmount float64 `json:"total_amount"`
	AvgAmount   float64 `json:"avg_amount"`
	MaxAmount   float64 `json:"max_amount"`
	WindowDays  int     `json:"window_days"`
}

// Anomaly is one transaction flagged by the detection capability,
// with the scoring rationale attached.
type Anomaly struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Amount        float64   `json:"amount"`
	Merchant      string    `json:"merchant"`
	Category      string    `json:"category"`
	OccurredAt    time.Time `json:"occurred_at"`
	Score         float64   `json:"score"`
	Reasons       []string  `json:"reasons"`
}

// PolicyDocument is an internal policy with a vector embedding for retrieval.
type PolicyDocument struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Category  string    `json:"category"` // fraud, limits, escalation, monitoring
	CreatedAt time.Time `json:"created_at"`
}

// PolicySnippet is one ranked retrieval result.
type PolicySnippet struct {
	DocumentID uuid.UUID `json:"document_id"`
	Title      string    `json:"title"`
	Excerpt    string    `json:"excerpt"`
	Category   string    `json:"category"`
	Similarity float64   `json:"similarity"`
}

// Draft is the output of the explanation drafting capability.
type Draft struct {
	Narrative          string   `json:"narrative"`
	RecommendedActions []string `json:"recommended_actions"`
	Confidence         float64  `json:"confidence"`
}

// Routing is the evaluate step's verdict on where the run goes next.
type Routing struct {
	Escalate bool   `json:"escalate"`
	Reason   string `json:"reason,omitempty"`
}

// DecisionRecord is the final decision written by the escalate or
// finalize step.
type DecisionRecord struct {
	Outcome Decision `json:"outcome"`
	Reason  string   `json:"reason,omitempty"`
}
