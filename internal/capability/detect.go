package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ashita-ai/kansa/internal/model"
)

// Scoring weights for the rule-based anomaly heuristics. A transaction
// accumulates weight per matching rule; the total is capped at 1.0.
const (
	weightZScore   = 0.30 // amount more than 3 standard deviations from mean
	weightOddHour  = 0.20 // transaction between 02:00 and 05:59
	weightForeign  = 0.15 // merchant carries a foreign country prefix
	weightLabeled  = 0.35 // pre-labeled anomalous in the source data
	weightOversize = 0.10 // amount above 5x the window average
)

// foreignPrefixes marks merchants outside the home region.
var foreignPrefixes = []string{"UK-", "FR-", "DE-", "JP-", "AU-"}

const detectInputSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["transactions", "threshold"],
	"additionalProperties": false,
	"properties": {
		"transactions": {"type": "array", "items": {"type": "object"}},
		"threshold": {"type": "number", "minimum": 0, "maximum": 1}
	}
}`

const detectOutputSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["anomalies", "total_transactions", "threshold"],
	"properties": {
		"anomalies": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["transaction_id", "score", "reasons"],
				"properties": {
					"transaction_id": {"type": "string", "format": "uuid"},
					"score": {"type": "number", "minimum": 0, "maximum": 1},
					"reasons": {"type": "array", "items": {"type": "string"}, "minItems": 1}
				}
			}
		},
		"total_transactions": {"type": "integer", "minimum": 0},
		"threshold": {"type": "number", "minimum": 0, "maximum": 1}
	}
}`

// DetectInput is the request for the anomaly_detect capability.
type DetectInput struct {
	Transactions []model.Transaction `json:"transactions"`
	Threshold    float64             `json:"threshold"`
}

// DetectOutput is the anomaly_detect response.
type DetectOutput struct {
	Anomalies         []model.Anomaly `json:"anomalies"`
	TotalTransactions int             `json:"total_transactions"`
	Threshold         float64         `json:"threshold"`
}

// AnomalyDetect scores transactions against rule-based heuristics and keeps
// those at or above the configured threshold. Pure computation over its
// input: no I/O, same input always yields the same output.
type AnomalyDetect struct{}

// NewAnomalyDetect creates the detection capability.
func NewAnomalyDetect() *AnomalyDetect {
	return &AnomalyDetect{}
}

// Descriptor returns the capability metadata.
func (a *AnomalyDetect) Descriptor() Descriptor {
	return Descriptor{
		Name:         NameAnomalyDetect,
		Description:  "Score transactions with rule-based heuristics and flag anomalies",
		InputSchema:  json.RawMessage(detectInputSchema),
		OutputSchema: json.RawMessage(detectOutputSchema),
	}
}

// Invoke runs detection over the supplied transactions.
func (a *AnomalyDetect) Invoke(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in DetectInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("capability: decode detect input: %w", err)
	}

	out := DetectOutput{
		Anomalies:         Detect(in.Transactions, in.Threshold),
		TotalTransactions: len(in.Transactions),
		Threshold:         in.Threshold,
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("capability: encode detect output: %w", err)
	}
	return encoded, nil
}

// Detect scores every transaction and returns those meeting the threshold,
// sorted by score descending. Ties keep input order, so output is stable.
func Detect(txns []model.Transaction, threshold float64) []model.Anomaly {
	if len(txns) == 0 {
		return []model.Anomaly{}
	}

	var total float64
	for _, t := range txns {
		total += t.Amount
	}
	avg := total / float64(len(txns))

	var variance float64
	for _, t := range txns {
		variance += (t.Amount - avg) * (t.Amount - avg)
	}
	std := math.Sqrt(variance / float64(len(txns)))

	anomalies := make([]model.Anomaly, 0)
	for _, t := range txns {
		score, reasons := scoreTransaction(t, avg, std)
		if score >= threshold {
			anomalies = append(anomalies, model.Anomaly{
				TransactionID: t.ID,
				Amount:        t.Amount,
				Merchant:      t.Merchant,
				Category:      t.Category,
				OccurredAt:    t.OccurredAt,
				Score:         math.Round(score*1000) / 1000,
				Reasons:       reasons,
			})
		}
	}

	sort.SliceStable(anomalies, func(i, j int) bool {
		return anomalies[i].Score > anomalies[j].Score
	})
	return anomalies
}

func scoreTransaction(t model.Transaction, avg, std float64) (float64, []string) {
	var score float64
	var reasons []string

	if avg > 0 {
		z := math.Abs((t.Amount - avg) / (std + 0.01))
		if z > 3 {
			score += weightZScore
			reasons = append(reasons, fmt.Sprintf("amount %.1f standard deviations from mean", z))
		}
	}

	if h := t.OccurredAt.Hour(); h >= 2 && h <= 5 {
		score += weightOddHour
		reasons = append(reasons, fmt.Sprintf("transaction at unusual hour (%02d:00)", h))
	}

	for _, prefix := range foreignPrefixes {
		if strings.HasPrefix(t.Merchant, prefix) {
			score += weightForeign
			reasons = append(reasons, "foreign merchant")
			break
		}
	}

	if t.Labeled {
		score += weightLabeled
		reasons = append(reasons, "flagged as anomaly in source data")
	}

	if t.Amount > avg*5 {
		score += weightOversize
		reasons = append(reasons, fmt.Sprintf("amount above 5x average ($%.2f)", avg))
	}

	return math.Min(score, 1.0), reasons
}
