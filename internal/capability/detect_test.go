package capability

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kansa/internal/model"
)

// baseline returns transactions with a tight amount distribution so that an
// injected outlier reliably crosses the z-score rule.
func baseline(customerID uuid.UUID, n int, amount float64) []model.Transaction {
	txns := make([]model.Transaction, 0, n)
	at := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		txns = append(txns, model.Transaction{
			ID:         uuid.New(),
			CustomerID: customerID,
			Amount:     amount,
			Currency:   "USD",
			Merchant:   "Corner Grocery",
			Category:   "groceries",
			OccurredAt: at.Add(time.Duration(i) * time.Hour),
		})
	}
	return txns
}

func TestDetectEmptyInput(t *testing.T) {
	assert.Empty(t, Detect(nil, 0.8))
	assert.Empty(t, Detect([]model.Transaction{}, 0.8))
}

func TestDetectCleanBaselineFindsNothing(t *testing.T) {
	txns := baseline(uuid.New(), 20, 50)
	assert.Empty(t, Detect(txns, 0.8))
}

func TestDetectLabeledForeignOddHourOutlier(t *testing.T) {
	customerID := uuid.New()
	txns := baseline(customerID, 20, 50)

	outlier := model.Transaction{
		ID:         uuid.New(),
		CustomerID: customerID,
		Amount:     5000,
		Currency:   "USD",
		Merchant:   "UK-Wire Transfer Ltd",
		Category:   "transfer",
		OccurredAt: time.Date(2026, 3, 3, 3, 30, 0, 0, time.UTC),
		Labeled:    true,
	}
	txns = append(txns, outlier)

	anomalies := Detect(txns, 0.8)
	require.Len(t, anomalies, 1)

	a := anomalies[0]
	assert.Equal(t, outlier.ID, a.TransactionID)
	// All five rules fire: 0.3 + 0.2 + 0.15 + 0.35 + 0.1 capped at 1.0.
	assert.Equal(t, 1.0, a.Score)
	assert.Len(t, a.Reasons, 5)
}

func TestDetectScoreBelowThresholdExcluded(t *testing.T) {
	customerID := uuid.New()
	txns := baseline(customerID, 20, 50)

	// Labeled + foreign only: 0.35 + 0.15 = 0.5, under the 0.8 threshold.
	txns = append(txns, model.Transaction{
		ID:         uuid.New(),
		CustomerID: customerID,
		Amount:     50,
		Currency:   "USD",
		Merchant:   "FR-Cafe Paris",
		Category:   "dining",
		OccurredAt: time.Date(2026, 3, 3, 14, 0, 0, 0, time.UTC),
		Labeled:    true,
	})

	assert.Empty(t, Detect(txns, 0.8))
	assert.Len(t, Detect(txns, 0.5), 1)
}

func TestDetectSortedByScoreDescending(t *testing.T) {
	customerID := uuid.New()
	txns := baseline(customerID, 20, 50)

	// Score 0.5: labeled + foreign.
	mid := model.Transaction{
		ID: uuid.New(), CustomerID: customerID, Amount: 50, Currency: "USD",
		Merchant: "DE-Autohaus", Category: "auto",
		OccurredAt: time.Date(2026, 3, 3, 14, 0, 0, 0, time.UTC), Labeled: true,
	}
	// Score 1.0: everything fires.
	high := model.Transaction{
		ID: uuid.New(), CustomerID: customerID, Amount: 9000, Currency: "USD",
		Merchant: "JP-Electronics", Category: "electronics",
		OccurredAt: time.Date(2026, 3, 3, 4, 0, 0, 0, time.UTC), Labeled: true,
	}
	txns = append(txns, mid, high)

	anomalies := Detect(txns, 0.4)
	require.Len(t, anomalies, 2)
	assert.Equal(t, high.ID, anomalies[0].TransactionID)
	assert.Equal(t, mid.ID, anomalies[1].TransactionID)
}

func TestDetectDeterministic(t *testing.T) {
	customerID := uuid.New()
	txns := baseline(customerID, 15, 40)
	txns = append(txns, model.Transaction{
		ID: uuid.New(), CustomerID: customerID, Amount: 4000, Currency: "USD",
		Merchant: "AU-Outback Goods", Category: "retail",
		OccurredAt: time.Date(2026, 3, 3, 3, 0, 0, 0, time.UTC), Labeled: true,
	})

	first := Detect(txns, 0.5)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Detect(txns, 0.5))
	}
}

func TestAnomalyDetectInvoke(t *testing.T) {
	customerID := uuid.New()
	txns := baseline(customerID, 10, 50)
	input, err := json.Marshal(DetectInput{Transactions: txns, Threshold: 0.8})
	require.NoError(t, err)

	out, err := NewAnomalyDetect().Invoke(context.Background(), input)
	require.NoError(t, err)

	var decoded DetectOutput
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, 10, decoded.TotalTransactions)
	assert.Equal(t, 0.8, decoded.Threshold)
	assert.Empty(t, decoded.Anomalies)
}

func TestAnomalyDetectInvokeBadInput(t *testing.T) {
	_, err := NewAnomalyDetect().Invoke(context.Background(), json.RawMessage(`{"transactions": 5}`))
	assert.Error(t, err)
}
