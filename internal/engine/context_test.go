package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kansa/internal/model"
)

func TestRunContextApplyAndRead(t *testing.T) {
	rc := NewRunContext()

	txns := []model.Transaction{{ID: uuid.New(), Amount: 50}}
	summary := model.TransactionSummary{Count: 1, TotalAmount: 50, AvgAmount: 50, MaxAmount: 50, WindowDays: 30}
	require.NoError(t, rc.Apply(Fragment{Transactions: &txns, Summary: &summary}))

	assert.Equal(t, txns, rc.Transactions())
	got, ok := rc.Summary()
	assert.True(t, ok)
	assert.Equal(t, summary, got)

	_, ok = rc.Draft()
	assert.False(t, ok)
	assert.Nil(t, rc.Anomalies())
}

func TestRunContextDoubleWriteRejected(t *testing.T) {
	rc := NewRunContext()

	anomalies := []model.Anomaly{}
	require.NoError(t, rc.Apply(Fragment{Anomalies: &anomalies}))

	again := []model.Anomaly{{Score: 0.9}}
	err := rc.Apply(Fragment{Anomalies: &again})
	require.Error(t, err)

	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, KindInvalidState, pe.Kind)

	// The original empty-but-written value is untouched.
	assert.NotNil(t, rc.Anomalies())
	assert.Empty(t, rc.Anomalies())
}

func TestRunContextConflictAppliesNothing(t *testing.T) {
	rc := NewRunContext()

	draft := model.Draft{Narrative: "n", RecommendedActions: []string{"a"}, Confidence: 0.9}
	require.NoError(t, rc.Apply(Fragment{Draft: &draft}))

	// A fragment mixing a fresh field with a conflicting one merges nothing.
	routing := model.Routing{Escalate: true}
	err := rc.Apply(Fragment{Draft: &draft, Routing: &routing})
	require.Error(t, err)
	_, ok := rc.Routing()
	assert.False(t, ok)
}

func TestRunContextSetButEmptyDistinctFromUnset(t *testing.T) {
	rc := NewRunContext()
	assert.Nil(t, rc.Snippets())

	empty := []model.PolicySnippet{}
	require.NoError(t, rc.Apply(Fragment{Snippets: &empty}))
	assert.NotNil(t, rc.Snippets())
	assert.Empty(t, rc.Snippets())
}

func TestFragmentNames(t *testing.T) {
	draft := model.Draft{}
	routing := model.Routing{}
	f := Fragment{Draft: &draft, Routing: &routing}
	assert.Equal(t, []string{"draft", "routing"}, f.Names())
	assert.Empty(t, Fragment{}.Names())
}

func TestRunContextSnapshotOmitsUnset(t *testing.T) {
	rc := NewRunContext()
	anomalies := []model.Anomaly{{TransactionID: uuid.New(), Score: 0.8, Reasons: []string{"foreign merchant"}}}
	require.NoError(t, rc.Apply(Fragment{Anomalies: &anomalies}))

	snap := rc.Snapshot()
	assert.Contains(t, snap, "anomalies")
	assert.NotContains(t, snap, "draft")
	assert.NotContains(t, snap, "transactions")
}
