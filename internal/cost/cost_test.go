package cost

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aris-project/aris/internal/errs"
	"github.com/aris-project/aris/internal/model"
)

type fakeLedger struct {
	entries []model.CostLedgerEntry
}

func (f *fakeLedger) AppendCostEntry(ctx context.Context, entry model.CostLedgerEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func TestCanPerformDeniesOverBudget(t *testing.T) {
	m := NewManager(&fakeLedger{}, nil)
	sid := uuid.New()

	ok, _, err := m.CanPerform(sid, 0.04, 0.02, 0.05)
	require.ErrorIs(t, err, errs.ErrBudgetExceeded)
	assert.False(t, ok)
}

func TestCanPerformAllowsAtExactBudget(t *testing.T) {
	m := NewManager(&fakeLedger{}, nil)
	sid := uuid.New()

	ok, _, err := m.CanPerform(sid, 0.03, 0.02, 0.05)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCanPerformWarningThresholds(t *testing.T) {
	m := NewManager(&fakeLedger{}, nil)
	sid := uuid.New()

	_, w, err := m.CanPerform(sid, 0.0, 0.80, 1.0)
	require.NoError(t, err)
	assert.Equal(t, Warning75, w)

	sid2 := uuid.New()
	_, w2, err := m.CanPerform(sid2, 0.0, 0.91, 1.0)
	require.NoError(t, err)
	assert.Equal(t, Warning90, w2)
}

func TestRecordAccumulatesAndAuthorizationSeesIt(t *testing.T) {
	ledger := &fakeLedger{}
	m := NewManager(ledger, PriceTable{"search": 0.01})
	sid := uuid.New()

	_, err := m.Record(context.Background(), sid, 1, "search", 2)
	require.NoError(t, err)
	assert.InDelta(t, 0.02, m.Accumulated(sid), 1e-9)
	require.Len(t, ledger.entries, 1)
	assert.Equal(t, 0.02, ledger.entries[0].Total)

	ok, _, err := m.CanPerform(sid, 0.0, 0.005, 0.025)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _, err = m.CanPerform(sid, 0.0, 0.02, 0.025)
	require.ErrorIs(t, err, errs.ErrBudgetExceeded)
	assert.False(t, ok)
}

func TestComplexityScoreMonotoneWithLength(t *testing.T) {
	short := ComplexityScore("Go concurrency")
	long := ComplexityScore("Compare the history and future impact of distributed consensus algorithms versus classic two-phase commit protocols in detail")
	assert.Less(t, short, long)
}

func TestEstimateConfidenceBuckets(t *testing.T) {
	assert.Equal(t, 0.85, EstimateConfidence(0.1))
	assert.Equal(t, 0.75, EstimateConfidence(0.5))
	assert.Equal(t, 0.65, EstimateConfidence(0.9))
}

func TestForQueryScalesWithDepth(t *testing.T) {
	q := "What is semantic search?"
	quick := ForQuery(q, model.DepthQuick, nil)
	deep := ForQuery(q, model.DepthDeep, nil)
	assert.Less(t, quick.EstimatedCost, deep.EstimatedCost)
	assert.Less(t, quick.EstimatedSearches, deep.EstimatedSearches)
}
