// Package cost implements the per-session budget authorization and the
// append-only cost ledger described in spec §4.2. Grounded on
// internal/billing's quota-check-then-increment shape, adapted from a
// monthly organization quota to a per-session monetary budget.
package cost

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/aris-project/aris/internal/errs"
	"github.com/aris-project/aris/internal/model"
)

// WarningLevel is emitted (non-fatal) when accumulated+estimated spend
// crosses 75% or 90% of the budget.
type WarningLevel string

const (
	NoWarning     WarningLevel = ""
	Warning75     WarningLevel = "warning_75"
	Warning90     WarningLevel = "warning_90"
)

// Ledger is the durable append-only cost ledger. Implemented by
// internal/storage.DB; a separate interface keeps the cost manager testable
// without a live database.
type Ledger interface {
	AppendCostEntry(ctx context.Context, entry model.CostLedgerEntry) error
}

// PriceTable looks up the unit cost for a provider+model. Token-based
// prices are per 1K tokens, so callers pass token counts divided by 1000 as
// units.
type PriceTable map[string]float64

// DefaultPriceTable is a representative provider price table; exact values
// are environment-dependent per spec §9's open question and are expected to
// be overridden by configuration in production.
var DefaultPriceTable = PriceTable{
	"search":              0.005, // per search call
	"reasoning_input":     0.003, // per 1K input tokens
	"reasoning_output":    0.015, // per 1K output tokens
	"embedding":           0.0001,
}

// UnitCost returns the configured unit cost for provider, or 0 if unknown.
func (p PriceTable) UnitCost(provider string) float64 {
	return p[provider]
}

// Manager enforces per-session budgets and records spend. Concurrency: per
// spec §4.2, operations on a single session are serialized; across sessions
// they are independent. This is implemented with a per-session mutex
// (sharded map) rather than one global lock.
type Manager struct {
	ledger Ledger
	prices PriceTable

	mu       sync.Mutex
	sessions map[uuid.UUID]*sessionState
}

type sessionState struct {
	mu        sync.Mutex
	accumulated float64
}

// NewManager creates a cost manager backed by ledger, using prices for unit
// cost lookups. If prices is nil, DefaultPriceTable is used.
func NewManager(ledger Ledger, prices PriceTable) *Manager {
	if prices == nil {
		prices = DefaultPriceTable
	}
	return &Manager{
		ledger:   ledger,
		prices:   prices,
		sessions: make(map[uuid.UUID]*sessionState),
	}
}

func (m *Manager) stateFor(sessionID uuid.UUID, initialAccumulated float64) *sessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sessions[sessionID]
	if !ok {
		st = &sessionState{accumulated: initialAccumulated}
		m.sessions[sessionID] = st
	}
	return st
}

// CanPerform compares accumulated+estimated spend against budgetLimit. It
// returns (true, warning, nil) when allowed, and (false, warning,
// ErrBudgetExceeded) when the operation would bring spend strictly above the
// limit. accumulated is the session's currently known accumulated cost (the
// caller supplies it from the session row so the manager does not need to
// read storage under its own lock); CanPerform compares against the larger
// of that value and the spend already recorded through Record. The
// estimate itself is not reserved, so two authorizations for the same
// session that run before either hop is recorded can both be allowed.
func (m *Manager) CanPerform(sessionID uuid.UUID, accumulated, estimatedCost, budgetLimit float64) (bool, WarningLevel, error) {
	st := m.stateFor(sessionID, accumulated)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.accumulated < accumulated {
		st.accumulated = accumulated
	}

	projected := st.accumulated + estimatedCost
	if projected > budgetLimit {
		return false, warningFor(st.accumulated, budgetLimit), fmt.Errorf("cost: authorize %.4f against limit %.4f: %w", projected, budgetLimit, errs.ErrBudgetExceeded)
	}
	return true, warningFor(projected, budgetLimit), nil
}

func warningFor(spend, limit float64) WarningLevel {
	if limit <= 0 {
		return NoWarning
	}
	ratio := spend / limit
	switch {
	case ratio >= 0.90:
		return Warning90
	case ratio >= 0.75:
		return Warning75
	default:
		return NoWarning
	}
}

// Record appends a ledger entry for provider spend in hop and updates the
// in-memory accumulated total used by subsequent CanPerform calls. The
// entry's total is units * unitCost; for token-based providers the caller
// passes units in thousands of tokens (tokens/1000). units is stored in the
// ledger entry as given.
func (m *Manager) Record(ctx context.Context, sessionID uuid.UUID, hopNumber int, provider string, units float64) (model.CostLedgerEntry, error) {
	unitCost := m.prices.UnitCost(provider)
	total := units * unitCost

	entry := model.CostLedgerEntry{
		SessionID: sessionID,
		HopNumber: hopNumber,
		Provider:  provider,
		Units:     units,
		UnitCost:  unitCost,
		Total:     total,
	}
	if m.ledger != nil {
		if err := m.ledger.AppendCostEntry(ctx, entry); err != nil {
			return model.CostLedgerEntry{}, fmt.Errorf("cost: append ledger entry: %w", err)
		}
	}

	st := m.stateFor(sessionID, 0)
	st.mu.Lock()
	st.accumulated += total
	st.mu.Unlock()

	return entry, nil
}

// Accumulated returns the manager's in-memory view of a session's spend.
func (m *Manager) Accumulated(sessionID uuid.UUID) float64 {
	st := m.stateFor(sessionID, 0)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.accumulated
}
