package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/aris-project/aris/internal/model"
)

// AppendCostEntry writes one append-only cost ledger row. Implements
// internal/cost.Ledger so the cost manager stays testable without a live
// database. The sum of a session's entries is the authoritative source for
// Session.AccumulatedCost (spec §3's Cost Ledger Entry invariant).
func (db *DB) AppendCostEntry(ctx context.Context, entry model.CostLedgerEntry) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO cost_ledger (session_id, hop_number, provider, units, unit_cost, total)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.SessionID, entry.HopNumber, entry.Provider, entry.Units, entry.UnitCost, entry.Total)
	if err != nil {
		return fmt.Errorf("storage: append cost ledger entry: %w", err)
	}
	return nil
}

// ListCostLedger returns every ledger entry for a session, oldest first.
func (db *DB) ListCostLedger(ctx context.Context, sessionID uuid.UUID) ([]model.CostLedgerEntry, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, session_id, hop_number, provider, units, unit_cost, total, created_at
		 FROM cost_ledger WHERE session_id = $1 ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("storage: list cost ledger: %w", err)
	}
	defer rows.Close()

	var entries []model.CostLedgerEntry
	for rows.Next() {
		var e model.CostLedgerEntry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.HopNumber, &e.Provider, &e.Units, &e.UnitCost, &e.Total, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan cost ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list cost ledger: %w", err)
	}
	return entries, nil
}

// Statistics summarizes a session's spend and progress for the `session
// stats` CLI command (spec §6).
type Statistics struct {
	SessionID         uuid.UUID         `json:"session_id"`
	HopCount          int               `json:"hop_count"`
	TotalCost         float64           `json:"total_cost"`
	CostByProvider    map[string]float64 `json:"cost_by_provider"`
	InitialConfidence float64           `json:"initial_confidence"`
	CurrentConfidence float64           `json:"current_confidence"`
	ConfidenceGained  float64           `json:"confidence_gained"`
	EvidenceCount     int               `json:"evidence_count"`
}

// GetStatistics assembles a Statistics summary for session, reading hops,
// evidence, and the cost ledger (the ledger is authoritative for total
// cost; Session.AccumulatedCost is a denormalized mirror kept in sync by
// AdvanceHop, per spec §3).
func (db *DB) GetStatistics(ctx context.Context, sessionID uuid.UUID) (Statistics, error) {
	session, err := db.GetSession(ctx, sessionID)
	if err != nil {
		return Statistics{}, err
	}
	hops, err := db.ListHops(ctx, sessionID)
	if err != nil {
		return Statistics{}, err
	}
	ledger, err := db.ListCostLedger(ctx, sessionID)
	if err != nil {
		return Statistics{}, err
	}

	stats := Statistics{
		SessionID:         sessionID,
		HopCount:          len(hops),
		InitialConfidence: session.InitialConfidence,
		CurrentConfidence: session.CurrentConfidence,
		ConfidenceGained:  session.CurrentConfidence - session.InitialConfidence,
		CostByProvider:    make(map[string]float64),
	}
	for _, entry := range ledger {
		stats.TotalCost += entry.Total
		stats.CostByProvider[entry.Provider] += entry.Total
	}
	for _, h := range hops {
		stats.EvidenceCount += len(h.Evidence)
	}
	return stats, nil
}
