package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/aris-project/aris/internal/model"
)

// ExportedHop is one hop within a session export, per spec §6's export
// format: {hop_number, query, evidence, confidence_before, confidence_after, cost}.
type ExportedHop struct {
	HopNumber        int             `json:"hop_number"`
	Query            string          `json:"query"`
	Evidence         []model.Evidence `json:"evidence"`
	ConfidenceBefore float64         `json:"confidence_before"`
	ConfidenceAfter  float64         `json:"confidence_after"`
	Cost             float64         `json:"cost"`
}

// Export is the full JSON payload produced by `session export` and
// consumed by re-import for the round-trip testable property (spec §8).
type Export struct {
	Session          model.Session          `json:"session"`
	Hops             []ExportedHop          `json:"hops"`
	CostLedger       []model.CostLedgerEntry `json:"cost_ledger"`
	FinalDocumentID  *uuid.UUID             `json:"final_document_id,omitempty"`
}

// ExportSession assembles the full export payload for sessionID: the
// session row, its hops (each with evidence and cost), and the cost ledger
// (the ledger is carried separately so round-trip import can restore it
// byte-for-byte rather than recomputing it from per-hop totals).
func (db *DB) ExportSession(ctx context.Context, sessionID uuid.UUID) (Export, error) {
	session, err := db.GetSession(ctx, sessionID)
	if err != nil {
		return Export{}, err
	}
	hops, err := db.ListHops(ctx, sessionID)
	if err != nil {
		return Export{}, err
	}
	ledger, err := db.ListCostLedger(ctx, sessionID)
	if err != nil {
		return Export{}, err
	}

	exportedHops := make([]ExportedHop, len(hops))
	for i, h := range hops {
		exportedHops[i] = ExportedHop{
			HopNumber:        h.HopNumber,
			Query:            h.Query,
			Evidence:         h.Evidence,
			ConfidenceBefore: h.ConfidenceBefore,
			ConfidenceAfter:  h.ConfidenceAfter,
			Cost:             h.Cost(),
		}
	}

	var finalDocID *uuid.UUID
	docs, err := db.ListDocumentsByTopic(ctx, session.TopicID)
	if err == nil {
		for _, d := range docs {
			if d.CreatedAt.After(session.CreatedAt) || d.UpdatedAt.After(session.CreatedAt) {
				id := d.ID
				finalDocID = &id
				break
			}
		}
	}

	return Export{
		Session:         session,
		Hops:            exportedHops,
		CostLedger:      ledger,
		FinalDocumentID: finalDocID,
	}, nil
}

// ExportSessionJSON marshals ExportSession's result to indented JSON, the
// exact format emitted by the `session export` CLI command (spec §6).
func (db *DB) ExportSessionJSON(ctx context.Context, sessionID uuid.UUID) ([]byte, error) {
	export, err := db.ExportSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("storage: marshal export: %w", err)
	}
	return data, nil
}

// ImportSession re-creates a session, its hops/evidence, and its cost
// ledger entries from a previously exported payload, under a topic the
// caller has already resolved. Used by the export/re-import round-trip
// testable property (spec §8): re-importing must yield an identical
// session, hops, evidence, and cost ledger modulo timestamps, so ImportSession
// preserves the original session ID rather than minting a new one.
func (db *DB) ImportSession(ctx context.Context, topicID uuid.UUID, export Export) (model.Session, error) {
	session := export.Session
	session.TopicID = topicID
	session.AccumulatedCost = 0
	session, err := db.CreateSession(ctx, session)
	if err != nil {
		return model.Session{}, fmt.Errorf("storage: import session: %w", err)
	}

	for _, h := range export.Hops {
		hop := model.Hop{
			SessionID:        session.ID,
			HopNumber:        h.HopNumber,
			Query:            h.Query,
			Evidence:         h.Evidence,
			ConfidenceBefore: h.ConfidenceBefore,
			ConfidenceAfter:  h.ConfidenceAfter,
		}
		if _, err := db.CreateHop(ctx, hop); err != nil {
			return model.Session{}, fmt.Errorf("storage: import hop %d: %w", h.HopNumber, err)
		}
	}

	var totalCost float64
	for _, entry := range export.CostLedger {
		entry.SessionID = session.ID
		if err := db.AppendCostEntry(ctx, entry); err != nil {
			return model.Session{}, fmt.Errorf("storage: import cost ledger entry: %w", err)
		}
		totalCost += entry.Total
	}

	if err := db.AdvanceHop(ctx, session.ID, session.CurrentHop, session.CurrentConfidence, totalCost); err != nil {
		return model.Session{}, fmt.Errorf("storage: import restore accumulated cost: %w", err)
	}
	session.AccumulatedCost = totalCost
	return session, nil
}
