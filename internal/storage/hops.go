package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aris-project/aris/internal/model"
)

// CreateHop inserts a hop record and its evidence in a single transaction,
// so a crash partway through never leaves evidence orphaned from its hop.
func (db *DB) CreateHop(ctx context.Context, h model.Hop) (model.Hop, error) {
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Hop{}, fmt.Errorf("storage: begin create hop tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO hops (session_id, hop_number, query, confidence_before, confidence_after,
		 search_cost, reasoning_cost, reasoning_tokens, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		h.SessionID, h.HopNumber, h.Query, h.ConfidenceBefore, h.ConfidenceAfter,
		h.SearchCost, h.ReasoningCost, h.ReasoningTokens, h.CreatedAt)
	if err != nil {
		return model.Hop{}, fmt.Errorf("storage: create hop: %w", err)
	}

	for i := range h.Evidence {
		e := &h.Evidence[i]
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		if e.RetrievedAt.IsZero() {
			e.RetrievedAt = h.CreatedAt
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO evidence (id, session_id, hop_number, source_url, title, excerpt,
			 relevance_score, content_hash, retrieved_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			e.ID, h.SessionID, h.HopNumber, e.SourceURL, e.Title, e.Excerpt,
			e.RelevanceScore, e.ContentHash, e.RetrievedAt)
		if err != nil {
			return model.Hop{}, fmt.Errorf("storage: create evidence for hop %d: %w", h.HopNumber, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Hop{}, fmt.Errorf("storage: commit create hop: %w", err)
	}
	return h, nil
}

// ListHops returns every hop recorded for a session, ordered by hop number,
// each populated with its evidence.
func (db *DB) ListHops(ctx context.Context, sessionID uuid.UUID) ([]model.Hop, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT session_id, hop_number, query, confidence_before, confidence_after,
		 search_cost, reasoning_cost, reasoning_tokens, created_at
		 FROM hops WHERE session_id = $1 ORDER BY hop_number ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("storage: list hops: %w", err)
	}
	defer rows.Close()

	var hops []model.Hop
	for rows.Next() {
		var h model.Hop
		if err := rows.Scan(&h.SessionID, &h.HopNumber, &h.Query, &h.ConfidenceBefore, &h.ConfidenceAfter,
			&h.SearchCost, &h.ReasoningCost, &h.ReasoningTokens, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan hop: %w", err)
		}
		hops = append(hops, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list hops: %w", err)
	}

	for i := range hops {
		evidence, err := db.listEvidence(ctx, sessionID, hops[i].HopNumber)
		if err != nil {
			return nil, err
		}
		hops[i].Evidence = evidence
	}
	return hops, nil
}

func (db *DB) listEvidence(ctx context.Context, sessionID uuid.UUID, hopNumber int) ([]model.Evidence, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, source_url, title, excerpt, relevance_score, content_hash, retrieved_at
		 FROM evidence WHERE session_id = $1 AND hop_number = $2 ORDER BY relevance_score DESC`,
		sessionID, hopNumber)
	if err != nil {
		return nil, fmt.Errorf("storage: list evidence for hop %d: %w", hopNumber, err)
	}
	defer rows.Close()

	var evidence []model.Evidence
	for rows.Next() {
		var e model.Evidence
		var contentHash *string
		if err := rows.Scan(&e.ID, &e.SourceURL, &e.Title, &e.Excerpt, &e.RelevanceScore, &contentHash, &e.RetrievedAt); err != nil {
			return nil, fmt.Errorf("storage: scan evidence: %w", err)
		}
		if contentHash != nil {
			e.ContentHash = *contentHash
		}
		evidence = append(evidence, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list evidence for hop %d: %w", hopNumber, err)
	}
	return evidence, nil
}
