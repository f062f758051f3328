package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aris-project/aris/internal/model"
)

// CreateSession inserts a new session in StatusPlanning.
func (db *DB) CreateSession(ctx context.Context, s model.Session) (model.Session, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	if s.Status == "" {
		s.Status = model.StatusPlanning
	}
	if s.MaxHops == 0 {
		s.MaxHops = model.DepthProfiles[s.Depth].MaxHops
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO sessions (id, topic_id, query, depth, status, budget_limit, accumulated_cost,
		 initial_confidence, current_confidence, current_hop, max_hops, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		s.ID, s.TopicID, s.Query, s.Depth, s.Status, s.BudgetLimit, s.AccumulatedCost,
		s.InitialConfidence, s.CurrentConfidence, s.CurrentHop, s.MaxHops, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return model.Session{}, fmt.Errorf("storage: create session: %w", err)
	}
	return s, nil
}

// GetSession loads a session by ID.
func (db *DB) GetSession(ctx context.Context, id uuid.UUID) (model.Session, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT id, topic_id, query, depth, status, budget_limit, accumulated_cost,
		 initial_confidence, current_confidence, current_hop, max_hops, created_at, updated_at, completed_at
		 FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

// ListSessions returns sessions ordered by creation time, newest first,
// optionally filtered to a single topic when topicID is non-nil.
func (db *DB) ListSessions(ctx context.Context, topicID *uuid.UUID) ([]model.Session, error) {
	query := `SELECT id, topic_id, query, depth, status, budget_limit, accumulated_cost,
		initial_confidence, current_confidence, current_hop, max_hops, created_at, updated_at, completed_at
		FROM sessions`
	args := []any{}
	if topicID != nil {
		query += ` WHERE topic_id = $1`
		args = append(args, *topicID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list sessions: %w", err)
	}
	return sessions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (model.Session, error) {
	var s model.Session
	err := row.Scan(&s.ID, &s.TopicID, &s.Query, &s.Depth, &s.Status, &s.BudgetLimit, &s.AccumulatedCost,
		&s.InitialConfidence, &s.CurrentConfidence, &s.CurrentHop, &s.MaxHops, &s.CreatedAt, &s.UpdatedAt, &s.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Session{}, fmt.Errorf("storage: get session: %w", ErrNotFound)
		}
		return model.Session{}, fmt.Errorf("storage: scan session: %w", err)
	}
	return s, nil
}

// UpdateStatus moves a session to newStatus, rejecting the write if the
// transition isn't legal per model.CanTransition. Terminal transitions
// stamp completed_at.
func (db *DB) UpdateStatus(ctx context.Context, id uuid.UUID, newStatus model.SessionStatus) error {
	current, err := db.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if !model.CanTransition(current.Status, newStatus) {
		return fmt.Errorf("storage: illegal session transition %s -> %s: %w", current.Status, newStatus, ErrInvalidTransition)
	}

	now := time.Now().UTC()
	var completedAt *time.Time
	if newStatus.Terminal() {
		completedAt = &now
	}

	tag, err := db.pool.Exec(ctx,
		`UPDATE sessions SET status = $1, updated_at = $2, completed_at = COALESCE($3, completed_at) WHERE id = $4`,
		newStatus, now, completedAt, id)
	if err != nil {
		return fmt.Errorf("storage: update session status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: update session status %s: %w", id, ErrNotFound)
	}
	return nil
}

// AdvanceHop atomically records hop progress on a session: the new current
// hop number, confidence, and accumulated cost, retried under
// WithRetry against serialization conflicts since concurrent cost-ledger
// writes for the same session can race the row update.
func (db *DB) AdvanceHop(ctx context.Context, id uuid.UUID, hopNumber int, confidence, additionalCost float64) error {
	return WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		tag, err := db.pool.Exec(ctx,
			`UPDATE sessions SET current_hop = $1, current_confidence = $2,
			 accumulated_cost = accumulated_cost + $3, updated_at = now() WHERE id = $4`,
			hopNumber, confidence, additionalCost, id)
		if err != nil {
			return fmt.Errorf("storage: advance hop: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("storage: advance hop %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

// ListResumable returns sessions eligible for resume: status is one of the
// non-terminal states (model.Resumable) and the session hasn't been
// touched in at least gracePeriod, per spec §4.4's "Resumable = status ∈
// {planning, searching, analyzing, validating} and last update older than
// a grace period OR marked interrupted" rule. ARIS has no separate
// "interrupted" flag distinct from staleness, so a resumable session is
// simply a non-terminal one whose updated_at predates the grace window.
func (db *DB) ListResumable(ctx context.Context, gracePeriod time.Duration) ([]model.Session, error) {
	cutoff := time.Now().UTC().Add(-gracePeriod)
	rows, err := db.pool.Query(ctx,
		`SELECT id, topic_id, query, depth, status, budget_limit, accumulated_cost,
		 initial_confidence, current_confidence, current_hop, max_hops, created_at, updated_at, completed_at
		 FROM sessions
		 WHERE status IN ('planning', 'searching', 'analyzing', 'validating') AND updated_at <= $1
		 ORDER BY updated_at ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("storage: list resumable sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list resumable sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSession removes a session. cascade must be true: sessions own their
// hops and evidence (spec §3 ownership), and the schema enforces the
// cascade via ON DELETE CASCADE foreign keys, so a non-cascading delete has
// no meaning here and is rejected defensively rather than silently
// orphaning rows.
func (db *DB) DeleteSession(ctx context.Context, id uuid.UUID, cascade bool) error {
	if !cascade {
		return fmt.Errorf("storage: delete session %s without cascade: %w", id, ErrInvalidTransition)
	}
	tag, err := db.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: delete session %s: %w", id, ErrNotFound)
	}
	return nil
}
