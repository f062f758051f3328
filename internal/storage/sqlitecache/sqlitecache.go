// Package sqlitecache maintains a local, file-based mirror of each
// session's resumability state, alongside the authoritative Postgres store
// (internal/storage). Grounded on the teacher's choice of modernc.org/sqlite
// (a pure-Go, cgo-free SQLite driver) — the teacher's own go.mod lists it
// but nothing in its source ever opens a database with it. ARIS gives the
// dependency a home: the CLI's `session list --resumable` answers "what can
// I resume?" from a small local cache keyed by the data directory path
// (spec §6: "Data directory configurable; defaults under the current
// working directory"). The CLI refreshes the cache from Postgres (through
// Reconcile) before each such read, so a read still needs the database.
//
// The cache is best-effort and disposable: every row here is a projection
// of a Postgres row. Postgres remains the single source of truth; if the
// cache file is deleted, it is rebuilt transparently from the next
// Reconcile call.
package sqlitecache

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aris-project/aris/internal/model"
)

// Cache wraps a local SQLite database file tracking resumable sessions.
type Cache struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS resumable_sessions (
	id         TEXT PRIMARY KEY,
	topic_id   TEXT NOT NULL,
	query      TEXT NOT NULL,
	status     TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`

// FileName is the conventional cache file name under a data directory.
const FileName = "resumable.db"

// Open opens (creating if necessary) the SQLite cache at dataDir/resumable.db.
func Open(dataDir string) (*Cache, error) {
	path := filepath.Join(dataDir, FileName)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitecache: open %q: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitecache: create schema: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Upsert records session's resumability projection, replacing any prior
// row for the same ID. Nothing in ARIS calls it at present; the CLI fills
// the cache through Reconcile.
func (c *Cache) Upsert(ctx context.Context, s model.Session) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO resumable_sessions (id, topic_id, query, status, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET topic_id=excluded.topic_id, query=excluded.query,
		   status=excluded.status, updated_at=excluded.updated_at`,
		s.ID.String(), s.TopicID.String(), s.Query, string(s.Status), s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlitecache: upsert session %s: %w", s.ID, err)
	}
	return nil
}

// Remove drops the cached row for a session. The CLI calls it when a
// session is deleted.
func (c *Cache) Remove(ctx context.Context, id uuid.UUID) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM resumable_sessions WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("sqlitecache: remove session %s: %w", id, err)
	}
	return nil
}

// CachedSession is a lightweight local projection of a resumable session.
type CachedSession struct {
	ID        uuid.UUID
	TopicID   uuid.UUID
	Query     string
	Status    model.SessionStatus
	UpdatedAt time.Time
}

// ListResumable returns locally-cached sessions idle for at least
// gracePeriod, mirroring internal/storage.DB.ListResumable's filter but
// answerable without a database round trip.
func (c *Cache) ListResumable(ctx context.Context, gracePeriod time.Duration) ([]CachedSession, error) {
	cutoff := time.Now().UTC().Add(-gracePeriod)
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, topic_id, query, status, updated_at FROM resumable_sessions
		 WHERE status IN ('planning', 'searching', 'analyzing', 'validating') AND updated_at <= ?
		 ORDER BY updated_at ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("sqlitecache: list resumable: %w", err)
	}
	defer rows.Close()

	var out []CachedSession
	for rows.Next() {
		var idStr, topicStr, query, status string
		var updatedAt time.Time
		if err := rows.Scan(&idStr, &topicStr, &query, &status, &updatedAt); err != nil {
			return nil, fmt.Errorf("sqlitecache: scan row: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("sqlitecache: parse session id %q: %w", idStr, err)
		}
		topicID, err := uuid.Parse(topicStr)
		if err != nil {
			return nil, fmt.Errorf("sqlitecache: parse topic id %q: %w", topicStr, err)
		}
		out = append(out, CachedSession{
			ID:        id,
			TopicID:   topicID,
			Query:     query,
			Status:    model.SessionStatus(status),
			UpdatedAt: updatedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitecache: list resumable: %w", err)
	}
	return out, nil
}

// Reconcile replaces the cache's contents with sessions, the authoritative
// list fetched from Postgres. Used to rebuild the cache from scratch (e.g.
// after the file was deleted) or to refresh it periodically.
func (c *Cache) Reconcile(ctx context.Context, sessions []model.Session) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitecache: begin reconcile tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM resumable_sessions`); err != nil {
		return fmt.Errorf("sqlitecache: clear cache: %w", err)
	}
	for _, s := range sessions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO resumable_sessions (id, topic_id, query, status, updated_at) VALUES (?, ?, ?, ?, ?)`,
			s.ID.String(), s.TopicID.String(), s.Query, string(s.Status), s.UpdatedAt); err != nil {
			return fmt.Errorf("sqlitecache: insert session %s: %w", s.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlitecache: commit reconcile: %w", err)
	}
	return nil
}
