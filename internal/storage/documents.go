package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aris-project/aris/internal/dedupe"
	"github.com/aris-project/aris/internal/model"
)

// CreateDocument inserts a document and queues a vector_outbox upsert entry
// in the same transaction, mirroring the teacher's CreateDecision pattern:
// the data write and the index-sync intent happen together or not at all.
func (db *DB) CreateDocument(ctx context.Context, d model.Document) (model.Document, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Document{}, fmt.Errorf("storage: begin create document tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO documents (id, topic_id, title, status, content_hash, slug, git_commit,
		 tags, embedding, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		d.ID, d.TopicID, d.Title, d.Status, d.ContentHash, d.Slug, d.GitCommit,
		d.Tags, d.Embedding, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return model.Document{}, fmt.Errorf("storage: create document: %w", err)
	}

	if err := enqueueVectorOutbox(ctx, tx, d.ID, d.TopicID, "upsert"); err != nil {
		return model.Document{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Document{}, fmt.Errorf("storage: commit create document: %w", err)
	}
	return d, nil
}

// UpdateDocument overwrites a document's mutable fields (used by MERGE and
// UPDATE gate decisions) and re-queues a vector_outbox upsert, atomically.
func (db *DB) UpdateDocument(ctx context.Context, d model.Document) (model.Document, error) {
	d.UpdatedAt = time.Now().UTC()

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Document{}, fmt.Errorf("storage: begin update document tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE documents SET title = $1, status = $2, content_hash = $3, git_commit = $4,
		 tags = $5, embedding = $6, updated_at = $7 WHERE id = $8`,
		d.Title, d.Status, d.ContentHash, d.GitCommit, d.Tags, d.Embedding, d.UpdatedAt, d.ID)
	if err != nil {
		return model.Document{}, fmt.Errorf("storage: update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.Document{}, fmt.Errorf("storage: update document %s: %w", d.ID, ErrNotFound)
	}

	if err := enqueueVectorOutbox(ctx, tx, d.ID, d.TopicID, "upsert"); err != nil {
		return model.Document{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Document{}, fmt.Errorf("storage: commit update document: %w", err)
	}
	return d, nil
}

// DeleteDocument removes a document row and queues a vector_outbox delete
// entry, atomically.
func (db *DB) DeleteDocument(ctx context.Context, id, topicID uuid.UUID) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin delete document tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: delete document %s: %w", id, ErrNotFound)
	}

	if err := enqueueVectorOutbox(ctx, tx, id, topicID, "delete"); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit delete document: %w", err)
	}
	return nil
}

// SupersedeDocument marks a document superseded by supersededBy, re-queuing
// a vector_outbox upsert so the index's published-only filter (see
// internal/vectorindex.Index.Search) stops surfacing it as a dedup
// neighbor. Implements the `superseded` lifecycle state spec §9 flags as
// "included here for completeness" — reachable explicitly rather than left
// dead.
func (db *DB) SupersedeDocument(ctx context.Context, id, supersededBy uuid.UUID) error {
	d, err := db.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	d.Status = model.DocumentSuperseded
	_, err = db.UpdateDocument(ctx, d)
	if err != nil {
		return fmt.Errorf("storage: supersede document %s (by %s): %w", id, supersededBy, err)
	}
	return nil
}

func enqueueVectorOutbox(ctx context.Context, tx pgx.Tx, documentID, topicID uuid.UUID, operation string) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO vector_outbox (document_id, topic_id, operation) VALUES ($1, $2, $3)
		 ON CONFLICT (document_id, operation) DO UPDATE SET attempts = 0, last_error = NULL, locked_until = NULL`,
		documentID, topicID, operation)
	if err != nil {
		return fmt.Errorf("storage: queue vector outbox %s for document %s: %w", operation, documentID, err)
	}
	return nil
}

// GetDocument loads a document by ID.
func (db *DB) GetDocument(ctx context.Context, id uuid.UUID) (model.Document, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT id, topic_id, title, status, content_hash, slug, git_commit, tags, embedding, created_at, updated_at
		 FROM documents WHERE id = $1`, id)
	var d model.Document
	if err := row.Scan(&d.ID, &d.TopicID, &d.Title, &d.Status, &d.ContentHash, &d.Slug, &d.GitCommit,
		&d.Tags, &d.Embedding, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Document{}, fmt.Errorf("storage: get document %s: %w", id, ErrNotFound)
		}
		return model.Document{}, fmt.Errorf("storage: get document %s: %w", id, err)
	}
	return d, nil
}

// ListDocumentsByTopic returns every document owned by a topic, newest
// first. Used by the deduplication gate's lexical fallback
// (internal/dedupe.NeighborLister) when the embedding provider is down.
func (db *DB) ListDocumentsByTopic(ctx context.Context, topicID uuid.UUID) ([]model.Document, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, topic_id, title, status, content_hash, slug, git_commit, tags, embedding, created_at, updated_at
		 FROM documents WHERE topic_id = $1 ORDER BY created_at DESC`, topicID)
	if err != nil {
		return nil, fmt.Errorf("storage: list documents for topic %s: %w", topicID, err)
	}
	defer rows.Close()

	var documents []model.Document
	for rows.Next() {
		var d model.Document
		if err := rows.Scan(&d.ID, &d.TopicID, &d.Title, &d.Status, &d.ContentHash, &d.Slug, &d.GitCommit,
			&d.Tags, &d.Embedding, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan document: %w", err)
		}
		documents = append(documents, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list documents for topic %s: %w", topicID, err)
	}
	return documents, nil
}

// ListByTopic implements dedupe.NeighborLister directly against Postgres:
// the gate's lexical fallback path uses this to enumerate dedup candidates
// when the embedding provider is unavailable.
func (db *DB) ListByTopic(ctx context.Context, topicID uuid.UUID) ([]dedupe.NeighborDoc, error) {
	docs, err := db.ListDocumentsByTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}
	out := make([]dedupe.NeighborDoc, len(docs))
	for i, d := range docs {
		out[i] = dedupe.NeighborDoc{ID: d.ID, Title: d.Title, Body: d.Body}
	}
	return out, nil
}
