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

// CreateTopic inserts a new topic, generating an ID if one isn't set.
func (db *DB) CreateTopic(ctx context.Context, t model.Topic) (model.Topic, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO topics (id, label, slug, created_at) VALUES ($1, $2, $3, $4)`,
		t.ID, t.Label, t.Slug, t.CreatedAt)
	if err != nil {
		return model.Topic{}, fmt.Errorf("storage: create topic: %w", err)
	}
	return t, nil
}

// GetTopic loads a topic by ID.
func (db *DB) GetTopic(ctx context.Context, id uuid.UUID) (model.Topic, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT id, label, slug, created_at FROM topics WHERE id = $1`, id)
	var t model.Topic
	if err := row.Scan(&t.ID, &t.Label, &t.Slug, &t.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Topic{}, fmt.Errorf("storage: get topic %s: %w", id, ErrNotFound)
		}
		return model.Topic{}, fmt.Errorf("storage: get topic %s: %w", id, err)
	}
	return t, nil
}

// GetTopicBySlug loads a topic by its unique slug.
func (db *DB) GetTopicBySlug(ctx context.Context, slug string) (model.Topic, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT id, label, slug, created_at FROM topics WHERE slug = $1`, slug)
	var t model.Topic
	if err := row.Scan(&t.ID, &t.Label, &t.Slug, &t.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Topic{}, fmt.Errorf("storage: get topic by slug %q: %w", slug, ErrNotFound)
		}
		return model.Topic{}, fmt.Errorf("storage: get topic by slug %q: %w", slug, err)
	}
	return t, nil
}

// ListTopics returns all topics ordered by creation time, newest first.
func (db *DB) ListTopics(ctx context.Context) ([]model.Topic, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, label, slug, created_at FROM topics ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("storage: list topics: %w", err)
	}
	defer rows.Close()

	var topics []model.Topic
	for rows.Next() {
		var t model.Topic
		if err := rows.Scan(&t.ID, &t.Label, &t.Slug, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan topic: %w", err)
		}
		topics = append(topics, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list topics: %w", err)
	}
	return topics, nil
}

// DeleteTopic removes a topic and cascades to its sessions and documents.
func (db *DB) DeleteTopic(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM topics WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete topic %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: delete topic %s: %w", id, ErrNotFound)
	}
	return nil
}
