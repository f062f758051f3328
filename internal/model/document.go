package model

import (
	"time"

	"github.com/google/uuid"
)

// DocumentStatus is the lifecycle state of a Document.
type DocumentStatus string

const (
	DocumentDraft      DocumentStatus = "draft"
	DocumentPublished  DocumentStatus = "published"
	DocumentSuperseded DocumentStatus = "superseded"
)

// Document is the durable research artifact produced by a session and
// classified by the deduplication gate.
type Document struct {
	ID          uuid.UUID      `json:"id"`
	TopicID     uuid.UUID      `json:"topic_id"`
	Title       string         `json:"title"`
	Body        string         `json:"body"`
	Status      DocumentStatus `json:"status"`
	ContentHash string         `json:"content_hash"`
	Slug        string         `json:"slug"`
	Tags        []string       `json:"tags"`
	GitCommit   string         `json:"git_commit"`
	Embedding   []float32      `json:"-"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// GateDecision is the outcome of the deduplication gate.
type GateDecision string

const (
	GateCreate GateDecision = "CREATE"
	GateMerge  GateDecision = "MERGE"
	GateUpdate GateDecision = "UPDATE"
)

// CostLedgerEntry is an append-only record of spend for one hop's call to
// one provider. Immutable once written; the sum over a session's entries is
// the authoritative source for Session.AccumulatedCost.
type CostLedgerEntry struct {
	ID        int64     `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	HopNumber int       `json:"hop_number"`
	Provider  string    `json:"provider"`
	Units     float64   `json:"units"`
	UnitCost  float64   `json:"unit_cost"`
	Total     float64   `json:"total"`
	CreatedAt time.Time `json:"created_at"`
}
