// Package model defines the core domain types for ARIS.
//
// Types correspond directly to the database tables defined in
// migrations/001_initial.sql and the export/import JSON payloads. Types use
// strong typing (UUIDs, time.Time, enums) and avoid interface{} wherever
// possible.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Topic is a long-lived clustering anchor for related research. It owns
// zero or more Documents and zero or more Sessions; deletion cascades.
type Topic struct {
	ID        uuid.UUID `json:"id"`
	Label     string    `json:"label"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
}
