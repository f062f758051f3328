package model

import (
	"time"

	"github.com/google/uuid"
)

// Evidence is a single retrieved item, owned by a Hop. Not independently
// addressable outside of its owning hop.
type Evidence struct {
	ID             uuid.UUID `json:"id"`
	SourceURL      string    `json:"source_url"`
	Title          string    `json:"title"`
	Excerpt        string    `json:"excerpt"`
	RelevanceScore float64   `json:"relevance_score"`
	ContentHash    string    `json:"content_hash,omitempty"`
	RetrievedAt    time.Time `json:"retrieved_at"`
}

// Hop is one plan→search→analyze iteration within a session.
type Hop struct {
	SessionID        uuid.UUID  `json:"session_id"`
	HopNumber        int        `json:"hop_number"`
	Query            string     `json:"query"`
	Evidence         []Evidence `json:"evidence"`
	ConfidenceBefore float64    `json:"confidence_before"`
	ConfidenceAfter  float64    `json:"confidence_after"`
	SearchCost       float64    `json:"search_cost"`
	ReasoningCost    float64    `json:"reasoning_cost"`
	ReasoningTokens  int        `json:"reasoning_tokens"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Cost is the total cost incurred by the hop (search + reasoning).
func (h Hop) Cost() float64 {
	return h.SearchCost + h.ReasoningCost
}
