package model

import (
	"time"

	"github.com/google/uuid"
)

// Depth is a preset that maps query ambition to (max hops, confidence target).
type Depth string

const (
	DepthQuick      Depth = "quick"
	DepthStandard   Depth = "standard"
	DepthDeep       Depth = "deep"
	DepthExhaustive Depth = "exhaustive"
)

// DepthProfile holds the (max_hops, confidence_target) pair for a Depth.
type DepthProfile struct {
	MaxHops          int
	ConfidenceTarget float64
}

// DepthProfiles is the depth → (max_hops, confidence_target) mapping from
// the research orchestrator's spec.
var DepthProfiles = map[Depth]DepthProfile{
	DepthQuick:      {MaxHops: 1, ConfidenceTarget: 0.60},
	DepthStandard:   {MaxHops: 3, ConfidenceTarget: 0.75},
	DepthDeep:       {MaxHops: 5, ConfidenceTarget: 0.85},
	DepthExhaustive: {MaxHops: 8, ConfidenceTarget: 0.90},
}

// SessionStatus is the session's position in the state machine of §4.8:
// planning → searching → analyzing → validating → (searching | complete | error),
// with cancelled reachable from any non-terminal state.
type SessionStatus string

const (
	StatusPlanning   SessionStatus = "planning"
	StatusSearching  SessionStatus = "searching"
	StatusAnalyzing  SessionStatus = "analyzing"
	StatusValidating SessionStatus = "validating"
	StatusComplete   SessionStatus = "complete"
	StatusError      SessionStatus = "error"
	StatusCancelled  SessionStatus = "cancelled"
)

// Terminal reports whether status accepts no further hops.
func (s SessionStatus) Terminal() bool {
	return s == StatusComplete || s == StatusError || s == StatusCancelled
}

// Resumable is the set of states eligible for resume (non-terminal,
// in-progress states).
var Resumable = map[SessionStatus]bool{
	StatusPlanning:   true,
	StatusSearching:  true,
	StatusAnalyzing:  true,
	StatusValidating: true,
}

// validTransitions enumerates the state machine's legal edges. Used by
// storage.UpdateStatus to reject illegal transitions before writing.
var validTransitions = map[SessionStatus]map[SessionStatus]bool{
	StatusPlanning:   {StatusSearching: true, StatusCancelled: true, StatusError: true},
	StatusSearching:  {StatusAnalyzing: true, StatusComplete: true, StatusError: true, StatusCancelled: true},
	StatusAnalyzing:  {StatusValidating: true, StatusComplete: true, StatusError: true, StatusCancelled: true},
	StatusValidating: {StatusSearching: true, StatusComplete: true, StatusError: true, StatusCancelled: true},
}

// CanTransition reports whether moving from `from` to `to` is a legal edge
// of the session state machine.
func CanTransition(from, to SessionStatus) bool {
	if from.Terminal() {
		return false
	}
	return validTransitions[from][to]
}

// Session is one execution of the research orchestrator.
type Session struct {
	ID                uuid.UUID     `json:"id"`
	TopicID           uuid.UUID     `json:"topic_id"`
	Query             string        `json:"query"`
	Depth             Depth         `json:"depth"`
	Status            SessionStatus `json:"status"`
	BudgetLimit       float64       `json:"budget_limit"`
	AccumulatedCost   float64       `json:"accumulated_cost"`
	InitialConfidence float64       `json:"initial_confidence"`
	CurrentConfidence float64       `json:"current_confidence"`
	CurrentHop        int           `json:"current_hop"`
	MaxHops           int           `json:"max_hops"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
	CompletedAt       *time.Time    `json:"completed_at,omitempty"`
}

// ConfidenceTarget returns the confidence target for the session's depth.
func (s Session) ConfidenceTarget() float64 {
	return DepthProfiles[s.Depth].ConfidenceTarget
}
