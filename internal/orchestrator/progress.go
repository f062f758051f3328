package orchestrator

import (
	"github.com/google/uuid"

	"github.com/aris-project/aris/internal/cost"
	"github.com/aris-project/aris/internal/model"
)

// EventKind discriminates ProgressEvent payloads.
type EventKind string

const (
	// EventStageChanged fires on each transition to searching, analyzing,
	// validating, complete, or cancelled. Transitions to error emit no event.
	EventStageChanged EventKind = "stage_changed"
	// EventBudgetCheck fires after each pre-hop authorization check,
	// carrying whatever WarningLevel the cost manager returned.
	EventBudgetCheck EventKind = "budget_check"
	// EventHopComplete fires once a hop's evidence, synthesis, and cost
	// entries have all been recorded.
	EventHopComplete EventKind = "hop_complete"
)

// ProgressEvent is published once per session state transition or hop
// checkpoint, adapted from go-research's events.Bus pub/sub model to an
// in-process channel: ARIS has no HTTP server to fan events out to, so Run
// publishes directly to a channel supplied by the caller (a CLI progress
// bar, an MCP tool streaming partial output, or nothing at all).
type ProgressEvent struct {
	Kind       EventKind
	SessionID  uuid.UUID
	HopNumber  int
	Stage      model.SessionStatus
	Warning    cost.WarningLevel
	Confidence float64
}
