// Package dedupe implements the Deduplication Gate: given a freshly
// synthesized candidate document, it classifies the action as CREATE,
// MERGE, or UPDATE relative to existing documents in the same topic.
// Grounded on akashi's internal/conflicts package (Scorer/Validator):
// the same threshold-classification shape over a similarity score, with
// the LLM-confirmation step replaced by a deterministic boundary test per
// spec §4.5, and an embedding-outage fallback path the teacher does not
// need (akashi always has pgvector embeddings available at write time).
package dedupe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/aris-project/aris/internal/embedding"
	"github.com/aris-project/aris/internal/errs"
	"github.com/aris-project/aris/internal/model"
	"github.com/aris-project/aris/internal/vectorindex"
)

// Threshold values from spec §4.5. Boundary-inclusive: a score exactly at a
// threshold takes the stronger action (0.70 -> MERGE, 0.85 -> UPDATE).
const (
	UpdateThreshold = 0.85
	MergeThreshold  = 0.70
	// LexicalBias widens the CREATE zone when falling back to lexical
	// similarity, since that signal is weaker than embedding cosine
	// similarity.
	LexicalBias = 0.05
)

// Classify maps score to a gate decision given explicit thresholds, so the
// lexical fallback path can widen them without duplicating the comparison
// logic.
func Classify(score, mergeThreshold, updateThreshold float64) model.GateDecision {
	switch {
	case score >= updateThreshold:
		return model.GateUpdate
	case score >= mergeThreshold:
		return model.GateMerge
	default:
		return model.GateCreate
	}
}

// NeighborDoc is an existing document considered as a dedup candidate.
type NeighborDoc struct {
	ID    uuid.UUID
	Title string
	Body  string
}

// NeighborLister lists existing documents for a topic. Used only on the
// lexical fallback path, where there is no embedding to drive a vector
// search.
type NeighborLister interface {
	ListByTopic(ctx context.Context, topicID uuid.UUID) ([]NeighborDoc, error)
}

// Candidate is the assembled research output handed to the gate.
type Candidate struct {
	Title string
	Body  string
}

// Decision is the gate's classification output.
type Decision struct {
	Action     model.GateDecision
	NeighborID *uuid.UUID
	Score      float64
	Degraded   bool
}

// Gate classifies candidate documents against the topic's existing
// documents.
type Gate struct {
	embedder embedding.Provider
	index    *vectorindex.Index
	lister   NeighborLister
	locks    *TopicLocks
	logger   *slog.Logger
}

// NewGate creates a Gate. lister may be nil, in which case the lexical
// fallback path always returns CREATE (no way to enumerate neighbors).
func NewGate(embedder embedding.Provider, index *vectorindex.Index, lister NeighborLister, logger *slog.Logger) *Gate {
	return &Gate{
		embedder: embedder,
		index:    index,
		lister:   lister,
		locks:    NewTopicLocks(),
		logger:   logger,
	}
}

// Embedder returns the embedding provider the gate was constructed with, so
// callers that need to embed text outside the gate's own Decide path (e.g.
// the orchestrator embedding a merged document body) can reuse the same
// provider instance rather than constructing a second one.
func (g *Gate) Embedder() embedding.Provider {
	return g.embedder
}

// Decide classifies candidate against existing documents in topicID.
// Decide serializes concurrent callers on the same topic (spec's resolved
// Open Question: UPDATE is serialized per topic) so two in-flight sessions
// targeting the same topic never both see a stale CREATE verdict.
func (g *Gate) Decide(ctx context.Context, topicID uuid.UUID, candidate Candidate) (Decision, error) {
	g.locks.Lock(topicID)
	defer g.locks.Unlock(topicID)

	text := candidate.Title + "\n\n" + candidate.Body

	vec, embedErr := g.embedder.Embed(ctx, text)
	if embedErr == nil {
		return g.decideByVector(ctx, topicID, vec)
	}
	if !errors.Is(embedErr, errs.ErrEmbeddingUnavailable) {
		return Decision{}, fmt.Errorf("dedupe: embed candidate: %w", embedErr)
	}

	g.logger.Warn("dedupe: embedding unavailable, degrading to lexical similarity", "topic_id", topicID)
	return g.decideByLexical(ctx, topicID, candidate)
}

func (g *Gate) decideByVector(ctx context.Context, topicID uuid.UUID, vec []float32) (Decision, error) {
	results, err := g.index.Search(ctx, &topicID, vec, true, 1)
	if err != nil {
		return Decision{}, fmt.Errorf("dedupe: vector search: %w", err)
	}
	if len(results) == 0 {
		return Decision{Action: model.GateCreate}, nil
	}

	top := results[0]
	score := float64(top.Score)
	action := Classify(score, MergeThreshold, UpdateThreshold)
	if action == model.GateCreate {
		return Decision{Action: action, Score: score}, nil
	}
	id := top.DocumentID
	return Decision{Action: action, NeighborID: &id, Score: score}, nil
}

func (g *Gate) decideByLexical(ctx context.Context, topicID uuid.UUID, candidate Candidate) (Decision, error) {
	if g.lister == nil {
		return Decision{Action: model.GateCreate, Degraded: true}, nil
	}
	neighbors, err := g.lister.ListByTopic(ctx, topicID)
	if err != nil {
		return Decision{}, fmt.Errorf("dedupe: list neighbors: %w", err)
	}
	if len(neighbors) == 0 {
		return Decision{Action: model.GateCreate, Degraded: true}, nil
	}

	candidateText := candidate.Title + "\n\n" + candidate.Body
	bestScore := -1.0
	var best NeighborDoc
	for _, n := range neighbors {
		score := LexicalSimilarity(candidateText, n.Title+"\n\n"+n.Body)
		if score > bestScore {
			bestScore = score
			best = n
		}
	}

	action := Classify(bestScore, MergeThreshold+LexicalBias, UpdateThreshold+LexicalBias)
	if action == model.GateCreate {
		return Decision{Action: action, Score: bestScore, Degraded: true}, nil
	}
	id := best.ID
	return Decision{Action: action, NeighborID: &id, Score: bestScore, Degraded: true}, nil
}
