package dedupe

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aris-project/aris/internal/errs"
	"github.com/aris-project/aris/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeUnavailableEmbedder always fails with ErrEmbeddingUnavailable, forcing
// Gate.Decide onto the lexical fallback path (spec §4.5 point 6).
type fakeUnavailableEmbedder struct{}

func (fakeUnavailableEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errs.ErrEmbeddingUnavailable
}
func (fakeUnavailableEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errs.ErrEmbeddingUnavailable
}
func (fakeUnavailableEmbedder) Dimensions() int { return 0 }

// fakeLister serves a fixed neighbor list to the lexical fallback path,
// regardless of topicID.
type fakeLister struct {
	neighbors []NeighborDoc
}

func (f fakeLister) ListByTopic(context.Context, uuid.UUID) ([]NeighborDoc, error) {
	return f.neighbors, nil
}

func TestClassifyBoundaries(t *testing.T) {
	assert.Equal(t, model.GateMerge, Classify(0.70, MergeThreshold, UpdateThreshold), "exactly at 0.70 must be MERGE")
	assert.Equal(t, model.GateUpdate, Classify(0.85, MergeThreshold, UpdateThreshold), "exactly at 0.85 must be UPDATE")
	assert.Equal(t, model.GateMerge, Classify(0.849999, MergeThreshold, UpdateThreshold))
	assert.Equal(t, model.GateCreate, Classify(0.699999, MergeThreshold, UpdateThreshold))
	assert.Equal(t, model.GateCreate, Classify(0, MergeThreshold, UpdateThreshold))
	assert.Equal(t, model.GateUpdate, Classify(1, MergeThreshold, UpdateThreshold))
}

func TestClassifyWithLexicalBiasWidensCreateZone(t *testing.T) {
	// A score that would be MERGE at the base thresholds falls back to
	// CREATE once the +0.05 lexical bias is applied.
	biasedMerge := MergeThreshold + LexicalBias
	biasedUpdate := UpdateThreshold + LexicalBias

	assert.Equal(t, model.GateCreate, Classify(0.72, biasedMerge, biasedUpdate))
	assert.Equal(t, model.GateMerge, Classify(0.75, biasedMerge, biasedUpdate))
	assert.Equal(t, model.GateMerge, Classify(0.89, biasedMerge, biasedUpdate))
	assert.Equal(t, model.GateUpdate, Classify(0.90, biasedMerge, biasedUpdate))
}

func TestApplyMergeAppendsDatestampedSection(t *testing.T) {
	existing := Existing{Body: "Old findings.", SourceURLs: []string{"https://a.example"}}
	fresh := New{Findings: "New findings.", SourceURLs: []string{"https://a.example", "https://b.example"}}
	now := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)

	body, urls := ApplyMerge(existing, fresh, now)

	assert.Contains(t, body, "Old findings.")
	assert.Contains(t, body, "## Update — 2026-07-29")
	assert.Contains(t, body, "New findings.")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, urls)
}

func TestDedupeURLsPreservesOrderAndDedupes(t *testing.T) {
	got := DedupeURLs(
		[]string{"https://a.example", "https://b.example"},
		[]string{"https://b.example", "https://c.example"},
	)
	assert.Equal(t, []string{"https://a.example", "https://b.example", "https://c.example"}, got)
}

func TestDedupeFindingsDropsRepeatedSentences(t *testing.T) {
	existing := "Semantic search uses vector embeddings. It ranks by cosine similarity."
	fresh := "Semantic search uses vector embeddings. It also supports hybrid ranking."

	merged := DedupeFindings(existing, fresh)

	assert.Contains(t, merged, "It ranks by cosine similarity.")
	assert.Contains(t, merged, "It also supports hybrid ranking.")
	// The repeated opening sentence should appear only once.
	count := 0
	for i := 0; i+len("Semantic search uses vector embeddings.") <= len(merged); i++ {
		if merged[i:i+len("Semantic search uses vector embeddings.")] == "Semantic search uses vector embeddings." {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestApplyUpdateIsIdempotentOnSecondApplication(t *testing.T) {
	existing := Existing{Body: "Semantic search uses embeddings.", SourceURLs: []string{"https://a.example"}, Summary: "old summary"}
	fresh := New{Findings: "Semantic search uses embeddings.", SourceURLs: []string{"https://a.example"}}

	body1, summary1, urls1 := ApplyUpdate(nil, existing, fresh, nil)

	existing2 := Existing{Body: body1, SourceURLs: urls1, Summary: summary1}
	body2, summary2, urls2 := ApplyUpdate(nil, existing2, fresh, nil)

	assert.Equal(t, body1, body2)
	assert.Equal(t, summary1, summary2)
	assert.Equal(t, urls1, urls2)
}

func TestLexicalSimilarityIdenticalTextIsOne(t *testing.T) {
	s := "Semantic search ranks documents by vector similarity"
	assert.InDelta(t, 1.0, LexicalSimilarity(s, s), 1e-9)
}

func TestLexicalSimilarityUnrelatedTextIsLow(t *testing.T) {
	a := "Semantic search ranks documents by vector similarity"
	b := "Quarterly earnings exceeded analyst expectations this year"
	assert.Less(t, LexicalSimilarity(a, b), 0.2)
}

// TestGateDecideDegradesToLexicalFallback exercises Gate.Decide end to end
// (spec §8 scenarios 1-3 and 6) with the embedder forced unavailable, so
// every case runs the lexical fallback path with its widened thresholds.
// Decide scores title+body together, so each neighbor's title and body are
// hand-picked so its term-frequency cosine against the candidate lands in a
// known band: CREATE (~0.31, an unrelated title+body), MERGE (~0.86, same title and 4/5 body terms shared), UPDATE
// (identical title and body, score 1.0).
func TestGateDecideDegradesToLexicalFallback(t *testing.T) {
	candidate := Candidate{Title: "Semantic Search", Body: "alpha beta gamma delta epsilon"}
	topicID := uuid.New()

	t.Run("no neighbors creates", func(t *testing.T) {
		g := NewGate(fakeUnavailableEmbedder{}, nil, fakeLister{}, testLogger())
		d, err := g.Decide(context.Background(), topicID, candidate)
		require.NoError(t, err)
		assert.Equal(t, model.GateCreate, d.Action)
		assert.True(t, d.Degraded)
		assert.Nil(t, d.NeighborID)
	})

	t.Run("low overlap creates", func(t *testing.T) {
		neighborID := uuid.New()
		lister := fakeLister{neighbors: []NeighborDoc{
			{ID: neighborID, Title: "Unrelated", Body: "alpha beta zeta eta theta"},
		}}
		g := NewGate(fakeUnavailableEmbedder{}, nil, lister, testLogger())
		d, err := g.Decide(context.Background(), topicID, candidate)
		require.NoError(t, err)
		assert.Equal(t, model.GateCreate, d.Action)
		assert.True(t, d.Degraded)
	})

	t.Run("moderate overlap merges", func(t *testing.T) {
		neighborID := uuid.New()
		lister := fakeLister{neighbors: []NeighborDoc{
			{ID: neighborID, Title: "Semantic Search", Body: "alpha beta gamma delta zeta"},
		}}
		g := NewGate(fakeUnavailableEmbedder{}, nil, lister, testLogger())
		d, err := g.Decide(context.Background(), topicID, candidate)
		require.NoError(t, err)
		assert.Equal(t, model.GateMerge, d.Action)
		assert.True(t, d.Degraded)
		require.NotNil(t, d.NeighborID)
		assert.Equal(t, neighborID, *d.NeighborID)
	})

	t.Run("near duplicate updates", func(t *testing.T) {
		neighborID := uuid.New()
		lister := fakeLister{neighbors: []NeighborDoc{
			{ID: neighborID, Title: "Semantic Search", Body: candidate.Body},
		}}
		g := NewGate(fakeUnavailableEmbedder{}, nil, lister, testLogger())
		d, err := g.Decide(context.Background(), topicID, candidate)
		require.NoError(t, err)
		assert.Equal(t, model.GateUpdate, d.Action)
		assert.True(t, d.Degraded)
		require.NotNil(t, d.NeighborID)
		assert.Equal(t, neighborID, *d.NeighborID)
	})
}
