// Package orchestrator drives the plan→search→analyze→validate hop loop
// that is ARIS's core research algorithm (spec §4.7). Grounded on
// go-research's internal/orchestrator.Orchestrator: the same
// dependency-bundle-plus-functional-options constructor shape and the same
// "analyze, plan, execute, synthesize" staging, adapted from a single-shot
// worker-pool fan-out to a budget-bounded, checkpointed multi-hop loop.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aris-project/aris/internal/cost"
	"github.com/aris-project/aris/internal/dedupe"
	"github.com/aris-project/aris/internal/docstore"
	"github.com/aris-project/aris/internal/embedding"
	"github.com/aris-project/aris/internal/errs"
	"github.com/aris-project/aris/internal/model"
	"github.com/aris-project/aris/internal/research"
)

// subQueriesPerHop bounds the fan-out width of a single hop's search step,
// mirroring PlanQueries' own "up to 3" contract.
const subQueriesPerHop = 3

// resultsPerQuery is how many hits are requested per sub-query.
const resultsPerQuery = 5

// SessionStore is the subset of internal/storage.DB the orchestrator needs
// to drive a session through its state machine. Satisfied by *storage.DB;
// declared narrowly here so tests can supply an in-memory fake.
type SessionStore interface {
	CreateSession(ctx context.Context, s model.Session) (model.Session, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, newStatus model.SessionStatus) error
	CreateHop(ctx context.Context, h model.Hop) (model.Hop, error)
	AdvanceHop(ctx context.Context, id uuid.UUID, hopNumber int, confidence, additionalCost float64) error
}

// DocumentStore is the subset of internal/storage.DB needed to assemble a
// candidate document and write the gate's verdict.
type DocumentStore interface {
	CreateDocument(ctx context.Context, d model.Document) (model.Document, error)
	GetDocument(ctx context.Context, id uuid.UUID) (model.Document, error)
	UpdateDocument(ctx context.Context, d model.Document) (model.Document, error)
}

// TopicStore resolves a topic's slug for document-tree placement.
type TopicStore interface {
	GetTopic(ctx context.Context, id uuid.UUID) (model.Topic, error)
}

// Orchestrator runs the hop loop for one research request at a time; it
// holds no per-request mutable state of its own, so a single instance is
// safe to reuse (and to share) across concurrent Run calls for distinct
// sessions.
type Orchestrator struct {
	sessions  SessionStore
	documents DocumentStore
	topics    TopicStore
	cost      *cost.Manager
	search    research.SearchClient
	reasoning research.ReasoningClient
	embedder  embedding.Provider
	gate      *dedupe.Gate
	docs      *docstore.Store
	prices    cost.PriceTable
	logger    *slog.Logger
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithSearchClient overrides the search client (used by tests to inject a
// fake SearchClient without a live Tavily key).
func WithSearchClient(c research.SearchClient) Option {
	return func(o *Orchestrator) { o.search = c }
}

// WithReasoningClient overrides the reasoning client.
func WithReasoningClient(c research.ReasoningClient) Option {
	return func(o *Orchestrator) { o.reasoning = c }
}

// WithLogger overrides the default discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New builds an Orchestrator from its required collaborators.
func New(
	sessions SessionStore,
	documents DocumentStore,
	topics TopicStore,
	costMgr *cost.Manager,
	search research.SearchClient,
	reasoning research.ReasoningClient,
	embedder embedding.Provider,
	gate *dedupe.Gate,
	docs *docstore.Store,
	prices cost.PriceTable,
	opts ...Option,
) *Orchestrator {
	if prices == nil {
		prices = cost.DefaultPriceTable
	}
	o := &Orchestrator{
		sessions:  sessions,
		documents: documents,
		topics:    topics,
		cost:      costMgr,
		search:    search,
		reasoning: reasoning,
		embedder:  embedder,
		gate:      gate,
		docs:      docs,
		prices:    prices,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Request is one research invocation (spec §6: `research "<query>"
// [--depth ...] [--max-cost F] [--topic ID]`).
type Request struct {
	TopicID     uuid.UUID
	Query       string
	Depth       model.Depth
	BudgetLimit float64
	// Progress, if non-nil, receives one ProgressEvent per state transition
	// and per hop checkpoint. Run never blocks waiting for a slow reader: a
	// full channel simply drops the event.
	Progress chan<- ProgressEvent
}

// Result is the outcome of a completed or partially-completed Run.
type Result struct {
	Session      model.Session
	Hops         []model.Hop
	Document     model.Document
	GateDecision model.GateDecision
	Degraded     bool
}

// Run executes the full hop loop for req and returns once the session
// reaches a terminal state. A non-nil error always carries one of the
// internal/errs sentinels via errors.Is, selecting the CLI's exit code
// (spec §6/§7); Result is still populated with whatever was produced
// before the error, since a partial result (session with recorded hops,
// no document) is meaningful to the caller.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Query) == "" {
		return Result{}, fmt.Errorf("orchestrator: empty query: %w", errs.ErrInvalidInput)
	}
	profile, ok := model.DepthProfiles[req.Depth]
	if !ok {
		return Result{}, fmt.Errorf("orchestrator: unknown depth %q: %w", req.Depth, errs.ErrInvalidInput)
	}
	if req.BudgetLimit <= 0 {
		return Result{}, fmt.Errorf("orchestrator: budget limit must be positive: %w", errs.ErrInvalidInput)
	}

	session, err := o.sessions.CreateSession(ctx, model.Session{
		TopicID:     req.TopicID,
		Query:       req.Query,
		Depth:       req.Depth,
		BudgetLimit: req.BudgetLimit,
		MaxHops:     profile.MaxHops,
	})
	if err != nil {
		return Result{}, fmt.Errorf("orchestrator: create session: %w", err)
	}

	run := &hopRun{
		o:       o,
		req:     req,
		profile: profile,
		session: session,
	}
	return run.execute(ctx)
}

// hopRun carries the mutable state threaded through one Run call's hop
// loop, kept off the Orchestrator itself so Run is safe for concurrent use.
type hopRun struct {
	o       *Orchestrator
	req     Request
	profile model.DepthProfile
	session model.Session

	hops           []model.Hop
	runningSummary strings.Builder
	confidence     float64
	accumulated    float64

	budgetExceeded      bool
	providerUnavailable bool
}

func (r *hopRun) execute(ctx context.Context) (Result, error) {
	o := r.o

	for hopNumber := 1; ; hopNumber++ {
		if err := ctx.Err(); err != nil {
			return r.finishCancelled(ctx)
		}

		remaining := r.req.BudgetLimit - r.accumulated
		floor := cost.PerHopFloor(o.prices)
		if remaining < floor || r.confidence >= r.profile.ConfidenceTarget || hopNumber > r.profile.MaxHops {
			break
		}

		estimate := cost.ForQuery(r.req.Query, r.req.Depth, o.prices)
		hopEstimate := estimate.EstimatedCost / float64(r.profile.MaxHops)
		if hopEstimate < floor {
			hopEstimate = floor
		}

		allowed, warn, canErr := o.cost.CanPerform(r.session.ID, r.accumulated, hopEstimate, r.req.BudgetLimit)
		r.emit(ProgressEvent{Kind: EventBudgetCheck, HopNumber: hopNumber, Warning: warn})
		if !allowed {
			if !errors.Is(canErr, errs.ErrBudgetExceeded) {
				return r.finishInternal(ctx, canErr)
			}
			r.budgetExceeded = true
			break
		}

		if err := r.runHop(ctx, hopNumber); err != nil {
			switch {
			case errors.Is(err, errs.ErrProviderUnavailable), errors.Is(err, errs.ErrProviderFatal):
				r.providerUnavailable = true
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return r.finishCancelled(ctx)
			default:
				return r.finishInternal(ctx, err)
			}
			break
		}
	}

	return r.finish(ctx)
}

// runHop executes one plan→search→analyze→validate iteration, appending to
// r.hops and advancing r.confidence/r.accumulated on success. Partial
// evidence from a hop that errors partway through is discarded, per the
// cancellation/abandonment semantics of spec §5: nothing is appended to
// r.hops unless the hop completes end to end.
func (r *hopRun) runHop(ctx context.Context, hopNumber int) error {
	o := r.o

	if err := o.sessions.UpdateStatus(ctx, r.session.ID, model.StatusSearching); err != nil {
		return fmt.Errorf("orchestrator: transition to searching: %w", err)
	}
	r.emit(ProgressEvent{Kind: EventStageChanged, HopNumber: hopNumber, Stage: model.StatusSearching})

	subQueries, err := research.PlanQueries(ctx, o.reasoning, r.req.Query, r.runningSummary.String())
	if err != nil {
		return err
	}
	if len(subQueries) == 0 {
		subQueries = []string{r.req.Query}
	}
	if len(subQueries) > subQueriesPerHop {
		subQueries = subQueries[:subQueriesPerHop]
	}

	results, err := r.fanOutSearch(ctx, subQueries)
	if err != nil {
		return err
	}
	evidence := dedupeEvidence(results)

	if err := o.sessions.UpdateStatus(ctx, r.session.ID, model.StatusAnalyzing); err != nil {
		return fmt.Errorf("orchestrator: transition to analyzing: %w", err)
	}
	r.emit(ProgressEvent{Kind: EventStageChanged, HopNumber: hopNumber, Stage: model.StatusAnalyzing})

	summary, err := research.Synthesize(ctx, o.reasoning, r.req.Query, toSearchResults(evidence))
	if err != nil {
		return err
	}

	if err := o.sessions.UpdateStatus(ctx, r.session.ID, model.StatusValidating); err != nil {
		return fmt.Errorf("orchestrator: transition to validating: %w", err)
	}
	r.emit(ProgressEvent{Kind: EventStageChanged, HopNumber: hopNumber, Stage: model.StatusValidating})

	confidenceBefore := r.confidence
	gain := confidenceGain(r.confidence, r.profile.ConfidenceTarget, evidence)
	confidenceAfter := clamp01(confidenceBefore + gain)
	if confidenceAfter < confidenceBefore {
		// Validation invariant (spec §8): confidence never regresses hop
		// over hop.
		confidenceAfter = confidenceBefore
	}

	tokensUsed := estimateTokens(summary) + estimateTokens(strings.Join(subQueries, " "))
	inputTokens := int(float64(tokensUsed) * 0.6)
	outputTokens := tokensUsed - inputTokens

	searchEntry, err := o.cost.Record(ctx, r.session.ID, hopNumber, "search", float64(len(subQueries)))
	if err != nil {
		return fmt.Errorf("orchestrator: record search cost: %w", err)
	}
	inEntry, err := o.cost.Record(ctx, r.session.ID, hopNumber, "reasoning_input", float64(inputTokens)/1000.0)
	if err != nil {
		return fmt.Errorf("orchestrator: record reasoning input cost: %w", err)
	}
	outEntry, err := o.cost.Record(ctx, r.session.ID, hopNumber, "reasoning_output", float64(outputTokens)/1000.0)
	if err != nil {
		return fmt.Errorf("orchestrator: record reasoning output cost: %w", err)
	}
	hopCost := searchEntry.Total + inEntry.Total + outEntry.Total

	hop := model.Hop{
		SessionID:        r.session.ID,
		HopNumber:        hopNumber,
		Query:            strings.Join(subQueries, "; "),
		Evidence:         evidence,
		ConfidenceBefore: confidenceBefore,
		ConfidenceAfter:  confidenceAfter,
		SearchCost:       searchEntry.Total,
		ReasoningCost:    inEntry.Total + outEntry.Total,
		ReasoningTokens:  tokensUsed,
	}
	createdHop, err := o.sessions.CreateHop(ctx, hop)
	if err != nil {
		return fmt.Errorf("orchestrator: record hop %d: %w", hopNumber, err)
	}

	if err := o.sessions.AdvanceHop(ctx, r.session.ID, hopNumber, confidenceAfter, hopCost); err != nil {
		return fmt.Errorf("orchestrator: advance hop %d: %w", hopNumber, err)
	}

	r.hops = append(r.hops, createdHop)
	r.runningSummary.WriteString("\n\n")
	r.runningSummary.WriteString(summary)
	r.confidence = confidenceAfter
	r.accumulated += hopCost
	r.emit(ProgressEvent{Kind: EventHopComplete, HopNumber: hopNumber, Confidence: confidenceAfter})
	return nil
}

// fanOutSearch runs each sub-query's search concurrently (spec §5: "within
// a hop, sub-query searches fan out and are joined before synthesis
// begins"). A single sub-query's failure aborts the whole hop, since
// partial evidence from an aborted hop is discarded regardless.
func (r *hopRun) fanOutSearch(ctx context.Context, subQueries []string) ([]research.SearchResult, error) {
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	var all []research.SearchResult

	for _, q := range subQueries {
		q := q
		g.Go(func() error {
			results, err := r.o.search.Search(gctx, q, resultsPerQuery)
			if err != nil {
				return err
			}
			mu.Lock()
			all = append(all, results...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return all, nil
}

// finish runs once the loop exits normally (budget floor reached,
// confidence target reached, max hops reached, or a recoverable provider
// failure abandoned the in-flight hop) and applies the deduplication gate
// to whatever evidence was accumulated.
func (r *hopRun) finish(ctx context.Context) (Result, error) {
	o := r.o

	if len(r.hops) == 0 {
		switch {
		case r.budgetExceeded:
			if err := o.sessions.UpdateStatus(ctx, r.session.ID, model.StatusError); err != nil {
				o.logger.Error("orchestrator: mark session error after budget exhaustion", "error", err, "session_id", r.session.ID)
			}
			r.session.Status = model.StatusError
			return Result{Session: r.session}, fmt.Errorf("orchestrator: session %s: %w", r.session.ID, errs.ErrBudgetExceeded)
		case r.providerUnavailable:
			if err := o.sessions.UpdateStatus(ctx, r.session.ID, model.StatusError); err != nil {
				o.logger.Error("orchestrator: mark session error after provider outage", "error", err, "session_id", r.session.ID)
			}
			r.session.Status = model.StatusError
			return Result{Session: r.session}, fmt.Errorf("orchestrator: session %s: %w", r.session.ID, errs.ErrProviderUnavailable)
		}
	}

	doc, decision, degraded, err := o.applyGateDecision(ctx, r.session, r.hops, r.runningSummary.String())
	if err != nil {
		if statusErr := o.sessions.UpdateStatus(ctx, r.session.ID, model.StatusError); statusErr != nil {
			o.logger.Error("orchestrator: mark session error after gate failure", "error", statusErr, "session_id", r.session.ID)
		}
		return Result{Session: r.session, Hops: r.hops}, fmt.Errorf("orchestrator: apply gate decision: %w", err)
	}

	if err := o.sessions.UpdateStatus(ctx, r.session.ID, model.StatusComplete); err != nil {
		return Result{Session: r.session, Hops: r.hops, Document: doc, GateDecision: decision}, fmt.Errorf("orchestrator: transition to complete: %w", err)
	}
	r.session.Status = model.StatusComplete
	r.emit(ProgressEvent{Kind: EventStageChanged, Stage: model.StatusComplete})

	return Result{
		Session:      r.session,
		Hops:         r.hops,
		Document:     doc,
		GateDecision: decision,
		Degraded:     degraded,
	}, nil
}

func (r *hopRun) finishCancelled(ctx context.Context) (Result, error) {
	o := r.o
	if err := o.sessions.UpdateStatus(ctx, r.session.ID, model.StatusCancelled); err != nil {
		o.logger.Error("orchestrator: mark session cancelled", "error", err, "session_id", r.session.ID)
	}
	r.session.Status = model.StatusCancelled
	r.emit(ProgressEvent{Kind: EventStageChanged, Stage: model.StatusCancelled})
	return Result{Session: r.session, Hops: r.hops}, fmt.Errorf("orchestrator: session %s: %w", r.session.ID, errs.ErrCancelled)
}

func (r *hopRun) finishInternal(ctx context.Context, cause error) (Result, error) {
	o := r.o
	if err := o.sessions.UpdateStatus(ctx, r.session.ID, model.StatusError); err != nil {
		o.logger.Error("orchestrator: mark session error", "error", err, "session_id", r.session.ID)
	}
	r.session.Status = model.StatusError
	return Result{Session: r.session, Hops: r.hops}, fmt.Errorf("orchestrator: session %s: %w: %w", r.session.ID, errs.ErrInternal, cause)
}

func (r *hopRun) emit(ev ProgressEvent) {
	if r.req.Progress == nil {
		return
	}
	ev.SessionID = r.session.ID
	select {
	case r.req.Progress <- ev:
	default:
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// confidenceGain estimates how much a hop's evidence should move the
// confidence needle toward the profile's target. Gain is proportional to
// the amount of fresh evidence found this hop, with diminishing returns
// past a handful of sources, and scaled by the remaining distance to the
// target so repeated hops approach it asymptotically rather than
// overshooting (spec §8's non-regression invariant still guards the
// caller against rounding pushing this negative).
func confidenceGain(current, target float64, evidence []model.Evidence) float64 {
	remaining := target - current
	if remaining <= 0 || len(evidence) == 0 {
		return 0
	}
	n := float64(len(evidence))
	weight := n / (n + 2)
	return remaining * weight * 0.5
}

// estimateTokens gives a rough token count for text, consistent with the
// tokens/1000*unitCost costing convention used throughout internal/cost:
// four characters per token is the common rule of thumb for English prose.
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len([]rune(text)) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// dedupeEvidence converts search results into Evidence, dropping
// duplicates by URL and by content hash within the hop (a sub-query fan-out
// commonly surfaces the same page twice).
func dedupeEvidence(results []research.SearchResult) []model.Evidence {
	seenURL := make(map[string]bool, len(results))
	seenHash := make(map[string]bool, len(results))
	now := time.Now().UTC()

	var out []model.Evidence
	for i, r := range results {
		if r.URL == "" || seenURL[r.URL] {
			continue
		}
		hash := contentHash(r.Excerpt)
		if hash != "" && seenHash[hash] {
			continue
		}
		seenURL[r.URL] = true
		if hash != "" {
			seenHash[hash] = true
		}
		out = append(out, model.Evidence{
			ID:             uuid.New(),
			SourceURL:      r.URL,
			Title:          r.Title,
			Excerpt:        r.Excerpt,
			RelevanceScore: rankScore(i),
			ContentHash:    hash,
			RetrievedAt:    now,
		})
	}
	return out
}

// contentHash fingerprints an excerpt for cross-sub-query dedup. Empty
// excerpts hash to "" so they never collide with each other as duplicates.
func contentHash(excerpt string) string {
	if strings.TrimSpace(excerpt) == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(excerpt))
	return fmt.Sprintf("%x", sum)
}

func toSearchResults(evidence []model.Evidence) []research.SearchResult {
	out := make([]research.SearchResult, len(evidence))
	for i, e := range evidence {
		out[i] = research.SearchResult{Title: e.Title, URL: e.SourceURL, Excerpt: e.Excerpt}
	}
	return out
}

// rankScore assigns a diminishing relevance score by result position,
// since SearchClient implementations return results already ranked but do
// not expose a numeric score.
func rankScore(index int) float64 {
	return 1.0 / float64(1+index)
}
