// Command aris is the CLI entry point for the Autonomous Research
// Intelligence System: a single-operator tool that runs the
// plan→search→analyze→validate research loop against a topic and leaves
// behind a deduplicated, git-versioned document tree.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/aris-project/aris/internal/config"
	"github.com/aris-project/aris/internal/cost"
	"github.com/aris-project/aris/internal/dedupe"
	"github.com/aris-project/aris/internal/docstore"
	"github.com/aris-project/aris/internal/embedding"
	"github.com/aris-project/aris/internal/errs"
	"github.com/aris-project/aris/internal/mcpserver"
	"github.com/aris-project/aris/internal/model"
	"github.com/aris-project/aris/internal/orchestrator"
	"github.com/aris-project/aris/internal/research"
	"github.com/aris-project/aris/internal/storage"
	"github.com/aris-project/aris/internal/storage/sqlitecache"
	"github.com/aris-project/aris/internal/telemetry"
	"github.com/aris-project/aris/internal/vectorindex"
	"github.com/aris-project/aris/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0(os.Args[1:]))
}

func run0(args []string) int {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(os.Getenv("ARIS_LOG_LEVEL"))}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := run(ctx, logger, args)
	if err != nil && !errors.Is(err, errs.ErrCancelled) {
		logger.Error("aris: fatal error", "error", err)
	}
	return exitCode(err)
}

// exitCode maps a returned error to the process exit code spec §6/§7
// assigns to each failure class.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errs.ErrCancelled):
		return 4
	case errors.Is(err, errs.ErrProviderUnavailable), errors.Is(err, errs.ErrProviderFatal):
		return 3
	case errors.Is(err, errs.ErrBudgetExceeded):
		return 2
	default:
		return 1
	}
}

func parseLogLevel(v string) slog.Level {
	switch v {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// app bundles every wired collaborator a command needs. Built once per
// process invocation in run, then handed to the subcommand dispatcher.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	db       *storage.DB
	cache    *sqlitecache.Cache
	docs     *docstore.Store
	gate     *dedupe.Gate
	index    *vectorindex.Index
	cost     *cost.Manager
	embedder embedding.Provider
	orch     *orchestrator.Orchestrator
}

func run(ctx context.Context, logger *slog.Logger, args []string) error {
	if len(args) == 0 {
		printUsage()
		return fmt.Errorf("aris: no command given: %w", errs.ErrInvalidInput)
	}

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("aris: telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("aris: storage: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("aris: migrations: %w", err)
	}

	docs, err := docstore.Open(cfg.DataDir + "/documents")
	if err != nil {
		return fmt.Errorf("aris: docstore: %w", err)
	}

	cache, err := sqlitecache.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("aris: resumability cache: %w", err)
	}
	defer cache.Close()

	var index *vectorindex.Index
	embedder := embedding.Provider(embedding.NewNoopProvider(cfg.EmbeddingDimensions))
	if cfg.QdrantURL != "" {
		index, err = vectorindex.NewIndex(vectorindex.Config{
			URL: cfg.QdrantURL, APIKey: cfg.QdrantAPIKey, Collection: cfg.QdrantCollection,
			Dims: uint64(cfg.EmbeddingDimensions),
		}, logger)
		if err != nil {
			return fmt.Errorf("aris: vector index: %w", err)
		}
		defer index.Close()
		if err := index.EnsureCollection(ctx); err != nil {
			return fmt.Errorf("aris: vector index collection: %w", err)
		}

		outbox := vectorindex.NewOutboxWorker(db.Pool(), index, logger, 5*time.Second, 50)
		go outbox.Start(ctx)

		embedder, err = newEmbeddingProvider(cfg)
		if err != nil {
			return err
		}
	} else {
		logger.Warn("aris: ARIS_QDRANT_URL not set, embeddings disabled; deduplication gate runs in lexical-fallback mode")
	}

	gate := dedupe.NewGate(embedder, index, db, logger)
	costMgr := cost.NewManager(db, cost.DefaultPriceTable)

	a := &app{cfg: cfg, logger: logger, db: db, cache: cache, docs: docs, gate: gate, index: index, cost: costMgr, embedder: embedder}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "research":
		return a.cmdResearch(ctx, rest)
	case "topic":
		return a.cmdTopic(ctx, rest)
	case "session":
		return a.cmdSession(ctx, rest)
	case "cost":
		return a.cmdCost(ctx, rest)
	case "mcp":
		return a.cmdMCP(ctx, rest)
	default:
		printUsage()
		return fmt.Errorf("aris: unknown command %q: %w", cmd, errs.ErrInvalidInput)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: aris <command> [arguments]

commands:
  research "<query>" [--depth quick|standard|deep|exhaustive] [--max-cost F] --topic ID
  topic create "<label>"
  topic list
  session list [--topic ID] [--resumable]
  session show <id>
  session resume <id>
  session export <id>
  session delete <id>
  session stats <id>
  cost estimate "<query>" [--depth quick|standard|deep|exhaustive] [--budget F]
  mcp serve [--depth quick|standard|deep|exhaustive] [--budget F]`)
}

// cmdMCP runs ARIS's research and cost-estimation tools as an MCP server
// over stdio, so an IDE-resident agent can drive the same Orchestrator the
// CLI uses (spec §1's out-of-scope CLI surface gains a second front end
// without duplicating any orchestration logic).
func (a *app) cmdMCP(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] != "serve" {
		return fmt.Errorf("aris: mcp requires the \"serve\" subcommand: %w", errs.ErrInvalidInput)
	}
	fs := flag.NewFlagSet("mcp serve", flag.ContinueOnError)
	depth := fs.String("depth", string(a.cfg.DefaultDepth), "default depth for aris_research/aris_cost_estimate")
	budget := fs.Float64("budget", a.cfg.DefaultBudget, "default budget for aris_research")
	if err := fs.Parse(args[1:]); err != nil {
		return fmt.Errorf("aris: %w: %w", err, errs.ErrInvalidInput)
	}

	search, err := research.NewTavilyClient(a.cfg.TavilyAPIKey)
	if err != nil {
		return err
	}
	reasoning, err := newReasoningClient(a.cfg)
	if err != nil {
		return err
	}
	a.orch = orchestrator.New(a.db, a.db, a.db, a.cost, search, reasoning, a.embedder, a.gate, a.docs, cost.DefaultPriceTable, orchestrator.WithLogger(a.logger))

	srv := mcpserver.New(a.orch, cost.DefaultPriceTable, model.Depth(*depth), *budget, version)
	a.logger.Info("aris: mcp server listening on stdio")
	return srv.ServeStdio(ctx)
}

// newEmbeddingProvider selects an embedding backend per
// ARIS_EMBEDDING_PROVIDER, auto-detecting between OpenAI and Ollama when
// set to "auto" (spec §4.3).
func newEmbeddingProvider(cfg config.Config) (embedding.Provider, error) {
	switch cfg.EmbeddingProvider {
	case "openai":
		return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
	case "ollama":
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, cfg.EmbeddingDimensions), nil
	case "noop":
		return embedding.NewNoopProvider(cfg.EmbeddingDimensions), nil
	default:
		if cfg.OpenAIAPIKey != "" {
			return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
		}
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, cfg.EmbeddingDimensions), nil
	}
}

// newReasoningClient selects the LLM client: Anthropic if configured, else
// OpenAI, else ErrConfigurationMissing.
func newReasoningClient(cfg config.Config) (research.ReasoningClient, error) {
	switch {
	case cfg.AnthropicAPIKey != "":
		return research.NewAnthropicClient(cfg.AnthropicAPIKey, cfg.ReasoningModel)
	case cfg.OpenAIAPIKey != "":
		return research.NewOpenAIReasoningClient(cfg.OpenAIAPIKey, cfg.ReasoningModel)
	default:
		return nil, fmt.Errorf("aris: no reasoning provider configured (set ARIS_ANTHROPIC_API_KEY or ARIS_OPENAI_API_KEY): %w", errs.ErrConfigurationMissing)
	}
}

func (a *app) cmdResearch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("research", flag.ContinueOnError)
	depth := fs.String("depth", string(a.cfg.DefaultDepth), "quick|standard|deep|exhaustive")
	maxCost := fs.Float64("max-cost", a.cfg.DefaultBudget, "budget limit in dollars")
	topicID := fs.String("topic", "", "topic UUID")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("aris: %w: %w", err, errs.ErrInvalidInput)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("aris: research requires exactly one query argument: %w", errs.ErrInvalidInput)
	}
	if *topicID == "" {
		return fmt.Errorf("aris: --topic is required: %w", errs.ErrInvalidInput)
	}
	tid, err := uuid.Parse(*topicID)
	if err != nil {
		return fmt.Errorf("aris: invalid --topic %q: %w", *topicID, errs.ErrInvalidInput)
	}

	search, err := research.NewTavilyClient(a.cfg.TavilyAPIKey)
	if err != nil {
		return err
	}
	reasoning, err := newReasoningClient(a.cfg)
	if err != nil {
		return err
	}
	a.orch = orchestrator.New(a.db, a.db, a.db, a.cost, search, reasoning, a.embedder, a.gate, a.docs, cost.DefaultPriceTable, orchestrator.WithLogger(a.logger))

	progress := make(chan orchestrator.ProgressEvent, 16)
	go func() {
		for ev := range progress {
			a.logger.Info("aris: progress", "hop", ev.HopNumber, "stage", ev.Stage, "confidence", ev.Confidence, "warning", ev.Warning)
		}
	}()

	result, err := a.orch.Run(ctx, orchestrator.Request{
		TopicID:     tid,
		Query:       fs.Arg(0),
		Depth:       model.Depth(*depth),
		BudgetLimit: *maxCost,
		Progress:    progress,
	})
	close(progress)

	a.reconcileCache(ctx)

	if err != nil {
		return err
	}

	fmt.Printf("session %s complete: %s (%d hops, $%.4f, confidence %.2f)\n",
		result.Session.ID, result.GateDecision, len(result.Hops), result.Session.AccumulatedCost, result.Session.CurrentConfidence)
	fmt.Printf("document: %s (%s)\n", result.Document.Title, result.Document.GitCommit)
	if result.Degraded {
		fmt.Println("warning: deduplication ran in degraded (lexical-only) mode")
	}
	return nil
}

// gateEmbedder exposes the embedder the gate was built with, since the
// orchestrator needs its own reference to generate candidate embeddings
// independent of the gate's internal use of it.
func (a *app) gateEmbedder() embedding.Provider {
	return a.gate.Embedder()
}

func (a *app) cmdTopic(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("aris: topic requires a subcommand: %w", errs.ErrInvalidInput)
	}
	switch args[0] {
	case "create":
		if len(args) != 2 {
			return fmt.Errorf("aris: topic create requires a label: %w", errs.ErrInvalidInput)
		}
		t, err := a.db.CreateTopic(ctx, model.Topic{Label: args[1], Slug: docstore.Slugify(args[1])})
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\t%s\n", t.ID, t.Slug, t.Label)
		return nil
	case "list":
		topics, err := a.db.ListTopics(ctx)
		if err != nil {
			return err
		}
		for _, t := range topics {
			fmt.Printf("%s\t%s\t%s\n", t.ID, t.Slug, t.Label)
		}
		return nil
	default:
		return fmt.Errorf("aris: unknown topic subcommand %q: %w", args[0], errs.ErrInvalidInput)
	}
}

func (a *app) cmdSession(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("aris: session requires a subcommand: %w", errs.ErrInvalidInput)
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "list":
		return a.cmdSessionList(ctx, rest)
	case "show":
		return a.cmdSessionByID(ctx, rest, a.printSession)
	case "resume":
		return a.cmdSessionResume(ctx, rest)
	case "export":
		return a.cmdSessionByID(ctx, rest, a.exportSession)
	case "delete":
		return a.cmdSessionByID(ctx, rest, a.deleteSession)
	case "stats":
		return a.cmdSessionByID(ctx, rest, a.printStats)
	default:
		return fmt.Errorf("aris: unknown session subcommand %q: %w", sub, errs.ErrInvalidInput)
	}
}

func (a *app) cmdSessionList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("session list", flag.ContinueOnError)
	topicID := fs.String("topic", "", "filter to a topic UUID")
	resumable := fs.Bool("resumable", false, "only sessions eligible for resume")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("aris: %w: %w", err, errs.ErrInvalidInput)
	}

	if *resumable {
		a.reconcileCache(ctx)
		cached, err := a.cache.ListResumable(ctx, a.cfg.ResumeGracePeriod)
		if err != nil {
			return fmt.Errorf("aris: list resumable sessions: %w", err)
		}
		for _, s := range cached {
			fmt.Printf("%s\t%s\t%s\t%s\n", s.ID, s.Status, s.TopicID, s.Query)
		}
		return nil
	}

	var tid *uuid.UUID
	if *topicID != "" {
		id, err := uuid.Parse(*topicID)
		if err != nil {
			return fmt.Errorf("aris: invalid --topic %q: %w", *topicID, errs.ErrInvalidInput)
		}
		tid = &id
	}
	sessions, err := a.db.ListSessions(ctx, tid)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		fmt.Printf("%s\t%s\t%s\t%.4f\n", s.ID, s.Status, s.Query, s.AccumulatedCost)
	}
	return nil
}

func (a *app) cmdSessionByID(ctx context.Context, args []string, fn func(context.Context, uuid.UUID) error) error {
	if len(args) != 1 {
		return fmt.Errorf("aris: expected exactly one session id: %w", errs.ErrInvalidInput)
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("aris: invalid session id %q: %w", args[0], errs.ErrInvalidInput)
	}
	return fn(ctx, id)
}

func (a *app) printSession(ctx context.Context, id uuid.UUID) error {
	s, err := a.db.GetSession(ctx, id)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("aris: marshal session: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func (a *app) printStats(ctx context.Context, id uuid.UUID) error {
	stats, err := a.db.GetStatistics(ctx, id)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return fmt.Errorf("aris: marshal statistics: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func (a *app) exportSession(ctx context.Context, id uuid.UUID) error {
	data, err := a.db.ExportSessionJSON(ctx, id)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func (a *app) deleteSession(ctx context.Context, id uuid.UUID) error {
	if err := a.db.DeleteSession(ctx, id, true); err != nil {
		return err
	}
	if err := a.cache.Remove(ctx, id); err != nil {
		a.logger.Warn("aris: remove session from resumability cache", "error", err, "session_id", id)
	}
	fmt.Printf("deleted session %s\n", id)
	return nil
}

// cmdSessionResume re-runs an interrupted session's query. ARIS's
// orchestrator runs a session end to end within a single Run call, and Run
// always creates a new session: resume starts one against the same topic,
// query, and depth, with the budget the old session had left. The old
// session's recorded hops are not loaded or replayed, the new session
// starts from hop 1 with an empty running summary, and the old session row
// keeps its status. The printed ID is the new session's.
func (a *app) cmdSessionResume(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("aris: expected exactly one session id: %w", errs.ErrInvalidInput)
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("aris: invalid session id %q: %w", args[0], errs.ErrInvalidInput)
	}
	s, err := a.db.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if !model.Resumable[s.Status] {
		return fmt.Errorf("aris: session %s is not resumable (status %s): %w", id, s.Status, errs.ErrInvalidInput)
	}

	search, err := research.NewTavilyClient(a.cfg.TavilyAPIKey)
	if err != nil {
		return err
	}
	reasoning, err := newReasoningClient(a.cfg)
	if err != nil {
		return err
	}
	a.orch = orchestrator.New(a.db, a.db, a.db, a.cost, search, reasoning, a.gateEmbedder(), a.gate, a.docs, cost.DefaultPriceTable, orchestrator.WithLogger(a.logger))

	remaining := s.BudgetLimit - s.AccumulatedCost
	result, err := a.orch.Run(ctx, orchestrator.Request{
		TopicID:     s.TopicID,
		Query:       s.Query,
		Depth:       s.Depth,
		BudgetLimit: remaining,
	})
	a.reconcileCache(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("resumed session %s complete: %s\n", result.Session.ID, result.GateDecision)
	return nil
}

func (a *app) cmdCost(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] != "estimate" {
		return fmt.Errorf("aris: cost requires the \"estimate\" subcommand: %w", errs.ErrInvalidInput)
	}
	fs := flag.NewFlagSet("cost estimate", flag.ContinueOnError)
	depth := fs.String("depth", string(a.cfg.DefaultDepth), "quick|standard|deep|exhaustive")
	budget := fs.Float64("budget", a.cfg.DefaultBudget, "budget limit in dollars")
	if err := fs.Parse(args[1:]); err != nil {
		return fmt.Errorf("aris: %w: %w", err, errs.ErrInvalidInput)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("aris: cost estimate requires exactly one query argument: %w", errs.ErrInvalidInput)
	}
	if _, ok := model.DepthProfiles[model.Depth(*depth)]; !ok {
		return fmt.Errorf("aris: unknown depth %q: %w", *depth, errs.ErrInvalidInput)
	}

	estimate := cost.ForQuery(fs.Arg(0), model.Depth(*depth), cost.DefaultPriceTable)
	fmt.Printf("estimated searches: %d\n", estimate.EstimatedSearches)
	fmt.Printf("estimated tokens:   %d\n", estimate.EstimatedTokens)
	fmt.Printf("estimated cost:     $%.4f\n", estimate.EstimatedCost)
	fmt.Printf("estimate confidence: %.2f\n", estimate.Confidence)
	if estimate.EstimatedCost > *budget {
		fmt.Printf("warning: estimated cost exceeds budget $%s\n", strconv.FormatFloat(*budget, 'f', 4, 64))
	}
	return nil
}

// reconcileCache refreshes the local resumability cache from the
// authoritative Postgres session table; `session list --resumable` calls it
// before reading the cache. Every command connects to Postgres at startup,
// so the cache is never read without the database. Best-effort: failures
// are logged, never fatal to the invoking command.
func (a *app) reconcileCache(ctx context.Context) {
	sessions, err := a.db.ListSessions(ctx, nil)
	if err != nil {
		a.logger.Warn("aris: reconcile resumability cache: list sessions", "error", err)
		return
	}
	if err := a.cache.Reconcile(ctx, sessions); err != nil {
		a.logger.Warn("aris: reconcile resumability cache", "error", err)
	}
}
