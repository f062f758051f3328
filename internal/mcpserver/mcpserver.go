// Package mcpserver exposes ARIS's research and cost-estimation
// capabilities as MCP tools, so an IDE-resident agent can drive the same
// Orchestrator and cost.Manager the CLI uses. Grounded on the teacher's
// internal/mcp package: same NewMCPServer-plus-AddTool registration idiom,
// same concise-JSON-result convention, scaled down to the two capabilities
// SPEC_FULL.md's DOMAIN STACK section commits mcp-go to (aris_research,
// aris_cost_estimate) — ARIS has no multi-tenant decision trail to expose
// as resources or prompts, so this package carries only tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpgoserver "github.com/mark3labs/mcp-go/server"

	"github.com/aris-project/aris/internal/cost"
	"github.com/aris-project/aris/internal/model"
	"github.com/aris-project/aris/internal/orchestrator"
)

const serverInstructions = `You have access to ARIS, an autonomous multi-hop web research system.

TOOLS:
- aris_research: run a full plan→search→analyze→validate research session
  against a topic and return the resulting document action (CREATE/MERGE/
  UPDATE). This is a long-running, cost-bounded call — it performs real web
  searches and LLM calls and only returns once the session reaches a
  terminal state.
- aris_cost_estimate: estimate the cost and search/token footprint of a
  query at a given depth without running it. Call this first when the
  caller is budget-sensitive or wants to choose a depth.

Depths, from cheapest to most thorough: quick, standard, deep, exhaustive.
Each research session requires an existing topic_id; topics are created out
of band (CLI "topic create" or equivalent store integration).`

// Server wraps the MCP server with the Orchestrator and cost estimator ARIS
// already built for the CLI, so a tool call and a CLI invocation exercise
// identical code paths.
type Server struct {
	mcpServer     *mcpgoserver.MCPServer
	orch          *orchestrator.Orchestrator
	prices        cost.PriceTable
	defaultDepth  model.Depth
	defaultBudget float64
}

// New creates and configures an MCP server backed by orch.
func New(orch *orchestrator.Orchestrator, prices cost.PriceTable, defaultDepth model.Depth, defaultBudget float64, version string) *Server {
	if prices == nil {
		prices = cost.DefaultPriceTable
	}
	s := &Server{
		orch:          orch,
		prices:        prices,
		defaultDepth:  defaultDepth,
		defaultBudget: defaultBudget,
	}

	s.mcpServer = mcpgoserver.NewMCPServer(
		"aris",
		version,
		mcpgoserver.WithToolCapabilities(true),
		mcpgoserver.WithInstructions(serverInstructions),
	)
	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpgoserver.MCPServer {
	return s.mcpServer
}

// ServeStdio runs the server over stdio until ctx is cancelled, blocking
// the calling goroutine. ARIS has no HTTP server of its own (spec §1 scopes
// the CLI out as an external collaborator), so stdio is the only transport
// wired; mounting the same *mcpgoserver.MCPServer under an HTTP transport
// later needs no changes here.
func (s *Server) ServeStdio(ctx context.Context) error {
	return mcpgoserver.ServeStdio(s.mcpServer, mcpgoserver.WithStdioContextFunc(func(context.Context) context.Context { return ctx }))
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("aris_research",
			mcplib.WithDescription(`Run a multi-hop web research session and persist the result as a deduplicated document.

WHEN TO USE: when the caller wants ARIS to actually go research a question,
not just estimate its cost. This blocks until the hop loop reaches a
terminal state (confidence target met, budget exhausted, or max hops
reached), then runs the result through the deduplication gate.

RETURNS: session outcome (status, hops completed, cost, confidence reached)
and the document action taken — CREATE (new document), MERGE (appended a
section to an existing document), or UPDATE (replaced an existing
document's body), plus the document's identifier and git commit.`),
			mcplib.WithReadOnlyHintAnnotation(false),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("query",
				mcplib.Description("The research question, in natural language."),
				mcplib.Required(),
			),
			mcplib.WithString("topic_id",
				mcplib.Description("UUID of the topic this research belongs to. Create one first if none exists."),
				mcplib.Required(),
			),
			mcplib.WithString("depth",
				mcplib.Description("quick|standard|deep|exhaustive — how many hops and what confidence target to aim for. Defaults to the server's configured default depth."),
			),
			mcplib.WithNumber("max_cost",
				mcplib.Description("Budget ceiling in dollars for this session. Defaults to the server's configured default budget."),
				mcplib.Min(0),
			),
		),
		s.handleResearch,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("aris_cost_estimate",
			mcplib.WithDescription(`Estimate the cost of researching a query without running it.

WHEN TO USE: before calling aris_research, when the caller cares about cost
or wants help choosing a depth. Returns estimated search count, estimated
token usage, estimated dollar cost, and the estimate's own confidence
(lower for complex queries, since the complexity heuristic is noisier
there).`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("query",
				mcplib.Description("The research question to estimate cost for."),
				mcplib.Required(),
			),
			mcplib.WithString("depth",
				mcplib.Description("quick|standard|deep|exhaustive. Defaults to the server's configured default depth."),
			),
			mcplib.WithNumber("budget",
				mcplib.Description("Optional budget to compare the estimate against; the result flags whether the estimate exceeds it."),
				mcplib.Min(0),
			),
		),
		s.handleCostEstimate,
	)
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

func jsonResult(payload any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal result: %v", err))
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}

func (s *Server) handleResearch(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	query := request.GetString("query", "")
	if query == "" {
		return errorResult("query is required"), nil
	}
	topicIDStr := request.GetString("topic_id", "")
	if topicIDStr == "" {
		return errorResult("topic_id is required"), nil
	}
	topicID, err := uuid.Parse(topicIDStr)
	if err != nil {
		return errorResult(fmt.Sprintf("invalid topic_id: %v", err)), nil
	}

	depth := model.Depth(request.GetString("depth", string(s.defaultDepth)))
	if _, ok := model.DepthProfiles[depth]; !ok {
		return errorResult(fmt.Sprintf("unknown depth %q", depth)), nil
	}
	maxCost := request.GetFloat("max_cost", s.defaultBudget)
	if maxCost <= 0 {
		return errorResult("max_cost must be positive"), nil
	}

	result, runErr := s.orch.Run(ctx, orchestrator.Request{
		TopicID:     topicID,
		Query:       query,
		Depth:       depth,
		BudgetLimit: maxCost,
	})
	if runErr != nil {
		payload := map[string]any{
			"error":          runErr.Error(),
			"hops_completed": len(result.Hops),
		}
		if result.Session.ID != uuid.Nil {
			payload["session_id"] = result.Session.ID
			payload["status"] = result.Session.Status
		}
		res := jsonResult(payload)
		res.IsError = true
		return res, nil
	}

	return jsonResult(map[string]any{
		"session_id":     result.Session.ID,
		"status":         result.Session.Status,
		"hops_completed": len(result.Hops),
		"cost":           result.Session.AccumulatedCost,
		"confidence":     result.Session.CurrentConfidence,
		"decision":       result.GateDecision,
		"document_id":    result.Document.ID,
		"document_title": result.Document.Title,
		"git_commit":     result.Document.GitCommit,
		"degraded":       result.Degraded,
	}), nil
}

func (s *Server) handleCostEstimate(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	query := request.GetString("query", "")
	if query == "" {
		return errorResult("query is required"), nil
	}
	depth := model.Depth(request.GetString("depth", string(s.defaultDepth)))
	if _, ok := model.DepthProfiles[depth]; !ok {
		return errorResult(fmt.Sprintf("unknown depth %q", depth)), nil
	}
	budget := request.GetFloat("budget", s.defaultBudget)

	estimate := cost.ForQuery(query, depth, s.prices)
	return jsonResult(map[string]any{
		"estimated_searches": estimate.EstimatedSearches,
		"estimated_tokens":   estimate.EstimatedTokens,
		"estimated_cost":     estimate.EstimatedCost,
		"confidence":         estimate.Confidence,
		"exceeds_budget":     budget > 0 && estimate.EstimatedCost > budget,
	}), nil
}
