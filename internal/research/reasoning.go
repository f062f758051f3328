package research

import (
	"context"
	"fmt"
	"strings"
)

// Role labels one turn in a reasoning exchange.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn fed to a ReasoningClient.
type Message struct {
	Role    string
	Content string
}

// ReasoningClient is the LLM collaborator the orchestrator calls each hop to
// plan sub-queries, synthesize findings against evidence, and summarize a
// document body. A single interface covers all three since each is just a
// differently-prompted chat completion.
type ReasoningClient interface {
	// Complete sends messages with an optional system prompt and returns the
	// model's reply text.
	Complete(ctx context.Context, system string, messages []Message) (string, error)
}

const (
	planSystemPrompt = `You are a research planning assistant. Given a research topic and the ` +
		`findings gathered so far, propose up to 3 focused search queries that would ` +
		`close the most important remaining gaps. Respond with one query per line, no ` +
		`numbering or commentary.`

	synthesizeSystemPrompt = `You are a research analyst. Given a set of search results, extract ` +
		`the concrete findings relevant to the research topic, citing source URLs inline. Be ` +
		`concise and factual; omit anything not supported by the provided evidence.`

	summarizeSystemPrompt = `You summarize a research document's accumulated findings into a ` +
		`short executive summary of no more than 5 sentences.`
)

// PlanQueries asks the reasoning client for up to 3 follow-up search queries
// given the topic and prior findings.
func PlanQueries(ctx context.Context, client ReasoningClient, topic, priorFindings string) ([]string, error) {
	prompt := fmt.Sprintf("Research topic: %s\n\nFindings so far:\n%s\n\nPropose the next search queries.", topic, priorFindings)
	reply, err := client.Complete(ctx, planSystemPrompt, []Message{{Role: RoleUser, Content: prompt}})
	if err != nil {
		return nil, fmt.Errorf("research: plan queries: %w", err)
	}
	return splitNonEmptyLines(reply), nil
}

// Synthesize asks the reasoning client to extract findings from a batch of
// search results for the given sub-query.
func Synthesize(ctx context.Context, client ReasoningClient, subQuery string, results []SearchResult) (string, error) {
	prompt := fmt.Sprintf("Sub-query: %s\n\nSearch results:\n%s", subQuery, formatResultsForPrompt(results))
	reply, err := client.Complete(ctx, synthesizeSystemPrompt, []Message{{Role: RoleUser, Content: prompt}})
	if err != nil {
		return "", fmt.Errorf("research: synthesize: %w", err)
	}
	return reply, nil
}

// Summarize condenses a document's section bodies into a short executive
// summary. The Summarizer type below wraps it to implement
// dedupe.Summarizer.
func Summarize(ctx context.Context, client ReasoningClient, sections []string) (string, error) {
	prompt := "Sections:\n\n"
	for _, s := range sections {
		prompt += s + "\n\n"
	}
	reply, err := client.Complete(ctx, summarizeSystemPrompt, []Message{{Role: RoleUser, Content: prompt}})
	if err != nil {
		return "", fmt.Errorf("research: summarize: %w", err)
	}
	return reply, nil
}

// Summarizer adapts a ReasoningClient to dedupe.Summarizer so the gate can
// regenerate a document's summary after an UPDATE merge without importing
// internal/research's concrete client types.
type Summarizer struct {
	Client ReasoningClient
}

// Summarize implements dedupe.Summarizer.
func (s Summarizer) Summarize(ctx context.Context, sections []string) (string, error) {
	return Summarize(ctx, s.Client, sections)
}

func formatResultsForPrompt(results []SearchResult) string {
	out := ""
	for i, r := range results {
		out += fmt.Sprintf("%d. %s (%s)\n%s\n\n", i+1, r.Title, r.URL, r.Excerpt)
	}
	return out
}

func splitNonEmptyLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
