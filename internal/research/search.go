package research

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aris-project/aris/internal/breaker"
	"github.com/aris-project/aris/internal/errs"
)

// SearchResult is one web search hit, the raw material for model.Evidence.
type SearchResult struct {
	Title       string
	URL         string
	Excerpt     string
}

// SearchClient performs web searches for a hop's query.
type SearchClient interface {
	Search(ctx context.Context, query string, count int) ([]SearchResult, error)
}

const tavilySearchURL = "https://api.tavily.com/search"

// TavilyClient implements SearchClient via the Tavily search API, wrapped
// in a circuit breaker and retry, the same shape as akashi's
// OllamaValidator/OpenAIValidator raw-HTTP clients.
type TavilyClient struct {
	apiKey     string
	httpClient *http.Client
	breaker    *breaker.Breaker
}

// NewTavilyClient creates a search client. Returns ErrConfigurationMissing
// if apiKey is empty.
func NewTavilyClient(apiKey string) (*TavilyClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("research: tavily api key required: %w", errs.ErrConfigurationMissing)
	}
	return &TavilyClient{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		breaker:    breaker.New(breaker.DefaultConfig),
	}, nil
}

type tavilyRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	MaxResults    int    `json:"max_results"`
	SearchDepth   string `json:"search_depth"`
	IncludeAnswer bool   `json:"include_answer"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Search queries Tavily for count results matching query.
func (c *TavilyClient) Search(ctx context.Context, query string, count int) ([]SearchResult, error) {
	var results []SearchResult
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		var doErr error
		results, doErr = c.search(ctx, query, count)
		return doErr
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (c *TavilyClient) search(ctx context.Context, query string, count int) ([]SearchResult, error) {
	var results []SearchResult
	err := WithRetry(ctx, 3, 200*time.Millisecond, IsRetriable, func() error {
		reqBody, err := json.Marshal(tavilyRequest{
			APIKey:      c.apiKey,
			Query:       query,
			MaxResults:  count,
			SearchDepth: "basic",
		})
		if err != nil {
			return fmt.Errorf("research: marshal tavily request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, tavilySearchURL, bytes.NewReader(reqBody))
		if err != nil {
			return fmt.Errorf("research: create tavily request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("research: tavily request failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			if RetriableStatus(resp.StatusCode) {
				return fmt.Errorf("research: tavily status %d: %s: %w", resp.StatusCode, string(body), errs.ErrProviderRetriable)
			}
			return fmt.Errorf("research: tavily status %d: %s: %w", resp.StatusCode, string(body), errs.ErrProviderFatal)
		}

		var parsed tavilyResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return fmt.Errorf("research: decode tavily response: %w", err)
		}

		results = make([]SearchResult, 0, len(parsed.Results))
		for _, r := range parsed.Results {
			results = append(results, SearchResult{Title: r.Title, URL: r.URL, Excerpt: r.Content})
		}
		return nil
	})
	return results, err
}
