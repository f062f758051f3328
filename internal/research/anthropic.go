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

const (
	anthropicMessagesURL = "https://api.anthropic.com/v1/messages"
	anthropicVersion     = "2023-06-01"
	defaultAnthropicModel = "claude-3-5-sonnet-20241022"
	anthropicMaxTokens    = 2048
)

// AnthropicClient implements ReasoningClient via the Anthropic Messages API,
// the raw net/http POST pattern akashi's conflicts.OpenAIValidator uses
// against api.openai.com, pointed at Anthropic's endpoint and header scheme
// instead of Bearer auth.
type AnthropicClient struct {
	apiKey     string
	model      string
	httpClient *http.Client
	breaker    *breaker.Breaker
}

// NewAnthropicClient creates a reasoning client. Returns
// ErrConfigurationMissing if apiKey is empty. model defaults to
// claude-3-5-sonnet-20241022.
func NewAnthropicClient(apiKey, model string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("research: anthropic api key required: %w", errs.ErrConfigurationMissing)
	}
	if model == "" {
		model = defaultAnthropicModel
	}
	return &AnthropicClient{
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		breaker:    breaker.New(breaker.DefaultConfig),
	}, nil
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string              `json:"model"`
	MaxTokens int                 `json:"max_tokens"`
	System    string              `json:"system,omitempty"`
	Messages  []anthropicMessage  `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Complete implements ReasoningClient.
func (c *AnthropicClient) Complete(ctx context.Context, system string, messages []Message) (string, error) {
	var reply string
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		var doErr error
		reply, doErr = c.complete(ctx, system, messages)
		return doErr
	})
	if err != nil {
		return "", err
	}
	return reply, nil
}

func (c *AnthropicClient) complete(ctx context.Context, system string, messages []Message) (string, error) {
	var reply string
	err := WithRetry(ctx, 3, 500*time.Millisecond, IsRetriable, func() error {
		apiMessages := make([]anthropicMessage, 0, len(messages))
		for _, m := range messages {
			apiMessages = append(apiMessages, anthropicMessage{Role: m.Role, Content: m.Content})
		}

		reqBody, err := json.Marshal(anthropicRequest{
			Model:     c.model,
			MaxTokens: anthropicMaxTokens,
			System:    system,
			Messages:  apiMessages,
		})
		if err != nil {
			return fmt.Errorf("research: marshal anthropic request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicMessagesURL, bytes.NewReader(reqBody))
		if err != nil {
			return fmt.Errorf("research: create anthropic request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("anthropic-version", anthropicVersion)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("research: anthropic request failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			if RetriableStatus(resp.StatusCode) {
				return fmt.Errorf("research: anthropic status %d: %s: %w", resp.StatusCode, string(body), errs.ErrProviderRetriable)
			}
			return fmt.Errorf("research: anthropic status %d: %s: %w", resp.StatusCode, string(body), errs.ErrProviderFatal)
		}

		var parsed anthropicResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return fmt.Errorf("research: decode anthropic response: %w", err)
		}
		if len(parsed.Content) == 0 {
			return fmt.Errorf("research: anthropic response has no content blocks: %w", errs.ErrProviderFatal)
		}
		reply = parsed.Content[0].Text
		return nil
	})
	return reply, err
}
