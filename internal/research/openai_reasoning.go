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
	openAIChatCompletionsURL = "https://api.openai.com/v1/chat/completions"
	defaultOpenAIModel       = "gpt-4o-mini"
)

// OpenAIReasoningClient implements ReasoningClient via the OpenAI chat
// completions API, the same shape as akashi's conflicts.OpenAIValidator.
// Used as the alternate reasoning provider when ANTHROPIC credentials are
// not configured.
type OpenAIReasoningClient struct {
	apiKey     string
	model      string
	httpClient *http.Client
	breaker    *breaker.Breaker
}

// NewOpenAIReasoningClient creates a reasoning client. Returns
// ErrConfigurationMissing if apiKey is empty. model defaults to gpt-4o-mini.
func NewOpenAIReasoningClient(apiKey, model string) (*OpenAIReasoningClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("research: openai api key required: %w", errs.ErrConfigurationMissing)
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIReasoningClient{
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		breaker:    breaker.New(breaker.DefaultConfig),
	}, nil
}

type openAIReasoningMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIReasoningRequest struct {
	Model    string                   `json:"model"`
	Messages []openAIReasoningMessage `json:"messages"`
}

type openAIReasoningResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete implements ReasoningClient.
func (c *OpenAIReasoningClient) Complete(ctx context.Context, system string, messages []Message) (string, error) {
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

func (c *OpenAIReasoningClient) complete(ctx context.Context, system string, messages []Message) (string, error) {
	var reply string
	err := WithRetry(ctx, 3, 500*time.Millisecond, IsRetriable, func() error {
		apiMessages := make([]openAIReasoningMessage, 0, len(messages)+1)
		if system != "" {
			apiMessages = append(apiMessages, openAIReasoningMessage{Role: "system", Content: system})
		}
		for _, m := range messages {
			apiMessages = append(apiMessages, openAIReasoningMessage{Role: m.Role, Content: m.Content})
		}

		reqBody, err := json.Marshal(openAIReasoningRequest{
			Model:    c.model,
			Messages: apiMessages,
		})
		if err != nil {
			return fmt.Errorf("research: marshal openai request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, openAIChatCompletionsURL, bytes.NewReader(reqBody))
		if err != nil {
			return fmt.Errorf("research: create openai request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("research: openai request failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			if RetriableStatus(resp.StatusCode) {
				return fmt.Errorf("research: openai status %d: %s: %w", resp.StatusCode, string(body), errs.ErrProviderRetriable)
			}
			return fmt.Errorf("research: openai status %d: %s: %w", resp.StatusCode, string(body), errs.ErrProviderFatal)
		}

		var parsed openAIReasoningResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return fmt.Errorf("research: decode openai response: %w", err)
		}
		if len(parsed.Choices) == 0 {
			return fmt.Errorf("research: openai response has no choices: %w", errs.ErrProviderFatal)
		}
		reply = parsed.Choices[0].Message.Content
		return nil
	})
	return reply, err
}
