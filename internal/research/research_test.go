package research

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aris-project/aris/internal/errs"
)

func TestRetriableStatus(t *testing.T) {
	require.True(t, RetriableStatus(429))
	require.True(t, RetriableStatus(500))
	require.True(t, RetriableStatus(503))
	require.False(t, RetriableStatus(200))
	require.False(t, RetriableStatus(404))
	require.False(t, RetriableStatus(400))
}

type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string   { return "fake timeout" }
func (fakeTimeoutErr) Timeout() bool   { return true }
func (fakeTimeoutErr) Temporary() bool { return true }

var _ net.Error = fakeTimeoutErr{}

func TestRetriableError(t *testing.T) {
	require.False(t, RetriableError(nil))
	require.False(t, RetriableError(errors.New("plain error")))
	require.True(t, RetriableError(fakeTimeoutErr{}))
}

func TestIsRetriable(t *testing.T) {
	require.False(t, IsRetriable(nil))
	require.False(t, IsRetriable(errors.New("plain error")))
	require.True(t, IsRetriable(fakeTimeoutErr{}))
	require.True(t, IsRetriable(fmt.Errorf("research: tavily status 503: %w", errs.ErrProviderRetriable)))
}

func TestWithRetrySucceedsWithoutRetryingOnNilError(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), 3, time.Millisecond, RetriableError, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestWithRetryStopsImmediatelyOnNonRetriableError(t *testing.T) {
	calls := 0
	sentinel := errors.New("fatal")
	err := WithRetry(context.Background(), 3, time.Millisecond, RetriableError, func() error {
		calls++
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 1, calls)
}

func TestWithRetryExhaustsRetriesOnPersistentRetriableError(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), 2, time.Millisecond, RetriableError, func() error {
		calls++
		return fakeTimeoutErr{}
	})
	require.Error(t, err)
	require.ErrorIs(t, err, errs.ErrProviderUnavailable)
	require.Equal(t, 3, calls) // initial attempt + 2 retries
}

func TestWithRetryRetriesProviderRetriableStatusAndReclassifiesOnExhaustion(t *testing.T) {
	calls := 0
	statusErr := fmt.Errorf("research: tavily status 503: server error: %w", errs.ErrProviderRetriable)
	err := WithRetry(context.Background(), 2, time.Millisecond, IsRetriable, func() error {
		calls++
		return statusErr
	})
	require.ErrorIs(t, err, errs.ErrProviderUnavailable)
	require.ErrorIs(t, err, errs.ErrProviderRetriable)
	require.Equal(t, 3, calls)
}

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), 3, time.Millisecond, RetriableError, func() error {
		calls++
		if calls < 3 {
			return fakeTimeoutErr{}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestWithRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithRetry(ctx, 3, time.Millisecond, RetriableError, func() error {
		return fakeTimeoutErr{}
	})
	require.ErrorIs(t, err, context.Canceled)
}

type fakeReasoningClient struct {
	reply string
	err   error
	calls int
}

func (f *fakeReasoningClient) Complete(_ context.Context, _ string, _ []Message) (string, error) {
	f.calls++
	return f.reply, f.err
}

func TestPlanQueriesSplitsLinesAndTrimsBlank(t *testing.T) {
	client := &fakeReasoningClient{reply: "query one\n\nquery two\n  \nquery three  "}
	queries, err := PlanQueries(context.Background(), client, "semantic search", "none yet")
	require.NoError(t, err)
	require.Equal(t, []string{"query one", "query two", "query three"}, queries)
	require.Equal(t, 1, client.calls)
}

func TestPlanQueriesPropagatesClientError(t *testing.T) {
	sentinel := errors.New("provider down")
	client := &fakeReasoningClient{err: sentinel}
	_, err := PlanQueries(context.Background(), client, "topic", "")
	require.ErrorIs(t, err, sentinel)
}

func TestSynthesizeReturnsReply(t *testing.T) {
	client := &fakeReasoningClient{reply: "distilled findings"}
	results := []SearchResult{{Title: "A", URL: "https://a", Excerpt: "excerpt a"}}
	out, err := Synthesize(context.Background(), client, "sub query", results)
	require.NoError(t, err)
	require.Equal(t, "distilled findings", out)
}

func TestSummarizerAdapterSatisfiesDedupeSummarizer(t *testing.T) {
	client := &fakeReasoningClient{reply: "short summary"}
	s := Summarizer{Client: client}
	out, err := s.Summarize(context.Background(), []string{"section one", "section two"})
	require.NoError(t, err)
	require.Equal(t, "short summary", out)
}

func TestNewTavilyClientRequiresAPIKey(t *testing.T) {
	_, err := NewTavilyClient("")
	require.Error(t, err)
}

func TestNewAnthropicClientDefaultsModel(t *testing.T) {
	client, err := NewAnthropicClient("sk-test", "")
	require.NoError(t, err)
	require.Equal(t, defaultAnthropicModel, client.model)
}

func TestNewAnthropicClientRequiresAPIKey(t *testing.T) {
	_, err := NewAnthropicClient("", "")
	require.Error(t, err)
}

func TestNewOpenAIReasoningClientDefaultsModel(t *testing.T) {
	client, err := NewOpenAIReasoningClient("sk-test", "")
	require.NoError(t, err)
	require.Equal(t, defaultOpenAIModel, client.model)
}

func TestNewOpenAIReasoningClientRequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIReasoningClient("", "")
	require.Error(t, err)
}
