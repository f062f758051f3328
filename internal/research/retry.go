// Package research implements the external collaborators the orchestrator
// drives each hop: a web search client and an LLM reasoning client. Both
// are raw net/http clients in the teacher's style (internal/conflicts's
// Ollama/OpenAI validators, internal/tools.SearchTool's Brave client), each
// wrapped in a circuit breaker and a jittered-backoff retry loop adapted
// from internal/storage.WithRetry's shape but keyed on HTTP status/network
// error instead of a Postgres error code.
package research

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"github.com/aris-project/aris/internal/errs"
)

// RetriableStatus reports whether an HTTP status code indicates a
// transient failure worth retrying: 429 (rate limited) and 5xx (server
// error), but never 4xx client errors other than 429.
func RetriableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// RetriableError reports whether err is a transient network-level failure
// (timeout, connection reset, DNS hiccup) rather than a permanent one such
// as a malformed request.
func RetriableError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsRetriable reports whether err is worth retrying: either a network-level
// failure (RetriableError) or a provider response explicitly tagged
// errs.ErrProviderRetriable by RetriableStatus at the call site.
func IsRetriable(err error) bool {
	return RetriableError(err) || errors.Is(err, errs.ErrProviderRetriable)
}

// WithRetry executes fn, retrying up to maxRetries times when fn returns a
// retriable error (as reported by isRetriable). Retries use jittered
// exponential backoff starting at baseDelay, mirroring
// internal/storage.WithRetry. If retries are exhausted on a still-retriable
// error, the returned error is reclassified as errs.ErrProviderUnavailable
// so callers can distinguish "the provider never recovered" from other
// failure modes without inspecting the underlying error.
func WithRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, isRetriable func(error) bool, fn func() error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = fn()
		if err == nil || !isRetriable(err) {
			return err
		}
		if attempt == maxRetries {
			break
		}
		jitter := time.Duration(rand.Int64N(int64(baseDelay)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(baseDelay + jitter):
		}
		baseDelay *= 2
	}
	return fmt.Errorf("research: retries exhausted: %w: %w", errs.ErrProviderUnavailable, err)
}
