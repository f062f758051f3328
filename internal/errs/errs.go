// Package errs defines the error taxonomy shared across ARIS components.
// Call sites wrap these sentinels with fmt.Errorf("<component>: <action>: %w", err)
// so errors.Is still matches through the wrapping.
package errs

import "errors"

var (
	// ErrConfigurationMissing indicates a required configuration value
	// (an API key, a data directory) was not supplied.
	ErrConfigurationMissing = errors.New("aris: configuration missing")

	// ErrBudgetExceeded is returned by the cost manager when authorizing an
	// operation would bring accumulated+estimated cost strictly above the
	// session's budget limit.
	ErrBudgetExceeded = errors.New("aris: budget exceeded")

	// ErrProviderUnavailable is returned when a breaker is open, or a
	// retriable provider error exhausted its retry budget.
	ErrProviderUnavailable = errors.New("aris: provider unavailable")

	// ErrProviderRetriable marks an error as transient (timeout, 5xx,
	// rate-limited with Retry-After); the internal/research clients retry it
	// with research.WithRetry inside the breaker call.
	ErrProviderRetriable = errors.New("aris: provider error is retriable")

	// ErrProviderFatal marks an error as non-retriable (auth, invalid
	// request); the orchestrator fails the hop immediately.
	ErrProviderFatal = errors.New("aris: provider error is fatal")

	// ErrEmbeddingUnavailable signals the embedding provider failed; callers
	// degrade to the lexical similarity fallback rather than failing.
	ErrEmbeddingUnavailable = errors.New("aris: embedding provider unavailable")

	// ErrStorageConflict indicates a transient storage-layer conflict
	// (serialization failure, deadlock) eligible for a single retry.
	ErrStorageConflict = errors.New("aris: storage conflict")

	// ErrGitOperationFailed indicates a git commit/write failed.
	ErrGitOperationFailed = errors.New("aris: git operation failed")

	// ErrInvalidInput indicates the caller supplied a malformed request.
	ErrInvalidInput = errors.New("aris: invalid input")

	// ErrCancelled indicates the session was cancelled by the operator.
	ErrCancelled = errors.New("aris: cancelled")

	// ErrInternal is a catch-all for defects that are not one of the above.
	ErrInternal = errors.New("aris: internal error")

	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("aris: not found")
)
