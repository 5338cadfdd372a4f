package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/config"
)

var (
	// ErrNoProvider indicates the agent's configured provider has no binding.
	ErrNoProvider = errors.New("no provider configured for agent")

	// ErrProviderUnavailable indicates no credentials exist for the
	// requested provider in this request.
	ErrProviderUnavailable = errors.New("provider unavailable: missing credentials")
)

// ToolLoopExceededError indicates the model invoked more tool rounds than the
// agent's cap allows.
type ToolLoopExceededError struct {
	MaxSteps int
}

func (e *ToolLoopExceededError) Error() string {
	return fmt.Sprintf("tool loop exceeded %d steps", e.MaxSteps)
}

// AgentAbortedError indicates the stream finished with a non-successful
// finish reason. Retried like a transient failure: a mid-stream provider
// error usually clears on the next attempt.
type AgentAbortedError struct {
	Reason string
}

func (e *AgentAbortedError) Error() string {
	return fmt.Sprintf("agent aborted: finish reason %q", e.Reason)
}

// APIError is a normalized provider API failure.
type APIError struct {
	Provider   config.ProviderType
	StatusCode int
	Code       string // provider error code, e.g. "invalid_request_error"
	Message    string
	// RetryAfter is the provider-suggested wait from a Retry-After header,
	// zero when absent. Used as the backoff floor on retries.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s api error (status %d, code %s): %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s api error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// Retryable reports whether the failure is worth retrying: overload,
// rate limits, server errors, and transport timeouts. Auth, billing, and
// malformed-request failures are not.
func (e *APIError) Retryable() bool {
	switch e.StatusCode {
	case 429:
		return true
	case 400, 401, 402, 403, 404:
		return false
	}
	if e.StatusCode >= 500 {
		return true
	}
	code := strings.ToLower(e.Code)
	if code == "invalid_request_error" || strings.Contains(code, "billing") || strings.Contains(code, "credit") {
		return false
	}
	if e.StatusCode == 0 {
		// No HTTP status: transport-level failure (timeout, reset, DNS).
		return true
	}
	msg := strings.ToLower(e.Message)
	if strings.Contains(msg, "overloaded") || strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "timeout") || strings.Contains(msg, "connection") {
		return true
	}
	return false
}

// IsFatal reports whether an error must stop the pipeline rather than be
// retried: missing providers and non-retriable API failures. Cancellation is
// handled separately via context.Canceled.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoProvider) || errors.Is(err, ErrProviderUnavailable) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return !apiErr.Retryable()
	}
	return false
}

// IsRetriable reports whether the scheduler may retry a failed step.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !IsFatal(err)
}

// RetryAfterHint extracts the provider-suggested retry delay, if any.
func RetryAfterHint(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}
