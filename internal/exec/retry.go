package exec

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrContextOverflow marks a provider rejection because the prompt
// exceeded the model's context window. It is never retried (§9: "retry
// with backoff up to three times... context-overflow is fatal for this
// cell").
var ErrContextOverflow = errors.New("context window exceeded")

// retryPolicy is the fixed three-attempt, fixed-category policy
// prescribed by §9: a small bespoke helper rather than a generic retry
// library, since the policy is this narrow.
type retryPolicy struct {
	attempts int
	base     time.Duration
}

var defaultRetryPolicy = retryPolicy{attempts: 3, base: 200 * time.Millisecond}

// withRetry runs fn up to p.attempts times, backing off exponentially
// between attempts, but only when the error is classified retriable.
// Context cancellation always aborts immediately regardless of category.
func withRetry(ctx context.Context, p retryPolicy, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < p.attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isRetriable(lastErr) {
			return lastErr
		}
		if attempt == p.attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.base * time.Duration(1<<attempt)):
		}
	}
	return lastErr
}

// isRetriable classifies a provider error by category: rate limiting and
// transient 5xx responses are retried; context-overflow and everything
// else are not. Vendor SDKs surface these as plain errors rather than a
// shared sentinel type across openai-go/anthropic-sdk-go/genai, so the
// category is read off the error message — the same coarse classification
// §9 prescribes ("keyed by error category", not a typed error hierarchy).
func isRetriable(err error) bool {
	if errors.Is(err, ErrContextOverflow) {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "429"),
		strings.Contains(msg, "500"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "temporarily unavailable"):
		return true
	default:
		return false
	}
}
