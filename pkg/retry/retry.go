// Package retry implements Error Recovery: classifying the errors a
// TurnExecutor or its transport can raise, and computing the backoff
// schedule for retryable ones. Policy is read per-run from the spec
// rather than being process-wide (spec.md §4.7).
package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Kind classifies a turn-executor error for the Harness Kernel.
type Kind int

const (
	// NonRetryable errors surface immediately as a failed run:
	// authentication, bad request, policy rejection.
	NonRetryable Kind = iota
	// Retryable errors are retried with backoff: rate-limit, connection,
	// transient server, request timeout.
	Retryable
)

// ClassifiedError wraps an underlying error with its recovery Kind and,
// for provider rate-limit responses, a server-supplied retry-after delay
// that overrides the computed backoff.
type ClassifiedError struct {
	Kind       Kind
	RetryAfter time.Duration // zero if the provider gave no explicit hint
	Err        error
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }
func (e *ClassifiedError) Unwrap() error { return e.Err }

// AuthError, BadRequestError, and PolicyRejectionError are sentinel
// wrapper types turn executors can return to signal a non-retryable
// condition explicitly, without this package having to pattern-match
// provider-specific messages for them.
type AuthError struct{ Err error }

func (e *AuthError) Error() string { return e.Err.Error() }
func (e *AuthError) Unwrap() error { return e.Err }

type BadRequestError struct{ Err error }

func (e *BadRequestError) Error() string { return e.Err.Error() }
func (e *BadRequestError) Unwrap() error { return e.Err }

type PolicyRejectionError struct{ Err error }

func (e *PolicyRejectionError) Error() string { return e.Err.Error() }
func (e *PolicyRejectionError) Unwrap() error { return e.Err }

// RateLimitError signals a provider rate-limit response; RetryAfter, if
// nonzero, overrides the computed backoff delay.
type RateLimitError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string { return e.Err.Error() }
func (e *RateLimitError) Unwrap() error { return e.Err }

// Classify inspects err and returns its recovery Kind plus any
// server-supplied retry-after override.
func Classify(err error) (Kind, time.Duration) {
	if err == nil {
		return NonRetryable, 0
	}

	var authErr *AuthError
	if errors.As(err, &authErr) {
		return NonRetryable, 0
	}
	var badReq *BadRequestError
	if errors.As(err, &badReq) {
		return NonRetryable, 0
	}
	var policyErr *PolicyRejectionError
	if errors.As(err, &policyErr) {
		return NonRetryable, 0
	}
	var rateLimit *RateLimitError
	if errors.As(err, &rateLimit) {
		return Retryable, rateLimit.RetryAfter
	}

	// Context cancellation/deadline is the caller giving up, not a
	// transport fault — never retry it.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NonRetryable, 0
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		// A network-level timeout (connect/read deadline, not the run's
		// own budget) is treated as a transient server condition.
		return Retryable, 0
	}

	if isConnectionError(err) {
		return Retryable, 0
	}

	return NonRetryable, 0
}

func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{
		"connection refused", "connection reset", "broken pipe",
		"connection closed", "no such host", "timeout",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// Policy is a run's retry configuration, read from its AgentSpec (not
// process-wide).
type Policy struct {
	MaxRetries      int
	InitialInterval time.Duration
	Multiplier      float64
	RandomizationFactor float64
	MaxInterval     time.Duration
}

// DefaultPolicy mirrors the teacher's MCP recovery constants, scaled for
// use as a fallback when a spec does not override retry settings.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:          3,
		InitialInterval:     250 * time.Millisecond,
		Multiplier:          2.0,
		RandomizationFactor: 0.2,
		MaxInterval:         30 * time.Second,
	}
}

// NewBackOff builds a cenkalti/backoff ExponentialBackOff from p, capped
// at p.MaxRetries attempts via backoff.WithMaxRetries.
func (p Policy) NewBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.Multiplier = p.Multiplier
	eb.RandomizationFactor = p.RandomizationFactor
	eb.MaxInterval = p.MaxInterval
	eb.MaxElapsedTime = 0 // bounded by attempt count, not elapsed time
	return backoff.WithMaxRetries(eb, uint64(p.MaxRetries))
}

// Attempt is one scheduled retry: its number and delay. This package
// only computes the delay; the kernel logs the attempt, increments the
// run's retry_count and sleeps, returning early if the context is
// cancelled. No retry event is written to the event trail, and the
// budget is not checked between attempts.
type Attempt struct {
	Number int
	Delay  time.Duration
}

// NextDelay advances bo and returns the delay before the next attempt.
// A zero Attempt with ok=false means retries are exhausted
// (backoff.Stop). retryAfter, if nonzero, overrides the computed delay —
// used when the classified error carried a provider retry-after hint.
func NextDelay(bo backoff.BackOff, attemptNumber int, retryAfter time.Duration) (Attempt, bool) {
	delay := bo.NextBackOff()
	if delay == backoff.Stop {
		return Attempt{}, false
	}
	if retryAfter > 0 {
		delay = retryAfter
	}
	return Attempt{Number: attemptNumber, Delay: delay}, true
}
