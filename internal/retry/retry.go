// Package retry implements the transfer pipeline's retry policy: a
// wall-clock budget with exponential backoff and jitter, generalized from
// a fixed-attempt-count retry loop into a deadline-aware one that can
// shrink its own budget to fit inside an enclosing context deadline.
package retry

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"net/http"
	"time"
)

// Policy configures retry behavior for a single operation invocation.
// The zero value is not usable; construct via NewPolicy or DefaultPolicy.
type Policy struct {
	// MaxDuration bounds total wall-clock time spent retrying, including
	// the initial attempt. Default 60s.
	MaxDuration time.Duration

	// MaxAttempts, when non-zero, overrides MaxDuration as the stop
	// condition: retries stop once attempt count reaches MaxAttempts
	// regardless of elapsed time.
	MaxAttempts int

	// InitialDelay is the backoff delay before the first retry. Default 100ms.
	InitialDelay time.Duration

	// Backoff is the multiplier applied to the delay after each attempt. Default 2.0.
	Backoff float64

	// RetryAllErrors, when true, retries on any error regardless of classification.
	RetryAllErrors bool

	// SocketTimeout is the per-attempt timeout applied to the operation
	// via context. Default 30s.
	SocketTimeout time.Duration

	// ShouldRetryResponseError, when set, is consulted for errors that
	// are not connect/stream errors and do not carry a 5xx status; a true
	// return forces a retry.
	ShouldRetryResponseError func(err error) bool

	// OnRetry, when set, is called before each retry sleep with the
	// attempt number (1-indexed) and the error that triggered it.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultPolicy returns the policy's documented defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxDuration:   60 * time.Second,
		InitialDelay:  100 * time.Millisecond,
		Backoff:       2.0,
		SocketTimeout: 30 * time.Second,
	}
}

// HTTPStatusError is implemented by errors that carry an HTTP response
// status code, e.g. an error wrapping a non-2xx *http.Response.
type HTTPStatusError interface {
	error
	StatusCode() int
}

// StatusError is a minimal HTTPStatusError implementation for wrapping a
// non-2xx response as an error.
type StatusError struct {
	Status int
	URL    string
}

func (e *StatusError) Error() string {
	return http.StatusText(e.Status) + ": " + e.URL
}

func (e *StatusError) StatusCode() int { return e.Status }

// isConnectError reports whether err represents a failure to establish or
// maintain the underlying connection (dial failure, reset, timeout), as
// opposed to an application-level response error.
func isConnectError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// isStreamBodyError reports whether err represents a failure reading or
// writing the request/response body mid-stream.
func isStreamBodyError(err error) bool {
	return errors.Is(err, io.ErrUnexpectedEOF)
}

func statusCode(err error) (int, bool) {
	var se HTTPStatusError
	if errors.As(err, &se) {
		return se.StatusCode(), true
	}
	return 0, false
}

// shouldRetry implements the five-step decision from the policy: attempt
// budget, wall-clock budget, connect/stream errors, 5xx/predicate/
// retry-all, otherwise stop.
func (p Policy) shouldRetry(attempt int, elapsed time.Duration, nextDelay time.Duration, maxDuration time.Duration, err error) bool {
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		return false
	}
	if p.MaxAttempts == 0 && elapsed+nextDelay >= maxDuration {
		return false
	}
	if isConnectError(err) || isStreamBodyError(err) {
		return true
	}
	if code, ok := statusCode(err); ok && code >= 500 {
		return true
	}
	if p.RetryAllErrors {
		return true
	}
	if p.ShouldRetryResponseError != nil && p.ShouldRetryResponseError(err) {
		return true
	}
	return false
}

// Do executes op, retrying according to the policy until it succeeds, the
// policy says to stop, or ctx is done. If ctx carries a deadline, the
// policy's MaxDuration is shrunk to fit inside it, and SocketTimeout is
// shrunk to half of the (possibly shrunk) MaxDuration if it would
// otherwise exceed it, so at least one retry remains possible.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	maxDuration := p.MaxDuration
	socketTimeout := p.SocketTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < maxDuration {
			maxDuration = remaining
		}
		if socketTimeout > maxDuration {
			socketTimeout = maxDuration / 2
		}
	}

	delay := p.InitialDelay
	start := time.Now()
	attempt := 0

	for {
		attempt++

		attemptCtx := ctx
		var cancel context.CancelFunc
		if socketTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, socketTimeout)
		}
		err := op(attemptCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}

		elapsed := time.Since(start)
		if !p.shouldRetry(attempt, elapsed, delay, maxDuration, err) {
			return err
		}

		wait := delay + time.Duration(rand.Int63n(int64(100*time.Millisecond)))
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		delay = time.Duration(float64(delay) * p.Backoff)
	}
}
