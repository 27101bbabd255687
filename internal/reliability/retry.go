// Package reliability classifies transient infrastructure failures and
// retries them with capped exponential backoff.
package reliability

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"
)

// Transient reports whether err is worth retrying. Context cancellation is
// never transient; the caller has already given up.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return true
	}
	return false
}

// Backoff computes a deterministic capped backoff duration for attempt
// (zero-based).
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	return d
}

// Retry runs fn up to attempts times, sleeping a capped exponential backoff
// between tries. It stops early on a non-transient error or on context
// cancellation and returns the last error observed.
func Retry(ctx context.Context, attempts int, base, max time.Duration, fn func(context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !Transient(lastErr) || attempt == attempts-1 {
			return lastErr
		}

		timer := time.NewTimer(Backoff(attempt, base, max))
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}
	return lastErr
}
