// Package retry runs an operation a bounded number of times with doubling
// backoff, aborting early when the context ends or the error is permanent.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Policy bounds the retries of one operation.
type Policy struct {
	// Attempts is the total number of tries, including the first (default 4).
	Attempts int
	// Backoff is the wait before the second try; it doubles after every
	// failure (default 1s).
	Backoff time.Duration
	// Retryable reports whether err is worth another try. Nil retries every
	// error.
	Retryable func(error) bool
	Logger    *slog.Logger
}

func (p *Policy) defaults() {
	if p.Attempts <= 0 {
		p.Attempts = 4
	}
	if p.Backoff <= 0 {
		p.Backoff = time.Second
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
}

// Do calls fn until it succeeds, returns a permanent error, or the attempts
// are used up. The last error is returned wrapped.
func Do(ctx context.Context, p Policy, op string, fn func(context.Context) error) error {
	p.defaults()
	backoff := p.Backoff
	var lastErr error
	for i := 0; i < p.Attempts; i++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if i == p.Attempts-1 {
			break
		}

		p.Logger.Warn("Operation failed, will retry.",
			"operation", op,
			"attempt", i+1,
			"maxAttempts", p.Attempts,
			"backoff", backoff.String(),
			"error", err,
		)
		t := time.NewTimer(backoff)
		select {
		case <-t.C:
			backoff *= 2
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%s: context ended during retry: %w", op, ctx.Err())
		}
	}
	p.Logger.Error("Operation failed after all retries.", "operation", op, "error", lastErr)
	return fmt.Errorf("%s failed after %d attempts: %w", op, p.Attempts, lastErr)
}
