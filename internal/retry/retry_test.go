package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errPermanent = errors.New("permanent")

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 3, Backoff: time.Millisecond}, "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("err = %v, calls = %d", err, calls)
	}
}

func TestDoGivesUp(t *testing.T) {
	transient := errors.New("transient")
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 2, Backoff: time.Millisecond}, "op", func(context.Context) error {
		calls++
		return transient
	})
	if !errors.Is(err, transient) || calls != 2 {
		t.Fatalf("err = %v, calls = %d", err, calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	p := Policy{Attempts: 5, Backoff: time.Millisecond, Retryable: func(err error) bool { return !errors.Is(err, errPermanent) }}
	err := Do(context.Background(), p, "op", func(context.Context) error {
		calls++
		return errPermanent
	})
	if err != errPermanent || calls != 1 {
		t.Fatalf("err = %v, calls = %d", err, calls)
	}
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{Attempts: 5, Backoff: time.Hour}, "op", func(context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) || calls != 1 {
		t.Fatalf("err = %v, calls = %d", err, calls)
	}
}
