package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xiaot623/gogo/uxrunner/internal/adapter/session"
)

// ErrSessionNotReady is returned when the session never answered a health check.
var ErrSessionNotReady = errors.New("runner: session not ready")

// Backoff is an exponential schedule with a per-wait cap.
type Backoff struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

// Delay returns the wait before retry n (n >= 1).
func (b Backoff) Delay(n int) time.Duration {
	d := b.Base
	for i := 1; i < n; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

// WaitReady pings immediately and then with exponential backoff until ping
// succeeds or the attempts run out. A missing session ends the wait at once.
func WaitReady(ctx context.Context, b Backoff, ping func(context.Context) error) error {
	attempts := b.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for n := 0; n < attempts; n++ {
		if n > 0 {
			if err := sleep(ctx, b.Delay(n)); err != nil {
				return err
			}
		}
		err := ping(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrStaleExecution) || errors.Is(err, session.ErrSessionNotFound) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrSessionNotReady, attempts, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
