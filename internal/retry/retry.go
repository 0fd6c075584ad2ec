// Package retry provides a deadline-based retry loop with an injectable
// clock, replacing fixed-count sleep-then-retry polling.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
)

// ErrDeadlineExceeded is returned when the budget elapses before an attempt
// succeeds. The last attempt error is attached via errors.Join.
var ErrDeadlineExceeded = errors.New("retry: deadline exceeded")

// Policy bounds a retry loop by total elapsed time rather than attempt count.
type Policy struct {
	// Interval is the fixed pause between attempts.
	Interval time.Duration
	// Budget is the total time allowed across all attempts.
	Budget time.Duration
	// Clock defaults to the real clock; tests inject clock.NewMock().
	Clock clock.Clock
}

// Do runs op until it succeeds, reports a permanent error, the context is
// canceled, or the budget elapses. op returns (retryable, err); a nil err
// stops the loop successfully regardless of retryable.
func (p Policy) Do(ctx context.Context, op func() (bool, error)) error {
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	start := c.Now()
	var lastErr error
	for {
		retryable, err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
		if p.Budget > 0 && c.Since(start)+p.Interval > p.Budget {
			return errors.Join(ErrDeadlineExceeded, lastErr)
		}
		timer := c.Timer(p.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
