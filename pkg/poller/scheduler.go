package poller

import (
	"context"
	"errors"
	"time"
)

// Scheduler calls tick periodically until ctx is done.
// Run blocks; it returns nil on a clean shutdown.
type Scheduler interface {
	Run(ctx context.Context, tick func(context.Context)) error
}

// SchedulerFunc adapts a function to Scheduler.
type SchedulerFunc func(ctx context.Context, tick func(context.Context)) error

// Run implements Scheduler.
func (f SchedulerFunc) Run(ctx context.Context, tick func(context.Context)) error {
	return f(ctx, tick)
}

// Ticker is a fixed-period scheduler.
type Ticker struct {
	Interval time.Duration

	// Immediate fires the first tick right away instead of after one period.
	Immediate bool
}

// Run implements Scheduler.
func (t Ticker) Run(ctx context.Context, tick func(context.Context)) error {
	if t.Interval <= 0 {
		return errors.New("poller: ticker interval must be positive")
	}

	if t.Immediate {
		tick(ctx)
	}

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			tick(ctx)
		}
	}
}
