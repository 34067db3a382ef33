// Package worker provides the polling primitives the engine runs on: Loop,
// a fixed-interval unit-of-work runner, and Manager, which owns the named
// set of loops and drives coordinated startup and shutdown.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"tgblast/pkg/logx"
)

// Func is one unit of work. A returned error is business-as-usual: it is
// logged and the loop keeps its interval. Only ctx cancellation stops a loop.
type Func func(ctx context.Context) error

// Loop invokes fn every interval until ctx is cancelled. Panics and errors
// from fn are recovered and logged; a single bad tick must not kill the
// polling loop. Consecutive tick failures past errCeiling are escalated to
// error-level logs so persistent trouble surfaces, but the loop retries
// regardless.
type Loop struct {
	Name     string
	Interval time.Duration
	Fn       Func

	// ErrCeiling is the consecutive-failure count at which tick errors are
	// escalated from warn to error logs. Zero means 3.
	ErrCeiling int
}

// Run blocks until ctx is cancelled. It always returns nil on cancellation;
// tick-level failures never propagate.
func (l Loop) Run(ctx context.Context, log logx.Logger) error {
	if l.Fn == nil {
		return fmt.Errorf("worker %s: nil func", l.Name)
	}
	interval := l.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ceiling := l.ErrCeiling
	if ceiling <= 0 {
		ceiling = 3
	}
	log = log.With(logx.String("worker", l.Name))

	consecutive := 0
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		err := l.runOnce(ctx)
		switch {
		case err == nil || ctx.Err() != nil:
			consecutive = 0
		default:
			consecutive++
			if consecutive >= ceiling {
				log.Error("tick keeps failing", logx.Err(err), logx.Int("consecutive", consecutive))
			} else {
				log.Warn("tick failed", logx.Err(err))
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (l Loop) runOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return l.Fn(ctx)
}
