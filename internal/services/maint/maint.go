// Package maint is the account lifecycle maintenance loop: it releases
// elapsed flood waits back into rotation and resets daily quota counters on
// the configured cron cycle.
package maint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"tgblast/internal/storage"
	"tgblast/pkg/logx"
)

// Config tunes the maintenance worker.
type Config struct {
	// ResetSchedule is the cron spec of the daily quota reset,
	// default "0 0 * * *" (midnight).
	ResetSchedule string
}

type Service struct {
	store storage.AccountStore
	log   logx.Logger

	mu        sync.Mutex
	schedule  cron.Schedule
	nextReset time.Time
}

func New(cfg Config, store storage.AccountStore, log logx.Logger) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	spec := cfg.ResetSchedule
	if spec == "" {
		spec = "0 0 * * *"
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("maint: reset schedule: %w", err)
	}
	return &Service{
		store:     store,
		log:       log,
		schedule:  sched,
		nextReset: sched.Next(time.Now()),
	}, nil
}

func (s *Service) Tick(ctx context.Context) error {
	now := time.Now()

	released, err := s.store.ReleaseFloodWaits(ctx, now)
	if err != nil {
		return fmt.Errorf("maint: release flood waits: %w", err)
	}
	if released > 0 {
		s.log.Info("flood waits released", logx.Int64("accounts", released))
	}

	s.mu.Lock()
	due := !now.Before(s.nextReset)
	if due {
		s.nextReset = s.schedule.Next(now)
	}
	s.mu.Unlock()
	if due {
		n, err := s.store.ResetDailyCounters(ctx)
		if err != nil {
			return fmt.Errorf("maint: reset daily counters: %w", err)
		}
		s.log.Info("daily quota counters reset", logx.Int64("accounts", n))
	}
	return nil
}
