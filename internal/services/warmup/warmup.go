// Package warmup exercises young accounts during configured windows so they
// build believable history before carrying campaign traffic. What a warm-up
// action actually does (join channels, read dialogs) is the Warmer's concern.
package warmup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"tgblast/internal/domain"
	"tgblast/internal/storage"
	"tgblast/pkg/logx"
)

// Warmer is the opaque warm-up capability.
type Warmer interface {
	Warm(ctx context.Context, a *domain.Account) error
}

// Config tunes the warm-up worker.
type Config struct {
	// Schedule is a cron spec (standard 5-field) marking warm-up rounds,
	// e.g. "0 */4 * * *" for every four hours. Empty disables warm-up.
	Schedule string
	// MaxAgeDays: accounts older than this are considered warmed and are
	// left alone.
	MaxAgeDays int
	// BatchSize bounds accounts warmed per round.
	BatchSize int
}

type Service struct {
	cfg    Config
	store  storage.AccountStore
	warmer Warmer
	log    logx.Logger

	mu       sync.Mutex
	schedule cron.Schedule
	nextRun  time.Time
}

func New(cfg Config, store storage.AccountStore, w Warmer, log logx.Logger) (*Service, error) {
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 14
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{cfg: cfg, store: store, warmer: w, log: log}
	if cfg.Schedule != "" {
		sched, err := cron.ParseStandard(cfg.Schedule)
		if err != nil {
			return nil, fmt.Errorf("warmup: schedule: %w", err)
		}
		s.schedule = sched
		s.nextRun = sched.Next(time.Now())
	}
	return s, nil
}

// Tick runs one warm-up round when the schedule says so.
func (s *Service) Tick(ctx context.Context) error {
	s.mu.Lock()
	sched := s.schedule
	next := s.nextRun
	s.mu.Unlock()
	if sched == nil {
		return nil
	}
	now := time.Now()
	if now.Before(next) {
		return nil
	}
	s.mu.Lock()
	s.nextRun = sched.Next(now)
	s.mu.Unlock()

	accounts, err := s.store.AccountsByStatus(ctx, domain.AccountActive, 0)
	if err != nil {
		return fmt.Errorf("warmup: list accounts: %w", err)
	}

	warmed := 0
	for _, a := range accounts {
		if warmed >= s.cfg.BatchSize {
			break
		}
		if a.AgeDays(now) >= s.cfg.MaxAgeDays {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.warmer.Warm(ctx, a); err != nil {
			s.log.Debug("warm-up failed", logx.Int64("account", a.ID), logx.Err(err))
			continue
		}
		warmed++
	}
	if warmed > 0 {
		s.log.Info("warm-up round done", logx.Int("accounts", warmed))
	}
	return nil
}
