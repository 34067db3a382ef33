// Package auth drives enrolled accounts through authorization. The wire
// protocol is the Authorizer's problem; this worker only advances account
// status as authorization progresses.
package auth

import (
	"context"
	"fmt"

	"tgblast/internal/domain"
	"tgblast/internal/notify"
	"tgblast/internal/storage"
	"tgblast/pkg/logx"
)

// Authorizer is the opaque authorization capability. Step inspects the
// account and returns the status it should move to next: pending accounts
// get a code requested (code_sent), code_sent accounts whose code has been
// supplied become active, accounts still waiting stay put.
type Authorizer interface {
	Step(ctx context.Context, a *domain.Account) (domain.AccountStatus, error)
}

// Config tunes the authorization worker.
type Config struct {
	// BatchSize bounds accounts processed per tick.
	BatchSize int
	// ErrorCeiling pulls an account to error status after this many
	// consecutive authorization failures.
	ErrorCeiling int
}

type Service struct {
	cfg      Config
	store    storage.AccountStore
	az       Authorizer
	notifier notify.Notifier
	log      logx.Logger
}

func New(cfg Config, store storage.AccountStore, az Authorizer, n notify.Notifier, log logx.Logger) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.ErrorCeiling <= 0 {
		cfg.ErrorCeiling = 5
	}
	if n == nil {
		n = notify.Nop()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, store: store, az: az, notifier: n, log: log}
}

// Tick advances every account currently in an authorization state.
func (s *Service) Tick(ctx context.Context) error {
	for _, st := range []domain.AccountStatus{domain.AccountPending, domain.AccountCodeSent} {
		accounts, err := s.store.AccountsByStatus(ctx, st, s.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("auth: list %s accounts: %w", st, err)
		}
		for _, a := range accounts {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.step(ctx, a)
		}
	}
	return nil
}

func (s *Service) step(ctx context.Context, a *domain.Account) {
	next, err := s.az.Step(ctx, a)
	if err != nil {
		a.ConsecutiveErrors++
		a.LastError = err.Error()
		if a.ConsecutiveErrors >= s.cfg.ErrorCeiling {
			if terr := a.SetStatus(domain.AccountError); terr == nil {
				s.log.Warn("account failed authorization repeatedly; pulled",
					logx.Int64("account", a.ID), logx.Err(err))
			}
		} else {
			s.log.Debug("authorization step failed", logx.Int64("account", a.ID), logx.Err(err))
		}
		if uerr := s.store.UpdateAccount(ctx, a); uerr != nil {
			s.log.Warn("persist account failed", logx.Int64("account", a.ID), logx.Err(uerr))
		}
		return
	}
	if next == a.Status {
		return
	}
	if err := a.SetStatus(next); err != nil {
		s.log.Warn("authorizer proposed illegal transition", logx.Int64("account", a.ID), logx.Err(err))
		return
	}
	a.ConsecutiveErrors = 0
	a.LastError = ""
	if err := s.store.UpdateAccount(ctx, a); err != nil {
		s.log.Warn("persist account failed", logx.Int64("account", a.ID), logx.Err(err))
		return
	}
	if next == domain.AccountActive {
		s.log.Info("account authorized", logx.Int64("account", a.ID))
		s.notifier.Notify(domain.Event{
			Type: domain.EventAccountActivated, OwnerID: a.OwnerID, AccountID: a.ID,
			Text: fmt.Sprintf("Account %s is authorized and active", a.Name),
		})
	}
}
