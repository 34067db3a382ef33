// Package dispatch drives running campaigns: each tick it picks the next
// unsent recipient, selects an account from the pool, performs the send, and
// writes the outcome back. All progress lives in persisted campaign counters
// and recipient sent flags, so a process restart resumes mid-campaign by
// re-entering the same tick with no in-memory state load-bearing for
// correctness.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tgblast/internal/domain"
	"tgblast/internal/notify"
	"tgblast/internal/pacing"
	"tgblast/internal/pool"
	"tgblast/internal/storage"
	"tgblast/pkg/logx"
)

// Service is the campaign dispatcher.
type Service struct {
	cfg      Config
	store    storage.Store
	pool     *pool.Pool
	pacing   *pacing.Policy
	sender   Sender
	notifier notify.Notifier
	renderer *Renderer
	log      logx.Logger

	// nextDue holds per-campaign earliest next send times. Advisory only:
	// losing it on restart merely sends the first post-restart message
	// without the pacing delay.
	mu      sync.Mutex
	nextDue map[string]time.Time
}

func New(cfg Config, store storage.Store, p *pool.Pool, pac *pacing.Policy, sender Sender, n notify.Notifier, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if n == nil {
		n = notify.Nop()
	}
	return &Service{
		cfg:      cfg.withDefaults(),
		store:    store,
		pool:     p,
		pacing:   pac,
		sender:   sender,
		notifier: n,
		renderer: NewRenderer(),
		log:      log,
		nextDue:  map[string]time.Time{},
	}
}

// Tick processes every running campaign once, sequentially. Sequential
// processing within a tick means a campaign is never handled by two
// concurrent ticks; the worker loop never overlaps Tick invocations.
func (s *Service) Tick(ctx context.Context) error {
	campaigns, err := s.store.CampaignsByStatus(ctx, domain.CampaignRunning)
	if err != nil {
		return fmt.Errorf("dispatch: load running campaigns: %w", err)
	}
	for _, c := range campaigns {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.tickCampaign(ctx, c); err != nil {
			// Infrastructure trouble on one campaign must not starve the
			// rest; log and move on, the next interval retries.
			s.log.Warn("campaign tick failed", logx.String("campaign", c.ID), logx.Err(err))
		}
	}
	return nil
}

func (s *Service) tickCampaign(ctx context.Context, c *domain.Campaign) error {
	now := time.Now()

	// Quiet hours: skip with no state change.
	if until, ok := s.pacing.QuietUntil(now); ok {
		s.log.Debug("quiet hours; skipping campaign",
			logx.String("campaign", c.ID), logx.Time("until", until))
		return nil
	}

	// Honor the pacing delay from the previous send.
	s.mu.Lock()
	due := s.nextDue[c.ID]
	s.mu.Unlock()
	if now.Before(due) {
		return nil
	}

	rcpt, err := s.store.NextUnsent(ctx, c.SourceID, s.cfg.RetryCeil)
	if errors.Is(err, storage.ErrNotFound) {
		return s.complete(ctx, c)
	}
	if err != nil {
		return fmt.Errorf("next unsent: %w", err)
	}

	lease, err := s.pool.Acquire(ctx, c)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	if lease == nil {
		// Capacity exhaustion. With auto_switch this is transient
		// backpressure: quotas and flood waits reset over time.
		if c.Settings.AutoSwitch {
			s.log.Debug("no eligible account; deferring", logx.String("campaign", c.ID))
			return nil
		}
		return s.fail(ctx, c, "no eligible account and auto_switch is off")
	}

	acct := lease.Account
	if c.CurrentAccountID == nil || *c.CurrentAccountID != acct.ID {
		id := acct.ID
		c.CurrentAccountID = &id
		if err := s.store.UpdateCampaign(ctx, c); err != nil {
			lease.Release()
			return fmt.Errorf("record current account: %w", err)
		}
	}

	tpl, err := s.store.Template(ctx, c.TemplateID)
	if err != nil {
		lease.Release()
		return fmt.Errorf("load template: %w", err)
	}
	text, err := s.renderer.Render(tpl, rcpt)
	if err != nil {
		lease.Release()
		return fmt.Errorf("render: %w", err)
	}

	// Process-wide send pacing.
	if err := s.pacing.Wait(ctx); err != nil {
		lease.Release()
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	out := s.sender.Send(sendCtx, acct, rcpt, text)
	cancel()

	// A cancelled send is abandoned before commit: the recipient stays
	// unmarked and the next process resumes it.
	if ctx.Err() != nil && out.Kind != domain.OutcomeSent {
		lease.Release()
		return ctx.Err()
	}

	// The provider has spoken; the commit must not be lost to shutdown.
	// Detach from cancellation so record-commit happens-before the loop
	// observes it.
	commitCtx, commitCancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer commitCancel()

	if err := s.applyOutcome(commitCtx, c, acct, rcpt, lease, out); err != nil {
		return err
	}

	s.mu.Lock()
	s.nextDue[c.ID] = time.Now().Add(s.pacing.NextDelay(c, time.Now()))
	s.mu.Unlock()
	return nil
}

func (s *Service) applyOutcome(ctx context.Context, c *domain.Campaign, acct *domain.Account, rcpt *domain.Recipient, lease *pool.Lease, out domain.Outcome) error {
	switch out.Kind {
	case domain.OutcomeSent:
		if err := lease.Commit(ctx, out); err != nil {
			return err
		}
		claimed, err := s.store.ClaimSent(ctx, rcpt.ID, time.Now())
		if err != nil {
			return fmt.Errorf("mark recipient: %w", err)
		}
		if claimed {
			c.SentCount++
			if err := s.store.UpdateCampaign(ctx, c); err != nil {
				return fmt.Errorf("update counters: %w", err)
			}
			if re := c.Settings.ReportEvery; re > 0 && c.SentCount%re == 0 {
				s.notifier.Notify(domain.Event{
					Type: domain.EventCampaignProgress, OwnerID: c.OwnerID, CampaignID: c.ID,
					Text: fmt.Sprintf("Campaign %q: %d/%d sent, %d failed", c.Name, c.SentCount, c.TotalCount, c.FailedCount),
				})
			}
		}
		if c.Done() {
			return s.complete(ctx, c)
		}
		return nil

	case domain.OutcomeThrottled:
		// The recipient stays eligible; a different account retries later.
		if err := lease.Commit(ctx, out); err != nil {
			return err
		}
		s.notifier.Notify(domain.Event{
			Type: domain.EventAccountFloodWait, OwnerID: c.OwnerID, CampaignID: c.ID, AccountID: acct.ID,
			Text: fmt.Sprintf("Account %s throttled for %s; campaign %q continues on other accounts", acct.Name, out.RetryAfter, c.Name),
		})
		return nil

	case domain.OutcomeError:
		if err := lease.Commit(ctx, out); err != nil {
			return err
		}
		if out.RecipientPermanent {
			return s.giveUpRecipient(ctx, c, rcpt)
		}
		if err := s.store.BumpAttempts(ctx, rcpt.ID); err != nil {
			return fmt.Errorf("bump attempts: %w", err)
		}
		if rcpt.Attempts+1 >= s.cfg.RetryCeil {
			// Retry ceiling reached: count the recipient as failed so
			// the campaign can still complete.
			return s.giveUpRecipient(ctx, c, rcpt)
		}
		s.log.Debug("transient send error; recipient will be retried",
			logx.String("campaign", c.ID), logx.Int64("recipient", rcpt.ID), logx.String("reason", out.Reason))
		return nil

	case domain.OutcomeFatal:
		if err := lease.Commit(ctx, out); err != nil {
			return err
		}
		s.notifier.Notify(domain.Event{
			Type: domain.EventAccountBlocked, OwnerID: c.OwnerID, CampaignID: c.ID, AccountID: acct.ID,
			Text: fmt.Sprintf("Account %s was blocked by the provider; campaign %q continues on remaining accounts", acct.Name, c.Name),
		})
		return nil

	default:
		lease.Release()
		return fmt.Errorf("dispatch: unknown outcome %q", out.Kind)
	}
}

// giveUpRecipient marks a recipient as visited-and-failed.
func (s *Service) giveUpRecipient(ctx context.Context, c *domain.Campaign, rcpt *domain.Recipient) error {
	claimed, err := s.store.ClaimSent(ctx, rcpt.ID, time.Now())
	if err != nil {
		return fmt.Errorf("mark recipient: %w", err)
	}
	if claimed {
		c.FailedCount++
		if err := s.store.UpdateCampaign(ctx, c); err != nil {
			return fmt.Errorf("update counters: %w", err)
		}
	}
	if c.Done() {
		return s.complete(ctx, c)
	}
	return nil
}

func (s *Service) complete(ctx context.Context, c *domain.Campaign) error {
	if c.Status == domain.CampaignCompleted {
		return nil
	}
	if err := c.SetStatus(domain.CampaignCompleted); err != nil {
		return err
	}
	if err := s.store.UpdateCampaign(ctx, c); err != nil {
		return fmt.Errorf("complete campaign: %w", err)
	}
	s.forget(c.ID)
	s.log.Info("campaign completed", logx.String("campaign", c.ID),
		logx.Int("sent", c.SentCount), logx.Int("failed", c.FailedCount))
	s.notifier.Notify(domain.Event{
		Type: domain.EventCampaignCompleted, OwnerID: c.OwnerID, CampaignID: c.ID,
		Text: fmt.Sprintf("Campaign %q completed: %d sent, %d failed of %d", c.Name, c.SentCount, c.FailedCount, c.TotalCount),
	})
	return nil
}

func (s *Service) fail(ctx context.Context, c *domain.Campaign, reason string) error {
	c.FailReason = reason
	if err := c.SetStatus(domain.CampaignFailed); err != nil {
		return err
	}
	if err := s.store.UpdateCampaign(ctx, c); err != nil {
		return fmt.Errorf("fail campaign: %w", err)
	}
	s.forget(c.ID)
	s.log.Warn("campaign failed", logx.String("campaign", c.ID), logx.String("reason", reason))
	s.notifier.Notify(domain.Event{
		Type: domain.EventCampaignFailed, OwnerID: c.OwnerID, CampaignID: c.ID,
		Text: fmt.Sprintf("Campaign %q failed: %s", c.Name, reason),
	})
	return nil
}

func (s *Service) forget(campaignID string) {
	s.mu.Lock()
	delete(s.nextDue, campaignID)
	s.mu.Unlock()
}
