// Package sched promotes scheduled campaigns: pending campaigns whose
// start_at has passed transition to running, where the dispatcher picks them
// up on its next tick.
package sched

import (
	"context"
	"fmt"
	"time"

	"tgblast/internal/domain"
	"tgblast/internal/notify"
	"tgblast/internal/storage"
	"tgblast/pkg/logx"
)

type Service struct {
	store    storage.CampaignStore
	notifier notify.Notifier
	log      logx.Logger
}

func New(store storage.CampaignStore, n notify.Notifier, log logx.Logger) *Service {
	if n == nil {
		n = notify.Nop()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, notifier: n, log: log}
}

func (s *Service) Tick(ctx context.Context) error {
	due, err := s.store.CampaignsDue(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("sched: list due campaigns: %w", err)
	}
	for _, c := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.SetStatus(domain.CampaignRunning); err != nil {
			s.log.Warn("cannot promote campaign", logx.String("campaign", c.ID), logx.Err(err))
			continue
		}
		if err := s.store.UpdateCampaign(ctx, c); err != nil {
			s.log.Warn("persist campaign failed", logx.String("campaign", c.ID), logx.Err(err))
			continue
		}
		s.log.Info("campaign promoted to running", logx.String("campaign", c.ID))
		s.notifier.Notify(domain.Event{
			Type: domain.EventCampaignStarted, OwnerID: c.OwnerID, CampaignID: c.ID,
			Text: fmt.Sprintf("Campaign %q started (%d recipients)", c.Name, c.TotalCount),
		})
	}
	return nil
}
