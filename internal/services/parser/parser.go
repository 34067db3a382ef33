// Package parser materializes recipient sources: a pending source is handed
// to the opaque SourceParser, and the resulting audience members are stored
// as recipients.
package parser

import (
	"context"
	"fmt"

	"tgblast/internal/domain"
	"tgblast/internal/storage"
	"tgblast/pkg/logx"
)

// SourceParser resolves a source reference (chat export, member list, file)
// into concrete recipients.
type SourceParser interface {
	Parse(ctx context.Context, src *domain.RecipientSource) ([]domain.Recipient, error)
}

type Config struct {
	// BatchSize bounds sources parsed per tick.
	BatchSize int
}

type Service struct {
	cfg    Config
	store  storage.RecipientStore
	parser SourceParser
	log    logx.Logger
}

func New(cfg Config, store storage.RecipientStore, p SourceParser, log logx.Logger) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 3
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, store: store, parser: p, log: log}
}

func (s *Service) Tick(ctx context.Context) error {
	sources, err := s.store.SourcesByStatus(ctx, domain.SourcePending, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("parser: list pending sources: %w", err)
	}
	for _, src := range sources {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.parseOne(ctx, src)
	}
	return nil
}

func (s *Service) parseOne(ctx context.Context, src *domain.RecipientSource) {
	src.Status = domain.SourceParsing
	if err := s.store.UpdateSource(ctx, src); err != nil {
		s.log.Warn("persist source failed", logx.String("source", src.ID), logx.Err(err))
		return
	}

	rs, err := s.parser.Parse(ctx, src)
	if err != nil {
		src.Status = domain.SourceFailed
		if uerr := s.store.UpdateSource(ctx, src); uerr != nil {
			s.log.Warn("persist source failed", logx.String("source", src.ID), logx.Err(uerr))
		}
		s.log.Warn("source parse failed", logx.String("source", src.ID), logx.Err(err))
		return
	}

	if err := s.store.InsertRecipients(ctx, src.ID, rs); err != nil {
		src.Status = domain.SourceFailed
		_ = s.store.UpdateSource(ctx, src)
		s.log.Warn("insert recipients failed", logx.String("source", src.ID), logx.Err(err))
		return
	}

	src.Status = domain.SourceReady
	src.Total = len(rs)
	if err := s.store.UpdateSource(ctx, src); err != nil {
		s.log.Warn("persist source failed", logx.String("source", src.ID), logx.Err(err))
		return
	}
	s.log.Info("source parsed", logx.String("source", src.ID), logx.Int("recipients", len(rs)))
}
