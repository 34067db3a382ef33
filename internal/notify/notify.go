// Package notify delivers fire-and-forget operator notifications.
//
// The pipeline is queue + worker + rate limit + short dedup window. Delivery
// is strictly best-effort: a full queue or a failing transport drops events
// with a log line and never propagates into the dispatcher.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tgblast/internal/domain"
	"tgblast/pkg/logx"
)

// Notifier is what the engine components see.
type Notifier interface {
	Notify(ev domain.Event)
}

// Transport actually delivers a notification text to an owner.
type Transport interface {
	Send(ctx context.Context, ownerID int64, text string) error
}

// Config tunes the notification pipeline.
type Config struct {
	QueueSize   int
	RatePerSec  int
	DedupWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	if c.DedupWindow < 0 {
		c.DedupWindow = 0
	}
	return c
}

// Service is the async notification pipeline. Safe for concurrent use.
type Service struct {
	cfg       Config
	transport Transport
	log       logx.Logger

	limiter *rate.Limiter
	queue   chan domain.Event

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	workerWG sync.WaitGroup

	dmu   sync.Mutex
	dedup map[string]time.Time
}

func New(cfg Config, transport Transport, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:       cfg,
		transport: transport,
		log:       log,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		queue:     make(chan domain.Event, cfg.QueueSize),
		dedup:     map[string]time.Time{},
	}
}

// Notify enqueues an event. Never blocks; a full queue drops the event.
func (s *Service) Notify(ev domain.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if s.cfg.DedupWindow > 0 && s.suppressed(ev) {
		return
	}
	select {
	case s.queue <- ev:
	default:
		s.log.Warn("notify queue full; dropping event",
			logx.String("type", string(ev.Type)), logx.String("campaign", ev.CampaignID))
	}
}

func (s *Service) suppressed(ev domain.Event) bool {
	key := fmt.Sprintf("%s|%d|%s|%d", ev.Type, ev.OwnerID, ev.CampaignID, ev.AccountID)
	now := time.Now()
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && until.After(now) {
		return true
	}
	s.dedup[key] = now.Add(s.cfg.DedupWindow)
	// Opportunistic prune so the map stays bounded.
	if len(s.dedup) > 2000 {
		for k, v := range s.dedup {
			if !v.After(now) {
				delete(s.dedup, k)
			}
		}
	}
	return false
}

// Start launches the delivery worker. Idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.workerWG.Add(1)
	go func() {
		defer s.workerWG.Done()
		s.worker(runCtx)
	}()
	s.log.Info("notifier started", logx.Int("queue", s.cfg.QueueSize), logx.Int("rps", s.cfg.RatePerSec))
}

// Stop drains nothing; queued events are abandoned. Idempotent.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.running = false
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		s.workerWG.Wait()
		s.log.Info("notifier stopped")
	}
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.queue:
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := s.transport.Send(sendCtx, ev.OwnerID, ev.Text)
			cancel()
			if err != nil {
				s.log.Warn("notification send failed",
					logx.String("type", string(ev.Type)), logx.Int64("owner", ev.OwnerID), logx.Err(err))
			} else {
				s.log.Debug("notification sent",
					logx.String("type", string(ev.Type)), logx.Int64("owner", ev.OwnerID))
			}
		}
	}
}

// Nop returns a Notifier that discards every event. Used in tests.
func Nop() Notifier { return nopNotifier{} }

type nopNotifier struct{}

func (nopNotifier) Notify(domain.Event) {}
