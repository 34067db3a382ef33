package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"tgblast/internal/domain"
	"tgblast/internal/notify"
	"tgblast/internal/runtime/supervisor"
	"tgblast/pkg/logx"
)

// Manager owns a named set of worker loops, starts them concurrently, and
// drives coordinated shutdown. Stop is idempotent and safe to call before
// Start has finished launching.
type Manager struct {
	log      logx.Logger
	notifier notify.Notifier
	grace    time.Duration

	mu      sync.Mutex
	loops   []Loop
	sup     *supervisor.Supervisor
	stopped bool
}

// Option configures the Manager.
type Option func(*Manager)

// WithNotifier wires startup/shutdown notifications.
func WithNotifier(n notify.Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithGrace bounds how long Stop waits for in-flight work.
func WithGrace(d time.Duration) Option {
	return func(m *Manager) { m.grace = d }
}

func NewManager(log logx.Logger, opts ...Option) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Manager{
		log:      log,
		notifier: notify.Nop(),
		grace:    15 * time.Second,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Add registers a loop. Must be called before Start.
func (m *Manager) Add(l Loop) {
	m.mu.Lock()
	m.loops = append(m.loops, l)
	m.mu.Unlock()
}

// Start launches every registered loop concurrently and blocks until all
// loops exit (normally because Stop cancelled them).
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	sup := supervisor.New(ctx, supervisor.WithLogger(m.log))
	m.sup = sup
	loops := append([]Loop(nil), m.loops...)
	m.mu.Unlock()

	for _, l := range loops {
		loop := l
		sup.Go(loop.Name, func(ctx context.Context) error {
			return loop.Run(ctx, m.log)
		})
	}
	m.log.Info("workers started", logx.Int("count", len(loops)))
	m.notifier.Notify(domain.Event{Type: domain.EventEngineStarted, Text: "Engine started"})

	return sup.Wait(context.Background())
}

// Stop signals cancellation to every loop and waits a bounded grace period.
// Safe to call multiple times and before Start completes.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		sup := m.sup
		m.mu.Unlock()
		if sup != nil {
			waitCtx, cancel := context.WithTimeout(context.Background(), m.grace)
			defer cancel()
			_ = sup.Wait(waitCtx)
		}
		return
	}
	m.stopped = true
	sup := m.sup
	m.mu.Unlock()

	if sup == nil {
		// Stop before Start: nothing is running, Start will see stopped.
		return
	}

	start := time.Now()
	waitCtx, cancel := context.WithTimeout(context.Background(), m.grace)
	defer cancel()
	if err := sup.Stop(waitCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		m.log.Warn("workers stopped with error", logx.Err(err))
	}
	remaining := sup.Active()
	if remaining > 0 {
		m.log.Warn("grace period elapsed with workers still running", logx.Int64("active", remaining))
	}
	m.log.Info("workers stopped", logx.Duration("took", time.Since(start)))
	m.notifier.Notify(domain.Event{Type: domain.EventEngineStopped, Text: "Engine stopped"})
}
