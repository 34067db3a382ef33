// Package app wires configuration, storage, the account pool, the dispatcher
// and the auxiliary workers into one runnable engine.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"tgblast/internal/api"
	"tgblast/internal/config"
	"tgblast/internal/dispatch"
	"tgblast/internal/notify"
	"tgblast/internal/pacing"
	"tgblast/internal/pool"
	"tgblast/internal/sender"
	"tgblast/internal/services/auth"
	"tgblast/internal/services/maint"
	"tgblast/internal/services/parser"
	"tgblast/internal/services/sched"
	"tgblast/internal/services/warmup"
	"tgblast/internal/sources"
	"tgblast/internal/storage"
	"tgblast/internal/worker"
	"tgblast/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	logs *logx.Service
	log  logx.Logger

	store  storage.Store
	pacer  *pacing.Policy
	notif  *notify.Service // nil when notifications are disabled
	tgSend *sender.Telegram
	mgr    *worker.Manager
	api    *api.Server // nil when the admin API is disabled

	stopOnce sync.Once
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		return config.Validate(c)
	})

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	// Notifications: when disabled, everything downstream gets the no-op
	// notifier and never knows the difference.
	var (
		notifSvc *notify.Service
		notifier notify.Notifier = notify.Nop()
	)
	if cfg.Notify.Enabled {
		tg, err := notify.NewTelegram(notify.TelegramConfig{
			Token:         cfg.Telegram.Token,
			ChatIDs:       cfg.Telegram.ChatIDs,
			DefaultChatID: cfg.Telegram.DefaultChatID,
		}, log.With(logx.String("comp", "notify.telegram")))
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("notify transport: %w", err)
		}
		dedup, err := config.ParseDurationField("notify.dedup_window", cfg.Notify.DedupWindow)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		notifSvc = notify.New(notify.Config{
			QueueSize:   cfg.Notify.QueueSize,
			RatePerSec:  cfg.Notify.RatePerSec,
			DedupWindow: dedup,
		}, tg, log.With(logx.String("comp", "notify")))
		notifier = notifSvc
	}

	floodWait, err := config.ParseDurationOrDefault("pool.default_flood_wait", cfg.Pool.DefaultFloodWait, 30*time.Minute)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	accounts := pool.New(pool.Config{
		ErrorCeiling:     cfg.Pool.ErrorCeiling,
		DefaultFloodWait: floodWait,
	}, store, log.With(logx.String("comp", "pool")))

	pacer := pacing.New(mapPacing(cfg))

	tgSend := sender.NewTelegram(log.With(logx.String("comp", "sender")))

	sendTimeout, err := config.ParseDurationOrDefault("dispatch.send_timeout", cfg.Dispatch.SendTimeout, 30*time.Second)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	dispatcher := dispatch.New(dispatch.Config{
		RetryCeil:   cfg.Dispatch.RetryCeil,
		SendTimeout: sendTimeout,
	}, store, accounts, pacer, tgSend, notifier, log.With(logx.String("comp", "dispatch")))

	authSvc := auth.New(auth.Config{}, store, tgSend, notifier, log.With(logx.String("comp", "auth")))
	parserSvc := parser.New(parser.Config{}, store,
		sources.NewFileParser("", log), log.With(logx.String("comp", "parser")))
	schedSvc := sched.New(store, notifier, log.With(logx.String("comp", "sched")))
	warmupSvc, err := warmup.New(warmup.Config{
		Schedule:   cfg.Warmup.Schedule,
		MaxAgeDays: cfg.Warmup.MaxAgeDays,
		BatchSize:  cfg.Warmup.BatchSize,
	}, store, tgSend, log.With(logx.String("comp", "warmup")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	maintSvc, err := maint.New(maint.Config{
		ResetSchedule: cfg.Maint.ResetSchedule,
	}, store, log.With(logx.String("comp", "maint")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	grace, err := config.ParseDurationOrDefault("workers.stop_grace", cfg.Workers.StopGrace, 15*time.Second)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	mgr := worker.NewManager(log.With(logx.String("comp", "workers")),
		worker.WithNotifier(notifier), worker.WithGrace(grace))

	intervals := []struct {
		name string
		raw  string
		def  time.Duration
		fn   worker.Func
	}{
		{"dispatch", cfg.Workers.DispatchInterval, time.Second, dispatcher.Tick},
		{"auth", cfg.Workers.AuthInterval, 30 * time.Second, authSvc.Tick},
		{"parser", cfg.Workers.ParserInterval, 15 * time.Second, parserSvc.Tick},
		{"sched", cfg.Workers.SchedInterval, 30 * time.Second, schedSvc.Tick},
		{"warmup", cfg.Workers.WarmupInterval, time.Minute, warmupSvc.Tick},
		{"maint", cfg.Workers.MaintInterval, time.Minute, maintSvc.Tick},
	}
	for _, it := range intervals {
		iv, err := config.ParseDurationOrDefault("workers."+it.name+"_interval", it.raw, it.def)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		mgr.Add(worker.Loop{Name: it.name, Interval: iv, Fn: it.fn})
	}

	var apiSrv *api.Server
	if cfg.API.Enabled {
		apiSrv = api.New(api.Config{Addr: cfg.API.Addr}, store, log.With(logx.String("comp", "api")))
	}

	return &App{
		cfgm:   cfgm,
		logs:   logSvc,
		log:    log,
		store:  store,
		pacer:  pacer,
		notif:  notifSvc,
		tgSend: tgSend,
		mgr:    mgr,
		api:    apiSrv,
	}, nil
}

// Logger exposes the root application logger.
func (a *App) Logger() logx.Logger { return a.log }

// Run starts every component and blocks until ctx is cancelled or a fatal
// error stops the worker set.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.notif != nil {
		a.notif.Start(ctx)
	}

	sub := a.cfgm.Subscribe(1)
	go func() { _ = a.cfgm.Watch(ctx) }()
	go a.applyUpdates(ctx, sub)

	if a.api != nil {
		go func() {
			if err := a.api.Start(ctx); err != nil {
				a.log.Error("admin api failed", logx.Err(err))
				cancel()
			}
		}()
	}

	go func() {
		<-ctx.Done()
		a.mgr.Stop()
	}()

	err := a.mgr.Start(ctx)
	a.Shutdown()
	return err
}

// applyUpdates consumes reloaded configs and applies what can change live:
// log level/output and pacing. Everything else requires a restart.
func (a *App) applyUpdates(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	prev := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok || cfg == nil {
				return
			}
			changed, attrs := config.SummarizeChange(prev, cfg)
			prev = cfg
			if len(changed) == 0 {
				continue
			}
			a.log.Info("applying config change",
				append([]logx.Field{logx.String("sections", strings.Join(changed, ","))}, attrs...)...)

			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.pacer.Apply(mapPacing(cfg))
		}
	}
}

// Shutdown releases resources. Safe to call more than once.
func (a *App) Shutdown() {
	a.stopOnce.Do(func() {
		a.mgr.Stop()
		if a.notif != nil {
			a.notif.Stop()
		}
		a.tgSend.Close()
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
		a.log.Info("engine shut down")
		if a.logs != nil {
			_ = a.logs.Close()
		}
	})
}

func mapPacing(cfg *config.Config) pacing.Config {
	pc := pacing.Config{RatePerSec: cfg.Pacing.RatePerSec}
	if q := cfg.Pacing.Quiet; q.Enabled {
		loc := time.Local
		if q.Timezone != "" {
			if l, err := time.LoadLocation(q.Timezone); err == nil {
				loc = l
			}
		}
		pc.Quiet = pacing.QuietHours{Start: q.Start, End: q.End, Location: loc}
	}
	return pc
}
