package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate rejects configs that would fail at wiring time, so a bad live
// reload is refused instead of half-applied.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	for _, f := range []struct{ path, raw string }{
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"pool.default_flood_wait", cfg.Pool.DefaultFloodWait},
		{"dispatch.send_timeout", cfg.Dispatch.SendTimeout},
		{"workers.dispatch_interval", cfg.Workers.DispatchInterval},
		{"workers.auth_interval", cfg.Workers.AuthInterval},
		{"workers.parser_interval", cfg.Workers.ParserInterval},
		{"workers.sched_interval", cfg.Workers.SchedInterval},
		{"workers.warmup_interval", cfg.Workers.WarmupInterval},
		{"workers.maint_interval", cfg.Workers.MaintInterval},
		{"workers.stop_grace", cfg.Workers.StopGrace},
		{"notify.dedup_window", cfg.Notify.DedupWindow},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if cfg.Pacing.RatePerSec < 0 {
		return fmt.Errorf("pacing.rate_per_sec must be >= 0")
	}
	if q := cfg.Pacing.Quiet; q.Enabled {
		for _, f := range []struct{ path, raw string }{
			{"pacing.quiet.start", q.Start},
			{"pacing.quiet.end", q.End},
		} {
			if err := checkClock(f.path, f.raw); err != nil {
				return err
			}
		}
		if q.Timezone != "" {
			if _, err := time.LoadLocation(q.Timezone); err != nil {
				return fmt.Errorf("pacing.quiet.timezone: %w", err)
			}
		}
	}
	if cfg.Notify.Enabled && strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required when notify.enabled")
	}
	return nil
}

func checkClock(path, raw string) error {
	if _, err := time.Parse("15:04", strings.TrimSpace(raw)); err != nil {
		return fmt.Errorf("%s: want HH:MM: %w", path, err)
	}
	return nil
}

// ParseDurationField parses an optional duration string from the config.
// Empty means zero; negative values are rejected. path names the field in
// error messages.
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %w", path, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %q", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with a fallback for unset or
// zero values.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
