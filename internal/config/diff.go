package config

import (
	"reflect"
	"strings"

	"tgblast/pkg/logx"
)

// SummarizeChange returns the list of changed top-level sections plus safe
// structured attrs for logging. Secrets (the bot token) are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
		)
	}
	if oldCfg.Pacing != newCfg.Pacing {
		changed = append(changed, "pacing")
		attrs = append(attrs,
			logx.Int("pacing.rate_per_sec", newCfg.Pacing.RatePerSec),
			logx.Bool("pacing.quiet", newCfg.Pacing.Quiet.Enabled),
		)
	}
	if oldCfg.Pool != newCfg.Pool {
		changed = append(changed, "pool")
	}
	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
	}
	if oldCfg.Workers != newCfg.Workers {
		changed = append(changed, "workers")
	}
	if oldCfg.Warmup != newCfg.Warmup {
		changed = append(changed, "warmup")
	}
	if oldCfg.Maint != newCfg.Maint {
		changed = append(changed, "maint")
	}
	if oldCfg.Notify != newCfg.Notify {
		changed = append(changed, "notify")
	}
	if oldCfg.API != newCfg.API {
		changed = append(changed, "api")
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
	}
	// Telegram: compare without logging the token itself.
	if strings.TrimSpace(oldCfg.Telegram.Token) != strings.TrimSpace(newCfg.Telegram.Token) ||
		oldCfg.Telegram.DefaultChatID != newCfg.Telegram.DefaultChatID ||
		!reflect.DeepEqual(oldCfg.Telegram.ChatIDs, newCfg.Telegram.ChatIDs) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.Int("telegram.chat_count", len(newCfg.Telegram.ChatIDs)),
		)
	}

	return changed, attrs
}
