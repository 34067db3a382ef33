package config

// Config is the root of the YAML/JSON configuration file.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Telegram TelegramConfig `json:"telegram"`

	Pacing   PacingConfig   `json:"pacing"`
	Pool     PoolConfig     `json:"pool,omitempty"`
	Dispatch DispatchConfig `json:"dispatch,omitempty"`
	Workers  WorkersConfig  `json:"workers,omitempty"`
	Warmup   WarmupConfig   `json:"warmup,omitempty"`
	Maint    MaintConfig    `json:"maint,omitempty"`
	Notify   NotifyConfig   `json:"notify,omitempty"`
	API      APIConfig      `json:"api,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// TelegramConfig is the operator notification channel, not the sending side.
// Sending accounts live in storage; this bot only reports progress and faults.
type TelegramConfig struct {
	Token string `json:"token"`
	// ChatIDs maps owner user IDs to the chat that receives their reports.
	ChatIDs       map[int64]int64 `json:"chat_ids,omitempty"`
	DefaultChatID int64           `json:"default_chat_id,omitempty"`
}

// PacingConfig shapes inter-send timing.
type PacingConfig struct {
	// RatePerSec is the global send ceiling across all accounts, default 5.
	RatePerSec int `json:"rate_per_sec,omitempty"`
	// Quiet defines a local-time window during which sending pauses. The
	// window is process-wide: every owner's campaigns observe the same
	// blackout.
	Quiet QuietConfig `json:"quiet,omitempty"`
}

type QuietConfig struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start,omitempty"` // "HH:MM"
	End     string `json:"end,omitempty"`   // "HH:MM"
	// Timezone is an IANA name (e.g. "Europe/Berlin"), default local.
	Timezone string `json:"timezone,omitempty"`
}

type PoolConfig struct {
	// ErrorCeiling: consecutive errors before an account is parked, default 5.
	ErrorCeiling int `json:"error_ceiling,omitempty"`
	// DefaultFloodWait applies when the platform gives no retry-after,
	// default "30m".
	DefaultFloodWait string `json:"default_flood_wait,omitempty"`
}

type DispatchConfig struct {
	// RetryCeil: attempts per recipient before giving up, default 3.
	RetryCeil int `json:"retry_ceil,omitempty"`
	// SendTimeout bounds a single send call, default "30s".
	SendTimeout string `json:"send_timeout,omitempty"`
}

// WorkersConfig sets per-loop polling intervals.
type WorkersConfig struct {
	DispatchInterval string `json:"dispatch_interval,omitempty"` // default "1s"
	AuthInterval     string `json:"auth_interval,omitempty"`     // default "30s"
	ParserInterval   string `json:"parser_interval,omitempty"`   // default "15s"
	SchedInterval    string `json:"sched_interval,omitempty"`    // default "30s"
	WarmupInterval   string `json:"warmup_interval,omitempty"`   // default "1m"
	MaintInterval    string `json:"maint_interval,omitempty"`    // default "1m"
	// StopGrace bounds graceful shutdown, default "15s".
	StopGrace string `json:"stop_grace,omitempty"`
}

type WarmupConfig struct {
	// Schedule is a standard 5-field cron spec; empty disables warm-up.
	Schedule   string `json:"schedule,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	BatchSize  int    `json:"batch_size,omitempty"`
}

type MaintConfig struct {
	// ResetSchedule is the cron spec for the daily quota reset,
	// default "0 0 * * *".
	ResetSchedule string `json:"reset_schedule,omitempty"`
}

type NotifyConfig struct {
	Enabled     bool   `json:"enabled"`
	QueueSize   int    `json:"queue_size,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	DedupWindow string `json:"dedup_window,omitempty"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:8087"
}
