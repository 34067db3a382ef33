package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const sampleYAML = `
logging:
  level: debug
  console: true
storage:
  path: /tmp/blast.db
telegram:
  token: "123:abc"
  default_chat_id: 42
pacing:
  rate_per_sec: 3
  quiet:
    enabled: true
    start: "22:00"
    end: "08:00"
    timezone: UTC
workers:
  dispatch_interval: 2s
`

func TestParseYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", sampleYAML))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Storage.Path != "/tmp/blast.db" {
		t.Fatalf("storage.path = %q", cfg.Storage.Path)
	}
	if cfg.Telegram.DefaultChatID != 42 {
		t.Fatalf("default_chat_id = %d", cfg.Telegram.DefaultChatID)
	}
	if cfg.Pacing.RatePerSec != 3 || !cfg.Pacing.Quiet.Enabled || cfg.Pacing.Quiet.Start != "22:00" {
		t.Fatalf("pacing = %+v", cfg.Pacing)
	}
	if cfg.Workers.DispatchInterval != "2s" {
		t.Fatalf("dispatch_interval = %q", cfg.Workers.DispatchInterval)
	}
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json",
		`{"storage":{"path":"x.db"},"pacing":{"rate_per_sec":1}}`))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Storage.Path != "x.db" || cfg.Pacing.RatePerSec != 1 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestParseRejectsUnknownField(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", "storage:\n  path: x.db\n  typo_field: 1\n"))
	if _, err := m.Parse(); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json", `{"storage":{"path":"x.db"}}{"extra":1}`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("trailing data accepted")
	}
}

func TestParseMissingFile(t *testing.T) {
	t.Parallel()
	m := NewManager(filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadAndGet(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", sampleYAML))
	if m.Get() != nil {
		t.Fatal("Get before Load should be nil")
	}
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get returned a different config than Load committed")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"  ", 0, false},
		{"500ms", 500 * time.Millisecond, false},
		{"1m30s", 90 * time.Second, false},
		{"-1s", 0, true},
		{"soon", 0, true},
		{"10", 0, true}, // bare numbers are ambiguous
	}
	for _, tt := range tests {
		got, err := ParseDurationField("test.field", tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDurationField(%q) err = %v, wantErr %v", tt.raw, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("ParseDurationField(%q) = %v, want %v", tt.raw, got, tt.want)
		}
		if err != nil && !strings.Contains(err.Error(), "test.field") {
			t.Errorf("error does not name the field: %v", err)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationOrDefault("f", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("empty = %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("f", "0s", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("zero = %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("f", "2s", time.Minute); err != nil || d != 2*time.Second {
		t.Fatalf("set = %v, %v", d, err)
	}
	if _, err := ParseDurationOrDefault("f", "nope", time.Minute); err == nil {
		t.Fatal("invalid duration accepted")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{Storage: StorageConfig{Path: "x.db"}}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"ok", func(*Config) {}, ""},
		{"nil handled separately", nil, ""},
		{"missing storage path", func(c *Config) { c.Storage.Path = " " }, "storage.path"},
		{"bad duration", func(c *Config) { c.Workers.StopGrace = "fast" }, "workers.stop_grace"},
		{"negative rate", func(c *Config) { c.Pacing.RatePerSec = -1 }, "rate_per_sec"},
		{"bad quiet clock", func(c *Config) {
			c.Pacing.Quiet = QuietConfig{Enabled: true, Start: "25:99", End: "08:00"}
		}, "pacing.quiet.start"},
		{"bad quiet timezone", func(c *Config) {
			c.Pacing.Quiet = QuietConfig{Enabled: true, Start: "22:00", End: "08:00", Timezone: "Mars/Olympus"}
		}, "pacing.quiet.timezone"},
		{"quiet disabled skips clock checks", func(c *Config) {
			c.Pacing.Quiet = QuietConfig{Enabled: false, Start: "nope"}
		}, ""},
		{"notify without token", func(c *Config) { c.Notify.Enabled = true }, "telegram.token"},
		{"notify with token", func(c *Config) {
			c.Notify.Enabled = true
			c.Telegram.Token = "123:abc"
		}, ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if tt.mutate == nil {
				if err := Validate(nil); err == nil {
					t.Fatal("nil config accepted")
				}
				return
			}
			cfg := base()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Logging:  LoggingConfig{Level: "info"},
		Telegram: TelegramConfig{Token: "a"},
	}
	newCfg := &Config{
		Logging:  LoggingConfig{Level: "debug"},
		Telegram: TelegramConfig{Token: "b"},
		Pacing:   PacingConfig{RatePerSec: 9},
	}

	changed, attrs := SummarizeChange(oldCfg, newCfg)
	want := map[string]bool{"logging": true, "pacing": true, "telegram": true}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v", changed)
	}
	for _, s := range changed {
		if !want[s] {
			t.Fatalf("unexpected section %q in %v", s, changed)
		}
	}
	if len(attrs) == 0 {
		t.Fatal("expected structured attrs for changed sections")
	}
}

func TestSummarizeChangeNoDiff(t *testing.T) {
	t.Parallel()
	cfg := &Config{Storage: StorageConfig{Path: "x"}}
	changed, _ := SummarizeChange(cfg, cfg)
	if len(changed) != 0 {
		t.Fatalf("changed = %v for identical configs", changed)
	}
}

func TestSubscribePublishDropsOldest(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	first := &Config{Storage: StorageConfig{Path: "first"}}
	second := &Config{Storage: StorageConfig{Path: "second"}}
	m.publish(first)
	m.publish(second)

	select {
	case got := <-ch:
		if got != second {
			t.Fatalf("got %q, want the newest config", got.Storage.Path)
		}
	default:
		t.Fatal("no config delivered")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel still open after Unsubscribe")
	}
	m.Unsubscribe(ch) // double unsubscribe is a no-op
	m.Unsubscribe(nil)
}
