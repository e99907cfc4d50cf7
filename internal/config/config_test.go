package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadSetsDefaults(t *testing.T) {
	path := writeConfig(t, `telegram:
  token: "bot-token"
  admin_chat_id: 42
platform:
  base_url: "https://api.example.com"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Platform.ReplyText == "" {
		t.Fatal("Platform.ReplyText is empty")
	}
	if cfg.Platform.CommentFetchLimit != 30 {
		t.Fatalf("Platform.CommentFetchLimit = %d, want 30", cfg.Platform.CommentFetchLimit)
	}
	if cfg.Monitor.CyclePeriodSeconds != 180 {
		t.Fatalf("Monitor.CyclePeriodSeconds = %d, want 180", cfg.Monitor.CyclePeriodSeconds)
	}
	if cfg.Monitor.IdlePeriodSeconds != 30 {
		t.Fatalf("Monitor.IdlePeriodSeconds = %d, want 30", cfg.Monitor.IdlePeriodSeconds)
	}
	if !cfg.Probe.Enabled {
		t.Fatal("Probe.Enabled = false, want true by default")
	}
	if cfg.Probe.Cron == "" || cfg.Probe.Timezone == "" {
		t.Fatal("probe cron/timezone defaults missing")
	}
	if cfg.Storage.ItemsPath == "" || cfg.Storage.LedgerPath == "" {
		t.Fatal("storage path defaults missing")
	}
	if cfg.Sessions.MonitorPath == "" || cfg.Sessions.MainPath == "" {
		t.Fatal("session path defaults missing")
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := writeConfig(t, `telegram:
  token: "file-token"
  admin_chat_id: 42
platform:
  base_url: "https://api.example.com"
`)

	t.Setenv("TELEGRAM_BOT_TOKEN", "env-token")
	t.Setenv("TELEGRAM_ADMIN_CHAT_ID", "99")
	t.Setenv("PLATFORM_COMMENT_FETCH_LIMIT", "50")
	t.Setenv("MONITOR_CYCLE_PERIOD_SECONDS", "60")
	t.Setenv("PROBE_ENABLED", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Telegram.Token != "env-token" {
		t.Fatalf("Telegram.Token = %q, want env-token", cfg.Telegram.Token)
	}
	if cfg.Telegram.AdminChatID != 99 {
		t.Fatalf("Telegram.AdminChatID = %d, want 99", cfg.Telegram.AdminChatID)
	}
	if cfg.Platform.CommentFetchLimit != 50 {
		t.Fatalf("Platform.CommentFetchLimit = %d, want 50", cfg.Platform.CommentFetchLimit)
	}
	if cfg.Monitor.CyclePeriodSeconds != 60 {
		t.Fatalf("Monitor.CyclePeriodSeconds = %d, want 60", cfg.Monitor.CyclePeriodSeconds)
	}
	if cfg.Probe.Enabled {
		t.Fatal("Probe.Enabled = true, want false from env")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing token", body: "telegram:\n  admin_chat_id: 42\nplatform:\n  base_url: \"https://api.example.com\"\n"},
		{name: "missing admin chat id", body: "telegram:\n  token: \"tok\"\nplatform:\n  base_url: \"https://api.example.com\"\n"},
		{name: "missing base url", body: "telegram:\n  token: \"tok\"\n  admin_chat_id: 42\n"},
		{name: "fetch limit too high", body: "telegram:\n  token: \"tok\"\n  admin_chat_id: 42\nplatform:\n  base_url: \"https://api.example.com\"\n  comment_fetch_limit: 500\n"},
		{name: "zero cycle period", body: "telegram:\n  token: \"tok\"\n  admin_chat_id: 42\nplatform:\n  base_url: \"https://api.example.com\"\nmonitor:\n  cycle_period_seconds: -1\n"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.body)
			if _, err := Load(path); err == nil {
				t.Fatalf("Load() error = nil for %s", tc.name)
			}
		})
	}
}
