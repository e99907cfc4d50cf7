package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultReplyText         = "Check your DM! \U0001F4E9"
	defaultCommentFetchLimit = 30
	defaultCyclePeriodSec    = 180
	defaultIdlePeriodSec     = 30
	defaultProbeCron         = "0 */10 * * * *"
	defaultProbeTimezone     = "UTC"
	defaultItemsPath         = "data/monitored_posts.json"
	defaultLedgerPath        = "data/processed_comments.json"
	defaultMonitorSession    = "sessions/monitor_session.json"
	defaultMainSession       = "sessions/main_session.json"

	maxCommentFetchLimit = 200
)

type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Platform PlatformConfig `yaml:"platform"`
	Storage  StorageConfig  `yaml:"storage"`
	Sessions SessionsConfig `yaml:"sessions"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Probe    ProbeConfig    `yaml:"probe"`
}

type TelegramConfig struct {
	Token       string `yaml:"token"`
	AdminChatID int64  `yaml:"admin_chat_id"`
}

type PlatformConfig struct {
	BaseURL           string `yaml:"base_url"`
	UserAgent         string `yaml:"user_agent"`
	ReplyText         string `yaml:"reply_text"`
	CommentFetchLimit int    `yaml:"comment_fetch_limit"`
}

type StorageConfig struct {
	ItemsPath        string `yaml:"items_path"`
	LedgerPath       string `yaml:"ledger_path"`
	LegacyConfigPath string `yaml:"legacy_config_path"`
}

type SessionsConfig struct {
	MonitorPath string `yaml:"monitor_path"`
	MainPath    string `yaml:"main_path"`
}

type MonitorConfig struct {
	CyclePeriodSeconds int `yaml:"cycle_period_seconds"`
	IdlePeriodSeconds  int `yaml:"idle_period_seconds"`
}

type ProbeConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Cron     string `yaml:"cron"`
	Timezone string `yaml:"timezone"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		Platform: PlatformConfig{
			ReplyText:         defaultReplyText,
			CommentFetchLimit: defaultCommentFetchLimit,
		},
		Storage: StorageConfig{
			ItemsPath:  defaultItemsPath,
			LedgerPath: defaultLedgerPath,
		},
		Sessions: SessionsConfig{
			MonitorPath: defaultMonitorSession,
			MainPath:    defaultMainSession,
		},
		Monitor: MonitorConfig{
			CyclePeriodSeconds: defaultCyclePeriodSec,
			IdlePeriodSeconds:  defaultIdlePeriodSec,
		},
		Probe: ProbeConfig{
			Enabled:  true,
			Cron:     defaultProbeCron,
			Timezone: defaultProbeTimezone,
		},
	}

	body, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(body, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Telegram.Token == "" {
		return errors.New("telegram.token is required")
	}
	if c.Telegram.AdminChatID == 0 {
		return errors.New("telegram.admin_chat_id is required")
	}
	if c.Platform.BaseURL == "" {
		return errors.New("platform.base_url is required")
	}
	if c.Platform.ReplyText == "" {
		return errors.New("platform.reply_text is required")
	}
	if c.Platform.CommentFetchLimit <= 0 || c.Platform.CommentFetchLimit > maxCommentFetchLimit {
		return fmt.Errorf("platform.comment_fetch_limit must be in 1..%d", maxCommentFetchLimit)
	}
	if c.Storage.ItemsPath == "" {
		return errors.New("storage.items_path is required")
	}
	if c.Storage.LedgerPath == "" {
		return errors.New("storage.ledger_path is required")
	}
	if c.Sessions.MonitorPath == "" {
		return errors.New("sessions.monitor_path is required")
	}
	if c.Sessions.MainPath == "" {
		return errors.New("sessions.main_path is required")
	}
	if c.Monitor.CyclePeriodSeconds <= 0 {
		return errors.New("monitor.cycle_period_seconds must be positive")
	}
	if c.Monitor.IdlePeriodSeconds <= 0 {
		return errors.New("monitor.idle_period_seconds must be positive")
	}
	if c.Probe.Enabled {
		if c.Probe.Cron == "" {
			return errors.New("probe.cron is required when the probe is enabled")
		}
		if c.Probe.Timezone == "" {
			return errors.New("probe.timezone is required when the probe is enabled")
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	applyString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	applyInt := func(key string, dst *int) error {
		v, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		parsed, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		*dst = parsed
		return nil
	}

	applyString("TELEGRAM_BOT_TOKEN", &cfg.Telegram.Token)
	if v, ok := os.LookupEnv("TELEGRAM_ADMIN_CHAT_ID"); ok {
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("parse TELEGRAM_ADMIN_CHAT_ID: %w", err)
		}
		cfg.Telegram.AdminChatID = parsed
	}
	applyString("PLATFORM_BASE_URL", &cfg.Platform.BaseURL)
	applyString("PLATFORM_USER_AGENT", &cfg.Platform.UserAgent)
	applyString("PLATFORM_REPLY_TEXT", &cfg.Platform.ReplyText)
	if err := applyInt("PLATFORM_COMMENT_FETCH_LIMIT", &cfg.Platform.CommentFetchLimit); err != nil {
		return err
	}
	applyString("STORAGE_ITEMS_PATH", &cfg.Storage.ItemsPath)
	applyString("STORAGE_LEDGER_PATH", &cfg.Storage.LedgerPath)
	applyString("STORAGE_LEGACY_CONFIG_PATH", &cfg.Storage.LegacyConfigPath)
	applyString("SESSIONS_MONITOR_PATH", &cfg.Sessions.MonitorPath)
	applyString("SESSIONS_MAIN_PATH", &cfg.Sessions.MainPath)
	if err := applyInt("MONITOR_CYCLE_PERIOD_SECONDS", &cfg.Monitor.CyclePeriodSeconds); err != nil {
		return err
	}
	if err := applyInt("MONITOR_IDLE_PERIOD_SECONDS", &cfg.Monitor.IdlePeriodSeconds); err != nil {
		return err
	}
	if v, ok := os.LookupEnv("PROBE_ENABLED"); ok {
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse PROBE_ENABLED: %w", err)
		}
		cfg.Probe.Enabled = parsed
	}
	applyString("PROBE_CRON", &cfg.Probe.Cron)
	applyString("PROBE_TIMEZONE", &cfg.Probe.Timezone)
	return nil
}
