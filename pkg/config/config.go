package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Workspace string          `json:"workspace" env:"FINDBOT_WORKSPACE"`
	Telegram  TelegramConfig  `json:"telegram"`
	Engine    EngineConfig    `json:"engine"`
	Sessions  SessionsConfig  `json:"sessions"`
	Operator  OperatorConfig  `json:"operator"`
	Journal   JournalConfig   `json:"journal"`
	Metrics   MetricsConfig   `json:"metrics"`
	Logging   LoggingConfig   `json:"logging"`
	mu        sync.RWMutex
}

type TelegramConfig struct {
	Token              string              `json:"token" env:"FINDBOT_TELEGRAM_TOKEN"`
	Proxy              string              `json:"proxy" env:"FINDBOT_TELEGRAM_PROXY"`
	AllowFrom          FlexibleStringSlice `json:"allow_from" env:"FINDBOT_TELEGRAM_ALLOW_FROM"`
	PollTimeoutSeconds int                 `json:"poll_timeout_seconds" env:"FINDBOT_TELEGRAM_POLL_TIMEOUT_SECONDS"`
}

type EngineConfig struct {
	QueueSize           int `json:"queue_size" env:"FINDBOT_ENGINE_QUEUE_SIZE"`
	SendTimeoutSeconds  int `json:"send_timeout_seconds" env:"FINDBOT_ENGINE_SEND_TIMEOUT_SECONDS"`
	DrainTimeoutSeconds int `json:"drain_timeout_seconds" env:"FINDBOT_ENGINE_DRAIN_TIMEOUT_SECONDS"`
}

type SessionsConfig struct {
	IdleTTLMinutes int    `json:"idle_ttl_minutes" env:"FINDBOT_SESSIONS_IDLE_TTL_MINUTES"` // 0 disables expiry
	SweepCron      string `json:"sweep_cron" env:"FINDBOT_SESSIONS_SWEEP_CRON"`
}

type OperatorConfig struct {
	ChatID                string `json:"chat_id" env:"FINDBOT_OPERATOR_CHAT_ID"`
	NotifyCooldownSeconds int    `json:"notify_cooldown_seconds" env:"FINDBOT_OPERATOR_NOTIFY_COOLDOWN_SECONDS"`
}

type JournalConfig struct {
	Enabled bool   `json:"enabled" env:"FINDBOT_JOURNAL_ENABLED"`
	Path    string `json:"path" env:"FINDBOT_JOURNAL_PATH"` // empty means <workspace>/state/finds.json
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" env:"FINDBOT_METRICS_ENABLED"`
	Host    string `json:"host" env:"FINDBOT_METRICS_HOST"`
	Port    int    `json:"port" env:"FINDBOT_METRICS_PORT"`
}

type LoggingConfig struct {
	Level           string `json:"level" env:"FINDBOT_LOGGING_LEVEL"`
	FileEnabled     bool   `json:"file_enabled" env:"FINDBOT_LOGGING_FILE_ENABLED"`
	FilePath        string `json:"file_path" env:"FINDBOT_LOGGING_FILE_PATH"`
	RotationEnabled bool   `json:"rotation_enabled" env:"FINDBOT_LOGGING_ROTATION_ENABLED"`
	MaxAgeDays      int    `json:"max_age_days" env:"FINDBOT_LOGGING_MAX_AGE_DAYS"`
	MaxSizeMB       int    `json:"max_size_mb" env:"FINDBOT_LOGGING_MAX_SIZE_MB"`
}

func DefaultConfig() *Config {
	return &Config{
		Workspace: "~/.findbot/workspace",
		Telegram: TelegramConfig{
			Token:              "",
			AllowFrom:          FlexibleStringSlice{},
			PollTimeoutSeconds: 30,
		},
		Engine: EngineConfig{
			QueueSize:           64,
			SendTimeoutSeconds:  30,
			DrainTimeoutSeconds: 10,
		},
		Sessions: SessionsConfig{
			IdleTTLMinutes: 24 * 60,
			SweepCron:      "*/15 * * * *",
		},
		Operator: OperatorConfig{
			ChatID:                "",
			NotifyCooldownSeconds: 300,
		},
		Journal: JournalConfig{
			Enabled: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    18795,
		},
		Logging: LoggingConfig{
			Level:           "info",
			FileEnabled:     false,
			FilePath:        "~/.findbot/workspace/findbot.log",
			RotationEnabled: true,
			MaxAgeDays:      7,
			MaxSizeMB:       50,
		},
	}
}

// LoadConfig reads path over the defaults and then applies FINDBOT_*
// environment overrides. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}
	resolveSecretRefs(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolveSecretRefs(cfg *Config) {
	cfg.Telegram.Token = resolveEnvRef(cfg.Telegram.Token)
	cfg.Telegram.Proxy = resolveEnvRef(cfg.Telegram.Proxy)
	cfg.Operator.ChatID = resolveEnvRef(cfg.Operator.ChatID)
}

func resolveEnvRef(v string) string {
	s := strings.TrimSpace(v)
	if s == "" {
		return v
	}
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		key := strings.TrimSpace(s[2 : len(s)-1])
		if key == "" {
			return v
		}
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return v
	}
	if strings.HasPrefix(s, "$") && len(s) > 1 {
		if val, ok := os.LookupEnv(strings.TrimSpace(s[1:])); ok {
			return val
		}
	}
	return v
}

// Validate rejects values the runtime cannot work with.
func (c *Config) Validate() error {
	if c.Engine.QueueSize <= 0 {
		return fmt.Errorf("engine.queue_size must be positive, got %d", c.Engine.QueueSize)
	}
	if c.Engine.SendTimeoutSeconds <= 0 {
		return fmt.Errorf("engine.send_timeout_seconds must be positive, got %d", c.Engine.SendTimeoutSeconds)
	}
	if c.Engine.DrainTimeoutSeconds < 0 {
		return fmt.Errorf("engine.drain_timeout_seconds must not be negative")
	}
	if c.Sessions.IdleTTLMinutes < 0 {
		return fmt.Errorf("sessions.idle_ttl_minutes must not be negative")
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port out of range: %d", c.Metrics.Port)
	}
	return nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Workspace)
}

func (c *Config) JournalPath() string {
	c.mu.RLock()
	p := c.Journal.Path
	c.mu.RUnlock()
	if p != "" {
		return expandHome(p)
	}
	return filepath.Join(c.WorkspacePath(), "state", "finds.json")
}

func (c *Config) MetricsAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("%s:%d", c.Metrics.Host, c.Metrics.Port)
}

func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.Engine.SendTimeoutSeconds) * time.Second
}

func (c *Config) DrainTimeout() time.Duration {
	return time.Duration(c.Engine.DrainTimeoutSeconds) * time.Second
}

func (c *Config) IdleTTL() time.Duration {
	return time.Duration(c.Sessions.IdleTTLMinutes) * time.Minute
}

func (c *Config) NotifyCooldown() time.Duration {
	return time.Duration(c.Operator.NotifyCooldownSeconds) * time.Second
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
