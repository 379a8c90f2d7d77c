package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/gmsas95/medremind/internal/errors"
	"github.com/gmsas95/medremind/internal/timeutil"
	"github.com/spf13/viper"
)

// Config holds all configuration for medremind
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Reminders RemindersConfig `mapstructure:"reminders"`
	History   HistoryConfig   `mapstructure:"history"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Security  SecurityConfig  `mapstructure:"security"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Address      string `mapstructure:"address"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// StorageConfig holds database settings
type StorageConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	Backend    string `mapstructure:"backend"`
	SQLitePath string `mapstructure:"sqlite_path"`
	BadgerPath string `mapstructure:"badger_path"`
}

// RemindersConfig holds notification settings
type RemindersConfig struct {
	QuietHours        QuietHoursConfig `mapstructure:"quiet_hours"`
	SnoozeMinutes     int              `mapstructure:"snooze_minutes"`
	EscalationMinutes []int            `mapstructure:"escalation_minutes"`
	Breaker           BreakerConfig    `mapstructure:"breaker"`
}

// QuietHoursConfig is an inclusive HH:MM window; start after end wraps midnight.
type QuietHoursConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Start   string `mapstructure:"start"`
	End     string `mapstructure:"end"`
}

// BreakerConfig guards the external notification capability
type BreakerConfig struct {
	MaxFailures int           `mapstructure:"max_failures"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

// HistoryConfig holds retention settings
type HistoryConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
}

// SchedulerConfig holds the day-change job settings
type SchedulerConfig struct {
	DayCheck string `mapstructure:"day_check"`
	Timezone string `mapstructure:"timezone"`
}

// SecurityConfig holds security settings
type SecurityConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
	// RateLimitRPM caps API requests per minute; zero disables the limit.
	RateLimitRPM   int `mapstructure:"rate_limit_rpm"`
	RateLimitBurst int `mapstructure:"rate_limit_burst"`
}

// Load loads configuration from file, env, and defaults
func Load(configPath, dataDir string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if dataDir == "" {
		dataDir = getDefaultDataDir()
	}
	dataDir = expandPath(dataDir)

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	v.Set("storage.data_dir", dataDir)
	v.SetDefault("storage.sqlite_path", filepath.Join(dataDir, "medremind.db"))
	v.SetDefault("storage.badger_path", filepath.Join(dataDir, "badger"))

	explicit := configPath != ""
	if !explicit {
		configPath = filepath.Join(dataDir, "medremind.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperrors.WrapAs(apperrors.ErrConfigInvalid, fmt.Errorf("failed to read config: %w", err))
		}
	} else if explicit {
		return nil, apperrors.WrapAs(apperrors.ErrConfigNotFound, err)
	}

	bindEnv(v)

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnv lets MEDREMIND_* variables override file values, e.g.
// MEDREMIND_REMINDERS_QUIET_HOURS_START for reminders.quiet_hours.start.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("MEDREMIND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.WrapAs(apperrors.ErrConfigInvalid, fmt.Errorf("failed to unmarshal config: %w", err))
	}

	loadEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, apperrors.WrapAs(apperrors.ErrConfigInvalid, err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "127.0.0.1")
	v.SetDefault("server.port", 8088)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)

	v.SetDefault("storage.backend", "badger")

	v.SetDefault("reminders.quiet_hours.enabled", false)
	v.SetDefault("reminders.quiet_hours.start", "22:00")
	v.SetDefault("reminders.quiet_hours.end", "07:00")
	v.SetDefault("reminders.snooze_minutes", 15)
	v.SetDefault("reminders.escalation_minutes", []int{5, 10, 15})
	v.SetDefault("reminders.breaker.max_failures", 5)
	v.SetDefault("reminders.breaker.open_timeout", "60s")

	v.SetDefault("history.retention_days", 90)

	v.SetDefault("scheduler.day_check", "@every 1m")
	v.SetDefault("scheduler.timezone", "Local")

	v.SetDefault("security.allow_origins", []string{"*"})
	v.SetDefault("security.rate_limit_rpm", 600)
	v.SetDefault("security.rate_limit_burst", 60)
}

func getDefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "medremind")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}

	return filepath.Join(home, ".local", "share", "medremind")
}

// loadEnvOverrides applies the short aliases that viper's AutomaticEnv does not see
func loadEnvOverrides(cfg *Config) {
	if port := ResolveEnvWithAliases("MEDREMIND_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if tz := ResolveEnvWithAliases("MEDREMIND_SCHEDULER_TIMEZONE"); tz != "" {
		cfg.Scheduler.Timezone = tz
	}
	if dir := ResolveEnvWithAliases("MEDREMIND_STORAGE_DATA_DIR"); dir != "" {
		cfg.Storage.DataDir = expandPath(dir)
	}
}

func validate(cfg *Config) error {
	switch cfg.Storage.Backend {
	case "badger", "sqlite":
	default:
		return fmt.Errorf("storage.backend must be badger or sqlite, got %q", cfg.Storage.Backend)
	}

	qh := cfg.Reminders.QuietHours
	if !timeutil.ValidClock(qh.Start) || !timeutil.ValidClock(qh.End) {
		return fmt.Errorf("reminders.quiet_hours start/end must be HH:MM, got %q-%q", qh.Start, qh.End)
	}

	if cfg.Reminders.SnoozeMinutes <= 0 {
		return fmt.Errorf("reminders.snooze_minutes must be positive")
	}

	if len(cfg.Reminders.EscalationMinutes) == 0 {
		return fmt.Errorf("reminders.escalation_minutes must not be empty")
	}
	prev := 0
	for _, m := range cfg.Reminders.EscalationMinutes {
		if m <= prev {
			return fmt.Errorf("reminders.escalation_minutes must be positive and increasing")
		}
		prev = m
	}

	if cfg.History.RetentionDays <= 0 {
		return fmt.Errorf("history.retention_days must be positive")
	}

	if cfg.Security.RateLimitRPM < 0 || cfg.Security.RateLimitBurst < 0 {
		return fmt.Errorf("security rate limits must not be negative")
	}

	if _, err := cfg.Location(); err != nil {
		return fmt.Errorf("invalid scheduler.timezone: %w", err)
	}

	return nil
}

// Location resolves the configured scheduler timezone.
func (c *Config) Location() (*time.Location, error) {
	switch c.Scheduler.Timezone {
	case "", "Local":
		return time.Local, nil
	default:
		return time.LoadLocation(c.Scheduler.Timezone)
	}
}

// EscalationDelays returns the escalation offsets as durations.
func (c *Config) EscalationDelays() []time.Duration {
	out := make([]time.Duration, len(c.Reminders.EscalationMinutes))
	for i, m := range c.Reminders.EscalationMinutes {
		out[i] = time.Duration(m) * time.Minute
	}
	return out
}
