// Package config loads server settings from a YAML file and SCHOOLRUN_
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix is prepended to every environment override, e.g.
// SCHOOLRUN_NATS_URL overrides nats.url
const EnvPrefix = "SCHOOLRUN"

// Config is the complete server configuration
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Log      LogConfig      `mapstructure:"log"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Journal  JournalConfig  `mapstructure:"journal"`
	Reminder ReminderConfig `mapstructure:"reminder"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Session  SessionConfig  `mapstructure:"session"`
	Seed     bool           `mapstructure:"seed"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type NATSConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URL            string        `mapstructure:"url"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ConnectRetries int           `mapstructure:"connect_retries"`
}

type JournalConfig struct {
	Path      string        `mapstructure:"path"`
	Retention time.Duration `mapstructure:"retention"`
}

type ReminderConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Spec    string        `mapstructure:"spec"`
	Lead    time.Duration `mapstructure:"lead"`
}

type MetricsConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// AlertsConfig requires metrics, which tracks the executions alerts are
// evaluated against
type AlertsConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Interval         time.Duration `mapstructure:"interval"`
	OverrunThreshold time.Duration `mapstructure:"overrun_threshold"`
	StallThreshold   time.Duration `mapstructure:"stall_threshold"`
}

type SessionConfig struct {
	ConfirmDelay time.Duration `mapstructure:"confirm_delay"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "schoolrun")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", true)
	v.SetDefault("nats.enabled", true)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)
	v.SetDefault("nats.connect_retries", 5)
	v.SetDefault("journal.path", "schoolrun_journal.db")
	v.SetDefault("journal.retention", 30*24*time.Hour)
	v.SetDefault("reminder.enabled", true)
	v.SetDefault("reminder.spec", "0 * * * * *")
	v.SetDefault("reminder.lead", 30*time.Minute)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.interval", 30*time.Second)
	v.SetDefault("alerts.enabled", true)
	v.SetDefault("alerts.interval", time.Minute)
	v.SetDefault("alerts.overrun_threshold", 2*time.Hour)
	v.SetDefault("alerts.stall_threshold", 30*time.Minute)
	v.SetDefault("session.confirm_delay", 300*time.Millisecond)
	v.SetDefault("seed", true)
}

// Load reads configuration. When path is empty, config.yaml is looked up in
// ./config and the working directory and is optional.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values viper cannot check by type alone
func (c *Config) Validate() error {
	var problems []string
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, fmt.Sprintf("log.level: %v", err))
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		problems = append(problems, "nats.url must be set when nats is enabled")
	}
	if c.Journal.Path == "" {
		problems = append(problems, "journal.path must be set")
	}
	if c.Reminder.Lead < 0 {
		problems = append(problems, "reminder.lead must not be negative")
	}
	if c.Metrics.Enabled && c.Metrics.Interval <= 0 {
		problems = append(problems, "metrics.interval must be positive")
	}
	if c.Alerts.Enabled && (c.Alerts.Interval <= 0 || c.Alerts.OverrunThreshold <= 0 || c.Alerts.StallThreshold <= 0) {
		problems = append(problems, "alerts.interval and thresholds must be positive")
	}
	if c.Session.ConfirmDelay < 0 {
		problems = append(problems, "session.confirm_delay must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// NewLogger builds the process logger
func (c LogConfig) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}

	zapConfig := zap.NewProductionConfig()
	if c.Development {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)
	return zapConfig.Build()
}
