package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/roach88/stocksync/internal/op"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STOCKSYNC"

// FileName is the config file searched for when no path is given.
const FileName = "stocksync"

// Config is the merged stocksync configuration.
type Config struct {
	DBPath         string        `mapstructure:"db_path" json:"db_path"`
	MaxAttempts    int           `mapstructure:"max_attempts" json:"max_attempts"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout" json:"attempt_timeout"`
	RetryDelay     time.Duration `mapstructure:"retry_delay" json:"retry_delay"`
	NotifyTimeout  time.Duration `mapstructure:"notify_timeout" json:"notify_timeout"`
	NotifyURL      string        `mapstructure:"notify_url" json:"notify_url"`
	ProbeURL       string        `mapstructure:"probe_url" json:"probe_url"`
	ProbeInterval  time.Duration `mapstructure:"probe_interval" json:"probe_interval"`
	StatusFile     string        `mapstructure:"status_file" json:"status_file"`
	OnExhausted    string        `mapstructure:"on_exhausted" json:"on_exhausted"`
	MetricsAddr    string        `mapstructure:"metrics_addr" json:"metrics_addr"`

	Log   LogConfig   `mapstructure:"log" json:"log"`
	Relay RelayConfig `mapstructure:"relay" json:"relay"`
	API   APIConfig   `mapstructure:"api" json:"api"`

	// Source is the config file that was read, empty when none was found.
	Source string `mapstructure:"-" json:"-"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string `mapstructure:"level" json:"level"`
	File       string `mapstructure:"file" json:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" json:"max_backups"`
}

// RelayConfig configures the sync-failure relay service.
type RelayConfig struct {
	Addr       string        `mapstructure:"addr" json:"addr"`
	AdminEmail string        `mapstructure:"admin_email" json:"admin_email"`
	MailURL    string        `mapstructure:"mail_url" json:"mail_url"`
	RateLimit  int           `mapstructure:"rate_limit" json:"rate_limit"`
	RateWindow time.Duration `mapstructure:"rate_window" json:"rate_window"`
}

// APIConfig configures the stock API client.
type APIConfig struct {
	BaseURL string `mapstructure:"base_url" json:"base_url"`
	Token   string `mapstructure:"token" json:"token"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		DBPath:         "stocksync.db",
		MaxAttempts:    3,
		AttemptTimeout: 30 * time.Second,
		NotifyTimeout:  10 * time.Second,
		ProbeInterval:  15 * time.Second,
		OnExhausted:    "prompt",
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Relay: RelayConfig{
			Addr:       ":8787",
			RateLimit:  60,
			RateWindow: time.Minute,
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("db_path", d.DBPath)
	v.SetDefault("max_attempts", d.MaxAttempts)
	v.SetDefault("attempt_timeout", d.AttemptTimeout)
	v.SetDefault("retry_delay", d.RetryDelay)
	v.SetDefault("notify_timeout", d.NotifyTimeout)
	v.SetDefault("notify_url", d.NotifyURL)
	v.SetDefault("probe_url", d.ProbeURL)
	v.SetDefault("probe_interval", d.ProbeInterval)
	v.SetDefault("status_file", d.StatusFile)
	v.SetDefault("on_exhausted", d.OnExhausted)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("relay.addr", d.Relay.Addr)
	v.SetDefault("relay.admin_email", d.Relay.AdminEmail)
	v.SetDefault("relay.mail_url", d.Relay.MailURL)
	v.SetDefault("relay.rate_limit", d.Relay.RateLimit)
	v.SetDefault("relay.rate_window", d.Relay.RateWindow)
	v.SetDefault("api.base_url", d.API.BaseURL)
	v.SetDefault("api.token", d.API.Token)
}

// Load reads configuration from path, or searches for stocksync.yaml in the
// working directory and the user config directory when path is empty. A
// missing file is not an error when searching.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "stocksync"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Source = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Exhausted reports how exhausted operations are resolved. When prompt is
// true the user is asked and d is unused.
func (c *Config) Exhausted() (d op.Disposition, prompt bool) {
	if c.OnExhausted == "prompt" {
		return 0, true
	}
	d, err := op.ParseDisposition(c.OnExhausted)
	if err != nil {
		return op.DispositionRequeue, false
	}
	return d, false
}

// document is the shape checked against the CUE schema.
func (c *Config) document() map[string]any {
	return map[string]any{
		"db_path":         c.DBPath,
		"max_attempts":    c.MaxAttempts,
		"attempt_timeout": int64(c.AttemptTimeout),
		"retry_delay":     int64(c.RetryDelay),
		"notify_timeout":  int64(c.NotifyTimeout),
		"notify_url":      c.NotifyURL,
		"probe_url":       c.ProbeURL,
		"probe_interval":  int64(c.ProbeInterval),
		"status_file":     c.StatusFile,
		"on_exhausted":    c.OnExhausted,
		"metrics_addr":    c.MetricsAddr,
		"log": map[string]any{
			"level":       c.Log.Level,
			"file":        c.Log.File,
			"max_size_mb": c.Log.MaxSizeMB,
			"max_backups": c.Log.MaxBackups,
		},
		"relay": map[string]any{
			"addr":        c.Relay.Addr,
			"admin_email": c.Relay.AdminEmail,
			"mail_url":    c.Relay.MailURL,
			"rate_limit":  c.Relay.RateLimit,
			"rate_window": int64(c.Relay.RateWindow),
		},
		"api": map[string]any{
			"base_url": c.API.BaseURL,
			"token":    c.API.Token,
		},
	}
}
