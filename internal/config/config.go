package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Action    ActionConfig    `mapstructure:"action"`
}

// ServerConfig defines local listener ports and addresses
type ServerConfig struct {
	BindAddress string `mapstructure:"bind_address"`
	ControlPort int    `mapstructure:"control_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// StorageConfig defines the settings store backend
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "redis", "file" or "memory"
	Path  string      `mapstructure:"path"` // settings file for type "file"
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AuthConfig defines the remote authorization check
type AuthConfig struct {
	URL     string `mapstructure:"url"`
	Timeout string `mapstructure:"timeout"`
}

// SchedulerConfig defines tick loop timing
type SchedulerConfig struct {
	SettleDelay     string `mapstructure:"settle_delay"`     // press-to-release delay
	RefreshInterval string `mapstructure:"refresh_interval"` // countdown refresh period
	SettingsTimeout string `mapstructure:"settings_timeout"` // per-tick settings read budget
	AutoStart       bool   `mapstructure:"auto_start"`       // start once verified
}

// ActionConfig selects the action performer
type ActionConfig struct {
	Performer string `mapstructure:"performer"` // "keyboard" or "log"
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("AUTOKEY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Defaults returns the configuration produced by defaults alone
func Defaults() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "127.0.0.1")
	v.SetDefault("server.control_port", 8765)
	v.SetDefault("server.metrics_port", 9090)

	// Storage defaults
	v.SetDefault("storage.type", "file")
	v.SetDefault("storage.path", defaultSettingsPath())
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 4)
	v.SetDefault("storage.redis.min_idle_conns", 1)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	// Auth defaults
	v.SetDefault("auth.url", "https://auth.example.com/autokey.json")
	v.SetDefault("auth.timeout", "5s")

	// Scheduler defaults
	v.SetDefault("scheduler.settle_delay", "50ms")
	v.SetDefault("scheduler.refresh_interval", "1s")
	v.SetDefault("scheduler.settings_timeout", "2s")
	v.SetDefault("scheduler.auto_start", false)

	// Action defaults
	v.SetDefault("action.performer", "keyboard")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.ControlPort <= 0 || cfg.Server.ControlPort > 65535 {
		return fmt.Errorf("invalid control port: %d", cfg.Server.ControlPort)
	}
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	u, err := url.Parse(cfg.Auth.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid auth url: %q", cfg.Auth.URL)
	}

	durations := map[string]string{
		"auth.timeout":               cfg.Auth.Timeout,
		"scheduler.settle_delay":     cfg.Scheduler.SettleDelay,
		"scheduler.refresh_interval": cfg.Scheduler.RefreshInterval,
		"scheduler.settings_timeout": cfg.Scheduler.SettingsTimeout,
	}
	for key, raw := range durations {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		if d <= 0 {
			return fmt.Errorf("invalid %s: must be positive", key)
		}
	}

	switch cfg.Action.Performer {
	case "keyboard", "log":
	default:
		return fmt.Errorf("unsupported action performer: %s", cfg.Action.Performer)
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "file"
	}

	switch cfg.Storage.Type {
	case "redis", "memory":
	case "file":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	return nil
}

// ControlAddr returns the control API listen address
func (c *Config) ControlAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.ControlPort)
}

// MetricsAddr returns the metrics listen address, or "" when disabled
func (c *Config) MetricsAddr() string {
	if c.Server.MetricsPort == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.MetricsPort)
}

// ParseDuration parses a duration string with a fallback
func ParseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func defaultSettingsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "autokey", "settings.yaml")
	}
	return filepath.Join(dir, "autokey", "settings.yaml")
}
