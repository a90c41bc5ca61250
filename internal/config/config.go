package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config represents the root configuration structure for the application
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	GC      GCConfig      `mapstructure:"gc"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ServerConfig holds the network settings
type ServerConfig struct {
	Host        string        `mapstructure:"host"`
	Port        string        `mapstructure:"port"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"` // 0 disables the idle deadline
	RateLimit   float64       `mapstructure:"rate_limit"`   // commands per second per connection, 0 disables
	RateBurst   int           `mapstructure:"rate_burst"`
}

// StorageConfig defines the internal structure of the storage engine
type StorageConfig struct {
	Shards uint `mapstructure:"shards"`
}

// PubSubConfig defines the delivery queue of every subscriber
type PubSubConfig struct {
	OutboxSize int `mapstructure:"outbox_size"` // messages buffered per subscriber before dropping
}

// LogConfig defines logging verbosity and output style
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// MetricsConfig defines the prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load reads the configuration from a file and overrides it with environment variables
func Load(path string) (*Config, error) {
	v, err := read(path)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// Watch loads the configuration like Load and then calls onChange with the freshly
// decoded config every time the config file changes on disk
func Watch(path string, onChange func(cfg *Config, ev fsnotify.Event)) (*Config, error) {
	v, err := read(path)
	if err != nil {
		return nil, err
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	// nothing to watch when running on defaults and env only
	if v.ConfigFileUsed() == "" {
		return cfg, nil
	}

	v.OnConfigChange(func(ev fsnotify.Event) {
		if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
			return
		}
		next, err := decode(v)
		if err != nil {
			return
		}
		onChange(next, ev)
	})
	v.WatchConfig()

	return cfg, nil
}

func read(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	v.AddConfigPath(".")

	v.SetEnvPrefix("LUNAKV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, err
		}
	}

	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects values the engine cannot run with
func (c *Config) Validate() error {
	if c.GC.Enabled && c.GC.Interval <= 0 {
		return fmt.Errorf("gc.interval must be positive, got %s", c.GC.Interval)
	}
	if c.GC.Enabled && c.GC.SamplesPerCheck <= 0 {
		return fmt.Errorf("gc.samples_per_check must be positive, got %d", c.GC.SamplesPerCheck)
	}
	if c.GC.MatchThreshold < 0 || c.GC.MatchThreshold > 1 {
		return fmt.Errorf("gc.match_threshold must be within [0, 1], got %v", c.GC.MatchThreshold)
	}
	if c.PubSub.OutboxSize <= 0 {
		return fmt.Errorf("pubsub.outbox_size must be positive, got %d", c.PubSub.OutboxSize)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative, got %v", c.Server.RateLimit)
	}
	return nil
}

// setDefaults populates viper with fallback values if they are not provided via file or ENV
func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "6380")
	v.SetDefault("server.idle_timeout", "0s")
	v.SetDefault("server.rate_limit", 0)
	v.SetDefault("server.rate_burst", 100)

	// Storage
	v.SetDefault("storage.shards", 32)

	// GC
	gc := DefaultGCConfig()
	v.SetDefault("gc.enabled", gc.Enabled)
	v.SetDefault("gc.interval", gc.Interval)
	v.SetDefault("gc.samples_per_check", gc.SamplesPerCheck)
	v.SetDefault("gc.match_threshold", gc.MatchThreshold)
	v.SetDefault("gc.max_rounds", gc.MaxRounds)

	// PubSub
	v.SetDefault("pubsub.outbox_size", 1024)

	// Logger
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Metrics
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", "127.0.0.1:9121")
}
