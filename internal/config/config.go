package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration.
type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // "text" or "json"

	RedisMode      string        `yaml:"redis_mode"` // "inmemory", "external" or "disabled"
	RedisAddr      string        `yaml:"redis_addr"`
	Namespace      string        `yaml:"namespace"`
	HistorySize    int           `yaml:"history_size"`
	ResyncInterval time.Duration `yaml:"resync_interval"`

	Capacity    int `yaml:"capacity"` // 0 = unbounded
	EventBuffer int `yaml:"event_buffer"`

	Autoplay      bool    `yaml:"autoplay"`
	PlaybackScale float64 `yaml:"playback_scale"`
	// PlayerURL selects a remote playback daemon; empty uses the simulated player.
	PlayerURL      string `yaml:"player_url"`
	PlayerPassword string `yaml:"player_password"`

	// ConfigFile is the YAML file the values were read from, if any.
	ConfigFile  string `yaml:"-"`
	ShowVersion bool   `yaml:"-"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPAddr:       ":8080",
		MetricsAddr:    ":9090",
		LogLevel:       "info",
		LogFormat:      "text",
		RedisMode:      "inmemory",
		RedisAddr:      "localhost:6379",
		Namespace:      "jukebox",
		HistorySize:    100,
		ResyncInterval: 30 * time.Second,
		Capacity:       0,
		EventBuffer:    64,
		Autoplay:       true,
		PlaybackScale:  1.0,
	}
}

// Load reads configuration from an optional YAML file, the environment and
// command-line flags, in increasing order of precedence.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("jukebox", flag.ContinueOnError)

	// Flags are parsed into a scratch copy; only the ones actually set override
	// file and environment values.
	flags := Default()
	fs.BoolVar(&flags.ShowVersion, "version", false, "Show version and exit")
	fs.StringVar(&flags.ConfigFile, "config", "", "Path to a YAML configuration file")
	fs.StringVar(&flags.HTTPAddr, "http-addr", flags.HTTPAddr, "HTTP server listen address for the queue API")
	fs.StringVar(&flags.MetricsAddr, "metrics-addr", flags.MetricsAddr, "HTTP server listen address for Prometheus metrics")
	fs.StringVar(&flags.LogLevel, "log-level", flags.LogLevel, "Log level: debug, info, warn or error")
	fs.StringVar(&flags.LogFormat, "log-format", flags.LogFormat, "Log format: text or json")
	fs.StringVar(&flags.RedisMode, "redis-mode", flags.RedisMode, "Redis mode: inmemory, external or disabled")
	fs.StringVar(&flags.RedisAddr, "redis-addr", flags.RedisAddr, "Redis address for external mode")
	fs.StringVar(&flags.Namespace, "namespace", flags.Namespace, "Key namespace prefix")
	fs.IntVar(&flags.HistorySize, "history-size", flags.HistorySize, "Number of played requests kept in Redis")
	fs.DurationVar(&flags.ResyncInterval, "resync-interval", flags.ResyncInterval, "Interval between full Redis resyncs")
	fs.IntVar(&flags.Capacity, "capacity", flags.Capacity, "Maximum number of queued requests (0 = unbounded)")
	fs.IntVar(&flags.EventBuffer, "event-buffer", flags.EventBuffer, "Per-subscriber queue event buffer")
	fs.BoolVar(&flags.Autoplay, "autoplay", flags.Autoplay, "Consume the queue with the built-in playback coordinator")
	fs.Float64Var(&flags.PlaybackScale, "playback-scale", flags.PlaybackScale, "Multiplier applied to simulated song lengths")
	fs.StringVar(&flags.PlayerURL, "player-url", flags.PlayerURL, "Base URL of a remote playback daemon")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()
	if flags.ShowVersion {
		cfg.ShowVersion = true
		return cfg, nil
	}

	path := flags.ConfigFile
	if path == "" {
		path = os.Getenv("JUKEBOX_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
		cfg.ConfigFile = path
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "http-addr":
			cfg.HTTPAddr = flags.HTTPAddr
		case "metrics-addr":
			cfg.MetricsAddr = flags.MetricsAddr
		case "log-level":
			cfg.LogLevel = flags.LogLevel
		case "log-format":
			cfg.LogFormat = flags.LogFormat
		case "redis-mode":
			cfg.RedisMode = flags.RedisMode
		case "redis-addr":
			cfg.RedisAddr = flags.RedisAddr
		case "namespace":
			cfg.Namespace = flags.Namespace
		case "history-size":
			cfg.HistorySize = flags.HistorySize
		case "resync-interval":
			cfg.ResyncInterval = flags.ResyncInterval
		case "capacity":
			cfg.Capacity = flags.Capacity
		case "event-buffer":
			cfg.EventBuffer = flags.EventBuffer
		case "autoplay":
			cfg.Autoplay = flags.Autoplay
		case "playback-scale":
			cfg.PlaybackScale = flags.PlaybackScale
		case "player-url":
			cfg.PlayerURL = flags.PlayerURL
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.HTTPAddr = envOrDefault("JUKEBOX_HTTP_ADDR", c.HTTPAddr)
	c.MetricsAddr = envOrDefault("JUKEBOX_METRICS_ADDR", c.MetricsAddr)
	c.LogLevel = envOrDefault("JUKEBOX_LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOrDefault("LOG_FORMAT", c.LogFormat)
	c.RedisMode = envOrDefault("JUKEBOX_REDIS_MODE", c.RedisMode)
	c.RedisAddr = envOrDefault("JUKEBOX_REDIS_ADDR", c.RedisAddr)
	c.Namespace = envOrDefault("JUKEBOX_NAMESPACE", c.Namespace)
	c.PlayerURL = envOrDefault("JUKEBOX_PLAYER_URL", c.PlayerURL)
	c.PlayerPassword = envOrDefault("JUKEBOX_PLAYER_PASSWORD", c.PlayerPassword)

	var err error
	if c.HistorySize, err = envInt("JUKEBOX_HISTORY_SIZE", c.HistorySize); err != nil {
		return err
	}
	if c.Capacity, err = envInt("JUKEBOX_CAPACITY", c.Capacity); err != nil {
		return err
	}
	if c.EventBuffer, err = envInt("JUKEBOX_EVENT_BUFFER", c.EventBuffer); err != nil {
		return err
	}
	if v, ok := os.LookupEnv("JUKEBOX_RESYNC_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("JUKEBOX_RESYNC_INTERVAL: %w", err)
		}
		c.ResyncInterval = d
	}
	if v, ok := os.LookupEnv("JUKEBOX_AUTOPLAY"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("JUKEBOX_AUTOPLAY: %w", err)
		}
		c.Autoplay = b
	}
	if v, ok := os.LookupEnv("JUKEBOX_PLAYBACK_SCALE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("JUKEBOX_PLAYBACK_SCALE: %w", err)
		}
		c.PlaybackScale = f
	}
	return nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch c.RedisMode {
	case "inmemory", "external", "disabled":
	default:
		return fmt.Errorf("unknown redis mode %q", c.RedisMode)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	if c.Capacity < 0 {
		return errors.New("capacity must not be negative")
	}
	if c.EventBuffer <= 0 {
		return errors.New("event buffer must be positive")
	}
	if c.HistorySize <= 0 {
		return errors.New("history size must be positive")
	}
	if c.ResyncInterval <= 0 {
		return errors.New("resync interval must be positive")
	}
	if c.PlaybackScale <= 0 {
		return errors.New("playback scale must be positive")
	}
	return nil
}

func envOrDefault(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
