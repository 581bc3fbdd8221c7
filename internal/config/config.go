package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FORUMSYNC_"

var validate = validator.New()

// Config holds all configuration for the sync client.
type Config struct {
	// APIURL is the base URL of the forum REST API.
	APIURL string `yaml:"api_url" validate:"required,url"`

	// PushURL is the websocket endpoint of the push channel. Empty disables
	// push, leaving polling as the only source of updates.
	PushURL string `yaml:"push_url" validate:"omitempty,url"`

	// Token authenticates both the REST client and the push channel.
	Token string `yaml:"token"`

	UserID string `yaml:"user_id"`

	// Rooms joined on the push channel. Defaults to the user's room.
	Rooms []string `yaml:"rooms"`

	// DebugAddr is the listen address of the debug HTTP server.
	DebugAddr string `yaml:"debug_addr"`

	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`

	ScrollPreservation bool `yaml:"scroll_preservation"`

	Queue   Queue   `yaml:"queue"`
	Polling Polling `yaml:"polling"`
	TTL     TTL     `yaml:"ttl"`
}

// Queue tunes update batching.
type Queue struct {
	Throttle   time.Duration `yaml:"throttle" validate:"gte=0"`
	FlushDelay time.Duration `yaml:"flush_delay" validate:"gt=0"`
	MaxBatch   int           `yaml:"max_batch" validate:"gte=0"`
}

// Polling tunes the fallback poller.
type Polling struct {
	Interval          time.Duration `yaml:"interval" validate:"gt=0"`
	FeedProbeInterval time.Duration `yaml:"feed_probe_interval" validate:"gte=0"`
	BackoffFactor     float64       `yaml:"backoff_factor" validate:"gte=1"`
	MaxRetries        int           `yaml:"max_retries" validate:"gte=1"`
	RateLimitCooldown time.Duration `yaml:"rate_limit_cooldown" validate:"gte=0"`
	FetchTimeout      time.Duration `yaml:"fetch_timeout" validate:"gt=0"`
}

// TTL sets how long fetched values are served from cache.
type TTL struct {
	Wallet    time.Duration `yaml:"wallet" validate:"gt=0"`
	BoostInfo time.Duration `yaml:"boost_info" validate:"gt=0"`
	Packages  time.Duration `yaml:"packages" validate:"gt=0"`
	Items     time.Duration `yaml:"items" validate:"gt=0"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		APIURL:             "http://localhost:8080/api",
		DebugAddr:          ":9090",
		LogLevel:           "info",
		ScrollPreservation: true,
		Queue: Queue{
			Throttle:   16 * time.Millisecond,
			FlushDelay: 100 * time.Millisecond,
			MaxBatch:   50,
		},
		Polling: Polling{
			Interval:          30 * time.Second,
			BackoffFactor:     2,
			MaxRetries:        5,
			RateLimitCooldown: 2 * time.Minute,
			FetchTimeout:      10 * time.Second,
		},
		TTL: TTL{
			Wallet:    300 * time.Second,
			BoostInfo: 10 * time.Minute,
			Packages:  time.Hour,
			Items:     10 * time.Minute,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// environment variables, in increasing precedence. A .env file in the
// working directory is loaded into the environment first. When path is
// empty, FORUMSYNC_CONFIG names the file; with neither set no file is read.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if len(cfg.Rooms) == 0 && cfg.UserID != "" {
		cfg.Rooms = []string{"user:" + cfg.UserID}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate config: %w", err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, e := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %q", e.Namespace(), e.Tag()))
		}
		return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"API_URL":    &cfg.APIURL,
		"PUSH_URL":   &cfg.PushURL,
		"TOKEN":      &cfg.Token,
		"USER_ID":    &cfg.UserID,
		"DEBUG_ADDR": &cfg.DebugAddr,
		"LOG_LEVEL":  &cfg.LogLevel,
	}
	for name, dst := range strs {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv(EnvPrefix + "ROOMS"); v != "" {
		cfg.Rooms = nil
		for _, r := range strings.Split(v, ",") {
			if r = strings.TrimSpace(r); r != "" {
				cfg.Rooms = append(cfg.Rooms, r)
			}
		}
	}

	durations := map[string]*time.Duration{
		"QUEUE_THROTTLE":      &cfg.Queue.Throttle,
		"QUEUE_FLUSH_DELAY":   &cfg.Queue.FlushDelay,
		"POLL_INTERVAL":       &cfg.Polling.Interval,
		"FEED_PROBE_INTERVAL": &cfg.Polling.FeedProbeInterval,
		"RATE_LIMIT_COOLDOWN": &cfg.Polling.RateLimitCooldown,
		"WALLET_TTL":          &cfg.TTL.Wallet,
	}
	for name, dst := range durations {
		v := os.Getenv(EnvPrefix + name)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
		}
		*dst = d
	}

	ints := map[string]*int{
		"QUEUE_MAX_BATCH": &cfg.Queue.MaxBatch,
		"MAX_RETRIES":     &cfg.Polling.MaxRetries,
	}
	for name, dst := range ints {
		v := os.Getenv(EnvPrefix + name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
	}

	if v := os.Getenv(EnvPrefix + "SCROLL_PRESERVATION"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sSCROLL_PRESERVATION: %w", EnvPrefix, err)
		}
		cfg.ScrollPreservation = b
	}
	return nil
}
