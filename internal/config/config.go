// Package config loads the process configuration of the journey binaries.
//
// Values are layered: Default, then an optional YAML file, then JOURNEY_*
// environment variables, then command-line flags applied by the caller.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aretw0/journey/pkg/persistence/middleware"
	"github.com/mitchellh/mapstructure"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "JOURNEY_"

var (
	ErrInvalidLogLevel     = errors.New("invalid log_level")
	ErrInvalidStore        = errors.New("store must be one of memory, file, redis")
	ErrInvalidGraphsFormat = errors.New("graphs_format must be yaml or loam")
	ErrInvalidMaxRetries   = errors.New("max_retries must not be negative")
	ErrInvalidThreshold    = errors.New("intent thresholds must be within [0, 1] with floor <= threshold")
	ErrInvalidTimeout      = errors.New("durations must be positive")
	ErrInvalidSchedule     = errors.New("invalid sweep_schedule")
	ErrMissingRedisAddr    = errors.New("redis_addr is required for the redis store")
	ErrInvalidEncryption   = errors.New("invalid encryption_key")
	ErrInvalidPIIPattern   = errors.New("invalid pii_patterns")
)

// Config is the process configuration.
type Config struct {
	LogLevel string `yaml:"log_level"`

	MaxRetries             int           `yaml:"max_retries"`
	IntentThreshold        float64       `yaml:"intent_threshold"`
	IntentAlternativeFloor float64       `yaml:"intent_alternative_floor"`
	InterventionTimeout    time.Duration `yaml:"intervention_timeout"`
	SweepSchedule          string        `yaml:"sweep_schedule"`

	Store         string        `yaml:"store"`
	StoreDir      string        `yaml:"store_dir"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	RedisPrefix   string        `yaml:"redis_prefix"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
	LockTTL       time.Duration `yaml:"lock_ttl"`

	EncryptionKey string   `yaml:"encryption_key"`
	PIIPatterns   []string `yaml:"pii_patterns"`

	GraphsDir    string `yaml:"graphs_dir"`
	GraphsFormat string `yaml:"graphs_format"`

	HTTPAddr string `yaml:"http_addr"`
	Metrics  bool   `yaml:"metrics"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel:               "info",
		MaxRetries:             2,
		IntentThreshold:        0.55,
		IntentAlternativeFloor: 0.3,
		InterventionTimeout:    24 * time.Hour,
		SweepSchedule:          "@every 30s",
		Store:                  "memory",
		StoreDir:               ".journey",
		RedisPrefix:            "journey:",
		LockTTL:                30 * time.Second,
		GraphsDir:              "workflows",
		GraphsFormat:           "yaml",
		HTTPAddr:               ":8080",
		Metrics:                true,
	}
}

// Load returns Default overlaid with the YAML file at path and the environment.
// An empty path skips the file; a missing file is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}
	if err := cfg.ApplyEnv(os.Environ()); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overlays JOURNEY_<KEY> variables from environ (KEY=value pairs).
// Keys match the YAML names in upper case; lists are comma separated.
func (c *Config) ApplyEnv(environ []string) error {
	values := make(map[string]any)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		values[strings.ToLower(strings.TrimPrefix(key, EnvPrefix))] = value
	}
	if len(values) == 0 {
		return nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "yaml",
		WeaklyTypedInput: true,
		ZeroFields:       true,
		Result:           c,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(values); err != nil {
		return fmt.Errorf("invalid environment configuration: %w", err)
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}
	return level, nil
}

// EncryptionKeyBytes decodes EncryptionKey. It returns nil when encryption is off.
func (c Config) EncryptionKeyBytes() ([]byte, error) {
	if c.EncryptionKey == "" {
		return nil, nil
	}
	key, err := middleware.ParseKey(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncryption, err)
	}
	return key, nil
}

// Validate checks every field and joins all problems.
func (c Config) Validate() error {
	var errs []error

	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	switch c.Store {
	case "memory", "file":
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, ErrMissingRedisAddr)
		}
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidStore, c.Store))
	}
	if c.GraphsFormat != "yaml" && c.GraphsFormat != "loam" {
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidGraphsFormat, c.GraphsFormat))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, ErrInvalidMaxRetries)
	}
	if c.IntentThreshold < 0 || c.IntentThreshold > 1 ||
		c.IntentAlternativeFloor < 0 || c.IntentAlternativeFloor > c.IntentThreshold {
		errs = append(errs, ErrInvalidThreshold)
	}
	if c.InterventionTimeout <= 0 || c.LockTTL <= 0 || c.SessionTTL < 0 {
		errs = append(errs, ErrInvalidTimeout)
	}
	if _, err := cron.ParseStandard(c.SweepSchedule); err != nil {
		errs = append(errs, fmt.Errorf("%w: %v", ErrInvalidSchedule, err))
	}
	if _, err := c.EncryptionKeyBytes(); err != nil {
		errs = append(errs, err)
	}
	if _, err := middleware.CompilePatterns(c.PIIPatterns); err != nil {
		errs = append(errs, fmt.Errorf("%w: %v", ErrInvalidPIIPattern, err))
	}

	return errors.Join(errs...)
}
