// Package config provides configuration loading for the statekit daemon.
//
// Configuration files may be YAML or TOML, selected by file extension.
// A handful of STATEKIT_* environment variables override file values, and a
// Watcher reloads the file on change so polling intervals can be
// reconfigured without a restart.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Sentinel errors for configuration loading.
var (
	// ErrUnsupportedFormat is returned for config files that are neither
	// YAML nor TOML.
	ErrUnsupportedFormat = errors.New("unsupported config format")

	// ErrInvalidConfig is returned when a loaded configuration fails
	// validation.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Duration wraps time.Duration with text unmarshalling, so intervals are
// written as "30s" or "1m" in both YAML and TOML.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Poller configures one polling module.
type Poller struct {
	// Enabled starts the module's engine at daemon startup.
	Enabled bool `yaml:"enabled" toml:"enabled"`

	// URL is the external endpoint the module's fetcher queries.
	URL string `yaml:"url" toml:"url"`

	// Interval is the refresh interval.
	Interval Duration `yaml:"interval" toml:"interval"`
}

// Rates configures the exchange-rate module.
type Rates struct {
	// Embedded fields are inlined: yaml needs the tag, go-toml flattens
	// anonymous structs by default.
	Poller `yaml:",inline"`

	// Currency is the base currency rates are quoted against.
	Currency string `yaml:"currency" toml:"currency"`
}

// Log configures logging.
type Log struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" toml:"level"`
}

// Config is the daemon configuration.
type Config struct {
	Log   Log    `yaml:"log" toml:"log"`
	Rates Rates  `yaml:"rates" toml:"rates"`
	Gas   Poller `yaml:"gas" toml:"gas"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log: Log{Level: "info"},
		Rates: Rates{
			Poller:   Poller{Enabled: true, Interval: Duration(3 * time.Minute)},
			Currency: "usd",
		},
		Gas: Poller{Enabled: true, Interval: Duration(15 * time.Second)},
	}
}

// Load reads the configuration file at path, applies environment overrides,
// and validates the result. A missing file is not an error: defaults plus
// environment overrides apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Defaults apply.
		case err != nil:
			return cfg, err
		default:
			if err := unmarshal(path, data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func unmarshal(path string, data []byte, cfg *Config) error {
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".toml":
		return toml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// applyEnv overrides file values with STATEKIT_* environment variables.
// Empty values are treated as set.
func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("STATEKIT_LOG_LEVEL"); ok {
		cfg.Log.Level = v
	}
	if v, ok := os.LookupEnv("STATEKIT_RATES_URL"); ok {
		cfg.Rates.URL = v
	}
	if v, ok := os.LookupEnv("STATEKIT_GAS_URL"); ok {
		cfg.Gas.URL = v
	}
	if v, ok := os.LookupEnv("STATEKIT_RATES_INTERVAL"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Rates.Interval = Duration(d)
		}
	}
	if v, ok := os.LookupEnv("STATEKIT_GAS_INTERVAL"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Gas.Interval = Duration(d)
		}
	}
}

func (c Config) validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log level %q", ErrInvalidConfig, c.Log.Level)
	}
	if c.Rates.Interval <= 0 {
		return fmt.Errorf("%w: rates interval must be positive", ErrInvalidConfig)
	}
	if c.Gas.Interval <= 0 {
		return fmt.Errorf("%w: gas interval must be positive", ErrInvalidConfig)
	}
	return nil
}
