// Package config loads and validates the fleet manager configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration. Zero-valued fields take the
// struct tag defaults; the YAML file only needs to state overrides.
type Config struct {
	// FleetSize is the number of positions to fill.
	FleetSize int `yaml:"fleet_size" default:"3"`

	// ScanSeconds is the length of one scan cycle; ScanIntervalSeconds
	// the spacing between cycle starts.
	ScanSeconds         int `yaml:"scan_seconds" default:"15"`
	ScanIntervalSeconds int `yaml:"scan_interval_seconds" default:"30"`

	// ExpectedHz is the nominal sensor packet rate used for loss
	// computation; 0 disables it.
	ExpectedHz float64 `yaml:"expected_hz" default:"100"`

	// WindowSeconds is the sliding window for stream statistics.
	WindowSeconds int `yaml:"window_seconds" default:"5"`

	// PollIntervalSeconds is the fallback read cadence for secondary
	// characteristics when notifications are unavailable.
	PollIntervalSeconds int `yaml:"poll_interval_seconds" default:"20"`

	// RetentionDays bounds how long unseen devices keep their persisted
	// position.
	RetentionDays int `yaml:"retention_days" default:"30"`

	// MTU is the transfer unit requested on connect, best effort.
	MTU int `yaml:"mtu" default:"185"`

	// SessionDir receives session logs; StoreDir holds the position
	// database.
	SessionDir string `yaml:"session_dir" default:"sessions"`
	StoreDir   string `yaml:"store_dir" default:"."`

	// ActivityTag labels recorded sessions.
	ActivityTag string `yaml:"activity_tag" default:""`

	// LogLevel is a logrus level name.
	LogLevel string `yaml:"log_level" default:"info"`
}

// Default returns a Config with every field at its tag default.
func Default() *Config {
	cfg := new(Config)
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults and validates the result. An
// empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.FleetSize < 1:
		return fmt.Errorf("fleet_size must be at least 1, got %d", c.FleetSize)
	case c.ScanSeconds < 1:
		return fmt.Errorf("scan_seconds must be positive, got %d", c.ScanSeconds)
	case c.ScanIntervalSeconds < c.ScanSeconds:
		return fmt.Errorf("scan_interval_seconds (%d) must not be shorter than scan_seconds (%d)",
			c.ScanIntervalSeconds, c.ScanSeconds)
	case c.ExpectedHz < 0:
		return fmt.Errorf("expected_hz must not be negative, got %g", c.ExpectedHz)
	case c.WindowSeconds < 1:
		return fmt.Errorf("window_seconds must be positive, got %d", c.WindowSeconds)
	case c.PollIntervalSeconds < 1:
		return fmt.Errorf("poll_interval_seconds must be positive, got %d", c.PollIntervalSeconds)
	case c.RetentionDays < 1:
		return fmt.Errorf("retention_days must be positive, got %d", c.RetentionDays)
	case c.SessionDir == "":
		return fmt.Errorf("session_dir must not be empty")
	}
	return nil
}

// ScanWindow and friends convert the second-granularity fields into
// durations for the engine.
func (c *Config) ScanWindow() time.Duration { return time.Duration(c.ScanSeconds) * time.Second }

func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalSeconds) * time.Second
}

func (c *Config) StatsWindow() time.Duration { return time.Duration(c.WindowSeconds) * time.Second }

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
