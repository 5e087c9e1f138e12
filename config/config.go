// Package config loads the block simulator configuration.
//
// Configuration comes from a single YAML file named by the --config flag or
// the FRAMEFS_CONFIG environment variable. Without either the defaults apply.
// There is no search path.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/keks/framefs"
	"github.com/keks/framefs/driver"
)

// EnvVar names the environment variable holding the config path.
const EnvVar = "FRAMEFS_CONFIG"

// Config is the complete simulator configuration.
type Config struct {
	Driver DriverConfig `yaml:"driver"`
	Bus    BusConfig    `yaml:"bus"`
	Log    LogConfig    `yaml:"log"`
}

// DriverConfig tunes the driver layer.
type DriverConfig struct {
	// RetryBudget is the number of attempts per frame transfer.
	RetryBudget int `yaml:"retry_budget"`

	// MaxFiles caps the file table.
	MaxFiles int `yaml:"max_files"`

	// CapacityFrames is the number of frames in the block.
	CapacityFrames int `yaml:"capacity_frames"`
}

// BusConfig selects and tunes the simulated controller.
type BusConfig struct {
	// Kind is "memory" or "file".
	Kind string `yaml:"kind"`

	// Path is the block file for kind "file".
	Path string `yaml:"path"`

	// Signature is "md5" or "blake3".
	Signature string `yaml:"signature"`

	// Image, if set, is loaded into a memory bus at start when it exists
	// and written back at the end of a run.
	Image string `yaml:"image"`

	// ImageCompression is "none", "lz4" or "zstd".
	ImageCompression string `yaml:"image_compression"`

	Faults FaultConfig `yaml:"faults"`
}

// FaultConfig enables random fault injection.
type FaultConfig struct {
	Seed        int64   `yaml:"seed"`
	CorruptRate float64 `yaml:"corrupt_rate"`
	FailureRate float64 `yaml:"failure_rate"`
}

// Enabled reports whether any fault injection is configured.
func (f FaultConfig) Enabled() bool {
	return f.CorruptRate > 0 || f.FailureRate > 0
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is "text", "json" or "auto" (text on a terminal, json otherwise).
	Format string `yaml:"format"`

	// File receives log output instead of stderr when set.
	File string `yaml:"file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Driver: DriverConfig{
			RetryBudget:    driver.DefaultRetryBudget,
			MaxFiles:       framefs.MaxFiles,
			CapacityFrames: framefs.BlockCapacityFrames,
		},
		Bus: BusConfig{
			Kind:             "memory",
			Signature:        "md5",
			ImageCompression: "lz4",
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "auto",
		},
	}
}

// Load reads the config at path over the defaults. An empty path falls back
// to $FRAMEFS_CONFIG, and to the defaults alone if that is unset too.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}

	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the simulator cannot use.
func (c *Config) Validate() error {
	var errs []error

	if c.Driver.RetryBudget <= 0 {
		errs = append(errs, fmt.Errorf("driver.retry_budget must be positive, got %d", c.Driver.RetryBudget))
	}
	if c.Driver.MaxFiles <= 0 {
		errs = append(errs, fmt.Errorf("driver.max_files must be positive, got %d", c.Driver.MaxFiles))
	}
	if c.Driver.CapacityFrames <= 0 || c.Driver.CapacityFrames > framefs.BlockCapacityFrames {
		errs = append(errs, fmt.Errorf("driver.capacity_frames must be in 1..%d, got %d",
			framefs.BlockCapacityFrames, c.Driver.CapacityFrames))
	}

	switch c.Bus.Kind {
	case "memory":
	case "file":
		if c.Bus.Path == "" {
			errs = append(errs, errors.New("bus.path is required for a file bus"))
		}
	default:
		errs = append(errs, fmt.Errorf("bus.kind must be memory or file, got %q", c.Bus.Kind))
	}
	if _, err := framefs.SignatureByName(c.Bus.Signature); err != nil {
		errs = append(errs, fmt.Errorf("bus.signature: %w", err))
	}
	switch c.Bus.ImageCompression {
	case "", "none", "lz4", "zstd":
	default:
		errs = append(errs, fmt.Errorf("bus.image_compression must be none, lz4 or zstd, got %q", c.Bus.ImageCompression))
	}
	for name, rate := range map[string]float64{
		"corrupt_rate": c.Bus.Faults.CorruptRate,
		"failure_rate": c.Bus.Faults.FailureRate,
	} {
		if rate < 0 || rate >= 1 {
			errs = append(errs, fmt.Errorf("bus.faults.%s must be in [0,1), got %v", name, rate))
		}
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "", "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be auto, text or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// SlogLevel parses the configured level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if l.Level == "" {
		return slog.LevelWarn, nil
	}
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// DriverOptions turns the driver section into driver options.
func (c *Config) DriverOptions() ([]driver.Option, error) {
	sig, err := framefs.SignatureByName(c.Bus.Signature)
	if err != nil {
		return nil, err
	}
	return []driver.Option{
		driver.WithRetryBudget(c.Driver.RetryBudget),
		driver.WithMaxFiles(c.Driver.MaxFiles),
		driver.WithCapacity(c.Driver.CapacityFrames),
		driver.WithChecksummer(framefs.NewChecksummer(sig)),
	}, nil
}
