// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"firestige.xyz/synthcap/internal/capture"
	"firestige.xyz/synthcap/internal/core"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `synthcap:` root key in YAML.
type GlobalConfig struct {
	Capture CaptureConfig `mapstructure:"capture"`
	Control ControlConfig `mapstructure:"control"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`
}

// ─── Capture ───

// CaptureConfig controls how chunks become capture files.
type CaptureConfig struct {
	OutputDir     string              `mapstructure:"output_dir"`
	MaxPacketSize uint32              `mapstructure:"max_packet_size"` // 0 = snaplen 65535
	AddressMode   capture.AddressMode `mapstructure:"address_mode"`    // fixed | caller
	SeedMode      capture.SeedMode    `mapstructure:"seed_mode"`       // random | clock
}

// ─── Control Plane ───

// ControlConfig contains local control plane settings.
type ControlConfig struct {
	Socket          string        `mapstructure:"socket"`
	PIDFile         string        `mapstructure:"pid_file"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`   // trace / debug / info / warn / error
	Format  string           `mapstructure:"format"`  // json / text / pattern
	Pattern string           `mapstructure:"pattern"` // only for format=pattern
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains log output destinations besides stdout.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `synthcap: ...`.
type configRoot struct {
	Synthcap GlobalConfig `mapstructure:"synthcap"`
}

// Load loads configuration from file. An empty path loads defaults and
// environment overrides only.
// The YAML file uses `synthcap:` as root key; env vars use the SYNTHCAP_ prefix (e.g., SYNTHCAP_LOG_LEVEL).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `synthcap.` key prefix maps to `SYNTHCAP_` through the replacer
	// (key "synthcap.capture.output_dir" → env "SYNTHCAP_CAPTURE_OUTPUT_DIR").
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Synthcap

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *GlobalConfig {
	cfg, err := Load("")
	if err != nil {
		// Only reachable with a broken SYNTHCAP_* environment.
		panic(err)
	}
	return cfg
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
	)
}

// setDefaults sets default values for configuration.
// All keys use the "synthcap." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Capture defaults
	v.SetDefault("synthcap.capture.output_dir", "./captures")
	v.SetDefault("synthcap.capture.max_packet_size", 0)
	v.SetDefault("synthcap.capture.address_mode", string(capture.AddressFixed))
	v.SetDefault("synthcap.capture.seed_mode", string(capture.SeedRandom))

	// Control defaults
	v.SetDefault("synthcap.control.pid_file", "/var/run/synthcap.pid")
	v.SetDefault("synthcap.control.socket", "/var/run/synthcap.sock")
	v.SetDefault("synthcap.control.shutdown_timeout", "5s")

	// Log defaults
	v.SetDefault("synthcap.log.level", "info")
	v.SetDefault("synthcap.log.format", "json")
	v.SetDefault("synthcap.log.pattern", "")
	v.SetDefault("synthcap.log.outputs.file.enabled", false)
	v.SetDefault("synthcap.log.outputs.file.path", "/var/log/synthcap/synthcap.log")
	v.SetDefault("synthcap.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("synthcap.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("synthcap.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("synthcap.log.outputs.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("synthcap.metrics.enabled", false)
	v.SetDefault("synthcap.metrics.listen", ":9092")
	v.SetDefault("synthcap.metrics.path", "/metrics")
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: invalid log level: %s (must be trace/debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "text":
	case "pattern":
		if cfg.Log.Pattern == "" {
			cfg.Log.Pattern = "%time [%level] %msg"
		}
	default:
		return fmt.Errorf("%w: invalid log format: %s (must be json/text/pattern)", core.ErrConfigInvalid, cfg.Log.Format)
	}
	if cfg.Log.Outputs.File.Enabled && cfg.Log.Outputs.File.Path == "" {
		return fmt.Errorf("%w: log.outputs.file.path is required when file output is enabled", core.ErrConfigInvalid)
	}

	// ── Capture validation ──
	if cfg.Capture.OutputDir == "" {
		return fmt.Errorf("%w: capture.output_dir must not be empty", core.ErrConfigInvalid)
	}
	if cfg.Capture.MaxPacketSize > math.MaxUint32-core.FrameOverhead {
		return fmt.Errorf("%w: capture.max_packet_size %d overflows the snaplen field", core.ErrConfigInvalid, cfg.Capture.MaxPacketSize)
	}
	if cfg.Capture.AddressMode == "" {
		cfg.Capture.AddressMode = capture.AddressFixed
	}
	if cfg.Capture.SeedMode == "" {
		cfg.Capture.SeedMode = capture.SeedRandom
	}

	// ── Control validation ──
	if cfg.Control.Socket == "" {
		return fmt.Errorf("%w: control.socket must not be empty", core.ErrConfigInvalid)
	}
	if cfg.Control.ShutdownTimeout <= 0 {
		cfg.Control.ShutdownTimeout = 5 * time.Second
	}

	// ── Metrics validation ──
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Listen == "" {
			return fmt.Errorf("%w: metrics.listen is required when metrics.enabled=true", core.ErrConfigInvalid)
		}
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			cfg.Metrics.Path = "/" + cfg.Metrics.Path
		}
	}

	return nil
}
