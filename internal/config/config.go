// Package config provides YAML-based configuration loading for xpbridge.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"xpbridge/internal/codec"
	"xpbridge/internal/host"
	"xpbridge/internal/types"
)

// Config is the root application configuration.
type Config struct {
	// Channel is the local channel identity clients connect to: a socket
	// path on unix systems, a pipe name on Windows. Empty selects the
	// platform default.
	Channel string `mapstructure:"channel"`

	// TickInterval is the interval requested from the host tick.
	TickInterval time.Duration `mapstructure:"tick_interval"`

	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Capture CaptureConfig `mapstructure:"capture"`
	Sim     SimConfig     `mapstructure:"sim"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`
	// Rotation controls file rotation for file outputs
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the HTTP address serving /metrics. Empty disables it.
	Listen string `mapstructure:"listen"`
}

// CaptureConfig controls traffic capture.
type CaptureConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// SimConfig describes the simulated host used when no real host is
// attached.
type SimConfig struct {
	// Tick is how long the simulated host waits between frames while no
	// tick callback asks for a different interval.
	Tick      time.Duration `mapstructure:"tick"`
	Variables []SimVariable `mapstructure:"variables"`
	Actions   []string      `mapstructure:"actions"`
}

// SimVariable declares one simulated variable. Type is the host type mask;
// Value is written in wire format for the variable's primary type.
type SimVariable struct {
	Name     string `mapstructure:"name"`
	Type     int32  `mapstructure:"type"`
	Writable bool   `mapstructure:"writable"`
	Value    string `mapstructure:"value"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		TickInterval: 250 * time.Millisecond,
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stderr"},
			Development: false,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/xpbridge.log",
				MaxSizeMB:  20,
				MaxBackups: 3,
				MaxAgeDays: 14,
				Compress:   true,
			},
		},
		Capture: CaptureConfig{Path: "xpbridge.capture.zst"},
		Sim:     SimConfig{Tick: 250 * time.Millisecond},
	}
}

// Load reads configuration from path (if non-empty), otherwise searches
// common locations. Environment variables use the prefix XPBRIDGE with `.`
// and `-` replaced by `_`, e.g. XPBRIDGE_LOG_LEVEL=debug.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("XPBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("channel", cfg.Channel)
	v.SetDefault("tick_interval", cfg.TickInterval)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("metrics.listen", cfg.Metrics.Listen)
	v.SetDefault("capture.enable", cfg.Capture.Enable)
	v.SetDefault("capture.path", cfg.Capture.Path)
	v.SetDefault("sim.tick", cfg.Sim.Tick)

	if path == "" {
		if envPath := os.Getenv("XPBRIDGE_CONFIG"); envPath != "" {
			path = envPath
		}
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("xpbridge")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".xpbridge"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("invalid tick_interval: %s", c.TickInterval)
	}
	if c.Sim.Tick <= 0 {
		return fmt.Errorf("invalid sim.tick: %s", c.Sim.Tick)
	}
	if c.Capture.Enable && strings.TrimSpace(c.Capture.Path) == "" {
		return errors.New("capture.path is required when capture is enabled")
	}

	seen := make(map[string]bool, len(c.Sim.Variables))
	for i, sv := range c.Sim.Variables {
		if sv.Name == "" {
			return fmt.Errorf("sim.variables[%d]: name is required", i)
		}
		if seen[sv.Name] {
			return fmt.Errorf("sim.variables[%d]: duplicate name %q", i, sv.Name)
		}
		seen[sv.Name] = true
		if sv.Type <= 0 || sv.Type >= 64 {
			return fmt.Errorf("sim.variables[%d] %s: invalid type %d", i, sv.Name, sv.Type)
		}
	}
	return nil
}

// Specs converts the simulated host tables into host declarations. An
// empty value leaves the variable unset, so reads of it fail until a client
// writes one.
func (s SimConfig) Specs() ([]host.VariableSpec, []host.ActionSpec, error) {
	vars := make([]host.VariableSpec, 0, len(s.Variables))
	for _, sv := range s.Variables {
		mask := types.TypeID(sv.Type)
		spec := host.VariableSpec{Name: sv.Name, Type: mask, Writable: sv.Writable}
		if sv.Value != "" {
			primary := strconv.FormatInt(int64(mask.Primary()), 10)
			v, err := codec.ParseValue(primary, sv.Value)
			if err != nil {
				return nil, nil, fmt.Errorf("sim variable %s: %w", sv.Name, err)
			}
			spec.Value = v
		}
		vars = append(vars, spec)
	}

	acts := make([]host.ActionSpec, 0, len(s.Actions))
	for _, name := range s.Actions {
		acts = append(acts, host.ActionSpec{Name: name})
	}
	return vars, acts, nil
}
