// Package config loads and validates the driver configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (AXONLINK_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// envPrefix namespaces the environment variable overrides.
const envPrefix = "AXONLINK"

// Config captures the static configuration of the driver and its tools.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing and
	// continuous profiling
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Controllers lists the serial ports to bring online, in network
	// index order
	Controllers []ControllerConfig `mapstructure:"controllers" validate:"dive" yaml:"controllers"`

	// Link carries the per-network protocol tunables
	Link LinkConfig `mapstructure:"link" yaml:"link"`
}

// ControllerConfig identifies one serial port.
type ControllerConfig struct {
	// Port is the serial device path
	Port string `mapstructure:"port" validate:"required" yaml:"port"`

	// Rate is the target network rate to negotiate
	// Valid values: 9600, 115200, 230400, 460800, 921600, 1036800
	Rate int `mapstructure:"rate" validate:"omitempty,oneof=9600 115200 230400 460800 921600 1036800" yaml:"rate"`
}

// LinkConfig carries the per-network protocol tunables.
type LinkConfig struct {
	// QueueLimit bounds the in-flight command window (1..16)
	QueueLimit int `mapstructure:"queue_limit" validate:"omitempty,min=1,max=16" yaml:"queue_limit"`

	// ReadDeadline is the default deadline for parameter reads
	ReadDeadline time.Duration `mapstructure:"read_deadline" yaml:"read_deadline"`

	// MotionDeadline is the default deadline for move command acks
	MotionDeadline time.Duration `mapstructure:"motion_deadline" yaml:"motion_deadline"`

	// StopDeadline is the default deadline for node stops
	StopDeadline time.Duration `mapstructure:"stop_deadline" yaml:"stop_deadline"`

	// PollInterval is the background worker cadence
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`

	// AutoDiscovery enables ring verification and autonomous recovery
	AutoDiscovery bool `mapstructure:"auto_discovery" yaml:"auto_discovery"`

	// TraceCapacity is the trace ring depth in frames
	TraceCapacity int `mapstructure:"trace_capacity" validate:"omitempty,min=64" yaml:"trace_capacity"`

	// TraceEnabled controls frame capture at startup
	TraceEnabled bool `mapstructure:"trace_enabled" yaml:"trace_enabled"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing. When
// enabled, trace data is exported to an OTLP-compatible collector.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use insecure (non-TLS) connection
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
}

// MetricsConfig configures the Prometheus metrics HTTP endpoint. When
// Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	// Enabled controls whether metrics collection is enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// DefaultPath returns the default configuration file location.
func DefaultPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "axonlink", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "axonlink", "config.yaml")
}

// Load reads, merges, and validates the configuration. An empty path
// selects the default location; a missing file is not an error (defaults
// plus environment apply).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		path = DefaultPath()
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks a configuration against the struct tags.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if ok := asValidationErrors(err, &verrs); ok && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("config: field %s failed %q validation", first.Namespace(), first.Tag())
		}
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	v, ok := err.(validator.ValidationErrors)
	if ok {
		*target = v
	}
	return ok
}

// WriteSample writes a commented sample configuration to path.
func WriteSample(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	cfg := Default()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal sample config: %w", err)
	}

	header := "# AxonLink driver configuration\n# Environment overrides use the AXONLINK_ prefix, e.g. AXONLINK_LOGGING_LEVEL=DEBUG\n\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// Watch re-reads the file on change and invokes fn with the fresh
// configuration. Invalid intermediate states are skipped.
func Watch(path string, fn func(*Config)) error {
	if path == "" {
		path = DefaultPath()
	}
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("watch config %s: %w", path, err)
	}

	v.OnConfigChange(func(_ fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			return
		}
		if Validate(&cfg) != nil {
			return
		}
		fn(&cfg)
	})
	v.WatchConfig()
	return nil
}

// FromMap builds a configuration from a literal map, as used by embedders
// that configure the driver programmatically. Duration fields accept
// strings like "250ms".
func FromMap(m map[string]any) (*Config, error) {
	cfg := *Default()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		Result:  &cfg,
		TagName: "mapstructure",
	})
	if err != nil {
		return nil, fmt.Errorf("config decoder: %w", err)
	}
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("decode config map: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
