package config

import (
	"time"

	"github.com/spf13/viper"
)

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
			Output: "stderr",
		},
		Telemetry: TelemetryConfig{
			Enabled:    false,
			Endpoint:   "localhost:4317",
			Insecure:   true,
			SampleRate: 1.0,
			Profiling: ProfilingConfig{
				Enabled:  false,
				Endpoint: "http://localhost:4040",
			},
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9464,
		},
		Link: LinkConfig{
			QueueLimit:     8,
			ReadDeadline:   100 * time.Millisecond,
			MotionDeadline: time.Second,
			StopDeadline:   250 * time.Millisecond,
			PollInterval:   50 * time.Millisecond,
			AutoDiscovery:  true,
			TraceCapacity:  4096,
			TraceEnabled:   true,
		},
	}
}

// setDefaults seeds a viper instance with the stock values so partial
// files and environment overrides merge cleanly.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4317")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.sample_rate", 1.0)
	v.SetDefault("telemetry.profiling.enabled", false)
	v.SetDefault("telemetry.profiling.endpoint", "http://localhost:4040")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 9464)

	v.SetDefault("link.queue_limit", 8)
	v.SetDefault("link.read_deadline", 100*time.Millisecond)
	v.SetDefault("link.motion_deadline", time.Second)
	v.SetDefault("link.stop_deadline", 250*time.Millisecond)
	v.SetDefault("link.poll_interval", 50*time.Millisecond)
	v.SetDefault("link.auto_discovery", true)
	v.SetDefault("link.trace_capacity", 4096)
	v.SetDefault("link.trace_enabled", true)
}

// LinkOf converts the file-level link section into the engine's config,
// filling unset values from the engine defaults.
func (c *Config) LinkOf() LinkConfig {
	out := c.Link
	d := Default().Link
	if out.QueueLimit == 0 {
		out.QueueLimit = d.QueueLimit
	}
	if out.ReadDeadline == 0 {
		out.ReadDeadline = d.ReadDeadline
	}
	if out.MotionDeadline == 0 {
		out.MotionDeadline = d.MotionDeadline
	}
	if out.StopDeadline == 0 {
		out.StopDeadline = d.StopDeadline
	}
	if out.PollInterval == 0 {
		out.PollInterval = d.PollInterval
	}
	if out.TraceCapacity == 0 {
		out.TraceCapacity = d.TraceCapacity
	}
	return out
}
