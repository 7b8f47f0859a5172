package telemetry

import (
	"fmt"
	"time"
)

// Config is the telemetry configuration of a requestor session.
type Config struct {
	// ServiceName identifies the service in logs, traces and metrics.
	ServiceName string `yaml:"service_name"`

	// ServiceVersion is the running version.
	ServiceVersion string `yaml:"service_version"`

	// Environment tags the deployment (dev, staging, prod).
	Environment string `yaml:"environment"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Tracing configures distributed tracing.
	Tracing TracingConfig `yaml:"tracing"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is the minimum level (trace, debug, info, warn, error).
	Level string `yaml:"level"`

	// Format selects console or json output.
	Format string `yaml:"format"`

	// Output is stdout, stderr or a file path.
	Output string `yaml:"output"`

	// EnableCaller adds file:line information to every entry.
	EnableCaller bool `yaml:"enable_caller"`
}

// TracingConfig configures distributed tracing.
type TracingConfig struct {
	// Enabled turns span export on.
	Enabled bool `yaml:"enabled"`

	// Exporter is otlp, stdout or none.
	Exporter string `yaml:"exporter"`

	// Endpoint is the OTLP collector address.
	Endpoint string `yaml:"endpoint"`

	// SamplingRate is the trace sampling ratio (0.0 to 1.0).
	SamplingRate float64 `yaml:"sampling_rate"`

	// ExportTimeout bounds a single export batch.
	ExportTimeout time.Duration `yaml:"export_timeout"`

	// Insecure disables TLS towards the collector.
	Insecure bool `yaml:"insecure"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled turns metric collection on.
	Enabled bool `yaml:"enabled"`

	// ListenAddress is where the /metrics endpoint is served.
	ListenAddress string `yaml:"listen_address"`

	// Namespace prefixes every metric name.
	Namespace string `yaml:"namespace"`
}

// DefaultConfig returns a development-friendly configuration: console logs
// at info level, no tracing, metrics off.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "gridnode",
		ServiceVersion: "dev",
		Environment:    "dev",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Exporter:      "none",
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			ListenAddress: "localhost:9464",
			Namespace:     "gridnode",
		},
	}
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}
	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "otlp":
			if c.Tracing.Endpoint == "" {
				return fmt.Errorf("otlp exporter requires an endpoint")
			}
		case "stdout", "none":
		default:
			return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
		}
		if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
			return fmt.Errorf("sampling rate must be within [0, 1]")
		}
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddress == "" {
		return fmt.Errorf("metrics require a listen address")
	}
	return nil
}
