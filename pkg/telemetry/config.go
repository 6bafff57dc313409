package telemetry

import (
	"fmt"
	"time"
)

// Config is the telemetry section of the phasekit runtime configuration.
type Config struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`

	// Environment is recorded on every span as the "environment" resource
	// attribute (development, staging, production).
	Environment string `yaml:"environment"`

	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
	Events  EventsConfig  `yaml:"events"`

	// ResourceAttributes are added to the trace resource, e.g. the team or
	// region owning the workflows.
	ResourceAttributes map[string]string `yaml:"resource_attributes"`
}

type LoggingConfig struct {
	// Level is a zerolog level name, or "disabled".
	Level string `yaml:"level"`
	// Format is "console" or "json".
	Format string `yaml:"format"`
	// Output is "stderr", "stdout" or a file path opened for append.
	Output string `yaml:"output"`

	EnableCaller       bool   `yaml:"enable_caller"`
	EnableSampling     bool   `yaml:"enable_sampling"`
	SamplingInitial    int    `yaml:"sampling_initial"`
	SamplingThereafter int    `yaml:"sampling_thereafter"`
	TimeFormat         string `yaml:"time_format"`
}

type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Exporter is "otlp", "stdout" or "none".
	Exporter string `yaml:"exporter"`
	// Endpoint is the OTLP gRPC collector, e.g. "localhost:4317".
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`

	MaxExportBatchSize int               `yaml:"max_export_batch_size"`
	ExportTimeout      time.Duration     `yaml:"export_timeout"`
	Headers            map[string]string `yaml:"headers"`
	Insecure           bool              `yaml:"insecure"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	// Textfile, when set, receives the registry in the Prometheus text
	// format at shutdown, for the node_exporter textfile collector.
	Textfile string `yaml:"textfile,omitempty"`

	Namespace string `yaml:"namespace"`

	// DefaultHistogramBuckets are the latency buckets in seconds. Advice and
	// store calls are sub-millisecond to tens of milliseconds.
	DefaultHistogramBuckets []float64 `yaml:"default_histogram_buckets"`
}

type EventsConfig struct {
	Enabled     bool `yaml:"enabled"`
	EnableAsync bool `yaml:"enable_async"`

	// BufferSize bounds the async queue; Publish drops events beyond it.
	BufferSize    int           `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxBatchSize  int           `yaml:"max_batch_size"`
}

// DefaultConfig logs to stderr at info, keeps metrics in memory and delivers
// events asynchronously. Tracing is off.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "phasekit",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "console",
			Output:             "stderr",
			SamplingInitial:    100,
			SamplingThereafter: 100,
			TimeFormat:         "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:           "none",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            make(map[string]string),
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "phasekit",
			DefaultHistogramBuckets: []float64{
				0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0,
			},
		},
		Events: EventsConfig{
			Enabled:       true,
			EnableAsync:   true,
			BufferSize:    1000,
			FlushInterval: 5 * time.Second,
			MaxBatchSize:  100,
		},
		ResourceAttributes: make(map[string]string),
	}
}

// ProductionConfig logs sampled JSON and exports a tenth of the traces over
// OTLP with TLS.
func ProductionConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "production"
	cfg.Logging.Format = "json"
	cfg.Logging.EnableSampling = true
	cfg.Logging.TimeFormat = "unix"
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.Endpoint = "localhost:4317"
	cfg.Tracing.SamplingRate = 0.1
	cfg.Tracing.Insecure = false
	return cfg
}

// DevelopmentConfig logs at debug with callers and pretty-prints every span.
func DevelopmentConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.EnableCaller = true
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "stdout"
	return cfg
}

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}
	if c.ServiceVersion == "" {
		return fmt.Errorf("service version is required")
	}
	for _, check := range []func() error{
		c.Logging.validate,
		c.Tracing.validate,
		c.Metrics.validate,
		c.Events.validate,
	} {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (l LoggingConfig) validate() error {
	switch l.Level {
	case "trace", "debug", "info", "warn", "error", "fatal", "disabled":
	default:
		return fmt.Errorf("invalid log level: %s", l.Level)
	}
	if l.Format != "console" && l.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", l.Format)
	}
	if l.EnableSampling && (l.SamplingInitial <= 0 || l.SamplingThereafter <= 0) {
		return fmt.Errorf("log sampling needs positive initial and thereafter counts")
	}
	return nil
}

func (t TracingConfig) validate() error {
	if t.SamplingRate < 0 || t.SamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", t.SamplingRate)
	}
	if !t.Enabled {
		return nil
	}
	switch t.Exporter {
	case "otlp":
		if t.Endpoint == "" {
			return fmt.Errorf("otlp exporter requires an endpoint")
		}
	case "stdout", "none":
	default:
		return fmt.Errorf("invalid trace exporter: %s", t.Exporter)
	}
	return nil
}

func (m MetricsConfig) validate() error {
	if m.Enabled && m.Namespace == "" {
		return fmt.Errorf("metrics namespace is required when metrics are enabled")
	}
	return nil
}

func (e EventsConfig) validate() error {
	if !e.Enabled {
		return nil
	}
	if e.BufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive, got: %d", e.BufferSize)
	}
	if e.EnableAsync && e.MaxBatchSize <= 0 {
		return fmt.Errorf("event batch size must be positive, got: %d", e.MaxBatchSize)
	}
	return nil
}
