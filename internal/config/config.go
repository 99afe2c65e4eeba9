// Package config provides configuration loading for recd.
package config

import (
	"fmt"
	"time"
)

// Config is the complete recd configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Providers ProvidersConfig `koanf:"providers"`
	Batch     BatchConfig     `koanf:"batch"`
	Progress  ProgressConfig  `koanf:"progress"`
	Artifacts ArtifactsConfig `koanf:"artifacts"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	// BodyLimit caps upload size, echo notation ("10M").
	BodyLimit string `koanf:"body_limit"`
}

// ProvidersConfig holds credentials and transport settings for the AI backends.
type ProvidersConfig struct {
	OpenAI            ProviderConfig `koanf:"openai"`
	Anthropic         ProviderConfig `koanf:"anthropic"`
	Google            ProviderConfig `koanf:"google"`
	MaxTokens         int            `koanf:"max_tokens"`
	HTTPTimeout       Duration       `koanf:"http_timeout"`
	RequestsPerMinute int            `koanf:"requests_per_minute"`
}

// ProviderConfig is the per-backend credential and endpoint override.
type ProviderConfig struct {
	APIKey  Secret `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
}

// BatchConfig controls orchestration and retry behavior.
type BatchConfig struct {
	MaxAttempts   int      `koanf:"max_attempts"`
	RetryDelay    Duration `koanf:"retry_delay"`
	DemoDelayMin  Duration `koanf:"demo_delay_min"`
	DemoDelayMax  Duration `koanf:"demo_delay_max"`
	MaxIterations int      `koanf:"max_iterations"`
}

// ProgressConfig controls the progress broadcast.
type ProgressConfig struct {
	// NATSURL selects an external NATS server. Empty starts an embedded one.
	NATSURL       string   `koanf:"nats_url"`
	SubjectPrefix string   `koanf:"subject_prefix"`
	Heartbeat     Duration `koanf:"heartbeat"`
}

// ArtifactsConfig bounds the in-memory workbook store.
type ArtifactsConfig struct {
	MaxEntries int      `koanf:"max_entries"`
	TTL        Duration `koanf:"ttl"`
}

// LoggingConfig selects log level and encoding.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig controls OTLP export. Prometheus metrics are always served.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8000,
			ShutdownTimeout: Duration(10 * time.Second),
			BodyLimit:       "10M",
		},
		Providers: ProvidersConfig{
			MaxTokens:   500,
			HTTPTimeout: Duration(60 * time.Second),
		},
		Batch: BatchConfig{
			MaxAttempts:   3,
			RetryDelay:    Duration(time.Second),
			DemoDelayMin:  Duration(time.Second),
			DemoDelayMax:  Duration(3 * time.Second),
			MaxIterations: 10,
		},
		Progress: ProgressConfig{
			SubjectPrefix: "progress",
			Heartbeat:     Duration(30 * time.Second),
		},
		Artifacts: ArtifactsConfig{
			MaxEntries: 32,
			TTL:        Duration(time.Hour),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			Insecure:    true,
			ServiceName: "recd",
			SampleRate:  1.0,
		},
	}
}

// Validate checks the configuration for out-of-range values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}
	if c.Providers.MaxTokens <= 0 {
		return fmt.Errorf("providers.max_tokens must be positive, got %d", c.Providers.MaxTokens)
	}
	if c.Providers.RequestsPerMinute < 0 {
		return fmt.Errorf("providers.requests_per_minute cannot be negative")
	}
	if c.Batch.MaxAttempts < 1 {
		return fmt.Errorf("batch.max_attempts must be at least 1, got %d", c.Batch.MaxAttempts)
	}
	if c.Batch.DemoDelayMax < c.Batch.DemoDelayMin {
		return fmt.Errorf("batch.demo_delay_max (%s) is below batch.demo_delay_min (%s)",
			c.Batch.DemoDelayMax.Duration(), c.Batch.DemoDelayMin.Duration())
	}
	if c.Batch.MaxIterations < 1 {
		return fmt.Errorf("batch.max_iterations must be at least 1, got %d", c.Batch.MaxIterations)
	}
	if c.Progress.SubjectPrefix == "" {
		return fmt.Errorf("progress.subject_prefix is required")
	}
	if c.Artifacts.MaxEntries < 1 {
		return fmt.Errorf("artifacts.max_entries must be at least 1")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %f", c.Telemetry.SampleRate)
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
	}
	return nil
}
