package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3, cfg.Batch.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Batch.RetryDelay.Duration())
	assert.Equal(t, time.Second, cfg.Batch.DemoDelayMin.Duration())
	assert.Equal(t, 3*time.Second, cfg.Batch.DemoDelayMax.Duration())
	assert.Equal(t, "progress", cfg.Progress.SubjectPrefix)
	assert.False(t, cfg.Providers.OpenAI.APIKey.IsSet())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"no shutdown timeout", func(c *Config) { c.Server.ShutdownTimeout = 0 }, "shutdown_timeout"},
		{"zero max tokens", func(c *Config) { c.Providers.MaxTokens = 0 }, "max_tokens"},
		{"negative rpm", func(c *Config) { c.Providers.RequestsPerMinute = -1 }, "requests_per_minute"},
		{"zero attempts", func(c *Config) { c.Batch.MaxAttempts = 0 }, "max_attempts"},
		{"inverted demo delay", func(c *Config) {
			c.Batch.DemoDelayMin = Duration(5 * time.Second)
		}, "demo_delay_max"},
		{"zero iterations cap", func(c *Config) { c.Batch.MaxIterations = 0 }, "max_iterations"},
		{"empty subject prefix", func(c *Config) { c.Progress.SubjectPrefix = "" }, "subject_prefix"},
		{"no artifact capacity", func(c *Config) { c.Artifacts.MaxEntries = 0 }, "max_entries"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad sample rate", func(c *Config) { c.Telemetry.SampleRate = 1.5 }, "sample_rate"},
		{"telemetry without endpoint", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.Endpoint = ""
		}, "telemetry.endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSecret_NeverRevealed(t *testing.T) {
	s := Secret("sk-live-123")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "sk-live")
	assert.Equal(t, "sk-live-123", s.Value())
	assert.True(t, s.IsSet())

	data, err := json.Marshal(struct {
		Key Secret `json:"key"`
	}{Key: s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"[REDACTED]"}`, string(data))

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1500ms")))
	assert.Equal(t, 1500*time.Millisecond, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))

	text, err := Duration(2 * time.Second).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2s", string(text))
}
