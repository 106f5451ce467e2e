// ABOUTME: Tests for telemetry configuration validation, environment variable loading, and default values

package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "healthrec", cfg.ServiceName)
	assert.Equal(t, "development", cfg.ServiceVersion)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, []string{ExporterStdout}, cfg.Exporters)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.Equal(t, 30*time.Second, cfg.ExportTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid default config", func(c *Config) {}, false},
		{"empty service name", func(c *Config) { c.ServiceName = "" }, true},
		{"empty service version", func(c *Config) { c.ServiceVersion = "" }, true},
		{"negative sample rate", func(c *Config) { c.SampleRate = -0.1 }, true},
		{"sample rate above one", func(c *Config) { c.SampleRate = 1.1 }, true},
		{"zero export timeout", func(c *Config) { c.ExportTimeout = 0 }, true},
		{"zero batch timeout", func(c *Config) { c.BatchTimeout = 0 }, true},
		{"zero queue", func(c *Config) { c.MaxQueueSize = 0 }, true},
		{"batch above queue", func(c *Config) { c.MaxExportBatchSize = c.MaxQueueSize + 1 }, true},
		{"unknown exporter", func(c *Config) { c.Exporters = []string{"jaeger"} }, true},
		{"otlp without endpoint", func(c *Config) {
			c.Exporters = []string{ExporterOTLP}
			c.OTLPEndpoint = ""
		}, true},
		{"otlp and stdout", func(c *Config) { c.Exporters = []string{ExporterOTLP, ExporterStdout} }, false},
		{"prometheus", func(c *Config) { c.Exporters = []string{ExporterPrometheus} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HEALTHREC_TELEMETRY_SERVICE_NAME", "clinic-a")
	t.Setenv("HEALTHREC_TELEMETRY_ENABLED", "true")
	t.Setenv("HEALTHREC_TELEMETRY_EXPORTERS", "otlp, stdout")
	t.Setenv("HEALTHREC_TELEMETRY_SAMPLE_RATE", "0.25")
	t.Setenv("HEALTHREC_TELEMETRY_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("HEALTHREC_TELEMETRY_OTLP_INSECURE", "false")
	t.Setenv("HEALTHREC_TELEMETRY_BATCH_TIMEOUT", "2s")
	t.Setenv("HEALTHREC_TELEMETRY_MAX_QUEUE_SIZE", "not-a-number")

	cfg := DefaultConfig()
	cfg.LoadFromEnv()

	assert.Equal(t, "clinic-a", cfg.ServiceName)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, []string{ExporterOTLP, ExporterStdout}, cfg.Exporters)
	assert.Equal(t, 0.25, cfg.SampleRate)
	assert.Equal(t, "collector:4317", cfg.OTLPEndpoint)
	assert.False(t, cfg.OTLPInsecure)
	assert.Equal(t, 2*time.Second, cfg.BatchTimeout)
	assert.Equal(t, 2048, cfg.MaxQueueSize, "unparseable values are ignored")
	assert.True(t, cfg.HasExporter(ExporterOTLP))
	assert.False(t, cfg.HasExporter("jaeger"))
}
