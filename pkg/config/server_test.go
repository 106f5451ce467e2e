package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadServerConfigDefaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := LoadServerConfig("")
	require.NoError(t, err)

	assert.Equal(t, "./data", cfg.DataDir)
	assert.True(t, cfg.GRPC.Enabled)
	assert.Equal(t, "localhost:50051", cfg.GRPC.Address)
	assert.Equal(t, 60*time.Second, cfg.GRPC.IdleTimeout)
	assert.Equal(t, "localhost:8080", cfg.HTTP.Address)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.TLS.Enabled)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "healthrec", cfg.Telemetry.ServiceName)
}

func TestLoadServerConfigFile(t *testing.T) {
	path := writeConfig(t, "server.yaml", `
data_dir: /var/lib/healthrec
grpc:
  address: 0.0.0.0:6000
  shutdown_grace: 2s
http:
  enabled: false
log:
  level: debug
  format: json
telemetry:
  enabled: true
  exporters: [otlp]
  sample_rate: 0.5
`)

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/healthrec", cfg.DataDir)
	assert.Equal(t, "0.0.0.0:6000", cfg.GRPC.Address)
	assert.Equal(t, 2*time.Second, cfg.GRPC.ShutdownGrace)
	assert.False(t, cfg.HTTP.Enabled)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, []string{"otlp"}, cfg.Telemetry.Exporters)
	assert.Equal(t, 0.5, cfg.Telemetry.SampleRate)
	assert.Equal(t, "localhost:4317", cfg.Telemetry.OTLPEndpoint, "unset keys keep defaults")
}

func TestLoadServerConfigEnvOverride(t *testing.T) {
	path := writeConfig(t, "server.json", `{"grpc": {"address": "from-file:1"}}`)
	t.Setenv("HEALTHREC_GRPC_ADDRESS", "from-env:2")
	t.Setenv("HEALTHREC_LOG_LEVEL", "warn")

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env:2", cfg.GRPC.Address)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadServerConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad log level", "log:\n  level: loud\n"},
		{"nothing enabled", "grpc:\n  enabled: false\nhttp:\n  enabled: false\n"},
		{"tls without key", "tls:\n  enabled: true\n  cert_file: c.pem\n"},
		{"bad sample rate", "telemetry:\n  sample_rate: 2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadServerConfig(writeConfig(t, "server.yaml", tt.body))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := LoadServerConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err, "an explicit path must exist")
}
