package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 10*time.Second, cfg.Monitor.RefreshInterval)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "varyant.yaml", `
store: posthog
posthog:
  host: https://eu.posthog.com
  project_id: "12345"
  api_key: phx_test
monitor:
  refresh_interval: 30s
log:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, StorePostHog, cfg.Store)
	assert.Equal(t, "12345", cfg.PostHog.ProjectID)
	assert.Equal(t, 30*time.Second, cfg.Monitor.RefreshInterval)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port, "unset keys keep defaults")
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "varyant.yaml", "server:\n  port: 9000\n")
	t.Setenv("VARYANT_SERVER_PORT", "9100")
	t.Setenv("VARYANT_MONITOR_REFRESH_INTERVAL", "5s")
	t.Setenv("VARYANT_DB_PATH", "/tmp/x.db")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Monitor.RefreshInterval)
	assert.Equal(t, "/tmp/x.db", cfg.DBPath)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown store", "store: redis\n"},
		{"bad port", "server:\n  port: 70000\n"},
		{"interval too short", "monitor:\n  refresh_interval: 10ms\n"},
		{"bad level", "log:\n  level: verbose\n"},
		{"posthog without credentials", "store: posthog\n"},
		{"telemetry without endpoint", "telemetry:\n  enabled: true\n"},
		{"export interval too short", "telemetry:\n  export_interval: 100ms\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "varyant.yaml", tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
		})
	}
}

func TestLoadTelemetry(t *testing.T) {
	path := writeFile(t, "varyant.yaml", `
telemetry:
  enabled: true
  endpoint: otel-collector:4317
  insecure: true
`)
	t.Setenv("VARYANT_TELEMETRY_EXPORT_INTERVAL", "15s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "otel-collector:4317", cfg.Telemetry.Endpoint)
	assert.True(t, cfg.Telemetry.Insecure)
	assert.Equal(t, 15*time.Second, cfg.Telemetry.ExportInterval)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadEnvFile(t *testing.T) {
	assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), ".env")))

	path := writeFile(t, ".env", "VARYANT_LOG_LEVEL=warn\n")
	t.Setenv("VARYANT_LOG_LEVEL", "")
	os.Unsetenv("VARYANT_LOG_LEVEL")
	require.NoError(t, LoadEnvFile(path))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}
