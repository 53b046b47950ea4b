package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/agent/pkg/engine"
)

func TestParseSettingsDefaults(t *testing.T) {
	s, err := ParseSettings(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
	assert.Equal(t, DefaultDrivers, s.Drivers)
	assert.Equal(t, DefaultStorePath, s.Store.Path)
	assert.Equal(t, DefaultKeepRuns, s.Store.KeepRuns)

	opts, err := s.EngineOptions()
	require.NoError(t, err)
	assert.Equal(t, engine.DecisionNone, opts.DecisionMode)
	assert.Equal(t, engine.RemoveNone, opts.RemoveMode)
	assert.False(t, opts.DryRun)
}

func TestParseSettings(t *testing.T) {
	data := []byte(`
dry_run: true
decision: blacklist
decision_list: ["Package:telnet*", "Path:/etc/*"]
bundles: [ssh]
bundle_quick: true
remove: packages
extra: true
kevlar: true
service_mode: build
driver_timeout: 90s
drivers: [POSIX]
store:
  path: /tmp/history.db
  keep_runs: 10
`)
	s, err := ParseSettings(data)
	require.NoError(t, err)

	opts, err := s.EngineOptions()
	require.NoError(t, err)
	assert.True(t, opts.DryRun)
	assert.Equal(t, engine.DecisionBlacklist, opts.DecisionMode)
	require.Len(t, opts.DecisionList, 2)
	assert.Equal(t, "Package:telnet*", opts.DecisionList[0].String())
	assert.Equal(t, []string{"ssh"}, opts.Bundles)
	assert.True(t, opts.Quick)
	assert.Equal(t, engine.RemovePackages, opts.RemoveMode)
	assert.True(t, opts.ShowExtra)
	assert.True(t, opts.Kevlar)
	assert.Equal(t, engine.ServiceModeBuild, opts.ServiceMode)
	assert.Equal(t, 90*time.Second, opts.DriverTimeout)

	assert.Equal(t, []string{"POSIX"}, s.Drivers)
	assert.Equal(t, "/tmp/history.db", s.Store.Path)
	assert.Equal(t, 10, s.Store.KeepRuns)
	assert.Equal(t, "info", s.Telemetry.Logging.Level, "unset nested keys keep their defaults")
}

func TestParseSettingsValidation(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown decision", "decision: maybe"},
		{"unknown remove mode", "remove: everything"},
		{"unknown service mode", "service_mode: paused"},
		{"decision item without kind", `decision_list: ["telnet"]`},
		{"quick without bundles", "bundle_quick: true"},
		{"negative timeout", "driver_timeout: -1s"},
		{"no drivers", "drivers: []"},
		{"negative keep_runs", "store: {keep_runs: -1}"},
		{"unknown key", "dryrun: true"},
		{"otlp without endpoint", "telemetry: {tracing: {exporter: otlp}}"},
		{"sampling rate above one", "telemetry: {tracing: {sampling_rate: 2}}"},
		{"bad log level", "telemetry: {logging: {level: loud}}"},
		{"not yaml", "decision: [whitelist"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSettings([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestLoadSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("interactive: true\n"), 0o600))

	s, err := LoadSettings(path)
	require.NoError(t, err)
	assert.True(t, s.Interactive)

	_, err = LoadSettings(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSettingsLogWarnings(t *testing.T) {
	var buf bytes.Buffer
	s := DefaultSettings()
	s.Remove = string(engine.RemoveServices)

	s.LogWarnings(zerolog.New(&buf))
	assert.Contains(t, buf.String(), "removed services will only be disabled")

	buf.Reset()
	DefaultSettings().LogWarnings(zerolog.New(&buf))
	assert.Empty(t, buf.String())
}

func TestSettingsTelemetryConfig(t *testing.T) {
	s := DefaultSettings()
	s.Telemetry.Logging.Format = "json"
	s.Telemetry.Tracing.Exporter = "otlp"
	s.Telemetry.Tracing.Endpoint = "collector:4317"
	s.Telemetry.Metrics.Textfile = "/tmp/froyo.prom"

	cfg := s.TelemetryConfig("1.2.3")
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "collector:4317", cfg.Tracing.Endpoint)
	assert.Equal(t, "/tmp/froyo.prom", cfg.Metrics.Textfile)
	assert.Equal(t, "froyo", cfg.Metrics.Namespace)

	assert.False(t, DefaultSettings().TelemetryConfig("dev").Tracing.Enabled)
}
