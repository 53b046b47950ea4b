package telemetry

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/agent/pkg/engine"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"missing service name", func(c *Config) { c.ServiceName = "" }, true},
		{"missing version", func(c *Config) { c.ServiceVersion = "" }, true},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"bad exporter", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "jaeger" }, true},
		{"otlp without endpoint", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "otlp" }, true},
		{"disabled exporter is not checked", func(c *Config) { c.Tracing.Exporter = "jaeger" }, false},
		{"sampling rate", func(c *Config) { c.Tracing.SamplingRate = 1.5 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoggerWriterOverride(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LoggingConfig{Level: "debug", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	logger.NewComponentLogger("engine").WithRunID("run-1").Info("hello")
	logger.WithField("store", "history.db").Infof("pruned %d runs", 3)
	zl := logger.Zerolog()
	zl.Debug().Str("driver", "POSIX").Msg("debug line")

	out := buf.String()
	for _, want := range []string{`"component":"engine"`, `"run_id":"run-1"`, `"message":"hello"`, `"store":"history.db"`, `"message":"pruned 3 runs"`, `"driver":"POSIX"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s:\n%s", want, out)
		}
	}
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LoggingConfig{Level: "warn", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	logger.Info("quiet")
	logger.Warnf("loud %d", 1)

	if strings.Contains(buf.String(), "quiet") {
		t.Errorf("info message written at warn level: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "loud 1") {
		t.Errorf("warn message missing: %s", buf.String())
	}
}

func TestLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	logger, err := NewLogger(LoggingConfig{Level: "info", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	logger.WithError(errors.New("boom")).Error("failed")
	if err := logger.Close(); err != nil {
		t.Fatalf("failed to close logger: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	if !strings.Contains(string(data), `"error":"boom"`) {
		t.Errorf("unexpected log file content: %s", data)
	}
}

func newTestMetrics(t *testing.T, cfg MetricsConfig) *Metrics {
	t.Helper()
	cfg.Enabled = true
	if cfg.Namespace == "" {
		cfg.Namespace = "froyo"
	}
	m, err := NewMetrics(cfg)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	return m
}

func TestMetricsDriverCalls(t *testing.T) {
	m := newTestMetrics(t, MetricsConfig{})

	m.RecordDriverCall("POSIX", "inventory", 10*time.Millisecond, nil)
	m.RecordDriverCall("POSIX", "inventory", 20*time.Millisecond, nil)
	m.RecordDriverCall("POSIX", "install", time.Millisecond,
		engine.NewTransientError("timed out", nil))
	m.RecordDriverCall("Systemd", "install", time.Millisecond, errors.New("plain"))

	if got := testutil.ToFloat64(m.driverCalls.WithLabelValues("POSIX", "inventory")); got != 2 {
		t.Errorf("inventory calls: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.driverErrors.WithLabelValues("POSIX", "install", "transient")); got != 1 {
		t.Errorf("transient errors: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.driverErrors.WithLabelValues("Systemd", "install", "unknown")); got != 1 {
		t.Errorf("unclassified errors: got %v, want 1", got)
	}
}

func TestMetricsRecordRun(t *testing.T) {
	m := newTestMetrics(t, MetricsConfig{})
	finished := time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)

	m.RecordRun(&engine.Report{
		State:      engine.RunStateDirty,
		Total:      5,
		GoodCount:  4,
		BadCount:   1,
		StartedAt:  finished.Add(-5 * time.Second),
		FinishedAt: finished,
	})

	if got := testutil.ToFloat64(m.runs.WithLabelValues("dirty", "false")); got != 1 {
		t.Errorf("dirty runs: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.entries.WithLabelValues("bad")); got != 1 {
		t.Errorf("bad entries: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.lastRun); got != float64(finished.Unix()) {
		t.Errorf("last run: got %v", got)
	}
}

func TestMetricsDisabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false, Textfile: filepath.Join(t.TempDir(), "x.prom")})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	m.RecordDriverCall("POSIX", "inventory", time.Second, nil)
	m.RecordPhase("inventory", time.Second)
	m.RecordRun(&engine.Report{State: engine.RunStateClean})
	if err := m.WriteTextfile(); err != nil {
		t.Fatalf("WriteTextfile on disabled metrics: %v", err)
	}
	addr, err := m.StartServer(context.Background())
	if err != nil || addr != "" {
		t.Errorf("StartServer on disabled metrics: %q, %v", addr, err)
	}
}

func TestMetricsTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "froyo.prom")
	m := newTestMetrics(t, MetricsConfig{Textfile: path})

	m.RecordPhase("install", 2*time.Second)
	m.RecordDriverCall("Packages", "install", time.Second, nil)
	if err := m.WriteTextfile(); err != nil {
		t.Fatalf("failed to write textfile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read textfile: %v", err)
	}
	for _, want := range []string{"froyo_phase_duration_seconds", `froyo_driver_calls_total{driver="Packages",phase="install"} 1`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("textfile missing %s:\n%s", want, data)
		}
	}
}

func TestMetricsServer(t *testing.T) {
	m := newTestMetrics(t, MetricsConfig{ListenAddress: "127.0.0.1:0"})
	m.RecordPhase("inventory", time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, err := m.StartServer(ctx)
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}

	resp, err := http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("failed to scrape: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "froyo_phase_duration_seconds") {
		t.Errorf("scrape missing phase histogram:\n%s", body)
	}
}

func TestTelemetryObserverSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tracer, err := NewTracerWithExporter(TracingConfig{Enabled: true, SamplingRate: 1}, "froyo-agent", "test", nil, exporter)
	if err != nil {
		t.Fatalf("failed to create tracer: %v", err)
	}
	defer tracer.Shutdown(context.Background())

	tel := &Telemetry{
		Logger:  NopLogger(),
		Tracer:  tracer,
		Metrics: newTestMetrics(t, MetricsConfig{}),
		now:     time.Now,
	}

	ctx, endRun := tel.StartRun(context.Background(), "run-1", "42")
	phaseCtx, endPhase := tel.StartPhase(ctx, "install")
	if TraceID(phaseCtx) == "" {
		t.Error("phase context carries no trace")
	}
	_, endCall := tel.StartDriverCall(phaseCtx, "Systemd", "install")
	endCall(engine.NewPermanentError("exit status 1", nil))
	endPhase()
	endRun(&engine.Report{State: engine.RunStateDirty})

	if err := tracer.ForceFlush(context.Background()); err != nil {
		t.Fatalf("failed to flush: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}
	byName := map[string]tracetest.SpanStub{}
	for _, s := range spans {
		byName[s.Name] = s
	}
	call, ok := byName["driver.install"]
	if !ok {
		t.Fatalf("driver span missing: %v", spans)
	}
	if call.Status.Code != codes.Error {
		t.Errorf("driver span status: got %v", call.Status.Code)
	}
	if call.Parent.SpanID() != byName["phase.install"].SpanContext.SpanID() {
		t.Error("driver span is not a child of the phase span")
	}
	if byName["run"].Status.Code != codes.Error {
		t.Error("dirty run span should carry an error status")
	}

	if got := testutil.ToFloat64(tel.Metrics.driverErrors.WithLabelValues("Systemd", "install", "permanent")); got != 1 {
		t.Errorf("driver errors: got %v, want 1", got)
	}
}

func TestNewTelemetry(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Logging.Writer = &buf
	cfg.Logging.Format = "json"
	cfg.Metrics.Textfile = filepath.Join(t.TempDir(), "froyo.prom")

	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("failed to create telemetry: %v", err)
	}

	ctx, end := tel.StartPhase(context.Background(), "inventory")
	if trace.SpanFromContext(ctx).IsRecording() {
		t.Error("disabled tracing should not record spans")
	}
	end()

	if err := tel.FinishRun(&engine.Report{State: engine.RunStateClean}); err != nil {
		t.Fatalf("failed to finish run: %v", err)
	}
	if _, err := os.Stat(cfg.Metrics.Textfile); err != nil {
		t.Errorf("textfile not written: %v", err)
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("failed to shut down: %v", err)
	}
}
