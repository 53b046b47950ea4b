package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openfroyo/agent/pkg/engine"
)

// Metrics provides Prometheus metrics for agent runs.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runs         *prometheus.CounterVec
	runDuration  prometheus.Histogram
	lastRun      prometheus.Gauge
	entries      *prometheus.GaugeVec
	phaseLatency *prometheus.HistogramVec

	// Driver metrics
	driverCalls    *prometheus.CounterVec
	driverDuration *prometheus.HistogramVec
	driverErrors   *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op metrics; every recorder checks for nil collectors.
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of runs by final state",
			},
			[]string{"state", "dry_run"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of runs in seconds",
				Buckets:   buckets,
			},
		),
		lastRun: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the last run finished",
			},
		),
		entries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "entries",
				Help:      "Entries of the last run by classification",
			},
			[]string{"class"},
		),
		phaseLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Duration of run phases in seconds",
				Buckets:   buckets,
			},
			[]string{"phase"},
		),

		driverCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "driver_calls_total",
				Help:      "Total number of driver calls",
			},
			[]string{"driver", "phase"},
		),
		driverDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "driver_call_duration_seconds",
				Help:      "Duration of driver calls in seconds",
				Buckets:   buckets,
			},
			[]string{"driver", "phase"},
		),
		driverErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "driver_errors_total",
				Help:      "Total number of failed driver calls by error class",
			},
			[]string{"driver", "phase", "class"},
		),
	}

	registry.MustRegister(
		m.runs,
		m.runDuration,
		m.lastRun,
		m.entries,
		m.phaseLatency,
		m.driverCalls,
		m.driverDuration,
		m.driverErrors,
	)

	return m, nil
}

// RecordDriverCall records one driver call, its duration and its failure
// class if it failed.
func (m *Metrics) RecordDriverCall(driver, phase string, duration time.Duration, err error) {
	if m.driverCalls == nil {
		return
	}
	m.driverCalls.WithLabelValues(driver, phase).Inc()
	m.driverDuration.WithLabelValues(driver, phase).Observe(duration.Seconds())
	if err != nil {
		m.driverErrors.WithLabelValues(driver, phase, errorClass(err)).Inc()
	}
}

// RecordPhase records the duration of a run phase.
func (m *Metrics) RecordPhase(phase string, duration time.Duration) {
	if m.phaseLatency == nil {
		return
	}
	m.phaseLatency.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordRun records the outcome of a finished run.
func (m *Metrics) RecordRun(r *engine.Report) {
	if m.runs == nil {
		return
	}
	m.runs.WithLabelValues(string(r.State), fmt.Sprint(r.Flags.DryRun)).Inc()
	m.runDuration.Observe(r.Duration().Seconds())
	if !r.FinishedAt.IsZero() {
		m.lastRun.Set(float64(r.FinishedAt.Unix()))
	}
	m.entries.WithLabelValues("total").Set(float64(r.Total))
	m.entries.WithLabelValues("good").Set(float64(r.GoodCount))
	m.entries.WithLabelValues("bad").Set(float64(r.BadCount))
	m.entries.WithLabelValues("modified").Set(float64(r.ModifiedCount))
	m.entries.WithLabelValues("extra").Set(float64(r.ExtraCount))
}

// WriteTextfile writes the current metrics in the Prometheus text format
// for the node_exporter textfile collector. It does nothing when no textfile
// is configured.
func (m *Metrics) WriteTextfile() error {
	if m.registry == nil || m.config.Textfile == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(m.config.Textfile, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartServer serves metrics on the configured listen address until ctx is
// done. It returns the bound address, or "" when no server is configured.
func (m *Metrics) StartServer(ctx context.Context) (string, error) {
	if m.registry == nil || m.config.ListenAddress == "" {
		return "", nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	ln, err := net.Listen("tcp", m.config.ListenAddress)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", m.config.ListenAddress, err)
	}

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		_ = server.Serve(ln)
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return ln.Addr().String(), nil
}

func errorClass(err error) string {
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		return string(ee.Class)
	}
	return "unknown"
}
