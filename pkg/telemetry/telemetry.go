package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/openfroyo/agent/pkg/engine"
)

// Telemetry bundles the logger, tracer and metrics of the agent. It is the
// engine's Observer.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config

	now func() time.Time
}

var _ engine.Observer = (*Telemetry)(nil)

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.ResourceAttributes)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
		now:     time.Now,
	}, nil
}

// StartRun starts the run span. The returned function ends it with the
// run's final state.
func (t *Telemetry) StartRun(ctx context.Context, runID, revision string) (context.Context, func(*engine.Report)) {
	ctx, span := t.Tracer.StartRunSpan(ctx, runID, revision)
	return ctx, func(r *engine.Report) {
		if r != nil {
			span.SetAttributes(AttrRunState.String(string(r.State)))
			if !r.Clean() {
				span.SetStatus(codes.Error, "run finished dirty")
			}
		}
		span.End()
	}
}

// StartPhase implements engine.Observer.
func (t *Telemetry) StartPhase(ctx context.Context, phase string) (context.Context, func()) {
	ctx, span := t.Tracer.StartPhaseSpan(ctx, phase)
	start := t.now()
	return ctx, func() {
		t.Metrics.RecordPhase(phase, t.now().Sub(start))
		span.End()
	}
}

// StartDriverCall implements engine.Observer.
func (t *Telemetry) StartDriverCall(ctx context.Context, driver, phase string) (context.Context, func(error)) {
	ctx, span := t.Tracer.StartDriverSpan(ctx, driver, phase)
	start := t.now()
	return ctx, func(err error) {
		t.Metrics.RecordDriverCall(driver, phase, t.now().Sub(start), err)
		RecordError(span, err)
		span.End()
	}
}

// FinishRun records run metrics and writes the metrics textfile.
func (t *Telemetry) FinishRun(r *engine.Report) error {
	t.Metrics.RecordRun(r)
	return t.Metrics.WriteTextfile()
}

// Shutdown flushes traces and closes the log file.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.Tracer != nil {
		errs = append(errs, t.Tracer.Shutdown(ctx))
	}
	if t.Logger != nil {
		errs = append(errs, t.Logger.Close())
	}
	return errors.Join(errs...)
}
