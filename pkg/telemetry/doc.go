// Package telemetry provides logging, tracing and metrics for the agent.
//
// Logging uses zerolog. The engine and the drivers receive the plain
// zerolog.Logger from Logger.Zerolog and log with the fields component,
// phase, driver, entry and bundle.
//
// Tracing uses OpenTelemetry. A run produces one root span, one span per
// phase and one span per driver call. Spans are exported to stdout, to an
// OTLP gRPC collector, or nowhere.
//
// Metrics use Prometheus. Driver calls, driver errors by class, phase
// durations and the outcome of each run are collected in a private
// registry. The registry can be written to a textfile for the node_exporter
// textfile collector after the run, or served over HTTP while the agent
// runs.
//
// Telemetry bundles the three and implements engine.Observer:
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//		return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	eng, err := engine.New(doc, drivers, engine.Config{
//		Logger:   tel.Logger.Zerolog(),
//		Observer: tel,
//	})
//	...
//	ctx, endRun := tel.StartRun(ctx, eng.RunID(), doc.Revision)
//	report, err := eng.Execute(ctx)
//	endRun(report)
//	err = tel.FinishRun(report)
package telemetry
