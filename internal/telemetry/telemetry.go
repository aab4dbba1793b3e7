// Package telemetry wires OpenTelemetry tracing and metrics for the
// indexer: a stdout exporter by default, an OTLP/HTTP exporter when an
// endpoint is configured. Each pipeline stage gets a row counter and a
// commit-latency histogram, the same instrument shape the teacher uses
// for its retry counter and lock-wait histogram in
// internal/storage/dolt/store.go.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/relaychain/chainidx"

// Providers bundles the tracer and meter providers for shutdown.
type Providers struct {
	Tracer trace.Tracer
	Meter  metric.Meter

	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// Setup constructs the tracer and meter providers. When otlpEndpoint is
// empty, metrics and traces are written to stdout only.
func Setup(ctx context.Context, otlpEndpoint string) (*Providers, error) {
	traceExp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("telemetry: stdout trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp))
	otel.SetTracerProvider(tp)

	metricReaders := []sdkmetric.Option{}
	stdoutExp, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("telemetry: stdout metric exporter: %w", err)
	}
	metricReaders = append(metricReaders, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(stdoutExp, sdkmetric.WithInterval(60*time.Second))))

	if otlpEndpoint != "" {
		otlpExp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(otlpEndpoint))
		if err != nil {
			return nil, fmt.Errorf("telemetry: otlp metric exporter: %w", err)
		}
		metricReaders = append(metricReaders, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(otlpExp)))
	}

	mp := sdkmetric.NewMeterProvider(metricReaders...)
	otel.SetMeterProvider(mp)

	return &Providers{
		Tracer: tp.Tracer(instrumentationName),
		Meter:  mp.Meter(instrumentationName),
		tp:     tp,
		mp:     mp,
	}, nil
}

// Shutdown flushes and closes both providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	if err := p.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("telemetry: tracer shutdown: %w", err)
	}
	if err := p.mp.Shutdown(ctx); err != nil {
		return fmt.Errorf("telemetry: meter shutdown: %w", err)
	}
	return nil
}

// StageInstruments are the per-stage counter/histogram pair installed in
// each pipeline worker.
type StageInstruments struct {
	RowsWritten    metric.Int64Counter
	CommitLatency  metric.Float64Histogram
}

// NewStageInstruments creates the instruments for one named pipeline
// stage (e.g. "txs", "outputs", "inputs", "blocks").
func NewStageInstruments(meter metric.Meter, stage string) (*StageInstruments, error) {
	rows, err := meter.Int64Counter(
		"chainidx.pipeline."+stage+".rows_written",
		metric.WithDescription("rows committed by the "+stage+" pipeline stage"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: rows_written counter: %w", err)
	}
	latency, err := meter.Float64Histogram(
		"chainidx.pipeline."+stage+".commit_latency_ms",
		metric.WithDescription("time spent committing one batch in the "+stage+" pipeline stage"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: commit_latency histogram: %w", err)
	}
	return &StageInstruments{RowsWritten: rows, CommitLatency: latency}, nil
}
