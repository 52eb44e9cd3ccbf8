package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// PipelineMetricsMeterName is the name used for the commit pipeline meter
	PipelineMetricsMeterName = "github.com/codecampus/gitgateway/pipeline"
)

// PipelineMetrics holds the OpenTelemetry instruments for commit pipeline
// metrics
type PipelineMetrics struct {
	runDuration    metric.Float64Histogram
	filesProcessed metric.Int64Counter
}

// NewPipelineMetrics creates a new PipelineMetrics instance with the given
// meter provider. If provider is nil, it returns nil (no-op metrics).
func NewPipelineMetrics(provider metric.MeterProvider) (*PipelineMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(PipelineMetricsMeterName)

	runDuration, err := meter.Float64Histogram(
		"gitgateway_pipeline_run_duration_seconds",
		metric.WithDescription("Duration of commit pipeline runs in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, err
	}

	filesProcessed, err := meter.Int64Counter(
		"gitgateway_pipeline_files_processed_total",
		metric.WithDescription("Total number of changed files committed by the pipeline"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		return nil, err
	}

	return &PipelineMetrics{
		runDuration:    runDuration,
		filesProcessed: filesProcessed,
	}, nil
}

// RecordRun records the outcome of one pipeline run
func (m *PipelineMetrics) RecordRun(ctx context.Context, duration time.Duration, files int, success bool) {
	if m == nil || m.runDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.Bool("success", success),
	}

	m.runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	if success {
		m.filesProcessed.Add(ctx, int64(files), metric.WithAttributes(attrs...))
	}
}
