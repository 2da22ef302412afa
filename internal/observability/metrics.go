package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/store"
)

const meterName = "github.com/aquaregiaswarm-blip/deep-prospecting-engine"

// Attribute keys shared by the instruments.
var (
	AttrStatus = attribute.Key("status")
	AttrNode   = attribute.Key("node")
	AttrTier   = attribute.Key("tier")
)

// Metrics records run, stage and generation-call measurements and serves
// them in Prometheus exposition format.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	handler  http.Handler

	runs         metric.Int64Counter
	runDuration  metric.Float64Histogram
	stages       metric.Int64Counter
	stageLatency metric.Float64Histogram
	llmCalls     metric.Int64Counter
	llmAttempts  metric.Int64Histogram
}

// NewMetrics creates a MeterProvider backed by a private Prometheus registry.
func NewMetrics(ctx context.Context, serviceName string) (*Metrics, error) {
	if serviceName == "" {
		serviceName = "deep-prospecting-engine"
	}
	reg := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to build resource: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)

	m := &Metrics{
		provider: provider,
		handler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}),
	}
	if err := m.instruments(provider.Meter(meterName)); err != nil {
		_ = provider.Shutdown(ctx)
		return nil, err
	}
	return m, nil
}

func (m *Metrics) instruments(meter metric.Meter) error {
	var err error
	if m.runs, err = meter.Int64Counter("prospect_runs_total",
		metric.WithDescription("Finished prospecting runs by status")); err != nil {
		return fmt.Errorf("failed to create runs counter: %w", err)
	}
	if m.runDuration, err = meter.Float64Histogram("prospect_run_duration_seconds",
		metric.WithDescription("Wall time of finished runs"), metric.WithUnit("s")); err != nil {
		return fmt.Errorf("failed to create run duration histogram: %w", err)
	}
	if m.stages, err = meter.Int64Counter("prospect_stage_total",
		metric.WithDescription("Stage executions by node and status")); err != nil {
		return fmt.Errorf("failed to create stage counter: %w", err)
	}
	if m.stageLatency, err = meter.Float64Histogram("prospect_stage_duration_seconds",
		metric.WithDescription("Stage execution time"), metric.WithUnit("s")); err != nil {
		return fmt.Errorf("failed to create stage histogram: %w", err)
	}
	if m.llmCalls, err = meter.Int64Counter("prospect_llm_calls_total",
		metric.WithDescription("Generation calls by tier and outcome")); err != nil {
		return fmt.Errorf("failed to create llm counter: %w", err)
	}
	if m.llmAttempts, err = meter.Int64Histogram("prospect_llm_attempts",
		metric.WithDescription("Attempts needed per generation call")); err != nil {
		return fmt.Errorf("failed to create llm attempts histogram: %w", err)
	}
	return nil
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return m.handler
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}

// RecordRun counts a finished run.
func (m *Metrics) RecordRun(ctx context.Context, status store.RunStatus, elapsed time.Duration) {
	attrs := metric.WithAttributes(AttrStatus.String(string(status)))
	m.runs.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordStage counts one stage execution.
func (m *Metrics) RecordStage(ctx context.Context, node, status string, elapsed time.Duration) {
	attrs := metric.WithAttributes(AttrNode.String(node), AttrStatus.String(status))
	m.stages.Add(ctx, 1, attrs)
	m.stageLatency.Record(ctx, elapsed.Seconds(), attrs)
}

// ObserveLLMCall counts one logical generation call.
func (m *Metrics) ObserveLLMCall(ctx context.Context, tier string, attempts int, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.llmCalls.Add(ctx, 1, metric.WithAttributes(AttrTier.String(tier), AttrStatus.String(outcome)))
	m.llmAttempts.Record(ctx, int64(attempts), metric.WithAttributes(AttrTier.String(tier)))
}
