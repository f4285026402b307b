package telemetry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/industrial-rfp/workflow-core/core"
)

// OTelProvider implements core.Telemetry on top of the OpenTelemetry SDK.
// Spans and metrics are exported to stdout rather than over OTLP/HTTP: this
// module pulls in the stdout exporters only, so there is no collector
// endpoint to dial. Swapping in an OTLP exporter later only touches this
// file, never the callers that depend on core.Telemetry.
type OTelProvider struct {
	serviceName string

	tracer trace.Tracer
	meter  metric.Meter

	traceProvider  *sdktrace.TracerProvider
	metricProvider *sdkmetric.MeterProvider

	mu         sync.Mutex
	counters   map[string]metric.Float64Counter
	histograms map[string]metric.Float64Histogram

	logger     core.Logger
	shutdownOnce sync.Once
}

// NewOTelProvider builds an OTelProvider that writes spans and metric
// collection points to stdout, tagging every span/metric with serviceName.
// It registers itself as the global tracer/meter provider, matching the
// convention other instrumented libraries in this process expect.
func NewOTelProvider(serviceName string, logger core.Logger) (*OTelProvider, error) {
	if logger == nil {
		logger = core.NoOpLogger{}
	}

	traceExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, core.NewOpError("telemetry.new_otel_provider", "init", "", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
	)

	metricExporter, err := stdoutmetric.New()
	if err != nil {
		return nil, core.NewOpError("telemetry.new_otel_provider", "init", "", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(30*time.Second))),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	return &OTelProvider{
		serviceName:    serviceName,
		tracer:         tp.Tracer(serviceName),
		meter:          mp.Meter(serviceName),
		traceProvider:  tp,
		metricProvider: mp,
		counters:       make(map[string]metric.Float64Counter),
		histograms:     make(map[string]metric.Float64Histogram),
		logger:         logger,
	}, nil
}

// StartSpan begins a named span as a child of any span already in ctx.
func (p *OTelProvider) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	ctx, span := p.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

// RecordMetric routes value to a histogram or a counter depending on name's
// shape: names that read as a measurement of elapsed time ("duration",
// "latency", "time") go to a histogram, everything else (counts, totals,
// error tallies) accumulates in a counter. This mirrors how the rest of the
// system names its own metrics (queue depth, retry count, latency) without
// requiring every call site to say which instrument kind it wants.
func (p *OTelProvider) RecordMetric(name string, value float64, labels map[string]string) {
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}

	ctx := context.Background()
	if looksLikeDuration(name) {
		h := p.histogramFor(name)
		h.Record(ctx, value, metric.WithAttributes(attrs...))
		return
	}
	c := p.counterFor(name)
	c.Add(ctx, value, metric.WithAttributes(attrs...))
}

func looksLikeDuration(name string) bool {
	lower := strings.ToLower(name)
	for _, token := range []string{"duration", "latency", "time", "elapsed"} {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

func (p *OTelProvider) counterFor(name string) metric.Float64Counter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.counters[name]; ok {
		return c
	}
	c, err := p.meter.Float64Counter(name)
	if err != nil {
		p.logger.Warn("telemetry: failed to create counter instrument", map[string]interface{}{"name": name, "error": err.Error()})
		c, _ = p.meter.Float64Counter(name + "_fallback")
	}
	p.counters[name] = c
	return c
}

func (p *OTelProvider) histogramFor(name string) metric.Float64Histogram {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.histograms[name]; ok {
		return h
	}
	h, err := p.meter.Float64Histogram(name)
	if err != nil {
		p.logger.Warn("telemetry: failed to create histogram instrument", map[string]interface{}{"name": name, "error": err.Error()})
		h, _ = p.meter.Float64Histogram(name + "_fallback")
	}
	p.histograms[name] = h
	return h
}

// Shutdown flushes and stops both providers. Safe to call more than once.
func (p *OTelProvider) Shutdown(ctx context.Context) error {
	var shutdownErr error
	p.shutdownOnce.Do(func() {
		if err := p.traceProvider.Shutdown(ctx); err != nil {
			shutdownErr = err
		}
		if err := p.metricProvider.Shutdown(ctx); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	})
	if shutdownErr != nil {
		return core.NewOpError("telemetry.shutdown", "delivery", "", shutdownErr)
	}
	return nil
}

// otelSpan adapts an OpenTelemetry trace.Span to core.Span.
type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	s.span.SetAttributes(attributeFor(key, value))
}

func (s *otelSpan) RecordError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
}

func attributeFor(key string, value interface{}) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	default:
		return attribute.String(key, fmt.Sprint(v))
	}
}
