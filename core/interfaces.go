package core

import (
	"context"
	"time"
)

// Logger is the minimal structured-logging contract used throughout the
// core. Every component accepts one as an optional dependency and falls
// back to NoOpLogger when none is supplied.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	InfoWithContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{})
	DebugWithContext(ctx context.Context, msg string, fields map[string]interface{})
}

// Telemetry is the optional metrics/tracing contract. The telemetry package
// implements it on top of OpenTelemetry; components here never import
// go.opentelemetry.io directly, only this interface.
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	RecordMetric(name string, value float64, labels map[string]string)
}

// Span represents a single telemetry span.
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	RecordError(err error)
}

// Clock abstracts time.Now for deterministic tests of TTL and backoff math.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// NoOpLogger discards everything. It is the default for every component
// that accepts an optional Logger.
type NoOpLogger struct{}

func (NoOpLogger) Info(string, map[string]interface{})  {}
func (NoOpLogger) Warn(string, map[string]interface{})  {}
func (NoOpLogger) Error(string, map[string]interface{}) {}
func (NoOpLogger) Debug(string, map[string]interface{}) {}

func (NoOpLogger) InfoWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) WarnWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) ErrorWithContext(context.Context, string, map[string]interface{}) {}
func (NoOpLogger) DebugWithContext(context.Context, string, map[string]interface{}) {}

// NoOpTelemetry discards everything. Used when the telemetry package isn't
// wired in (e.g. unit tests of components that only need the interface).
type NoOpTelemetry struct{}

func (NoOpTelemetry) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, NoOpSpan{}
}
func (NoOpTelemetry) RecordMetric(string, float64, map[string]string) {}

// NoOpSpan discards everything.
type NoOpSpan struct{}

func (NoOpSpan) End()                               {}
func (NoOpSpan) SetAttribute(string, interface{})   {}
func (NoOpSpan) RecordError(error)                  {}
