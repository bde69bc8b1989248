package progress

import (
	"fmt"
	"strings"
)

// Logger provides printf-style debug logging hooks for the progress thread.
type Logger interface {
	Debugf(format string, args ...any)
}

// StructuredLogger emits key/value pairs for structured logging backends.
// *zap.SugaredLogger satisfies it.
type StructuredLogger interface {
	Debugw(msg string, keyvals ...any)
}

// TraceAttribute represents a tracing attribute attached to thread spans or events.
type TraceAttribute struct {
	Key   string
	Value any
}

// Tracer starts spans that wrap progress thread activity.
type Tracer interface {
	StartSpan(name string, attrs ...TraceAttribute) Span
}

// Span records thread lifecycle, events, and errors for tracing systems.
type Span interface {
	End(err error)
	AddEvent(name string, attrs ...TraceAttribute)
	RecordError(err error)
}

// MetricHook captures progress thread telemetry events.
type MetricHook interface {
	ThreadStarted(attrs map[string]string)
	ThreadStopped(attrs map[string]string)
	ThreadError(kind string, err error, attrs map[string]string)
	Wakeup(attrs map[string]string)
	RequestCompleted(attrs map[string]string)
	RequestFailed(err error, attrs map[string]string)
}

const (
	labelWorker    = "worker"
	labelMode      = "mode"
	labelOperation = "operation"
	labelStatus    = "status"
	labelKind      = "kind"
)

type logField struct {
	key   string
	value any
}

func logKV(key string, value any) logField {
	return logField{key: key, value: value}
}

func (t *Thread) metricAttrs(fields ...logField) map[string]string {
	attrs := make(map[string]string, len(fields)+2)
	attrs[labelWorker] = t.name
	attrs[labelMode] = t.mode()
	for _, field := range fields {
		if field.key == "" {
			continue
		}
		attrs[field.key] = fmt.Sprint(field.value)
	}
	return attrs
}

func (t *Thread) logEvent(event string, fields ...logField) {
	if t == nil {
		return
	}
	if t.structuredLogger != nil {
		kv := make([]any, 0, len(fields)*2+4)
		kv = append(kv, "event", event, labelWorker, t.name)
		for _, field := range fields {
			if field.key == "" {
				continue
			}
			kv = append(kv, field.key, field.value)
		}
		t.structuredLogger.Debugw("ucp progress thread", kv...)
		return
	}
	if t.logger == nil {
		return
	}
	var b strings.Builder
	b.WriteString(event)
	for _, field := range fields {
		if field.key == "" {
			continue
		}
		b.WriteString(" ")
		b.WriteString(field.key)
		b.WriteString("=")
		b.WriteString(fmt.Sprint(field.value))
	}
	t.logger.Debugf("progress thread %s: %s", t.name, b.String())
}

func spanAddEvent(span Span, name string, fields ...logField) {
	if span == nil {
		return
	}
	span.AddEvent(name, attributesFromFields(fields...)...)
}

func spanRecordError(span Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
}

func attributesFromFields(fields ...logField) []TraceAttribute {
	if len(fields) == 0 {
		return nil
	}
	attrs := make([]TraceAttribute, 0, len(fields))
	for _, field := range fields {
		if field.key == "" {
			continue
		}
		attrs = append(attrs, TraceAttribute{Key: field.key, Value: field.value})
	}
	return attrs
}
