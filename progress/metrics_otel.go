package progress

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetricsOptions configures NewOTelMetrics.
type OTelMetricsOptions struct {
	MeterProvider          metric.MeterProvider
	Meter                  metric.Meter
	InstrumentationName    string
	InstrumentationVersion string
}

var _ MetricHook = (*OTelMetrics)(nil)

// OTelMetrics implements MetricHook using OpenTelemetry counters.
type OTelMetrics struct {
	meter            metric.Meter
	threadStarted    metric.Int64Counter
	threadStopped    metric.Int64Counter
	threadError      metric.Int64Counter
	wakeups          metric.Int64Counter
	requestCompleted metric.Int64Counter
	requestFailed    metric.Int64Counter
}

// NewOTelMetrics constructs a MetricHook that emits OpenTelemetry counter measurements.
func NewOTelMetrics(opts OTelMetricsOptions) (*OTelMetrics, error) {
	meter := opts.Meter
	if meter == nil {
		provider := opts.MeterProvider
		if provider == nil {
			provider = otel.GetMeterProvider()
		}
		name := opts.InstrumentationName
		if name == "" {
			name = "github.com/rocketbitz/ucx-go/progress"
		}
		meter = provider.Meter(name, metric.WithInstrumentationVersion(opts.InstrumentationVersion))
	}

	o := &OTelMetrics{meter: meter}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&o.threadStarted, "ucx.progress.thread.started", "Progress thread starts"},
		{&o.threadStopped, "ucx.progress.thread.stopped", "Progress thread stops"},
		{&o.threadError, "ucx.progress.thread.errors", "Errors surfaced by the progress loop"},
		{&o.wakeups, "ucx.progress.wakeups", "Wakeups of a sleeping progress thread"},
		{&o.requestCompleted, "ucx.progress.request.completed", "Requests completed successfully"},
		{&o.requestFailed, "ucx.progress.request.failed", "Requests completed with an error"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}
	return o, nil
}

// ThreadStarted records that a progress loop has started executing.
func (o *OTelMetrics) ThreadStarted(attrs map[string]string) {
	o.threadStarted.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs)...))
}

// ThreadStopped records that a progress loop has exited.
func (o *OTelMetrics) ThreadStopped(attrs map[string]string) {
	o.threadStopped.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs)...))
}

// ThreadError counts loop errors by kind.
func (o *OTelMetrics) ThreadError(kind string, _ error, attrs map[string]string) {
	attributes := append(otelAttrs(attrs), attribute.String(labelKind, kind))
	o.threadError.Add(context.Background(), 1, metric.WithAttributes(attributes...))
}

// Wakeup records an event-driven wakeup.
func (o *OTelMetrics) Wakeup(attrs map[string]string) {
	o.wakeups.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs)...))
}

// RequestCompleted records a successful request completion.
func (o *OTelMetrics) RequestCompleted(attrs map[string]string) {
	o.requestCompleted.Add(context.Background(), 1, metric.WithAttributes(otelAttrsWithOperation(attrs)...))
}

// RequestFailed records a failed request completion.
func (o *OTelMetrics) RequestFailed(_ error, attrs map[string]string) {
	o.requestFailed.Add(context.Background(), 1, metric.WithAttributes(otelAttrsWithOperation(attrs)...))
}

func otelAttrs(attrs map[string]string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(labelWorker, attrs[labelWorker]),
		attribute.String(labelMode, attrs[labelMode]),
	}
}

func otelAttrsWithOperation(attrs map[string]string) []attribute.KeyValue {
	kvs := otelAttrs(attrs)
	if v := attrs[labelOperation]; v != "" {
		kvs = append(kvs, attribute.String(labelOperation, v))
	}
	if v := attrs[labelStatus]; v != "" {
		kvs = append(kvs, attribute.String(labelStatus, v))
	}
	return kvs
}
