package progress

import "github.com/prometheus/client_golang/prometheus"

// PrometheusMetricsOptions configures NewPrometheusMetrics.
type PrometheusMetricsOptions struct {
	Registerer  prometheus.Registerer
	Namespace   string
	Subsystem   string
	ConstLabels prometheus.Labels
}

var _ MetricHook = (*PrometheusMetrics)(nil)

// PrometheusMetrics implements MetricHook using Prometheus counters.
type PrometheusMetrics struct {
	threadStarted    *prometheus.CounterVec
	threadStopped    *prometheus.CounterVec
	threadError      *prometheus.CounterVec
	wakeups          *prometheus.CounterVec
	requestCompleted *prometheus.CounterVec
	requestFailed    *prometheus.CounterVec
}

// NewPrometheusMetrics constructs a MetricHook backed by Prometheus counters.
// Registering twice against the same registry reuses the existing collectors.
func NewPrometheusMetrics(opts PrometheusMetricsOptions) (*PrometheusMetrics, error) {
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	counter := func(name, help string, keys []string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: opts.ConstLabels,
		}, keys)
	}

	p := &PrometheusMetrics{
		threadStarted:    counter("ucx_progress_thread_started_total", "Number of times a progress thread started", threadLabelKeys),
		threadStopped:    counter("ucx_progress_thread_stopped_total", "Number of times a progress thread stopped", threadLabelKeys),
		threadError:      counter("ucx_progress_thread_errors_total", "Number of errors surfaced by the progress loop", errorLabelKeys),
		wakeups:          counter("ucx_progress_wakeups_total", "Number of times a sleeping progress thread was woken by an event", threadLabelKeys),
		requestCompleted: counter("ucx_progress_request_completed_total", "Number of requests completed successfully", completionLabelKeys),
		requestFailed:    counter("ucx_progress_request_failed_total", "Number of requests completed with an error", failureLabelKeys),
	}

	for _, vec := range []**prometheus.CounterVec{
		&p.threadStarted,
		&p.threadStopped,
		&p.threadError,
		&p.wakeups,
		&p.requestCompleted,
		&p.requestFailed,
	} {
		registered, err := registerCounterVec(reg, *vec)
		if err != nil {
			return nil, err
		}
		*vec = registered
	}

	return p, nil
}

var (
	threadLabelKeys     = []string{labelWorker, labelMode}
	errorLabelKeys      = []string{labelWorker, labelMode, labelKind}
	completionLabelKeys = []string{labelWorker, labelMode, labelOperation, labelStatus}
	failureLabelKeys    = []string{labelWorker, labelMode, labelOperation}
)

func (p *PrometheusMetrics) ThreadStarted(attrs map[string]string) {
	p.threadStarted.With(labels(attrs, threadLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) ThreadStopped(attrs map[string]string) {
	p.threadStopped.With(labels(attrs, threadLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) ThreadError(kind string, _ error, attrs map[string]string) {
	labs := labels(attrs, errorLabelKeys...)
	labs[labelKind] = kind
	p.threadError.With(labs).Inc()
}

func (p *PrometheusMetrics) Wakeup(attrs map[string]string) {
	p.wakeups.With(labels(attrs, threadLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) RequestCompleted(attrs map[string]string) {
	p.requestCompleted.With(labels(attrs, completionLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) RequestFailed(_ error, attrs map[string]string) {
	p.requestFailed.With(labels(attrs, failureLabelKeys...)).Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return vec, nil
}

func labels(attrs map[string]string, keys ...string) prometheus.Labels {
	labs := make(prometheus.Labels, len(keys))
	for _, key := range keys {
		labs[key] = attrs[key]
	}
	return labs
}
