// Package progress runs a dedicated goroutine that drives a ucp.Worker, either
// by sleeping on the worker's wakeup channel or by polling with backoff.
package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rocketbitz/ucx-go/ucp"
)

// ErrStopped indicates the progress thread has already been stopped.
var ErrStopped = errors.New("ucp progress thread: stopped")

const (
	defaultMaxBackoff  = 10 * time.Millisecond
	defaultWaitTimeout = 100 * time.Millisecond
)

// Config controls Start behaviour.
type Config struct {
	// Name overrides the worker name used in logs, spans and metric labels.
	Name string
	// UseWakeup sleeps in WaitForEvents between progress calls. The context
	// must carry the wakeup feature.
	UseWakeup bool
	// MaxBackoff caps the idle sleep of the polling loop.
	MaxBackoff time.Duration
	// WaitTimeout bounds a single WaitForEvents call in wakeup mode.
	WaitTimeout time.Duration

	Logger           Logger
	StructuredLogger StructuredLogger
	Tracer           Tracer
	Metrics          MetricHook
}

// Stats contains counters for the progress thread.
type Stats struct {
	Iterations uint64
	Progressed uint64
	Wakeups    uint64
	Completed  uint64
	Failed     uint64
}

type threadStats struct {
	iterations atomic.Uint64
	progressed atomic.Uint64
	wakeups    atomic.Uint64
	completed  atomic.Uint64
	failed     atomic.Uint64
}

type errorHolder struct {
	err error
}

// Thread owns a multi-threaded worker and the goroutine progressing it.
type Thread struct {
	cfg    Config
	name   string
	worker *ucp.Worker
	span   Span

	stopped   atomic.Bool
	threadErr atomic.Pointer[errorHolder]
	stopCh    chan struct{}
	wg        sync.WaitGroup

	logger           Logger
	structuredLogger StructuredLogger
	metrics          MetricHook
	stats            threadStats
}

// Start creates a worker on ctx and progresses it on a new goroutine. The
// worker is always created in ThreadMulti mode so callers may issue
// operations from other goroutines. params is not modified; an observer
// installed on it still runs after the thread's own bookkeeping.
func Start(ctx *ucp.Context, params *ucp.WorkerParams, cfg Config) (*Thread, error) {
	if ctx == nil {
		return nil, fmt.Errorf("progress: %w", ucp.ErrInvalidArgument)
	}
	if cfg.UseWakeup && !ctx.Features().Has(ucp.FeatureWakeup) {
		return nil, fmt.Errorf("progress: wakeup mode: %w (%s not requested)", ucp.ErrUnsupported, ucp.FeatureWakeup)
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = defaultWaitTimeout
	}
	if params == nil {
		params = ucp.NewWorkerParams()
	}
	params = params.Clone()

	t := &Thread{
		cfg:              cfg,
		stopCh:           make(chan struct{}),
		logger:           cfg.Logger,
		structuredLogger: cfg.StructuredLogger,
		metrics:          cfg.Metrics,
	}
	observe := t.observe
	if user := params.CompletionObserver(); user != nil {
		observe = func(info ucp.CompletionInfo) {
			t.observe(info)
			user(info)
		}
	}
	params.SetThreadMode(ucp.ThreadMulti).SetCompletionObserver(observe)

	worker, err := ctx.NewWorker(params)
	if err != nil {
		return nil, err
	}
	t.worker = worker
	t.name = cfg.Name
	if t.name == "" {
		t.name = worker.Name()
	}
	if t.name == "" {
		t.name = fmt.Sprintf("worker-%d", worker.Handle())
	}
	t.span = t.startSpan()

	t.wg.Add(1)
	go t.run()

	return t, nil
}

// Worker returns the worker driven by the thread.
func (t *Thread) Worker() *ucp.Worker {
	return t.worker
}

// Name returns the label used for logs and metrics.
func (t *Thread) Name() string {
	return t.name
}

// Err reports the first error the loop ran into, if any.
func (t *Thread) Err() error {
	if holder := t.threadErr.Load(); holder != nil {
		return holder.err
	}
	return nil
}

// Stats returns a snapshot of the thread counters.
func (t *Thread) Stats() Stats {
	return Stats{
		Iterations: t.stats.iterations.Load(),
		Progressed: t.stats.progressed.Load(),
		Wakeups:    t.stats.wakeups.Load(),
		Completed:  t.stats.completed.Load(),
		Failed:     t.stats.failed.Load(),
	}
}

// Stop terminates the loop and closes the worker. Outstanding requests fail
// with ucp.ErrCanceled before Stop returns.
func (t *Thread) Stop() error {
	if t == nil {
		return nil
	}
	if !t.stopped.CompareAndSwap(false, true) {
		return ErrStopped
	}

	close(t.stopCh)
	if t.cfg.UseWakeup {
		_ = t.worker.Signal()
	}
	t.wg.Wait()

	closeErr := t.worker.Close()

	err := t.Err()
	fields := []logField{logKV("status", "ok")}
	if err != nil {
		fields[0] = logKV("status", "error")
		fields = append(fields, logKV("error", err))
		spanRecordError(t.span, err)
	}
	t.logEvent("stop", fields...)
	spanAddEvent(t.span, "stop", fields...)
	if t.metrics != nil {
		t.metrics.ThreadStopped(t.metricAttrs(fields...))
	}
	if t.span != nil {
		t.span.End(err)
	}
	return closeErr
}

func (t *Thread) mode() string {
	if t.cfg.UseWakeup {
		return "wakeup"
	}
	return "poll"
}

func (t *Thread) run() {
	defer t.wg.Done()

	startFields := []logField{logKV("mode", t.mode())}
	if cpu := t.worker.CPU(); cpu >= 0 {
		startFields = append(startFields, logKV("cpu", cpu))
	}
	t.logEvent("start", startFields...)
	spanAddEvent(t.span, "start", startFields...)
	if t.metrics != nil {
		t.metrics.ThreadStarted(t.metricAttrs(startFields...))
	}

	backoff := time.Millisecond
	for {
		select {
		case <-t.stopCh:
			return
		default:
		}

		t.stats.iterations.Add(1)
		if n := t.worker.Progress(); n > 0 {
			t.stats.progressed.Add(uint64(n))
			backoff = time.Millisecond
			continue
		}

		if t.cfg.UseWakeup {
			t.sleep()
			continue
		}

		select {
		case <-t.stopCh:
			return
		case <-time.After(backoff):
		}

		if backoff < t.cfg.MaxBackoff {
			backoff *= 2
			if backoff > t.cfg.MaxBackoff {
				backoff = t.cfg.MaxBackoff
			}
		}
	}
}

func (t *Thread) sleep() {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.WaitTimeout)
	defer cancel()
	err := t.worker.WaitForEventsContext(ctx)
	switch {
	case err == nil:
		t.stats.wakeups.Add(1)
		if t.metrics != nil {
			t.metrics.Wakeup(t.metricAttrs())
		}
	case errors.Is(err, context.DeadlineExceeded):
	case t.stopped.Load():
	default:
		t.recordFailure("wait_error", fmt.Errorf("wait for events: %w", err))
		select {
		case <-t.stopCh:
		case <-time.After(t.cfg.MaxBackoff):
		}
	}
}

// observe runs on whichever goroutine completed the request: the loop, or
// Stop while closing the worker.
func (t *Thread) observe(info ucp.CompletionInfo) {
	status := "ok"
	if info.Err != nil {
		status = "error"
		t.stats.failed.Add(1)
	} else {
		t.stats.completed.Add(1)
	}
	fields := []logField{
		logKV(labelOperation, info.Op.String()),
		logKV(labelStatus, status),
	}
	if info.Endpoint != "" {
		fields = append(fields, logKV("endpoint", info.Endpoint))
	}
	if info.Err != nil {
		fields = append(fields, logKV("error", info.Err))
	}
	t.logEvent("completion", fields...)
	spanAddEvent(t.span, "completion", fields...)
	if t.metrics == nil {
		return
	}
	attrs := t.metricAttrs(fields[:2]...)
	if info.Err != nil {
		t.metrics.RequestFailed(info.Err, attrs)
		return
	}
	t.metrics.RequestCompleted(attrs)
}

func (t *Thread) recordFailure(kind string, err error) {
	t.threadErr.CompareAndSwap(nil, &errorHolder{err: err})
	fields := []logField{logKV("error", err)}
	t.logEvent(kind, fields...)
	spanAddEvent(t.span, kind, fields...)
	spanRecordError(t.span, err)
	if t.metrics != nil {
		t.metrics.ThreadError(kind, err, t.metricAttrs(fields...))
	}
}

func (t *Thread) startSpan() Span {
	if t.cfg.Tracer == nil {
		return nil
	}
	attrs := []TraceAttribute{
		{Key: "component", Value: "ucp-progress"},
		{Key: labelWorker, Value: t.name},
		{Key: labelMode, Value: t.mode()},
	}
	return t.cfg.Tracer.StartSpan("ucp-progress-thread", attrs...)
}
