package ucp

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/rocketbitz/ucx-go/internal/transport"
)

// Worker is the progress engine. Operations issued on a worker and its
// endpoints only advance while Progress is being called.
type Worker struct {
	ctx      *Context
	log      *zap.Logger
	handle   atomic.Uint64
	iface    *transport.Iface
	mode     ThreadMode
	cpu      int
	events   WakeupEvent
	userData []byte
	name     string
	observer func(CompletionInfo)

	wake chan struct{}

	// mu is only taken in ThreadMulti mode.
	mu          sync.Mutex
	seq         uint64
	outstanding map[uint64]*Request
	ready       []completion
	flushes     []*Request
	deferred    []*Request
	fences      []uint64
	endpoints   map[*Endpoint]struct{}
	connecting  []*Endpoint
	tags        *tagMatcher
	amHandlers  map[uint]AmRecvHandler
	amData      map[*AmData]struct{}
	scratch     []transport.Packet
}

func newWorker(c *Context, params *WorkerParams) (*Worker, error) {
	if params == nil {
		params = NewWorkerParams()
	}
	if err := params.validate(); err != nil {
		return nil, err
	}
	h := nextHandle()
	w := &Worker{
		ctx:         c,
		mode:        params.mode,
		cpu:         -1,
		events:      params.events,
		userData:    append([]byte(nil), params.userData...),
		name:        params.name,
		observer:    params.onComplete,
		wake:        make(chan struct{}, 1),
		outstanding: make(map[uint64]*Request),
		endpoints:   make(map[*Endpoint]struct{}, c.estimatedEPs),
	}
	if params.cpuSet {
		w.cpu = params.cpu
	}
	if w.name == "" {
		w.name = fmt.Sprintf("worker-%d", h)
	}
	if c.features.Has(FeatureTag) {
		w.tags = &tagMatcher{}
	}
	w.log = c.log.With(zap.String("worker", w.name))
	w.iface = c.fabric.OpenIface(w.name, w.notify)
	w.handle.Store(h)
	w.log.Debug("worker created",
		zap.Stringer("thread_mode", w.mode),
		zap.Int("cpu", w.cpu),
	)
	return w, nil
}

func (w *Worker) lock() {
	if w.mode == ThreadMulti {
		w.mu.Lock()
	}
}

func (w *Worker) unlock() {
	if w.mode == ThreadMulti {
		w.mu.Unlock()
	}
}

// Handle returns a non-zero identifier while the worker is open.
func (w *Worker) Handle() uint64 {
	if w == nil {
		return 0
	}
	return w.handle.Load()
}

// Context returns the owning context.
func (w *Worker) Context() *Context {
	return w.ctx
}

// Name returns the worker name.
func (w *Worker) Name() string {
	return w.name
}

// ThreadMode returns the locking discipline the worker was created with.
func (w *Worker) ThreadMode() ThreadMode {
	return w.mode
}

// CPU returns the affinity hint, or -1 when none was given.
func (w *Worker) CPU() int {
	return w.cpu
}

// UserData returns a copy of the bytes supplied at creation.
func (w *Worker) UserData() []byte {
	return append([]byte(nil), w.userData...)
}

func (w *Worker) open() error {
	if w == nil || w.handle.Load() == 0 {
		return ErrInvalidHandle{"worker"}
	}
	return nil
}

// Address returns the packed address peers pass to NewEndpoint.
func (w *Worker) Address() ([]byte, error) {
	if err := w.open(); err != nil {
		return nil, err
	}
	return transport.PackAddress(w.iface.Address())
}

func (w *Worker) notify(class transport.Class) {
	if w.events != 0 && !w.subscribed(class) {
		return
	}
	w.kick()
}

// subscribed reports whether a packet of the given class should release
// WaitForEvents. Requests that the worker must serve for a peer always do.
func (w *Worker) subscribed(class transport.Class) bool {
	e := w.events
	switch {
	case class&transport.ClassRX != 0 && class&(transport.ClassRMA|transport.ClassAMO) != 0:
		return true
	case class&transport.ClassTagRecv != 0 && e&WakeupTagRecv != 0,
		class&transport.ClassTagSend != 0 && e&WakeupTagSend != 0,
		class&transport.ClassRMA != 0 && e&WakeupRMA != 0,
		class&transport.ClassAMO != 0 && e&WakeupAMO != 0,
		class&transport.ClassRX != 0 && e&WakeupRX != 0,
		class&transport.ClassTX != 0 && e&WakeupTX != 0:
		return true
	}
	return false
}

func (w *Worker) kick() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) wakeupReady(op string) error {
	if err := w.open(); err != nil {
		return err
	}
	if !w.ctx.features.Has(FeatureWakeup) {
		return unsupported(op, FeatureWakeup)
	}
	return nil
}

func (w *Worker) hasWork() bool {
	w.lock()
	defer w.unlock()
	if len(w.ready) > 0 || len(w.connecting) > 0 || w.iface.Pending() {
		return true
	}
	if len(w.fences) > 0 && !w.pending(w.fences[0], nil, true) {
		return true
	}
	for _, f := range w.flushes {
		if !f.retired && !w.pending(f.id, f.ep, false) {
			return true
		}
	}
	return false
}

// Arm prepares the worker for sleeping. It returns ErrBusy when events are
// already pending and Progress must be called first.
func (w *Worker) Arm() error {
	if err := w.wakeupReady("arm"); err != nil {
		return err
	}
	if w.hasWork() {
		return ErrBusy
	}
	return nil
}

// WaitForEvents blocks until an event the worker subscribed to arrives or
// Signal is called. It returns immediately when work is already pending.
func (w *Worker) WaitForEvents() error {
	return w.WaitForEventsContext(context.Background())
}

// WaitForEventsContext is WaitForEvents bounded by ctx.
func (w *Worker) WaitForEventsContext(ctx context.Context) error {
	if err := w.wakeupReady("wait"); err != nil {
		return err
	}
	if w.hasWork() {
		return nil
	}
	select {
	case <-w.wake:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Signal releases a goroutine blocked in WaitForEvents. It is safe to call
// from any goroutine regardless of thread mode.
func (w *Worker) Signal() error {
	if err := w.wakeupReady("signal"); err != nil {
		return err
	}
	w.kick()
	return nil
}

// Close releases the worker. Open endpoints are closed forcibly and every
// outstanding request fails with ErrCanceled before Close returns.
func (w *Worker) Close() error {
	if w == nil {
		return ErrInvalidHandle{"worker"}
	}
	w.lock()
	if w.handle.Load() == 0 {
		w.unlock()
		return ErrInvalidHandle{"worker"}
	}
	w.handle.Store(0)

	for ep := range w.endpoints {
		ep.closeLocked()
	}
	ids := make([]uint64, 0, len(w.outstanding))
	for id := range w.outstanding {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	canceled := fmt.Errorf("worker closed: %w", ErrCanceled)
	for _, id := range ids {
		w.retire(w.outstanding[id], canceled)
	}
	for _, f := range w.flushes {
		w.retire(f, canceled)
	}
	w.flushes, w.deferred, w.fences, w.connecting = nil, nil, nil, nil
	if w.tags != nil {
		for _, pkt := range w.tags.unexpected {
			w.iface.Reject(pkt, transport.StatusConnReset)
		}
		w.tags.reset()
	}
	w.releaseAmData(transport.StatusConnReset)
	w.iface.Close()
	done := w.takeReady()
	w.unlock()

	w.complete(done)
	w.ctx.removeWorker(w)
	w.kick()
	w.log.Debug("worker closed", zap.Int("completions", len(done)))
	return nil
}

func (w *Worker) teardown() {
	w.handle.Store(0)
	w.iface.Close()
}
