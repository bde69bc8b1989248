package ucp

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/rocketbitz/ucx-go/internal/transport"
)

// Endpoint is a connection from a worker to a peer worker.
type Endpoint struct {
	worker  *Worker
	handle  atomic.Uint64
	name    string
	peer    transport.Address
	mode    ErrHandlingMode
	onError func(*Endpoint, error)
	state   atomic.Int32
	log     *zap.Logger

	// guarded by the worker lock
	failErr error
	rkeys   map[*RemoteKey]struct{}
}

// NewEndpoint connects to the worker whose address is set in params. An
// unreachable peer is reported asynchronously from Progress.
func (w *Worker) NewEndpoint(params *EndpointParams) (*Endpoint, error) {
	if err := w.open(); err != nil {
		return nil, err
	}
	if err := params.validate(); err != nil {
		return nil, err
	}
	peer, err := transport.UnpackAddress(params.peer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	h := nextHandle()
	e := &Endpoint{
		worker:  w,
		name:    params.name,
		peer:    peer,
		mode:    params.mode,
		onError: params.onError,
		rkeys:   make(map[*RemoteKey]struct{}),
	}
	if e.name == "" {
		e.name = fmt.Sprintf("ep-%d", h)
	}
	e.log = w.log.With(zap.String("endpoint", e.name))
	e.state.Store(int32(StateConnecting))

	w.lock()
	defer w.unlock()
	if w.handle.Load() == 0 {
		return nil, ErrInvalidHandle{"worker"}
	}
	e.handle.Store(h)
	w.endpoints[e] = struct{}{}
	w.connecting = append(w.connecting, e)
	w.kick()
	e.log.Debug("endpoint created",
		zap.Uint64("peer_iface", peer.Iface),
		zap.String("peer", peer.Name),
	)
	return e, nil
}

// Handle returns a non-zero identifier while the endpoint is open.
func (e *Endpoint) Handle() uint64 {
	if e == nil {
		return 0
	}
	return e.handle.Load()
}

// Worker returns the owning worker.
func (e *Endpoint) Worker() *Worker {
	return e.worker
}

// Name returns the endpoint name.
func (e *Endpoint) Name() string {
	return e.name
}

// State returns the connection state.
func (e *Endpoint) State() State {
	return State(e.state.Load())
}

// ErrHandlingMode returns the failure reporting mode.
func (e *Endpoint) ErrHandlingMode() ErrHandlingMode {
	return e.mode
}

// usable validates the endpoint for issuing a new operation. Must be called
// with the worker lock held.
func (e *Endpoint) usable() error {
	if e == nil || e.handle.Load() == 0 || e.worker.handle.Load() == 0 {
		return ErrInvalidHandle{"endpoint"}
	}
	if State(e.state.Load()) == StateClosing {
		return fmt.Errorf("%w: endpoint %s is closing", ErrInvalidState, e.name)
	}
	return nil
}

func (e *Endpoint) requireFeature(op string, f Feature) error {
	if !e.worker.ctx.features.Has(f) {
		return unsupported(op, f)
	}
	return nil
}

func (e *Endpoint) checkKey(op string, key *RemoteKey, addr uint64, n int) error {
	if key == nil {
		return fmt.Errorf("%w: %s requires a remote key", ErrUnsupported, op)
	}
	if key.released || key.ep != e {
		return fmt.Errorf("%w: remote key is not valid on endpoint %s", ErrUnsupported, e.name)
	}
	if !key.desc.Contains(addr, n) {
		return fmt.Errorf("%w: [%#x,+%d) outside remote key range", ErrUnsupported, addr, n)
	}
	return nil
}

// send delivers pkt to the peer, failing the endpoint when the peer is gone.
func (e *Endpoint) send(op OpKind, pkt transport.Packet) error {
	err := e.worker.iface.Send(e.peer.Iface, pkt)
	if err == nil {
		return nil
	}
	var st transport.Status
	if !errors.As(err, &st) {
		st = transport.StatusUnreachable
	}
	e.failLocked(st)
	return transportErr(op.String(), st)
}

// failLocked moves the endpoint to StateFailed, fails its outstanding
// requests and reports the failure once.
func (e *Endpoint) failLocked(st transport.Status) {
	switch State(e.state.Load()) {
	case StateFailed, StateClosed:
		return
	}
	e.state.Store(int32(StateFailed))
	err := transportErr("endpoint "+e.name, st)
	e.failErr = err

	w := e.worker
	for _, req := range e.outstanding() {
		w.retire(req, err)
	}
	if e.mode == ErrHandlingPeer && e.onError != nil {
		e.log.Warn("endpoint failed", zap.Error(err))
		handler := e.onError
		w.schedule(func() { handler(e, err) })
	} else {
		e.log.Error("endpoint failed", zap.Error(err))
	}
	w.kick()
}

func (e *Endpoint) outstanding() []*Request {
	var reqs []*Request
	for _, req := range e.worker.outstanding {
		if req.ep == e {
			reqs = append(reqs, req)
		}
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].id < reqs[j].id })
	return reqs
}

// closeLocked tears the endpoint down and cancels its requests. Must be
// called with the worker lock held.
func (e *Endpoint) closeLocked() {
	if e.handle.Load() == 0 {
		return
	}
	e.handle.Store(0)
	e.state.Store(int32(StateClosed))

	w := e.worker
	canceled := fmt.Errorf("endpoint %s closed: %w", e.name, ErrCanceled)
	for _, req := range e.outstanding() {
		w.retire(req, canceled)
	}
	for _, f := range w.flushes {
		if f.ep == e {
			w.retire(f, canceled)
		}
	}
	for k := range e.rkeys {
		k.released = true
	}
	e.rkeys = nil
	delete(w.endpoints, e)
	w.kick()
	e.log.Debug("endpoint closed")
}

// Close closes the endpoint immediately. Outstanding requests fail with
// ErrCanceled on the next Progress call; the error handler is not invoked.
func (e *Endpoint) Close() error {
	if e == nil {
		return ErrInvalidHandle{"endpoint"}
	}
	w := e.worker
	w.lock()
	defer w.unlock()
	if e.handle.Load() == 0 {
		return ErrInvalidHandle{"endpoint"}
	}
	e.closeLocked()
	return nil
}

// CloseNonBlocking closes the endpoint asynchronously. CloseModeFlush waits
// for outstanding operations to complete first; CloseModeForce cancels them.
func (e *Endpoint) CloseNonBlocking(mode CloseMode, cb Callback) (*Request, error) {
	if e == nil {
		return nil, ErrInvalidHandle{"endpoint"}
	}
	w := e.worker
	w.lock()
	defer w.unlock()
	if err := e.usable(); err != nil {
		return nil, err
	}
	switch mode {
	case CloseModeForce:
		e.closeLocked()
		req := w.newRequest(OpEndpointClose, nil, cb)
		req.retired = true
		w.ready = append(w.ready, completion{req: req})
		w.kick()
		return req, nil
	case CloseModeFlush:
		e.state.Store(int32(StateClosing))
		req := w.newRequest(OpEndpointClose, e, cb)
		req.then = e.closeLocked
		w.flushes = append(w.flushes, req)
		w.kick()
		return req, nil
	default:
		return nil, fmt.Errorf("%w: unknown close mode %d", ErrInvalidArgument, mode)
	}
}

// FlushNonBlocking returns a request that completes once every operation
// issued on this endpoint before the call has completed.
func (e *Endpoint) FlushNonBlocking(cb Callback) (*Request, error) {
	if e == nil {
		return nil, ErrInvalidHandle{"endpoint"}
	}
	w := e.worker
	w.lock()
	defer w.unlock()
	if err := e.usable(); err != nil {
		return nil, err
	}
	req := w.newRequest(OpEndpointFlush, e, cb)
	w.flushes = append(w.flushes, req)
	w.kick()
	return req, nil
}

// SendTagNonBlocking sends buf to the peer with the given tag. Messages up
// to the rendezvous threshold are copied and the request completes on the
// next Progress call; larger messages are read in place by the receiver and
// buf must not be modified until the request completes.
func (e *Endpoint) SendTagNonBlocking(tag uint64, buf []byte, cb Callback) (*Request, error) {
	if e == nil {
		return nil, ErrInvalidHandle{"endpoint"}
	}
	w := e.worker
	w.lock()
	defer w.unlock()
	if err := e.usable(); err != nil {
		return nil, err
	}
	if err := e.requireFeature("tag send", FeatureTag); err != nil {
		return nil, err
	}

	req := w.newRequest(OpTagSend, e, cb)
	if len(buf) <= w.ctx.rndvThreshold {
		data := append([]byte(nil), buf...)
		req.post = func() error {
			if err := e.send(OpTagSend, transport.Packet{Kind: transport.KindTagEager, Tag: tag, Data: data, Length: len(data)}); err != nil {
				return err
			}
			w.retire(req, nil)
			return nil
		}
	} else {
		req.token = transport.NewToken()
		req.post = func() error {
			return e.send(OpTagSend, transport.Packet{Kind: transport.KindTagRndv, ReqID: req.id, Tag: tag, Data: buf, Length: len(buf), Token: req.token})
		}
	}
	w.submit(req)
	return req, nil
}
