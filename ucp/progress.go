package ucp

import (
	"go.uber.org/zap"

	"github.com/rocketbitz/ucx-go/internal/transport"
)

// Progress drains pending events without blocking and returns the number of
// operations it advanced. Request callbacks run on the calling goroutine
// after the worker lock has been released. A nil or closed worker reports 0;
// use ProgressErr to tell that apart from an idle worker.
func (w *Worker) Progress() int {
	n, _ := w.ProgressErr()
	return n
}

// ProgressErr is Progress that fails with ErrInvalidHandle, which matches
// ErrInvalidState, once the worker has been closed.
func (w *Worker) ProgressErr() (int, error) {
	if err := w.open(); err != nil {
		return 0, err
	}
	w.lock()
	if w.handle.Load() == 0 {
		w.unlock()
		return 0, ErrInvalidHandle{"worker"}
	}
	n := w.wireup()
	n += w.dispatchDeferred()
	n += w.poll()
	w.checkFlushes()
	done := w.takeReady()
	w.unlock()

	w.complete(done)
	return n + len(done), nil
}

func (w *Worker) takeReady() []completion {
	if len(w.ready) == 0 {
		return nil
	}
	done := w.ready
	w.ready = nil
	return done
}

func (w *Worker) complete(done []completion) {
	for _, c := range done {
		if c.fn != nil {
			c.fn()
		}
		if c.req == nil {
			continue
		}
		c.req.finish(c.err)
		if w.observer != nil {
			info := CompletionInfo{Op: c.req.op, Err: c.err}
			if c.req.ep != nil {
				info.Endpoint = c.req.ep.name
			}
			w.observer(info)
		}
	}
}

// retire moves req to the ready list. It is a no-op for requests that were
// already retired, which keeps terminal transitions unique.
func (w *Worker) retire(req *Request, err error) {
	if req == nil || req.retired {
		return
	}
	req.retired = true
	if err != nil {
		// the caller may reuse the buffers as soon as the callback runs
		req.token.Cancel()
	}
	delete(w.outstanding, req.id)
	w.ready = append(w.ready, completion{req: req, err: err})
}

func (w *Worker) schedule(fn func()) {
	w.ready = append(w.ready, completion{fn: fn})
}

// submit registers req as outstanding and starts it unless a fence holds it
// back. Must be called with the worker lock held.
func (w *Worker) submit(req *Request) {
	w.outstanding[req.id] = req
	if req.ep != nil && len(w.fences) > 0 {
		w.deferred = append(w.deferred, req)
		return
	}
	w.start(req)
	if req.retired {
		w.kick()
	}
}

func (w *Worker) start(req *Request) {
	if req.retired {
		return
	}
	req.started = true
	if ep := req.ep; ep != nil && State(ep.state.Load()) == StateFailed {
		w.retire(req, ep.failErr)
		return
	}
	if err := req.post(); err != nil {
		w.retire(req, err)
	}
}

// pending reports whether any outgoing request issued before seq is still
// in flight. Posted receives never count. ep narrows the check to one
// endpoint. Requests held back by a fence only count when startedOnly is
// false.
func (w *Worker) pending(seq uint64, ep *Endpoint, startedOnly bool) bool {
	for id, req := range w.outstanding {
		if id >= seq || req.op == OpTagRecv {
			continue
		}
		if ep != nil && req.ep != ep {
			continue
		}
		if startedOnly && !req.started {
			continue
		}
		return true
	}
	return false
}

// Fence orders the worker's remote operations: operations issued after the
// fence are not started until every operation issued before it completed.
func (w *Worker) Fence() error {
	if err := w.open(); err != nil {
		return err
	}
	w.lock()
	defer w.unlock()
	if len(w.fences) == 0 && !w.pending(w.seq+1, nil, true) {
		return nil
	}
	w.seq++
	w.fences = append(w.fences, w.seq)
	return nil
}

func (w *Worker) dispatchDeferred() int {
	n := 0
	for len(w.fences) > 0 && !w.pending(w.fences[0], nil, true) {
		w.fences = w.fences[1:]
		limit := ^uint64(0)
		if len(w.fences) > 0 {
			limit = w.fences[0]
		}
		kept := w.deferred[:0]
		for _, req := range w.deferred {
			if req.id < limit {
				w.start(req)
				n++
				continue
			}
			kept = append(kept, req)
		}
		w.deferred = kept
	}
	if len(w.fences) == 0 {
		w.deferred = nil
	}
	return n
}

func (w *Worker) checkFlushes() {
	if len(w.flushes) == 0 {
		return
	}
	kept := w.flushes[:0]
	for _, f := range w.flushes {
		if f.retired {
			continue
		}
		if w.pending(f.id, f.ep, false) {
			kept = append(kept, f)
			continue
		}
		var err error
		if f.ep != nil && State(f.ep.state.Load()) == StateFailed {
			err = f.ep.failErr
		}
		w.retire(f, err)
		if f.then != nil {
			f.then()
		}
	}
	for i := len(kept); i < len(w.flushes); i++ {
		w.flushes[i] = nil
	}
	w.flushes = kept
}

// FlushNonBlocking returns a request that completes once every operation
// issued on the worker before the call has completed.
func (w *Worker) FlushNonBlocking(cb Callback) (*Request, error) {
	if err := w.open(); err != nil {
		return nil, err
	}
	w.lock()
	defer w.unlock()
	req := w.newRequest(OpFlush, nil, cb)
	w.flushes = append(w.flushes, req)
	w.kick()
	return req, nil
}

func (w *Worker) wireup() int {
	if len(w.connecting) == 0 {
		return 0
	}
	n := 0
	for _, ep := range w.connecting {
		if State(ep.state.Load()) != StateConnecting {
			continue
		}
		if w.ctx.fabric.Reachable(ep.peer) {
			ep.state.CompareAndSwap(int32(StateConnecting), int32(StateConnected))
			w.log.Debug("endpoint connected", zap.String("endpoint", ep.name))
		} else {
			ep.failLocked(transport.StatusUnreachable)
		}
		n++
	}
	w.connecting = nil
	return n
}

func (w *Worker) poll() int {
	w.scratch = w.iface.Drain(w.scratch[:0])
	n := len(w.scratch)
	for i := range w.scratch {
		w.dispatch(w.scratch[i])
		w.scratch[i] = transport.Packet{}
	}
	return n
}

func (w *Worker) dispatch(pkt transport.Packet) {
	switch pkt.Kind {
	case transport.KindTagEager, transport.KindTagRndv:
		if w.tags == nil {
			w.iface.Reject(pkt, transport.StatusUnsupported)
			return
		}
		if pkt.Token.Canceled() {
			return
		}
		if req := w.tags.matchPosted(pkt.Tag); req != nil {
			w.deliver(req, pkt)
			return
		}
		w.tags.stash(pkt)
	case transport.KindAM, transport.KindAMRndv:
		w.receiveAm(pkt)
	case transport.KindGetReq, transport.KindPutReq, transport.KindAtomicReq:
		w.serve(pkt)
	case transport.KindRndvAck, transport.KindGetResp, transport.KindPutAck, transport.KindAtomicResp, transport.KindAMAck:
		w.reply(pkt)
	default:
		w.log.Warn("dropping unknown packet", zap.Uint8("kind", uint8(pkt.Kind)))
	}
}

func (w *Worker) serve(pkt transport.Packet) {
	resp := pkt.ReplyTo(w.iface.ID(), transport.StatusOK)
	var (
		region *transport.Region
		st     = transport.StatusUnsupported
	)
	if w.ctx.domain != nil {
		region, st = w.ctx.domain.Lookup(pkt.Key)
	}
	if st == transport.StatusOK {
		live := pkt.Token.Do(func() {
			switch pkt.Kind {
			case transport.KindGetReq:
				st = region.ReadAt(pkt.Dst, pkt.Addr)
			case transport.KindPutReq:
				st = region.WriteAt(pkt.Data, pkt.Addr)
			case transport.KindAtomicReq:
				resp.Result, st = region.Atomic(pkt.Op, pkt.Size, pkt.Addr, pkt.Operand, pkt.Compare)
			}
		})
		if !live {
			st = transport.StatusCanceled
		}
	}
	resp.Status = st
	if err := w.iface.Send(pkt.Src, resp); err != nil {
		w.log.Debug("dropping reply to departed peer",
			zap.Stringer("kind", resp.Kind),
			zap.Error(err),
		)
	}
}

func (w *Worker) reply(pkt transport.Packet) {
	req := w.outstanding[pkt.ReqID]
	if req == nil {
		return
	}
	if pkt.Kind == transport.KindAtomicResp {
		req.result = pkt.Result
	}
	switch pkt.Status {
	case transport.StatusOK:
		w.retire(req, nil)
	case transport.StatusConnReset, transport.StatusUnreachable:
		w.retire(req, transportErr(req.op.String(), pkt.Status))
		if req.ep != nil {
			req.ep.failLocked(pkt.Status)
		}
	default:
		w.retire(req, transportErr(req.op.String(), pkt.Status))
	}
}
