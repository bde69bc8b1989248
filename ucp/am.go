package ucp

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/rocketbitz/ucx-go/internal/transport"
)

// AmRecvHandler handles an active message sent to the id it was installed
// for. It runs on the goroutine that progresses the worker, outside the
// worker lock, so it may call Receive or issue new operations. header
// belongs to the handler.
type AmRecvHandler func(header []byte, data *AmData)

// AmData describes the payload of an active message. Small payloads arrive
// with the message and are readable through Data. Larger ones stay in the
// sender's memory until Receive copies them out; the sender's request does
// not complete until then, so every such descriptor must be received or
// closed.
type AmData struct {
	worker *Worker
	pkt    transport.Packet

	// guarded by the worker lock
	released bool
}

// Length returns the payload size in bytes.
func (d *AmData) Length() int {
	return len(d.pkt.Data)
}

// IsDataValid reports whether the payload arrived with the message.
func (d *AmData) IsDataValid() bool {
	return d.pkt.Kind == transport.KindAM
}

// Data returns a payload that arrived with the message. Rendezvous payloads
// must be fetched with Receive.
func (d *AmData) Data() ([]byte, error) {
	if !d.IsDataValid() {
		return nil, fmt.Errorf("%w: active message data has not been received", ErrInvalidState)
	}
	return d.pkt.Data, nil
}

// Receive copies the payload into buf. The returned request completes on the
// next Progress call, with ErrTruncated when buf is too small.
func (d *AmData) Receive(buf []byte, cb Callback) (*Request, error) {
	if d == nil || d.worker == nil {
		return nil, ErrInvalidArgument
	}
	w := d.worker
	if err := w.open(); err != nil {
		return nil, err
	}
	w.lock()
	defer w.unlock()
	if w.handle.Load() == 0 {
		return nil, ErrInvalidHandle{"worker"}
	}
	if d.released {
		return nil, fmt.Errorf("%w: active message data already released", ErrInvalidState)
	}
	d.released = true
	delete(w.amData, d)

	req := w.newRequest(OpAmRecv, nil, cb)
	req.buf = buf
	pkt := d.pkt
	req.post = func() error {
		w.deliverAm(req, pkt)
		return nil
	}
	w.submit(req)
	return req, nil
}

// Close releases the descriptor. A rendezvous payload that was never
// received fails the sender's request with ErrCanceled.
func (d *AmData) Close() error {
	if d == nil || d.worker == nil {
		return ErrInvalidArgument
	}
	w := d.worker
	w.lock()
	defer w.unlock()
	if d.released {
		return nil
	}
	d.released = true
	delete(w.amData, d)
	w.iface.Reject(d.pkt, transport.StatusCanceled)
	return nil
}

func (w *Worker) deliverAm(req *Request, pkt transport.Packet) {
	if !pkt.Token.Do(func() { copy(req.buf, pkt.Data) }) {
		w.retire(req, transportErr("am_recv", transport.StatusCanceled))
		return
	}
	req.info = TagRecvInfo{Length: len(pkt.Data)}
	st := transport.StatusOK
	if len(pkt.Data) > len(req.buf) {
		st = transport.StatusTruncated
		req.info.Length = len(req.buf)
	}
	if pkt.Kind == transport.KindAMRndv {
		if err := w.iface.Send(pkt.Src, pkt.ReplyTo(w.iface.ID(), transport.StatusOK)); err != nil {
			w.log.Debug("active message sender departed", zap.Error(err))
		}
	}
	w.retire(req, transportErr("am_recv", st))
}

// receiveAm hands an incoming active message to its handler. Must be called
// with the worker lock held.
func (w *Worker) receiveAm(pkt transport.Packet) {
	if pkt.Token.Canceled() {
		return
	}
	handler := w.amHandlers[uint(pkt.Tag)]
	if handler == nil {
		w.log.Warn("dropping active message without handler", zap.Uint64("id", pkt.Tag))
		w.iface.Reject(pkt, transport.StatusUnsupported)
		return
	}
	data := &AmData{worker: w, pkt: pkt}
	if pkt.Kind == transport.KindAMRndv {
		if w.amData == nil {
			w.amData = make(map[*AmData]struct{})
		}
		w.amData[data] = struct{}{}
	}
	w.schedule(func() { handler(pkt.Header, data) })
}

// releaseAmData rejects rendezvous payloads still held by the worker. Must
// be called with the worker lock held.
func (w *Worker) releaseAmData(status transport.Status) {
	for d := range w.amData {
		d.released = true
		w.iface.Reject(d.pkt, status)
	}
	w.amData = nil
}

// SetAmRecvHandler installs handler for active messages sent with id. A nil
// handler removes the current one; messages without a handler are dropped.
func (w *Worker) SetAmRecvHandler(id uint, handler AmRecvHandler) error {
	if err := w.open(); err != nil {
		return err
	}
	if !w.ctx.features.Has(FeatureAM) {
		return unsupported("active message handler", FeatureAM)
	}
	w.lock()
	defer w.unlock()
	if handler == nil {
		delete(w.amHandlers, id)
		return nil
	}
	if w.amHandlers == nil {
		w.amHandlers = make(map[uint]AmRecvHandler)
	}
	w.amHandlers[id] = handler
	return nil
}

// SendAmNonBlocking sends an active message to the handler installed for id
// on the peer. header is always copied. data up to the rendezvous threshold
// is copied too; larger payloads are read in place when the peer receives
// them, and data must not be modified until the request completes.
func (e *Endpoint) SendAmNonBlocking(id uint, header, data []byte, cb Callback) (*Request, error) {
	if e == nil {
		return nil, ErrInvalidHandle{"endpoint"}
	}
	w := e.worker
	w.lock()
	defer w.unlock()
	if err := e.usable(); err != nil {
		return nil, err
	}
	if err := e.requireFeature("active message send", FeatureAM); err != nil {
		return nil, err
	}

	req := w.newRequest(OpAmSend, e, cb)
	pkt := transport.Packet{
		Tag:    uint64(id),
		Header: append([]byte(nil), header...),
		Length: len(data),
	}
	if len(header)+len(data) <= w.ctx.rndvThreshold {
		pkt.Kind = transport.KindAM
		pkt.Data = append([]byte(nil), data...)
		req.post = func() error {
			if err := e.send(OpAmSend, pkt); err != nil {
				return err
			}
			w.retire(req, nil)
			return nil
		}
	} else {
		req.token = transport.NewToken()
		pkt.Kind = transport.KindAMRndv
		pkt.ReqID = req.id
		pkt.Data = data
		pkt.Token = req.token
		req.post = func() error {
			return e.send(OpAmSend, pkt)
		}
	}
	w.submit(req)
	return req, nil
}
