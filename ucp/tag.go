package ucp

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/rocketbitz/ucx-go/internal/transport"
)

// tagMatcher pairs incoming tagged messages with posted receives in arrival
// and posting order.
type tagMatcher struct {
	posted     []*Request
	unexpected []transport.Packet
}

func tagMatches(msgTag, tag, mask uint64) bool {
	return msgTag&mask == tag&mask
}

func (m *tagMatcher) matchPosted(msgTag uint64) *Request {
	for i, req := range m.posted {
		if tagMatches(msgTag, req.tag, req.mask) {
			m.posted = append(m.posted[:i], m.posted[i+1:]...)
			return req
		}
	}
	return nil
}

// takeUnexpected removes and returns the oldest stashed message matching
// tag and mask. Rendezvous messages abandoned by their sender are dropped.
func (m *tagMatcher) takeUnexpected(tag, mask uint64) (transport.Packet, bool) {
	kept := m.unexpected[:0]
	var (
		found transport.Packet
		ok    bool
	)
	for _, pkt := range m.unexpected {
		switch {
		case pkt.Token.Canceled():
		case !ok && tagMatches(pkt.Tag, tag, mask):
			found, ok = pkt, true
		default:
			kept = append(kept, pkt)
		}
	}
	clear(m.unexpected[len(kept):])
	m.unexpected = kept
	return found, ok
}

func (m *tagMatcher) stash(pkt transport.Packet) {
	m.unexpected = append(m.unexpected, pkt)
}

func (m *tagMatcher) remove(req *Request) bool {
	for i, r := range m.posted {
		if r == req {
			m.posted = append(m.posted[:i], m.posted[i+1:]...)
			return true
		}
	}
	return false
}

func (m *tagMatcher) reset() {
	m.posted = nil
	m.unexpected = nil
}

// deliver copies a matched message into the receive buffer and, for
// rendezvous messages, releases the sender.
func (w *Worker) deliver(req *Request, pkt transport.Packet) {
	if !pkt.Token.Do(func() { copy(req.buf, pkt.Data) }) {
		// the sender gave up on the message before it was matched
		w.retire(req, transportErr("tag_recv", transport.StatusCanceled))
		return
	}
	req.info = TagRecvInfo{
		SenderTag: pkt.Tag,
		SenderID:  pkt.Tag & w.ctx.tagSenderMask,
		Length:    len(pkt.Data),
	}
	st := transport.StatusOK
	if len(pkt.Data) > len(req.buf) {
		st = transport.StatusTruncated
		req.info.Length = len(req.buf)
	}
	if pkt.Kind == transport.KindTagRndv {
		if err := w.iface.Send(pkt.Src, pkt.ReplyTo(w.iface.ID(), transport.StatusOK)); err != nil {
			w.log.Debug("rendezvous sender departed", zap.Error(err))
		}
	}
	w.retire(req, transportErr("tag_recv", st))
}

// RecvTagNonBlocking posts a receive for the first message whose tag equals
// tag on every bit set in mask.
func (w *Worker) RecvTagNonBlocking(buf []byte, tag, mask uint64, cb Callback) (*Request, error) {
	if err := w.open(); err != nil {
		return nil, err
	}
	if w.tags == nil {
		return nil, unsupported("tag receive", FeatureTag)
	}
	w.lock()
	defer w.unlock()
	if w.handle.Load() == 0 {
		return nil, ErrInvalidHandle{"worker"}
	}
	req := w.newRequest(OpTagRecv, nil, cb)
	req.buf, req.tag, req.mask = buf, tag, mask
	req.post = func() error {
		if pkt, ok := w.tags.takeUnexpected(tag, mask); ok {
			w.deliver(req, pkt)
			return nil
		}
		w.tags.posted = append(w.tags.posted, req)
		return nil
	}
	w.submit(req)
	return req, nil
}

// Cancel aborts a posted tag receive that has not matched yet. The request
// fails with ErrCanceled on the next Progress call.
func (w *Worker) Cancel(req *Request) error {
	if err := w.open(); err != nil {
		return err
	}
	if req == nil || req.worker != w {
		return ErrInvalidArgument
	}
	if req.op != OpTagRecv {
		return fmt.Errorf("%w: cannot cancel %s request", ErrUnsupported, req.op)
	}
	w.lock()
	defer w.unlock()
	if req.retired || !w.tags.remove(req) {
		return nil
	}
	w.retire(req, transportErr("tag_recv", transport.StatusCanceled))
	w.kick()
	return nil
}
