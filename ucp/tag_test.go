package ucp

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rocketbitz/ucx-go/internal/transport"
)

func tagParams() *Params {
	return NewParams().RequestTagFeature()
}

func TestTagEagerPostedReceive(t *testing.T) {
	p := setupPeers(t, tagParams)
	buf := make([]byte, 16)
	var info TagRecvInfo
	recv, err := p.w2.RecvTagNonBlocking(buf, 0x42, ^uint64(0), func(req *Request, err error) {
		info = req.RecvInfo()
	})
	if err != nil {
		t.Fatalf("RecvTagNonBlocking failed: %v", err)
	}
	msg := []byte("hello tag")
	send, err := p.ep.SendTagNonBlocking(0x42, msg, nil)
	if err != nil {
		t.Fatalf("SendTagNonBlocking failed: %v", err)
	}
	msg[0] = 'J'

	waitRequest(t, recv, p.w1, p.w2)
	waitRequest(t, send, p.w1)
	if recv.Err() != nil || send.Err() != nil {
		t.Fatalf("unexpected errors recv=%v send=%v", recv.Err(), send.Err())
	}
	if string(buf[:info.Length]) != "hello tag" || info.SenderTag != 0x42 {
		t.Fatalf("unexpected receive %q info=%+v", buf[:info.Length], info)
	}
}

func TestTagUnexpectedThenReceive(t *testing.T) {
	p := setupPeers(t, tagParams)
	send, err := p.ep.SendTagNonBlocking(7, []byte("early"), nil)
	if err != nil {
		t.Fatalf("SendTagNonBlocking failed: %v", err)
	}
	waitRequest(t, send, p.w1)
	for p.w2.Progress() != 0 {
	}

	buf := make([]byte, 8)
	recv, err := p.w2.RecvTagNonBlocking(buf, 7, ^uint64(0), nil)
	if err != nil {
		t.Fatalf("RecvTagNonBlocking failed: %v", err)
	}
	if recv.IsCompleted() {
		t.Fatalf("request completed outside of progress")
	}
	waitRequest(t, recv, p.w2)
	if got := recv.RecvInfo(); got.Length != 5 || string(buf[:5]) != "early" {
		t.Fatalf("unexpected receive %q info=%+v", buf, got)
	}
}

func TestTagMaskMatching(t *testing.T) {
	p := setupPeers(t, tagParams)
	const mask = 0xffff0000
	recv, err := p.w2.RecvTagNonBlocking(make([]byte, 8), 0x00120000, mask, nil)
	if err != nil {
		t.Fatalf("RecvTagNonBlocking failed: %v", err)
	}
	if _, err := p.ep.SendTagNonBlocking(0x00130001, []byte("miss"), nil); err != nil {
		t.Fatalf("SendTagNonBlocking failed: %v", err)
	}
	if _, err := p.ep.SendTagNonBlocking(0x0012abcd, []byte("hit"), nil); err != nil {
		t.Fatalf("SendTagNonBlocking failed: %v", err)
	}
	waitRequest(t, recv, p.w1, p.w2)
	if recv.RecvInfo().SenderTag != 0x0012abcd {
		t.Fatalf("matched wrong message: %+v", recv.RecvInfo())
	}

	wild, err := p.w2.RecvTagNonBlocking(make([]byte, 8), 0, 0, nil)
	if err != nil {
		t.Fatalf("RecvTagNonBlocking failed: %v", err)
	}
	waitRequest(t, wild, p.w2)
	if wild.RecvInfo().SenderTag != 0x00130001 {
		t.Fatalf("wildcard receive matched %+v", wild.RecvInfo())
	}
}

func TestTagOrderingPerEndpoint(t *testing.T) {
	p := setupPeers(t, tagParams)
	for i := byte(0); i < 5; i++ {
		if _, err := p.ep.SendTagNonBlocking(1, []byte{i}, nil); err != nil {
			t.Fatalf("SendTagNonBlocking failed: %v", err)
		}
	}
	for i := byte(0); i < 5; i++ {
		buf := make([]byte, 1)
		recv, err := p.w2.RecvTagNonBlocking(buf, 1, ^uint64(0), nil)
		if err != nil {
			t.Fatalf("RecvTagNonBlocking failed: %v", err)
		}
		waitRequest(t, recv, p.w1, p.w2)
		if buf[0] != i {
			t.Fatalf("message %d arrived out of order: %d", i, buf[0])
		}
	}
}

func TestTagTruncation(t *testing.T) {
	p := setupPeers(t, tagParams)
	buf := make([]byte, 4)
	recv, err := p.w2.RecvTagNonBlocking(buf, 3, ^uint64(0), nil)
	if err != nil {
		t.Fatalf("RecvTagNonBlocking failed: %v", err)
	}
	if _, err := p.ep.SendTagNonBlocking(3, []byte("truncated"), nil); err != nil {
		t.Fatalf("SendTagNonBlocking failed: %v", err)
	}
	waitRequest(t, recv, p.w1, p.w2)
	if !errors.Is(recv.Err(), ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", recv.Err())
	}
	if string(buf) != "trun" {
		t.Fatalf("expected partial copy, got %q", buf)
	}
}

func TestTagRendezvous(t *testing.T) {
	p := setupPeers(t, tagParams, WithRendezvousThreshold(64))
	payload := bytes.Repeat([]byte("rndv"), 1024)
	send, err := p.ep.SendTagNonBlocking(11, payload, nil)
	if err != nil {
		t.Fatalf("SendTagNonBlocking failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		p.w1.Progress()
		p.w2.Progress()
	}
	if send.IsCompleted() {
		t.Fatalf("rendezvous send completed before the receiver matched it")
	}

	buf := make([]byte, len(payload))
	recv, err := p.w2.RecvTagNonBlocking(buf, 11, ^uint64(0), nil)
	if err != nil {
		t.Fatalf("RecvTagNonBlocking failed: %v", err)
	}
	waitRequest(t, recv, p.w2)
	waitRequest(t, send, p.w1)
	if send.Err() != nil || recv.Err() != nil {
		t.Fatalf("unexpected errors send=%v recv=%v", send.Err(), recv.Err())
	}
	if !bytes.Equal(buf, payload) {
		t.Fatalf("rendezvous payload mismatch")
	}
}

func TestTagRendezvousPeerClosed(t *testing.T) {
	p := setupPeers(t, tagParams, WithRendezvousThreshold(0))
	send, err := p.ep.SendTagNonBlocking(1, []byte("abc"), nil)
	if err != nil {
		t.Fatalf("SendTagNonBlocking failed: %v", err)
	}
	for p.w2.Progress() != 0 {
	}
	if err := p.w2.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	waitRequest(t, send, p.w1)
	var st transport.Status
	if !errors.As(send.Err(), &st) || st != transport.StatusConnReset {
		t.Fatalf("expected connection reset, got %v", send.Err())
	}
}

func TestCancelTagReceive(t *testing.T) {
	p := setupPeers(t, tagParams)
	recv, err := p.w2.RecvTagNonBlocking(make([]byte, 4), 99, ^uint64(0), nil)
	if err != nil {
		t.Fatalf("RecvTagNonBlocking failed: %v", err)
	}
	p.w2.Progress()
	if err := p.w2.Cancel(recv); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	waitRequest(t, recv, p.w2)
	if !errors.Is(recv.Err(), ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", recv.Err())
	}

	flush, _ := p.w1.FlushNonBlocking(nil)
	if err := p.w1.Cancel(flush); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported cancelling flush, got %v", err)
	}
}

func TestRequestUserData(t *testing.T) {
	p := setupPeers(t, tagParams)
	req, err := p.w2.RecvTagNonBlocking(make([]byte, 1), 0, 0, nil)
	if err != nil {
		t.Fatalf("RecvTagNonBlocking failed: %v", err)
	}
	if req.UserData() != nil {
		t.Fatalf("expected nil user data")
	}
	req.SetUserData("token")
	if req.UserData() != "token" {
		t.Fatalf("unexpected user data %v", req.UserData())
	}
	if req.Op() != OpTagRecv || req.Status() != RequestPending {
		t.Fatalf("unexpected request op=%s status=%s", req.Op(), req.Status())
	}
}

func TestTagSenderMaskIdentifiesSender(t *testing.T) {
	const senderMask = 0xffff000000000000
	p := setupPeers(t, func() *Params {
		return tagParams().SetTagSenderMask(senderMask).SetEstimatedNumEndpoints(4)
	})
	if p.ctx2.TagSenderMask() != senderMask {
		t.Fatalf("unexpected sender mask %#x", p.ctx2.TagSenderMask())
	}

	const tag = 0x002a000000000009
	buf := make([]byte, 8)
	// match any sender, message id 9
	recv, err := p.w2.RecvTagNonBlocking(buf, 9, ^uint64(senderMask), nil)
	if err != nil {
		t.Fatalf("RecvTagNonBlocking failed: %v", err)
	}
	if _, err := p.ep.SendTagNonBlocking(tag, []byte("hi"), nil); err != nil {
		t.Fatalf("SendTagNonBlocking failed: %v", err)
	}
	waitRequest(t, recv, p.w1, p.w2)
	info := recv.RecvInfo()
	if info.SenderTag != tag || info.SenderID != 0x002a000000000000 || info.Length != 2 {
		t.Fatalf("unexpected receive info %+v", info)
	}
}
