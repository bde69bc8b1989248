package ucp

import (
	"errors"
	"testing"

	"github.com/rocketbitz/ucx-go/internal/transport"
)

func amParams() *Params {
	return NewParams().RequestAMFeature()
}

func TestAmEagerDelivery(t *testing.T) {
	p := setupPeers(t, amParams)
	var (
		gotHeader []byte
		gotData   []byte
		valid     bool
		calls     int
	)
	err := p.w2.SetAmRecvHandler(3, func(header []byte, data *AmData) {
		calls++
		gotHeader = header
		valid = data.IsDataValid()
		b, err := data.Data()
		if err != nil {
			t.Errorf("Data failed: %v", err)
		}
		gotData = b
		if err := data.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	if err != nil {
		t.Fatalf("SetAmRecvHandler failed: %v", err)
	}

	header := []byte("hdr")
	payload := []byte("payload")
	send, err := p.ep.SendAmNonBlocking(3, header, payload, nil)
	if err != nil {
		t.Fatalf("SendAmNonBlocking failed: %v", err)
	}
	header[0], payload[0] = 'X', 'X'

	waitRequest(t, send, p.w1)
	if send.Err() != nil {
		t.Fatalf("send failed: %v", send.Err())
	}
	progressUntil(t, func() bool { return calls == 1 }, p.w2)
	if !valid || string(gotHeader) != "hdr" || string(gotData) != "payload" {
		t.Fatalf("unexpected message valid=%v header=%q data=%q", valid, gotHeader, gotData)
	}
}

func TestAmRendezvousReceive(t *testing.T) {
	p := setupPeers(t, amParams, WithRendezvousThreshold(4))
	buf := make([]byte, 32)
	var (
		recv   *Request
		desc   *AmData
		length int
	)
	err := p.w2.SetAmRecvHandler(1, func(_ []byte, data *AmData) {
		desc = data
		if data.IsDataValid() {
			t.Errorf("rendezvous payload reported as valid")
		}
		if _, err := data.Data(); !errors.Is(err, ErrInvalidState) {
			t.Errorf("expected ErrInvalidState from Data, got %v", err)
		}
		length = data.Length()
		r, err := data.Receive(buf, nil)
		if err != nil {
			t.Errorf("Receive failed: %v", err)
			return
		}
		recv = r
	})
	if err != nil {
		t.Fatalf("SetAmRecvHandler failed: %v", err)
	}

	payload := []byte("a rendezvous payload")
	send, err := p.ep.SendAmNonBlocking(1, []byte("h"), payload, nil)
	if err != nil {
		t.Fatalf("SendAmNonBlocking failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		p.w1.Progress()
	}
	if send.IsCompleted() {
		t.Fatalf("rendezvous send completed before the payload was received")
	}

	progressUntil(t, func() bool { return recv != nil && recv.IsCompleted() }, p.w2)
	waitRequest(t, send, p.w1)
	if send.Err() != nil || recv.Err() != nil {
		t.Fatalf("unexpected errors send=%v recv=%v", send.Err(), recv.Err())
	}
	info := recv.RecvInfo()
	if length != len(payload) || string(buf[:info.Length]) != string(payload) {
		t.Fatalf("unexpected payload %q length=%d", buf[:info.Length], length)
	}
	if _, err := desc.Receive(make([]byte, 32), nil); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on second Receive, got %v", err)
	}
}

func TestAmRendezvousCloseCancelsSender(t *testing.T) {
	p := setupPeers(t, amParams, WithRendezvousThreshold(0))
	err := p.w2.SetAmRecvHandler(5, func(_ []byte, data *AmData) {
		if err := data.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	if err != nil {
		t.Fatalf("SetAmRecvHandler failed: %v", err)
	}
	send, err := p.ep.SendAmNonBlocking(5, nil, []byte("discarded"), nil)
	if err != nil {
		t.Fatalf("SendAmNonBlocking failed: %v", err)
	}
	waitRequest(t, send, p.w1, p.w2)
	if !errors.Is(send.Err(), ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", send.Err())
	}
	if p.ep.State() == StateFailed {
		t.Fatalf("released payload must not fail the endpoint")
	}
}

func TestAmWithoutHandler(t *testing.T) {
	p := setupPeers(t, amParams, WithRendezvousThreshold(4))
	eager, err := p.ep.SendAmNonBlocking(9, nil, []byte("hi"), nil)
	if err != nil {
		t.Fatalf("SendAmNonBlocking failed: %v", err)
	}
	rndv, err := p.ep.SendAmNonBlocking(9, nil, []byte("too large"), nil)
	if err != nil {
		t.Fatalf("SendAmNonBlocking failed: %v", err)
	}
	waitRequest(t, rndv, p.w1, p.w2)
	if eager.Err() != nil {
		t.Fatalf("eager send failed: %v", eager.Err())
	}
	var st transport.Status
	if !errors.Is(rndv.Err(), ErrTransport) || !errors.As(rndv.Err(), &st) || st != transport.StatusUnsupported {
		t.Fatalf("expected unsupported failure, got %v", rndv.Err())
	}
}

func TestAmCanceledSendIsNotReceived(t *testing.T) {
	p := setupPeers(t, amParams, WithRendezvousThreshold(0))
	var desc *AmData
	if err := p.w2.SetAmRecvHandler(1, func(_ []byte, d *AmData) { desc = d }); err != nil {
		t.Fatalf("SetAmRecvHandler failed: %v", err)
	}
	send, err := p.ep.SendAmNonBlocking(1, nil, []byte("withdrawn"), nil)
	if err != nil {
		t.Fatalf("SendAmNonBlocking failed: %v", err)
	}
	progressUntil(t, func() bool { return desc != nil }, p.w2)
	if err := p.ep.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	waitRequest(t, send, p.w1)

	buf := make([]byte, 16)
	recv, err := desc.Receive(buf, nil)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	waitRequest(t, recv, p.w2)
	if !errors.Is(recv.Err(), ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", recv.Err())
	}
	if string(buf) != string(make([]byte, 16)) {
		t.Fatalf("canceled payload was copied: %q", buf)
	}
}

func TestAmRequiresFeature(t *testing.T) {
	p := setupPeers(t, tagParams)
	if err := p.w2.SetAmRecvHandler(1, func([]byte, *AmData) {}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if _, err := p.ep.SendAmNonBlocking(1, nil, nil, nil); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestWorkerCloseReleasesAmData(t *testing.T) {
	p := setupPeers(t, amParams, WithRendezvousThreshold(0))
	var desc *AmData
	if err := p.w2.SetAmRecvHandler(1, func(_ []byte, d *AmData) { desc = d }); err != nil {
		t.Fatalf("SetAmRecvHandler failed: %v", err)
	}
	send, err := p.ep.SendAmNonBlocking(1, nil, []byte("held"), nil)
	if err != nil {
		t.Fatalf("SendAmNonBlocking failed: %v", err)
	}
	progressUntil(t, func() bool { return desc != nil }, p.w2)
	if err := p.w2.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	waitRequest(t, send, p.w1)
	var st transport.Status
	if !errors.As(send.Err(), &st) || st != transport.StatusConnReset {
		t.Fatalf("expected connection reset, got %v", send.Err())
	}
	if _, err := desc.Receive(make([]byte, 8), nil); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState after worker close, got %v", err)
	}
}
