package ucp

import (
	"encoding/binary"
	"errors"
	"testing"
)

func TestAtomicFetchAdd64(t *testing.T) {
	p := setupPeers(t, rmaParams)
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[8:], 40)
	mem, err := p.ctx2.RegisterMemory(buf)
	if err != nil {
		t.Fatalf("RegisterMemory failed: %v", err)
	}
	blob, _ := mem.RemoteKeyBuffer()
	rkey, _ := p.ep.UnpackRemoteKey(blob)

	req, err := p.ep.AtomicNonBlocking(&AtomicRequest{
		Op:         AtomicAdd,
		Size:       8,
		RemoteAddr: mem.Address() + 8,
		Key:        rkey,
		Operand:    2,
	}, nil)
	if err != nil {
		t.Fatalf("AtomicNonBlocking failed: %v", err)
	}
	waitRequest(t, req, p.w1, p.w2)
	if req.Err() != nil {
		t.Fatalf("atomic failed: %v", req.Err())
	}
	if req.AtomicResult() != 40 {
		t.Fatalf("expected previous value 40, got %d", req.AtomicResult())
	}
	if got := binary.LittleEndian.Uint64(buf[8:]); got != 42 {
		t.Fatalf("expected 42 in target, got %d", got)
	}
}

func TestAtomicCompareSwap32(t *testing.T) {
	p := setupPeers(t, rmaParams)
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf, 5)
	mem, _ := p.ctx2.RegisterMemory(buf)
	blob, _ := mem.RemoteKeyBuffer()
	rkey, _ := p.ep.UnpackRemoteKey(blob)

	run := func(compare, swap uint64) uint64 {
		req, err := p.ep.AtomicNonBlocking(&AtomicRequest{
			Op: AtomicCSwap, Size: 4, RemoteAddr: mem.Address(), Key: rkey,
			Operand: swap, Compare: compare,
		}, nil)
		if err != nil {
			t.Fatalf("AtomicNonBlocking failed: %v", err)
		}
		waitRequest(t, req, p.w1, p.w2)
		if req.Err() != nil {
			t.Fatalf("cswap failed: %v", req.Err())
		}
		return req.AtomicResult()
	}

	if old := run(4, 9); old != 5 || binary.LittleEndian.Uint32(buf) != 5 {
		t.Fatalf("cswap with wrong compare changed value: old=%d now=%d", old, binary.LittleEndian.Uint32(buf))
	}
	if old := run(5, 9); old != 5 || binary.LittleEndian.Uint32(buf) != 9 {
		t.Fatalf("cswap with matching compare: old=%d now=%d", old, binary.LittleEndian.Uint32(buf))
	}
}

func TestAtomicValidation(t *testing.T) {
	p := setupPeers(t, func() *Params { return NewParams().RequestRMAFeature().RequestAtomic64BitFeature() })
	mem, _ := p.ctx2.RegisterMemory(make([]byte, 16))
	blob, _ := mem.RemoteKeyBuffer()
	rkey, _ := p.ep.UnpackRemoteKey(blob)

	cases := []struct {
		name string
		ar   *AtomicRequest
		want error
	}{
		{"nil request", nil, ErrInvalidArgument},
		{"32-bit without feature", &AtomicRequest{Op: AtomicAdd, Size: 4, RemoteAddr: mem.Address(), Key: rkey}, ErrUnsupported},
		{"missing key", &AtomicRequest{Op: AtomicAdd, Size: 8, RemoteAddr: mem.Address()}, ErrUnsupported},
		{"bad size", &AtomicRequest{Op: AtomicAdd, Size: 2, RemoteAddr: mem.Address(), Key: rkey}, ErrInvalidArgument},
		{"bad op", &AtomicRequest{Op: 0, Size: 8, RemoteAddr: mem.Address(), Key: rkey}, ErrInvalidArgument},
		{"misaligned", &AtomicRequest{Op: AtomicAdd, Size: 8, RemoteAddr: mem.Address() + 4, Key: rkey}, ErrInvalidArgument},
	}
	for _, tc := range cases {
		if _, err := p.ep.AtomicNonBlocking(tc.ar, nil); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}
