package transport

import (
	"encoding/binary"
	"testing"
)

func TestDomainReadWrite(t *testing.T) {
	d := NewFabric().OpenDomain()
	buf := []byte("0123456789")
	r, err := d.Register(buf, AccessAll)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if r.Base() == 0 || r.Len() != len(buf) {
		t.Fatalf("unexpected region geometry base=%#x len=%d", r.Base(), r.Len())
	}

	dst := make([]byte, 4)
	if st := r.ReadAt(dst, r.Base()+2); st != StatusOK {
		t.Fatalf("ReadAt failed: %v", st)
	}
	if string(dst) != "2345" {
		t.Fatalf("unexpected read %q", dst)
	}
	if st := r.WriteAt([]byte("ab"), r.Base()+8); st != StatusOK {
		t.Fatalf("WriteAt failed: %v", st)
	}
	if string(buf) != "01234567ab" {
		t.Fatalf("write not visible in registered buffer: %q", buf)
	}
	if st := r.ReadAt(dst, r.Base()+8); st != StatusOutOfRange {
		t.Fatalf("expected StatusOutOfRange, got %v", st)
	}
	if st := r.ReadAt(dst, r.Base()-1); st != StatusOutOfRange {
		t.Fatalf("expected StatusOutOfRange below base, got %v", st)
	}
}

func TestDomainRegionsDoNotOverlap(t *testing.T) {
	d := NewFabric().OpenDomain()
	r1, _ := d.Register(make([]byte, 5000), AccessAll)
	r2, _ := d.Register(make([]byte, 16), AccessAll)
	if r2.Base() < r1.Base()+uint64(r1.Len()) {
		t.Fatalf("regions overlap: %#x+%d and %#x", r1.Base(), r1.Len(), r2.Base())
	}
}

func TestDomainAccessFlags(t *testing.T) {
	d := NewFabric().OpenDomain()
	r, err := d.Register(make([]byte, 8), AccessLocal|AccessRemoteRead)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if st := r.WriteAt([]byte{1}, r.Base()); st != StatusAccess {
		t.Fatalf("expected StatusAccess for write, got %v", st)
	}
	if _, st := r.Atomic(AtomicAdd, 8, r.Base(), 1, 0); st != StatusAccess {
		t.Fatalf("expected StatusAccess for atomic, got %v", st)
	}
}

func TestDomainLookupAfterDeregister(t *testing.T) {
	d := NewFabric().OpenDomain()
	r, _ := d.Register(make([]byte, 8), AccessAll)
	key := r.Key()

	if got, st := d.Lookup(key); st != StatusOK || got != r {
		t.Fatalf("Lookup failed: %v", st)
	}
	if err := d.Deregister(r); err != nil {
		t.Fatalf("Deregister failed: %v", err)
	}
	if _, st := d.Lookup(key); st != StatusNoElem {
		t.Fatalf("expected StatusNoElem, got %v", st)
	}
	if err := d.Deregister(r); err == nil {
		t.Fatalf("expected error on double deregister")
	}
	if st := r.ReadAt(make([]byte, 1), r.Base()); st != StatusNoElem {
		t.Fatalf("expected StatusNoElem reading released region, got %v", st)
	}

	other := NewFabric().OpenDomain()
	if _, st := other.Lookup(key); st != StatusInvalidKey {
		t.Fatalf("expected StatusInvalidKey for foreign key, got %v", st)
	}
}

func TestRegionAtomic(t *testing.T) {
	d := NewFabric().OpenDomain()
	buf := make([]byte, 16)
	r, _ := d.Register(buf, AccessAll)

	binary.LittleEndian.PutUint64(buf, 10)
	cases := []struct {
		op      AtomicOp
		operand uint64
		compare uint64
		old     uint64
		next    uint64
	}{
		{AtomicAdd, 5, 0, 10, 15},
		{AtomicAnd, 0b1100, 0, 15, 12},
		{AtomicOr, 0b0011, 0, 12, 15},
		{AtomicXor, 0b0101, 0, 15, 10},
		{AtomicSwap, 99, 0, 10, 99},
		{AtomicCSwap, 7, 1, 99, 99},
		{AtomicCSwap, 7, 99, 99, 7},
	}
	for _, tc := range cases {
		old, st := r.Atomic(tc.op, 8, r.Base(), tc.operand, tc.compare)
		if st != StatusOK {
			t.Fatalf("op %d failed: %v", tc.op, st)
		}
		if old != tc.old {
			t.Fatalf("op %d: expected old %d, got %d", tc.op, tc.old, old)
		}
		if got := binary.LittleEndian.Uint64(buf); got != tc.next {
			t.Fatalf("op %d: expected value %d, got %d", tc.op, tc.next, got)
		}
	}

	binary.LittleEndian.PutUint32(buf[8:], 0xffffffff)
	old, st := r.Atomic(AtomicAdd, 4, r.Base()+8, 1, 0)
	if st != StatusOK || old != 0xffffffff {
		t.Fatalf("32-bit add failed: old=%#x st=%v", old, st)
	}
	if got := binary.LittleEndian.Uint32(buf[8:]); got != 0 {
		t.Fatalf("32-bit add should wrap, got %#x", got)
	}
	if got := binary.LittleEndian.Uint32(buf[12:]); got != 0 {
		t.Fatalf("32-bit add touched neighbouring word: %#x", got)
	}

	if _, st := r.Atomic(AtomicAdd, 8, r.Base()+4, 1, 0); st != StatusInvalidParam {
		t.Fatalf("expected StatusInvalidParam for misaligned atomic, got %v", st)
	}
	if _, st := r.Atomic(AtomicAdd, 2, r.Base(), 1, 0); st != StatusInvalidParam {
		t.Fatalf("expected StatusInvalidParam for bad size, got %v", st)
	}
}
