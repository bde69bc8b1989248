package ucp

import (
	"testing"

	"github.com/rocketbitz/ucx-go/internal/transport"
)

func TestMemPoolAcquireRelease(t *testing.T) {
	ctx := mustContext(t, transport.NewFabric(), NewParams().RequestRMAFeature())
	t.Cleanup(func() { _ = ctx.Close() })

	pool, err := NewMemPool(ctx, 64, MemAccessAll, 2)
	if err != nil {
		t.Fatalf("NewMemPool failed: %v", err)
	}
	defer pool.Close()

	m1, err := pool.Acquire()
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if m1 == nil || m1.Length() != 64 {
		t.Fatalf("unexpected region from pool")
	}
	pool.Release(m1)

	m2, err := pool.Acquire()
	if err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	if m2 != m1 {
		t.Fatalf("expected pooled region to be reused")
	}
	pool.Release(m2)
}

func TestMemPoolClose(t *testing.T) {
	ctx := mustContext(t, transport.NewFabric(), NewParams().RequestRMAFeature())
	t.Cleanup(func() { _ = ctx.Close() })

	pool, err := NewMemPool(ctx, 32, MemAccessAll, 1)
	if err != nil {
		t.Fatalf("NewMemPool failed: %v", err)
	}
	m, err := pool.Acquire()
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	pool.Release(m)
	pool.Close()

	if _, err := m.RemoteKeyBuffer(); err == nil {
		t.Fatalf("expected pooled region to be deregistered on close")
	}
	if _, err := pool.Acquire(); err == nil {
		t.Fatalf("expected error acquiring from closed pool")
	}

	other, err := ctx.RegisterMemory(make([]byte, 16))
	if err != nil {
		t.Fatalf("RegisterMemory failed: %v", err)
	}
	pool.Release(other) // deregistered without panic
	if err := other.Deregister(); err == nil {
		t.Fatalf("expected region released by closed pool")
	}
}

func TestMemPoolRejectsBadSize(t *testing.T) {
	ctx := mustContext(t, transport.NewFabric(), NewParams().RequestRMAFeature())
	t.Cleanup(func() { _ = ctx.Close() })
	if _, err := NewMemPool(ctx, 0, MemAccessAll, 1); err == nil {
		t.Fatalf("expected error for zero-size pool")
	}
}
