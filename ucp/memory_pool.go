package ucp

import (
	"errors"
	"sync/atomic"
)

// MemPool manages reusable memory regions of a fixed size.
type MemPool struct {
	ctx    *Context
	size   int
	access MemAccess
	pool   chan *MemoryRegion
	closed atomic.Bool
}

// NewMemPool constructs a pool that dispenses regions registered with ctx.
// Regions are provisioned lazily; at most capacity idle regions are kept.
func NewMemPool(ctx *Context, size int, access MemAccess, capacity int) (*MemPool, error) {
	if err := ctx.open(); err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, errors.New("ucx: MemPool requires positive region size")
	}
	if capacity < 0 {
		capacity = 0
	}
	return &MemPool{
		ctx:    ctx,
		size:   size,
		access: access,
		pool:   make(chan *MemoryRegion, capacity),
	}, nil
}

// Acquire returns a registered region, registering a new one when no idle
// region is available. Callers must Release the region when finished.
func (p *MemPool) Acquire() (*MemoryRegion, error) {
	if p == nil {
		return nil, errors.New("ucx: nil MemPool")
	}
	if p.closed.Load() {
		return nil, errors.New("ucx: MemPool closed")
	}
	for {
		select {
		case m := <-p.pool:
			if m.released.Load() {
				continue
			}
			return m, nil
		default:
			return p.ctx.RegisterMemoryWithOptions(make([]byte, p.size), &MemOptions{Access: p.access})
		}
	}
}

// Release returns m to the pool. Regions of a different size, or released
// after the pool was closed, are deregistered.
func (p *MemPool) Release(m *MemoryRegion) {
	if p == nil || m == nil || m.released.Load() {
		return
	}
	if p.closed.Load() || m.Length() != p.size {
		_ = m.Deregister()
		return
	}
	select {
	case p.pool <- m:
	default:
		_ = m.Deregister()
	}
}

// Close deregisters all idle regions and prevents further acquisitions.
func (p *MemPool) Close() {
	if p == nil || !p.closed.CompareAndSwap(false, true) {
		return
	}
	for {
		select {
		case m := <-p.pool:
			_ = m.Deregister()
		default:
			return
		}
	}
}
