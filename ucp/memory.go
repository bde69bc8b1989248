package ucp

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/rocketbitz/ucx-go/internal/transport"
)

// MemAccess restricts what peers may do with a registered region.
type MemAccess = transport.Access

const (
	MemAccessLocal        = transport.AccessLocal
	MemAccessRemoteRead   = transport.AccessRemoteRead
	MemAccessRemoteWrite  = transport.AccessRemoteWrite
	MemAccessRemoteAtomic = transport.AccessRemoteAtomic
	MemAccessAll          = transport.AccessAll
)

// MemOptions tunes a registration.
type MemOptions struct {
	// Access defaults to MemAccessAll.
	Access MemAccess
}

// MemoryRegion is a buffer registered with a context's memory domain.
type MemoryRegion struct {
	ctx      *Context
	region   *transport.Region
	buf      []byte
	keyBlob  []byte
	access   MemAccess
	released atomic.Bool
}

// RegisterMemory registers buf for remote access by peers. The buffer must
// stay alive and unmoved until the region is deregistered.
func (c *Context) RegisterMemory(buf []byte) (*MemoryRegion, error) {
	return c.RegisterMemoryWithOptions(buf, nil)
}

// RegisterMemoryWithOptions is RegisterMemory with explicit access flags.
func (c *Context) RegisterMemoryWithOptions(buf []byte, opts *MemOptions) (*MemoryRegion, error) {
	if err := c.open(); err != nil {
		return nil, err
	}
	if c.domain == nil {
		return nil, unsupported("memory registration", FeatureRMA)
	}
	if len(buf) == 0 {
		return nil, fmt.Errorf("%w: empty buffer", ErrInvalidArgument)
	}
	access := MemAccessAll
	if opts != nil && opts.Access != 0 {
		access = opts.Access
	}
	region, err := c.domain.Register(buf, access)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	blob, err := transport.PackKey(region.Key())
	if err != nil {
		_ = c.domain.Deregister(region)
		return nil, err
	}
	m := &MemoryRegion{
		ctx:     c,
		region:  region,
		buf:     buf,
		keyBlob: blob,
		access:  access,
	}

	c.mu.Lock()
	if c.handle.Load() == 0 {
		c.mu.Unlock()
		_ = c.domain.Deregister(region)
		return nil, ErrInvalidHandle{"context"}
	}
	c.regions[m] = struct{}{}
	c.mu.Unlock()
	c.log.Debug("memory registered",
		zap.Uint64("address", region.Base()),
		zap.Int("length", len(buf)),
	)
	return m, nil
}

// Address returns the base address peers use in remote operations.
func (m *MemoryRegion) Address() uint64 {
	if m == nil {
		return 0
	}
	return m.region.Base()
}

// Length returns the registered length in bytes.
func (m *MemoryRegion) Length() int {
	if m == nil {
		return 0
	}
	return len(m.buf)
}

// Bytes returns the registered buffer.
func (m *MemoryRegion) Bytes() []byte {
	if m == nil {
		return nil
	}
	return m.buf
}

// Access reports the access flags of the registration.
func (m *MemoryRegion) Access() MemAccess {
	return m.access
}

// RemoteKeyBuffer returns the packed key to hand to peers.
func (m *MemoryRegion) RemoteKeyBuffer() ([]byte, error) {
	if m == nil || m.released.Load() {
		return nil, ErrInvalidHandle{"memory region"}
	}
	return append([]byte(nil), m.keyBlob...), nil
}

// Deregister releases the registration. Remote operations that target the
// region afterwards fail instead of touching the buffer.
func (m *MemoryRegion) Deregister() error {
	if m == nil {
		return ErrInvalidHandle{"memory region"}
	}
	c := m.ctx
	c.mu.Lock()
	if m.released.Load() {
		c.mu.Unlock()
		return ErrInvalidHandle{"memory region"}
	}
	m.released.Store(true)
	delete(c.regions, m)
	c.mu.Unlock()

	if err := c.domain.Deregister(m.region); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	return nil
}
