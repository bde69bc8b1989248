package transport

import (
	"encoding/binary"
	"sync"
)

const (
	domainBase  uint64 = 0x7f0000000000
	regionAlign uint64 = 4096
)

// Access describes what peers may do with a registered region.
type Access uint32

const (
	AccessLocal Access = 1 << iota
	AccessRemoteRead
	AccessRemoteWrite
	AccessRemoteAtomic

	AccessAll = AccessLocal | AccessRemoteRead | AccessRemoteWrite | AccessRemoteAtomic
)

// Domain is a memory domain. Regions registered with a domain are addressed
// by a virtual base address unique within the domain.
type Domain struct {
	fabric *Fabric
	id     uint64

	mu       sync.RWMutex
	regions  map[uint64]*Region
	nextBase uint64
	closed   bool
}

// ID returns the domain identifier.
func (d *Domain) ID() uint64 {
	return d.id
}

// Register pins buf into the domain.
func (d *Domain) Register(buf []byte, access Access) (*Region, error) {
	if len(buf) == 0 {
		return nil, StatusInvalidParam.WithOp("register")
	}
	if access == 0 {
		access = AccessAll
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, StatusClosed.WithOp("register")
	}
	r := &Region{
		domain: d,
		id:     d.fabric.nextID.Add(1),
		base:   d.nextBase,
		length: uint64(len(buf)),
		buf:    buf,
		access: access,
	}
	span := (uint64(len(buf)) + regionAlign - 1) &^ (regionAlign - 1)
	d.nextBase += span + regionAlign
	d.regions[r.id] = r
	return r, nil
}

// Deregister removes r from the domain. Later remote accesses fail with
// StatusNoElem.
func (d *Domain) Deregister(r *Region) error {
	if r == nil || r.domain != d {
		return StatusInvalidParam.WithOp("deregister")
	}
	d.mu.Lock()
	_, ok := d.regions[r.id]
	delete(d.regions, r.id)
	d.mu.Unlock()
	if !ok {
		return StatusNoElem.WithOp("deregister")
	}
	r.mu.Lock()
	r.released = true
	r.buf = nil
	r.mu.Unlock()
	return nil
}

// Lookup resolves a key against the domain.
func (d *Domain) Lookup(key KeyDesc) (*Region, Status) {
	if key.Fabric != d.fabric.id || key.Domain != d.id {
		return nil, StatusInvalidKey
	}
	d.mu.RLock()
	r := d.regions[key.Region]
	d.mu.RUnlock()
	if r == nil {
		return nil, StatusNoElem
	}
	return r, StatusOK
}

// Close deregisters every region and detaches the domain from the fabric.
func (d *Domain) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	regions := d.regions
	d.regions = make(map[uint64]*Region)
	d.mu.Unlock()

	for _, r := range regions {
		r.mu.Lock()
		r.released = true
		r.buf = nil
		r.mu.Unlock()
	}
	d.fabric.removeDomain(d.id)
}

// Region is a registered buffer.
type Region struct {
	domain *Domain
	id     uint64
	base   uint64
	length uint64
	access Access

	mu       sync.Mutex
	buf      []byte
	released bool
}

// Base returns the virtual base address of the region.
func (r *Region) Base() uint64 {
	return r.base
}

// Len returns the registered length in bytes.
func (r *Region) Len() int {
	return int(r.length)
}

// ID returns the region identifier.
func (r *Region) ID() uint64 {
	return r.id
}

// Key describes the region for remote access.
func (r *Region) Key() KeyDesc {
	return KeyDesc{
		Magic:  keyMagic,
		Fabric: r.domain.fabric.id,
		Domain: r.domain.id,
		Region: r.id,
		Base:   r.base,
		Length: r.length,
		Access: r.access,
	}
}

func (r *Region) window(addr uint64, n int, need Access) ([]byte, Status) {
	if r.released {
		return nil, StatusNoElem
	}
	if r.access&need == 0 {
		return nil, StatusAccess
	}
	if addr < r.base || n < 0 {
		return nil, StatusOutOfRange
	}
	off := addr - r.base
	if off+uint64(n) > uint64(len(r.buf)) {
		return nil, StatusOutOfRange
	}
	return r.buf[off : off+uint64(n)], StatusOK
}

// ReadAt copies len(dst) bytes starting at the virtual address addr.
func (r *Region) ReadAt(dst []byte, addr uint64) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	src, st := r.window(addr, len(dst), AccessRemoteRead)
	if st != StatusOK {
		return st
	}
	copy(dst, src)
	return StatusOK
}

// WriteAt copies src into the region starting at the virtual address addr.
func (r *Region) WriteAt(src []byte, addr uint64) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	dst, st := r.window(addr, len(src), AccessRemoteWrite)
	if st != StatusOK {
		return st
	}
	copy(dst, src)
	return StatusOK
}

// Atomic applies op to the little-endian word of the given size at addr and
// returns the previous value.
func (r *Region) Atomic(op AtomicOp, size int, addr, operand, compare uint64) (uint64, Status) {
	if size != 4 && size != 8 {
		return 0, StatusInvalidParam
	}
	if addr%uint64(size) != 0 {
		return 0, StatusInvalidParam
	}
	if size == 4 {
		operand &= 0xffffffff
		compare &= 0xffffffff
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	word, st := r.window(addr, size, AccessRemoteAtomic)
	if st != StatusOK {
		return 0, st
	}

	var old uint64
	if size == 4 {
		old = uint64(binary.LittleEndian.Uint32(word))
	} else {
		old = binary.LittleEndian.Uint64(word)
	}

	next, st := applyAtomic(op, old, operand, compare)
	if st != StatusOK {
		return 0, st
	}
	if size == 4 {
		binary.LittleEndian.PutUint32(word, uint32(next))
	} else {
		binary.LittleEndian.PutUint64(word, next)
	}
	return old, StatusOK
}

func applyAtomic(op AtomicOp, old, operand, compare uint64) (uint64, Status) {
	switch op {
	case AtomicAdd:
		return old + operand, StatusOK
	case AtomicAnd:
		return old & operand, StatusOK
	case AtomicOr:
		return old | operand, StatusOK
	case AtomicXor:
		return old ^ operand, StatusOK
	case AtomicSwap:
		return operand, StatusOK
	case AtomicCSwap:
		if old == compare {
			return operand, StatusOK
		}
		return old, StatusOK
	default:
		return 0, StatusUnsupported
	}
}
