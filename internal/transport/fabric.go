// Package transport implements the in-process shared-memory fabric that
// backs workers and memory registration. Every interface is an inbox owned
// by a single worker; peers deposit packets into it and the owner drains it
// while progressing.
package transport

import (
	"sync"
	"sync/atomic"
)

const (
	// TransportName is reported in worker addresses.
	TransportName = "shm"
	// DeviceName is the pseudo device every interface lives on.
	DeviceName = "memory"
)

var fabricSeq atomic.Uint64

var defaultFabric = NewFabric()

// Default returns the process-wide fabric.
func Default() *Fabric {
	return defaultFabric
}

// Fabric routes packets between interfaces and resolves memory domains.
type Fabric struct {
	id      uint64
	mu      sync.RWMutex
	ifaces  map[uint64]*Iface
	domains map[uint64]*Domain
	nextID  atomic.Uint64
}

// NewFabric creates an isolated fabric. Addresses produced by one fabric are
// unreachable from interfaces of another.
func NewFabric() *Fabric {
	return &Fabric{
		id:      fabricSeq.Add(1),
		ifaces:  make(map[uint64]*Iface),
		domains: make(map[uint64]*Domain),
	}
}

// ID returns the fabric identifier embedded in addresses and keys.
func (f *Fabric) ID() uint64 {
	return f.id
}

// OpenIface registers a new interface. notify is invoked after each packet
// is queued, outside of any fabric lock.
func (f *Fabric) OpenIface(name string, notify func(Class)) *Iface {
	i := &Iface{
		fabric: f,
		id:     f.nextID.Add(1),
		name:   name,
		notify: notify,
	}
	f.mu.Lock()
	f.ifaces[i.id] = i
	f.mu.Unlock()
	return i
}

// OpenDomain registers a new memory domain.
func (f *Fabric) OpenDomain() *Domain {
	d := &Domain{
		fabric:   f,
		id:       f.nextID.Add(1),
		regions:  make(map[uint64]*Region),
		nextBase: domainBase,
	}
	f.mu.Lock()
	f.domains[d.id] = d
	f.mu.Unlock()
	return d
}

func (f *Fabric) iface(id uint64) *Iface {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.ifaces[id]
}

func (f *Fabric) removeIface(id uint64) {
	f.mu.Lock()
	delete(f.ifaces, id)
	f.mu.Unlock()
}

func (f *Fabric) removeDomain(id uint64) {
	f.mu.Lock()
	delete(f.domains, id)
	f.mu.Unlock()
}

// Reachable reports whether addr names a live interface on this fabric.
func (f *Fabric) Reachable(addr Address) bool {
	if addr.Fabric != f.id {
		return false
	}
	return f.iface(addr.Iface) != nil
}
