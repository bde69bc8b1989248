package transport

import "sync"

// Iface is a worker's attachment point to the fabric.
type Iface struct {
	fabric *Fabric
	id     uint64
	name   string
	notify func(Class)

	mu     sync.Mutex
	inbox  []Packet
	closed bool
}

// ID returns the interface identifier.
func (i *Iface) ID() uint64 {
	return i.id
}

// Fabric returns the fabric the interface belongs to.
func (i *Iface) Fabric() *Fabric {
	return i.fabric
}

// Address describes how peers reach this interface.
func (i *Iface) Address() Address {
	return Address{
		Version:   addressVersion,
		Fabric:    i.fabric.id,
		Iface:     i.id,
		Name:      i.name,
		Transport: TransportName,
		Device:    DeviceName,
	}
}

// Send queues pkt on the interface identified by dst. It fails with
// StatusUnreachable when the destination is unknown or closed.
func (i *Iface) Send(dst uint64, pkt Packet) error {
	peer := i.fabric.iface(dst)
	if peer == nil {
		return StatusUnreachable
	}
	pkt.Src = i.id
	if !peer.enqueue(pkt) {
		return StatusUnreachable
	}
	return nil
}

func (i *Iface) enqueue(pkt Packet) bool {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return false
	}
	i.inbox = append(i.inbox, pkt)
	i.mu.Unlock()
	if i.notify != nil {
		i.notify(pkt.Kind.Class())
	}
	return true
}

// Drain moves every queued packet into buf and returns it.
func (i *Iface) Drain(buf []Packet) []Packet {
	i.mu.Lock()
	buf = append(buf, i.inbox...)
	for idx := range i.inbox {
		i.inbox[idx] = Packet{}
	}
	i.inbox = i.inbox[:0]
	i.mu.Unlock()
	return buf
}

// Pending reports whether packets are waiting to be drained.
func (i *Iface) Pending() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.inbox) > 0
}

// Reject answers a request packet that will never be served so that the
// sender does not wait forever.
func (i *Iface) Reject(pkt Packet, status Status) {
	if !pkt.Kind.ExpectsReply() {
		return
	}
	_ = i.Send(pkt.Src, pkt.ReplyTo(i.id, status))
}

// Close detaches the interface from the fabric. Queued requests are rejected
// with StatusConnReset.
func (i *Iface) Close() {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.closed = true
	pending := i.inbox
	i.inbox = nil
	i.mu.Unlock()

	i.fabric.removeIface(i.id)
	for _, pkt := range pending {
		i.Reject(pkt, StatusConnReset)
	}
}
