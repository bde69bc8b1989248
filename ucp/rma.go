package ucp

import (
	"fmt"

	"github.com/rocketbitz/ucx-go/internal/transport"
)

// RemoteKey grants an endpoint access to a peer's registered region.
type RemoteKey struct {
	ep   *Endpoint
	desc transport.KeyDesc

	// guarded by the worker lock
	released bool
}

// UnpackRemoteKey decodes a blob produced by MemoryRegion.RemoteKeyBuffer on
// the peer. The key is only valid on this endpoint.
func (e *Endpoint) UnpackRemoteKey(blob []byte) (*RemoteKey, error) {
	if e == nil {
		return nil, ErrInvalidHandle{"endpoint"}
	}
	w := e.worker
	w.lock()
	defer w.unlock()
	if err := e.usable(); err != nil {
		return nil, err
	}
	desc, err := transport.UnpackKey(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	k := &RemoteKey{ep: e, desc: desc}
	e.rkeys[k] = struct{}{}
	return k, nil
}

// Address returns the base address of the remote region.
func (k *RemoteKey) Address() uint64 {
	return k.desc.Base
}

// Length returns the length of the remote region.
func (k *RemoteKey) Length() int {
	return int(k.desc.Length)
}

// Close releases the key. Operations issued afterwards with it fail with
// ErrUnsupported.
func (k *RemoteKey) Close() error {
	if k == nil || k.ep == nil {
		return ErrInvalidHandle{"remote key"}
	}
	w := k.ep.worker
	w.lock()
	defer w.unlock()
	if k.released {
		return ErrInvalidHandle{"remote key"}
	}
	k.released = true
	delete(k.ep.rkeys, k)
	return nil
}

// GetNonBlocking reads len(dst) bytes at remoteAddr of the peer region
// described by key into dst.
func (e *Endpoint) GetNonBlocking(remoteAddr uint64, key *RemoteKey, dst []byte, cb Callback) (*Request, error) {
	if e == nil {
		return nil, ErrInvalidHandle{"endpoint"}
	}
	w := e.worker
	w.lock()
	defer w.unlock()
	if err := e.usable(); err != nil {
		return nil, err
	}
	if err := e.requireFeature("get", FeatureRMA); err != nil {
		return nil, err
	}
	if err := e.checkKey("get", key, remoteAddr, len(dst)); err != nil {
		return nil, err
	}
	req := w.newRequest(OpGet, e, cb)
	req.token = transport.NewToken()
	desc := key.desc
	req.post = func() error {
		return e.send(OpGet, transport.Packet{
			Kind:   transport.KindGetReq,
			ReqID:  req.id,
			Key:    desc,
			Addr:   remoteAddr,
			Dst:    dst,
			Length: len(dst),
			Token:  req.token,
		})
	}
	w.submit(req)
	return req, nil
}

// PutNonBlocking writes src to remoteAddr of the peer region described by
// key. src must not be modified until the request completes.
func (e *Endpoint) PutNonBlocking(src []byte, remoteAddr uint64, key *RemoteKey, cb Callback) (*Request, error) {
	if e == nil {
		return nil, ErrInvalidHandle{"endpoint"}
	}
	w := e.worker
	w.lock()
	defer w.unlock()
	if err := e.usable(); err != nil {
		return nil, err
	}
	if err := e.requireFeature("put", FeatureRMA); err != nil {
		return nil, err
	}
	if err := e.checkKey("put", key, remoteAddr, len(src)); err != nil {
		return nil, err
	}
	req := w.newRequest(OpPut, e, cb)
	req.token = transport.NewToken()
	desc := key.desc
	req.post = func() error {
		return e.send(OpPut, transport.Packet{
			Kind:   transport.KindPutReq,
			ReqID:  req.id,
			Key:    desc,
			Addr:   remoteAddr,
			Data:   src,
			Length: len(src),
			Token:  req.token,
		})
	}
	w.submit(req)
	return req, nil
}
