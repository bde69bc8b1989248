package ucp

import (
	"fmt"

	"github.com/rocketbitz/ucx-go/internal/transport"
)

// AtomicOp selects the operation applied to the remote word.
type AtomicOp = transport.AtomicOp

const (
	AtomicAdd   = transport.AtomicAdd
	AtomicAnd   = transport.AtomicAnd
	AtomicOr    = transport.AtomicOr
	AtomicXor   = transport.AtomicXor
	AtomicSwap  = transport.AtomicSwap
	AtomicCSwap = transport.AtomicCSwap
)

// AtomicRequest describes a remote atomic operation. Size is 4 or 8 bytes
// and RemoteAddr must be aligned to it. Compare is only used by AtomicCSwap.
// The previous remote value is available from Request.AtomicResult.
type AtomicRequest struct {
	Op         AtomicOp
	Size       int
	RemoteAddr uint64
	Key        *RemoteKey
	Operand    uint64
	Compare    uint64
}

func atomicFeature(size int) Feature {
	switch size {
	case 4:
		return FeatureAMO32
	case 8:
		return FeatureAMO64
	default:
		return FeatureAMO32 | FeatureAMO64
	}
}

// AtomicNonBlocking applies ar to the peer region.
func (e *Endpoint) AtomicNonBlocking(ar *AtomicRequest, cb Callback) (*Request, error) {
	if e == nil {
		return nil, ErrInvalidHandle{"endpoint"}
	}
	if ar == nil {
		return nil, fmt.Errorf("%w: nil atomic request", ErrInvalidArgument)
	}
	w := e.worker
	w.lock()
	defer w.unlock()
	if err := e.usable(); err != nil {
		return nil, err
	}
	f := atomicFeature(ar.Size)
	if w.ctx.features&f == 0 {
		return nil, unsupported("atomic", f)
	}
	if err := e.checkKey("atomic", ar.Key, ar.RemoteAddr, ar.Size); err != nil {
		return nil, err
	}
	if ar.Size != 4 && ar.Size != 8 {
		return nil, fmt.Errorf("%w: atomic size %d", ErrInvalidArgument, ar.Size)
	}
	if ar.Op < AtomicAdd || ar.Op > AtomicCSwap {
		return nil, fmt.Errorf("%w: atomic op %d", ErrInvalidArgument, ar.Op)
	}
	if ar.RemoteAddr%uint64(ar.Size) != 0 {
		return nil, fmt.Errorf("%w: address %#x not aligned to %d", ErrInvalidArgument, ar.RemoteAddr, ar.Size)
	}

	req := w.newRequest(OpAtomic, e, cb)
	req.token = transport.NewToken()
	pkt := transport.Packet{
		Kind:    transport.KindAtomicReq,
		ReqID:   req.id,
		Key:     ar.Key.desc,
		Addr:    ar.RemoteAddr,
		Op:      ar.Op,
		Size:    ar.Size,
		Operand: ar.Operand,
		Compare: ar.Compare,
		Token:   req.token,
	}
	req.post = func() error {
		return e.send(OpAtomic, pkt)
	}
	w.submit(req)
	return req, nil
}
