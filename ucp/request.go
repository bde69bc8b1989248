package ucp

import (
	"sync/atomic"

	"github.com/rocketbitz/ucx-go/internal/transport"
)

// Callback is invoked exactly once, on the goroutine that progresses the
// worker, when a request completes or fails.
type Callback func(req *Request, err error)

// RequestStatus is the lifecycle state of a Request.
type RequestStatus int32

const (
	RequestPending RequestStatus = iota
	RequestCompleted
	RequestFailed
)

func (s RequestStatus) String() string {
	switch s {
	case RequestPending:
		return "pending"
	case RequestCompleted:
		return "completed"
	case RequestFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TagRecvInfo describes a matched tagged message.
type TagRecvInfo struct {
	SenderTag uint64
	// SenderID is SenderTag restricted to the context's tag sender mask.
	SenderID  uint64
	Length    int
}

// Request tracks one non-blocking operation.
type Request struct {
	id     uint64
	op     OpKind
	worker *Worker
	ep     *Endpoint
	cb     Callback
	done   chan struct{}
	state  atomic.Int32
	err    error

	userData atomic.Value

	// guarded by the worker lock
	retired bool
	started bool
	post    func() error
	then    func()
	token   *transport.Token

	buf    []byte
	tag    uint64
	mask   uint64
	info   TagRecvInfo
	result uint64
}

func (w *Worker) newRequest(op OpKind, ep *Endpoint, cb Callback) *Request {
	w.seq++
	return &Request{
		id:     w.seq,
		op:     op,
		worker: w,
		ep:     ep,
		cb:     cb,
		done:   make(chan struct{}),
	}
}

// Op reports which operation the request tracks.
func (r *Request) Op() OpKind {
	return r.op
}

// IsCompleted reports whether the request reached a terminal state.
func (r *Request) IsCompleted() bool {
	return RequestStatus(r.state.Load()) != RequestPending
}

// Status returns the lifecycle state.
func (r *Request) Status() RequestStatus {
	return RequestStatus(r.state.Load())
}

// Err returns the failure cause once the request has failed.
func (r *Request) Err() error {
	if !r.IsCompleted() {
		return nil
	}
	return r.err
}

// Done is closed after the callback of a terminal request has returned.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// RecvInfo describes the message of a completed tag or active message
// receive.
func (r *Request) RecvInfo() TagRecvInfo {
	if !r.IsCompleted() {
		return TagRecvInfo{}
	}
	return r.info
}

// AtomicResult returns the value the remote word held before an atomic
// operation was applied.
func (r *Request) AtomicResult() uint64 {
	if !r.IsCompleted() {
		return 0
	}
	return r.result
}

// UserData returns the value stored with SetUserData.
func (r *Request) UserData() any {
	v := r.userData.Load()
	if v == nil {
		return nil
	}
	return v.(userValue).v
}

// SetUserData attaches an arbitrary value to the request.
func (r *Request) SetUserData(v any) {
	r.userData.Store(userValue{v})
}

type userValue struct{ v any }

func (r *Request) finish(err error) {
	r.err = err
	if err != nil {
		r.state.Store(int32(RequestFailed))
	} else {
		r.state.Store(int32(RequestCompleted))
	}
	if r.cb != nil {
		r.cb(r, err)
	}
	close(r.done)
}

type completion struct {
	req *Request
	err error
	fn  func()
}
