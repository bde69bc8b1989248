package ucp

import "runtime"

// Params describes the features and tuning hints of a Context.
type Params struct {
	features      Feature
	name          string
	estimatedEPs  int
	tagSenderMask uint64
}

// NewParams returns an empty parameter set. At least one feature must be
// requested before it is passed to NewContext.
func NewParams() *Params {
	return &Params{}
}

// RequestTagFeature enables tagged messaging.
func (p *Params) RequestTagFeature() *Params {
	p.features |= FeatureTag
	return p
}

// RequestRMAFeature enables remote memory access.
func (p *Params) RequestRMAFeature() *Params {
	p.features |= FeatureRMA
	return p
}

// RequestAtomic32BitFeature enables 32-bit remote atomics.
func (p *Params) RequestAtomic32BitFeature() *Params {
	p.features |= FeatureAMO32
	return p
}

// RequestAtomic64BitFeature enables 64-bit remote atomics.
func (p *Params) RequestAtomic64BitFeature() *Params {
	p.features |= FeatureAMO64
	return p
}

// RequestWakeupFeature enables WaitForEvents, Arm and Signal on workers.
func (p *Params) RequestWakeupFeature() *Params {
	p.features |= FeatureWakeup
	return p
}

// RequestAMFeature enables active messages.
func (p *Params) RequestAMFeature() *Params {
	p.features |= FeatureAM
	return p
}

// SetFeatures replaces the feature bitmask. Unknown bits are rejected by
// NewContext.
func (p *Params) SetFeatures(f Feature) *Params {
	p.features = f
	return p
}

// SetName sets a name used in logs.
func (p *Params) SetName(name string) *Params {
	p.name = name
	return p
}

// SetEstimatedNumEndpoints hints how many endpoints each worker will open.
// Workers pre-size their endpoint tables from it; it is not a limit.
func (p *Params) SetEstimatedNumEndpoints(n int) *Params {
	p.estimatedEPs = n
	return p
}

// SetTagSenderMask selects the tag bits that identify the sender. Matched
// receives report those bits as TagRecvInfo.SenderID.
func (p *Params) SetTagSenderMask(mask uint64) *Params {
	p.tagSenderMask = mask
	return p
}

// Features returns the requested features.
func (p *Params) Features() Feature {
	if p == nil {
		return 0
	}
	return p.features
}

func (p *Params) validate() error {
	if p == nil || p.features == 0 {
		return configErr("no features requested")
	}
	if p.features&^featureMask != 0 {
		return configErr("unknown feature bits %#x", uint64(p.features&^featureMask))
	}
	if p.estimatedEPs < 0 {
		return configErr("negative estimated endpoint count")
	}
	return nil
}

// CompletionInfo describes a request that reached a terminal state.
type CompletionInfo struct {
	Op       OpKind
	Endpoint string
	Err      error
}

// WorkerParams tunes a Worker.
type WorkerParams struct {
	mode       ThreadMode
	cpu        int
	cpuSet     bool
	events     WakeupEvent
	userData   []byte
	name       string
	onComplete func(CompletionInfo)
}

// NewWorkerParams returns default worker parameters: single thread mode, no
// CPU hint, wakeup on every event class.
func NewWorkerParams() *WorkerParams {
	return &WorkerParams{}
}

// SetThreadMode selects the locking discipline.
func (p *WorkerParams) SetThreadMode(mode ThreadMode) *WorkerParams {
	p.mode = mode
	return p
}

// RequestThreadSafety is shorthand for SetThreadMode(ThreadMulti).
func (p *WorkerParams) RequestThreadSafety() *WorkerParams {
	return p.SetThreadMode(ThreadMulti)
}

// SetCPU records a CPU affinity hint for the worker's resources.
func (p *WorkerParams) SetCPU(cpu int) *WorkerParams {
	p.cpu = cpu
	p.cpuSet = true
	return p
}

func (p *WorkerParams) wakeup(e WakeupEvent) *WorkerParams {
	p.events |= e
	return p
}

// RequestWakeupRX wakes on completion of any receive.
func (p *WorkerParams) RequestWakeupRX() *WorkerParams { return p.wakeup(WakeupRX) }

// RequestWakeupTX wakes on completion of any outgoing operation.
func (p *WorkerParams) RequestWakeupTX() *WorkerParams { return p.wakeup(WakeupTX) }

// RequestWakeupRMA wakes on remote memory access traffic.
func (p *WorkerParams) RequestWakeupRMA() *WorkerParams { return p.wakeup(WakeupRMA) }

// RequestWakeupAMO wakes on atomic traffic.
func (p *WorkerParams) RequestWakeupAMO() *WorkerParams { return p.wakeup(WakeupAMO) }

// RequestWakeupTagSend wakes on tag send completion.
func (p *WorkerParams) RequestWakeupTagSend() *WorkerParams { return p.wakeup(WakeupTagSend) }

// RequestWakeupTagRecv wakes on tag receive.
func (p *WorkerParams) RequestWakeupTagRecv() *WorkerParams { return p.wakeup(WakeupTagRecv) }

// RequestWakeupEdge selects edge-triggered wakeup.
func (p *WorkerParams) RequestWakeupEdge() *WorkerParams { return p.wakeup(WakeupEdge) }

// SetUserData attaches an opaque byte string. The bytes are copied.
func (p *WorkerParams) SetUserData(data []byte) *WorkerParams {
	p.userData = append([]byte(nil), data...)
	return p
}

// SetName sets a name used in addresses and logs.
func (p *WorkerParams) SetName(name string) *WorkerParams {
	p.name = name
	return p
}

// SetCompletionObserver installs fn to be called after every request
// callback on the worker.
func (p *WorkerParams) SetCompletionObserver(fn func(CompletionInfo)) *WorkerParams {
	p.onComplete = fn
	return p
}

// CompletionObserver returns the observer installed with
// SetCompletionObserver, or nil.
func (p *WorkerParams) CompletionObserver() func(CompletionInfo) {
	return p.onComplete
}

// Clone returns an independent copy of p.
func (p *WorkerParams) Clone() *WorkerParams {
	c := *p
	c.userData = append([]byte(nil), p.userData...)
	return &c
}

// ThreadMode returns the requested thread mode.
func (p *WorkerParams) ThreadMode() ThreadMode {
	return p.mode
}

// WakeupEvents returns the subscribed event classes.
func (p *WorkerParams) WakeupEvents() WakeupEvent {
	return p.events
}

func (p *WorkerParams) validate() error {
	if p.mode != ThreadSingle && p.mode != ThreadMulti {
		return configErr("unknown thread mode %d", p.mode)
	}
	if p.cpuSet && (p.cpu < 0 || p.cpu >= runtime.NumCPU()) {
		return configErr("cpu %d outside [0,%d)", p.cpu, runtime.NumCPU())
	}
	return nil
}

// EndpointParams describes the peer of an Endpoint.
type EndpointParams struct {
	peer    []byte
	mode    ErrHandlingMode
	onError func(*Endpoint, error)
	name    string
}

// NewEndpointParams returns empty endpoint parameters.
func NewEndpointParams() *EndpointParams {
	return &EndpointParams{}
}

// SetPeerAddress sets the peer worker address obtained from Worker.Address.
func (p *EndpointParams) SetPeerAddress(addr []byte) *EndpointParams {
	p.peer = append([]byte(nil), addr...)
	return p
}

// SetPeerErrorHandlingMode requests that peer failures be reported to the
// error handler instead of only being logged.
func (p *EndpointParams) SetPeerErrorHandlingMode() *EndpointParams {
	p.mode = ErrHandlingPeer
	return p
}

// SetErrorHandler installs the handler invoked once when the endpoint fails.
// It requires peer error handling mode.
func (p *EndpointParams) SetErrorHandler(fn func(*Endpoint, error)) *EndpointParams {
	p.onError = fn
	return p
}

// SetName sets a name used in logs.
func (p *EndpointParams) SetName(name string) *EndpointParams {
	p.name = name
	return p
}

func (p *EndpointParams) validate() error {
	if p == nil || len(p.peer) == 0 {
		return configErr("endpoint requires a peer address")
	}
	if p.onError != nil && p.mode != ErrHandlingPeer {
		return configErr("error handler requires peer error handling mode")
	}
	return nil
}
