package ucp

import "strings"

// Feature is a capability requested when creating a Context.
type Feature uint64

const (
	FeatureTag Feature = 1 << iota
	FeatureRMA
	FeatureAMO32
	FeatureAMO64
	FeatureWakeup
	FeatureAM

	featureMask = FeatureTag | FeatureRMA | FeatureAMO32 | FeatureAMO64 | FeatureWakeup | FeatureAM
)

var featureNames = []struct {
	f    Feature
	name string
}{
	{FeatureTag, "tag"},
	{FeatureRMA, "rma"},
	{FeatureAMO32, "amo32"},
	{FeatureAMO64, "amo64"},
	{FeatureWakeup, "wakeup"},
	{FeatureAM, "am"},
}

// Has reports whether every bit of other is set in f.
func (f Feature) Has(other Feature) bool {
	return f&other == other
}

func (f Feature) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, fn := range featureNames {
		if f&fn.f != 0 {
			parts = append(parts, fn.name)
		}
	}
	if rest := f &^ featureMask; rest != 0 {
		parts = append(parts, "unknown")
	}
	return strings.Join(parts, "|")
}

// ParseFeature converts a feature name as produced by String.
func ParseFeature(name string) (Feature, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, fn := range featureNames {
		if fn.name == name {
			return fn.f, true
		}
	}
	return 0, false
}

// ThreadMode selects the locking discipline of a Worker.
type ThreadMode int

const (
	// ThreadSingle workers must only be used from one goroutine at a time.
	ThreadSingle ThreadMode = iota
	// ThreadMulti workers serialise access internally.
	ThreadMulti
)

func (m ThreadMode) String() string {
	switch m {
	case ThreadSingle:
		return "single"
	case ThreadMulti:
		return "multi"
	default:
		return "unknown"
	}
}

// WakeupEvent selects the event classes that release WaitForEvents.
type WakeupEvent uint32

const (
	WakeupRMA WakeupEvent = 1 << iota
	WakeupAMO
	WakeupTagSend
	WakeupTagRecv
	WakeupTX
	WakeupRX
	// WakeupEdge requests edge-triggered notification.
	WakeupEdge
)

// ErrHandlingMode controls how endpoint failures are surfaced.
type ErrHandlingMode int

const (
	// ErrHandlingDefault logs failures and fails the affected requests.
	ErrHandlingDefault ErrHandlingMode = iota
	// ErrHandlingPeer additionally reports failures to the endpoint error handler.
	ErrHandlingPeer
)

// CloseMode selects how CloseNonBlocking treats in-flight operations.
type CloseMode int

const (
	// CloseModeFlush completes outstanding operations before closing.
	CloseModeFlush CloseMode = iota
	// CloseModeForce cancels outstanding operations.
	CloseModeForce
)

// State is the connection state of an Endpoint.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateClosing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// OpKind identifies the operation a Request tracks.
type OpKind int

const (
	OpTagSend OpKind = iota + 1
	OpTagRecv
	OpGet
	OpPut
	OpAtomic
	OpFlush
	OpEndpointFlush
	OpEndpointClose
	OpAmSend
	OpAmRecv
)

func (o OpKind) String() string {
	switch o {
	case OpTagSend:
		return "tag_send"
	case OpTagRecv:
		return "tag_recv"
	case OpGet:
		return "get"
	case OpPut:
		return "put"
	case OpAtomic:
		return "atomic"
	case OpFlush:
		return "flush"
	case OpEndpointFlush:
		return "ep_flush"
	case OpEndpointClose:
		return "ep_close"
	case OpAmSend:
		return "am_send"
	case OpAmRecv:
		return "am_recv"
	default:
		return "unknown"
	}
}
