package ucp

import (
	"errors"
	"fmt"

	"github.com/rocketbitz/ucx-go/internal/transport"
)

var (
	// ErrConfiguration indicates that parameters were rejected at construction time.
	ErrConfiguration = errors.New("ucx: invalid configuration")
	// ErrInvalidState indicates that an object was used outside of its lifecycle.
	ErrInvalidState = errors.New("ucx: invalid state")
	// ErrUnsupported indicates that the operation requires a feature the context
	// did not request, or a remote key that is not valid for the target.
	ErrUnsupported = errors.New("ucx: unsupported operation")
	// ErrInvalidKey indicates that a packed remote key could not be decoded.
	ErrInvalidKey = errors.New("ucx: invalid remote key")
	// ErrInvalidArgument indicates a malformed argument such as a nil buffer.
	ErrInvalidArgument = errors.New("ucx: invalid argument")
	// ErrInvalidAddress indicates that a worker address could not be decoded.
	ErrInvalidAddress = errors.New("ucx: invalid worker address")
	// ErrTransport indicates an asynchronous transport failure.
	ErrTransport = errors.New("ucx: transport failure")
	// ErrCanceled indicates that a request was abandoned because its worker or
	// endpoint was closed.
	ErrCanceled = errors.New("ucx: request canceled")
	// ErrBusy indicates that events are pending and the worker must be
	// progressed before it can be armed.
	ErrBusy = errors.New("ucx: worker busy")
	// ErrTruncated indicates that a received message was larger than the
	// posted buffer.
	ErrTruncated = errors.New("ucx: message truncated")
)

// Status re-exports the transport status type so callers can inspect the
// root cause of a failed request with errors.As.
type Status = transport.Status

const (
	StatusUnreachable = transport.StatusUnreachable
	StatusConnReset   = transport.StatusConnReset
	StatusNoElem      = transport.StatusNoElem
	StatusOutOfRange  = transport.StatusOutOfRange
	StatusAccess      = transport.StatusAccess
	StatusCanceled    = transport.StatusCanceled
)

// ErrInvalidHandle reports use of a closed or nil object.
type ErrInvalidHandle struct {
	Resource string
}

func (e ErrInvalidHandle) Error() string {
	return "invalid or closed " + e.Resource + " handle"
}

// Is makes ErrInvalidHandle match ErrInvalidState.
func (e ErrInvalidHandle) Is(target error) bool {
	return target == ErrInvalidState
}

func configErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

func unsupported(op string, feature Feature) error {
	return fmt.Errorf("%w: %s requires %s", ErrUnsupported, op, feature)
}

// transportErr wraps a transport status so that both ErrTransport and the
// status itself are visible to errors.Is and errors.As.
func transportErr(op string, st transport.Status) error {
	switch st {
	case transport.StatusOK:
		return nil
	case transport.StatusTruncated:
		return fmt.Errorf("%s: %w", op, ErrTruncated)
	case transport.StatusCanceled:
		return fmt.Errorf("%s: %w", op, ErrCanceled)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransport, st)
}
