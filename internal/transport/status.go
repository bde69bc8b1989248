package transport

import "fmt"

// Status represents a transport level completion code. Zero is success,
// every other value describes why an operation could not be carried out.
type Status int32

const (
	StatusOK Status = iota
	StatusUnreachable
	StatusConnReset
	StatusNoElem
	StatusInvalidKey
	StatusOutOfRange
	StatusAccess
	StatusUnsupported
	StatusCanceled
	StatusTruncated
	StatusInvalidParam
	StatusClosed
)

var statusText = map[Status]string{
	StatusOK:           "success",
	StatusUnreachable:  "destination is unreachable",
	StatusConnReset:    "connection reset by remote peer",
	StatusNoElem:       "no such element",
	StatusInvalidKey:   "remote key does not match memory domain",
	StatusOutOfRange:   "address outside registered region",
	StatusAccess:       "region missing required access",
	StatusUnsupported:  "operation not supported",
	StatusCanceled:     "operation canceled",
	StatusTruncated:    "message truncated",
	StatusInvalidParam: "invalid parameter",
	StatusClosed:       "interface closed",
}

// Error returns the message associated with the status.
func (s Status) Error() string {
	return s.String()
}

// String returns a human-readable description of the status.
func (s Status) String() string {
	if msg, ok := statusText[s]; ok {
		return msg
	}
	return fmt.Sprintf("transport status %d", int32(s))
}

// WithOp adds operation context to the status.
func (s Status) WithOp(op string) error {
	if op == "" {
		return s
	}
	return fmt.Errorf("%s: %w", op, s)
}

// Err converts a status into a Go error, returning nil for StatusOK.
func (s Status) Err(op string) error {
	if s == StatusOK {
		return nil
	}
	return s.WithOp(op)
}
