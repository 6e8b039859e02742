package remote

import "fmt"

// Kind classifies an engine failure. None of these are retried internally;
// retry policy belongs to the caller.
type Kind int

const (
	// KindConnectTimeout means the transport could not be established in time.
	KindConnectTimeout Kind = iota + 1
	// KindCommandTimeout means a dispatched command exceeded its deadline.
	KindCommandTimeout
	// KindAuthFailure means the remote server rejected the credentials.
	KindAuthFailure
	// KindTransportError covers connection-level failures, including host
	// key mismatches.
	KindTransportError
	// KindProtocolError covers unexpected SSH or SFTP protocol states.
	KindProtocolError
)

func (k Kind) String() string {
	switch k {
	case KindConnectTimeout:
		return "connect timeout"
	case KindCommandTimeout:
		return "command timeout"
	case KindAuthFailure:
		return "authentication failure"
	case KindTransportError:
		return "transport error"
	case KindProtocolError:
		return "protocol error"
	}
	return "unknown"
}

// Error is the engine's failure type.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("remote: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("remote: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the failure kind from an error chain, or 0.
func KindOf(err error) Kind {
	for err != nil {
		if re, ok := err.(*Error); ok {
			return re.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return 0
		}
		err = u.Unwrap()
	}
	return 0
}

func failure(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
