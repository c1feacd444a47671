package wire

import "fmt"

// ProtocolError reports a frame or payload that does not match the tunnel's
// expected shape. It is distinct from transport failures: the link is fine,
// the bytes are not.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s", e.Reason)
}

// TransportError wraps a network-level failure: a fetch or publish that never
// reached the service, or a link that died mid-operation. It is always
// retryable by the caller.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
