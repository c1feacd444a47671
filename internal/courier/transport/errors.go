package transport

import (
	"fmt"
	"time"

	"github.com/courier-im/courier/internal/courier/wire"
)

// TransportError wraps a connection-level failure: a publish that never made
// it onto the wire, or a link that died under a pending call. It is always
// retryable at the supervisor level. The type lives in wire so packages below
// the transport, like session bootstrap, can report the same class of failure.
type TransportError = wire.TransportError

// CorrelationTimeout is returned when a published request's response frame
// never arrived within the call window. The request may still have been
// applied server side; callers must treat the outcome as unknown.
type CorrelationTimeout struct {
	RequestID int64
	Window    time.Duration
}

func (e *CorrelationTimeout) Error() string {
	return fmt.Sprintf("no response for request %d within %v", e.RequestID, e.Window)
}
