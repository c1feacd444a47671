package transport

import (
	"context"
	"sync"
	"time"

	"github.com/courier-im/courier/internal/courier/wire"
	"github.com/courier-im/courier/pkg/logging"
)

// DefaultCallTimeout is how long a published request waits for its response
// frame before the call is abandoned.
const DefaultCallTimeout = 20 * time.Second

type callResult struct {
	env *wire.Envelope
	err error
}

// Correlator matches response-topic envelopes back to the requests that
// caused them, keyed by echoed request id. Each slot resolves at most once;
// a second response for the same id is dropped.
type Correlator struct {
	mu      sync.Mutex
	pending map[int64]chan callResult
	timeout time.Duration
	logger  logging.Logger
}

// NewCorrelator builds a correlator with the given call window. A zero
// timeout selects DefaultCallTimeout.
func NewCorrelator(timeout time.Duration, logger logging.Logger) *Correlator {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Correlator{
		pending: make(map[int64]chan callResult),
		timeout: timeout,
		logger:  logger,
	}
}

// Register opens a slot for the given request id. It must be called before
// the request frame is published, or a fast response can race past it.
func (c *Correlator) Register(requestID int64) <-chan callResult {
	ch := make(chan callResult, 1)
	c.mu.Lock()
	c.pending[requestID] = ch
	c.mu.Unlock()
	return ch
}

// Fulfill resolves the slot for the envelope's request id. It reports whether
// a waiter was found; an unmatched response is normal after a timeout or
// reconnect and is merely logged by the caller.
func (c *Correlator) Fulfill(env *wire.Envelope) bool {
	c.mu.Lock()
	ch, ok := c.pending[env.RequestID]
	if ok {
		delete(c.pending, env.RequestID)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	ch <- callResult{env: env}
	return true
}

// Discard releases the slot without resolving it. Used when the publish that
// was supposed to trigger the response never happened.
func (c *Correlator) Discard(requestID int64) {
	c.mu.Lock()
	delete(c.pending, requestID)
	c.mu.Unlock()
}

// Await blocks until the slot resolves, the call window lapses, or ctx ends.
// The slot is released on every exit path.
func (c *Correlator) Await(ctx context.Context, requestID int64, ch <-chan callResult) (*wire.Envelope, error) {
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.env, res.err
	case <-timer.C:
		c.Discard(requestID)
		c.logger.Warn("Call timed out", "request_id", requestID, "window", c.timeout)
		return nil, &CorrelationTimeout{RequestID: requestID, Window: c.timeout}
	case <-ctx.Done():
		c.Discard(requestID)
		return nil, ctx.Err()
	}
}

// PendingCount returns the number of unresolved slots.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// FailAll resolves every pending slot with the given error so waiters fail
// immediately instead of sitting out the call window. Called exactly once,
// when the connection dies.
func (c *Correlator) FailAll(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]chan callResult)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- callResult{err: &TransportError{Op: "call", Err: err}}
	}
	if len(pending) > 0 {
		c.logger.Warn("Failed pending calls on connection loss", "count", len(pending))
	}
}
