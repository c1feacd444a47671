package courier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/courier-im/courier/internal/courier/delta"
	"github.com/courier-im/courier/internal/courier/query"
	"github.com/courier-im/courier/internal/courier/session"
	"github.com/courier-im/courier/internal/courier/transport"
	"github.com/courier-im/courier/internal/courier/wire"
	"github.com/courier-im/courier/pkg/logging"
	"github.com/courier-im/courier/pkg/metrics"
	"github.com/courier-im/courier/pkg/retry"
)

// Supervisor states.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Proactive reconnect window. The server quietly stops delivering on tunnels
// older than roughly an hour, so the supervisor rebuilds the connection at a
// random point inside this window, before the silence starts.
const (
	proactiveMin = 26 * time.Minute
	proactiveMax = 60 * time.Minute
)

// ErrNotConnected is returned from publishes attempted while the supervisor
// is between connections.
var ErrNotConnected = errors.New("not connected")

// conn is the supervisor's view of one tunnel, satisfied by
// *transport.Connection and by test doubles.
type conn interface {
	Open(ctx context.Context) error
	Frames() <-chan *wire.Frame
	Publish(ctx context.Context, frame *wire.Frame) error
	Call(ctx context.Context, frame *wire.Frame) (*wire.Envelope, error)
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Supervisor keeps one live connection at all times: it dials, watches for
// death, reconnects with backoff, rotates the client id per attempt, and
// rebuilds the tunnel proactively before the server ages it out. It also
// fans decoded events out to the subscriber.
type Supervisor struct {
	sess    *session.Session
	config  *Config
	decoder *delta.Decoder
	queries *query.Client
	logger  logging.Logger
	wm      *metrics.WireMetrics

	events chan delta.Event

	mu      sync.Mutex
	current conn
	state   State

	cancel context.CancelFunc
	done   chan struct{}

	// onMessage is invoked for every delivered Message event, before it is
	// handed to the subscriber. The client hooks delivery receipts here.
	onMessage func(msg delta.Message)

	// newConn is swappable for tests.
	newConn func() conn
}

func newSupervisor(sess *session.Session, cfg *Config, decoder *delta.Decoder, queries *query.Client, logger logging.Logger, wm *metrics.WireMetrics) *Supervisor {
	s := &Supervisor{
		sess:    sess,
		config:  cfg,
		decoder: decoder,
		queries: queries,
		logger:  logger,
		wm:      wm,
		events:  make(chan delta.Event, cfg.EventBuffer),
		state:   StateIdle,
		done:    make(chan struct{}),
	}
	s.newConn = func() conn {
		return transport.NewConnection(sess, cfg.Transport, logger, wm)
	}
	return s
}

// State returns the supervisor's current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.logger.Debug("Supervisor state change", "state", state.String())
}

// Events returns the subscriber channel. It is closed only when the
// supervisor stops, cleanly or terminally.
func (s *Supervisor) Events() <-chan delta.Event {
	return s.events
}

// Start launches the supervision loop. It returns once the first connection
// is up, or with the error that made the first connect impossible.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.sess.Cursor().SequenceID == 0 {
		seqID, err := s.queries.InitialSequenceID(ctx)
		if err != nil {
			s.setState(StateFailed)
			return fmt.Errorf("failed to resolve initial sequence id: %w", err)
		}
		s.sess.ResetCursor(seqID)
		s.logger.Info("No cursor yet, starting from current head", "seq_id", seqID)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	first, err := s.connect(ctx)
	if err != nil {
		cancel()
		s.setState(StateFailed)
		return err
	}

	go s.run(runCtx, first)
	return nil
}

// Stop shuts the supervisor down and waits for the loop to exit. The event
// channel is closed on return.
func (s *Supervisor) Stop() {
	s.setState(StateClosing)
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

// connect rotates the client id and dials one fresh tunnel with backoff.
func (s *Supervisor) connect(ctx context.Context) (conn, error) {
	s.setState(StateConnecting)
	s.sess.RotateClientID()

	c, err := retry.Retry(ctx, func() (conn, error) {
		c := s.newConn()
		if err := c.Open(ctx); err != nil {
			c.Close()
			return nil, err
		}
		return c, nil
	}, s.config.Reconnect, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to establish connection: %w", err)
	}

	s.mu.Lock()
	s.current = c
	s.state = StateConnected
	s.mu.Unlock()
	return c, nil
}

// run is the supervision loop: consume one connection until it ends, then
// decide between reconnecting and giving up.
func (s *Supervisor) run(ctx context.Context, c conn) {
	defer close(s.done)
	defer close(s.events)

	for {
		reason := s.consume(ctx, c)
		c.Close()

		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()

		if ctx.Err() != nil {
			s.setState(StateIdle)
			return
		}

		if errors.Is(reason, delta.ErrStreamExpired) {
			if err := s.resetStream(ctx); err != nil {
				s.logger.Error("Failed to re-establish expired stream", "error", err)
				s.fail(err)
				return
			}
		}

		if s.wm != nil {
			s.wm.Reconnects.Inc()
		}
		s.logger.Info("Reconnecting", "reason", reasonString(reason))

		next, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.setState(StateIdle)
				return
			}
			s.fail(err)
			return
		}
		c = next
	}
}

func reasonString(err error) string {
	if err == nil {
		return "connection ended"
	}
	return err.Error()
}

// consume drains one connection until it dies, the proactive window lapses,
// or the stream expires. The returned error explains why.
func (s *Supervisor) consume(ctx context.Context, c conn) error {
	proactive := time.NewTimer(proactiveDelay())
	defer proactive.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-proactive.C:
			return errors.New("proactive reconnect window reached")

		case <-c.Done():
			return c.Err()

		case frame, ok := <-c.Frames():
			if !ok {
				return c.Err()
			}
			events, err := s.decoder.Decode(frame)
			if err != nil {
				if errors.Is(err, delta.ErrStreamExpired) {
					return err
				}
				s.logger.Warn("Discarding undecodable frame", "error", err)
				continue
			}
			for _, ev := range events {
				if s.onMessage != nil {
					switch m := ev.(type) {
					case delta.Message:
						s.onMessage(m)
					case delta.MessageReply:
						s.onMessage(m.Message)
					}
				}
				select {
				case s.events <- ev:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// resetStream fetches a fresh sequence head and throws the dead cursor away
// so the next connect creates a new stream instead of resuming.
func (s *Supervisor) resetStream(ctx context.Context) error {
	seqID, err := s.queries.InitialSequenceID(ctx)
	if err != nil {
		return err
	}
	s.sess.ResetCursor(seqID)
	s.logger.Warn("Stream expired, restarting from fresh head", "seq_id", seqID)
	return nil
}

// fail reports terminal shutdown to the subscriber. The Disconnected event is
// always delivered: with a full buffer and an absent subscriber, the oldest
// buffered event is evicted to make room. Only the run goroutine sends on
// s.events, so the buffer cannot refill between eviction and send.
func (s *Supervisor) fail(err error) {
	s.setState(StateFailed)
	s.logger.Error("Supervisor giving up", "error", err)
	terminal := delta.Disconnected{Err: err}
	for {
		select {
		case s.events <- terminal:
			return
		default:
		}
		select {
		case <-s.events:
		default:
		}
	}
}

func proactiveDelay() time.Duration {
	window := proactiveMax - proactiveMin
	return proactiveMin + time.Duration(retry.SecureFloat64()*float64(window))
}

// Publish forwards to the current connection.
func (s *Supervisor) Publish(ctx context.Context, frame *wire.Frame) error {
	s.mu.Lock()
	c := s.current
	s.mu.Unlock()
	if c == nil {
		return &transport.TransportError{Op: "publish", Err: ErrNotConnected}
	}
	return c.Publish(ctx, frame)
}

// Call forwards to the current connection.
func (s *Supervisor) Call(ctx context.Context, frame *wire.Frame) (*wire.Envelope, error) {
	s.mu.Lock()
	c := s.current
	s.mu.Unlock()
	if c == nil {
		return nil, &transport.TransportError{Op: "call", Err: ErrNotConnected}
	}
	return c.Call(ctx, frame)
}
