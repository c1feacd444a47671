package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/courier-im/courier/internal/courier/session"
	"github.com/courier-im/courier/internal/courier/wire"
	"github.com/courier-im/courier/pkg/logging"
	"github.com/courier-im/courier/pkg/metrics"
	"github.com/courier-im/courier/pkg/websocket"
)

// Config holds the connection-level tuning knobs. Zero values pick defaults.
type Config struct {
	// WebSocket configures the underlying socket (dial retry, keepalive).
	WebSocket *websocket.WebSocketConfig
	// CallTimeout is the correlated-call window.
	CallTimeout time.Duration
	// FallbackEndpoint is dialed when the session carries no region-assigned
	// endpoint from bootstrap.
	FallbackEndpoint string
	// MaxDeltas is the batch ceiling requested on stream create/resume.
	MaxDeltas int
	// PresenceInterval, when positive, announces the client as active on a
	// timer. Zero disables the presence loop.
	PresenceInterval time.Duration
	// FrameBuffer is the inbound frame channel depth.
	FrameBuffer int
}

// DefaultConfig returns the connection defaults.
func DefaultConfig() *Config {
	return &Config{
		WebSocket:        websocket.DefaultWebSocketConfig(),
		CallTimeout:      DefaultCallTimeout,
		FallbackEndpoint: "wss://edge-chat.relaymsg.com/chat",
		MaxDeltas:        100,
		PresenceInterval: 0,
		FrameBuffer:      64,
	}
}

// Connection is one authenticated tunnel to the broker: a websocket plus the
// protocol bootstrap (identity announce, topic subscription, stream create or
// resume) and the request correlator. A Connection never reconnects itself;
// when the link dies it signals Done and the supervisor builds a new one.
type Connection struct {
	sess       *session.Session
	config     *Config
	logger     logging.Logger
	wm         *metrics.WireMetrics
	ws         websocket.WebSocketClientInterface
	correlator *Correlator

	frames chan *wire.Frame
	done   chan struct{}

	mu       sync.Mutex
	err      error
	doneOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// newSocket is swappable for tests.
	newSocket func(url string) (websocket.WebSocketClientInterface, error)
}

// NewConnection builds an unopened connection for the session. The metrics
// argument may be nil.
func NewConnection(sess *session.Session, config *Config, logger logging.Logger, wm *metrics.WireMetrics) *Connection {
	if config == nil {
		config = DefaultConfig()
	}
	if config.WebSocket == nil {
		config.WebSocket = websocket.DefaultWebSocketConfig()
	}
	if config.FrameBuffer <= 0 {
		config.FrameBuffer = 64
	}
	if config.MaxDeltas <= 0 {
		config.MaxDeltas = 100
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Connection{
		sess:       sess,
		config:     config,
		logger:     logger,
		wm:         wm,
		correlator: NewCorrelator(config.CallTimeout, logger),
		frames:     make(chan *wire.Frame, config.FrameBuffer),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	c.newSocket = func(url string) (websocket.WebSocketClientInterface, error) {
		return websocket.NewWebSocketClient(url, config.WebSocket, logger)
	}
	return c
}

// Open dials the endpoint and runs the protocol bootstrap: identity announce,
// topic subscription, then a stream create on first connect or a stream
// resume when the session already holds a cursor. On return the read loop is
// running and Frames delivers inbound traffic.
func (c *Connection) Open(ctx context.Context) error {
	endpoint, err := c.endpointURL()
	if err != nil {
		return err
	}

	ws, err := c.newSocket(endpoint)
	if err != nil {
		return fmt.Errorf("failed to build socket: %w", err)
	}
	ws.SetHeaders(c.handshakeHeaders())

	if err := ws.Connect(ctx); err != nil {
		return &TransportError{Op: "dial", Err: err}
	}
	c.ws = ws

	if err := c.announce(ctx); err != nil {
		ws.Close()
		return err
	}
	if err := c.subscribe(ctx); err != nil {
		ws.Close()
		return err
	}
	if err := c.openStream(ctx); err != nil {
		ws.Close()
		return err
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.watchSocket()
	if c.config.PresenceInterval > 0 {
		c.wg.Add(1)
		go c.presenceLoop()
	}

	c.logger.Info("Connection established",
		"endpoint", endpoint,
		"client_id", c.sess.ClientID(),
		"resume", c.sess.Cursor().Established())
	return nil
}

// endpointURL picks the region-assigned endpoint when bootstrap produced one
// and appends the per-connection identity parameters.
func (c *Connection) endpointURL() (string, error) {
	raw := c.sess.Endpoint()
	if raw == "" {
		raw = c.config.FallbackEndpoint
		c.logger.Warn("No region endpoint from bootstrap, using fallback", "endpoint", raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid realtime endpoint %q: %w", raw, err)
	}
	q := u.Query()
	q.Set("cid", c.sess.ClientID())
	q.Set("aid", c.sess.AppID())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// handshakeHeaders carries the session cookies and browser identity onto the
// websocket upgrade request.
func (c *Connection) handshakeHeaders() http.Header {
	headers := http.Header{}
	headers.Set("User-Agent", c.sess.UserAgent())

	base := c.sess.BaseURL()
	headers.Set("Origin", base)
	if u, err := url.Parse(base); err == nil {
		cookies := c.sess.HTTP().Cookies(u)
		pairs := make([]string, 0, len(cookies))
		for _, cookie := range cookies {
			pairs = append(pairs, cookie.Name+"="+cookie.Value)
		}
		if len(pairs) > 0 {
			headers.Set("Cookie", joinCookies(pairs))
		}
	}
	return headers
}

func joinCookies(pairs []string) string {
	out := ""
	for i, p := range pairs {
		if i > 0 {
			out += "; "
		}
		out += p
	}
	return out
}

func (c *Connection) announce(ctx context.Context) error {
	payload, err := wire.EncodePayload(&wire.ConnectPayload{
		AccountID:    c.sess.AccountID(),
		ClientID:     c.sess.ClientID(),
		DeviceID:     c.sess.DeviceID(),
		AppID:        c.sess.AppID(),
		UserAgent:    c.sess.UserAgent(),
		Visible:      true,
		Capabilities: wire.CapVoipCompat,
	}, false)
	if err != nil {
		return err
	}
	return c.Publish(ctx, &wire.Frame{
		Topic: wire.TopicConnect,
		QoS:   1,
		Envelope: wire.Envelope{
			Type:    wire.TypeConnect,
			Payload: payload,
		},
	})
}

func (c *Connection) subscribe(ctx context.Context) error {
	payload, err := wire.EncodePayload(&wire.SubscribePayload{Topics: wire.SubscribeTopics}, false)
	if err != nil {
		return err
	}
	return c.Publish(ctx, &wire.Frame{
		Topic: wire.TopicConnect,
		QoS:   1,
		Envelope: wire.Envelope{
			Type:    wire.TypeSubscribe,
			Payload: payload,
		},
	})
}

// openStream publishes the sync bootstrap frame. First connect of a session
// creates the stream at the landing page's sequence id; every later connect
// resumes from the cursor so no delta is dropped or replayed.
func (c *Connection) openStream(ctx context.Context) error {
	cursor := c.sess.Cursor()
	deviceID := c.sess.DeviceID()

	var topic string
	var body interface{}
	if cursor.Established() {
		topic = wire.TopicStreamResume
		body = &wire.StreamResume{
			LastSequenceID: cursor.SequenceID,
			SyncToken:      cursor.SyncToken,
			DeviceID:       deviceID,
			MaxDeltas:      c.config.MaxDeltas,
		}
	} else {
		topic = wire.TopicStreamCreate
		body = &wire.StreamCreate{
			InitialSequenceID: cursor.SequenceID,
			DeviceID:          deviceID,
			MaxDeltas:         c.config.MaxDeltas,
		}
	}

	payload, err := wire.EncodePayload(body, true)
	if err != nil {
		return err
	}
	return c.Publish(ctx, &wire.Frame{
		Topic: topic,
		QoS:   1,
		Envelope: wire.Envelope{
			AppID:   c.sess.AppID(),
			Type:    wire.TypeSignal,
			Payload: payload,
		},
	})
}

// Publish writes one frame to the wire. A write failure kills the connection
// and surfaces as TransportError.
func (c *Connection) Publish(ctx context.Context, frame *wire.Frame) error {
	data, err := frame.Marshal()
	if err != nil {
		return err
	}
	if err := c.ws.WriteTextMessage(ctx, data); err != nil {
		c.fail(err)
		return &TransportError{Op: "publish " + frame.Topic, Err: err}
	}
	if c.wm != nil {
		c.wm.FramesPublished.WithLabelValues(frame.Topic).Inc()
	}
	return nil
}

// Call publishes a request frame and blocks for the correlated response.
// The request id is assigned here when the caller left it zero.
func (c *Connection) Call(ctx context.Context, frame *wire.Frame) (*wire.Envelope, error) {
	if frame.RequestID == 0 {
		frame.RequestID = c.sess.NextRequestID()
	}

	ch := c.correlator.Register(frame.RequestID)
	if c.wm != nil {
		c.wm.CallsInFlight.Inc()
		defer c.wm.CallsInFlight.Dec()
	}
	start := time.Now()

	if err := c.Publish(ctx, frame); err != nil {
		c.correlator.Discard(frame.RequestID)
		return nil, err
	}

	env, err := c.correlator.Await(ctx, frame.RequestID, ch)
	if err == nil && c.wm != nil {
		c.wm.CallDuration.Observe(time.Since(start).Seconds())
	}
	return env, err
}

// Frames returns the inbound frame channel. It is closed when the connection
// dies; the response topic is consumed internally and never appears here.
func (c *Connection) Frames() <-chan *wire.Frame {
	return c.frames
}

// Done is closed when the connection has terminated for any reason.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Err returns the terminal error after Done, or nil before.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close tears the connection down gracefully, publishing the goodbye frame
// so the broker releases the client id immediately.
func (c *Connection) Close() error {
	if c.ws != nil && c.ws.IsConnected() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = c.Publish(ctx, &wire.Frame{
			Topic:    wire.TopicDisconnect,
			Envelope: wire.Envelope{Type: wire.TypeUnsubscribe},
		})
		cancel()
	}
	c.fail(websocket.ErrConnectionClosed)
	c.cancel()
	var err error
	if c.ws != nil {
		err = c.ws.Close()
	}
	c.wg.Wait()
	return err
}

// fail records the terminal error once, fails pending calls, and closes the
// frame channel so consumers drain and stop.
func (c *Connection) fail(err error) {
	c.doneOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		c.correlator.FailAll(err)
		close(c.done)
	})
}

// watchSocket propagates socket death into connection death.
func (c *Connection) watchSocket() {
	defer c.wg.Done()
	select {
	case <-c.ctx.Done():
	case <-c.ws.Done():
		err := c.ws.Err()
		if err == nil {
			err = websocket.ErrConnectionClosed
		}
		c.fail(err)
	}
}

// readLoop parses inbound messages one frame at a time. Response frames feed
// the correlator; everything else is handed to the consumer in arrival order.
func (c *Connection) readLoop() {
	defer c.wg.Done()
	// readLoop is the only sender, so it owns closing the channel.
	defer close(c.frames)

	for {
		msg, err := c.ws.ReadMessage(c.ctx)
		if err != nil {
			return
		}

		frame, err := wire.ParseFrame(msg)
		if err != nil {
			c.logger.Warn("Dropping malformed frame", "error", err)
			if c.wm != nil {
				c.wm.DecodeWarnings.Inc()
			}
			continue
		}
		if c.wm != nil {
			c.wm.FramesReceived.WithLabelValues(frame.Topic).Inc()
		}

		if frame.Topic == wire.TopicResponse {
			if !c.correlator.Fulfill(&frame.Envelope) {
				c.logger.Debug("Unmatched response frame", "request_id", frame.RequestID)
			}
			continue
		}

		select {
		case c.frames <- frame:
		case <-c.ctx.Done():
			return
		case <-c.done:
			return
		}
	}
}

// presenceLoop keeps the account marked active while the tunnel is up.
func (c *Connection) presenceLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.config.PresenceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			payload, err := wire.EncodePayload(map[string]bool{"active": true}, false)
			if err != nil {
				continue
			}
			ctx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
			if err := c.Publish(ctx, &wire.Frame{
				Topic:    wire.TopicPresenceOut,
				Envelope: wire.Envelope{Type: wire.TypeSignal, Payload: payload},
			}); err != nil {
				cancel()
				return
			}
			cancel()
		}
	}
}
