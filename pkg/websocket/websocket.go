package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/courier-im/courier/pkg/logging"
	"github.com/courier-im/courier/pkg/retry"
)

// WebSocketConfig holds configuration for a single WebSocket connection.
// There is deliberately no reconnect policy here: one client object is one
// connection attempt plus its lifetime, and the owner decides what happens
// after it dies.
type WebSocketConfig struct {
	// RetryConfig for the initial dial attempts
	RetryConfig *retry.Config
	// HandshakeTimeout for WebSocket handshake
	HandshakeTimeout time.Duration
	// WriteDeadline for writing messages
	WriteDeadline time.Duration
	// PingInterval for sending ping messages to keep connection alive
	PingInterval time.Duration
	// PongWait is the time to wait for pong response before considering connection dead
	PongWait time.Duration
	// MaxMessageSize maximum message size in bytes
	MaxMessageSize int64
	// EnableCompression enables compression
	EnableCompression bool
}

// DefaultWebSocketConfig returns default configuration for WebSocket operations
func DefaultWebSocketConfig() *WebSocketConfig {
	return &WebSocketConfig{
		RetryConfig:       retry.DefaultConfig(),
		HandshakeTimeout:  10 * time.Second,
		WriteDeadline:     10 * time.Second,
		PingInterval:      10 * time.Second,
		PongWait:          30 * time.Second,
		MaxMessageSize:    1024 * 1024, // 1MB, sync batches can be large
		EnableCompression: false,
	}
}

// Validate checks the WebSocket configuration for reasonable values
func (c *WebSocketConfig) Validate() error {
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("handshakeTimeout must be positive")
	}
	if c.WriteDeadline <= 0 {
		return fmt.Errorf("writeDeadline must be positive")
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("pingInterval must be positive")
	}
	if c.PongWait <= 0 {
		return fmt.Errorf("pongWait must be positive")
	}
	if c.PongWait <= c.PingInterval {
		return fmt.Errorf("pongWait must be greater than pingInterval")
	}
	if c.MaxMessageSize < 0 {
		return fmt.Errorf("maxMessageSize must be >= 0")
	}
	return nil
}

// WebSocketError represents a WebSocket-specific error
type WebSocketError struct {
	Code    int
	Message string
}

func (e *WebSocketError) Error() string {
	return fmt.Sprintf("WebSocket error [%d]: %s", e.Code, e.Message)
}

// ErrConnectionClosed is returned from reads and writes after the connection
// has terminated for any reason.
var ErrConnectionClosed = errors.New("websocket connection closed")

// WebSocketClient wraps one websocket.Conn with dial retry, keepalive pings
// and a buffered inbound message channel. Once the connection drops the
// client is dead; callers watch Done and build a fresh client to reconnect.
type WebSocketClient struct {
	url         string
	conn        *websocket.Conn
	config      *WebSocketConfig
	logger      logging.Logger
	mu          sync.RWMutex
	isConnected bool
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	lastMessage time.Time
	messageChan chan []byte
	headers     http.Header
	dialer      *websocket.Dialer
	done        chan struct{}
	doneOnce    sync.Once
	err         error
	closed      bool
}

// NewWebSocketClient creates a new single-connection WebSocket client
func NewWebSocketClient(url string, config *WebSocketConfig, logger logging.Logger) (*WebSocketClient, error) {
	if config == nil {
		config = DefaultWebSocketConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid WebSocket config: %w", err)
	}

	// Set up default retry predicate if none provided
	if config.RetryConfig.ShouldRetry == nil {
		config.RetryConfig.ShouldRetry = func(err error, attempt int) bool {
			var wsErr *WebSocketError
			if errors.As(err, &wsErr) {
				// HTTP-level rejections during the handshake: retry the
				// transient ones, give up on auth failures
				return wsErr.Code >= 500 || wsErr.Code == http.StatusTooManyRequests
			}
			// Network errors are assumed transient
			return true
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	dialer := &websocket.Dialer{
		HandshakeTimeout:  config.HandshakeTimeout,
		EnableCompression: config.EnableCompression,
		Proxy:             http.ProxyFromEnvironment,
	}

	return &WebSocketClient{
		url:         url,
		config:      config,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		messageChan: make(chan []byte, 100),
		headers:     make(http.Header),
		dialer:      dialer,
		done:        make(chan struct{}),
	}, nil
}

// SetHeaders sets custom HTTP headers for the WebSocket handshake
func (c *WebSocketClient) SetHeaders(headers http.Header) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers = headers
}

// Connect establishes the WebSocket connection with retry logic
func (c *WebSocketClient) Connect(ctx context.Context) error {
	c.mu.RLock()
	if c.isConnected && c.conn != nil {
		c.mu.RUnlock()
		return nil // Already connected
	}
	c.mu.RUnlock()

	operation := func() (*websocket.Conn, error) {
		conn, resp, err := c.dialer.DialContext(ctx, c.url, c.headers)
		if err != nil {
			if resp != nil {
				return nil, &WebSocketError{
					Code:    resp.StatusCode,
					Message: fmt.Sprintf("failed to connect: %v", err),
				}
			}
			return nil, fmt.Errorf("failed to connect to WebSocket %s: %w", c.url, err)
		}
		return conn, nil
	}

	conn, err := retry.Retry(ctx, operation, c.config.RetryConfig, c.logger)
	if err != nil {
		return fmt.Errorf("failed to establish WebSocket connection after retries: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.isConnected = true
	c.lastMessage = time.Now()
	c.mu.Unlock()

	conn.SetReadLimit(c.config.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.lastMessage = time.Now()
		c.mu.Unlock()
		conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})
	conn.SetPingHandler(func(appData string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(c.config.WriteDeadline))
	})

	c.logger.Infof("Successfully connected to WebSocket: %s", c.url)

	c.wg.Add(2)
	go c.pingLoop()
	go c.readLoop()

	return nil
}

// pingLoop sends periodic ping messages to keep the connection alive
func (c *WebSocketClient) pingLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.mu.RLock()
			conn := c.conn
			isConnected := c.isConnected
			c.mu.RUnlock()

			if !isConnected || conn == nil {
				return
			}

			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(c.config.WriteDeadline)); err != nil {
				c.logger.Warnf("Failed to send ping: %v", err)
				c.terminate(fmt.Errorf("keepalive ping failed: %w", err))
				return
			}
		}
	}
}

// readLoop continuously reads messages from the WebSocket connection
func (c *WebSocketClient) readLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		if conn == nil {
			c.terminate(ErrConnectionClosed)
			return
		}

		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Errorf("WebSocket connection closed unexpectedly: %v", err)
			} else {
				c.logger.Debugf("WebSocket read error: %v", err)
			}
			c.terminate(fmt.Errorf("read failed: %w", err))
			return
		}

		c.mu.Lock()
		c.lastMessage = time.Now()
		c.mu.Unlock()

		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			select {
			case c.messageChan <- message:
			case <-c.ctx.Done():
				return
			}
		}
	}
}

// terminate records the connection's terminal error and signals Done.
// Only the first caller wins; later failures are side effects of the first.
func (c *WebSocketClient) terminate(err error) {
	c.doneOnce.Do(func() {
		c.mu.Lock()
		c.isConnected = false
		c.err = err
		if c.conn != nil {
			c.conn.Close()
		}
		c.mu.Unlock()
		close(c.done)
	})
}

// ReadMessage reads the next message, blocking until one arrives, the
// context ends, or the connection dies.
func (c *WebSocketClient) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case message := <-c.messageChan:
		return message, nil
	default:
	}
	select {
	case message := <-c.messageChan:
		return message, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		// Drain anything buffered before the failure
		select {
		case message := <-c.messageChan:
			return message, nil
		default:
		}
		return nil, c.Err()
	}
}

// WriteMessage writes a message to the WebSocket connection
func (c *WebSocketClient) WriteMessage(ctx context.Context, messageType int, data []byte) error {
	c.mu.RLock()
	conn := c.conn
	isConnected := c.isConnected
	c.mu.RUnlock()

	if !isConnected || conn == nil {
		return ErrConnectionClosed
	}

	conn.SetWriteDeadline(time.Now().Add(c.config.WriteDeadline))
	if err := conn.WriteMessage(messageType, data); err != nil {
		c.terminate(fmt.Errorf("write failed: %w", err))
		return err
	}
	return nil
}

// WriteTextMessage writes a text message to the WebSocket connection
func (c *WebSocketClient) WriteTextMessage(ctx context.Context, data []byte) error {
	return c.WriteMessage(ctx, websocket.TextMessage, data)
}

// IsConnected returns whether the WebSocket is currently connected
func (c *WebSocketClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

// GetLastMessageTime returns the time of the last received message
func (c *WebSocketClient) GetLastMessageTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastMessage
}

// Done is closed once the connection has terminated for any reason.
func (c *WebSocketClient) Done() <-chan struct{} {
	return c.done
}

// Err returns the terminal error after Done is closed, or nil before.
func (c *WebSocketClient) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Close gracefully closes the WebSocket connection
func (c *WebSocketClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil // Already closed
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(c.config.WriteDeadline))
	}
	c.terminate(ErrConnectionClosed)
	c.cancel()
	c.wg.Wait()
	return nil
}

// GetConn returns the underlying websocket.Conn (use with caution)
func (c *WebSocketClient) GetConn() *websocket.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}
