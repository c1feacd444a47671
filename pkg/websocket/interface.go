package websocket

import (
	"context"
	"net/http"
	"time"
)

// WebSocketClientInterface defines the interface for WebSocket operations
type WebSocketClientInterface interface {
	SetHeaders(headers http.Header)
	Connect(ctx context.Context) error
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(ctx context.Context, messageType int, data []byte) error
	WriteTextMessage(ctx context.Context, data []byte) error
	IsConnected() bool
	GetLastMessageTime() time.Time
	Done() <-chan struct{}
	Err() error
	Close() error
}

var _ WebSocketClientInterface = (*WebSocketClient)(nil)
