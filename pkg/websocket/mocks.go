package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockWebSocketClient is a mock implementation of the WebSocketClientInterface
type MockWebSocketClient struct {
	mock.Mock
}

var _ WebSocketClientInterface = (*MockWebSocketClient)(nil)

// SetHeaders mocks the SetHeaders method
func (m *MockWebSocketClient) SetHeaders(headers http.Header) {
	m.Called(headers)
}

// Connect mocks the Connect method
func (m *MockWebSocketClient) Connect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// ReadMessage mocks the ReadMessage method
func (m *MockWebSocketClient) ReadMessage(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// WriteMessage mocks the WriteMessage method
func (m *MockWebSocketClient) WriteMessage(ctx context.Context, messageType int, data []byte) error {
	args := m.Called(ctx, messageType, data)
	return args.Error(0)
}

// WriteTextMessage mocks the WriteTextMessage method
func (m *MockWebSocketClient) WriteTextMessage(ctx context.Context, data []byte) error {
	args := m.Called(ctx, data)
	return args.Error(0)
}

// IsConnected mocks the IsConnected method
func (m *MockWebSocketClient) IsConnected() bool {
	args := m.Called()
	return args.Bool(0)
}

// GetLastMessageTime mocks the GetLastMessageTime method
func (m *MockWebSocketClient) GetLastMessageTime() time.Time {
	args := m.Called()
	if args.Get(0) == nil {
		return time.Time{}
	}
	return args.Get(0).(time.Time)
}

// Done mocks the Done method
func (m *MockWebSocketClient) Done() <-chan struct{} {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	if ch, ok := args.Get(0).(<-chan struct{}); ok {
		return ch
	}
	if ch, ok := args.Get(0).(chan struct{}); ok {
		return ch
	}
	return nil
}

// Err mocks the Err method
func (m *MockWebSocketClient) Err() error {
	args := m.Called()
	return args.Error(0)
}

// Close mocks the Close method
func (m *MockWebSocketClient) Close() error {
	args := m.Called()
	return args.Error(0)
}
