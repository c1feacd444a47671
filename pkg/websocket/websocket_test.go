package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courier-im/courier/pkg/logging"
	"github.com/courier-im/courier/pkg/retry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func fastConfig() *WebSocketConfig {
	cfg := DefaultWebSocketConfig()
	cfg.RetryConfig = &retry.Config{
		MaxRetries:    2,
		InitialDelay:  10 * time.Millisecond,
		MaxDelay:      50 * time.Millisecond,
		BackoffFactor: 2.0,
	}
	return cfg
}

func TestConnectReadWrite(t *testing.T) {
	echo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, msg); err != nil {
				return
			}
		}
	}))
	defer echo.Close()

	client, err := NewWebSocketClient(wsURL(echo), fastConfig(), logging.NewNoopLogger())
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, client.Connect(ctx))
	assert.True(t, client.IsConnected())

	require.NoError(t, client.WriteTextMessage(ctx, []byte(`{"hello":1}`)))
	msg, err := client.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"hello":1}`, string(msg))
}

func TestHandshakeHeadersForwarded(t *testing.T) {
	gotHeader := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader <- r.Header.Get("Cookie")
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		conn.Close()
	}))
	defer server.Close()

	client, err := NewWebSocketClient(wsURL(server), fastConfig(), logging.NewNoopLogger())
	require.NoError(t, err)
	defer client.Close()

	headers := http.Header{}
	headers.Set("Cookie", "c_account=1; xs=tok")
	client.SetHeaders(headers)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))

	assert.Equal(t, "c_account=1; xs=tok", <-gotHeader)
}

func TestDoneSignaledOnServerClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		conn.WriteMessage(websocket.TextMessage, []byte("one"))
		conn.Close()
	}))
	defer server.Close()

	client, err := NewWebSocketClient(wsURL(server), fastConfig(), logging.NewNoopLogger())
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))

	// The buffered message is still delivered after the close
	msg, err := client.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "one", string(msg))

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done was not signaled after server close")
	}
	assert.Error(t, client.Err())

	_, err = client.ReadMessage(ctx)
	assert.Error(t, err)
}

func TestWriteAfterCloseFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	client, err := NewWebSocketClient(wsURL(server), fastConfig(), logging.NewNoopLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))
	require.NoError(t, client.Close())

	err = client.WriteTextMessage(ctx, []byte("late"))
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestConnectRetriesTransientFailures(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			http.Error(w, "upstream hiccup", http.StatusBadGateway)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		conn.Close()
	}))
	defer server.Close()

	client, err := NewWebSocketClient(wsURL(server), fastConfig(), logging.NewNoopLogger())
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))
	assert.Equal(t, 2, attempts)
}

func TestConfigValidation(t *testing.T) {
	cfg := DefaultWebSocketConfig()
	require.NoError(t, cfg.Validate())

	cfg.PongWait = cfg.PingInterval
	assert.Error(t, cfg.Validate())

	cfg = DefaultWebSocketConfig()
	cfg.HandshakeTimeout = 0
	assert.Error(t, cfg.Validate())
}
