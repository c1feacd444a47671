package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/courier-im/courier/internal/courier/wire"
	courierhttp "github.com/courier-im/courier/pkg/http"
	"github.com/courier-im/courier/pkg/logging"
	"github.com/courier-im/courier/pkg/retry"
)

const testPage = `<!DOCTYPE html>
<html><head>
<script type="application/json" data-block="sync-params">{"seq_id": 7714411, "device_id": "dev-abc-123"}</script>
<script type="application/json" data-block="endpoint-params">{"endpoint": "wss://edge-chat.relaymsg.com/chat", "region": "FRC", "app_id": "219994525426954"}</script>
<script type="application/json" data-block="viewer">{"account_id": "100012345", "secondary_account_id": ""}</script>
<script type="application/json" data-block="security">{"token": "AQHx9pZ_", "checksum": "h3x"}</script>
</head><body></body></html>`

func newTestClient(t *testing.T) *courierhttp.HTTPClient {
	t.Helper()
	client, err := courierhttp.NewHTTPClient(nil, logging.NewNoopLogger())
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func validCookies() []StoredCookie {
	return []StoredCookie{
		{Name: "c_account", Value: "100012345"},
		{Name: "xs", Value: "opaque-session-token"},
	}
}

func TestBootstrapWithCookies(t *testing.T) {
	var sawCookie bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("c_account"); err == nil && c.Value == "100012345" {
			sawCookie = true
		}
		fmt.Fprint(w, testPage)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = server.URL

	sess, err := Bootstrap(context.Background(), Credentials{Cookies: validCookies()}, newTestClient(t), cfg, logging.NewNoopLogger())
	require.NoError(t, err)

	assert.True(t, sawCookie, "stored cookies should be sent on the landing page fetch")
	assert.Equal(t, "100012345", sess.AccountID())
	assert.Equal(t, "FRC", sess.Region())
	assert.Equal(t, "219994525426954", sess.AppID())
	assert.Equal(t, "dev-abc-123", sess.DeviceID())
	assert.Equal(t, "wss://edge-chat.relaymsg.com/chat", sess.Endpoint())
	assert.Equal(t, int64(7714411), sess.Cursor().SequenceID)
	assert.NotEmpty(t, sess.ClientID())

	token, checksum := sess.CSRFToken()
	assert.Equal(t, "AQHx9pZ_", token)
	assert.Equal(t, "h3x", checksum)
}

func TestBootstrapNoAccountCookie(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseURL = "http://127.0.0.1:1"

	creds := Credentials{Cookies: []StoredCookie{{Name: "xs", Value: "token"}}}
	_, err := Bootstrap(context.Background(), creds, newTestClient(t), cfg, logging.NewNoopLogger())

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestBootstrapNoCredentials(t *testing.T) {
	_, err := Bootstrap(context.Background(), Credentials{}, newTestClient(t), DefaultConfig(), logging.NewNoopLogger())

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestBootstrapAgainstMockedHTTPClient(t *testing.T) {
	// Bootstrap only needs the HTTPClientInterface surface: one cookie
	// install and one landing-page fetch.
	httpClient := new(courierhttp.MockHTTPClient)
	httpClient.On("SetCookies", mock.Anything, mock.Anything).Return()
	httpClient.On("Get", mock.Anything, "https://page.test").Return(&http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(testPage)),
	}, nil)

	cfg := DefaultConfig()
	cfg.BaseURL = "https://page.test"

	sess, err := Bootstrap(context.Background(), Credentials{Cookies: validCookies()}, httpClient, cfg, logging.NewNoopLogger())
	require.NoError(t, err)
	assert.Equal(t, "100012345", sess.AccountID())
	assert.Equal(t, int64(7714411), sess.Cursor().SequenceID)
	httpClient.AssertExpectations(t)
}

func TestBootstrapOutageSurfacesTransportError(t *testing.T) {
	// A service outage exhausts the HTTP retries; the failure must carry
	// the transport error class so callers can tell it from bad auth.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	httpCfg := courierhttp.DefaultHTTPRetryConfig()
	httpCfg.RetryConfig = &retry.Config{
		MaxRetries:    2,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
	client, err := courierhttp.NewHTTPClient(httpCfg, logging.NewNoopLogger())
	require.NoError(t, err)
	t.Cleanup(client.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = server.URL

	_, err = Bootstrap(context.Background(), Credentials{Cookies: validCookies()}, client, cfg, logging.NewNoopLogger())

	var transportErr *wire.TransportError
	require.ErrorAs(t, err, &transportErr)

	var httpErr *courierhttp.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
}

func TestBootstrapCheckpointRedirect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/checkpoint/block" {
			fmt.Fprint(w, `<html><body><form action="/checkpoint/block/submit"></form></body></html>`)
			return
		}
		http.Redirect(w, r, "/checkpoint/block", http.StatusFound)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = server.URL

	_, err := Bootstrap(context.Background(), Credentials{Cookies: validCookies()}, newTestClient(t), cfg, logging.NewNoopLogger())

	var checkpointErr *CheckpointError
	require.ErrorAs(t, err, &checkpointErr)
	assert.Contains(t, checkpointErr.URL, "/checkpoint/block")
}

func TestBootstrapStaleCookies(t *testing.T) {
	// A logged-out page still parses but carries no viewer block.
	page := `<html><head>
<script type="application/json" data-block="security">{"token": "t", "checksum": "c"}</script>
</head></html>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = server.URL

	_, err := Bootstrap(context.Background(), Credentials{Cookies: validCookies()}, newTestClient(t), cfg, logging.NewNoopLogger())

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Reason, "stale")
}

func TestCredentialLoginFlow(t *testing.T) {
	attempts := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/method/auth.login", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		attempts++
		if r.PostForm.Get("twofactor_code") == "" {
			json.NewEncoder(w).Encode(map[string]any{
				"error_code": 406,
				"error_msg":  "two factor required",
				"error_data": map[string]string{"login_first_factor": "challenge-77"},
			})
			return
		}
		assert.Equal(t, "123456", r.PostForm.Get("twofactor_code"))
		assert.Equal(t, "challenge-77", r.PostForm.Get("first_factor"))
		json.NewEncoder(w).Encode(map[string]any{
			"uid":         100012345,
			"session_key": "sk",
			"session_cookies": []map[string]string{
				{"name": "c_account", "value": "100012345", "domain": ".relaymsg.com", "path": "/"},
				{"name": "xs", "value": "fresh", "domain": ".relaymsg.com", "path": "/"},
			},
		})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, testPage)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = server.URL
	cfg.AuthURL = server.URL + "/method/auth.login"

	creds := Credentials{
		Username:      "user@example.com",
		Password:      "hunter2",
		TwoFactorCode: "123456",
	}
	sess, err := Bootstrap(context.Background(), creds, newTestClient(t), cfg, logging.NewNoopLogger())
	require.NoError(t, err)

	assert.Equal(t, 2, attempts, "two-factor should retry the exchange exactly once")
	assert.Equal(t, "100012345", sess.AccountID())
}

func TestCredentialLoginTwoFactorWithoutCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"error_code": 406,
			"error_data": map[string]string{"login_first_factor": "challenge-9"},
		})
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = server.URL
	cfg.AuthURL = server.URL + "/method/auth.login"

	_, err := Bootstrap(context.Background(), Credentials{Username: "u", Password: "p"}, newTestClient(t), cfg, logging.NewNoopLogger())

	var twoFactorErr *TwoFactorRequiredError
	require.ErrorAs(t, err, &twoFactorErr)
	assert.Equal(t, "challenge-9", twoFactorErr.ChallengeID)
}

func TestCredentialLoginRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"error_code": 401, "error_msg": "wrong password"})
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = server.URL
	cfg.AuthURL = server.URL + "/method/auth.login"

	_, err := Bootstrap(context.Background(), Credentials{Username: "u", Password: "p"}, newTestClient(t), cfg, logging.NewNoopLogger())

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Reason, "wrong password")
}

func TestRefreshToken(t *testing.T) {
	rotated := `<html><head>
<script type="application/json" data-block="viewer">{"account_id": "100012345"}</script>
<script type="application/json" data-block="security">{"token": "rotated-token", "checksum": "rc"}</script>
</head></html>`
	first := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if first {
			first = false
			fmt.Fprint(w, testPage)
			return
		}
		fmt.Fprint(w, rotated)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = server.URL

	sess, err := Bootstrap(context.Background(), Credentials{Cookies: validCookies()}, newTestClient(t), cfg, logging.NewNoopLogger())
	require.NoError(t, err)

	require.NoError(t, sess.RefreshToken(context.Background()))
	token, checksum := sess.CSRFToken()
	assert.Equal(t, "rotated-token", token)
	assert.Equal(t, "rc", checksum)
}

func TestCookieRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, testPage)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = server.URL

	sess, err := Bootstrap(context.Background(), Credentials{Cookies: validCookies()}, newTestClient(t), cfg, logging.NewNoopLogger())
	require.NoError(t, err)

	path := t.TempDir() + "/cookies.yaml"
	require.NoError(t, sess.SaveCookies(path))

	loaded, err := LoadCookies(path)
	require.NoError(t, err)

	names := make(map[string]string)
	for _, c := range loaded {
		names[c.Name] = c.Value
	}
	assert.Equal(t, "100012345", names["c_account"])
	assert.Equal(t, "opaque-session-token", names["xs"])
}

func TestInstallCookiesTargetsOrigin(t *testing.T) {
	client := newTestClient(t)
	u, _ := url.Parse("https://web.relaymsg.com/")
	installCookies(client, u, validCookies())

	got := client.Cookies(u)
	require.NotEmpty(t, got)
}
