package courier

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courier-im/courier/internal/courier/session"
	"github.com/courier-im/courier/pkg/logging"
)

func newLoginServer(t *testing.T) *httptest.Server {
	t.Helper()
	page := `<html><head>
<script type="application/json" data-block="sync-params">{"seq_id": 70, "device_id": "dev-1"}</script>
<script type="application/json" data-block="viewer">{"account_id": "100088000"}</script>
<script type="application/json" data-block="security">{"token": "tok", "checksum": "ck"}</script>
</head></html>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestLoginAssemblesClient(t *testing.T) {
	server := newLoginServer(t)

	cfg := DefaultClientConfig()
	cfg.Session.BaseURL = server.URL

	client, err := Login(context.Background(),
		session.Credentials{Cookies: []session.StoredCookie{{Name: "c_account", Value: "100088000"}}},
		cfg, logging.NewNoopLogger())
	require.NoError(t, err)
	defer client.Stop()

	assert.Equal(t, "100088000", client.Session().AccountID())
	assert.NotNil(t, client.Queries())
	assert.NotNil(t, client.Tasks())
	assert.Equal(t, StateIdle, client.State())
	assert.Equal(t, int64(70), client.Session().Cursor().SequenceID)
}

func TestLoginRejectsBadCookies(t *testing.T) {
	server := newLoginServer(t)

	cfg := DefaultClientConfig()
	cfg.Session.BaseURL = server.URL

	_, err := Login(context.Background(),
		session.Credentials{Cookies: []session.StoredCookie{{Name: "irrelevant", Value: "x"}}},
		cfg, logging.NewNoopLogger())

	var authErr *session.AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestClientCookieRoundTrip(t *testing.T) {
	server := newLoginServer(t)

	cfg := DefaultClientConfig()
	cfg.Session.BaseURL = server.URL

	client, err := Login(context.Background(),
		session.Credentials{Cookies: []session.StoredCookie{{Name: "c_account", Value: "100088000"}}},
		cfg, logging.NewNoopLogger())
	require.NoError(t, err)
	defer client.Stop()

	path := t.TempDir() + "/cookies.yaml"
	require.NoError(t, client.SaveCookies(path))

	cookies, err := session.LoadCookies(path)
	require.NoError(t, err)
	assert.NotEmpty(t, cookies)
}
