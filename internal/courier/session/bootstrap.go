package session

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/courier-im/courier/internal/courier/wire"
	courierhttp "github.com/courier-im/courier/pkg/http"
	"github.com/courier-im/courier/pkg/logging"
)

// Cookie names carrying the authenticated account identity.
const (
	cookiePrimaryAccount   = "c_account"
	cookieSecondaryAccount = "s_account"
)

// maxPageSize bounds how much of the landing page we read looking for the
// embedded configuration blocks.
const maxPageSize = 4 << 20

// Config holds the endpoints and identity parameters for session bootstrap.
type Config struct {
	// BaseURL is the web origin serving the landing page and lightweight
	// token pages.
	BaseURL string
	// AuthURL is the mobile-style authentication endpoint used for
	// credential login.
	AuthURL string
	// UserAgent is sent on every HTTP request and on the realtime handshake.
	UserAgent string
}

// DefaultConfig returns the endpoints the client was tested against.
func DefaultConfig() Config {
	return Config{
		BaseURL:   "https://web.relaymsg.com",
		AuthURL:   "https://b-api.relaymsg.com/method/auth.login",
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0",
	}
}

// Validate checks the config for usable values.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("BaseURL is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("invalid BaseURL: %w", err)
	}
	if c.AuthURL == "" {
		return fmt.Errorf("AuthURL is required")
	}
	return nil
}

// StoredCookie is one serialized cookie, the shape callers persist between
// process runs.
type StoredCookie struct {
	Name   string `yaml:"name" json:"name"`
	Value  string `yaml:"value" json:"value"`
	Domain string `yaml:"domain,omitempty" json:"domain,omitempty"`
	Path   string `yaml:"path,omitempty" json:"path,omitempty"`
}

// Credentials selects one of the two bootstrap paths: a stored cookie set, or
// a username/password pair with an optional two-factor secret or code.
type Credentials struct {
	Cookies []StoredCookie

	Username      string
	Password      string
	TOTPSecret    string
	TwoFactorCode string
}

// Bootstrap turns credentials into an authenticated Session. Cookie sets go
// straight to the landing-page scan; username/password first runs the
// credential login and then continues down the same path.
func Bootstrap(ctx context.Context, creds Credentials, httpClient courierhttp.HTTPClientInterface, cfg Config, logger logging.Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}

	cookies := creds.Cookies
	if len(cookies) == 0 {
		if creds.Username == "" {
			return nil, &AuthError{Reason: "no cookies and no credentials supplied"}
		}
		loginCookies, err := loginWithCredentials(ctx, creds, httpClient, cfg, logger)
		if err != nil {
			return nil, err
		}
		cookies = loginCookies
	}

	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid BaseURL: %w", err)
	}
	installCookies(httpClient, baseURL, cookies)

	if !hasAccountCookie(cookies) {
		return nil, &AuthError{Reason: "cookie set carries no account identity"}
	}

	pageCfg, err := fetchPageConfig(ctx, httpClient, cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	if pageCfg.AccountID == "" {
		return nil, &AuthError{Reason: "landing page carries no viewer, cookies are stale"}
	}
	if pageCfg.CSRFToken == "" {
		return nil, &AuthError{Reason: "landing page carries no security token"}
	}

	sess := &Session{
		accountID:          pageCfg.AccountID,
		secondaryAccountID: pageCfg.SecondaryAccountID,
		region:             pageCfg.Region,
		appID:              pageCfg.AppID,
		deviceID:           pageCfg.DeviceID,
		endpoint:           pageCfg.Endpoint,
		userAgent:          cfg.UserAgent,
		clientID:           uuid.NewString(),
		csrfToken:          pageCfg.CSRFToken,
		csrfChecksum:       pageCfg.CSRFChecksum,
		baseURL:            cfg.BaseURL,
		http:               httpClient,
	}
	if pageCfg.DeviceID == "" {
		sess.deviceID = uuid.NewString()
	}
	sess.cursor.SequenceID = pageCfg.InitialSequenceID

	logger.Info("Session bootstrapped",
		"account_id", sess.accountID,
		"region", sess.region,
		"initial_seq_id", pageCfg.InitialSequenceID)

	return sess, nil
}

// fetchPageConfig fetches one HTML page and extracts its embedded blocks.
// A redirect into the checkpoint flow is reported as CheckpointError even
// when the page itself parses.
func fetchPageConfig(ctx context.Context, httpClient courierhttp.HTTPClientInterface, pageURL string) (*PageConfig, error) {
	resp, err := httpClient.Get(ctx, pageURL)
	if err != nil {
		return nil, &wire.TransportError{Op: "fetch " + pageURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &AuthError{Reason: fmt.Sprintf("landing page returned HTTP %d", resp.StatusCode)}
	}
	if final := resp.Request; final != nil && final.URL != nil && containsCheckpoint(final.URL.Path) {
		return nil, &CheckpointError{URL: final.URL.String()}
	}

	page, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read landing page: %w", err)
	}
	return ExtractPageConfig(page)
}

func containsCheckpoint(path string) bool {
	return len(path) >= len("/checkpoint") && path[:len("/checkpoint")] == "/checkpoint"
}

func installCookies(httpClient courierhttp.HTTPClientInterface, baseURL *url.URL, cookies []StoredCookie) {
	httpCookies := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		httpCookies = append(httpCookies, &http.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
		})
	}
	httpClient.SetCookies(baseURL, httpCookies)
}

func hasAccountCookie(cookies []StoredCookie) bool {
	for _, c := range cookies {
		if (c.Name == cookiePrimaryAccount || c.Name == cookieSecondaryAccount) && c.Value != "" {
			return true
		}
	}
	return false
}
