package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	courierhttp "github.com/courier-im/courier/pkg/http"
	"github.com/courier-im/courier/pkg/logging"
)

// Error codes the auth endpoint sends back.
const (
	authErrLoginFailed       = 401
	authErrTwoFactorRequired = 406
	authErrCheckpoint        = 405
)

// loginResponse is the mobile-style auth endpoint's reply. On success the
// session cookies are delivered inline; on failure ErrorCode and ErrorData
// describe the rejection.
type loginResponse struct {
	AccountID   json.Number       `json:"uid"`
	SessionKey  string            `json:"session_key"`
	Cookies     []loginCookie     `json:"session_cookies"`
	ErrorCode   int               `json:"error_code"`
	ErrorMsg    string            `json:"error_msg"`
	ErrorData   loginErrorData    `json:"error_data"`
	MachineID   string            `json:"machine_id"`
	UserStorage map[string]string `json:"user_storage_key,omitempty"`
}

type loginCookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
	Path   string `json:"path"`
}

type loginErrorData struct {
	ChallengeID   string `json:"login_first_factor"`
	CheckpointURL string `json:"checkpoint_url"`
	MachineID     string `json:"machine_id"`
}

// loginWithCredentials runs the credential auth exchange. When the endpoint
// demands a second factor the exchange is retried exactly once with a code,
// either the caller-supplied one or a TOTP derived from the stored secret.
func loginWithCredentials(ctx context.Context, creds Credentials, httpClient courierhttp.HTTPClientInterface, cfg Config, logger logging.Logger) ([]StoredCookie, error) {
	deviceID := uuid.NewString()
	familyID := uuid.NewString()
	advertiserID := uuid.NewString()

	resp, err := postLogin(ctx, httpClient, cfg, creds, deviceID, familyID, advertiserID, "", "")
	if err != nil {
		return nil, err
	}

	if resp.ErrorCode == authErrTwoFactorRequired {
		code := creds.TwoFactorCode
		if code == "" && creds.TOTPSecret != "" {
			code, err = GenerateTOTP(creds.TOTPSecret)
			if err != nil {
				return nil, fmt.Errorf("failed to derive two-factor code: %w", err)
			}
		}
		if code == "" {
			return nil, &TwoFactorRequiredError{ChallengeID: resp.ErrorData.ChallengeID}
		}
		logger.Info("Two-factor challenge received, retrying with code")
		resp, err = postLogin(ctx, httpClient, cfg, creds, deviceID, familyID, advertiserID, code, resp.ErrorData.ChallengeID)
		if err != nil {
			return nil, err
		}
		if resp.ErrorCode == authErrTwoFactorRequired {
			return nil, &AuthError{Reason: "two-factor code rejected"}
		}
	}

	switch {
	case resp.ErrorCode == authErrCheckpoint:
		return nil, &CheckpointError{URL: resp.ErrorData.CheckpointURL}
	case resp.ErrorCode != 0:
		return nil, &AuthError{Reason: fmt.Sprintf("login rejected (%d): %s", resp.ErrorCode, resp.ErrorMsg)}
	case len(resp.Cookies) == 0:
		return nil, &AuthError{Reason: "login succeeded but no session cookies were issued"}
	}

	cookies := make([]StoredCookie, 0, len(resp.Cookies))
	for _, c := range resp.Cookies {
		cookies = append(cookies, StoredCookie{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path})
	}
	logger.Info("Credential login succeeded", "account_id", resp.AccountID.String())
	return cookies, nil
}

func postLogin(ctx context.Context, httpClient courierhttp.HTTPClientInterface, cfg Config, creds Credentials, deviceID, familyID, advertiserID, twoFactorCode, challengeID string) (*loginResponse, error) {
	form := url.Values{}
	form.Set("email", creds.Username)
	form.Set("password", creds.Password)
	form.Set("device_id", deviceID)
	form.Set("family_device_id", familyID)
	form.Set("advertiser_id", advertiserID)
	form.Set("generate_session_cookies", "1")
	form.Set("locale", "en_US")
	form.Set("format", "json")
	form.Set("credentials_type", "password")
	form.Set("error_detail_type", "button_with_disabled")
	form.Set("source", "login")
	form.Set("machine_id", generateMachineID())
	form.Set("currently_logged_in_userid", "0")
	if twoFactorCode != "" {
		form.Set("twofactor_code", twoFactorCode)
		form.Set("userid", challengeID)
		form.Set("first_factor", challengeID)
		form.Set("credentials_type", "two_factor")
	}

	resp, err := httpClient.PostForm(ctx, cfg.AuthURL, form)
	if err != nil {
		return nil, fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read auth response: %w", err)
	}

	var parsed loginResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &AuthError{Reason: "auth endpoint returned an unparseable response (HTTP " + strconv.Itoa(resp.StatusCode) + ")"}
	}
	return &parsed, nil
}

// generateMachineID produces the 24-character device fingerprint the auth
// endpoint expects on first contact.
func generateMachineID() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return uuid.NewString()[:24]
	}
	return hex.EncodeToString(buf)
}
