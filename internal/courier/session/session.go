package session

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	courierhttp "github.com/courier-im/courier/pkg/http"
)

// ResumeCursor is the (sequence id, sync token) pair that lets a new
// connection resume the event stream without loss or duplication. On first
// connect only the sequence id is known.
type ResumeCursor struct {
	SequenceID int64  `yaml:"sequence_id"`
	SyncToken  string `yaml:"sync_token"`
}

// Established reports whether a resumable stream exists (a sync token has
// been handed out by the server).
func (c ResumeCursor) Established() bool {
	return c.SyncToken != ""
}

// Session owns the authenticated cookie store (via the HTTP client's jar),
// the current CSRF token pair, and the identifiers derived at bootstrap.
// Region and application id are immutable once bootstrapped; the CSRF token
// rotates; the client id rotates per reconnect. All mutation goes through
// the session mutex so a token refresh can never interleave with a publish
// reading the token.
type Session struct {
	mu sync.Mutex

	accountID          string
	secondaryAccountID string
	region             string
	appID              string
	deviceID           string
	endpoint           string
	userAgent          string

	clientID     string
	csrfToken    string
	csrfChecksum string
	baseURL      string

	cursor ResumeCursor

	nextRequestID int64
	nextTaskID    int64

	http courierhttp.HTTPClientInterface
}

// AccountID returns the primary account id.
func (s *Session) AccountID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountID
}

// SecondaryAccountID returns the secondary account id, if any.
func (s *Session) SecondaryAccountID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.secondaryAccountID
}

// Region returns the region code assigned at bootstrap.
func (s *Session) Region() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.region
}

// AppID returns the application id assigned at bootstrap.
func (s *Session) AppID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appID
}

// DeviceID returns the device id recovered from the landing page.
func (s *Session) DeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceID
}

// Endpoint returns the realtime endpoint URL. Empty when the landing page
// carried no region parameters; the transport then falls back to the
// unparameterized endpoint.
func (s *Session) Endpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint
}

// UserAgent returns the user agent the session was bootstrapped with.
func (s *Session) UserAgent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userAgent
}

// ClientID returns the current client identity.
func (s *Session) ClientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID
}

// RotateClientID generates a fresh client identity for the next connect and
// returns it.
func (s *Session) RotateClientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientID = uuid.NewString()
	return s.clientID
}

// CSRFToken returns the current CSRF token and checksum.
func (s *Session) CSRFToken() (token, checksum string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.csrfToken, s.csrfChecksum
}

// SetCSRFToken installs a rotated CSRF token pair.
func (s *Session) SetCSRFToken(token, checksum string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.csrfToken = token
	s.csrfChecksum = checksum
}

// Cursor returns the current resume cursor.
func (s *Session) Cursor() ResumeCursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// AdvanceCursor moves the cursor forward. A sequence id lower than the
// current one is ignored; the cursor never resets backward. An empty token
// keeps the existing one.
func (s *Session) AdvanceCursor(sequenceID int64, syncToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sequenceID > s.cursor.SequenceID {
		s.cursor.SequenceID = sequenceID
	}
	if syncToken != "" {
		s.cursor.SyncToken = syncToken
	}
}

// RestoreCursor installs a cursor serialized by a previous process. It is
// only accepted while no cursor has been established yet.
func (s *Session) RestoreCursor(cursor ResumeCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor.SequenceID != 0 || s.cursor.SyncToken != "" {
		return fmt.Errorf("cursor already established, refusing to reset")
	}
	s.cursor = cursor
	return nil
}

// ResetCursor throws the cursor away and starts over from a fresh sequence
// id. Only used after the server reports the stream expired; deltas between
// the old cursor and the new head are lost.
func (s *Session) ResetCursor(sequenceID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = ResumeCursor{SequenceID: sequenceID}
}

// NextRequestID returns the next request id, monotonically increasing for the
// session's lifetime. Safe for concurrent callers.
func (s *Session) NextRequestID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRequestID++
	return s.nextRequestID
}

// NextTaskID returns the next task id, monotonically increasing for the
// session's lifetime. Safe for concurrent callers.
func (s *Session) NextTaskID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTaskID++
	return s.nextTaskID
}

// BaseURL returns the web origin this session was bootstrapped against.
func (s *Session) BaseURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseURL
}

// HTTP returns the session-scoped HTTP client (cookie jar included).
func (s *Session) HTTP() courierhttp.HTTPClientInterface {
	return s.http
}
