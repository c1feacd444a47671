package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/courier-im/courier/internal/courier/session"
	"github.com/courier-im/courier/pkg/logging"
)

// queryPath is the structured-query endpoint relative to the web origin.
const queryPath = "/api/query"

// maxResponseSize bounds a single query response.
const maxResponseSize = 8 << 20

// Client runs structured queries against the HTTP API using the session's
// cookie jar and CSRF token. Queries are read-only; mutations go through the
// realtime task queue.
type Client struct {
	sess   *session.Session
	logger logging.Logger
}

// NewClient builds a query client bound to the session.
func NewClient(sess *session.Session, logger logging.Logger) *Client {
	return &Client{sess: sess, logger: logger}
}

// envelope is the common response shape of the query endpoint.
type envelope struct {
	Data      json.RawMessage `json:"data"`
	Paging    *paging         `json:"paging,omitempty"`
	ErrorCode int             `json:"error,omitempty"`
	ErrorMsg  string          `json:"error_msg,omitempty"`
}

type paging struct {
	Next string `json:"next,omitempty"`
}

// RequestError is a query rejected by the server.
type RequestError struct {
	Query   string
	Code    int
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("query %s rejected (%d): %s", e.Query, e.Code, e.Message)
}

// errCodeStaleToken is the rejection the server sends when the CSRF token
// rotated underneath us.
const errCodeStaleToken = 1357004

// do posts one named query. A stale-token rejection triggers one token
// refresh and one retry; pagination cursors ride in params and the returned
// cursor is empty on the last page.
func (c *Client) do(ctx context.Context, name string, params map[string]string, out interface{}) (string, error) {
	next, err := c.post(ctx, name, params, out)
	var qe *RequestError
	if errors.As(err, &qe) && qe.Code == errCodeStaleToken {
		c.logger.Info("Query rejected with a stale token, refreshing", "query", name)
		if rerr := c.sess.RefreshToken(ctx); rerr != nil {
			return "", fmt.Errorf("token refresh after stale %s query: %w", name, rerr)
		}
		return c.post(ctx, name, params, out)
	}
	return next, err
}

func (c *Client) post(ctx context.Context, name string, params map[string]string, out interface{}) (string, error) {
	token, checksum := c.sess.CSRFToken()

	form := url.Values{}
	form.Set("q", name)
	form.Set("token", token)
	form.Set("checksum", checksum)
	form.Set("account_id", c.sess.AccountID())
	for k, v := range params {
		form.Set(k, v)
	}

	resp, err := c.sess.HTTP().PostForm(ctx, c.sess.BaseURL()+queryPath, form)
	if err != nil {
		return "", fmt.Errorf("query %s failed: %w", name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("failed to read %s response: %w", name, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", fmt.Errorf("unparseable %s response: %w", name, err)
	}
	if env.ErrorCode != 0 {
		return "", &RequestError{Query: name, Code: env.ErrorCode, Message: env.ErrorMsg}
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return "", fmt.Errorf("unexpected %s data shape: %w", name, err)
		}
	}
	if env.Paging != nil {
		return env.Paging.Next, nil
	}
	return "", nil
}

// InitialSequenceID fetches the stream's current head without loading the
// full landing page. Used when creating a stream after cursor expiry.
func (c *Client) InitialSequenceID(ctx context.Context) (int64, error) {
	var data struct {
		SequenceID int64 `json:"seq_id"`
	}
	if _, err := c.do(ctx, "sequence_head", nil, &data); err != nil {
		return 0, err
	}
	if data.SequenceID == 0 {
		return 0, fmt.Errorf("sequence_head returned no sequence id")
	}
	return data.SequenceID, nil
}

// Thread is one conversation summary from the thread list.
type Thread struct {
	ThreadID     string   `json:"thread_id"`
	Name         string   `json:"name,omitempty"`
	Participants []string `json:"participants"`
	IsGroup      bool     `json:"is_group"`
	UnreadCount  int      `json:"unread_count"`
	LastActivity int64    `json:"last_activity"`
}

// Threads fetches one page of the account's thread list, most recent first.
// An empty cursor starts from the top; the returned cursor fetches the next
// page and is empty on the last one.
func (c *Client) Threads(ctx context.Context, limit int, cursor string) ([]Thread, string, error) {
	params := map[string]string{"limit": fmt.Sprintf("%d", limit)}
	if cursor != "" {
		params["cursor"] = cursor
	}
	var data struct {
		Threads []Thread `json:"threads"`
	}
	next, err := c.do(ctx, "thread_list", params, &data)
	if err != nil {
		return nil, "", err
	}
	return data.Threads, next, nil
}

// Theme is one entry of the thread theme catalog.
type Theme struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Color       string `json:"accessibility_label,omitempty"`
	GradientHex string `json:"gradient,omitempty"`
}

// ThemeCatalog fetches one page of the selectable thread themes.
func (c *Client) ThemeCatalog(ctx context.Context, limit int, cursor string) ([]Theme, string, error) {
	params := map[string]string{"limit": fmt.Sprintf("%d", limit)}
	if cursor != "" {
		params["cursor"] = cursor
	}
	var data struct {
		Themes []Theme `json:"themes"`
	}
	next, err := c.do(ctx, "theme_catalog", params, &data)
	if err != nil {
		return nil, "", err
	}
	return data.Themes, next, nil
}

// ResolveAttachmentURL exchanges an attachment id for a fetchable URL.
// Delta frames carry photo attachments by id only; the URL is minted on
// demand and expires.
func (c *Client) ResolveAttachmentURL(ctx context.Context, attachmentID string) (string, error) {
	var data struct {
		URL string `json:"url"`
	}
	if _, err := c.do(ctx, "attachment_url", map[string]string{"attachment_id": attachmentID}, &data); err != nil {
		return "", err
	}
	if data.URL == "" {
		return "", fmt.Errorf("no URL for attachment %s", attachmentID)
	}
	return data.URL, nil
}
