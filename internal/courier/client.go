package courier

import (
	"context"
	"time"

	"github.com/courier-im/courier/internal/courier/delta"
	"github.com/courier-im/courier/internal/courier/query"
	"github.com/courier-im/courier/internal/courier/session"
	"github.com/courier-im/courier/internal/courier/task"
	"github.com/courier-im/courier/internal/courier/transport"
	"github.com/courier-im/courier/internal/courier/wire"
	courierhttp "github.com/courier-im/courier/pkg/http"
	"github.com/courier-im/courier/pkg/logging"
	"github.com/courier-im/courier/pkg/metrics"
	"github.com/courier-im/courier/pkg/retry"
)

// Config gathers every layer's knobs under one roof. Zero values pick
// defaults throughout.
type Config struct {
	// Session holds the endpoints for bootstrap and token refresh.
	Session session.Config
	// HTTP configures the shared HTTP client (cookie jar included).
	HTTP *courierhttp.HTTPRetryConfig
	// Transport configures each tunnel.
	Transport *transport.Config
	// Reconnect is the backoff policy between reconnect attempts.
	Reconnect *retry.Config
	// Decoder tunes event filtering.
	Decoder delta.Options
	// LabelTablePath optionally points at a YAML task-label override file.
	LabelTablePath string
	// AutoMarkDelivered sends a delivery receipt for every received message.
	AutoMarkDelivered bool
	// TokenRefreshSchedule is a cron expression for proactive CSRF token
	// refresh. Empty disables it.
	TokenRefreshSchedule string
	// EventBuffer is the subscriber channel depth.
	EventBuffer int
	// Metrics, when non-nil, receives wire-level counters.
	Metrics *metrics.WireMetrics
}

// DefaultClientConfig returns the defaults the client was tested with.
func DefaultClientConfig() *Config {
	return &Config{
		Session:              session.DefaultConfig(),
		HTTP:                 courierhttp.DefaultHTTPRetryConfig(),
		Transport:            transport.DefaultConfig(),
		Reconnect:            retry.DefaultConfig(),
		AutoMarkDelivered:    true,
		TokenRefreshSchedule: "0 */6 * * *",
		EventBuffer:          256,
	}
}

// Client is the high-level messenger client: session, query access, the task
// runner, and the supervised realtime stream behind one surface.
type Client struct {
	sess       *session.Session
	config     *Config
	logger     logging.Logger
	queries    *query.Client
	runner     *task.Runner
	supervisor *Supervisor
	refresher  *session.Refresher
}

// Login authenticates and assembles a client. The connection is not dialed
// until Subscribe; queries and the session are usable immediately.
func Login(ctx context.Context, creds session.Credentials, config *Config, logger logging.Logger) (*Client, error) {
	if config == nil {
		config = DefaultClientConfig()
	}
	if config.Transport == nil {
		config.Transport = transport.DefaultConfig()
	}
	if config.Reconnect == nil {
		config.Reconnect = retry.DefaultConfig()
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = 256
	}

	httpClient, err := courierhttp.NewHTTPClient(config.HTTP, logger)
	if err != nil {
		return nil, err
	}

	sess, err := session.Bootstrap(ctx, creds, httpClient, config.Session, logger)
	if err != nil {
		httpClient.Close()
		return nil, err
	}

	labels := task.DefaultLabelTable()
	if config.LabelTablePath != "" {
		labels, err = task.LoadLabelTable(config.LabelTablePath)
		if err != nil {
			httpClient.Close()
			return nil, err
		}
	}

	queries := query.NewClient(sess, logger)
	decoder := delta.NewDecoder(sess, config.Decoder, logger, config.Metrics)
	decoder.SetResolver(queries)
	supervisor := newSupervisor(sess, config, decoder, queries, logger, config.Metrics)
	runner := task.NewRunner(sess, supervisor, labels, logger, config.Metrics)

	c := &Client{
		sess:       sess,
		config:     config,
		logger:     logger,
		queries:    queries,
		runner:     runner,
		supervisor: supervisor,
	}

	if config.AutoMarkDelivered {
		supervisor.onMessage = c.markDelivered
	}
	if config.TokenRefreshSchedule != "" {
		c.refresher = session.NewRefresher(sess, logger)
		if err := c.refresher.Start(config.TokenRefreshSchedule); err != nil {
			httpClient.Close()
			return nil, err
		}
	}
	return c, nil
}

// Subscribe dials the realtime stream and returns the event channel. The
// channel stays open across reconnects and closes only when the client stops
// or the supervisor gives up; in the latter case the final event is
// Disconnected.
func (c *Client) Subscribe(ctx context.Context) (<-chan delta.Event, error) {
	if err := c.supervisor.Start(ctx); err != nil {
		return nil, err
	}
	return c.supervisor.Events(), nil
}

// markDelivered acknowledges one received message, best effort.
func (c *Client) markDelivered(msg delta.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	key := wire.ThreadKey{ThreadID: msg.ThreadID}
	if err := c.runner.MarkDelivered(ctx, key, msg.MessageID); err != nil {
		c.logger.Debug("Failed to mark message delivered", "message_id", msg.MessageID, "error", err)
	}
}

// Session exposes the authenticated session (cursor, cookies, tokens).
func (c *Client) Session() *session.Session {
	return c.sess
}

// Queries exposes the structured-query client.
func (c *Client) Queries() *query.Client {
	return c.queries
}

// Tasks exposes the mutation runner (sends, reactions, thread management).
func (c *Client) Tasks() *task.Runner {
	return c.runner
}

// State reports the connection supervisor's state.
func (c *Client) State() State {
	return c.supervisor.State()
}

// SendText is shorthand for Tasks().SendText against a group thread.
func (c *Client) SendText(ctx context.Context, threadID, text string, opts ...task.MessageOption) (*task.SendReceipt, error) {
	return c.runner.SendText(ctx, wire.ThreadKey{ThreadID: threadID}, text, opts...)
}

// SendDirect is shorthand for Tasks().SendText against a one-to-one
// conversation addressed by the other account's id.
func (c *Client) SendDirect(ctx context.Context, otherUserID, text string, opts ...task.MessageOption) (*task.SendReceipt, error) {
	return c.runner.SendText(ctx, wire.ThreadKey{OtherUserID: otherUserID}, text, opts...)
}

// RunCommand publishes one task by label name against a thread, for callers
// driving commands dynamically. Typed helpers on Tasks() cover the common
// operations.
func (c *Client) RunCommand(ctx context.Context, label, threadID string, body interface{}) (*wire.TaskAck, error) {
	return c.runner.Run(ctx, task.Spec{Label: label, Queue: "thread_" + threadID, Body: body})
}

// Stop tears everything down: the stream, the refresher, and the HTTP client.
// Safe to call before Subscribe.
func (c *Client) Stop() {
	if c.refresher != nil {
		c.refresher.Stop()
	}
	if c.supervisor.State() != StateIdle && c.supervisor.State() != StateFailed {
		c.supervisor.Stop()
	}
	c.sess.HTTP().Close()
}

// SaveCookies persists the session's cookies for a later Login.
func (c *Client) SaveCookies(path string) error {
	return c.sess.SaveCookies(path)
}
