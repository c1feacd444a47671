package session

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/courier-im/courier/pkg/logging"
)

// RefreshToken re-fetches the landing page and installs the CSRF token pair
// it carries. The service rotates tokens roughly daily; publishing a mutation
// with a stale token gets the whole request silently dropped, so long-lived
// processes refresh proactively.
func (s *Session) RefreshToken(ctx context.Context) error {
	pageCfg, err := fetchPageConfig(ctx, s.HTTP(), s.BaseURL())
	if err != nil {
		return fmt.Errorf("token refresh failed: %w", err)
	}
	if pageCfg.CSRFToken == "" {
		return &AuthError{Reason: "refresh page carries no security token, session expired"}
	}
	s.SetCSRFToken(pageCfg.CSRFToken, pageCfg.CSRFChecksum)
	return nil
}

// Refresher schedules periodic RefreshToken calls on a cron expression.
type Refresher struct {
	cron    *cron.Cron
	session *Session
	logger  logging.Logger
}

// NewRefresher builds a stopped refresher for the given session.
func NewRefresher(sess *Session, logger logging.Logger) *Refresher {
	return &Refresher{
		cron:    cron.New(),
		session: sess,
		logger:  logger,
	}
}

// Start begins refreshing on the given cron schedule, e.g. "0 */6 * * *" for
// every six hours. Failures are logged and retried at the next tick.
func (r *Refresher) Start(schedule string) error {
	_, err := r.cron.AddFunc(schedule, func() {
		if err := r.session.RefreshToken(context.Background()); err != nil {
			r.logger.Warn("Scheduled token refresh failed", "error", err)
			return
		}
		r.logger.Debug("Security token refreshed")
	})
	if err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", schedule, err)
	}
	r.cron.Start()
	return nil
}

// Stop halts the schedule. Already-running refreshes finish on their own.
func (r *Refresher) Stop() {
	r.cron.Stop()
}
