package session

import "fmt"

// AuthError indicates bad credentials or cookies. It is fatal: the caller must
// supply new credentials, no retry will help.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// CheckpointError indicates the account is locked behind a verification or
// review interstitial that the client cannot clear programmatically.
type CheckpointError struct {
	URL string
}

func (e *CheckpointError) Error() string {
	if e.URL == "" {
		return "account requires checkpoint verification"
	}
	return fmt.Sprintf("account requires checkpoint verification: %s", e.URL)
}

// TwoFactorRequiredError indicates login needs a one-time code and neither a
// TOTP secret nor a pre-supplied code was available.
type TwoFactorRequiredError struct {
	ChallengeID string
}

func (e *TwoFactorRequiredError) Error() string {
	return "two-factor code required"
}
