package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
)

// GenerateTOTP derives the current time-based one-time code from a base32
// secret. Spaces and lowercase letters are tolerated since secrets are
// usually pasted out of the service's settings page.
func GenerateTOTP(secret string) (string, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(secret, " ", ""))
	code, err := totp.GenerateCode(normalized, time.Now())
	if err != nil {
		return "", fmt.Errorf("invalid TOTP secret: %w", err)
	}
	return code, nil
}
