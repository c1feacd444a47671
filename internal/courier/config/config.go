package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"

	"github.com/courier-im/courier/pkg/env"
)

type Config struct {
	devMode bool

	baseURL   string
	authURL   string
	userAgent string

	cookieFile     string
	labelTablePath string

	username   string
	password   string
	totpSecret string

	selfListen        bool
	autoMarkDelivered bool
	presenceInterval  time.Duration
	callTimeout       time.Duration
	refreshSchedule   string

	metricsPort string
}

var cfg Config

// Init loads .env (when present) and populates the process configuration.
func Init() error {
	_ = godotenv.Load()

	cfg = Config{
		devMode:           env.GetEnvBool("DEV_MODE", false),
		baseURL:           env.GetEnvString("COURIER_BASE_URL", "https://web.relaymsg.com"),
		authURL:           env.GetEnvString("COURIER_AUTH_URL", "https://b-api.relaymsg.com/method/auth.login"),
		userAgent:         env.GetEnvString("COURIER_USER_AGENT", ""),
		cookieFile:        env.GetEnvString("COURIER_COOKIE_FILE", "cookies.yaml"),
		labelTablePath:    env.GetEnvString("COURIER_LABEL_TABLE", ""),
		username:          env.GetEnvString("COURIER_USERNAME", ""),
		password:          env.GetEnvString("COURIER_PASSWORD", ""),
		totpSecret:        env.GetEnvString("COURIER_TOTP_SECRET", ""),
		selfListen:        env.GetEnvBool("COURIER_SELF_LISTEN", false),
		autoMarkDelivered: env.GetEnvBool("COURIER_AUTO_MARK_DELIVERED", true),
		presenceInterval:  env.GetEnvDuration("COURIER_PRESENCE_INTERVAL", 0),
		callTimeout:       env.GetEnvDuration("COURIER_CALL_TIMEOUT", 20*time.Second),
		refreshSchedule:   env.GetEnvString("COURIER_TOKEN_REFRESH_SCHEDULE", "0 */6 * * *"),
		metricsPort:       env.GetEnvString("COURIER_METRICS_PORT", ""),
	}
	return cfg.validate()
}

func (c *Config) validate() error {
	if !env.IsValidURL(c.baseURL) {
		return fmt.Errorf("invalid COURIER_BASE_URL: %s", c.baseURL)
	}
	if !env.IsValidURL(c.authURL) {
		return fmt.Errorf("invalid COURIER_AUTH_URL: %s", c.authURL)
	}
	if c.username != "" && !env.IsValidEmail(c.username) {
		return fmt.Errorf("invalid COURIER_USERNAME: %s", c.username)
	}
	if c.totpSecret != "" && !env.IsValidTOTPSecret(c.totpSecret) {
		return fmt.Errorf("COURIER_TOTP_SECRET is not a base32 secret")
	}
	if c.metricsPort != "" && !env.IsValidPort(c.metricsPort) {
		return fmt.Errorf("invalid COURIER_METRICS_PORT: %s", c.metricsPort)
	}
	if c.callTimeout <= 0 {
		return fmt.Errorf("COURIER_CALL_TIMEOUT must be positive")
	}
	return nil
}

func IsDevMode() bool               { return cfg.devMode }
func GetBaseURL() string            { return cfg.baseURL }
func GetAuthURL() string            { return cfg.authURL }
func GetUserAgent() string          { return cfg.userAgent }
func GetCookieFile() string         { return cfg.cookieFile }
func GetLabelTablePath() string     { return cfg.labelTablePath }
func GetUsername() string           { return cfg.username }
func GetPassword() string           { return cfg.password }
func GetTOTPSecret() string         { return cfg.totpSecret }
func IsSelfListen() bool            { return cfg.selfListen }
func IsAutoMarkDelivered() bool     { return cfg.autoMarkDelivered }
func GetPresenceInterval() time.Duration { return cfg.presenceInterval }
func GetCallTimeout() time.Duration { return cfg.callTimeout }
func GetRefreshSchedule() string    { return cfg.refreshSchedule }
func GetMetricsPort() string        { return cfg.metricsPort }
