package otpservice

import (
	"errors"
	"time"

	"github.com/dj-pearson/project-profit-radar-sub001/jwt"
	"github.com/dj-pearson/project-profit-radar-sub001/password"
)

// Config configures the reference OTP backend.
type Config struct {
	/* ==== CODES ==== */

	CodeDigits           int
	CodeTTL              time.Duration
	MaxAttempts          int
	CodeKeyPrefix        string
	SendWindow           time.Duration
	MaxSendsPerWindow    int
	MaxVerifiesPerWindow int
	ThrottleByIP         bool

	/* ==== ACCOUNTS ==== */

	Hashing password.Config
	Policy  password.PolicyConfig

	/* ==== SIGN-IN ==== */

	JWT jwt.Config

	// OAuthBaseURL is the authorize endpoint providers are redirected through.
	OAuthBaseURL string
	// OAuthRedirectTo is passed as redirect_to and is where the provider returns the user.
	OAuthRedirectTo string

	/* ==== MAIL ==== */

	From    string
	AppName string
}

// DefaultConfig returns 6-digit codes valid for 15 minutes with 5 attempts.
// JWT keys are left empty and must be supplied.
func DefaultConfig() Config {
	return Config{
		CodeDigits:           6,
		CodeTTL:              15 * time.Minute,
		MaxAttempts:          5,
		CodeKeyPrefix:        "otp",
		SendWindow:           time.Hour,
		MaxSendsPerWindow:    5,
		MaxVerifiesPerWindow: 20,
		ThrottleByIP:         true,
		Hashing:              password.DefaultConfig(),
		JWT: jwt.Config{
			AccessTTL:     time.Hour,
			SigningMethod: jwt.MethodEd25519,
			Issuer:        "authflow",
		},
		OAuthBaseURL: "http://localhost:8080/auth/authorize",
		From:         "no-reply@localhost",
		AppName:      "Authflow",
	}
}

// Validate checks the configuration for obviously broken values.
func (c *Config) Validate() error {
	if c.CodeDigits < 4 || c.CodeDigits > 10 {
		return errors.New("code digits must be between 4 and 10")
	}
	if c.CodeTTL < time.Minute {
		return errors.New("code TTL must be at least one minute")
	}
	if c.MaxAttempts <= 0 {
		return errors.New("max attempts must be > 0")
	}
	if c.SendWindow <= 0 && (c.MaxSendsPerWindow > 0 || c.MaxVerifiesPerWindow > 0) {
		return errors.New("send window must be > 0 when limits are set")
	}
	if c.From == "" {
		return errors.New("from address must be set")
	}
	return nil
}

func (c *Config) expiresInMinutes() int {
	return int((c.CodeTTL + time.Minute - 1) / time.Minute)
}
