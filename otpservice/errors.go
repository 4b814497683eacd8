package otpservice

import (
	"errors"

	"github.com/dj-pearson/project-profit-radar-sub001/credstore"
	"github.com/dj-pearson/project-profit-radar-sub001/internal/limiters"
	"github.com/dj-pearson/project-profit-radar-sub001/internal/stores"
)

// Messages of code-related errors mention "code" so that callers relaying
// only the text can still route the user back to code entry.
var (
	// ErrInvalidCode is returned when the submitted code does not match.
	ErrInvalidCode = errors.New("invalid code")
	// ErrCodeExpired is returned when no live code exists for the email.
	ErrCodeExpired = errors.New("code expired or not found")
	// ErrCodeAttempts is returned when the code was burned by too many wrong guesses.
	ErrCodeAttempts = errors.New("too many code attempts")
	// ErrCodeInUse is returned while another request is completing a reset
	// with the same code.
	ErrCodeInUse = errors.New("code is already being used")
)

var (
	// ErrInvalidEmail is returned for empty or malformed addresses.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrInvalidPurpose is returned for an unknown code purpose.
	ErrInvalidPurpose = errors.New("invalid purpose")
	// ErrRateLimited is returned when a send or verify window is exhausted.
	ErrRateLimited = errors.New("too many requests, try again later")
	// ErrUnavailable is returned when Redis or the database cannot be reached.
	ErrUnavailable = errors.New("service temporarily unavailable")
	// ErrDeliveryFailed is returned when the mailer rejected the message.
	ErrDeliveryFailed = errors.New("could not deliver email")
	// ErrInvalidCredentials is returned by SignIn for unknown accounts and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrEmailNotConfirmed is returned by SignIn before the signup flow completed.
	ErrEmailNotConfirmed = errors.New("email not confirmed")
	// ErrAccountExists is returned by Register for an already confirmed account.
	ErrAccountExists = errors.New("an account with this email already exists")
	// ErrAccountNotFound is returned when a signup confirmation is requested without registration.
	ErrAccountNotFound = errors.New("no pending signup for this email")
	// ErrAlreadyConfirmed is returned when a signup confirmation is requested twice.
	ErrAlreadyConfirmed = errors.New("email already confirmed")
	// ErrWeakPassword is returned when a password fails the server-side policy.
	ErrWeakPassword = errors.New("password does not meet requirements")
	// ErrUnsupportedProvider is returned by OAuthRedirect for unknown providers.
	ErrUnsupportedProvider = errors.New("unsupported sign-in provider")
)

// outage reports an infrastructure failure with ErrUnavailable's message only.
// The cause stays reachable through errors.Is and errors.As but never reaches
// the user, whose UI may route on the message text.
type outage struct {
	cause error
}

func (e *outage) Error() string   { return ErrUnavailable.Error() }
func (e *outage) Unwrap() []error { return []error{ErrUnavailable, e.cause} }

func unavailable(cause error) error {
	return &outage{cause: cause}
}

func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrCodeMismatch):
		return ErrInvalidCode
	case errors.Is(err, stores.ErrCodeNotFound):
		return ErrCodeExpired
	case errors.Is(err, stores.ErrCodeAttemptsExceeded):
		return ErrCodeAttempts
	case errors.Is(err, stores.ErrCodeClaimed):
		return ErrCodeInUse
	default:
		return unavailable(err)
	}
}

func mapLimiterError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, limiters.ErrCodeRateLimited):
		return ErrRateLimited
	default:
		return unavailable(err)
	}
}

func mapAccountError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, credstore.ErrNotFound):
		return ErrAccountNotFound
	case errors.Is(err, credstore.ErrExists), errors.Is(err, credstore.ErrConfirmed):
		return ErrAccountExists
	default:
		return unavailable(err)
	}
}
