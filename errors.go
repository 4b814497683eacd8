package authflow

import "errors"

// Local validation failures. They are returned before any external call and
// leave the flow state unchanged.
var (
	// ErrInvalidEmail is returned when the email address is empty or malformed.
	ErrInvalidEmail = errors.New("please enter a valid email address")
	// ErrPasswordPolicy is returned when a password fails one or more policy rules.
	ErrPasswordPolicy = errors.New("password does not meet requirements")
	// ErrPasswordMismatch is returned when the confirmation differs from the new password.
	ErrPasswordMismatch = errors.New("passwords do not match")
	// ErrCodeIncomplete is returned when the entered code is not exactly the expected digits.
	ErrCodeIncomplete = errors.New("please enter the complete verification code")
	// ErrResendCooldown is returned when a resend is requested before the cooldown elapsed.
	ErrResendCooldown = errors.New("please wait before requesting a new code")
	// ErrMissingPassword is returned by SignIn when no password was entered.
	ErrMissingPassword = errors.New("please enter your password")
)

// Flow control failures.
var (
	// ErrInvalidTransition is returned when an operation is not legal in the current state.
	ErrInvalidTransition = errors.New("operation not allowed in current flow state")
	// ErrOperationInFlight is returned while a send or verify call is outstanding.
	ErrOperationInFlight = errors.New("request already in progress")
	// ErrWrongPurpose is returned when an operation belongs to the other flow purpose.
	ErrWrongPurpose = errors.New("operation not supported for this flow purpose")
	// ErrFlowClosed is returned by every operation after Close.
	ErrFlowClosed = errors.New("flow closed")
	// ErrStaleResponse is returned when a response arrived after the flow was cancelled.
	ErrStaleResponse = errors.New("flow was reset while the request was in flight")
)

// External failures and engine wiring.
var (
	// ErrVerificationFailed is returned when the verification service reports no success.
	ErrVerificationFailed = errors.New("verification failed")
	// ErrEmailNotConfirmed is returned when verification succeeded but the account is still unconfirmed.
	ErrEmailNotConfirmed = errors.New("email not confirmed")
	// ErrUnsupportedProvider is returned by OAuthRedirect for providers other than google and apple.
	ErrUnsupportedProvider = errors.New("unsupported sign-in provider")
	// ErrEngineNotReady is returned when a required dependency is missing.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrEngineClosed is returned when a flow is requested after Engine.Close.
	ErrEngineClosed = errors.New("engine closed")
)
