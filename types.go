package authflow

import (
	"context"
	"time"

	"github.com/dj-pearson/project-profit-radar-sub001/password"
)

// FlowState is the live state of one verification flow instance.
type FlowState uint8

const (
	// StateIdle is the initial state and the state every flow settles back to.
	StateIdle FlowState = iota
	// StateSending means a SendCode call is in flight.
	StateSending
	// StateAwaitingCode means a code was sent and the user is typing it.
	StateAwaitingCode
	// StateSubmitted means a signup VerifyCode call is in flight.
	StateSubmitted
	// StateVerified means the flow completed; it returns to StateIdle after the settle delay.
	StateVerified
	// StateSettingPassword means a format-valid reset code was entered and the
	// new password form is shown. The code has not been checked by the server yet.
	StateSettingPassword
)

func (s FlowState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateAwaitingCode:
		return "awaiting_code"
	case StateSubmitted:
		return "submitted"
	case StateVerified:
		return "verified"
	case StateSettingPassword:
		return "setting_password"
	default:
		return "unknown"
	}
}

// FlowPurpose selects which external operations a flow may call. It is fixed
// for the lifetime of a flow.
type FlowPurpose uint8

const (
	// PurposeSignupConfirmation confirms the email of a newly registered account.
	PurposeSignupConfirmation FlowPurpose = iota + 1
	// PurposePasswordReset verifies a code and sets a new password in one step.
	PurposePasswordReset
)

func (p FlowPurpose) String() string {
	switch p {
	case PurposeSignupConfirmation:
		return "signup"
	case PurposePasswordReset:
		return "password_reset"
	default:
		return "unknown"
	}
}

// ParsePurpose maps a wire name back to a FlowPurpose.
func ParsePurpose(name string) (FlowPurpose, bool) {
	switch name {
	case "signup", "signup_confirmation":
		return PurposeSignupConfirmation, true
	case "password_reset", "reset":
		return PurposePasswordReset, true
	default:
		return 0, false
	}
}

// SendCodeRequest asks the issuance service to generate and deliver a code.
type SendCodeRequest struct {
	Email         string
	Purpose       FlowPurpose
	RecipientName string
}

// SendCodeResult carries the advisory expiry reported by the issuance service.
type SendCodeResult struct {
	ExpiresInMinutes int
}

// VerifyCodeRequest asks the verification service to check and consume a code.
// NewPassword is only set for PurposePasswordReset, where verification and the
// password change are a single atomic operation.
type VerifyCodeRequest struct {
	Email       string
	Code        string
	Purpose     FlowPurpose
	NewPassword string
}

// VerifyCodeResult reports the verification outcome.
type VerifyCodeResult struct {
	Success        bool
	EmailConfirmed bool
}

// CodeService is the OTP issuance and verification backend the flow delegates to.
type CodeService interface {
	SendCode(ctx context.Context, req SendCodeRequest) (SendCodeResult, error)
	VerifyCode(ctx context.Context, req VerifyCodeRequest) (VerifyCodeResult, error)
}

// SignInResult is returned by a successful credential sign-in.
type SignInResult struct {
	AccessToken string
	ExpiresAt   time.Time
}

// SignInService performs credential sign-in and OAuth redirects. Both are opaque
// to the flow controller.
type SignInService interface {
	SignIn(ctx context.Context, email, password string) (SignInResult, error)
	OAuthRedirect(ctx context.Context, provider string) (string, error)
}

// Snapshot is an immutable copy of a flow's observable state, used to render UI.
type Snapshot struct {
	ID               string
	Purpose          FlowPurpose
	State            FlowState
	Email            string
	Code             string
	ExpiresInMinutes int
	ResendCooldown   int
	Error            string
	Policy           password.PolicyResult
	InFlight         bool
	Closed           bool
}

// CanResend reports whether the resend trigger should be enabled.
func (s Snapshot) CanResend() bool {
	return s.State == StateAwaitingCode && s.ResendCooldown == 0
}

// Busy reports whether a send or verify call is outstanding.
func (s Snapshot) Busy() bool {
	return s.InFlight || s.State == StateSending || s.State == StateSubmitted
}

// Observer receives a snapshot after every state mutation of a flow.
type Observer func(Snapshot)

// AccountRegistrar is implemented by code services that create the account a
// signup flow confirms. When the configured CodeService implements it,
// StartSignup registers the account before the code is sent.
type AccountRegistrar interface {
	Register(ctx context.Context, email, password, name string) error
}
