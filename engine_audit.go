package authflow

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventFlowStarted       = "flow_started"
	auditEventFlowCancelled     = "flow_cancelled"
	auditEventFlowClosed        = "flow_closed"
	auditEventValidationFailed  = "validation_failed"
	auditEventCodeSent          = "code_sent"
	auditEventCodeSendFailed    = "code_send_failed"
	auditEventResendRejected    = "resend_rejected"
	auditEventCodeVerified      = "code_verified"
	auditEventCodeVerifyFailed  = "code_verify_failed"
	auditEventResetCompleted    = "password_reset_completed"
	auditEventResetFailed       = "password_reset_failed"
	auditEventStaleResponse     = "stale_response_dropped"
	auditEventSignIn            = "sign_in"
	auditEventOAuthRedirect     = "oauth_redirect"
	auditEventFlowSettled       = "flow_settled"
	auditEventResetCodeAccepted = "reset_code_accepted"
)

// AuditErrorCode is the coarse error category recorded on failed audit events.
type AuditErrorCode string

const (
	auditErrInvalidEmail     AuditErrorCode = "invalid_email"
	auditErrPasswordPolicy   AuditErrorCode = "password_policy"
	auditErrPasswordMismatch AuditErrorCode = "password_mismatch"
	auditErrCodeIncomplete   AuditErrorCode = "code_incomplete"
	auditErrCooldown         AuditErrorCode = "resend_cooldown"
	auditErrCodeRejected     AuditErrorCode = "code_rejected"
	auditErrUnconfirmed      AuditErrorCode = "email_not_confirmed"
	auditErrTimeout          AuditErrorCode = "timeout"
	auditErrExternal         AuditErrorCode = "external_error"
)

// flowAuditor carries the per-flow fields every event repeats.
type flowAuditor struct {
	flowID  string
	purpose FlowPurpose
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	fa flowAuditor,
	email string,
	from, to FlowState,
	success bool,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		FlowID:    fa.flowID,
		Purpose:   fa.purpose.String(),
		IP:        ClientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if email != "" {
		event.Email = BlurEmail(email)
	}
	if from != to || eventType != auditEventValidationFailed {
		event.From = from.String()
		event.To = to.String()
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidEmail):
		return auditErrInvalidEmail
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrPasswordMismatch):
		return auditErrPasswordMismatch
	case errors.Is(err, ErrCodeIncomplete):
		return auditErrCodeIncomplete
	case errors.Is(err, ErrResendCooldown):
		return auditErrCooldown
	case errors.Is(err, ErrVerificationFailed):
		return auditErrCodeRejected
	case errors.Is(err, ErrEmailNotConfirmed):
		return auditErrUnconfirmed
	case errors.Is(err, context.DeadlineExceeded):
		return auditErrTimeout
	default:
		if ClassifyResetError(err.Error()) == ResetErrorCodeRelated {
			return auditErrCodeRejected
		}
		return auditErrExternal
	}
}
