package authflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dj-pearson/project-profit-radar-sub001/password"
	"go.uber.org/zap"
)

// Flow is one signup-confirmation or password-reset attempt.
//
// A Flow owns its state, pending code, password draft and resend cooldown; no
// state is shared between flows. All methods are safe for concurrent use. At
// most one SendCode and one VerifyCode call is outstanding per flow; further
// triggers return ErrOperationInFlight until the call settles.
//
// Responses that arrive after Cancel, Back or Close are dropped without
// touching the flow and reported as ErrStaleResponse.
type Flow struct {
	id      string
	purpose FlowPurpose
	engine  *Engine

	mu              sync.Mutex
	state           FlowState
	email           string
	name            string
	code            string
	expiresIn       int
	errMsg          string
	newPassword     string
	confirmPassword string
	policyResult    password.PolicyResult
	inFlight        bool
	gen             uint64
	cooldownRun     uint64
	settle          *time.Timer

	cooldown *Countdown

	notifyMu sync.Mutex
	closed   atomic.Bool
}

func newFlow(e *Engine, id string, purpose FlowPurpose) *Flow {
	f := &Flow{
		id:      id,
		purpose: purpose,
		engine:  e,
	}
	f.policyResult = e.policy.Evaluate("")
	f.cooldown = NewCountdown(e.newTicker, f.onCooldownTick)
	return f
}

// ID returns the flow's unique identifier.
func (f *Flow) ID() string { return f.id }

// Purpose returns the purpose fixed at creation.
func (f *Flow) Purpose() FlowPurpose { return f.purpose }

// State returns the current state.
func (f *Flow) State() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Snapshot returns a copy of the observable state.
func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

func (f *Flow) snapshotLocked() Snapshot {
	rules := make([]password.RuleResult, len(f.policyResult.Rules))
	copy(rules, f.policyResult.Rules)

	return Snapshot{
		ID:               f.id,
		Purpose:          f.purpose,
		State:            f.state,
		Email:            f.email,
		Code:             f.code,
		ExpiresInMinutes: f.expiresIn,
		ResendCooldown:   f.cooldown.Remaining(),
		Error:            f.errMsg,
		Policy: password.PolicyResult{
			Passed: f.policyResult.Passed,
			Rules:  rules,
		},
		InFlight: f.inFlight,
		Closed:   f.closed.Load(),
	}
}

/*
====================================
SEND
====================================
*/

// StartSignup validates the signup form and sends a confirmation code.
//
// The email must be well formed and the password must satisfy the policy;
// otherwise the state stays Idle and no call is made. When the code service
// implements AccountRegistrar the account is registered first. On success the
// flow moves to AwaitingCode and the resend cooldown starts. On failure it
// returns to Idle with the service's error message.
func (f *Flow) StartSignup(ctx context.Context, email, pw, name string) error {
	if f.purpose != PurposeSignupConfirmation {
		return ErrWrongPurpose
	}

	email = SanitizeEmail(email)
	name = strings.TrimSpace(name)

	f.mu.Lock()
	if err := f.checkStartLocked(); err != nil {
		f.mu.Unlock()
		return err
	}
	if !ValidEmail(email) {
		return f.rejectLocked(ctx, ErrInvalidEmail)
	}
	f.policyResult = f.engine.policy.Evaluate(pw)
	if !f.policyResult.Passed {
		return f.rejectLocked(ctx, policyError(f.policyResult))
	}

	f.email = email
	f.name = name
	f.errMsg = ""
	f.state = StateSending
	f.inFlight = true
	gen := f.gen
	snap := f.snapshotLocked()
	f.mu.Unlock()
	f.notify(snap)

	f.engine.emitAudit(ctx, auditEventFlowStarted, f.auditor(), email, StateIdle, StateSending, true, nil, nil)

	if registrar, ok := f.engine.codes.(AccountRegistrar); ok {
		callCtx, cancel := f.engine.callContext(ctx)
		start := time.Now()
		err := registrar.Register(callCtx, email, pw, name)
		cancel()
		f.engine.metrics.Observe(MetricExternalCallLatency, time.Since(start))
		if err != nil {
			return f.finishSend(ctx, gen, StateIdle, SendCodeResult{}, err)
		}
		if !f.current(gen) {
			return f.dropStale(ctx, "register")
		}
	}

	return f.send(ctx, gen, StateIdle, SendCodeRequest{
		Email:         email,
		Purpose:       f.purpose,
		RecipientName: name,
	})
}

// StartReset validates the email and sends a password-reset code.
func (f *Flow) StartReset(ctx context.Context, email string) error {
	if f.purpose != PurposePasswordReset {
		return ErrWrongPurpose
	}

	email = SanitizeEmail(email)

	f.mu.Lock()
	if err := f.checkStartLocked(); err != nil {
		f.mu.Unlock()
		return err
	}
	if !ValidEmail(email) {
		return f.rejectLocked(ctx, ErrInvalidEmail)
	}

	f.email = email
	f.errMsg = ""
	f.state = StateSending
	f.inFlight = true
	gen := f.gen
	snap := f.snapshotLocked()
	f.mu.Unlock()
	f.notify(snap)

	f.engine.emitAudit(ctx, auditEventFlowStarted, f.auditor(), email, StateIdle, StateSending, true, nil, nil)

	return f.send(ctx, gen, StateIdle, SendCodeRequest{
		Email:   email,
		Purpose: f.purpose,
	})
}

// Resend requests a fresh code once the cooldown has reached zero. The
// pending code is cleared. A failed resend keeps the flow in AwaitingCode.
func (f *Flow) Resend(ctx context.Context) error {
	f.mu.Lock()
	if f.closed.Load() {
		f.mu.Unlock()
		return ErrFlowClosed
	}
	if f.inFlight {
		f.mu.Unlock()
		return ErrOperationInFlight
	}
	if f.state != StateAwaitingCode {
		f.mu.Unlock()
		return ErrInvalidTransition
	}
	if remaining := f.cooldown.Remaining(); remaining > 0 {
		email := f.email
		f.mu.Unlock()
		f.engine.metrics.Inc(MetricResendRejected)
		f.engine.emitAudit(ctx, auditEventResendRejected, f.auditor(), email, StateAwaitingCode, StateAwaitingCode, false, ErrResendCooldown, func() map[string]string {
			return map[string]string{"remaining_seconds": fmt.Sprint(remaining)}
		})
		return ErrResendCooldown
	}

	f.code = ""
	f.errMsg = ""
	f.inFlight = true
	gen := f.gen
	req := SendCodeRequest{
		Email:         f.email,
		Purpose:       f.purpose,
		RecipientName: f.name,
	}
	snap := f.snapshotLocked()
	f.mu.Unlock()
	f.notify(snap)

	return f.send(ctx, gen, StateAwaitingCode, req)
}

func (f *Flow) checkStartLocked() error {
	if f.closed.Load() {
		return ErrFlowClosed
	}
	if f.inFlight || f.state == StateSending {
		return ErrOperationInFlight
	}
	if f.state != StateIdle {
		return ErrInvalidTransition
	}
	return nil
}

// rejectLocked records a local validation failure and releases f.mu.
func (f *Flow) rejectLocked(ctx context.Context, err error) error {
	f.errMsg = err.Error()
	state := f.state
	email := f.email
	snap := f.snapshotLocked()
	f.mu.Unlock()
	f.notify(snap)

	f.engine.metrics.Inc(MetricValidationRejected)
	f.engine.emitAudit(ctx, auditEventValidationFailed, f.auditor(), email, state, state, false, err, nil)
	return err
}

func (f *Flow) send(ctx context.Context, gen uint64, revert FlowState, req SendCodeRequest) error {
	callCtx, cancel := f.engine.callContext(ctx)
	start := time.Now()
	res, err := f.engine.codes.SendCode(callCtx, req)
	cancel()
	f.engine.metrics.Observe(MetricExternalCallLatency, time.Since(start))

	return f.finishSend(ctx, gen, revert, res, err)
}

func (f *Flow) finishSend(ctx context.Context, gen uint64, revert FlowState, res SendCodeResult, err error) error {
	f.mu.Lock()
	if f.closed.Load() || f.gen != gen {
		f.mu.Unlock()
		return f.dropStale(ctx, "send_code")
	}

	from := f.state
	f.inFlight = false

	if err != nil {
		f.state = revert
		f.errMsg = err.Error()
		email := f.email
		snap := f.snapshotLocked()
		f.mu.Unlock()
		f.notify(snap)

		f.engine.metrics.Inc(MetricCodeSendFailure)
		f.engine.logger.Warn("send code failed",
			zap.String("flow_id", f.id),
			zap.String("purpose", f.purpose.String()),
			zap.String("email", BlurEmail(email)),
			zap.Error(err),
		)
		f.engine.emitAudit(ctx, auditEventCodeSendFailed, f.auditor(), email, from, revert, false, err, nil)
		return err
	}

	f.state = StateAwaitingCode
	f.expiresIn = res.ExpiresInMinutes
	f.code = ""
	f.errMsg = ""
	f.cooldownRun = f.cooldown.Start(f.engine.cooldownSeconds())
	email := f.email
	snap := f.snapshotLocked()
	f.mu.Unlock()
	f.notify(snap)

	f.engine.metrics.Inc(MetricCodeSent)
	f.engine.logger.Debug("code sent",
		zap.String("flow_id", f.id),
		zap.String("purpose", f.purpose.String()),
		zap.String("email", BlurEmail(email)),
		zap.Int("expires_in_minutes", res.ExpiresInMinutes),
	)
	f.engine.emitAudit(ctx, auditEventCodeSent, f.auditor(), email, from, StateAwaitingCode, true, nil, func() map[string]string {
		return map[string]string{"expires_in_minutes": fmt.Sprint(res.ExpiresInMinutes)}
	})
	return nil
}

/*
====================================
CODE ENTRY
====================================
*/

// SetCode mirrors typed input into the pending code, keeping digits only and
// truncating to the configured length. It returns the stored code.
func (f *Flow) SetCode(input string) (string, error) {
	f.mu.Lock()
	if f.closed.Load() {
		f.mu.Unlock()
		return "", ErrFlowClosed
	}
	if f.state != StateAwaitingCode {
		f.mu.Unlock()
		return "", ErrInvalidTransition
	}
	f.code = FilterCodeInput(input, f.engine.config.Flow.CodeDigits)
	code := f.code
	snap := f.snapshotLocked()
	f.mu.Unlock()
	f.notify(snap)

	return code, nil
}

// SubmitCode submits the entered code.
//
// For signup the code is checked by VerifyCode; success moves the flow to
// Verified and failure returns it to AwaitingCode with the code cleared.
//
// For password reset only the format is checked and the flow moves to
// SettingPassword. The code is validated later, together with the new
// password, by SubmitNewPassword.
func (f *Flow) SubmitCode(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)

	f.mu.Lock()
	if f.closed.Load() {
		f.mu.Unlock()
		return ErrFlowClosed
	}
	if f.inFlight || f.state == StateSubmitted {
		f.mu.Unlock()
		return ErrOperationInFlight
	}
	if f.state != StateAwaitingCode {
		f.mu.Unlock()
		return ErrInvalidTransition
	}
	if !ValidCode(code, f.engine.config.Flow.CodeDigits) {
		return f.rejectLocked(ctx, ErrCodeIncomplete)
	}

	f.code = code
	f.errMsg = ""

	if f.purpose == PurposePasswordReset {
		f.state = StateSettingPassword
		f.newPassword = ""
		f.confirmPassword = ""
		f.policyResult = f.engine.policy.Evaluate("")
		email := f.email
		snap := f.snapshotLocked()
		f.mu.Unlock()
		f.notify(snap)

		f.engine.emitAudit(ctx, auditEventResetCodeAccepted, f.auditor(), email, StateAwaitingCode, StateSettingPassword, true, nil, nil)
		return nil
	}

	f.state = StateSubmitted
	f.inFlight = true
	gen := f.gen
	req := VerifyCodeRequest{
		Email:   f.email,
		Code:    code,
		Purpose: PurposeSignupConfirmation,
	}
	snap := f.snapshotLocked()
	f.mu.Unlock()
	f.notify(snap)

	res, err := f.verify(ctx, req)

	f.mu.Lock()
	if f.closed.Load() || f.gen != gen {
		f.mu.Unlock()
		return f.dropStale(ctx, "verify_code")
	}
	f.inFlight = false

	if err == nil && !res.Success {
		err = ErrVerificationFailed
	}
	if err == nil && !res.EmailConfirmed {
		err = ErrEmailNotConfirmed
	}

	if err != nil {
		f.state = StateAwaitingCode
		f.code = ""
		f.errMsg = err.Error()
		email := f.email
		snap := f.snapshotLocked()
		f.mu.Unlock()
		f.notify(snap)

		f.engine.metrics.Inc(MetricSignupVerifyFailure)
		f.engine.logger.Info("signup verification failed",
			zap.String("flow_id", f.id),
			zap.String("email", BlurEmail(email)),
			zap.Error(err),
		)
		f.engine.emitAudit(ctx, auditEventCodeVerifyFailed, f.auditor(), email, StateSubmitted, StateAwaitingCode, false, err, nil)
		return err
	}

	email := f.email
	f.completeLocked()
	snap = f.snapshotLocked()
	f.mu.Unlock()
	f.notify(snap)

	f.engine.metrics.Inc(MetricSignupVerified)
	f.engine.emitAudit(ctx, auditEventCodeVerified, f.auditor(), email, StateSubmitted, StateVerified, true, nil, nil)
	return nil
}

/*
====================================
NEW PASSWORD
====================================
*/

// SetPasswordDraft records the password fields and returns the policy result
// for newPassword. It is accepted in Idle (signup form) and SettingPassword.
func (f *Flow) SetPasswordDraft(newPassword, confirmPassword string) (password.PolicyResult, error) {
	f.mu.Lock()
	if f.closed.Load() {
		f.mu.Unlock()
		return password.PolicyResult{}, ErrFlowClosed
	}
	if f.state != StateIdle && f.state != StateSettingPassword {
		f.mu.Unlock()
		return password.PolicyResult{}, ErrInvalidTransition
	}
	f.newPassword = newPassword
	f.confirmPassword = confirmPassword
	f.policyResult = f.engine.policy.Evaluate(newPassword)
	snap := f.snapshotLocked()
	f.mu.Unlock()
	f.notify(snap)

	return snap.Policy, nil
}

// SubmitNewPassword validates and commits the new password of a reset flow.
//
// VerifyCode is called exactly once with the code entered earlier and the new
// password. On success the flow moves to Verified. On failure the message is
// classified with ClassifyResetError: code-related failures return the flow to
// AwaitingCode with the code cleared; anything else keeps it in
// SettingPassword with the password fields intact.
func (f *Flow) SubmitNewPassword(ctx context.Context, newPassword, confirmPassword string) error {
	if f.purpose != PurposePasswordReset {
		return ErrWrongPurpose
	}

	f.mu.Lock()
	if f.closed.Load() {
		f.mu.Unlock()
		return ErrFlowClosed
	}
	if f.inFlight {
		f.mu.Unlock()
		return ErrOperationInFlight
	}
	if f.state != StateSettingPassword {
		f.mu.Unlock()
		return ErrInvalidTransition
	}

	f.newPassword = newPassword
	f.confirmPassword = confirmPassword
	f.policyResult = f.engine.policy.Evaluate(newPassword)
	if !f.policyResult.Passed {
		return f.rejectLocked(ctx, policyError(f.policyResult))
	}
	if newPassword != confirmPassword {
		return f.rejectLocked(ctx, ErrPasswordMismatch)
	}

	f.errMsg = ""
	f.inFlight = true
	gen := f.gen
	req := VerifyCodeRequest{
		Email:       f.email,
		Code:        f.code,
		Purpose:     PurposePasswordReset,
		NewPassword: newPassword,
	}
	snap := f.snapshotLocked()
	f.mu.Unlock()
	f.notify(snap)

	res, err := f.verify(ctx, req)
	if err == nil && !res.Success {
		err = ErrVerificationFailed
	}

	f.mu.Lock()
	if f.closed.Load() || f.gen != gen {
		f.mu.Unlock()
		return f.dropStale(ctx, "verify_code")
	}
	f.inFlight = false
	email := f.email

	if err != nil {
		class := ClassifyResetError(err.Error())
		f.errMsg = err.Error()
		to := StateSettingPassword
		if class == ResetErrorCodeRelated {
			to = StateAwaitingCode
			f.state = StateAwaitingCode
			f.code = ""
			f.engine.metrics.Inc(MetricResetCodeFailure)
		} else {
			f.engine.metrics.Inc(MetricResetOtherFailure)
		}
		snap := f.snapshotLocked()
		f.mu.Unlock()
		f.notify(snap)

		f.engine.logger.Info("password reset failed",
			zap.String("flow_id", f.id),
			zap.String("email", BlurEmail(email)),
			zap.Stringer("class", class),
			zap.Error(err),
		)
		f.engine.emitAudit(ctx, auditEventResetFailed, f.auditor(), email, StateSettingPassword, to, false, err, func() map[string]string {
			return map[string]string{"class": class.String()}
		})
		return err
	}

	f.completeLocked()
	snap = f.snapshotLocked()
	f.mu.Unlock()
	f.notify(snap)

	f.engine.metrics.Inc(MetricResetCompleted)
	f.engine.emitAudit(ctx, auditEventResetCompleted, f.auditor(), email, StateSettingPassword, StateVerified, true, nil, nil)
	return nil
}

func (f *Flow) verify(ctx context.Context, req VerifyCodeRequest) (VerifyCodeResult, error) {
	callCtx, cancel := f.engine.callContext(ctx)
	defer cancel()

	start := time.Now()
	res, err := f.engine.codes.VerifyCode(callCtx, req)
	f.engine.metrics.Observe(MetricExternalCallLatency, time.Since(start))
	return res, err
}

// completeLocked moves the flow to Verified and schedules the return to Idle.
func (f *Flow) completeLocked() {
	f.state = StateVerified
	f.code = ""
	f.newPassword = ""
	f.confirmPassword = ""
	f.errMsg = ""
	f.cooldown.Cancel()

	delay := f.engine.config.Flow.SettleDelay
	if delay <= 0 {
		return
	}
	gen := f.gen
	f.settle = time.AfterFunc(delay, func() { f.settleToIdle(gen) })
}

func (f *Flow) settleToIdle(gen uint64) {
	f.mu.Lock()
	if f.closed.Load() || f.gen != gen || f.state != StateVerified {
		f.mu.Unlock()
		return
	}
	f.resetLocked()
	snap := f.snapshotLocked()
	f.mu.Unlock()
	f.notify(snap)

	f.engine.emitAudit(context.Background(), auditEventFlowSettled, f.auditor(), "", StateVerified, StateIdle, true, nil, nil)
}

/*
====================================
TEARDOWN
====================================
*/

// Back returns the flow to Idle. It is the same as Cancel.
func (f *Flow) Back() error {
	return f.Cancel()
}

// Cancel discards the attempt and returns the flow to Idle, clearing the code,
// password draft and error and stopping the cooldown and settle timers. A call
// in flight keeps running but its response is dropped.
func (f *Flow) Cancel() error {
	f.mu.Lock()
	if f.closed.Load() {
		f.mu.Unlock()
		return ErrFlowClosed
	}
	from := f.state
	email := f.email
	f.resetLocked()
	snap := f.snapshotLocked()
	f.mu.Unlock()
	f.notify(snap)

	f.engine.metrics.Inc(MetricFlowCancelled)
	f.engine.emitAudit(context.Background(), auditEventFlowCancelled, f.auditor(), email, from, StateIdle, true, nil, nil)
	return nil
}

// Close tears the flow down. The cooldown goroutine has exited and the
// observer will not be called again once Close returns. Close is idempotent.
// It must not be called from the observer.
func (f *Flow) Close() {
	// notifyMu first: an observer call already running finishes before closed is set.
	f.notifyMu.Lock()
	f.mu.Lock()
	if f.closed.Load() {
		f.mu.Unlock()
		f.notifyMu.Unlock()
		return
	}
	f.closed.Store(true)
	from := f.state
	f.resetLocked()
	f.cooldown.Close()
	f.mu.Unlock()
	f.notifyMu.Unlock()

	f.cooldown.Wait()
	f.engine.forget(f.id)

	f.engine.metrics.Inc(MetricFlowClosed)
	f.engine.emitAudit(context.Background(), auditEventFlowClosed, f.auditor(), "", from, StateIdle, true, nil, nil)
}

// resetLocked clears every per-attempt field and invalidates in-flight calls.
func (f *Flow) resetLocked() {
	f.gen++
	f.state = StateIdle
	f.email = ""
	f.name = ""
	f.code = ""
	f.expiresIn = 0
	f.errMsg = ""
	f.newPassword = ""
	f.confirmPassword = ""
	f.policyResult = f.engine.policy.Evaluate("")
	f.inFlight = false
	f.cooldown.Cancel()
	// A tick already waiting on f.mu carries the old run and is ignored.
	f.cooldownRun = 0
	if f.settle != nil {
		f.settle.Stop()
		f.settle = nil
	}
}

// current reports whether the attempt started at gen is still live.
func (f *Flow) current(gen uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed.Load() && f.gen == gen
}

func (f *Flow) dropStale(ctx context.Context, call string) error {
	f.engine.metrics.Inc(MetricStaleResponseDropped)
	f.engine.logger.Debug("dropped stale response",
		zap.String("flow_id", f.id),
		zap.String("call", call),
	)
	f.engine.emitAudit(ctx, auditEventStaleResponse, f.auditor(), "", StateIdle, StateIdle, false, nil, func() map[string]string {
		return map[string]string{"call": call}
	})
	return ErrStaleResponse
}

func (f *Flow) onCooldownTick(run uint64, _ int) {
	f.mu.Lock()
	if f.closed.Load() || run != f.cooldownRun {
		f.mu.Unlock()
		return
	}
	snap := f.snapshotLocked()
	f.mu.Unlock()
	f.notify(snap)
}

func (f *Flow) notify(snap Snapshot) {
	observer := f.engine.observer
	if observer == nil {
		return
	}

	f.notifyMu.Lock()
	defer f.notifyMu.Unlock()
	if f.closed.Load() {
		return
	}
	observer(snap)
}

func (f *Flow) auditor() flowAuditor {
	return flowAuditor{flowID: f.id, purpose: f.purpose}
}

func policyError(result password.PolicyResult) error {
	unmet := result.Unmet()
	names := make([]string, len(unmet))
	for i, r := range unmet {
		names[i] = string(r)
	}
	return fmt.Errorf("%w: missing %s", ErrPasswordPolicy, strings.Join(names, ", "))
}
