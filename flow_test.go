package authflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dj-pearson/project-profit-radar-sub001/password"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

/*
====================================
SIGNUP
====================================
*/

func TestSignupHappyPath(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	f := env.signupFlow(t)

	require.NoError(t, f.StartSignup(ctx, " A@B.com ", "Weakpass1!", "Ada"))

	sends := env.codes.sendCalls()
	require.Len(t, sends, 1)
	assert.Equal(t, SendCodeRequest{Email: "a@b.com", Purpose: PurposeSignupConfirmation, RecipientName: "Ada"}, sends[0])

	snap := f.Snapshot()
	assert.Equal(t, StateAwaitingCode, snap.State)
	assert.Equal(t, 15, snap.ExpiresInMinutes)
	assert.Equal(t, 60, snap.ResendCooldown)
	assert.False(t, snap.CanResend())

	require.NoError(t, f.SubmitCode(ctx, "123456"))

	verifies := env.codes.verifyCalls()
	require.Len(t, verifies, 1)
	assert.Equal(t, VerifyCodeRequest{Email: "a@b.com", Code: "123456", Purpose: PurposeSignupConfirmation}, verifies[0])
	assert.Equal(t, StateVerified, f.State())
	assert.Equal(t, 0, f.Snapshot().ResendCooldown)

	m := env.engine.MetricsSnapshot()
	assert.Equal(t, uint64(1), m.Counters[MetricCodeSent])
	assert.Equal(t, uint64(1), m.Counters[MetricSignupVerified])
}

func TestSignupLocalValidationMakesNoCall(t *testing.T) {
	tests := []struct {
		name  string
		email string
		pw    string
		want  error
	}{
		{name: "empty email", email: "", pw: "Weakpass1!", want: ErrInvalidEmail},
		{name: "no at sign", email: "ab.com", pw: "Weakpass1!", want: ErrInvalidEmail},
		{name: "no tld", email: "a@b", pw: "Weakpass1!", want: ErrInvalidEmail},
		{name: "weak password", email: "a@b.com", pw: "weakpass", want: ErrPasswordPolicy},
		{name: "no special", email: "a@b.com", pw: "Weakpass1", want: ErrPasswordPolicy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			f := env.signupFlow(t)

			err := f.StartSignup(context.Background(), tt.email, tt.pw, "")
			require.ErrorIs(t, err, tt.want)

			snap := f.Snapshot()
			assert.Equal(t, StateIdle, snap.State)
			assert.NotEmpty(t, snap.Error)
			assert.Empty(t, env.codes.sendCalls())
			assert.Equal(t, uint64(1), env.engine.MetricsSnapshot().Counters[MetricValidationRejected])
		})
	}
}

func TestSignupPolicyFailureReportsEachRule(t *testing.T) {
	env := newTestEnv(t, nil)
	f := env.signupFlow(t)

	err := f.StartSignup(context.Background(), "a@b.com", "abcdefgh", "")
	require.ErrorIs(t, err, ErrPasswordPolicy)
	assert.Contains(t, err.Error(), "uppercase")

	snap := f.Snapshot()
	require.Len(t, snap.Policy.Rules, 5)
	assert.False(t, snap.Policy.Passed)
	assert.Equal(t, []password.Rule{password.RuleUppercase, password.RuleDigit, password.RuleSpecial}, snap.Policy.Unmet())
}

func TestSignupSendFailureReturnsToIdle(t *testing.T) {
	env := newTestEnv(t, nil)
	env.codes.setSendErr(errors.New("email service unavailable"))
	f := env.signupFlow(t)

	err := f.StartSignup(context.Background(), "a@b.com", "Weakpass1!", "")
	require.EqualError(t, err, "email service unavailable")

	snap := f.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, "email service unavailable", snap.Error)
	assert.Equal(t, 0, snap.ResendCooldown)
	assert.Zero(t, env.clock.count())
	assert.Equal(t, uint64(1), env.engine.MetricsSnapshot().Counters[MetricCodeSendFailure])

	// Retry from Idle works once the service recovers.
	env.codes.setSendErr(nil)
	require.NoError(t, f.StartSignup(context.Background(), "a@b.com", "Weakpass1!", ""))
	assert.Equal(t, StateAwaitingCode, f.State())
}

func TestSignupRegistersBeforeSending(t *testing.T) {
	codes := &registeringCodeService{fakeCodeService: newFakeCodeService()}
	engine, err := New().
		WithConfig(testConfig()).
		WithCodeService(codes).
		WithTicker((&manualClock{}).NewTicker).
		Build()
	require.NoError(t, err)
	defer engine.Close()

	f, err := engine.NewSignupFlow()
	require.NoError(t, err)
	require.NoError(t, f.StartSignup(context.Background(), "a@b.com", "Weakpass1!", "Ada"))

	assert.Equal(t, []string{"a@b.com|Ada"}, codes.registered)
	assert.Len(t, codes.sendCalls(), 1)
}

func TestSignupRegisterFailureSkipsSend(t *testing.T) {
	codes := &registeringCodeService{
		fakeCodeService: newFakeCodeService(),
		err:             errors.New("account already exists"),
	}
	engine, err := New().
		WithConfig(testConfig()).
		WithCodeService(codes).
		WithTicker((&manualClock{}).NewTicker).
		Build()
	require.NoError(t, err)
	defer engine.Close()

	f, err := engine.NewSignupFlow()
	require.NoError(t, err)
	err = f.StartSignup(context.Background(), "a@b.com", "Weakpass1!", "Ada")
	require.EqualError(t, err, "account already exists")
	assert.Equal(t, StateIdle, f.State())
	assert.Empty(t, codes.sendCalls())
}

func TestCancelDuringRegisterSkipsSend(t *testing.T) {
	codes := &registeringCodeService{
		fakeCodeService: newFakeCodeService(),
		entered:         make(chan struct{}, 1),
		gate:            make(chan struct{}),
	}
	engine, err := New().
		WithConfig(testConfig()).
		WithCodeService(codes).
		WithTicker((&manualClock{}).NewTicker).
		Build()
	require.NoError(t, err)
	defer engine.Close()

	f, err := engine.NewSignupFlow()
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- f.StartSignup(context.Background(), "a@b.com", "Weakpass1!", "Ada") }()
	<-codes.entered

	require.NoError(t, f.Cancel())
	close(codes.gate)

	require.ErrorIs(t, <-errCh, ErrStaleResponse)
	assert.Empty(t, codes.sendCalls())
	assert.Equal(t, StateIdle, f.State())
	assert.Equal(t, uint64(1), engine.MetricsSnapshot().Counters[MetricStaleResponseDropped])
}

/*
====================================
CODE ENTRY
====================================
*/

func TestSubmitCodeRejectsIncompleteCode(t *testing.T) {
	env := newTestEnv(t, nil)
	f := env.awaitingSignup(t)

	for _, code := range []string{"", "12345", "1234567", "12a456", "12 456"} {
		err := f.SubmitCode(context.Background(), code)
		require.ErrorIs(t, err, ErrCodeIncomplete, "code %q", code)
		assert.Equal(t, StateAwaitingCode, f.State())
	}
	assert.Empty(t, env.codes.verifyCalls())
}

func TestSetCodeFiltersInput(t *testing.T) {
	env := newTestEnv(t, nil)
	f := env.awaitingSignup(t)

	code, err := f.SetCode("12-34a5678")
	require.NoError(t, err)
	assert.Equal(t, "123456", code)
	assert.Equal(t, "123456", f.Snapshot().Code)

	idle := env.signupFlow(t)
	_, err = idle.SetCode("1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSignupVerifyFailureClearsCode(t *testing.T) {
	env := newTestEnv(t, nil)
	f := env.awaitingSignup(t)
	env.codes.setVerify(VerifyCodeResult{}, errors.New("invalid code"))

	_, err := f.SetCode("000000")
	require.NoError(t, err)
	err = f.SubmitCode(context.Background(), "000000")
	require.EqualError(t, err, "invalid code")

	snap := f.Snapshot()
	assert.Equal(t, StateAwaitingCode, snap.State)
	assert.Empty(t, snap.Code)
	assert.Equal(t, "invalid code", snap.Error)
	assert.Equal(t, uint64(1), env.engine.MetricsSnapshot().Counters[MetricSignupVerifyFailure])
}

func TestSignupVerifyWithoutSuccess(t *testing.T) {
	tests := []struct {
		name string
		res  VerifyCodeResult
		want error
	}{
		{name: "not successful", res: VerifyCodeResult{}, want: ErrVerificationFailed},
		{name: "unconfirmed", res: VerifyCodeResult{Success: true}, want: ErrEmailNotConfirmed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			f := env.awaitingSignup(t)
			env.codes.setVerify(tt.res, nil)

			require.ErrorIs(t, f.SubmitCode(context.Background(), "123456"), tt.want)
			assert.Equal(t, StateAwaitingCode, f.State())
		})
	}
}

/*
====================================
PASSWORD RESET
====================================
*/

func TestResetSubmitCodeIsFormatOnly(t *testing.T) {
	env := newTestEnv(t, nil)
	f := env.resetFlow(t)
	ctx := context.Background()

	require.NoError(t, f.StartReset(ctx, "a@b.com"))
	sends := env.codes.sendCalls()
	require.Len(t, sends, 1)
	assert.Equal(t, PurposePasswordReset, sends[0].Purpose)

	require.ErrorIs(t, f.SubmitCode(ctx, "12345"), ErrCodeIncomplete)
	require.NoError(t, f.SubmitCode(ctx, "654321"))

	assert.Equal(t, StateSettingPassword, f.State())
	assert.Empty(t, env.codes.verifyCalls())
}

func TestResetHappyPath(t *testing.T) {
	env := newTestEnv(t, nil)
	f := env.settingPassword(t)

	res, err := f.SetPasswordDraft("Str0ng!Pw", "Str0ng!Pw")
	require.NoError(t, err)
	assert.True(t, res.Passed)

	require.NoError(t, f.SubmitNewPassword(context.Background(), "Str0ng!Pw", "Str0ng!Pw"))

	verifies := env.codes.verifyCalls()
	require.Len(t, verifies, 1)
	assert.Equal(t, VerifyCodeRequest{
		Email:       "a@b.com",
		Code:        "654321",
		Purpose:     PurposePasswordReset,
		NewPassword: "Str0ng!Pw",
	}, verifies[0])
	assert.Equal(t, StateVerified, f.State())
	assert.Equal(t, uint64(1), env.engine.MetricsSnapshot().Counters[MetricResetCompleted])
}

func TestResetLocalValidationMakesNoCall(t *testing.T) {
	env := newTestEnv(t, nil)
	f := env.settingPassword(t)
	ctx := context.Background()

	require.ErrorIs(t, f.SubmitNewPassword(ctx, "short", "short"), ErrPasswordPolicy)
	require.ErrorIs(t, f.SubmitNewPassword(ctx, "Str0ng!Pw", "Str0ng!Px"), ErrPasswordMismatch)

	assert.Equal(t, StateSettingPassword, f.State())
	assert.Empty(t, env.codes.verifyCalls())
}

func TestResetFailureRouting(t *testing.T) {
	tests := []struct {
		name      string
		err       string
		wantState FlowState
		wantCode  string
	}{
		{name: "invalid code", err: "Invalid or expired code", wantState: StateAwaitingCode, wantCode: ""},
		{name: "otp upper case", err: "OTP expired", wantState: StateAwaitingCode, wantCode: ""},
		{name: "network", err: "network error", wantState: StateSettingPassword, wantCode: "654321"},
		{name: "server", err: "internal server error", wantState: StateSettingPassword, wantCode: "654321"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			f := env.settingPassword(t)
			env.codes.setVerify(VerifyCodeResult{}, errors.New(tt.err))

			err := f.SubmitNewPassword(context.Background(), "Str0ng!Pw", "Str0ng!Pw")
			require.EqualError(t, err, tt.err)

			snap := f.Snapshot()
			assert.Equal(t, tt.wantState, snap.State)
			assert.Equal(t, tt.wantCode, snap.Code)
			assert.Equal(t, tt.err, snap.Error)
			assert.Len(t, env.codes.verifyCalls(), 1)
		})
	}
}

func TestResetRetryAfterCodeFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	f := env.settingPassword(t)
	ctx := context.Background()

	env.codes.setVerify(VerifyCodeResult{}, errors.New("invalid code"))
	require.Error(t, f.SubmitNewPassword(ctx, "Str0ng!Pw", "Str0ng!Pw"))
	require.Equal(t, StateAwaitingCode, f.State())

	env.codes.setVerify(VerifyCodeResult{Success: true}, nil)
	require.NoError(t, f.SubmitCode(ctx, "111111"))
	require.NoError(t, f.SubmitNewPassword(ctx, "Str0ng!Pw", "Str0ng!Pw"))

	verifies := env.codes.verifyCalls()
	require.Len(t, verifies, 2)
	assert.Equal(t, "111111", verifies[1].Code)
	assert.Equal(t, StateVerified, f.State())
}

func TestPurposeMismatch(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	signup := env.signupFlow(t)
	assert.ErrorIs(t, signup.StartReset(ctx, "a@b.com"), ErrWrongPurpose)
	assert.ErrorIs(t, signup.SubmitNewPassword(ctx, "Str0ng!Pw", "Str0ng!Pw"), ErrWrongPurpose)

	reset := env.resetFlow(t)
	assert.ErrorIs(t, reset.StartSignup(ctx, "a@b.com", "Weakpass1!", ""), ErrWrongPurpose)
}

func TestIllegalTransitionsLeaveStateUnchanged(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	f := env.resetFlow(t)

	assert.ErrorIs(t, f.SubmitCode(ctx, "123456"), ErrInvalidTransition)
	assert.ErrorIs(t, f.Resend(ctx), ErrInvalidTransition)
	assert.ErrorIs(t, f.SubmitNewPassword(ctx, "Str0ng!Pw", "Str0ng!Pw"), ErrInvalidTransition)
	assert.Equal(t, StateIdle, f.State())

	require.NoError(t, f.StartReset(ctx, "a@b.com"))
	assert.ErrorIs(t, f.StartReset(ctx, "a@b.com"), ErrInvalidTransition)
	assert.Equal(t, StateAwaitingCode, f.State())
	assert.Empty(t, env.codes.verifyCalls())
	assert.Len(t, env.codes.sendCalls(), 1)
}

/*
====================================
RESEND COOLDOWN
====================================
*/

func TestResendRejectedDuringCooldown(t *testing.T) {
	env := newTestEnv(t, nil)
	f := env.awaitingSignup(t)

	require.ErrorIs(t, f.Resend(context.Background()), ErrResendCooldown)
	assert.Len(t, env.codes.sendCalls(), 1)
	assert.Equal(t, uint64(1), env.engine.MetricsSnapshot().Counters[MetricResendRejected])

	env.clock.Tick(t, 59)
	require.Eventually(t, func() bool { return f.Snapshot().ResendCooldown == 1 }, time.Second, time.Millisecond)
	require.ErrorIs(t, f.Resend(context.Background()), ErrResendCooldown)
	assert.Len(t, env.codes.sendCalls(), 1)
}

func TestResendAfterCooldownRestartsIt(t *testing.T) {
	env := newTestEnv(t, nil)
	f := env.awaitingSignup(t)
	_, err := f.SetCode("123")
	require.NoError(t, err)

	env.clock.Tick(t, 60)
	require.Eventually(t, func() bool { return f.Snapshot().CanResend() }, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool { return env.clock.last().stopped.Load() }, time.Second, time.Millisecond)

	require.NoError(t, f.Resend(context.Background()))

	snap := f.Snapshot()
	assert.Equal(t, StateAwaitingCode, snap.State)
	assert.Equal(t, 60, snap.ResendCooldown)
	assert.Empty(t, snap.Code)
	assert.Len(t, env.codes.sendCalls(), 2)
	assert.Equal(t, 2, env.clock.count())
}

func TestResendFailureKeepsAwaitingCode(t *testing.T) {
	env := newTestEnv(t, nil)
	f := env.awaitingSignup(t)
	env.clock.Tick(t, 60)
	require.Eventually(t, func() bool { return f.Snapshot().CanResend() }, time.Second, time.Millisecond)

	env.codes.setSendErr(errors.New("rate limited"))
	require.EqualError(t, f.Resend(context.Background()), "rate limited")

	snap := f.Snapshot()
	assert.Equal(t, StateAwaitingCode, snap.State)
	assert.Equal(t, "rate limited", snap.Error)
	assert.Equal(t, 0, snap.ResendCooldown)
}

func TestCooldownNeverNegative(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.Flow.ResendCooldown = 3 * time.Second })

	var mu sync.Mutex
	var seen []int
	env.engine.observer = func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s.ResendCooldown)
		mu.Unlock()
	}

	f := env.awaitingSignup(t)
	env.clock.Tick(t, 3)
	require.Eventually(t, func() bool { return f.Snapshot().ResendCooldown == 0 }, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, v := range seen {
		assert.GreaterOrEqual(t, v, 0)
	}
	assert.Contains(t, seen, 2)
	assert.Contains(t, seen, 1)
}

/*
====================================
CONCURRENCY AND TEARDOWN
====================================
*/

func TestSecondSubmitWhileVerifyInFlight(t *testing.T) {
	env := newTestEnv(t, nil)
	f := env.awaitingSignup(t)
	entered, release := env.codes.blockVerify()

	errCh := make(chan error, 1)
	go func() { errCh <- f.SubmitCode(context.Background(), "123456") }()
	<-entered

	assert.ErrorIs(t, f.SubmitCode(context.Background(), "123456"), ErrOperationInFlight)
	assert.ErrorIs(t, f.Resend(context.Background()), ErrOperationInFlight)
	assert.True(t, f.Snapshot().Busy())

	release()
	require.NoError(t, <-errCh)
	assert.Len(t, env.codes.verifyCalls(), 1)
	assert.Equal(t, StateVerified, f.State())
}

func TestSecondStartWhileSendInFlight(t *testing.T) {
	env := newTestEnv(t, nil)
	f := env.resetFlow(t)
	entered, release := env.codes.blockSend()

	errCh := make(chan error, 1)
	go func() { errCh <- f.StartReset(context.Background(), "a@b.com") }()
	<-entered

	assert.Equal(t, StateSending, f.State())
	assert.ErrorIs(t, f.StartReset(context.Background(), "a@b.com"), ErrOperationInFlight)

	release()
	require.NoError(t, <-errCh)
	assert.Len(t, env.codes.sendCalls(), 1)
}

func TestCancelDropsStaleSendResponse(t *testing.T) {
	env := newTestEnv(t, nil)
	f := env.signupFlow(t)
	entered, release := env.codes.blockSend()

	errCh := make(chan error, 1)
	go func() { errCh <- f.StartSignup(context.Background(), "a@b.com", "Weakpass1!", "") }()
	<-entered

	require.NoError(t, f.Cancel())
	release()

	require.ErrorIs(t, <-errCh, ErrStaleResponse)
	snap := f.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Empty(t, snap.Email)
	assert.Equal(t, 0, snap.ResendCooldown)
	assert.Zero(t, env.clock.count())
	assert.Equal(t, uint64(1), env.engine.MetricsSnapshot().Counters[MetricStaleResponseDropped])
}

func TestCancelSilencesPendingCooldownTick(t *testing.T) {
	env := newTestEnv(t, nil)

	var mu sync.Mutex
	var ticks []int
	env.engine.observer = func(s Snapshot) {
		mu.Lock()
		ticks = append(ticks, s.ResendCooldown)
		mu.Unlock()
	}
	f := env.awaitingSignup(t)
	mu.Lock()
	ticks = nil
	mu.Unlock()

	// Hold the flow lock so the tick goroutine parks in onCooldownTick, then
	// tear the attempt down exactly as Cancel does.
	f.mu.Lock()
	env.clock.Tick(t, 1)
	require.Eventually(t, func() bool { return f.cooldown.Remaining() == 59 }, time.Second, time.Millisecond)
	f.resetLocked()
	f.mu.Unlock()
	f.cooldown.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, ticks)
	assert.Equal(t, StateIdle, f.State())
}

func TestBackClearsAttempt(t *testing.T) {
	env := newTestEnv(t, nil)
	f := env.settingPassword(t)

	require.NoError(t, f.Back())

	snap := f.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Empty(t, snap.Code)
	assert.Empty(t, snap.Email)
	assert.Equal(t, 0, snap.ResendCooldown)
	assert.Eventually(t, func() bool { return env.clock.last().stopped.Load() }, time.Second, time.Millisecond)
}

func TestCloseDropsResponseAndSilencesObserver(t *testing.T) {
	env := newTestEnv(t, nil)

	var mu sync.Mutex
	var calls int
	closed := false
	var afterClose int
	env.engine.observer = func(Snapshot) {
		mu.Lock()
		calls++
		if closed {
			afterClose++
		}
		mu.Unlock()
	}

	f := env.awaitingSignup(t)
	entered, release := env.codes.blockVerify()

	errCh := make(chan error, 1)
	go func() { errCh <- f.SubmitCode(context.Background(), "123456") }()
	<-entered

	f.Close()
	mu.Lock()
	closed = true
	mu.Unlock()

	release()
	require.ErrorIs(t, <-errCh, ErrStaleResponse)

	mu.Lock()
	assert.Positive(t, calls)
	assert.Zero(t, afterClose)
	mu.Unlock()

	assert.True(t, f.Snapshot().Closed)
	assert.ErrorIs(t, f.Resend(context.Background()), ErrFlowClosed)
	assert.ErrorIs(t, f.Cancel(), ErrFlowClosed)
	assert.ErrorIs(t, f.StartSignup(context.Background(), "a@b.com", "Weakpass1!", ""), ErrFlowClosed)
	_, ok := env.engine.Flow(f.ID())
	assert.False(t, ok)

	f.Close()
}

func TestSettleReturnsToIdle(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.Flow.SettleDelay = 10 * time.Millisecond })
	f := env.awaitingSignup(t)

	require.NoError(t, f.SubmitCode(context.Background(), "123456"))
	assert.Equal(t, StateVerified, f.State())

	require.Eventually(t, func() bool { return f.State() == StateIdle }, time.Second, time.Millisecond)
	assert.Empty(t, f.Snapshot().Email)
}

func TestCancelStopsSettle(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.Flow.SettleDelay = 20 * time.Millisecond })
	f := env.awaitingSignup(t)
	require.NoError(t, f.SubmitCode(context.Background(), "123456"))

	f.Close()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, StateIdle, f.State())
	assert.True(t, f.Snapshot().Closed)
}

func TestFlowsAreIndependent(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.awaitingSignup(t)
	b := env.signupFlow(t)

	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, StateIdle, b.State())
	assert.Equal(t, 0, b.Snapshot().ResendCooldown)
	assert.Equal(t, 2, env.engine.ActiveFlows())

	a.Close()
	assert.Equal(t, StateIdle, b.State())
	assert.Equal(t, 1, env.engine.ActiveFlows())
}
