package authflow

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dj-pearson/project-profit-radar-sub001/internal/audit"
	"github.com/dj-pearson/project-profit-radar-sub001/password"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Engine mints verification flows and owns what they share: configuration,
// the code and sign-in services, the password policy, metrics, audit dispatch
// and logging.
//
// Engine instances are configured once through Builder and are safe for
// concurrent use.
type Engine struct {
	config    Config
	codes     CodeService
	signIn    SignInService
	policy    *password.Policy
	logger    *zap.Logger
	metrics   *Metrics
	audit     *audit.Dispatcher
	observer  Observer
	newTicker TickerFunc

	mu     sync.Mutex
	flows  map[string]*Flow
	closed bool
}

// NewSignupFlow starts a new signup-confirmation flow in StateIdle.
func (e *Engine) NewSignupFlow() (*Flow, error) {
	return e.NewFlow(PurposeSignupConfirmation)
}

// NewResetFlow starts a new password-reset flow in StateIdle.
func (e *Engine) NewResetFlow() (*Flow, error) {
	return e.NewFlow(PurposePasswordReset)
}

// NewFlow creates an independent flow for purpose.
func (e *Engine) NewFlow(purpose FlowPurpose) (*Flow, error) {
	if e == nil || e.codes == nil {
		return nil, ErrEngineNotReady
	}
	if purpose != PurposeSignupConfirmation && purpose != PurposePasswordReset {
		return nil, ErrWrongPurpose
	}

	f := newFlow(e, uuid.NewString(), purpose)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEngineClosed
	}
	e.flows[f.id] = f
	e.mu.Unlock()

	e.metrics.Inc(MetricFlowStarted)
	e.logger.Debug("flow created",
		zap.String("flow_id", f.id),
		zap.String("purpose", purpose.String()),
	)
	return f, nil
}

// Flow returns a live flow by id.
func (e *Engine) Flow(id string) (*Flow, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, ok := e.flows[id]
	return f, ok
}

// ActiveFlows returns the number of flows that have not been closed.
func (e *Engine) ActiveFlows() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.flows)
}

// Policy returns the password policy every flow evaluates drafts against.
func (e *Engine) Policy() *password.Policy {
	return e.policy
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

/*
====================================
SIGN-IN
====================================
*/

// SignIn checks the email shape and delegates to the sign-in service.
func (e *Engine) SignIn(ctx context.Context, email, pw string) (SignInResult, error) {
	if e == nil || e.signIn == nil {
		return SignInResult{}, ErrEngineNotReady
	}

	email = SanitizeEmail(email)
	fa := flowAuditor{}
	if !ValidEmail(email) {
		e.metrics.Inc(MetricValidationRejected)
		return SignInResult{}, ErrInvalidEmail
	}
	if pw == "" {
		e.metrics.Inc(MetricValidationRejected)
		return SignInResult{}, ErrMissingPassword
	}

	callCtx, cancel := e.callContext(ctx)
	defer cancel()

	start := time.Now()
	res, err := e.signIn.SignIn(callCtx, email, pw)
	e.metrics.Observe(MetricExternalCallLatency, time.Since(start))
	if err != nil {
		e.metrics.Inc(MetricSignInFailure)
		e.logger.Info("sign-in failed", zap.String("email", BlurEmail(email)), zap.Error(err))
		e.emitAudit(ctx, auditEventSignIn, fa, email, StateIdle, StateIdle, false, err, nil)
		return SignInResult{}, err
	}

	e.metrics.Inc(MetricSignInSuccess)
	e.emitAudit(ctx, auditEventSignIn, fa, email, StateIdle, StateIdle, true, nil, nil)
	return res, nil
}

// OAuthRedirect returns the provider's authorization URL. Only "google" and
// "apple" are accepted.
func (e *Engine) OAuthRedirect(ctx context.Context, provider string) (string, error) {
	if e == nil || e.signIn == nil {
		return "", ErrEngineNotReady
	}

	provider = strings.ToLower(strings.TrimSpace(provider))
	switch provider {
	case "google", "apple":
	default:
		return "", ErrUnsupportedProvider
	}

	callCtx, cancel := e.callContext(ctx)
	defer cancel()

	redirect, err := e.signIn.OAuthRedirect(callCtx, provider)
	e.emitAudit(ctx, auditEventOAuthRedirect, flowAuditor{}, "", StateIdle, StateIdle, err == nil, err, func() map[string]string {
		return map[string]string{"provider": provider}
	})
	if err != nil {
		return "", err
	}
	return redirect, nil
}

/*
====================================
LIFECYCLE
====================================
*/

// Close closes every live flow and drains the audit dispatcher. Flows cannot
// be created afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	flows := make([]*Flow, 0, len(e.flows))
	for _, f := range e.flows {
		flows = append(flows, f)
	}
	e.mu.Unlock()

	for _, f := range flows {
		f.Close()
	}
	if e.audit != nil {
		e.audit.Close()
	}
	_ = e.logger.Sync()
}

// AuditDropped returns the number of audit events discarded because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) forget(id string) {
	e.mu.Lock()
	delete(e.flows, id)
	e.mu.Unlock()
}

func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if e.config.Flow.CallTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.config.Flow.CallTimeout)
}

func (e *Engine) cooldownSeconds() int {
	return int(e.config.Flow.ResendCooldown / time.Second)
}
