package authflow

import (
	"errors"

	"github.com/dj-pearson/project-profit-radar-sub001/internal/audit"
	"github.com/dj-pearson/project-profit-radar-sub001/password"
	"go.uber.org/zap"
)

// Builder assembles an Engine. Configure it with the With methods and call
// Build once.
type Builder struct {
	config Config

	codes     CodeService
	signIn    SignInService
	logger    *zap.Logger
	auditSink AuditSink
	observer  Observer
	newTicker TickerFunc

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithCodeService sets the OTP issuance and verification backend. Required.
func (b *Builder) WithCodeService(s CodeService) *Builder {
	b.codes = s
	return b
}

// WithSignInService sets the backend used by Engine.SignIn and
// Engine.OAuthRedirect. Optional; without it both return ErrEngineNotReady.
func (b *Builder) WithSignInService(s SignInService) *Builder {
	b.signIn = s
	return b
}

// WithLogger sets the logger. A nil logger disables logging.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the audit sink. Audit events are only dispatched when
// Config.Audit.Enabled is true.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithObserver registers a callback invoked with a Snapshot after every flow
// mutation, including cooldown ticks.
func (b *Builder) WithObserver(fn Observer) *Builder {
	b.observer = fn
	return b
}

// WithTicker replaces the one-second tick source of the resend cooldown.
func (b *Builder) WithTicker(fn TickerFunc) *Builder {
	b.newTicker = fn
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the external-call latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns the Engine. A Builder can
// only be built once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.codes == nil {
		return nil, errors.New("code service required")
	}

	policy, err := password.NewPolicy(cfg.Password)
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	newTicker := b.newTicker
	if newTicker == nil {
		newTicker = NewSystemTicker
	}

	engine := &Engine{
		config:    cfg,
		codes:     b.codes,
		signIn:    b.signIn,
		policy:    policy,
		logger:    logger.Named("authflow"),
		metrics:   NewMetrics(cfg.Metrics),
		observer:  b.observer,
		newTicker: newTicker,
		flows:     make(map[string]*Flow),
	}
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	b.built = true

	return engine, nil
}
