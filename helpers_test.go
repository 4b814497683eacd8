package authflow

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

/*
====================================
MANUAL TICKER
====================================
*/

type manualTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (m *manualTicker) Chan() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()                  { m.stopped.Store(true) }

// manualClock hands out tickers that only fire when the test calls Tick.
type manualClock struct {
	mu      sync.Mutex
	tickers []*manualTicker
}

func (c *manualClock) NewTicker(time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	tk := &manualTicker{ch: make(chan time.Time)}
	c.tickers = append(c.tickers, tk)
	return tk
}

func (c *manualClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickers)
}

func (c *manualClock) last() *manualTicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tickers) == 0 {
		return nil
	}
	return c.tickers[len(c.tickers)-1]
}

// Tick delivers n ticks to the newest ticker; each send blocks until the
// countdown goroutine receives it.
func (c *manualClock) Tick(t *testing.T, n int) {
	t.Helper()
	tk := c.last()
	require.NotNil(t, tk, "no ticker started")
	for i := 0; i < n; i++ {
		select {
		case tk.ch <- time.Now():
		case <-time.After(2 * time.Second):
			t.Fatalf("tick %d not consumed", i+1)
		}
	}
}

/*
====================================
FAKE CODE SERVICE
====================================
*/

type fakeCodeService struct {
	mu          sync.Mutex
	sends       []SendCodeRequest
	verifies    []VerifyCodeRequest
	sendResult  SendCodeResult
	sendErr     error
	verifyRes   VerifyCodeResult
	verifyErr   error
	sendGate    chan struct{}
	verifyGate  chan struct{}
	sendEntered chan struct{}
	verEntered  chan struct{}
}

func newFakeCodeService() *fakeCodeService {
	return &fakeCodeService{
		sendResult: SendCodeResult{ExpiresInMinutes: 15},
		verifyRes:  VerifyCodeResult{Success: true, EmailConfirmed: true},
	}
}

func (s *fakeCodeService) SendCode(ctx context.Context, req SendCodeRequest) (SendCodeResult, error) {
	s.mu.Lock()
	s.sends = append(s.sends, req)
	gate, entered := s.sendGate, s.sendEntered
	res, err := s.sendResult, s.sendErr
	s.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	return res, err
}

func (s *fakeCodeService) VerifyCode(ctx context.Context, req VerifyCodeRequest) (VerifyCodeResult, error) {
	s.mu.Lock()
	s.verifies = append(s.verifies, req)
	gate, entered := s.verifyGate, s.verEntered
	res, err := s.verifyRes, s.verifyErr
	s.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	return res, err
}

func (s *fakeCodeService) setSendErr(err error) {
	s.mu.Lock()
	s.sendErr = err
	s.mu.Unlock()
}

func (s *fakeCodeService) setVerify(res VerifyCodeResult, err error) {
	s.mu.Lock()
	s.verifyRes = res
	s.verifyErr = err
	s.mu.Unlock()
}

// blockSend makes the next SendCode calls wait until release is called.
func (s *fakeCodeService) blockSend() (entered <-chan struct{}, release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendGate = make(chan struct{})
	s.sendEntered = make(chan struct{}, 4)
	gate := s.sendGate
	return s.sendEntered, func() { close(gate) }
}

func (s *fakeCodeService) blockVerify() (entered <-chan struct{}, release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifyGate = make(chan struct{})
	s.verEntered = make(chan struct{}, 4)
	gate := s.verifyGate
	return s.verEntered, func() { close(gate) }
}

func (s *fakeCodeService) sendCalls() []SendCodeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SendCodeRequest(nil), s.sends...)
}

func (s *fakeCodeService) verifyCalls() []VerifyCodeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]VerifyCodeRequest(nil), s.verifies...)
}

// registeringCodeService records Register calls in front of a fake code service.
// Setting gate makes Register signal entered and wait until gate is closed.
type registeringCodeService struct {
	*fakeCodeService
	registered []string
	err        error
	entered    chan struct{}
	gate       chan struct{}
}

func (r *registeringCodeService) Register(ctx context.Context, email, pw, name string) error {
	r.mu.Lock()
	r.registered = append(r.registered, email+"|"+name)
	err, entered, gate := r.err, r.entered, r.gate
	r.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	return err
}

/*
====================================
ENGINE
====================================
*/

type testEnv struct {
	engine *Engine
	codes  *fakeCodeService
	clock  *manualClock
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Flow.SettleDelay = 0
	cfg.Metrics.Enabled = true
	return cfg
}

func newTestEnv(t testing.TB, mutate func(*Config), opts ...func(*Builder)) *testEnv {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	env := &testEnv{
		codes: newFakeCodeService(),
		clock: &manualClock{},
	}

	b := New().
		WithConfig(cfg).
		WithCodeService(env.codes).
		WithTicker(env.clock.NewTicker)
	for _, opt := range opts {
		opt(b)
	}

	engine, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	env.engine = engine
	return env
}

func (env *testEnv) signupFlow(t *testing.T) *Flow {
	t.Helper()
	f, err := env.engine.NewSignupFlow()
	require.NoError(t, err)
	return f
}

func (env *testEnv) resetFlow(t *testing.T) *Flow {
	t.Helper()
	f, err := env.engine.NewResetFlow()
	require.NoError(t, err)
	return f
}

// awaitingSignup returns a signup flow that already sent its code.
func (env *testEnv) awaitingSignup(t *testing.T) *Flow {
	t.Helper()
	f := env.signupFlow(t)
	require.NoError(t, f.StartSignup(context.Background(), "a@b.com", "Weakpass1!", "Ada"))
	require.Equal(t, StateAwaitingCode, f.State())
	return f
}

// settingPassword returns a reset flow that accepted a format-valid code.
func (env *testEnv) settingPassword(t *testing.T) *Flow {
	t.Helper()
	f := env.resetFlow(t)
	require.NoError(t, f.StartReset(context.Background(), "a@b.com"))
	require.NoError(t, f.SubmitCode(context.Background(), "654321"))
	require.Equal(t, StateSettingPassword, f.State())
	return f
}
