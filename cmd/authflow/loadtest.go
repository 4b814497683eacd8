package main

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	promexport "github.com/dj-pearson/project-profit-radar-sub001/metrics/export/prometheus"
	"github.com/dj-pearson/project-profit-radar-sub001/otpservice"
	"github.com/dj-pearson/project-profit-radar-sub001/password"
)

var loadtestBindings = map[string]string{
	"redis.addr": "redis-addr",
}

var (
	loadFlows       int
	loadConcurrency int
	loadMetrics     bool
)

var loadtestCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "Run concurrent signup and reset flows against an in-process backend",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if loadFlows <= 0 || loadConcurrency <= 0 {
			return fmt.Errorf("flows and concurrency must be > 0")
		}
		cfg, err := loadConfig(configFile, cmd.Flags(), loadtestBindings)
		if err != nil {
			return err
		}
		res, err := runLoadtest(cmd.Context(), cfg, loadFlows, loadConcurrency)
		if err != nil {
			return err
		}
		printStats("signup", res.signup)
		printStats("reset", res.reset)
		if loadMetrics {
			pterm.Println(res.metrics)
		}
		return nil
	},
}

func init() {
	f := loadtestCmd.Flags()
	f.IntVar(&loadFlows, "flows", 200, "number of accounts to sign up and reset")
	f.IntVar(&loadConcurrency, "concurrency", 16, "number of concurrent workers")
	f.String("redis-addr", "", "redis address; empty starts an embedded miniredis")
	f.BoolVar(&loadMetrics, "metrics", false, "print engine metrics in Prometheus format")
}

var mailedCode = regexp.MustCompile(`<strong>(\d+)</strong>`)

// inbox keeps the last code mailed to each address.
type inbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func newInbox() *inbox {
	return &inbox{codes: make(map[string]string)}
}

func (i *inbox) Send(_ context.Context, msg otpservice.Message) error {
	m := mailedCode.FindStringSubmatch(msg.HTML)
	if len(m) != 2 {
		return fmt.Errorf("no code in message to %s", msg.To)
	}
	i.mu.Lock()
	i.codes[msg.To] = m[1]
	i.mu.Unlock()
	return nil
}

func (i *inbox) code(email string) string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.codes[email]
}

type loadResult struct {
	signup  phaseStats
	reset   phaseStats
	metrics string
}

// runLoadtest signs up flows accounts and then resets each password, both
// phases spread over concurrency workers. The backend is in-process with an
// in-memory credential store and per-window limits lifted.
func runLoadtest(ctx context.Context, cfg *AppConfig, flows, concurrency int) (*loadResult, error) {
	cfg.Database.Path = ":memory:"
	cfg.Codes.MaxSendsPerWindow = 1 << 20
	cfg.Codes.MaxVerifiesPerWindow = 1 << 20
	cfg.Codes.ThrottleByIP = false
	cfg.Flow.SettleDelay = 0
	cfg.hashing = &loadHashing

	mail := newInbox()
	b, err := openBackend(cfg, mail, false)
	if err != nil {
		return nil, err
	}
	defer b.Close()
	logger.Debug("loadtest backend ready")

	emails := make([]string, flows)
	for i := range emails {
		emails[i] = fmt.Sprintf("load-%d@example.com", i)
	}

	signup := runPhase(ctx, flows, concurrency, func(ctx context.Context, i int) error {
		flow, err := b.engine.NewSignupFlow()
		if err != nil {
			return err
		}
		defer flow.Close()
		if err := flow.StartSignup(ctx, emails[i], "Str0ng!pass", "Load"); err != nil {
			return err
		}
		return flow.SubmitCode(ctx, mail.code(emails[i]))
	})

	reset := runPhase(ctx, flows, concurrency, func(ctx context.Context, i int) error {
		flow, err := b.engine.NewResetFlow()
		if err != nil {
			return err
		}
		defer flow.Close()
		if err := flow.StartReset(ctx, emails[i]); err != nil {
			return err
		}
		if err := flow.SubmitCode(ctx, mail.code(emails[i])); err != nil {
			return err
		}
		return flow.SubmitNewPassword(ctx, "N3w!password", "N3w!password")
	})

	return &loadResult{
		signup:  signup,
		reset:   reset,
		metrics: promexport.NewPrometheusExporter(b.engine).Render(),
	}, nil
}

// loadHashing keeps argon2 cheap enough for many concurrent hashes.
var loadHashing = password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

func runPhase(ctx context.Context, ops, concurrency int, op func(context.Context, int) error) phaseStats {
	var (
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	g, gctx := errgroup.WithContext(ctx)
	start := time.Now()
	for w := 0; w < concurrency; w++ {
		g.Go(func() error {
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops || gctx.Err() != nil {
					return nil
				}
				t0 := time.Now()
				err := op(gctx, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
					logger.Debug(fmt.Sprintf("flow %d failed: %v", i, err))
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		})
	}
	_ = g.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	pterm.Info.Printfln("%s: flows=%d failures=%d total=%s flows/sec=%.0f p50=%s p95=%s p99=%s",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
