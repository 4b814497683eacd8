package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/alicebob/miniredis/v2"
	"github.com/pterm/pterm"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	authflow "github.com/dj-pearson/project-profit-radar-sub001"
	"github.com/dj-pearson/project-profit-radar-sub001/credstore"
	"github.com/dj-pearson/project-profit-radar-sub001/httpapi"
	"github.com/dj-pearson/project-profit-radar-sub001/internal/logging"
	promexport "github.com/dj-pearson/project-profit-radar-sub001/metrics/export/prometheus"
	"github.com/dj-pearson/project-profit-radar-sub001/otpservice"
)

var serveBindings = map[string]string{
	"server.addr":        "addr",
	"server.trust_proxy": "trust-proxy",
	"redis.addr":         "redis-addr",
	"database.path":      "db",
	"mail.mode":          "mail",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the verification backend over HTTP",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(configFile, cmd.Flags(), serveBindings)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") || cmd.Flags().Changed("log-format") {
			cfg.Logging.Level, cfg.Logging.Format = logLevel, logFormat
		}
		if l, err := logging.New(cfg.Logging); err == nil {
			logger = l
		} else {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func init() {
	f := serveCmd.Flags()
	f.String("addr", ":8080", "listen address")
	f.Bool("trust-proxy", false, "take the client IP from X-Forwarded-For")
	f.String("redis-addr", "", "redis address; empty starts an embedded miniredis")
	f.String("db", "authflow.db", "sqlite database path (:memory: for a throwaway store)")
	f.String("mail", "log", "mail delivery: log or smtp")
}

// backend owns everything serve and loadtest open, in close order.
type backend struct {
	service  *otpservice.Service
	engine   *authflow.Engine
	closers  []func()
	redisMsg string
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openRedis(cfg RedisConfig) (redis.UniversalClient, func(), string, error) {
	if cfg.Addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, "", fmt.Errorf("start miniredis: %w", err)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		return client, func() {
			_ = client.Close()
			mr.Close()
		}, "embedded miniredis at " + mr.Addr(), nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.Addr},
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return client, func() { _ = client.Close() }, "redis at " + cfg.Addr, nil
}

func openMailer(cfg *AppConfig) (otpservice.Mailer, func(), error) {
	switch cfg.Mail.Mode {
	case "", "log":
		return otpservice.NewLogMailer(logger), func() {}, nil
	case "smtp":
		m, err := otpservice.NewSMTPMailer(cfg.SMTP)
		if err != nil {
			return nil, nil, err
		}
		return m, m.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown mail mode %q", cfg.Mail.Mode)
	}
}

// openBackend wires redis, the credential store, the mailer, the service and
// an engine whose sign-in path records metrics and audit events.
func openBackend(cfg *AppConfig, mailer otpservice.Mailer, audit bool) (*backend, error) {
	b := &backend{}
	fail := func(err error) (*backend, error) {
		b.Close()
		return nil, err
	}

	rdb, closeRedis, msg, err := openRedis(cfg.Redis)
	if err != nil {
		return fail(err)
	}
	b.closers = append(b.closers, closeRedis)
	b.redisMsg = msg

	accounts, err := credstore.Open(cfg.Database.Path)
	if err != nil {
		return fail(err)
	}
	b.closers = append(b.closers, func() { _ = accounts.Close() })

	svcCfg, ephemeral, err := cfg.serviceConfig()
	if err != nil {
		return fail(err)
	}
	if ephemeral {
		logger.Warn("no jwt key configured, signing with an ephemeral ed25519 key")
	}

	svc, err := otpservice.New(svcCfg, rdb, accounts, mailer, logger)
	if err != nil {
		return fail(err)
	}
	b.service = svc

	flowCfg := cfg.flowConfig()
	builder := authflow.New().
		WithConfig(flowCfg).
		WithCodeService(svc).
		WithSignInService(svc).
		WithLogger(logger)
	if audit {
		flowCfg.Audit.Enabled = true
		builder = builder.WithConfig(flowCfg).WithAuditSink(authflow.NewZapSink(logger))
	}
	engine, err := builder.Build()
	if err != nil {
		return fail(err)
	}
	b.engine = engine
	b.closers = append(b.closers, engine.Close)

	for _, w := range flowCfg.Lint() {
		logger.Warn("config", zap.String("code", w.Code), zap.Stringer("severity", w.Severity), zap.String("message", w.Message))
	}
	return b, nil
}

// engineBackend sends sign-in traffic through the engine so it is counted.
type engineBackend struct {
	*otpservice.Service
	engine *authflow.Engine
}

func (b engineBackend) SignIn(ctx context.Context, email, password string) (authflow.SignInResult, error) {
	return b.engine.SignIn(ctx, email, password)
}

func (b engineBackend) OAuthRedirect(ctx context.Context, provider string) (string, error) {
	return b.engine.OAuthRedirect(ctx, provider)
}

func newServer(cfg *AppConfig, b *backend) *http.Server {
	serverCfg := httpapi.ServerConfig{
		Logger:            logger,
		Tokens:            b.service.Tokens(),
		TrustForwardedFor: cfg.Server.TrustProxy,
	}
	if cfg.Server.Metrics {
		serverCfg.Metrics = promexport.NewPrometheusExporter(b.engine).Handler()
	}
	return &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           httpapi.NewHandler(engineBackend{Service: b.service, engine: b.engine}, serverCfg),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}
}

func serve(ctx context.Context, cfg *AppConfig) error {
	mailer, closeMailer, err := openMailer(cfg)
	if err != nil {
		return err
	}
	defer closeMailer()

	b, err := openBackend(cfg, mailer, true)
	if err != nil {
		return err
	}
	defer b.Close()

	srv := newServer(cfg, b)
	pterm.Info.Printfln("using %s", b.redisMsg)
	pterm.Success.Printfln("listening on %s", cfg.Server.Addr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
