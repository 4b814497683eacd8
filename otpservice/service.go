// Package otpservice is a reference backend for the flow controller. It issues
// and verifies one-time codes kept in Redis, registers and signs in accounts
// kept in a credential store, and sends codes by email.
package otpservice

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	authflow "github.com/dj-pearson/project-profit-radar-sub001"
	"github.com/dj-pearson/project-profit-radar-sub001/credstore"
	"github.com/dj-pearson/project-profit-radar-sub001/internal"
	"github.com/dj-pearson/project-profit-radar-sub001/internal/limiters"
	"github.com/dj-pearson/project-profit-radar-sub001/internal/stores"
	"github.com/dj-pearson/project-profit-radar-sub001/jwt"
	"github.com/dj-pearson/project-profit-radar-sub001/password"
)

// CredentialStore persists accounts. *credstore.Store implements it.
type CredentialStore interface {
	Create(ctx context.Context, email, name, passwordHash string) (*credstore.Account, error)
	Get(ctx context.Context, email string) (*credstore.Account, error)
	ConfirmEmail(ctx context.Context, email string) error
	UpdatePassword(ctx context.Context, email, passwordHash string) error
	ReplaceUnconfirmed(ctx context.Context, email, name, passwordHash string) error
}

// Service implements authflow.CodeService, authflow.SignInService and
// authflow.AccountRegistrar.
type Service struct {
	config    Config
	codes     *stores.CodeStore
	limiter   *limiters.CodeLimiter
	accounts  CredentialStore
	mailer    Mailer
	templates *Templates
	hasher    *password.Argon2
	policy    *password.Policy
	tokens    *jwt.Manager
	logger    *zap.Logger
}

var (
	_ authflow.CodeService      = (*Service)(nil)
	_ authflow.SignInService    = (*Service)(nil)
	_ authflow.AccountRegistrar = (*Service)(nil)
)

// New wires a Service. logger may be nil.
func New(cfg Config, rdb redis.UniversalClient, accounts CredentialStore, mailer Mailer, logger *zap.Logger) (*Service, error) {
	if rdb == nil || accounts == nil || mailer == nil {
		return nil, errors.New("otpservice: redis, credential store and mailer are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	hasher, err := password.NewArgon2(cfg.Hashing)
	if err != nil {
		return nil, fmt.Errorf("password hashing: %w", err)
	}
	policy, err := password.NewPolicy(cfg.Policy)
	if err != nil {
		return nil, fmt.Errorf("password policy: %w", err)
	}
	tokens, err := jwt.NewManager(cfg.JWT)
	if err != nil {
		return nil, fmt.Errorf("jwt: %w", err)
	}

	limitCfg := limiters.CodeConfig{
		EnableEmailThrottle: cfg.MaxSendsPerWindow > 0 || cfg.MaxVerifiesPerWindow > 0,
		EnableIPThrottle:    cfg.ThrottleByIP,
		Window:              cfg.SendWindow,
		MaxSends:            cfg.MaxSendsPerWindow,
		MaxVerifies:         cfg.MaxVerifiesPerWindow,
	}

	return &Service{
		config:    cfg,
		codes:     stores.NewCodeStore(rdb, cfg.CodeKeyPrefix),
		limiter:   limiters.NewCodeLimiter(rdb, limitCfg),
		accounts:  accounts,
		mailer:    mailer,
		templates: DefaultTemplates(),
		hasher:    hasher,
		policy:    policy,
		tokens:    tokens,
		logger:    logger.Named("otpservice"),
	}, nil
}

// Templates exposes the email templates for overriding.
func (s *Service) Templates() *Templates {
	return s.templates
}

// Tokens returns the access-token manager used by SignIn.
func (s *Service) Tokens() *jwt.Manager {
	return s.tokens
}

// SendCode issues a fresh code for req.Purpose, replacing any earlier one, and
// mails it. A reset request for an unknown email reports success without sending.
func (s *Service) SendCode(ctx context.Context, req authflow.SendCodeRequest) (authflow.SendCodeResult, error) {
	email := authflow.SanitizeEmail(req.Email)
	if !authflow.ValidEmail(email) {
		return authflow.SendCodeResult{}, ErrInvalidEmail
	}
	if req.Purpose != authflow.PurposeSignupConfirmation && req.Purpose != authflow.PurposePasswordReset {
		return authflow.SendCodeResult{}, ErrInvalidPurpose
	}
	log := s.logger.With(zap.String("purpose", req.Purpose.String()), zap.String("email", authflow.BlurEmail(email)))

	if err := s.limiter.CheckSend(ctx, req.Purpose.String(), email, authflow.ClientIPFromContext(ctx)); err != nil {
		log.Info("code send throttled", zap.Error(err))
		return authflow.SendCodeResult{}, mapLimiterError(err)
	}

	result := authflow.SendCodeResult{ExpiresInMinutes: s.config.expiresInMinutes()}

	acct, err := s.accounts.Get(ctx, email)
	switch {
	case errors.Is(err, credstore.ErrNotFound):
		if req.Purpose == authflow.PurposePasswordReset {
			log.Debug("reset requested for unknown account")
			return result, nil
		}
		return authflow.SendCodeResult{}, ErrAccountNotFound
	case err != nil:
		return authflow.SendCodeResult{}, mapAccountError(err)
	}
	if req.Purpose == authflow.PurposeSignupConfirmation && acct.EmailConfirmed {
		return authflow.SendCodeResult{}, ErrAlreadyConfirmed
	}

	code, err := internal.NewOTP(s.config.CodeDigits)
	if err != nil {
		log.Error("code generation failed", zap.Error(err))
		return authflow.SendCodeResult{}, unavailable(err)
	}

	now := time.Now()
	record := &stores.CodeRecord{
		Subject:   email,
		Purpose:   uint8(req.Purpose),
		CodeHash:  internal.HashCode(code),
		ExpiresAt: now.Add(s.config.CodeTTL).Unix(),
	}
	if err := s.codes.Save(ctx, record, s.config.CodeTTL); err != nil {
		log.Error("code save failed", zap.Error(err))
		return authflow.SendCodeResult{}, mapStoreError(err)
	}

	name := req.RecipientName
	if name == "" {
		name = acct.Name
	}
	subject, body, err := s.templates.Render(req.Purpose, TemplateData{
		AppName:          s.config.AppName,
		Name:             name,
		Code:             code,
		ExpiresInMinutes: result.ExpiresInMinutes,
	})
	if err != nil {
		return authflow.SendCodeResult{}, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	if err := s.mailer.Send(ctx, Message{From: s.config.From, To: email, Subject: subject, HTML: body}); err != nil {
		log.Warn("code delivery failed", zap.Error(err))
		return authflow.SendCodeResult{}, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	log.Info("code sent")
	return result, nil
}

// VerifyCode checks req.Code. For signup a matching code is consumed and the
// email confirmed. For password reset the code is only marked used after the
// new password has been stored, so a failed update leaves it valid.
func (s *Service) VerifyCode(ctx context.Context, req authflow.VerifyCodeRequest) (authflow.VerifyCodeResult, error) {
	email := authflow.SanitizeEmail(req.Email)
	if !authflow.ValidEmail(email) {
		return authflow.VerifyCodeResult{}, ErrInvalidEmail
	}
	if !authflow.ValidCode(req.Code, s.config.CodeDigits) {
		return authflow.VerifyCodeResult{}, ErrInvalidCode
	}
	log := s.logger.With(zap.String("purpose", req.Purpose.String()), zap.String("email", authflow.BlurEmail(email)))

	if err := s.limiter.CheckVerify(ctx, req.Purpose.String(), email, authflow.ClientIPFromContext(ctx)); err != nil {
		log.Info("code verify throttled", zap.Error(err))
		return authflow.VerifyCodeResult{}, mapLimiterError(err)
	}

	switch req.Purpose {
	case authflow.PurposeSignupConfirmation:
		return s.verifySignup(ctx, log, email, req.Code)
	case authflow.PurposePasswordReset:
		return s.verifyReset(ctx, log, email, req.Code, req.NewPassword)
	default:
		return authflow.VerifyCodeResult{}, ErrInvalidPurpose
	}
}

func (s *Service) verifySignup(ctx context.Context, log *zap.Logger, email, code string) (authflow.VerifyCodeResult, error) {
	purpose := uint8(authflow.PurposeSignupConfirmation)
	if _, err := s.codes.Consume(ctx, purpose, email, internal.HashCode(code), s.config.MaxAttempts); err != nil {
		log.Info("signup code rejected", zap.Error(err))
		return authflow.VerifyCodeResult{}, mapStoreError(err)
	}

	if err := s.accounts.ConfirmEmail(ctx, email); err != nil {
		log.Error("confirm email failed", zap.Error(err))
		return authflow.VerifyCodeResult{}, mapAccountError(err)
	}

	log.Info("email confirmed")
	return authflow.VerifyCodeResult{Success: true, EmailConfirmed: true}, nil
}

func (s *Service) verifyReset(ctx context.Context, log *zap.Logger, email, code, newPassword string) (authflow.VerifyCodeResult, error) {
	purpose := uint8(authflow.PurposePasswordReset)
	claim, err := s.codes.Claim(ctx, purpose, email, internal.HashCode(code), s.config.MaxAttempts)
	if err != nil {
		log.Info("reset code rejected", zap.Error(err))
		return authflow.VerifyCodeResult{}, mapStoreError(err)
	}

	// The code stays claimed until the password is stored; any earlier
	// failure hands it back so the user can retry with the same code.
	committed := false
	defer func() {
		if committed {
			return
		}
		if err := s.codes.Release(context.WithoutCancel(ctx), claim); err != nil {
			log.Warn("reset code release failed", zap.Error(err))
		}
	}()

	if err := s.policy.Check(newPassword); err != nil {
		return authflow.VerifyCodeResult{}, fmt.Errorf("%w: %v", ErrWeakPassword, err)
	}

	acct, err := s.accounts.Get(ctx, email)
	if err != nil {
		log.Error("reset account lookup failed", zap.Error(err))
		return authflow.VerifyCodeResult{}, mapAccountError(err)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return authflow.VerifyCodeResult{}, fmt.Errorf("%w: %v", ErrWeakPassword, err)
	}
	if err := s.accounts.UpdatePassword(ctx, email, hash); err != nil {
		log.Error("password update failed", zap.Error(err))
		return authflow.VerifyCodeResult{}, mapAccountError(err)
	}
	committed = true

	if !acct.EmailConfirmed {
		if err := s.accounts.ConfirmEmail(ctx, email); err != nil {
			log.Warn("confirm email after reset failed", zap.Error(err))
		}
	}
	if err := s.codes.Finish(context.WithoutCancel(ctx), claim); err != nil {
		log.Warn("reset code cleanup failed", zap.Error(err))
	}

	log.Info("password reset")
	return authflow.VerifyCodeResult{Success: true, EmailConfirmed: true}, nil
}

// Register creates an unconfirmed account. Registering again before the email
// was confirmed replaces the name and password.
func (s *Service) Register(ctx context.Context, email, pw, name string) error {
	email = authflow.SanitizeEmail(email)
	if !authflow.ValidEmail(email) {
		return ErrInvalidEmail
	}
	if err := s.policy.Check(pw); err != nil {
		return fmt.Errorf("%w: %v", ErrWeakPassword, err)
	}

	hash, err := s.hasher.Hash(pw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWeakPassword, err)
	}

	_, err = s.accounts.Create(ctx, email, name, hash)
	if errors.Is(err, credstore.ErrExists) {
		err = s.accounts.ReplaceUnconfirmed(ctx, email, name, hash)
	}
	if err != nil {
		return mapAccountError(err)
	}

	s.logger.Info("account registered", zap.String("email", authflow.BlurEmail(email)))
	return nil
}

// SignIn checks the password and issues an access token.
func (s *Service) SignIn(ctx context.Context, email, pw string) (authflow.SignInResult, error) {
	email = authflow.SanitizeEmail(email)

	acct, err := s.accounts.Get(ctx, email)
	if errors.Is(err, credstore.ErrNotFound) {
		return authflow.SignInResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return authflow.SignInResult{}, mapAccountError(err)
	}

	ok, err := s.hasher.Verify(pw, acct.PasswordHash)
	if err != nil || !ok {
		return authflow.SignInResult{}, ErrInvalidCredentials
	}
	if !acct.EmailConfirmed {
		return authflow.SignInResult{}, ErrEmailNotConfirmed
	}

	if upgrade, err := s.hasher.NeedsUpgrade(acct.PasswordHash); err == nil && upgrade {
		if hash, err := s.hasher.Hash(pw); err == nil {
			if err := s.accounts.UpdatePassword(ctx, email, hash); err != nil {
				s.logger.Warn("password rehash failed", zap.Error(err))
			}
		}
	}

	token, expiresAt, err := s.tokens.CreateAccessToken(acct.ID, acct.Email, acct.EmailConfirmed)
	if err != nil {
		s.logger.Error("token issue failed", zap.Error(err))
		return authflow.SignInResult{}, unavailable(err)
	}

	s.logger.Info("signed in", zap.String("email", authflow.BlurEmail(email)))
	return authflow.SignInResult{AccessToken: token, ExpiresAt: expiresAt}, nil
}

// OAuthRedirect returns the authorize URL for provider.
func (s *Service) OAuthRedirect(_ context.Context, provider string) (string, error) {
	switch provider {
	case "google", "apple":
	default:
		return "", ErrUnsupportedProvider
	}

	u, err := url.Parse(s.config.OAuthBaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid oauth base url: %w", err)
	}
	q := u.Query()
	q.Set("provider", provider)
	if s.config.OAuthRedirectTo != "" {
		q.Set("redirect_to", s.config.OAuthRedirectTo)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
