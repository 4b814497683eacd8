// Package httpapi exposes the reference backend over HTTP and provides a
// client that lets a flow controller talk to it remotely.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	authflow "github.com/dj-pearson/project-profit-radar-sub001"
	"github.com/dj-pearson/project-profit-radar-sub001/middleware"
	"github.com/dj-pearson/project-profit-radar-sub001/otpservice"
)

const defaultMaxBodyBytes = 1 << 16

// Backend is everything the server delegates to. *otpservice.Service implements it.
type Backend interface {
	authflow.CodeService
	authflow.SignInService
	authflow.AccountRegistrar
}

// ServerConfig configures NewHandler. Every field is optional.
type ServerConfig struct {
	Logger *zap.Logger
	// Metrics is mounted at GET /metrics when set.
	Metrics http.Handler
	// Tokens enables GET /auth/me.
	Tokens middleware.TokenVerifier
	// TrustForwardedFor takes the client IP from the first X-Forwarded-For entry.
	TrustForwardedFor bool
	MaxBodyBytes      int64
}

type server struct {
	backend Backend
	config  ServerConfig
	logger  *zap.Logger
}

/* ==== WIRE TYPES ==== */

type sendCodeRequest struct {
	Email         string `json:"email"`
	Purpose       string `json:"purpose"`
	RecipientName string `json:"recipientName,omitempty"`
}

type sendCodeResponse struct {
	ExpiresInMinutes int `json:"expiresInMinutes"`
}

type verifyCodeRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	Purpose     string `json:"purpose"`
	NewPassword string `json:"newPassword,omitempty"`
}

type verifyCodeResponse struct {
	Success        bool `json:"success"`
	EmailConfirmed bool `json:"emailConfirmed"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signInResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type oauthResponse struct {
	URL string `json:"url"`
}

type meResponse struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"emailVerified"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewHandler returns the routed HTTP handler for backend.
func NewHandler(backend Backend, cfg ServerConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	s := &server{backend: backend, config: cfg, logger: cfg.Logger.Named("http")}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /functions/send-otp", s.handleSendCode)
	mux.HandleFunc("POST /functions/verify-otp", s.handleVerifyCode)
	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/sign-in", s.handleSignIn)
	mux.HandleFunc("GET /auth/oauth/{provider}", s.handleOAuth)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Tokens != nil {
		mux.Handle("GET /auth/me", middleware.RequireAccessToken(cfg.Tokens)(http.HandlerFunc(s.handleMe)))
	}
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	return middleware.Logging(s.logger)(mux)
}

func (s *server) handleSendCode(w http.ResponseWriter, r *http.Request) {
	var body sendCodeRequest
	if !s.decode(w, r, &body) {
		return
	}
	purpose, ok := authflow.ParsePurpose(body.Purpose)
	if !ok {
		s.writeError(w, otpservice.ErrInvalidPurpose)
		return
	}

	res, err := s.backend.SendCode(s.requestContext(r), authflow.SendCodeRequest{
		Email:         body.Email,
		Purpose:       purpose,
		RecipientName: body.RecipientName,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sendCodeResponse{ExpiresInMinutes: res.ExpiresInMinutes})
}

func (s *server) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	var body verifyCodeRequest
	if !s.decode(w, r, &body) {
		return
	}
	purpose, ok := authflow.ParsePurpose(body.Purpose)
	if !ok {
		s.writeError(w, otpservice.ErrInvalidPurpose)
		return
	}

	res, err := s.backend.VerifyCode(s.requestContext(r), authflow.VerifyCodeRequest{
		Email:       body.Email,
		Code:        body.Code,
		Purpose:     purpose,
		NewPassword: body.NewPassword,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyCodeResponse{Success: res.Success, EmailConfirmed: res.EmailConfirmed})
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if !s.decode(w, r, &body) {
		return
	}
	if err := s.backend.Register(s.requestContext(r), body.Email, body.Password, body.Name); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct{}{})
}

func (s *server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body signInRequest
	if !s.decode(w, r, &body) {
		return
	}
	res, err := s.backend.SignIn(s.requestContext(r), body.Email, body.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, signInResponse{AccessToken: res.AccessToken, ExpiresAt: res.ExpiresAt})
}

func (s *server) handleOAuth(w http.ResponseWriter, r *http.Request) {
	u, err := s.backend.OAuthRedirect(s.requestContext(r), r.PathValue("provider"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, oauthResponse{URL: u})
}

func (s *server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}
	writeJSON(w, http.StatusOK, meResponse{Subject: claims.Subject, Email: claims.Email, EmailVerified: claims.EmailVerified})
}

func (s *server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

func (s *server) requestContext(r *http.Request) context.Context {
	ctx := authflow.WithClientIP(r.Context(), s.clientIP(r))
	return authflow.WithUserAgent(ctx, r.UserAgent())
}

func (s *server) clientIP(r *http.Request) string {
	if s.config.TrustForwardedFor {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type errorMapping struct {
	err    error
	status int
}

var errorStatus = []errorMapping{
	{otpservice.ErrInvalidCode, http.StatusBadRequest},
	{otpservice.ErrCodeExpired, http.StatusBadRequest},
	{otpservice.ErrCodeAttempts, http.StatusBadRequest},
	{otpservice.ErrInvalidEmail, http.StatusBadRequest},
	{otpservice.ErrInvalidPurpose, http.StatusBadRequest},
	{otpservice.ErrWeakPassword, http.StatusBadRequest},
	{otpservice.ErrAccountNotFound, http.StatusBadRequest},
	{otpservice.ErrAlreadyConfirmed, http.StatusBadRequest},
	{otpservice.ErrUnsupportedProvider, http.StatusBadRequest},
	{otpservice.ErrInvalidCredentials, http.StatusUnauthorized},
	{otpservice.ErrEmailNotConfirmed, http.StatusUnauthorized},
	{otpservice.ErrAccountExists, http.StatusConflict},
	{otpservice.ErrCodeInUse, http.StatusConflict},
	{otpservice.ErrRateLimited, http.StatusTooManyRequests},
	{otpservice.ErrUnavailable, http.StatusServiceUnavailable},
	{otpservice.ErrDeliveryFailed, http.StatusServiceUnavailable},
}

// writeError answers with the sentinel's own message so that wrapped
// infrastructure details never reach the client.
func (s *server) writeError(w http.ResponseWriter, err error) {
	for _, m := range errorStatus {
		if errors.Is(err, m.err) {
			if m.status >= http.StatusInternalServerError {
				s.logger.Warn("backend unavailable", zap.Error(err))
			}
			writeJSON(w, m.status, errorResponse{Error: m.err.Error()})
			return
		}
	}
	s.logger.Error("unmapped backend error", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
