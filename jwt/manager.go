package jwt

import (
	"crypto"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	// MethodEd25519 signs with an Ed25519 private key (EdDSA).
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with a shared HMAC secret.
	MethodHS256 SigningMethod = "hs256"
)

const (
	maxLeeway       = 2 * time.Minute
	defaultFutureAt = 10 * time.Minute
	maxFutureAt     = 24 * time.Hour
	minHMACSecret   = 32
)

var (
	// ErrNoSigningKey is returned by CreateAccessToken on a verify-only manager.
	ErrNoSigningKey = errors.New("jwt: manager has no signing key")
	// ErrUnknownKeyID is returned when a token's kid does not select a verification key.
	ErrUnknownKeyID = errors.New("jwt: unknown key id")
	// ErrMissingSubject is returned for a correctly signed token without a sub claim.
	ErrMissingSubject = errors.New("jwt: token has no subject")
	// ErrIssuedInFuture is returned when iat lies beyond MaxFutureIAT.
	ErrIssuedInFuture = errors.New("jwt: token issued too far in the future")
)

// Config configures token issuance and validation.
//
// PrivateKey is the Ed25519 private key (raw or PEM) or the HS256 secret.
// VerifyKeys maps key ids to verification keys for rotation; when set, tokens
// must carry a matching kid header.
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	RequireIAT    bool
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

// AccessClaims are the claims carried by an access token. Subject holds the
// account id.
type AccessClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

// Manager issues and parses access tokens for signed-in accounts. Keys are
// decoded once by NewManager.
type Manager struct {
	config  Config
	method  jwt.SigningMethod
	signKey crypto.PrivateKey
	verify  any
	byKID   map[string]any
	parser  *jwt.Parser
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	switch {
	case cfg.AccessTTL <= 0:
		return nil, errors.New("jwt: access ttl must be positive")
	case cfg.Leeway < 0 || cfg.Leeway > maxLeeway:
		return nil, fmt.Errorf("jwt: leeway must be within [0, %s]", maxLeeway)
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = defaultFutureAt
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > maxFutureAt {
		return nil, fmt.Errorf("jwt: max future iat must be within (0, %s]", maxFutureAt)
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	m := &Manager{config: cfg}
	var err error
	switch cfg.SigningMethod {
	case MethodHS256:
		err = m.loadHMAC()
	case MethodEd25519:
		err = m.loadEd25519()
	default:
		return nil, fmt.Errorf("jwt: unsupported signing method %q", cfg.SigningMethod)
	}
	if err != nil {
		return nil, err
	}
	if cfg.KeyID != "" && m.byKID != nil {
		if _, ok := m.byKID[cfg.KeyID]; !ok {
			return nil, fmt.Errorf("jwt: key id %q has no verify key", cfg.KeyID)
		}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.RequireIAT {
		opts = append(opts, jwt.WithIssuedAt())
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	m.parser = jwt.NewParser(opts...)
	return m, nil
}

func (m *Manager) loadHMAC() error {
	if len(m.config.PrivateKey) < minHMACSecret {
		return fmt.Errorf("jwt: hs256 secret must be at least %d bytes", minHMACSecret)
	}
	m.method = jwt.SigningMethodHS256
	m.signKey = m.config.PrivateKey
	m.verify = m.config.PrivateKey
	if len(m.config.VerifyKeys) > 0 {
		m.byKID = make(map[string]any, len(m.config.VerifyKeys))
		for kid, secret := range m.config.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return errors.New("jwt: verify keys contain an empty key id")
			}
			m.byKID[kid] = secret
		}
	}
	return nil
}

func (m *Manager) loadEd25519() error {
	m.method = jwt.SigningMethodEdDSA
	if len(m.config.PrivateKey) > 0 {
		priv, err := edPrivateKey(m.config.PrivateKey)
		if err != nil {
			return err
		}
		m.signKey = priv
	}
	if len(m.config.PublicKey) > 0 {
		pub, err := edPublicKey(m.config.PublicKey)
		if err != nil {
			return err
		}
		m.verify = pub
	}
	if len(m.config.VerifyKeys) > 0 {
		m.byKID = make(map[string]any, len(m.config.VerifyKeys))
		for kid, raw := range m.config.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return errors.New("jwt: verify keys contain an empty key id")
			}
			pub, err := edPublicKey(raw)
			if err != nil {
				return fmt.Errorf("jwt: verify key %q: %w", kid, err)
			}
			m.byKID[kid] = pub
		}
	}
	if m.verify == nil && m.byKID == nil {
		return errors.New("jwt: ed25519 needs a public key or verify keys")
	}
	return nil
}

// TTL returns the configured access-token lifetime.
func (m *Manager) TTL() time.Duration {
	return m.config.AccessTTL
}

// CreateAccessToken signs a token for subject and returns it with its expiry.
func (m *Manager) CreateAccessToken(subject, email string, emailVerified bool) (string, time.Time, error) {
	if m.signKey == nil {
		return "", time.Time{}, ErrNoSigningKey
	}
	issued := time.Now()
	expires := issued.Add(m.config.AccessTTL)

	reg := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    m.config.Issuer,
		IssuedAt:  jwt.NewNumericDate(issued),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	if m.config.Audience != "" {
		reg.Audience = jwt.ClaimStrings{m.config.Audience}
	}
	token := jwt.NewWithClaims(m.method, AccessClaims{Email: email, EmailVerified: emailVerified, RegisteredClaims: reg})
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}

	out, err := token.SignedString(m.signKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt: sign: %w", err)
	}
	return out, expires, nil
}

// ParseAccessToken verifies the signature and registered claims of raw.
func (m *Manager) ParseAccessToken(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	token, err := m.parser.ParseWithClaims(raw, claims, m.keyFor)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	if claims.IssuedAt != nil && claims.IssuedAt.After(time.Now().Add(m.config.MaxFutureIAT)) {
		return nil, ErrIssuedInFuture
	}
	return claims, nil
}

// keyFor selects the verification key for t. A configured key set requires a
// known kid; otherwise a configured KeyID must match the header exactly.
func (m *Manager) keyFor(t *jwt.Token) (any, error) {
	if t.Method.Alg() != m.method.Alg() {
		return nil, fmt.Errorf("jwt: unexpected algorithm %s", t.Method.Alg())
	}
	kid, _ := t.Header["kid"].(string)
	if m.byKID != nil {
		key, ok := m.byKID[kid]
		if !ok {
			return nil, ErrUnknownKeyID
		}
		return key, nil
	}
	if m.config.KeyID != "" && kid != m.config.KeyID {
		return nil, ErrUnknownKeyID
	}
	return m.verify, nil
}

func edPrivateKey(b []byte) (ed25519.PrivateKey, error) {
	if len(b) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(b), nil
	}
	key, err := jwt.ParseEdPrivateKeyFromPEM(b)
	if err != nil {
		return nil, fmt.Errorf("jwt: ed25519 private key: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("jwt: private key is %T, not ed25519", key)
	}
	return priv, nil
}

func edPublicKey(b []byte) (ed25519.PublicKey, error) {
	if len(b) == ed25519.PublicKeySize {
		return ed25519.PublicKey(b), nil
	}
	key, err := jwt.ParseEdPublicKeyFromPEM(b)
	if err != nil {
		return nil, fmt.Errorf("jwt: ed25519 public key: %w", err)
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("jwt: public key is %T, not ed25519", key)
	}
	return pub, nil
}
