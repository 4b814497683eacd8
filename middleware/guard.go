package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/dj-pearson/project-profit-radar-sub001/jwt"
)

// TokenVerifier parses access tokens. *jwt.Manager implements it.
type TokenVerifier interface {
	ParseAccessToken(token string) (*jwt.AccessClaims, error)
}

type claimsKey struct{}

// ClaimsFromContext returns the claims attached by RequireAccessToken.
func ClaimsFromContext(ctx context.Context) (*jwt.AccessClaims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*jwt.AccessClaims)
	return c, ok && c != nil
}

// RequireAccessToken rejects requests without a valid bearer token and
// attaches the parsed claims to the request context. A nil verifier rejects
// everything.
func RequireAccessToken(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok || verifier == nil {
				reject(w, "")
				return
			}
			claims, err := verifier.ParseAccessToken(raw)
			if err != nil {
				reject(w, "invalid_token")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}

func reject(w http.ResponseWriter, code string) {
	challenge := "Bearer"
	if code != "" {
		challenge += ` error="` + code + `"`
	}
	w.Header().Set("WWW-Authenticate", challenge)
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

// bearerToken extracts the credentials of an RFC 6750 Authorization header.
// The scheme is matched case-insensitively.
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
