package authflow

import "context"

type requestKey uint8

const (
	clientIPKey requestKey = iota
	userAgentKey
)

// WithClientIP attaches the caller's IP address to ctx. Backends use it for
// per-IP throttling and the engine records it on audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// WithUserAgent attaches the caller's User-Agent string to ctx.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentKey, userAgent)
}

// ClientIPFromContext returns the IP attached with WithClientIP, or "".
func ClientIPFromContext(ctx context.Context) string {
	return stringValue(ctx, clientIPKey)
}

// UserAgentFromContext returns the User-Agent attached with WithUserAgent, or "".
func UserAgentFromContext(ctx context.Context) string {
	return stringValue(ctx, userAgentKey)
}

func stringValue(ctx context.Context, key requestKey) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(key).(string)
	return s
}
