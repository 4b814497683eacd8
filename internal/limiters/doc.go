// Package limiters throttles code sends and code checks with fixed-window
// counters in Redis, keyed per purpose and email and optionally per client IP.
//
// A nil [CodeLimiter] allows everything. Redis failures surface as
// [ErrCodeLimiterUnavailable] so callers can fail closed.
package limiters
