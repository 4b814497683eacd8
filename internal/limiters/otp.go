package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrCodeRateLimited        = errors.New("verification rate limited")
	ErrCodeLimiterUnavailable = errors.New("verification limiter unavailable")
)

// CodeConfig bounds how often codes may be requested and checked.
type CodeConfig struct {
	EnableEmailThrottle bool
	EnableIPThrottle    bool
	Window              time.Duration
	MaxSends            int
	MaxVerifies         int
}

// CodeLimiter applies fixed-window counters per email and per client IP to
// code sends and verifications. A nil CodeLimiter allows everything.
type CodeLimiter struct {
	redis  redis.UniversalClient
	config CodeConfig
}

func NewCodeLimiter(redisClient redis.UniversalClient, cfg CodeConfig) *CodeLimiter {
	return &CodeLimiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckSend counts one code request for email and ip.
func (l *CodeLimiter) CheckSend(ctx context.Context, purpose, email, ip string) error {
	if l == nil {
		return nil
	}
	if l.config.EnableEmailThrottle {
		if err := l.enforceFixedWindow(ctx, sendEmailKey(purpose, email), l.config.MaxSends); err != nil {
			return err
		}
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.enforceFixedWindow(ctx, sendIPKey(ip), l.config.MaxSends); err != nil {
			return err
		}
	}
	return nil
}

// CheckVerify counts one verification attempt for email and ip.
func (l *CodeLimiter) CheckVerify(ctx context.Context, purpose, email, ip string) error {
	if l == nil {
		return nil
	}
	if l.config.EnableEmailThrottle {
		if err := l.enforceFixedWindow(ctx, verifyEmailKey(purpose, email), l.config.MaxVerifies); err != nil {
			return err
		}
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.enforceFixedWindow(ctx, verifyIPKey(ip), l.config.MaxVerifies); err != nil {
			return err
		}
	}
	return nil
}

func (l *CodeLimiter) enforceFixedWindow(ctx context.Context, key string, max int) error {
	if max <= 0 {
		return nil
	}

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCodeLimiterUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrCodeLimiterUnavailable, err)
		}
	}

	if count > int64(max) {
		return ErrCodeRateLimited
	}

	return nil
}

func sendEmailKey(purpose, email string) string {
	return "otps:" + purpose + ":" + email
}

func sendIPKey(ip string) string {
	return "otpsip:" + ip
}

func verifyEmailKey(purpose, email string) string {
	return "otpv:" + purpose + ":" + email
}

func verifyIPKey(ip string) string {
	return "otpvip:" + ip
}
