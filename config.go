package authflow

import (
	"errors"
	"time"

	"github.com/dj-pearson/project-profit-radar-sub001/password"
)

// Config defines the engine configuration.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	Flow     FlowConfig
	Password password.PolicyConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

/*
====================================
FLOW CONFIG
====================================
*/

// FlowConfig tunes the verification flow controller.
type FlowConfig struct {
	// CodeDigits is the exact length a code must have before it can be submitted.
	CodeDigits int
	// ResendCooldown is the wait between successful sends, counted down once per second.
	ResendCooldown time.Duration
	// SettleDelay is how long a flow stays in StateVerified before returning to StateIdle.
	SettleDelay time.Duration
	// CallTimeout bounds every external call. Zero leaves the caller's context untouched.
	CallTimeout time.Duration
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the configuration used by New.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Flow: FlowConfig{
			CodeDigits:     6,
			ResendCooldown: 60 * time.Second,
			SettleDelay:    2 * time.Second,
			CallTimeout:    30 * time.Second,
		},
		Password: password.PolicyConfig{
			MinLength: 8,
			Specials:  password.DefaultSpecialCharacters,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the configuration for values the flow controller cannot honor.
func (c *Config) Validate() error {
	// Flow
	if c.Flow.CodeDigits < 4 || c.Flow.CodeDigits > 10 {
		return errors.New("Flow CodeDigits must be between 4 and 10")
	}
	if c.Flow.ResendCooldown < 0 {
		return errors.New("Flow ResendCooldown must be >= 0")
	}
	if c.Flow.ResendCooldown%time.Second != 0 {
		return errors.New("Flow ResendCooldown must be a whole number of seconds")
	}
	if c.Flow.SettleDelay < 0 {
		return errors.New("Flow SettleDelay must be >= 0")
	}
	if c.Flow.CallTimeout < 0 {
		return errors.New("Flow CallTimeout must be >= 0")
	}

	// Password
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}
	if c.Password.Specials == "" {
		return errors.New("Password Specials must not be empty")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
