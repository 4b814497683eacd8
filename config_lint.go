package authflow

import (
	"errors"
	"strings"
	"time"
)

// LintSeverity ranks configuration warnings.
type LintSeverity uint8

const (
	// LintInfo marks settings that are unusual but harmless.
	LintInfo LintSeverity = iota
	// LintWarn marks settings that weaken the flow.
	LintWarn
	// LintHigh marks settings that defeat a protection entirely.
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintInfo:
		return "INFO"
	case LintWarn:
		return "WARN"
	case LintHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// LintWarning is one finding from Config.Lint.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the ordered list of findings.
type LintResult []LintWarning

// Codes returns the warning codes in order.
func (r LintResult) Codes() []string {
	codes := make([]string, len(r))
	for i, w := range r {
		codes[i] = w.Code
	}
	return codes
}

// BySeverity returns warnings at or above min.
func (r LintResult) BySeverity(min LintSeverity) LintResult {
	var out LintResult
	for _, w := range r {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// AsError joins warnings at or above min into one error, or returns nil.
func (r LintResult) AsError(min LintSeverity) error {
	filtered := r.BySeverity(min)
	if len(filtered) == 0 {
		return nil
	}
	msgs := make([]string, len(filtered))
	for i, w := range filtered {
		msgs[i] = w.Code + ": " + w.Message
	}
	return errors.New("config lint: " + strings.Join(msgs, "; "))
}

// Lint reports settings that pass Validate but are probably not intended.
func (c Config) Lint() LintResult {
	var ws LintResult
	add := func(code string, sev LintSeverity, msg string) {
		ws = append(ws, LintWarning{Code: code, Severity: sev, Message: msg})
	}

	if c.Flow.ResendCooldown == 0 {
		add("resend_cooldown_disabled", LintHigh, "codes can be resent without any wait")
	} else if c.Flow.ResendCooldown < 30*time.Second {
		add("resend_cooldown_short", LintWarn, "resend cooldown below 30s")
	}
	if c.Flow.CodeDigits < 6 {
		add("code_digits_short", LintWarn, "codes shorter than 6 digits are easier to guess")
	}
	if c.Flow.CallTimeout == 0 {
		add("call_timeout_disabled", LintWarn, "external calls are not bounded by a timeout")
	}
	if c.Flow.SettleDelay == 0 {
		add("settle_disabled", LintInfo, "verified flows stay verified until cancelled")
	}
	if c.Password.MinLength < 8 {
		add("password_min_length_low", LintHigh, "password minimum length below 8")
	}
	if !c.Audit.Enabled {
		add("audit_disabled", LintInfo, "audit events are not recorded")
	}

	return ws
}
