package password

import (
	"errors"
	"strconv"
	"strings"
	"unicode"
)

// DefaultSpecialCharacters is the special-character set used when a
// PolicyConfig leaves Specials empty.
const DefaultSpecialCharacters = "!@#$%^&*()_+-=[]{};':\"\\|,.<>/?`~"

const defaultMinLength = 8

// Rule identifies one password policy requirement.
type Rule string

const (
	// RuleMinLength requires at least PolicyConfig.MinLength characters.
	RuleMinLength Rule = "min_length"
	// RuleUppercase requires at least one uppercase letter.
	RuleUppercase Rule = "uppercase"
	// RuleLowercase requires at least one lowercase letter.
	RuleLowercase Rule = "lowercase"
	// RuleDigit requires at least one decimal digit.
	RuleDigit Rule = "digit"
	// RuleSpecial requires at least one character from PolicyConfig.Specials.
	RuleSpecial Rule = "special"
)

// PolicyConfig tunes the password policy. The rule set itself is fixed.
type PolicyConfig struct {
	MinLength int
	Specials  string
}

// RuleResult reports whether a single rule is satisfied.
type RuleResult struct {
	Rule        Rule
	Description string
	Satisfied   bool
}

// PolicyResult is the ordered per-rule outcome of evaluating a password.
//
// Rules always holds every rule in the order min_length, uppercase, lowercase,
// digit, special, so a UI can render a stable checklist.
type PolicyResult struct {
	Passed bool
	Rules  []RuleResult
}

// Unmet returns the rules that are not satisfied, in policy order.
func (r PolicyResult) Unmet() []Rule {
	var out []Rule
	for _, rr := range r.Rules {
		if !rr.Satisfied {
			out = append(out, rr.Rule)
		}
	}
	return out
}

// Satisfied reports the outcome of one rule. Unknown rules report false.
func (r PolicyResult) Satisfied(rule Rule) bool {
	for _, rr := range r.Rules {
		if rr.Rule == rule {
			return rr.Satisfied
		}
	}
	return false
}

// Policy evaluates passwords against the five-rule policy.
//
// Policy is immutable after NewPolicy and safe for concurrent use.
type Policy struct {
	minLength int
	specials  string
}

// NewPolicy returns an error when MinLength is negative. Zero values fall back to
// a minimum length of 8 and DefaultSpecialCharacters.
func NewPolicy(cfg PolicyConfig) (*Policy, error) {
	if cfg.MinLength < 0 {
		return nil, errors.New("password policy MinLength must be >= 0")
	}
	if cfg.MinLength == 0 {
		cfg.MinLength = defaultMinLength
	}
	if cfg.Specials == "" {
		cfg.Specials = DefaultSpecialCharacters
	}
	return &Policy{
		minLength: cfg.MinLength,
		specials:  cfg.Specials,
	}, nil
}

// DefaultPolicy returns the policy used at signup and reset when nothing is configured.
func DefaultPolicy() *Policy {
	return &Policy{
		minLength: defaultMinLength,
		specials:  DefaultSpecialCharacters,
	}
}

// MinLength returns the configured minimum length.
func (p *Policy) MinLength() int {
	return p.minLength
}

// Evaluate checks every rule independently. A password missing exactly one
// requirement reports exactly that rule as unsatisfied.
func (p *Policy) Evaluate(pw string) PolicyResult {
	var (
		length                       int
		hasUpper, hasLower, hasDigit bool
		hasSpecial                   bool
	)

	// Length counts characters, not bytes.
	for _, r := range pw {
		length++
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case r >= '0' && r <= '9':
			hasDigit = true
		}
		if strings.ContainsRune(p.specials, r) {
			hasSpecial = true
		}
	}

	rules := []RuleResult{
		{Rule: RuleMinLength, Description: minLengthDescription(p.minLength), Satisfied: length >= p.minLength},
		{Rule: RuleUppercase, Description: "At least one uppercase letter", Satisfied: hasUpper},
		{Rule: RuleLowercase, Description: "At least one lowercase letter", Satisfied: hasLower},
		{Rule: RuleDigit, Description: "At least one number", Satisfied: hasDigit},
		{Rule: RuleSpecial, Description: "At least one special character", Satisfied: hasSpecial},
	}

	passed := true
	for _, rr := range rules {
		if !rr.Satisfied {
			passed = false
			break
		}
	}

	return PolicyResult{Passed: passed, Rules: rules}
}

// Check returns nil when pw satisfies every rule.
func (p *Policy) Check(pw string) error {
	res := p.Evaluate(pw)
	if res.Passed {
		return nil
	}
	unmet := res.Unmet()
	names := make([]string, 0, len(unmet))
	for _, r := range unmet {
		names = append(names, string(r))
	}
	return &PolicyError{Unmet: unmet, msg: "password policy violation: " + strings.Join(names, ", ")}
}

// PolicyError lists the unmet rules of a rejected password.
type PolicyError struct {
	Unmet []Rule
	msg   string
}

func (e *PolicyError) Error() string {
	return e.msg
}

func minLengthDescription(n int) string {
	return "At least " + strconv.Itoa(n) + " characters"
}
