package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastConfig keeps the suite quick; production costs are covered by
// TestDefaultConfigRoundTrip.
func fastConfig() Config {
	return Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16}
}

func newHasher(t *testing.T, cfg Config) *Argon2 {
	t.Helper()
	h, err := NewArgon2(cfg)
	require.NoError(t, err)
	return h
}

func TestDefaultConfigRoundTrip(t *testing.T) {
	h := newHasher(t, DefaultConfig())

	encoded, err := h.Hash("Str0ng!pass")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$m=65536,t=3,p=2$"), encoded)

	ok, err := h.Verify("Str0ng!pass", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("Str0ng!pasS", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashUsesFreshSalt(t *testing.T) {
	h := newHasher(t, fastConfig())
	a, err := h.Hash("Str0ng!pass")
	require.NoError(t, err)
	b, err := h.Hash("Str0ng!pass")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestNewArgon2RejectsWeakConfig(t *testing.T) {
	tests := map[string]func(*Config){
		"memory":      func(c *Config) { c.Memory = 1024 },
		"time":        func(c *Config) { c.Time = 0 },
		"parallelism": func(c *Config) { c.Parallelism = 0 },
		"salt":        func(c *Config) { c.SaltLength = 8 },
		"key":         func(c *Config) { c.KeyLength = 8 },
		"max bytes":   func(c *Config) { c.MaxPasswordBytes = -1 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := fastConfig()
			mutate(&cfg)
			_, err := NewArgon2(cfg)
			assert.Error(t, err)
		})
	}
}

func TestHashInputBounds(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxPasswordBytes = 32
	h := newHasher(t, cfg)

	_, err := h.Hash("")
	assert.ErrorIs(t, err, ErrTooShort)
	_, err = h.Hash("Sh0rt!x")
	assert.ErrorIs(t, err, ErrTooShort)

	_, err = h.Hash("Str0ng!Pw")
	assert.NoError(t, err, "nine characters satisfies the policy and must hash")

	atMax := strings.Repeat("a", 32)
	encoded, err := h.Hash(atMax)
	require.NoError(t, err)
	ok, err := h.Verify(atMax, encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = h.Hash(atMax + "b")
	assert.ErrorIs(t, err, ErrTooLong)
	_, err = h.Verify(atMax+"b", encoded)
	assert.ErrorIs(t, err, ErrTooLong)
}

func TestDefaultMaxPasswordBytes(t *testing.T) {
	h := newHasher(t, fastConfig())

	_, err := h.Hash(strings.Repeat("x", DefaultMaxPasswordBytes))
	assert.NoError(t, err)
	_, err = h.Hash(strings.Repeat("x", DefaultMaxPasswordBytes+1))
	assert.ErrorIs(t, err, ErrTooLong)
}

func TestVerifyMalformedHashes(t *testing.T) {
	h := newHasher(t, fastConfig())
	good, err := h.Hash("Str0ng!pass")
	require.NoError(t, err)

	fields := strings.Split(good, "$")
	with := func(i int, v string) string {
		f := append([]string(nil), fields...)
		f[i] = v
		return strings.Join(f, "$")
	}

	tests := map[string]string{
		"not phc":         "not-a-phc-hash",
		"algorithm":       with(1, "argon2i"),
		"version":         with(2, "v=18"),
		"params order":    with(3, "t=1,m=8192,p=1"),
		"params extra":    with(3, "m=8192,t=1,p=1,x=2"),
		"memory floor":    with(3, "m=1024,t=1,p=1"),
		"parallelism big": with(3, "m=8192,t=1,p=300"),
		"salt encoding":   with(4, "!!!"),
		"salt short":      with(4, "c2FsdA=="),
		"key empty":       with(5, ""),
	}
	for name, encoded := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := h.Verify("Str0ng!pass", encoded)
			assert.ErrorIs(t, err, ErrMalformedHash)
			_, err = h.NeedsUpgrade(encoded)
			assert.ErrorIs(t, err, ErrMalformedHash)
		})
	}
}

func TestNeedsUpgrade(t *testing.T) {
	old := newHasher(t, fastConfig())
	encoded, err := old.Hash("Str0ng!pass")
	require.NoError(t, err)

	same, err := old.NeedsUpgrade(encoded)
	require.NoError(t, err)
	assert.False(t, same)

	stronger := fastConfig()
	stronger.Time = 2
	upgrade, err := newHasher(t, stronger).NeedsUpgrade(encoded)
	require.NoError(t, err)
	assert.True(t, upgrade)

	longerKey := fastConfig()
	longerKey.KeyLength = 32
	upgrade, err = newHasher(t, longerKey).NeedsUpgrade(encoded)
	require.NoError(t, err)
	assert.True(t, upgrade)

	// A hash made with stronger settings still verifies and needs no change.
	ok, err := old.Verify("Str0ng!pass", mustHash(t, newHasher(t, stronger), "Str0ng!pass"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func mustHash(t *testing.T, h *Argon2, pw string) string {
	t.Helper()
	encoded, err := h.Hash(pw)
	require.NoError(t, err)
	return encoded
}
