package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-pearson/project-profit-radar-sub001/jwt"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "log", cfg.Mail.Mode)
	assert.Equal(t, 6, cfg.Codes.Digits)
	assert.Equal(t, 15*time.Minute, cfg.Codes.TTL)
	assert.Equal(t, 5, cfg.Codes.MaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.Flow.ResendCooldown)
	assert.Equal(t, 2*time.Second, cfg.Flow.SettleDelay)
	assert.Equal(t, 587, cfg.SMTP.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfigLayers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":7000"
codes:
  digits: 8
  ttl: 10m
mail:
  app_name: Radar
`), 0o600))

	t.Setenv("AUTHFLOW_CODES_DIGITS", "7")
	t.Setenv("AUTHFLOW_FLOW_RESEND_COOLDOWN", "45s")

	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flags.String("addr", ":8080", "")
	require.NoError(t, flags.Parse([]string{"--addr", ":9000"}))

	cfg, err := loadConfig(path, flags, map[string]string{"server.addr": "addr"})
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr, "flag beats file")
	assert.Equal(t, 7, cfg.Codes.Digits, "env beats file")
	assert.Equal(t, 10*time.Minute, cfg.Codes.TTL)
	assert.Equal(t, 45*time.Second, cfg.Flow.ResendCooldown)
	assert.Equal(t, "Radar", cfg.Mail.AppName)

	flow := cfg.flowConfig()
	assert.Equal(t, 7, flow.Flow.CodeDigits)
	assert.True(t, flow.Metrics.Enabled)
	require.NoError(t, flow.Validate())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"), nil, nil)
	assert.Error(t, err)
}

func TestJWTConfigModes(t *testing.T) {
	t.Run("ephemeral", func(t *testing.T) {
		cfg, ephemeral, err := JWTConfig{TTL: time.Hour, Issuer: "authflow"}.managerConfig()
		require.NoError(t, err)
		assert.True(t, ephemeral)
		assert.Equal(t, jwt.MethodEd25519, cfg.SigningMethod)
		_, err = jwt.NewManager(cfg)
		assert.NoError(t, err)
	})

	t.Run("hmac", func(t *testing.T) {
		cfg, ephemeral, err := JWTConfig{TTL: time.Hour, HMACSecret: "0123456789abcdef0123456789abcdef"}.managerConfig()
		require.NoError(t, err)
		assert.False(t, ephemeral)
		assert.Equal(t, jwt.MethodHS256, cfg.SigningMethod)
	})

	t.Run("pem file", func(t *testing.T) {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		der, err := x509.MarshalPKCS8PrivateKey(priv)
		require.NoError(t, err)
		path := filepath.Join(t.TempDir(), "key.pem")
		require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0o600))

		cfg, ephemeral, err := JWTConfig{TTL: time.Hour, PrivateKeyFile: path}.managerConfig()
		require.NoError(t, err)
		assert.False(t, ephemeral)

		m, err := jwt.NewManager(cfg)
		require.NoError(t, err)
		token, _, err := m.CreateAccessToken("id-1", "a@b.com", true)
		require.NoError(t, err)
		claims, err := m.ParseAccessToken(token)
		require.NoError(t, err)
		assert.Equal(t, "a@b.com", claims.Email)
	})

	t.Run("missing file", func(t *testing.T) {
		_, _, err := JWTConfig{TTL: time.Hour, PrivateKeyFile: "/does/not/exist.pem"}.managerConfig()
		assert.Error(t, err)
	})
}
