package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	authflow "github.com/dj-pearson/project-profit-radar-sub001"
	"github.com/dj-pearson/project-profit-radar-sub001/internal/logging"
	"github.com/dj-pearson/project-profit-radar-sub001/jwt"
	"github.com/dj-pearson/project-profit-radar-sub001/otpservice"
	"github.com/dj-pearson/project-profit-radar-sub001/password"
)

const envPrefix = "AUTHFLOW"

// AppConfig is the file/env/flag configuration of the CLI.
type AppConfig struct {
	Server   ServerConfig          `mapstructure:"server"`
	Redis    RedisConfig           `mapstructure:"redis"`
	Database DatabaseConfig        `mapstructure:"database"`
	Mail     MailConfig            `mapstructure:"mail"`
	SMTP     otpservice.SMTPConfig `mapstructure:"smtp"`
	Codes    CodesConfig           `mapstructure:"codes"`
	JWT      JWTConfig             `mapstructure:"jwt"`
	Flow     FlowConfig            `mapstructure:"flow"`
	Logging  logging.Config        `mapstructure:"logging"`

	hashing *password.Config
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	TrustProxy      bool          `mapstructure:"trust_proxy"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	Metrics         bool          `mapstructure:"metrics"`
}

type RedisConfig struct {
	// Addr selects an external Redis. Empty starts an embedded miniredis.
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type MailConfig struct {
	// Mode is "log" or "smtp".
	Mode    string `mapstructure:"mode"`
	From    string `mapstructure:"from"`
	AppName string `mapstructure:"app_name"`
}

type CodesConfig struct {
	Digits               int           `mapstructure:"digits"`
	TTL                  time.Duration `mapstructure:"ttl"`
	MaxAttempts          int           `mapstructure:"max_attempts"`
	Window               time.Duration `mapstructure:"window"`
	MaxSendsPerWindow    int           `mapstructure:"max_sends_per_window"`
	MaxVerifiesPerWindow int           `mapstructure:"max_verifies_per_window"`
	ThrottleByIP         bool          `mapstructure:"throttle_by_ip"`
}

type JWTConfig struct {
	// PrivateKeyFile is a PEM Ed25519 key. Without it and without HMACSecret
	// an ephemeral key is generated at startup.
	PrivateKeyFile string        `mapstructure:"private_key_file"`
	HMACSecret     string        `mapstructure:"hmac_secret"`
	Issuer         string        `mapstructure:"issuer"`
	Audience       string        `mapstructure:"audience"`
	TTL            time.Duration `mapstructure:"ttl"`
	KeyID          string        `mapstructure:"key_id"`
}

type FlowConfig struct {
	ResendCooldown time.Duration `mapstructure:"resend_cooldown"`
	SettleDelay    time.Duration `mapstructure:"settle_delay"`
	CallTimeout    time.Duration `mapstructure:"call_timeout"`
}

func setDefaults(v *viper.Viper) {
	flow := authflow.DefaultConfig().Flow
	svc := otpservice.DefaultConfig()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.metrics", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("database.path", "authflow.db")

	v.SetDefault("mail.mode", "log")
	v.SetDefault("mail.from", svc.From)
	v.SetDefault("mail.app_name", svc.AppName)

	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.max_conns", 4)
	v.SetDefault("smtp.send_timeout", 10*time.Second)
	v.SetDefault("smtp.insecure_skip_verify", false)

	v.SetDefault("codes.digits", svc.CodeDigits)
	v.SetDefault("codes.ttl", svc.CodeTTL)
	v.SetDefault("codes.max_attempts", svc.MaxAttempts)
	v.SetDefault("codes.window", svc.SendWindow)
	v.SetDefault("codes.max_sends_per_window", svc.MaxSendsPerWindow)
	v.SetDefault("codes.max_verifies_per_window", svc.MaxVerifiesPerWindow)
	v.SetDefault("codes.throttle_by_ip", svc.ThrottleByIP)

	v.SetDefault("jwt.private_key_file", "")
	v.SetDefault("jwt.hmac_secret", "")
	v.SetDefault("jwt.issuer", svc.JWT.Issuer)
	v.SetDefault("jwt.audience", "")
	v.SetDefault("jwt.ttl", svc.JWT.AccessTTL)
	v.SetDefault("jwt.key_id", "")

	v.SetDefault("flow.resend_cooldown", flow.ResendCooldown)
	v.SetDefault("flow.settle_delay", flow.SettleDelay)
	v.SetDefault("flow.call_timeout", flow.CallTimeout)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output_path", "")
	v.SetDefault("logging.disable_stacktrace", false)
}

// loadConfig layers defaults, the optional config file, AUTHFLOW_* variables
// and the flags registered in bindings, in increasing priority.
func loadConfig(configFile string, flags *pflag.FlagSet, bindings map[string]string) (*AppConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for key, flag := range bindings {
		if f := flags.Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("authflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/authflow")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, err
			}
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) flowConfig() authflow.Config {
	cfg := authflow.DefaultConfig()
	cfg.Flow.CodeDigits = c.Codes.Digits
	cfg.Flow.ResendCooldown = c.Flow.ResendCooldown
	cfg.Flow.SettleDelay = c.Flow.SettleDelay
	cfg.Flow.CallTimeout = c.Flow.CallTimeout
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

func (c *AppConfig) serviceConfig() (otpservice.Config, bool, error) {
	cfg := otpservice.DefaultConfig()
	cfg.CodeDigits = c.Codes.Digits
	cfg.CodeTTL = c.Codes.TTL
	cfg.MaxAttempts = c.Codes.MaxAttempts
	cfg.SendWindow = c.Codes.Window
	cfg.MaxSendsPerWindow = c.Codes.MaxSendsPerWindow
	cfg.MaxVerifiesPerWindow = c.Codes.MaxVerifiesPerWindow
	cfg.ThrottleByIP = c.Codes.ThrottleByIP
	cfg.From = c.Mail.From
	cfg.AppName = c.Mail.AppName
	if c.hashing != nil {
		cfg.Hashing = *c.hashing
	}

	jwtCfg, ephemeral, err := c.JWT.managerConfig()
	if err != nil {
		return otpservice.Config{}, false, err
	}
	cfg.JWT = jwtCfg
	return cfg, ephemeral, nil
}

func (j JWTConfig) managerConfig() (jwt.Config, bool, error) {
	cfg := jwt.Config{
		AccessTTL: j.TTL,
		Issuer:    j.Issuer,
		Audience:  j.Audience,
		KeyID:     j.KeyID,
	}

	switch {
	case j.HMACSecret != "":
		cfg.SigningMethod = jwt.MethodHS256
		cfg.PrivateKey = []byte(j.HMACSecret)
		return cfg, false, nil
	case j.PrivateKeyFile != "":
		raw, err := os.ReadFile(j.PrivateKeyFile)
		if err != nil {
			return jwt.Config{}, false, fmt.Errorf("read jwt key: %w", err)
		}
		parsed, err := gjwt.ParseEdPrivateKeyFromPEM(raw)
		if err != nil {
			return jwt.Config{}, false, fmt.Errorf("parse jwt key: %w", err)
		}
		priv, ok := parsed.(ed25519.PrivateKey)
		if !ok {
			return jwt.Config{}, false, errors.New("jwt key is not ed25519")
		}
		cfg.SigningMethod = jwt.MethodEd25519
		cfg.PrivateKey = priv
		cfg.PublicKey = priv.Public().(ed25519.PublicKey)
		return cfg, false, nil
	default:
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return jwt.Config{}, false, err
		}
		cfg.SigningMethod = jwt.MethodEd25519
		cfg.PrivateKey = priv
		cfg.PublicKey = pub
		return cfg, true, nil
	}
}
