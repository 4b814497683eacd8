package otpservice

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"time"

	"github.com/knadh/smtppool"
	"go.uber.org/zap"

	authflow "github.com/dj-pearson/project-profit-radar-sub001"
)

// Message is one rendered email.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// Mailer delivers rendered messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

/* ==== SMTP ==== */

// SMTPConfig configures the SMTP connection pool.
type SMTPConfig struct {
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	MaxConns           int           `mapstructure:"max_conns"`
	SendTimeout        time.Duration `mapstructure:"send_timeout"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
}

// SMTPMailer sends mail through a pooled SMTP connection.
type SMTPMailer struct {
	pool *smtppool.Pool
}

// NewSMTPMailer opens a connection pool for cfg.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if cfg.Host == "" || cfg.Port <= 0 {
		return nil, errors.New("smtp host and port are required")
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 4
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}

	var auth smtp.Auth
	if cfg.Username != "" || cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	pool, err := smtppool.New(smtppool.Opt{
		Host:            cfg.Host,
		Port:            cfg.Port,
		MaxConns:        cfg.MaxConns,
		IdleTimeout:     cfg.SendTimeout,
		PoolWaitTimeout: cfg.SendTimeout,
		Auth:            auth,
		TLSConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			ServerName:         cfg.Host,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("smtp pool: %w", err)
	}
	return &SMTPMailer{pool: pool}, nil
}

// Send delivers msg. The context is not observed by the pool; PoolWaitTimeout bounds the wait.
func (m *SMTPMailer) Send(_ context.Context, msg Message) error {
	return m.pool.Send(smtppool.Email{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    []byte(msg.HTML),
	})
}

// Close shuts the pool down.
func (m *SMTPMailer) Close() {
	m.pool.Close()
}

/* ==== LOG ==== */

// LogMailer writes messages to a zap logger instead of sending them. Use it
// only in development: the body, and so the code, is logged.
type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger.Named("mailer")}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info("email",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.HTML),
	)
	return nil
}

/* ==== TEMPLATES ==== */

// TemplateData is the value code templates are executed with.
type TemplateData struct {
	AppName          string
	Name             string
	Code             string
	ExpiresInMinutes int
}

const signupTemplate = `<p>Hi{{if .Name}} {{.Name}}{{end}},</p>
<p>Welcome to {{.AppName}}. Enter this code to confirm your email address:</p>
<p style="font-size:24px;letter-spacing:4px"><strong>{{.Code}}</strong></p>
<p>The code expires in {{.ExpiresInMinutes}} minutes.</p>`

const resetTemplate = `<p>Hi{{if .Name}} {{.Name}}{{end}},</p>
<p>We received a request to reset your {{.AppName}} password. Your code is:</p>
<p style="font-size:24px;letter-spacing:4px"><strong>{{.Code}}</strong></p>
<p>The code expires in {{.ExpiresInMinutes}} minutes. If you did not ask for this, ignore this email.</p>`

// Templates holds the parsed body and subject per purpose.
type Templates struct {
	bodies   map[authflow.FlowPurpose]*template.Template
	subjects map[authflow.FlowPurpose]string
}

// DefaultTemplates returns the built-in signup and reset templates.
func DefaultTemplates() *Templates {
	return &Templates{
		bodies: map[authflow.FlowPurpose]*template.Template{
			authflow.PurposeSignupConfirmation: template.Must(template.New("signup").Parse(signupTemplate)),
			authflow.PurposePasswordReset:      template.Must(template.New("password_reset").Parse(resetTemplate)),
		},
		subjects: map[authflow.FlowPurpose]string{
			authflow.PurposeSignupConfirmation: "Confirm your email",
			authflow.PurposePasswordReset:      "Reset your password",
		},
	}
}

// Override replaces the template for purpose.
func (t *Templates) Override(purpose authflow.FlowPurpose, subject, body string) error {
	tmpl, err := template.New(purpose.String()).Parse(body)
	if err != nil {
		return fmt.Errorf("error when parsing template %s: %v", purpose, err)
	}
	t.bodies[purpose] = tmpl
	t.subjects[purpose] = subject
	return nil
}

// Render executes the template for purpose.
func (t *Templates) Render(purpose authflow.FlowPurpose, data TemplateData) (subject, body string, err error) {
	tmpl, ok := t.bodies[purpose]
	if !ok {
		return "", "", fmt.Errorf("no template for %s", purpose)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("error during executing template %s: %v", purpose, err)
	}
	return t.subjects[purpose], buf.String(), nil
}
