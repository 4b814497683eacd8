package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	authflow "github.com/dj-pearson/project-profit-radar-sub001"
)

// APIError is a non-2xx answer from the server. Its message is the server's
// error text, so code-related failures still classify as such.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// Unwrap maps the message back to the backend sentinel it came from, if any.
func (e *APIError) Unwrap() error {
	for _, m := range errorStatus {
		if m.err.Error() == e.Message {
			return m.err
		}
	}
	return nil
}

// Client talks to a server created with NewHandler.
type Client struct {
	baseURL string
	http    *http.Client
}

var (
	_ authflow.CodeService      = (*Client)(nil)
	_ authflow.SignInService    = (*Client)(nil)
	_ authflow.AccountRegistrar = (*Client)(nil)
)

// NewClient returns a client for baseURL. A nil httpClient uses a client with a 15s timeout.
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}, nil
}

func (c *Client) SendCode(ctx context.Context, req authflow.SendCodeRequest) (authflow.SendCodeResult, error) {
	var out sendCodeResponse
	err := c.do(ctx, http.MethodPost, "/functions/send-otp", "", sendCodeRequest{
		Email:         req.Email,
		Purpose:       req.Purpose.String(),
		RecipientName: req.RecipientName,
	}, &out)
	if err != nil {
		return authflow.SendCodeResult{}, err
	}
	return authflow.SendCodeResult{ExpiresInMinutes: out.ExpiresInMinutes}, nil
}

func (c *Client) VerifyCode(ctx context.Context, req authflow.VerifyCodeRequest) (authflow.VerifyCodeResult, error) {
	var out verifyCodeResponse
	err := c.do(ctx, http.MethodPost, "/functions/verify-otp", "", verifyCodeRequest{
		Email:       req.Email,
		Code:        req.Code,
		Purpose:     req.Purpose.String(),
		NewPassword: req.NewPassword,
	}, &out)
	if err != nil {
		return authflow.VerifyCodeResult{}, err
	}
	return authflow.VerifyCodeResult{Success: out.Success, EmailConfirmed: out.EmailConfirmed}, nil
}

func (c *Client) Register(ctx context.Context, email, password, name string) error {
	return c.do(ctx, http.MethodPost, "/auth/register", "", registerRequest{Email: email, Password: password, Name: name}, nil)
}

func (c *Client) SignIn(ctx context.Context, email, password string) (authflow.SignInResult, error) {
	var out signInResponse
	if err := c.do(ctx, http.MethodPost, "/auth/sign-in", "", signInRequest{Email: email, Password: password}, &out); err != nil {
		return authflow.SignInResult{}, err
	}
	return authflow.SignInResult{AccessToken: out.AccessToken, ExpiresAt: out.ExpiresAt}, nil
}

func (c *Client) OAuthRedirect(ctx context.Context, provider string) (string, error) {
	var out oauthResponse
	if err := c.do(ctx, http.MethodGet, "/auth/oauth/"+url.PathEscape(provider), "", nil, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// Me returns the email of the account the access token was issued to.
func (c *Client) Me(ctx context.Context, accessToken string) (string, error) {
	var out meResponse
	if err := c.do(ctx, http.MethodGet, "/auth/me", accessToken, nil, &out); err != nil {
		return "", err
	}
	return out.Email, nil
}

func (c *Client) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if ip := authflow.ClientIPFromContext(ctx); ip != "" {
		req.Header.Set("X-Forwarded-For", ip)
	}
	if ua := authflow.UserAgentFromContext(ctx); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, defaultMaxBodyBytes))
	var payload errorResponse
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Error == "" {
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	return &APIError{Status: resp.StatusCode, Message: payload.Error}
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}
