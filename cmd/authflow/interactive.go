package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	authflow "github.com/dj-pearson/project-profit-radar-sub001"
	"github.com/dj-pearson/project-profit-radar-sub001/httpapi"
	"github.com/dj-pearson/project-profit-radar-sub001/password"
)

const (
	maxStartAttempts  = 3
	maxCodeAttempts   = 5
	resendKeyword     = "r"
	defaultServerAddr = "http://localhost:8080"
)

var (
	serverURL string
	oauthFlag string
)

// prompter reads answers from the terminal.
type prompter interface {
	Ask(label string) (string, error)
	AskSecret(label string) (string, error)
}

type ptermPrompter struct{}

func (ptermPrompter) Ask(label string) (string, error) {
	return pterm.DefaultInteractiveTextInput.Show(label)
}

func (ptermPrompter) AskSecret(label string) (string, error) {
	return pterm.DefaultInteractiveTextInput.WithMask("*").Show(label)
}

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Register an account and confirm its email with a code",
	RunE: func(cmd *cobra.Command, _ []string) error {
		engine, _, err := remoteEngine(serverURL)
		if err != nil {
			return err
		}
		defer engine.Close()
		return runSignup(cmd.Context(), engine, ptermPrompter{})
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset a forgotten password with an emailed code",
	RunE: func(cmd *cobra.Command, _ []string) error {
		engine, _, err := remoteEngine(serverURL)
		if err != nil {
			return err
		}
		defer engine.Close()
		return runReset(cmd.Context(), engine, ptermPrompter{})
	},
}

var signInCmd = &cobra.Command{
	Use:   "signin",
	Short: "Sign in with email and password, or print an OAuth URL",
	RunE: func(cmd *cobra.Command, _ []string) error {
		engine, client, err := remoteEngine(serverURL)
		if err != nil {
			return err
		}
		defer engine.Close()
		if oauthFlag != "" {
			url, err := engine.OAuthRedirect(cmd.Context(), oauthFlag)
			if err != nil {
				return err
			}
			pterm.Info.Println(url)
			return nil
		}
		return runSignIn(cmd.Context(), engine, client, ptermPrompter{})
	},
}

func init() {
	for _, c := range []*cobra.Command{signupCmd, resetCmd, signInCmd} {
		c.Flags().StringVar(&serverURL, "server", defaultServerAddr, "backend base URL")
	}
	signInCmd.Flags().StringVar(&oauthFlag, "oauth", "", "print the redirect URL for a provider (google, apple)")
}

// remoteEngine builds an engine whose external calls go to the backend at
// baseURL. State changes are printed as they happen.
func remoteEngine(baseURL string) (*authflow.Engine, *httpapi.Client, error) {
	client, err := httpapi.NewClient(baseURL, &http.Client{Timeout: 30 * time.Second})
	if err != nil {
		return nil, nil, err
	}

	var last authflow.FlowState
	engine, err := authflow.New().
		WithCodeService(client).
		WithSignInService(client).
		WithLogger(logger).
		WithObserver(func(s authflow.Snapshot) {
			if s.State != last {
				logger.Sugar().Debugf("flow %s: %s -> %s", s.ID, last, s.State)
				last = s.State
			}
		}).
		Build()
	if err != nil {
		return nil, nil, err
	}
	return engine, client, nil
}

func printPolicy(res password.PolicyResult) {
	items := make([]pterm.BulletListItem, 0, len(res.Rules))
	for _, rr := range res.Rules {
		item := pterm.BulletListItem{Text: rr.Description, Bullet: "✓", BulletStyle: pterm.NewStyle(pterm.FgGreen)}
		if !rr.Satisfied {
			item.Bullet = "✗"
			item.BulletStyle = pterm.NewStyle(pterm.FgRed)
		}
		items = append(items, item)
	}
	_ = pterm.DefaultBulletList.WithItems(items).Render()
}

func runSignup(ctx context.Context, engine *authflow.Engine, p prompter) error {
	flow, err := engine.NewSignupFlow()
	if err != nil {
		return err
	}
	defer flow.Close()

	for attempt := 1; ; attempt++ {
		email, err := p.Ask("Email")
		if err != nil {
			return err
		}
		name, err := p.Ask("Name (optional)")
		if err != nil {
			return err
		}
		pw, err := p.AskSecret("Password")
		if err != nil {
			return err
		}

		err = flow.StartSignup(ctx, email, pw, name)
		if err == nil {
			break
		}
		if errors.Is(err, authflow.ErrPasswordPolicy) {
			printPolicy(flow.Snapshot().Policy)
		}
		if attempt >= maxStartAttempts {
			return err
		}
		pterm.Error.Println(err)
	}

	snap := flow.Snapshot()
	pterm.Success.Printfln("Code sent to %s, valid for %d minutes", authflow.BlurEmail(snap.Email), snap.ExpiresInMinutes)

	if err := promptCode(ctx, flow, p, func(code string) error {
		return flow.SubmitCode(ctx, code)
	}); err != nil {
		return err
	}
	pterm.Success.Println("Email confirmed, you can sign in now")
	return nil
}

// promptCode asks for a code until submit succeeds. Typing the resend keyword
// requests a new code instead.
func promptCode(ctx context.Context, flow *authflow.Flow, p prompter, submit func(code string) error) error {
	for attempt := 1; ; {
		code, err := p.Ask("Verification code (" + resendKeyword + " to resend)")
		if err != nil {
			return err
		}
		if strings.EqualFold(strings.TrimSpace(code), resendKeyword) {
			if err := flow.Resend(ctx); err != nil {
				pterm.Warning.Println(err)
			} else {
				pterm.Info.Println("A new code is on its way")
			}
			continue
		}

		err = submit(code)
		if err == nil {
			return nil
		}
		if attempt >= maxCodeAttempts {
			return err
		}
		attempt++
		pterm.Error.Println(err)
	}
}

func runReset(ctx context.Context, engine *authflow.Engine, p prompter) error {
	flow, err := engine.NewResetFlow()
	if err != nil {
		return err
	}
	defer flow.Close()

	for attempt := 1; ; attempt++ {
		email, err := p.Ask("Email")
		if err != nil {
			return err
		}
		err = flow.StartReset(ctx, email)
		if err == nil {
			break
		}
		if attempt >= maxStartAttempts {
			return err
		}
		pterm.Error.Println(err)
	}
	pterm.Success.Printfln("If %s has an account, a code is on its way", authflow.BlurEmail(flow.Snapshot().Email))

	for round := 1; ; round++ {
		if err := promptCode(ctx, flow, p, func(code string) error {
			return flow.SubmitCode(ctx, code)
		}); err != nil {
			return err
		}

		err := promptNewPassword(ctx, flow, p)
		if err == nil {
			pterm.Success.Println("Password updated, you can sign in now")
			return nil
		}
		if round >= maxCodeAttempts || flow.State() != authflow.StateAwaitingCode {
			return err
		}
		pterm.Error.Println(err)
	}
}

// promptNewPassword asks for the new password until the flow leaves
// StateSettingPassword.
func promptNewPassword(ctx context.Context, flow *authflow.Flow, p prompter) error {
	for attempt := 1; ; attempt++ {
		pw, err := p.AskSecret("New password")
		if err != nil {
			return err
		}
		confirm, err := p.AskSecret("Confirm password")
		if err != nil {
			return err
		}

		err = flow.SubmitNewPassword(ctx, pw, confirm)
		if err == nil || flow.State() != authflow.StateSettingPassword {
			return err
		}
		if errors.Is(err, authflow.ErrPasswordPolicy) {
			printPolicy(flow.Snapshot().Policy)
		}
		if attempt >= maxStartAttempts {
			return err
		}
		pterm.Error.Println(err)
	}
}

func runSignIn(ctx context.Context, engine *authflow.Engine, client *httpapi.Client, p prompter) error {
	email, err := p.Ask("Email")
	if err != nil {
		return err
	}
	pw, err := p.AskSecret("Password")
	if err != nil {
		return err
	}

	res, err := engine.SignIn(ctx, email, pw)
	if err != nil {
		return err
	}
	who, err := client.Me(ctx, res.AccessToken)
	if err != nil {
		return err
	}
	pterm.Success.Printfln("Signed in as %s, token expires %s", who, res.ExpiresAt.Local().Format(time.RFC1123))
	pterm.Println(res.AccessToken)
	return nil
}
