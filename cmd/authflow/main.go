// Command authflow runs the reference verification backend and drives signup
// and password-reset flows against it from a terminal.
package main

import (
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dj-pearson/project-profit-radar-sub001/internal/logging"
)

var (
	configFile string
	logLevel   string
	logFormat  string

	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "authflow",
	Short: "Email code verification for signup and password reset",
	Long: `authflow serves the one-time-code backend (send-otp, verify-otp,
register, sign-in) and runs interactive signup and reset flows against it.

Configuration is read from authflow.yaml, AUTHFLOW_* environment variables
and flags, in increasing priority.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg := logging.Config{Level: logLevel, Format: logFormat}
		l, err := logging.New(cfg)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default ./authflow.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")

	rootCmd.AddCommand(serveCmd, signupCmd, resetCmd, signInCmd, policyCmd, loadtestCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}
