package main

import (
	"errors"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dj-pearson/project-profit-radar-sub001/password"
)

var policyMinLength int

var policyCmd = &cobra.Command{
	Use:   "policy <password>",
	Short: "Check a password against the signup and reset policy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		policy, err := password.NewPolicy(password.PolicyConfig{MinLength: policyMinLength})
		if err != nil {
			return err
		}
		res := policy.Evaluate(args[0])
		printPolicy(res)
		if !res.Passed {
			return errors.New("password does not meet requirements")
		}
		pterm.Success.Println("password meets every requirement")
		return nil
	},
}

func init() {
	policyCmd.Flags().IntVar(&policyMinLength, "min-length", 8, "minimum number of characters")
}
