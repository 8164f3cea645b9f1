package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var validateSession string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Verify a backup session is restorable",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		op, _, err := newOperator(ctx)
		if err != nil {
			return err
		}
		report, err := op.Validate(ctx, validateSession)
		if err != nil {
			return err
		}
		for _, check := range report.Checks {
			status := "ok"
			if !check.Passed {
				status = "FAILED"
			}
			line := fmt.Sprintf("  %-20s %s", check.Name, status)
			if check.Detail != "" {
				line += " (" + check.Detail + ")"
			}
			fmt.Println(line)
		}
		if !report.Passed {
			return fmt.Errorf("session %s failed validation: %s",
				report.SessionID, strings.Join(report.Failures(), ", "))
		}
		fmt.Printf("session %s validated\n", report.SessionID)
		return nil
	},
}

func init() {
	validateCmd.Flags().
		StringVarP(&validateSession, "session", "s", "latest", "session id to validate")
}
