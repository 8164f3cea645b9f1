package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kebairia/phoenix/internal/operations"
)

var (
	selftestMode    string
	selftestSession string
	selftestKeep    bool
	selftestTimeout time.Duration
)

var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Exercise the backup and recovery cycle against scratch data",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		ctx, timeoutCancel := context.WithTimeout(ctx, selftestTimeout)
		defer timeoutCancel()

		op, _, err := newOperator(ctx)
		if err != nil {
			return err
		}
		report, err := op.SelfTest(ctx, operations.TestOptions{
			Mode:    selftestMode,
			Session: selftestSession,
			Keep:    selftestKeep,
		})
		if err != nil {
			return err
		}
		for _, r := range report.Results {
			line := fmt.Sprintf("  %-20s %s (%dms)", r.Name, r.Status, r.Duration)
			if r.Message != "" {
				line += " " + r.Message
			}
			fmt.Println(line)
		}
		if !report.Passed {
			return fmt.Errorf("self-test %s failed", report.RunID)
		}
		fmt.Printf("self-test %s passed\n", report.RunID)
		return nil
	},
}

func init() {
	selftestCmd.Flags().
		StringVarP(&selftestMode, "mode", "m", "full", "self-test mode: full, backup-only, restore-only, validation-only")
	selftestCmd.Flags().
		StringVarP(&selftestSession, "session", "s", "", "existing session for restore-only mode")
	selftestCmd.Flags().
		BoolVar(&selftestKeep, "keep", false, "keep the scratch environment for inspection")
	selftestCmd.Flags().
		DurationVar(&selftestTimeout, "timeout", 30*time.Minute, "overall self-test deadline")
}
