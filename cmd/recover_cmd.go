package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kebairia/phoenix/internal/operations"
)

var (
	recoverMode       string
	recoverSession    string
	recoverFromRemote string
	recoverDryRun     bool
	recoverForce      bool
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Restore the platform from a backup session",
	Long: `Restores databases, the filestore, and configuration bundles from
a session. Recovery is destructive: a pre-recovery snapshot is taken and
dependent services are stopped for the duration of the restore.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := operations.ParseRecoveryMode(recoverMode)
		if err != nil {
			return err
		}
		if !recoverDryRun && !recoverForce {
			if !confirmRecovery(recoverSession, mode) {
				return fmt.Errorf("recovery aborted")
			}
		}

		ctx, cancel := signalContext()
		defer cancel()

		op, _, err := newOperator(ctx)
		if err != nil {
			return err
		}
		report, err := op.Recover(ctx, operations.RecoverOptions{
			Mode:       mode,
			Session:    recoverSession,
			FromRemote: recoverFromRemote,
			DryRun:     recoverDryRun,
		})
		if report != nil {
			fmt.Printf("recovery of %s (%s): %s\n", report.SessionID, report.Mode, report.Outcome)
			for _, e := range report.Errors {
				fmt.Println("  error:", e)
			}
			if report.FallbackHint != "" {
				fmt.Println(" ", report.FallbackHint)
			}
		}
		if err != nil {
			return err
		}
		if report.Outcome != operations.OutcomeSuccess {
			return fmt.Errorf("recovery finished with outcome %s", report.Outcome)
		}
		return nil
	},
}

// confirmRecovery asks the operator to type yes before overwriting live
// data.
func confirmRecovery(ref, mode string) bool {
	if ref == "" {
		ref = "latest"
	}
	fmt.Printf("About to run a %s recovery from session %q. This overwrites live data.\n", mode, ref)
	fmt.Print("Type 'yes' to continue: ")
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return false
	}
	return strings.TrimSpace(scanner.Text()) == "yes"
}

func init() {
	recoverCmd.Flags().
		StringVarP(&recoverMode, "mode", "m", "full", "recovery mode: full, database-only, files-only, config-only")
	recoverCmd.Flags().
		StringVarP(&recoverSession, "session", "s", "latest", "session id to restore from")
	recoverCmd.Flags().
		StringVar(&recoverFromRemote, "from-remote", "", "download the session from this destination first (s3 or gcs)")
	recoverCmd.Flags().
		BoolVar(&recoverDryRun, "dry-run", false, "simulate the recovery without mutating anything")
	recoverCmd.Flags().
		BoolVar(&recoverForce, "force", false, "skip the interactive confirmation")
}
