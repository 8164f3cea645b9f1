package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kebairia/phoenix/internal/session"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Run one backup session",
	Long: `Dumps every configured database, archives the filestore and the
configuration groups, encrypts all artifacts into a new session, and
replicates them to the configured destinations.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		op, cfg, err := newOperator(ctx)
		if err != nil {
			return err
		}
		ctx, timeoutCancel := context.WithTimeout(ctx, cfg.Backup.Timeout)
		defer timeoutCancel()

		report, err := op.Backup(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("session %s: %s (%d artifacts, %d errors, %d warnings)\n",
			report.SessionID, report.Status,
			len(report.Artifacts), len(report.Errors), len(report.Warnings))
		if report.Status == session.StatusFailed {
			return fmt.Errorf("backup session %s produced no artifacts", report.SessionID)
		}
		return nil
	},
}
