// Package cmd holds the phoenix command tree.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kebairia/phoenix/internal/config"
	"github.com/kebairia/phoenix/internal/logger"
	"github.com/kebairia/phoenix/internal/operations"
)

var (
	configFile string

	rootCmd = &cobra.Command{
		Use:   "phoenix",
		Short: "Backup and disaster-recovery orchestration",
		Long: `phoenix backs up the platform's databases, filestore, and
configuration bundles into encrypted sessions, replicates them to remote
object storage, and restores the platform from a chosen session.`,
		SilenceUsage: true,
	}
)

// Execute runs the root command.
func Execute() {
	log, err := logger.Init()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		log.Error("command failed", "error", err.Error())
		logger.Cleanup()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().
		StringVarP(&configFile, "config", "c", "./configs/config.yaml", "path to YAML config file")

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(selftestCmd)
	rootCmd.AddCommand(keygenCmd)
}

// signalContext is cancelled on SIGINT or SIGTERM so a run in flight can
// wind down instead of being killed mid-mutation.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// newOperator loads the configuration and wires an operator from it.
func newOperator(ctx context.Context) (*operations.Operator, *config.Config, error) {
	var cfg config.Config
	if err := cfg.Load(configFile); err != nil {
		return nil, nil, err
	}
	op, err := operations.NewOperator(ctx, &cfg, logger.Global())
	if err != nil {
		return nil, nil, err
	}
	return op, &cfg, nil
}
