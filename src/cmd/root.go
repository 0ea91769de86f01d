// Package cmd holds the budgeteer command line: the API server, migrations
// and one-off syncs.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"budgeteer-server/src/config"
	"budgeteer-server/src/observability"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfg    config.Config
	logger *zap.Logger

	rootCmd = &cobra.Command{
		Use:   "budgeteer",
		Short: "Budgeteer API server and Plaid transaction sync",
		Long: `budgeteer serves the Budgeteer REST API and keeps each user's ledger in
step with their linked bank connections through Plaid's transactions sync.`,
		SilenceUsage:       true,
		PersistentPreRunE:  initConfig,
		PersistentPostRunE: flushLogger,
	}
)

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "override LOG_LEVEL (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(syncCmd())
}

// Execute runs the root command, cancelling its context on SIGINT or SIGTERM.
func Execute() {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		if logger != nil {
			logger.Info("received interrupt signal, shutting down")
		}
		cancel()
	}()

	err := rootCmd.ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		loaded.LogLevel = level
	}
	cfg = loaded

	logger, err = observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	return nil
}

func flushLogger(_ *cobra.Command, _ []string) error {
	if logger != nil {
		_ = logger.Sync()
	}
	return nil
}
