package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arencloud/snapkeeper/internal/version"
)

var (
	cfgFile  string
	logLevel string
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "snapkeeper",
		Short: "Consolidate, reclaim and purge backup metadata in cloud and archive buckets",
		Long: `snapkeeper rebuilds the local catalog of a backup bucket and reclaims space
by retention. Every command is a batch job that is safe to re-run.

Examples:
  # Register a bucket and import the metadata written by this system
  snapkeeper import --endpoint s3.example.com --bucket backups --provider aws

  # Delete snapshots older than 90 days
  snapkeeper reclaim --partner-id <id> --days 90

  # Empty a bucket prefix
  snapkeeper purge --partner-id <id> --prefix volumes/1234/`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML config file (environment overrides it)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug|info|warn|error")

	rootCmd.AddCommand(
		newImportCmd(),
		newReclaimCmd(),
		newPurgeCmd(),
		newSessionsCmd(),
		newHistoryCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "snapkeeper", version.Version)
		},
	}
}
