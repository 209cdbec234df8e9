package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	appName = "crosseval"
	version = "v1.3.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Cross-sectional factor evaluation and backtest engine",
		Version: version,
		Long: `crosseval evaluates predictive signals on a cross-sectional panel:
leakage-safe splits, rank-IC statistics, top-K portfolio backtests with
turnover-aware costs, and live as-of holdings snapshots.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "config.yaml", "Path to run configuration YAML")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newSnapshotCmd())
	rootCmd.AddCommand(newServeCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func applyLogLevel(cmd *cobra.Command) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}
