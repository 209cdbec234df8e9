package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/xsquant/crosseval/internal/httpapi"
	"github.com/xsquant/crosseval/internal/metrics"
	"github.com/xsquant/crosseval/internal/persistence"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve run artifacts and metrics over HTTP",
		Long: `Starts the read-only ops server: /health, /metrics (Prometheus), and
/runs/latest plus per-run ledger lookups backed by the configured store.`,
		RunE: runServe,
	}
	cmd.Flags().String("addr", "", "Override serve.addr")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	applyLogLevel(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("addr"); v != "" {
		cfg.Serve.Addr = v
	}

	var runs persistence.RunRepo
	var ledger persistence.LedgerRepo
	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
		repos := store.Repositories()
		runs, ledger = repos.Runs, repos.Ledger
	} else {
		log.Warn().Msg("no store configured, run endpoints will answer 503")
	}

	srv := httpapi.New(cfg.Serve.Addr, runs, ledger, metrics.NewRegistry())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		log.Info().Msg("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
