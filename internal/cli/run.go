package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hive-discover/clip-api/internal/metrics"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process batches until interrupted",
	Long: `Run the worker loop: select a batch of undescribed posts, describe and
deduplicate their images, write per-post averages, mark the posts and report
a heartbeat. Idle cycles sleep for worker.idle_sleep before polling again.

Example:
  clipworker run --config clipworker.yaml`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := buildWorker(cfg, rebuild, logger)
	if err != nil {
		return err
	}
	defer w.Close()

	if srv := metrics.StartServer(cfg.Metrics.Addr, logger); srv != nil {
		logger.Info().Str("addr", cfg.Metrics.Addr).Msg("metrics server listening")
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info().
		Str("store", cfg.Store.Backend).
		Str("vectors", cfg.Vector.Backend).
		Int("batch_size", cfg.Worker.BatchSize).
		Int("pool_size", cfg.Worker.PoolSize).
		Msg("worker starting")

	if err := w.orch.Run(ctx); err != nil {
		return err
	}
	logger.Info().Msg("worker stopped")
	return nil
}
