package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tokenbench/tokenbench/internal/api"
	"github.com/tokenbench/tokenbench/internal/bench"
	"github.com/tokenbench/tokenbench/internal/config"
	"github.com/tokenbench/tokenbench/internal/filetransfer"
	"github.com/tokenbench/tokenbench/internal/logging"
)

var statusAddr string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the configured benchmark matrix",
	Long: `Run starts each configured server build at each concurrency width,
replays every dataset against it, and writes per-configuration
summaries and request traces under the results directory.`,
	RunE: runBenchmark,
}

func init() {
	runCmd.Flags().StringVar(&statusAddr, "status-addr", "", "Listen address for the live status server (overrides config, empty keeps config value)")
	rootCmd.AddCommand(runCmd)
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cmd.Flags().Changed("status-addr") {
		cfg.Status.Addr = statusAddr
	}

	logger := logging.Setup(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	runner, err := bench.NewRunner(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize runner: %w", err)
	}
	defer runner.Close()

	logger.Info("starting benchmark run",
		slog.String("run_id", runner.RunID()),
		slog.Int("builds", len(cfg.Service.Builds)),
		slog.Int("widths", len(cfg.Service.Widths)),
		slog.Int("datasets", len(cfg.Benchmark.Datasets)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Optional live inspection server
	var statusServer *api.Server
	if cfg.Status.Addr != "" {
		statusServer = api.NewServer(cfg.Status.Addr, runner.Status(), api.WithLogger(logger))
		go func() {
			if err := statusServer.Start(); err != nil {
				logger.Error("status server failed", slog.String("error", err.Error()))
			}
		}()
		logger.Info("status server listening", slog.String("addr", cfg.Status.Addr))
	}

	runErr := runner.Run(ctx)

	if statusServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := statusServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("status server shutdown failed", slog.String("error", err.Error()))
		}
		cancel()
	}

	if runErr != nil {
		logger.Error("benchmark run failed", slog.String("error", runErr.Error()))
		return runErr
	}

	logger.Info("benchmark run complete", slog.String("run_id", runner.RunID()))

	if cfg.Upload.Enabled {
		// Local artifacts are already complete, an upload miss does not
		// fail the run
		if err := publishResults(ctx, cfg, logger); err != nil {
			logger.Error("result upload failed", slog.String("error", err.Error()))
		}
	}

	return nil
}

func publishResults(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	publisher := filetransfer.New(filetransfer.Credentials{
		Host:    cfg.Upload.Host,
		Port:    cfg.Upload.Port,
		User:    cfg.Upload.User,
		KeyPath: cfg.Upload.KeyPath,
	})

	logger.Info("publishing results",
		slog.String("host", cfg.Upload.Host),
		slog.String("remote_dir", cfg.Upload.RemoteDir))

	if err := publisher.PublishDir(ctx, cfg.Results.Dir, cfg.Upload.RemoteDir); err != nil {
		return err
	}

	logger.Info("results published")
	return nil
}
