package bench

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/tokenbench/tokenbench/internal/config"
	"github.com/tokenbench/tokenbench/internal/dataset"
	"github.com/tokenbench/tokenbench/internal/hostenv"
	"github.com/tokenbench/tokenbench/internal/logging"
	"github.com/tokenbench/tokenbench/internal/metrics"
	"github.com/tokenbench/tokenbench/internal/results"
	"github.com/tokenbench/tokenbench/internal/service"
	"github.com/tokenbench/tokenbench/pkg/models"
)

// Runner drives the outer configuration loop: one service instance per
// (build, width) pair, every dataset replayed under it, summaries
// persisted per (configuration, dataset).
type Runner struct {
	cfg        *config.Config
	controller *service.Controller
	writer     *results.Writer
	store      *results.Store
	status     *Status
	runID      string
}

// NewRunner wires a runner from loaded configuration
func NewRunner(cfg *config.Config) (*Runner, error) {
	writer, err := results.NewWriter(cfg.Results.Dir)
	if err != nil {
		return nil, err
	}

	var store *results.Store
	if cfg.Results.DatabasePath != "" {
		store, err = results.NewStore(cfg.Results.DatabasePath)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(context.Background()); err != nil {
			return nil, err
		}
	}

	runID := uuid.New().String()

	return &Runner{
		cfg:        cfg,
		controller: service.New(service.WithPortFreer(hostenv.FreePort)),
		writer:     writer,
		store:      store,
		status:     NewStatus(runID),
		runID:      runID,
	}, nil
}

// RunID returns this run's identifier
func (r *Runner) RunID() string { return r.runID }

// Status returns the live status tracker
func (r *Runner) Status() *Status { return r.status }

// Close releases the runner's resources
func (r *Runner) Close() error {
	r.writer.Close()
	if r.store != nil {
		return r.store.Close()
	}
	return nil
}

// Run executes every (build, width, dataset) combination. Returns nil
// only when all configurations completed; startup failure outside the
// retry path and retry exhaustion are fatal.
func (r *Runner) Run(ctx context.Context) error {
	ctx = logging.WithRunID(ctx, r.runID)
	logging.Info(ctx, "benchmark run starting",
		"builds", len(r.cfg.Service.Builds),
		"widths", r.cfg.Service.Widths,
		"datasets", len(r.cfg.Benchmark.Datasets))

	for _, build := range r.cfg.Service.Builds {
		for _, width := range r.cfg.Service.Widths {
			if err := r.runConfiguration(ctx, build, width); err != nil {
				if errors.Is(err, service.ErrBinaryNotFound) {
					logging.Warn(ctx, "build binary missing, skipping configuration",
						"build", build.Label, "binary", build.Binary)
					break // no point trying other widths of the same build
				}
				return err
			}
		}
	}

	logging.Info(ctx, "benchmark run complete")
	return nil
}

func (r *Runner) runConfiguration(ctx context.Context, build config.BuildConfig, width int) error {
	svcCfg := r.serviceConfig(build, width)

	startedAt := time.Now()
	if err := r.controller.Start(ctx, svcCfg); err != nil {
		if errors.Is(err, service.ErrBinaryNotFound) {
			return err
		}
		// No service means no benchmark is possible
		return fmt.Errorf("failed to start %s (np=%d): %w", build.Label, width, err)
	}
	metrics.StartupDuration.Observe(time.Since(startedAt).Seconds())
	defer r.controller.Stop(ctx)

	datasets := r.cfg.Benchmark.Datasets
	for i, dsPath := range datasets {
		rc := models.RunConfig{Build: build.Label, Width: width, Model: r.cfg.Service.Model, Dataset: dsPath}
		ns := rc.Namespace()
		dctx := logging.WithNamespace(ctx, ns)

		ds, err := dataset.Load(dsPath, r.cfg.Benchmark.DefaultMaxTokens)
		if err != nil {
			metrics.DatasetsSkipped.Inc()
			logging.Warn(dctx, "dataset skipped", "path", dsPath, "error", err)
			continue
		}
		if ds.Skipped() > 0 {
			logging.Warn(dctx, "malformed dataset entries skipped", "count", ds.Skipped())
		}

		r.status.setConfiguration(rc)

		// Normalize cold-start conditions before each dataset
		if dropper := r.cacheDropper(); dropper != nil {
			if err := dropper(dctx); err != nil {
				logging.Warn(dctx, "cache drop failed", "error", err)
			}
		}

		// Datasets not yet started share the service state this abort
		// invalidates, so their artifacts go too
		pending := make([]string, 0, len(datasets)-i-1)
		for _, rest := range datasets[i+1:] {
			restRC := rc
			restRC.Dataset = rest
			pending = append(pending, restRC.Namespace())
		}

		retry := NewRetryController(RetryControllerConfig{
			Dispatcher:       r.dispatcher(svcCfg),
			Recycler:         &serviceRecycler{controller: r.controller, cfg: svcCfg},
			Purger:           r.writer,
			DropCaches:       r.cacheDropper(),
			RetryLimit:       r.cfg.Benchmark.RetryLimit,
			RetryOnTransport: r.cfg.Benchmark.RetryOnTransport,
			Status:           r.status,
		})

		summary, attempts, err := retry.RunDataset(dctx, ns, ds.Descriptors(), pending)
		if err != nil {
			return fmt.Errorf("dataset %s: %w", dsPath, err)
		}

		if err := r.persist(dctx, rc, ns, summary, attempts); err != nil {
			return err
		}

		logging.Info(dctx, "dataset complete",
			"prompt_n", summary.PromptN,
			"predicted_n", summary.PredictedN,
			"duration_s", summary.DurationS,
			"throughput", summary.Throughput,
			"attempts", attempts)
	}

	return nil
}

func (r *Runner) serviceConfig(build config.BuildConfig, width int) service.Config {
	return service.Config{
		Binary:        build.Binary,
		Model:         r.cfg.Service.Model,
		Host:          r.cfg.Service.Host,
		Port:          r.cfg.Service.Port,
		ContextSize:   r.cfg.Service.ContextSize,
		Threads:       r.cfg.Service.Threads,
		BatchSize:     r.cfg.Service.BatchSize,
		Width:         width,
		LogPath:       filepath.Join(r.cfg.Results.Dir, "server-logs", fmt.Sprintf("%s-np%d.log", build.Label, width)),
		ProbeAttempts: r.cfg.Service.ProbeAttempts,
		ProbeInterval: r.cfg.Service.ProbeInterval,
		SettleDelay:   r.cfg.Service.SettleDelay,
		StopGrace:     r.cfg.Service.StopGrace,
	}
}

func (r *Runner) dispatcher(svcCfg service.Config) *Dispatcher {
	base := fmt.Sprintf("http://%s:%d", svcCfg.Host, svcCfg.Port)
	return NewDispatcher(base, r.cfg.Benchmark.RequestTimeout, WithTraceSink(r.writer))
}

func (r *Runner) cacheDropper() CacheDropper {
	if !r.cfg.Benchmark.DropCaches {
		return nil
	}
	return hostenv.DropCaches
}

func (r *Runner) persist(ctx context.Context, rc models.RunConfig, ns string, summary models.Summary, attempts int) error {
	if err := r.writer.WriteSummary(ns, summary); err != nil {
		return fmt.Errorf("failed to write summary for %s: %w", ns, err)
	}
	metrics.Throughput.WithLabelValues(ns).Set(summary.Throughput)

	if r.store == nil {
		return nil
	}
	rec := models.RunRecord{
		RunID:     r.runID,
		Namespace: ns,
		Build:     rc.Build,
		Width:     rc.Width,
		Model:     rc.Model,
		Dataset:   rc.Dataset,
		Attempts:  attempts,
		Summary:   summary,
	}
	if err := r.store.Save(ctx, rec); err != nil {
		// The on-disk summary block is the primary artifact; a DB miss
		// is logged but does not fail the run
		logging.Warn(ctx, "failed to persist summary row", "error", err)
	}
	return nil
}

// serviceRecycler adapts the controller's stop/start pair to the retry
// controller's restart hook
type serviceRecycler struct {
	controller *service.Controller
	cfg        service.Config
}

func (s *serviceRecycler) Recycle(ctx context.Context) error {
	if err := s.controller.Stop(ctx); err != nil {
		return err
	}
	return s.controller.Start(ctx, s.cfg)
}
