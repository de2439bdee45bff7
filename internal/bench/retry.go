package bench

import (
	"context"
	"fmt"

	"github.com/tokenbench/tokenbench/internal/logging"
	"github.com/tokenbench/tokenbench/internal/metrics"
	"github.com/tokenbench/tokenbench/pkg/models"
)

// ServiceRecycler tears down and rebuilds the service instance between
// attempts. The retry controller is the only caller.
type ServiceRecycler interface {
	Recycle(ctx context.Context) error
}

// Purger removes partial result artifacts for a namespace
type Purger interface {
	Purge(namespace string) error
}

// CacheDropper normalizes cold-start conditions between attempts.
// Failures are non-fatal.
type CacheDropper func(ctx context.Context) error

// RetryController drives the bounded-retry state machine around a
// dataset run: detect abnormal service behavior, cancel outstanding
// work, discard partial results, recycle the service, retry or give up.
type RetryController struct {
	dispatcher       *Dispatcher
	recycler         ServiceRecycler
	purger           Purger
	dropCaches       CacheDropper
	retryLimit       int
	retryOnTransport bool
	status           *Status
}

// RetryControllerConfig wires the controller's collaborators
type RetryControllerConfig struct {
	Dispatcher       *Dispatcher
	Recycler         ServiceRecycler
	Purger           Purger
	DropCaches       CacheDropper
	RetryLimit       int
	RetryOnTransport bool
	Status           *Status
}

// NewRetryController creates a retry controller
func NewRetryController(cfg RetryControllerConfig) *RetryController {
	limit := cfg.RetryLimit
	if limit <= 0 {
		limit = 3
	}
	return &RetryController{
		dispatcher:       cfg.Dispatcher,
		recycler:         cfg.Recycler,
		purger:           cfg.Purger,
		dropCaches:       cfg.DropCaches,
		retryLimit:       limit,
		retryOnTransport: cfg.RetryOnTransport,
		status:           cfg.Status,
	}
}

// RunDataset runs the dataset to completion within the attempt budget.
// pendingNamespaces are the namespaces of datasets not yet started in
// this configuration; their results depend on a consistent service
// state, so they are discarded along with this dataset's on abort.
// Returns the summary, the number of attempts consumed, and an error on
// exhaustion or cancellation.
func (c *RetryController) RunDataset(ctx context.Context, namespace string, descriptors []models.Descriptor, pendingNamespaces []string) (models.Summary, int, error) {
	needService := false
	var lastErr error

	for attempt := 1; attempt <= c.retryLimit; attempt++ {
		actx := logging.WithAttempt(ctx, attempt)

		if needService {
			if err := c.recycler.Recycle(actx); err != nil {
				// A failed restart inside the retry path consumes the
				// attempt instead of killing the run outright
				lastErr = err
				logging.Warn(actx, "service restart failed", "error", err)
				continue
			}
			metrics.ServiceRestarts.Inc()
			needService = false
		}

		a := newAttempt(attempt, descriptors)
		c.status.setAttempt(attempt, len(descriptors))

		runCtx, cancel := context.WithCancel(actx)
		c.dispatcher.dispatchAll(runCtx, namespace, a)

		ok := a.drain(runCtx, c.retryOnTransport, c.status.setCompleted)
		// Cancellation is best-effort: a job may still write a late
		// outcome into the attempt's own mailbox, where its stale
		// generation gets it discarded
		cancel()

		if ok {
			metrics.AttemptsTotal.WithLabelValues("succeeded").Inc()
			c.status.setState(models.AttemptSucceeded)
			return a.summary(), attempt, nil
		}
		metrics.AttemptsTotal.WithLabelValues("aborted").Inc()
		c.status.setState(models.AttemptAborting)

		if ctx.Err() != nil {
			return models.Summary{}, attempt, ctx.Err()
		}

		logging.Warn(actx, "attempt aborted, discarding partial results",
			"completed", a.Completed(),
			"total", a.Len(),
			"transport_failures", a.transportFailures)

		c.discard(actx, namespace, pendingNamespaces)
		needService = true
		lastErr = fmt.Errorf("attempt %d aborted on abnormal service response", attempt)
	}

	c.status.setState(models.AttemptExhausted)
	return models.Summary{}, c.retryLimit, fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, c.retryLimit, lastErr)
}

// discard deletes this dataset's partial artifacts plus every dataset
// not yet started in the configuration, and drops the OS page cache
func (c *RetryController) discard(ctx context.Context, namespace string, pending []string) {
	for _, ns := range append([]string{namespace}, pending...) {
		if err := c.purger.Purge(ns); err != nil {
			logging.Warn(ctx, "artifact purge failed", "target", ns, "error", err)
		}
	}

	if c.dropCaches != nil {
		if err := c.dropCaches(ctx); err != nil {
			logging.Warn(ctx, "cache drop failed", "error", err)
		}
	}
}
