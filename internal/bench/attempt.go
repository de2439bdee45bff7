package bench

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/tokenbench/tokenbench/internal/logging"
	"github.com/tokenbench/tokenbench/internal/metrics"
	"github.com/tokenbench/tokenbench/pkg/models"
)

// drainWait bounds each receive on the mailbox so the drain loop stays
// responsive to cancellation and can emit periodic progress.
const drainWait = 500 * time.Millisecond

// Attempt is one try at running a dataset to completion. Jobs and the
// mailbox are created fresh per attempt; the generation number tags
// every outcome so late writes from a cancelled predecessor are
// recognized and discarded.
type Attempt struct {
	Generation int

	jobs []models.Job
	box  *mailbox
	seen []bool

	completed         int
	transportFailures int
	abnormal          bool

	promptTokens     int
	completionTokens int

	dispatchStart time.Time
	lastOutcome   time.Time

	progress rate.Sometimes
}

func newAttempt(generation int, descriptors []models.Descriptor) *Attempt {
	jobs := make([]models.Job, len(descriptors))
	for i, d := range descriptors {
		jobs[i] = models.Job{Index: i, Descriptor: d, State: models.JobPending}
	}
	return &Attempt{
		Generation: generation,
		jobs:       jobs,
		box:        newMailbox(len(descriptors)),
		seen:       make([]bool, len(descriptors)),
		progress:   rate.Sometimes{Interval: 5 * time.Second},
	}
}

// Completed returns how many jobs have recorded an outcome
func (a *Attempt) Completed() int { return a.completed }

// Len returns the dataset length for this attempt
func (a *Attempt) Len() int { return len(a.jobs) }

// record folds one outcome into the attempt. Outcomes from a stale
// generation and duplicate indices are discarded, so each index counts
// exactly once.
func (a *Attempt) record(o models.Outcome) {
	if o.Generation != a.Generation {
		return
	}
	if o.Index < 0 || o.Index >= len(a.seen) || a.seen[o.Index] {
		return
	}
	a.seen[o.Index] = true
	a.lastOutcome = time.Now()

	switch o.Kind {
	case models.OutcomeSuccess:
		a.jobs[o.Index].State = models.JobCompleted
		a.promptTokens += o.PromptTokens
		a.completionTokens += o.CompletionTokens
		a.completed++
		metrics.TokensTotal.WithLabelValues("prompt").Add(float64(o.PromptTokens))
		metrics.TokensTotal.WithLabelValues("completion").Add(float64(o.CompletionTokens))
	case models.OutcomeTransportFailure:
		// Zero tokens, but the job is accounted for; transport errors do
		// not by themselves mark the service abnormal
		a.jobs[o.Index].State = models.JobFailed
		a.transportFailures++
		a.completed++
	case models.OutcomeSchemaFailure:
		a.jobs[o.Index].State = models.JobFailed
		a.abnormal = true
	}
}

// drain consumes the mailbox until every job is accounted for (success)
// or the abnormal flag is raised (abort), whichever happens first.
// With retryOnTransport set, an attempt where every job failed at the
// transport level is also flagged abnormal. onProgress, if non-nil, is
// called with the completed count after every loop iteration.
func (a *Attempt) drain(ctx context.Context, retryOnTransport bool, onProgress func(completed int)) bool {
	for {
		o, ok := a.box.receive(ctx, drainWait)
		if ok {
			a.record(o)
		}
		if onProgress != nil {
			onProgress(a.completed)
		}

		if a.abnormal {
			return false
		}
		if retryOnTransport && a.transportFailures >= len(a.jobs) {
			a.abnormal = true
			return false
		}
		if a.completed >= len(a.jobs) {
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		a.progress.Do(func() {
			logging.Debug(ctx, "attempt progress",
				"completed", a.completed,
				"total", len(a.jobs),
				"transport_failures", a.transportFailures)
		})
	}
}

// summary derives the attempt's run summary from its token counts and
// timing marks
func (a *Attempt) summary() models.Summary {
	return models.NewSummary(a.promptTokens, a.completionTokens, a.dispatchStart, a.lastOutcome)
}
