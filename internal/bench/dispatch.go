package bench

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tokenbench/tokenbench/internal/metrics"
	"github.com/tokenbench/tokenbench/internal/results"
	"github.com/tokenbench/tokenbench/pkg/models"
)

// TraceSink receives best-effort request/response trace records
type TraceSink interface {
	AppendTrace(namespace string, entry results.TraceEntry) error
}

// Dispatcher converts dataset entries into wire requests and issues
// them as independent units of work. It never waits for completions;
// each unit reports exactly one outcome to the attempt's mailbox.
type Dispatcher struct {
	client  *http.Client
	baseURL string
	timeout time.Duration
	trace   TraceSink
	logger  *slog.Logger
}

// DispatcherOption configures the dispatcher
type DispatcherOption func(*Dispatcher)

// WithTraceSink sets the trace log sink
func WithTraceSink(sink TraceSink) DispatcherOption {
	return func(d *Dispatcher) {
		d.trace = sink
	}
}

// WithDispatchClient sets the HTTP client
func WithDispatchClient(client *http.Client) DispatcherOption {
	return func(d *Dispatcher) {
		d.client = client
	}
}

// WithDispatchLogger sets a custom logger
func WithDispatchLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates a dispatcher for one service endpoint
func NewDispatcher(baseURL string, timeout time.Duration, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		// No Client.Timeout: the per-job context bounds each request so a
		// hung service cannot stall the drain loop indefinitely
		client:  &http.Client{},
		baseURL: baseURL,
		timeout: timeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// dispatchAll fans out every job of the attempt back-to-back with no
// throttling. Dispatch order follows dataset index order; completion
// order is whatever the service produces.
func (d *Dispatcher) dispatchAll(ctx context.Context, namespace string, a *Attempt) {
	a.dispatchStart = time.Now()
	for i := range a.jobs {
		a.jobs[i].State = models.JobDispatched
		job := a.jobs[i]
		go d.dispatch(ctx, namespace, a.Generation, job, a.box)
	}
}

// dispatch runs one job to its single outcome
func (d *Dispatcher) dispatch(ctx context.Context, namespace string, generation int, job models.Job, box *mailbox) {
	start := time.Now()
	outcome := d.send(ctx, job.Descriptor)
	outcome.Generation = generation
	outcome.Index = job.Index
	elapsed := time.Since(start)

	metrics.RequestsTotal.WithLabelValues(string(outcome.Kind)).Inc()
	metrics.RequestDuration.Observe(elapsed.Seconds())

	if d.trace != nil {
		entry := results.TraceEntry{
			Index:            job.Index,
			Attempt:          generation,
			Outcome:          string(outcome.Kind),
			PromptTokens:     outcome.PromptTokens,
			CompletionTokens: outcome.CompletionTokens,
			DurationMS:       elapsed.Milliseconds(),
			Error:            outcome.Err,
		}
		if err := d.trace.AppendTrace(namespace, entry); err != nil {
			d.logger.Debug("trace append failed", "namespace", namespace, "error", err)
		}
	}

	box.post(outcome)
}

// send issues the completion request and classifies the result
func (d *Dispatcher) send(ctx context.Context, desc models.Descriptor) models.Outcome {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	body, err := json.Marshal(completionRequest{
		Prompt:   desc.Prompt,
		NPredict: desc.MaxTokens,
		Stream:   false,
	})
	if err != nil {
		return models.Outcome{Kind: models.OutcomeTransportFailure, Err: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/completion", bytes.NewReader(body))
	if err != nil {
		return models.Outcome{Kind: models.OutcomeTransportFailure, Err: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return models.Outcome{Kind: models.OutcomeTransportFailure, Err: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return models.Outcome{
			Kind: models.OutcomeTransportFailure,
			Err:  fmt.Sprintf("status %d: %s", resp.StatusCode, data),
		}
	}

	var cr completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return models.Outcome{Kind: models.OutcomeSchemaFailure, Err: fmt.Sprintf("undecodable response: %v", err)}
	}

	promptN, predictedN, ok := cr.usage()
	if !ok {
		return models.Outcome{Kind: models.OutcomeSchemaFailure, Err: "response missing token usage fields"}
	}

	return models.Outcome{
		Kind:             models.OutcomeSuccess,
		PromptTokens:     promptN,
		CompletionTokens: predictedN,
	}
}
