package bench

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenbench/tokenbench/pkg/models"
)

// mockRecycler counts restart requests
type mockRecycler struct {
	mu    sync.Mutex
	calls int
	err   error
	hook  func() // runs on every successful recycle
}

func (m *mockRecycler) Recycle(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return m.err
	}
	if m.hook != nil {
		m.hook()
	}
	return nil
}

func (m *mockRecycler) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockPurger records purged namespaces
type mockPurger struct {
	mu         sync.Mutex
	namespaces []string
}

func (m *mockPurger) Purge(namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.namespaces = append(m.namespaces, namespace)
	return nil
}

func (m *mockPurger) purged() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.namespaces...)
}

func descriptors(prompts ...string) []models.Descriptor {
	descs := make([]models.Descriptor, len(prompts))
	for i, p := range prompts {
		descs[i] = models.Descriptor{Prompt: p, MaxTokens: 5}
	}
	return descs
}

func usageResponse(promptN, predictedN int) string {
	return fmt.Sprintf(`{"content":"ok","usage":{"prompt_tokens":%d,"completion_tokens":%d}}`, promptN, predictedN)
}

func newController(t *testing.T, serverURL string, recycler ServiceRecycler, purger Purger, retryOnTransport bool) *RetryController {
	t.Helper()
	return NewRetryController(RetryControllerConfig{
		Dispatcher:       NewDispatcher(serverURL, 5*time.Second),
		Recycler:         recycler,
		Purger:           purger,
		RetryLimit:       3,
		RetryOnTransport: retryOnTransport,
		Status:           NewStatus("test-run"),
	})
}

func TestRunDataset_SingleEntrySummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/completion", r.URL.Path)

		var req completionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hi", req.Prompt)
		assert.Equal(t, 5, req.NPredict)
		assert.False(t, req.Stream)

		fmt.Fprint(w, usageResponse(2, 5))
	}))
	defer srv.Close()

	c := newController(t, srv.URL, &mockRecycler{}, &mockPurger{}, false)

	summary, attempts, err := c.RunDataset(context.Background(), "ns", descriptors("hi"), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, attempts)
	assert.Equal(t, 2, summary.PromptN)
	assert.Equal(t, 5, summary.PredictedN)
	if summary.DurationS > 0 {
		assert.InDelta(t, float64(7)/summary.DurationS, summary.Throughput, 0.001)
	}
}

func TestRunDataset_AllCompletedExactlyOnce(t *testing.T) {
	const n = 50

	var served atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served.Add(1)
		fmt.Fprint(w, usageResponse(1, 2))
	}))
	defer srv.Close()

	prompts := make([]string, n)
	for i := range prompts {
		prompts[i] = fmt.Sprintf("prompt-%d", i)
	}

	c := newController(t, srv.URL, &mockRecycler{}, &mockPurger{}, false)

	summary, attempts, err := c.RunDataset(context.Background(), "ns", descriptors(prompts...), nil)
	require.NoError(t, err)

	// Every index counted exactly once: no double-counting, none skipped
	assert.Equal(t, 1, attempts)
	assert.Equal(t, int32(n), served.Load())
	assert.Equal(t, n, summary.PromptN)
	assert.Equal(t, 2*n, summary.PredictedN)
}

func TestRunDataset_SchemaFailureExhaustsRetries(t *testing.T) {
	// Service always answers 200 with no usage fields
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"content":"no usage here"}`)
	}))
	defer srv.Close()

	recycler := &mockRecycler{}
	purger := &mockPurger{}
	c := newController(t, srv.URL, recycler, purger, false)

	_, attempts, err := c.RunDataset(context.Background(), "ns", descriptors("a", "b"), nil)

	require.ErrorIs(t, err, ErrRetryExhausted)
	assert.Equal(t, 3, attempts)
	// Restarts happen between attempts 1→2 and 2→3
	assert.Equal(t, 2, recycler.count())
	// Each abort purges the dataset's artifacts
	assert.Len(t, purger.purged(), 3)
}

func TestRunDataset_AbortRestartsAndRetriesFromZero(t *testing.T) {
	var attempt atomic.Int32
	attempt.Store(1)

	var secondAttemptRequests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req completionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if attempt.Load() == 1 {
			if req.Prompt == "p1" {
				// Schema-invalid response on the middle entry
				fmt.Fprint(w, `{"content":"broken"}`)
				return
			}
			fmt.Fprint(w, usageResponse(1, 2))
			return
		}

		secondAttemptRequests.Add(1)
		fmt.Fprint(w, usageResponse(1, 2))
	}))
	defer srv.Close()

	recycler := &mockRecycler{hook: func() { attempt.Store(2) }}
	purger := &mockPurger{}
	c := newController(t, srv.URL, recycler, purger, false)

	summary, attempts, err := c.RunDataset(context.Background(), "ns",
		descriptors("p0", "p1", "p2"), []string{"pending-a", "pending-b"})
	require.NoError(t, err)

	assert.Equal(t, 2, attempts)
	assert.Equal(t, 1, recycler.count())

	// The aborted dataset and every not-yet-started dataset are purged
	assert.Equal(t, []string{"ns", "pending-a", "pending-b"}, purger.purged())

	// The retry replays the dataset from entry 0 with fresh indices
	assert.Equal(t, int32(3), secondAttemptRequests.Load())
	assert.Equal(t, 3, summary.PromptN)
	assert.Equal(t, 6, summary.PredictedN)
}

func TestRunDataset_TransportFailureDoesNotAbort(t *testing.T) {
	var served atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if served.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, usageResponse(3, 4))
	}))
	defer srv.Close()

	recycler := &mockRecycler{}
	c := newController(t, srv.URL, recycler, &mockPurger{}, false)

	summary, attempts, err := c.RunDataset(context.Background(), "ns", descriptors("a", "b"), nil)
	require.NoError(t, err)

	// One entry failed at the transport level: zero tokens, no retry
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 0, recycler.count())
	assert.Equal(t, 3, summary.PromptN)
	assert.Equal(t, 4, summary.PredictedN)
}

func TestRunDataset_RetryOnTransportEscalates(t *testing.T) {
	// Service refuses every request at the HTTP level
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newController(t, srv.URL, &mockRecycler{}, &mockPurger{}, true)

	_, attempts, err := c.RunDataset(context.Background(), "ns", descriptors("a", "b"), nil)
	require.ErrorIs(t, err, ErrRetryExhausted)
	assert.Equal(t, 3, attempts)
}

func TestRunDataset_FailedRestartConsumesAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"content":"no usage"}`)
	}))
	defer srv.Close()

	recycler := &mockRecycler{err: fmt.Errorf("bind: address already in use")}
	c := newController(t, srv.URL, recycler, &mockPurger{}, false)

	_, attempts, err := c.RunDataset(context.Background(), "ns", descriptors("a"), nil)

	// Attempt 1 aborts; restarts for attempts 2 and 3 both fail and are
	// counted against the budget instead of killing the run outright
	require.ErrorIs(t, err, ErrRetryExhausted)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, recycler.count())
}

func TestRunDataset_ContextCancelled(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	c := newController(t, srv.URL, &mockRecycler{}, &mockPurger{}, false)

	_, _, err := c.RunDataset(ctx, "ns", descriptors("a"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAttempt_RecordExactlyOnce(t *testing.T) {
	a := newAttempt(1, descriptors("a", "b", "c"))

	o := models.Outcome{Generation: 1, Index: 1, Kind: models.OutcomeSuccess, PromptTokens: 2, CompletionTokens: 3}
	a.record(o)
	a.record(o) // duplicate delivery must not double-count

	assert.Equal(t, 1, a.Completed())
	assert.Equal(t, 2, a.promptTokens)
	assert.Equal(t, 3, a.completionTokens)
}

func TestAttempt_StaleGenerationDiscarded(t *testing.T) {
	a := newAttempt(2, descriptors("a"))

	// A late outcome from the cancelled previous attempt
	a.record(models.Outcome{Generation: 1, Index: 0, Kind: models.OutcomeSuccess, PromptTokens: 9, CompletionTokens: 9})

	assert.Equal(t, 0, a.Completed())
	assert.Equal(t, 0, a.promptTokens)

	a.record(models.Outcome{Generation: 2, Index: 0, Kind: models.OutcomeSuccess, PromptTokens: 1, CompletionTokens: 1})
	assert.Equal(t, 1, a.Completed())
}

func TestAttempt_OutOfRangeIndexIgnored(t *testing.T) {
	a := newAttempt(1, descriptors("a"))

	a.record(models.Outcome{Generation: 1, Index: 5, Kind: models.OutcomeSuccess})
	a.record(models.Outcome{Generation: 1, Index: -1, Kind: models.OutcomeSuccess})

	assert.Equal(t, 0, a.Completed())
}

func TestAttempt_SchemaFailureSetsAbnormal(t *testing.T) {
	a := newAttempt(1, descriptors("a", "b"))

	a.record(models.Outcome{Generation: 1, Index: 0, Kind: models.OutcomeSchemaFailure})
	assert.True(t, a.abnormal)

	// Completed count never exceeds dataset length and here stays below it
	assert.LessOrEqual(t, a.Completed(), a.Len())
}

func TestCompletionResponse_UsageVariants(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		promptN    int
		predictedN int
		ok         bool
	}{
		{"nested usage", `{"usage":{"prompt_tokens":2,"completion_tokens":5}}`, 2, 5, true},
		{"top-level", `{"prompt_tokens":3,"completion_tokens":7}`, 3, 7, true},
		{"llama.cpp fields", `{"tokens_evaluated":4,"tokens_predicted":9}`, 4, 9, true},
		{"missing usage", `{"content":"hello"}`, 0, 0, false},
		{"partial usage", `{"usage":{"prompt_tokens":2}}`, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cr completionResponse
			require.NoError(t, json.Unmarshal([]byte(tt.body), &cr))

			promptN, predictedN, ok := cr.usage()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.promptN, promptN)
			assert.Equal(t, tt.predictedN, predictedN)
		})
	}
}

func TestMailbox_PostAfterReaderGone(t *testing.T) {
	box := newMailbox(2)
	box.post(models.Outcome{Index: 0})
	box.post(models.Outcome{Index: 1})
	// Posting beyond capacity must not block the writer goroutine
	box.post(models.Outcome{Index: 2})

	ctx := context.Background()
	o, ok := box.receive(ctx, 10*time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, 0, o.Index)

	_, ok = box.receive(ctx, 10*time.Millisecond)
	assert.True(t, ok)

	_, ok = box.receive(ctx, 10*time.Millisecond)
	assert.False(t, ok)
}
