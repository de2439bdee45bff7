package models

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// JobState represents the current state of a single request job
type JobState string

const (
	JobPending    JobState = "pending"    // Job created, not yet sent
	JobDispatched JobState = "dispatched" // Request in flight
	JobCompleted  JobState = "completed"  // Outcome recorded
	JobFailed     JobState = "failed"     // Transport or schema failure recorded
)

// OutcomeKind classifies the result of one dispatched request
type OutcomeKind string

const (
	// OutcomeSuccess is a well-formed response carrying token usage
	OutcomeSuccess OutcomeKind = "success"
	// OutcomeTransportFailure is a network or process level error; it
	// contributes zero tokens but does not mark the service abnormal
	OutcomeTransportFailure OutcomeKind = "transport_failure"
	// OutcomeSchemaFailure is a response with no usable usage fields; it
	// marks the attempt abnormal and triggers the retry path
	OutcomeSchemaFailure OutcomeKind = "schema_failure"
)

// AttemptState is the retry controller's state for one dataset
type AttemptState string

const (
	AttemptRunning   AttemptState = "running"
	AttemptAborting  AttemptState = "aborting"
	AttemptSucceeded AttemptState = "succeeded"
	AttemptExhausted AttemptState = "exhausted"
)

// Descriptor is one dataset entry: a prompt and its generation budget
type Descriptor struct {
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
}

// Job is one dataset entry in flight during an attempt
type Job struct {
	Index      int        `json:"index"`
	Descriptor Descriptor `json:"descriptor"`
	State      JobState   `json:"state"`
}

// Outcome is the single result a dispatched job reports back.
// Generation identifies the attempt that dispatched the job; outcomes
// tagged with a stale generation are discarded by the aggregator.
type Outcome struct {
	Generation       int         `json:"generation"`
	Index            int         `json:"index"`
	Kind             OutcomeKind `json:"kind"`
	PromptTokens     int         `json:"prompt_tokens"`
	CompletionTokens int         `json:"completion_tokens"`
	Err              string      `json:"error,omitempty"`
}

// RunConfig identifies one outer benchmark iteration. It is immutable
// once constructed and determines the result namespace.
type RunConfig struct {
	Build   string `json:"build"`   // service build/variant label
	Width   int    `json:"width"`   // concurrency width the service is configured with
	Model   string `json:"model"`   // model file reference
	Dataset string `json:"dataset"` // dataset file path
}

// Namespace returns the result key for this configuration: a relative
// path composed of build, width, model stem and dataset stem.
func (c RunConfig) Namespace() string {
	return filepath.Join(c.Build, fmt.Sprintf("np%d", c.Width), stem(c.Model), stem(c.Dataset))
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Summary is the immutable result of one successful attempt
type Summary struct {
	PromptN    int     `json:"prompt_n"`
	PredictedN int     `json:"predicted_n"`
	DurationS  float64 `json:"duration_s"`
	Throughput float64 `json:"throughput"`
}

// NewSummary derives a summary from aggregate token counts and the
// attempt's dispatch-start and last-outcome timestamps. A non-positive
// duration yields zero throughput rather than an error.
func NewSummary(promptN, predictedN int, start, end time.Time) Summary {
	s := Summary{PromptN: promptN, PredictedN: predictedN}
	if d := end.Sub(start); d > 0 {
		s.DurationS = d.Seconds()
		s.Throughput = float64(promptN+predictedN) / s.DurationS
	}
	return s
}

// RunRecord is one persisted summary row keyed by run and namespace
type RunRecord struct {
	RunID     string    `json:"run_id"`
	Namespace string    `json:"namespace"`
	Build     string    `json:"build"`
	Width     int       `json:"width"`
	Model     string    `json:"model"`
	Dataset   string    `json:"dataset"`
	Attempts  int       `json:"attempts"`
	Summary   Summary   `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
}
