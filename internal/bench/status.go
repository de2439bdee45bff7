package bench

import (
	"sync"

	"github.com/tokenbench/tokenbench/pkg/models"
)

// Snapshot is the externally inspectable in-flight state of the run
type Snapshot struct {
	RunID     string              `json:"run_id"`
	Build     string              `json:"build"`
	Width     int                 `json:"width"`
	Model     string              `json:"model"`
	Dataset   string              `json:"dataset"`
	Namespace string              `json:"namespace"`
	Attempt   int                 `json:"attempt"`
	Completed int                 `json:"completed"`
	Total     int                 `json:"total"`
	State     models.AttemptState `json:"state"`
}

// Status tracks run progress for the live inspection surface. All
// methods are safe on a nil receiver so callers never have to care
// whether the status server is enabled.
type Status struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewStatus creates a status tracker for the run
func NewStatus(runID string) *Status {
	return &Status{snap: Snapshot{RunID: runID}}
}

// Snapshot returns a copy of the current state
func (s *Status) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *Status) setConfiguration(cfg models.RunConfig) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Build = cfg.Build
	s.snap.Width = cfg.Width
	s.snap.Model = cfg.Model
	s.snap.Dataset = cfg.Dataset
	s.snap.Namespace = cfg.Namespace()
	s.snap.Attempt = 0
	s.snap.Completed = 0
	s.snap.Total = 0
	s.snap.State = models.AttemptRunning
}

func (s *Status) setAttempt(attempt, total int) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Attempt = attempt
	s.snap.Total = total
	s.snap.Completed = 0
	s.snap.State = models.AttemptRunning
}

func (s *Status) setCompleted(completed int) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Completed = completed
}

func (s *Status) setState(state models.AttemptState) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.State = state
}
