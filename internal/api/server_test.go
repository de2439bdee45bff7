package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenbench/tokenbench/internal/bench"
	"github.com/tokenbench/tokenbench/pkg/models"
)

type fakeStatus struct {
	snap bench.Snapshot
}

func (f *fakeStatus) Snapshot() bench.Snapshot { return f.snap }

func TestServer_Health(t *testing.T) {
	s := NewServer("127.0.0.1:0", &fakeStatus{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_Status(t *testing.T) {
	status := &fakeStatus{snap: bench.Snapshot{
		RunID:     "run-1",
		Build:     "baseline",
		Width:     8,
		Dataset:   "/data/qa.json",
		Attempt:   2,
		Completed: 17,
		Total:     50,
		State:     models.AttemptRunning,
	}}
	s := NewServer("127.0.0.1:0", status)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	s.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var snap bench.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, "run-1", snap.RunID)
	assert.Equal(t, 2, snap.Attempt)
	assert.Equal(t, 17, snap.Completed)
	assert.Equal(t, models.AttemptRunning, snap.State)
}

func TestServer_Metrics(t *testing.T) {
	s := NewServer("127.0.0.1:0", &fakeStatus{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tokenbench_")
}