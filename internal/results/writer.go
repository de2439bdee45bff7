// Package results owns the on-disk benchmark artifacts: a per-namespace
// request/response trace log and summary block, plus a SQLite store of
// summaries for cross-run comparison.
package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tokenbench/tokenbench/pkg/models"
)

// TraceEntry is one appended request/response record. Best-effort
// observability, not part of the correctness contract.
type TraceEntry struct {
	Timestamp        int64  `json:"t"`
	Index            int    `json:"n"`
	Attempt          int    `json:"attempt"`
	Outcome          string `json:"outcome"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
	DurationMS       int64  `json:"dur_ms"`
	Error            string `json:"error,omitempty"`
}

// Writer manages artifacts under a base results directory
type Writer struct {
	baseDir string

	mu     sync.Mutex
	traces map[string]*os.File // open trace logs by namespace
}

// NewWriter creates a writer rooted at baseDir
func NewWriter(baseDir string) (*Writer, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create results dir: %w", err)
	}
	return &Writer{
		baseDir: baseDir,
		traces:  make(map[string]*os.File),
	}, nil
}

func (w *Writer) namespaceDir(namespace string) string {
	return filepath.Join(w.baseDir, filepath.FromSlash(namespace))
}

// AppendTrace appends one JSONL record to the namespace's trace log.
// Errors are returned for logging only; the caller never fails on them.
func (w *Writer) AppendTrace(namespace string, entry TraceEntry) error {
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().UnixMilli()
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	f, ok := w.traces[namespace]
	if !ok {
		dir := w.namespaceDir(namespace)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create namespace dir: %w", err)
		}
		var err error
		f, err = os.OpenFile(filepath.Join(dir, "trace.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open trace log: %w", err)
		}
		w.traces[namespace] = f
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal trace entry: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append trace entry: %w", err)
	}
	return nil
}

// WriteSummary writes the namespace's machine-readable summary block
func (w *Writer) WriteSummary(namespace string, summary models.Summary) error {
	dir := w.namespaceDir(namespace)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create namespace dir: %w", err)
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "summary.json"), append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

// Purge removes every artifact under the namespace. Used by the abort
// path: cancelled jobs may still append late trace records, so partial
// artifacts are deleted rather than relied upon to stay absent.
func (w *Writer) Purge(namespace string) error {
	w.mu.Lock()
	if f, ok := w.traces[namespace]; ok {
		f.Close()
		delete(w.traces, namespace)
	}
	w.mu.Unlock()

	if err := os.RemoveAll(w.namespaceDir(namespace)); err != nil {
		return fmt.Errorf("failed to purge namespace %s: %w", namespace, err)
	}
	return nil
}

// Close closes all open trace logs
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for ns, f := range w.traces {
		f.Close()
		delete(w.traces, ns)
	}
	return nil
}

// BaseDir returns the root of the results tree
func (w *Writer) BaseDir() string { return w.baseDir }
