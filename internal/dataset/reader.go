package dataset

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/tokenbench/tokenbench/pkg/models"
)

// DefaultMaxTokens is applied when an entry carries no token budget
const DefaultMaxTokens = 128

// ErrMalformedEntry indicates a dataset entry with no usable prompt field.
// Malformed entries are skipped, never fatal.
var ErrMalformedEntry = fmt.Errorf("malformed dataset entry")

// ErrEmptyDataset indicates a dataset with no usable entries. The caller
// skips the dataset for the whole configuration rather than failing the run.
var ErrEmptyDataset = fmt.Errorf("dataset has no usable entries")

// rawEntry accepts the field aliases the supported datasets use
type rawEntry struct {
	Prompt    string `json:"prompt"`
	Input     string `json:"input"`
	Text      string `json:"text"`
	MaxTokens *int   `json:"max_tokens"`
	NPredict  *int   `json:"n_predict"`
}

func (r rawEntry) descriptor(defaultMaxTokens int) (models.Descriptor, error) {
	prompt := r.Prompt
	if prompt == "" {
		prompt = r.Input
	}
	if prompt == "" {
		prompt = r.Text
	}
	if prompt == "" {
		return models.Descriptor{}, ErrMalformedEntry
	}

	maxTokens := defaultMaxTokens
	if r.MaxTokens != nil {
		maxTokens = *r.MaxTokens
	} else if r.NPredict != nil {
		maxTokens = *r.NPredict
	}

	return models.Descriptor{Prompt: prompt, MaxTokens: maxTokens}, nil
}

// Dataset is an ordered, 0-indexed sequence of request descriptors
type Dataset struct {
	path        string
	descriptors []models.Descriptor
	skipped     int
}

// Path returns the file the dataset was loaded from
func (d *Dataset) Path() string { return d.path }

// Len returns the number of usable entries
func (d *Dataset) Len() int { return len(d.descriptors) }

// At returns the descriptor at the given index
func (d *Dataset) At(i int) models.Descriptor { return d.descriptors[i] }

// Skipped returns how many malformed entries were dropped during load
func (d *Dataset) Skipped() int { return d.skipped }

// Descriptors returns the full ordered descriptor sequence
func (d *Dataset) Descriptors() []models.Descriptor {
	out := make([]models.Descriptor, len(d.descriptors))
	copy(out, d.descriptors)
	return out
}

// Load reads a dataset file, detecting its encoding from the first
// non-blank byte: '[' means a single JSON array, anything else means one
// JSON object per line. Both encodings normalize to the same indexed
// descriptor sequence. Malformed entries are skipped individually.
func Load(path string, defaultMaxTokens int) (*Dataset, error) {
	if defaultMaxTokens <= 0 {
		defaultMaxTokens = DefaultMaxTokens
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}

	d := &Dataset{path: path}

	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = d.loadArray(trimmed, defaultMaxTokens)
	} else {
		err = d.loadLines(data, defaultMaxTokens)
	}
	if err != nil {
		return nil, err
	}

	if len(d.descriptors) == 0 {
		return nil, ErrEmptyDataset
	}
	return d, nil
}

func (d *Dataset) loadArray(data []byte, defaultMaxTokens int) error {
	var entries []rawEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse dataset array: %w", err)
	}

	for _, e := range entries {
		desc, err := e.descriptor(defaultMaxTokens)
		if err != nil {
			d.skipped++
			continue
		}
		d.descriptors = append(d.descriptors, desc)
	}
	return nil
}

func (d *Dataset) loadLines(data []byte, defaultMaxTokens int) error {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue // blank lines do not count toward length
		}

		var e rawEntry
		if err := json.Unmarshal(line, &e); err != nil {
			d.skipped++
			continue
		}

		desc, err := e.descriptor(defaultMaxTokens)
		if err != nil {
			d.skipped++
			continue
		}
		d.descriptors = append(d.descriptors, desc)
	}
	return scanner.Err()
}
