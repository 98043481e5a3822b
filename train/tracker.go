package train

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// RunTracker appends experiment events to a JSONL file under the logging
// dir, one file per run keyed by a fresh run ID. A nil tracker is valid and
// drops everything, so call sites need no enabled checks.
type RunTracker struct {
	RunID string
	file  *os.File
}

// TrackedEvent is one line in the run log.
type TrackedEvent struct {
	Time  time.Time `json:"time"`
	Kind  string    `json:"kind"`
	Epoch int       `json:"epoch,omitempty"`
	Step  int       `json:"step,omitempty"`
	Loss  float64   `json:"loss,omitempty"`
	LR    float64   `json:"lr,omitempty"`
	MemMiB int      `json:"mem_mib,omitempty"`
	Note  string    `json:"note,omitempty"`
}

// NewRunTracker creates the logging dir and opens a run log.
func NewRunTracker(loggingDir string) (*RunTracker, error) {
	if err := os.MkdirAll(loggingDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logging dir: %w", err)
	}
	runID := uuid.New().String()
	file, err := os.Create(filepath.Join(loggingDir, "run-"+runID+".jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to create run log: %w", err)
	}
	return &RunTracker{RunID: runID, file: file}, nil
}

// Log appends one event. Write errors are swallowed: tracking must never
// take down a training run.
func (t *RunTracker) Log(ev TrackedEvent) {
	if t == nil {
		return
	}
	ev.Time = time.Now()
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	t.file.Write(append(data, '\n'))
}

// Close flushes and closes the run log.
func (t *RunTracker) Close() error {
	if t == nil {
		return nil
	}
	return t.file.Close()
}
