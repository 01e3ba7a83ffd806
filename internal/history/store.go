// Package history persists refresh-run summaries so operators can audit
// what each scheduled or manual run did.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound indicates a requested run record was not found.
var ErrNotFound = errors.New("run record not found")

// Run trigger values.
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
)

// KeyFailure describes one dataset key that failed within a run.
type KeyFailure struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// RunRecord is the summary of one refresh run.
type RunRecord struct {
	ID           string       `json:"id"`
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   time.Time    `json:"finished_at"`
	Trigger      string       `json:"trigger"`
	DemoMode     bool         `json:"demo_mode"`
	Succeeded    int          `json:"succeeded"`
	Failed       int          `json:"failed"`
	Skipped      int          `json:"skipped"`
	TotalFailure bool         `json:"total_failure"`
	Pruned       int          `json:"pruned"`
	Failures     []KeyFailure `json:"failures,omitempty"`
}

// Store defines persistence operations for run summaries.
type Store interface {
	Record(ctx context.Context, run *RunRecord) error
	Get(ctx context.Context, id string) (*RunRecord, error)
	List(ctx context.Context, limit int) ([]*RunRecord, error)
	Close() error
}

func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 20
	case limit > 100:
		return 100
	default:
		return limit
	}
}

func serializeRun(run *RunRecord) ([]byte, error) {
	if run == nil {
		return nil, fmt.Errorf("run record is nil")
	}
	b, err := json.Marshal(run)
	if err != nil {
		return nil, fmt.Errorf("marshal run record: %w", err)
	}
	return b, nil
}

func deserializeRun(raw []byte) (*RunRecord, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty run record payload")
	}
	var run RunRecord
	if err := json.Unmarshal(raw, &run); err != nil {
		return nil, fmt.Errorf("unmarshal run record: %w", err)
	}
	return &run, nil
}

func cloneRun(src *RunRecord) (*RunRecord, error) {
	raw, err := serializeRun(src)
	if err != nil {
		return nil, err
	}
	return deserializeRun(raw)
}
