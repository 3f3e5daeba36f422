// Package statestore provides persistence for finished simulation runs.
package statestore

import (
	"context"
	"errors"
	"time"

	"github.com/sparringlabs/sparring/judge"
	"github.com/sparringlabs/sparring/types"
)

// Store defines the interface for run result storage.
type Store interface {
	// Load retrieves a run result by run ID
	Load(ctx context.Context, id string) (*RunResult, error)

	// Save persists a run result
	Save(ctx context.Context, result *RunResult) error

	// List returns the IDs of all stored runs
	List(ctx context.Context) ([]string, error)

	// Delete removes a run result by ID
	Delete(ctx context.Context, id string) error
}

// RunResult contains the complete artifact of a single simulated conversation.
type RunResult struct {
	RunID        string          `json:"run_id"`
	DatasetIndex int             `json:"dataset_index"`
	Messages     []types.Message `json:"messages"`
	Turns        int             `json:"turns"`
	Verdict      *judge.Verdict  `json:"verdict,omitempty"`
	StartTime    time.Time       `json:"start_time"`
	EndTime      time.Time       `json:"end_time"`
	Duration     time.Duration   `json:"duration"`
	Error        string          `json:"error,omitempty"`
}

// Failed reports whether the run aborted before producing a terminal transcript.
func (r *RunResult) Failed() bool {
	return r.Error != ""
}

// ErrNotFound is returned when a run doesn't exist in the store.
var ErrNotFound = errors.New("run not found")

// ErrInvalidID is returned when an invalid run ID is provided.
var ErrInvalidID = errors.New("invalid run ID")

// ErrInvalidResult is returned when an invalid run result is provided.
var ErrInvalidResult = errors.New("invalid run result")
