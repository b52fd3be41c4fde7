package storage

import (
	"context"
	"time"
)

// RunRecord is the persisted outcome of one evaluation run.
type RunRecord struct {
	ID           string    `json:"id"`
	InstanceID   string    `json:"instance_id"`
	PatchIsNone  bool      `json:"patch_is_None"`
	PatchExists  bool      `json:"patch_exists"`
	PatchApplied bool      `json:"patch_successfully_applied"`
	Resolved     bool      `json:"resolved"`
	Report       string    `json:"report"` // full report as JSON
	CreatedAt    time.Time `json:"created_at"`
}

// RunListOptions controls filtering and pagination for ListRuns.
type RunListOptions struct {
	Resolved *bool
	Limit    int
	Offset   int
}

// Store is the persistence interface for evaluation runs.
type Store interface {
	// SaveRun inserts a new run record. The ID field must be set by the caller.
	SaveRun(ctx context.Context, r *RunRecord) error

	// GetRun returns a run by ID or ID prefix.
	GetRun(ctx context.Context, id string) (*RunRecord, error)

	// ListRuns returns runs ordered by created_at descending.
	ListRuns(ctx context.Context, opts RunListOptions) ([]RunRecord, error)

	// Close releases resources.
	Close() error
}
