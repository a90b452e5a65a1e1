package ports

import (
	"context"

	"trialsim/domain/core"
	"trialsim/domain/trial"
	"trialsim/models"

	"github.com/google/uuid"
)

// ResultSink provides append-only write access to the run log.
// Saving never mutates a previously stored record.
type ResultSink interface {
	Save(ctx context.Context, record *trial.RunRecord, ownerID uuid.UUID, at core.Timestamp) error
}

// RunRepository provides read-only access to stored runs
type RunRepository interface {
	ListRuns(ctx context.Context, filters RunFilters) ([]*trial.RunRecord, error)
	GetRun(ctx context.Context, id core.RunID) (*trial.RunRecord, error)
	// GetUserRunStats summarizes one owner's stored runs
	GetUserRunStats(ctx context.Context, userID uuid.UUID) (*models.UserRunStats, error)
}

// RunFilters for querying stored runs, newest first
type RunFilters struct {
	OwnerID *uuid.UUID
	Limit   int
	Offset  int
}

// RunLog combines read and write access to the run log
type RunLog interface {
	ResultSink
	RunRepository
}

// ResultCache holds the most recent computed record so a session can
// re-display it after a restart.
type ResultCache interface {
	// LoadLast returns the cached record; ok is false when nothing is cached
	LoadLast(ctx context.Context) (record *trial.RunRecord, ok bool, err error)
	StoreLast(ctx context.Context, record *trial.RunRecord) error
}
