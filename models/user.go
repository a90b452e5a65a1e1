package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents a system user
type User struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Username  string    `json:"username" db:"username"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// UserRunStats summarizes a user's stored simulation runs
type UserRunStats struct {
	TotalRuns        int        `json:"total_runs" db:"total_runs"`
	RunsWithWarnings int        `json:"runs_with_warnings" db:"runs_with_warnings"`
	EarliestRun      *time.Time `json:"earliest_run,omitempty" db:"earliest_run"`
	LatestRun        *time.Time `json:"latest_run,omitempty" db:"latest_run"`
}
