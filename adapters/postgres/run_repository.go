package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"trialsim/domain/core"
	"trialsim/domain/trial"
	"trialsim/models"
	"trialsim/ports"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// RunRepository stores simulation runs in the append-only simulation_runs table
type RunRepository struct {
	db *sqlx.DB
}

var _ ports.RunLog = (*RunRepository)(nil)

// NewRunRepository creates a new PostgreSQL run repository
func NewRunRepository(db *sqlx.DB) *RunRepository {
	return &RunRepository{db: db}
}

// runRow mirrors one simulation_runs row
type runRow struct {
	ID             string    `db:"id"`
	UserID         uuid.UUID `db:"user_id"`
	Label          string    `db:"label"`
	Seed           int64     `db:"seed"`
	Fingerprint    string    `db:"fingerprint"`
	EngineVersion  string    `db:"engine_version"`
	Config         []byte    `db:"config"`
	Result         []byte    `db:"result"`
	PowerT1        float64   `db:"power_t1"`
	PowerT2        float64   `db:"power_t2"`
	TypeIErrorRate float64   `db:"type_i_error_rate"`
	HasWarnings    bool      `db:"has_warnings"`
	DurationMs     int64     `db:"duration_ms"`
	CreatedAt      time.Time `db:"created_at"`
}

const runColumns = `id, user_id, label, seed, fingerprint, engine_version, config, result,
	power_t1, power_t2, type_i_error_rate, has_warnings, duration_ms, created_at`

// Save appends a run. Existing rows are never updated.
func (r *RunRepository) Save(ctx context.Context, record *trial.RunRecord, ownerID uuid.UUID, at core.Timestamp) error {
	if record == nil {
		return errors.New("nil run record")
	}

	configJSON, err := json.Marshal(record.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	resultJSON, err := json.Marshal(record.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	query := `
		INSERT INTO simulation_runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = r.db.ExecContext(ctx, query,
		record.ID.String(),
		ownerID,
		record.Label,
		record.Seed,
		record.Fingerprint.String(),
		record.Result.EngineVersion,
		configJSON,
		resultJSON,
		record.Result.Power.Treatment1,
		record.Result.Power.Treatment2,
		record.Result.TypeIErrorRate,
		record.Result.HasWarnings(),
		record.DurationMs,
		at.Time(),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation
			return fmt.Errorf("run %s already stored: %w", record.ID, err)
		}
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// ListRuns returns stored runs newest first
func (r *RunRepository) ListRuns(ctx context.Context, filters ports.RunFilters) ([]*trial.RunRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	if filters.OwnerID != nil {
		args = append(args, *filters.OwnerID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}

	query := `SELECT ` + runColumns + ` FROM simulation_runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filters.Limit > 0 {
		args = append(args, filters.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filters.Offset > 0 {
		args = append(args, filters.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var rows []runRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	records := make([]*trial.RunRecord, 0, len(rows))
	for i := range rows {
		record, err := rows[i].toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// GetRun retrieves one run by id
func (r *RunRepository) GetRun(ctx context.Context, id core.RunID) (*trial.RunRecord, error) {
	var row runRow
	err := r.db.GetContext(ctx, &row, `SELECT `+runColumns+` FROM simulation_runs WHERE id = $1`, id.String())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", core.ErrRunNotFound, id)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return row.toRecord()
}

// GetUserRunStats summarizes a user's stored runs
func (r *RunRepository) GetUserRunStats(ctx context.Context, userID uuid.UUID) (*models.UserRunStats, error) {
	var stats models.UserRunStats
	err := r.db.GetContext(ctx, &stats, `
		SELECT
			COUNT(*) AS total_runs,
			COUNT(*) FILTER (WHERE has_warnings) AS runs_with_warnings,
			MIN(created_at) AS earliest_run,
			MAX(created_at) AS latest_run
		FROM simulation_runs
		WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run stats: %w", err)
	}
	return &stats, nil
}

func (row *runRow) toRecord() (*trial.RunRecord, error) {
	record := &trial.RunRecord{
		ID:          core.RunID(row.ID),
		OwnerID:     row.UserID,
		Label:       row.Label,
		Seed:        row.Seed,
		Fingerprint: core.Hash(row.Fingerprint),
		DurationMs:  row.DurationMs,
		CreatedAt:   core.NewTimestamp(row.CreatedAt),
	}
	if err := json.Unmarshal(row.Config, &record.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config of run %s: %w", row.ID, err)
	}
	if err := json.Unmarshal(row.Result, &record.Result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result of run %s: %w", row.ID, err)
	}
	return record, nil
}
