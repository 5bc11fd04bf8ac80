package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/dmitrijs2005/chunkvault/internal/dbx"
	"github.com/dmitrijs2005/chunkvault/internal/models"
)

// SQLiteRunRepository implements RunRepository using a DBTX (either *sql.DB
// or *sql.Tx).
type SQLiteRunRepository struct {
	db dbx.DBTX
}

// NewSQLiteRunRepository returns a new SQLiteRunRepository bound to the
// given DBTX.
func NewSQLiteRunRepository(db dbx.DBTX) *SQLiteRunRepository {
	return &SQLiteRunRepository{db: db}
}

// Create inserts a committed run. This is the commit point of a push:
// before this insert the run does not exist as far as the job history is
// concerned.
func (r *SQLiteRunRepository) Create(ctx context.Context, run *models.Run) error {
	manifest, err := json.Marshal(run.Manifest)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	logs, err := json.Marshal(run.Logs)
	if err != nil {
		return fmt.Errorf("failed to marshal logs: %w", err)
	}

	query := `INSERT INTO runs (job_id, run_id, started_at, finished_at, status, bytes_uploaded, manifest, logs)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		run.JobID, run.ID, run.StartedAt.UnixNano(), run.FinishedAt.UnixNano(),
		string(run.Status), run.BytesUploaded, string(manifest), string(logs))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

func scanRun(scan func(dest ...any) error) (*models.Run, error) {
	var (
		run                    models.Run
		startedAt, finishedAt  int64
		status, manifest, logs string
	)
	if err := scan(&run.JobID, &run.ID, &startedAt, &finishedAt, &status, &run.BytesUploaded, &manifest, &logs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	run.StartedAt = time.Unix(0, startedAt).UTC()
	run.FinishedAt = time.Unix(0, finishedAt).UTC()
	run.Status = models.RunStatus(status)
	if err := json.Unmarshal([]byte(manifest), &run.Manifest); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}
	if err := json.Unmarshal([]byte(logs), &run.Logs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal logs: %w", err)
	}
	return &run, nil
}

const runColumns = `job_id, run_id, started_at, finished_at, status, bytes_uploaded, manifest, logs`

func (r *SQLiteRunRepository) Get(ctx context.Context, jobID string, runID int) (*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE job_id = ? AND run_id = ?`
	row := r.db.QueryRowContext(ctx, query, jobID, runID)
	return scanRun(row.Scan)
}

func (r *SQLiteRunRepository) List(ctx context.Context, jobID string) ([]*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE job_id = ? ORDER BY run_id`
	rows, err := r.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to select runs: %w", err)
	}
	defer rows.Close()

	var result []*models.Run
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRunRepository) Latest(ctx context.Context, jobID string) (*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE job_id = ? ORDER BY run_id DESC LIMIT 1`
	row := r.db.QueryRowContext(ctx, query, jobID)
	return scanRun(row.Scan)
}

// NextID returns the identifier the next committed run of the job will get.
func (r *SQLiteRunRepository) NextID(ctx context.Context, jobID string) (int, error) {
	var maxID sql.NullInt64
	row := r.db.QueryRowContext(ctx, `SELECT MAX(run_id) FROM runs WHERE job_id = ?`, jobID)
	if err := row.Scan(&maxID); err != nil {
		return 0, fmt.Errorf("failed to get max run id: %w", err)
	}
	return int(maxID.Int64) + 1, nil
}
