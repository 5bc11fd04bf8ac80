package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/dmitrijs2005/chunkvault/internal/dbx"
	"github.com/dmitrijs2005/chunkvault/internal/models"
)

// SQLiteJobRepository implements JobRepository using a DBTX (either *sql.DB
// or *sql.Tx).
type SQLiteJobRepository struct {
	db dbx.DBTX
}

// NewSQLiteJobRepository returns a new SQLiteJobRepository bound to the
// given DBTX.
func NewSQLiteJobRepository(db dbx.DBTX) *SQLiteJobRepository {
	return &SQLiteJobRepository{db: db}
}

func marshalStrings(s []string) (string, error) {
	if s == nil {
		s = []string{}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalStrings(s string) ([]string, error) {
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *SQLiteJobRepository) Create(ctx context.Context, job *models.Job) error {
	paths, err := marshalStrings(job.Paths)
	if err != nil {
		return fmt.Errorf("failed to marshal paths: %w", err)
	}
	excludes, err := marshalStrings(job.Excludes)
	if err != nil {
		return fmt.Errorf("failed to marshal excludes: %w", err)
	}

	query := `INSERT INTO jobs (id, name, created_at, paths, excludes, salt, verify_hash)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		job.ID, job.Name, job.CreatedAt.UnixNano(), paths, excludes, job.Salt, job.VerifyHash)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return common.ErrJobAlreadyExists
		}
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (r *SQLiteJobRepository) scanJob(row *sql.Row) (*models.Job, error) {
	var (
		job              models.Job
		createdAt        int64
		paths, excludes  string
	)
	if err := row.Scan(&job.ID, &job.Name, &createdAt, &paths, &excludes, &job.Salt, &job.VerifyHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	job.CreatedAt = time.Unix(0, createdAt).UTC()

	var err error
	if job.Paths, err = unmarshalStrings(paths); err != nil {
		return nil, fmt.Errorf("failed to unmarshal paths: %w", err)
	}
	if job.Excludes, err = unmarshalStrings(excludes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal excludes: %w", err)
	}
	return &job, nil
}

func (r *SQLiteJobRepository) GetByName(ctx context.Context, name string) (*models.Job, error) {
	query := `SELECT id, name, created_at, paths, excludes, salt, verify_hash FROM jobs WHERE name = ?`
	return r.scanJob(r.db.QueryRowContext(ctx, query, name))
}

func (r *SQLiteJobRepository) List(ctx context.Context) ([]*models.Job, error) {
	query := `SELECT id, name, created_at, paths, excludes, salt, verify_hash FROM jobs ORDER BY name`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select jobs: %w", err)
	}
	defer rows.Close()

	var result []*models.Job
	for rows.Next() {
		var (
			job             models.Job
			createdAt       int64
			paths, excludes string
		)
		if err := rows.Scan(&job.ID, &job.Name, &createdAt, &paths, &excludes, &job.Salt, &job.VerifyHash); err != nil {
			return nil, err
		}
		job.CreatedAt = time.Unix(0, createdAt).UTC()
		if job.Paths, err = unmarshalStrings(paths); err != nil {
			return nil, err
		}
		if job.Excludes, err = unmarshalStrings(excludes); err != nil {
			return nil, err
		}
		result = append(result, &job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteJobRepository) Delete(ctx context.Context, name string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrJobNotFound
	}
	return nil
}

func (r *SQLiteJobRepository) UpdatePaths(ctx context.Context, name string, paths, excludes []string) error {
	p, err := marshalStrings(paths)
	if err != nil {
		return fmt.Errorf("failed to marshal paths: %w", err)
	}
	e, err := marshalStrings(excludes)
	if err != nil {
		return fmt.Errorf("failed to marshal excludes: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `UPDATE jobs SET paths = ?, excludes = ? WHERE name = ?`, p, e, name)
	if err != nil {
		return fmt.Errorf("failed to update job paths: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrJobNotFound
	}
	return nil
}
