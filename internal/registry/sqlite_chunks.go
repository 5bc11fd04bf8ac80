package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/dmitrijs2005/chunkvault/internal/dbx"
	"github.com/dmitrijs2005/chunkvault/internal/models"
)

// SQLiteChunkRepository implements ChunkRepository using a DBTX (either
// *sql.DB or *sql.Tx).
type SQLiteChunkRepository struct {
	db dbx.DBTX
}

// NewSQLiteChunkRepository returns a new SQLiteChunkRepository bound to the
// given DBTX.
func NewSQLiteChunkRepository(db dbx.DBTX) *SQLiteChunkRepository {
	return &SQLiteChunkRepository{db: db}
}

// Register inserts the record unless the hash is already known for the job.
// ON CONFLICT DO NOTHING makes it idempotent; created reports whether this
// call was the first writer.
func (r *SQLiteChunkRepository) Register(ctx context.Context, jobID string, rec *models.ChunkRecord) (bool, error) {
	query := `INSERT INTO chunks (job_id, hash, nonce, ciphertext_len, state)
	          VALUES (?, ?, ?, ?, ?)
	          ON CONFLICT (job_id, hash) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, jobID, rec.Hash, rec.Nonce, rec.CiphertextLen, string(rec.State))
	if err != nil {
		return false, fmt.Errorf("failed to register chunk: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return ra == 1, nil
}

func (r *SQLiteChunkRepository) Get(ctx context.Context, jobID, hash string) (*models.ChunkRecord, error) {
	query := `SELECT hash, nonce, ciphertext_len, state FROM chunks WHERE job_id = ? AND hash = ?`
	row := r.db.QueryRowContext(ctx, query, jobID, hash)

	rec := &models.ChunkRecord{}
	var state string
	if err := row.Scan(&rec.Hash, &rec.Nonce, &rec.CiphertextLen, &state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrChunkNotFound
		}
		return nil, fmt.Errorf("failed to scan chunk: %w", err)
	}
	rec.State = models.ChunkState(state)
	return rec, nil
}

func (r *SQLiteChunkRepository) list(ctx context.Context, query string, args ...any) ([]*models.ChunkRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select chunks: %w", err)
	}
	defer rows.Close()

	var result []*models.ChunkRecord
	for rows.Next() {
		rec := &models.ChunkRecord{}
		var state string
		if err := rows.Scan(&rec.Hash, &rec.Nonce, &rec.CiphertextLen, &state); err != nil {
			return nil, err
		}
		rec.State = models.ChunkState(state)
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteChunkRepository) ListByState(ctx context.Context, jobID string, state models.ChunkState) ([]*models.ChunkRecord, error) {
	return r.list(ctx, `SELECT hash, nonce, ciphertext_len, state FROM chunks WHERE job_id = ? AND state = ?`, jobID, string(state))
}

func (r *SQLiteChunkRepository) ListByJob(ctx context.Context, jobID string) ([]*models.ChunkRecord, error) {
	return r.list(ctx, `SELECT hash, nonce, ciphertext_len, state FROM chunks WHERE job_id = ?`, jobID)
}

func (r *SQLiteChunkRepository) Update(ctx context.Context, jobID string, rec *models.ChunkRecord) error {
	query := `UPDATE chunks SET nonce = ?, ciphertext_len = ?, state = ? WHERE job_id = ? AND hash = ?`
	res, err := r.db.ExecContext(ctx, query, rec.Nonce, rec.CiphertextLen, string(rec.State), jobID, rec.Hash)
	if err != nil {
		return fmt.Errorf("failed to update chunk: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrChunkNotFound
	}
	return nil
}
