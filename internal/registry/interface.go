package registry

import (
	"context"

	"github.com/dmitrijs2005/chunkvault/internal/models"
)

// JobRepository stores job metadata. Lookups by name return
// common.ErrJobNotFound when absent.
type JobRepository interface {
	Create(ctx context.Context, job *models.Job) error
	GetByName(ctx context.Context, name string) (*models.Job, error)
	List(ctx context.Context) ([]*models.Job, error)
	Delete(ctx context.Context, name string) error
	UpdatePaths(ctx context.Context, name string, paths, excludes []string) error
}

// RunRepository stores committed runs. Runs are append-only: Create is the
// commit point and there is deliberately no update operation.
type RunRepository interface {
	Create(ctx context.Context, run *models.Run) error
	Get(ctx context.Context, jobID string, runID int) (*models.Run, error)
	List(ctx context.Context, jobID string) ([]*models.Run, error)
	Latest(ctx context.Context, jobID string) (*models.Run, error)
	NextID(ctx context.Context, jobID string) (int, error)
}

// ChunkRepository stores per-job chunk records for the content-addressed
// store. Register is idempotent: inserting an already-known hash is a no-op
// reporting created=false.
type ChunkRepository interface {
	Register(ctx context.Context, jobID string, rec *models.ChunkRecord) (created bool, err error)
	Get(ctx context.Context, jobID, hash string) (*models.ChunkRecord, error)
	ListByState(ctx context.Context, jobID string, state models.ChunkState) ([]*models.ChunkRecord, error)
	ListByJob(ctx context.Context, jobID string) ([]*models.ChunkRecord, error)
	Update(ctx context.Context, jobID string, rec *models.ChunkRecord) error
}
