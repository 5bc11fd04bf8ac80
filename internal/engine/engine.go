// Package engine is the produced interface of chunkvault: every operation
// the CLI (or any other frontend) can perform on jobs, runs and restores.
// It returns structured results and sentinel errors, never raw panics.
package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/chunkvault/internal/backup"
	"github.com/dmitrijs2005/chunkvault/internal/blob"
	"github.com/dmitrijs2005/chunkvault/internal/chunker"
	"github.com/dmitrijs2005/chunkvault/internal/config"
	"github.com/dmitrijs2005/chunkvault/internal/cryptox"
	"github.com/dmitrijs2005/chunkvault/internal/dbx"
	"github.com/dmitrijs2005/chunkvault/internal/logging"
	"github.com/dmitrijs2005/chunkvault/internal/models"
	"github.com/dmitrijs2005/chunkvault/internal/registry"
	"github.com/dmitrijs2005/chunkvault/internal/restore"
	"github.com/dmitrijs2005/chunkvault/internal/transfer"
)

type Engine struct {
	reg    *registry.Registry
	logger logging.Logger

	pusher *backup.Service
	puller *restore.Service
}

func New(reg *registry.Registry, blobs blob.Store, logger logging.Logger, cfg *config.Config) *Engine {
	chunkCfg := chunker.Config{
		MinSize: cfg.ChunkMinSize,
		AvgSize: cfg.ChunkAvgSize,
		MaxSize: cfg.ChunkMaxSize,
	}
	poolOpts := transfer.Options{
		Workers:     cfg.TransferWorkers,
		QueueSize:   cfg.TransferQueueSize,
		MaxAttempts: cfg.TransferMaxAttempts,
	}
	return &Engine{
		reg:    reg,
		logger: logger,
		pusher: backup.NewService(reg, blobs, logger, chunkCfg, poolOpts),
		puller: restore.NewService(reg, blobs, logger, poolOpts),
	}
}

// CreateJob registers a new named job. The secret is turned into the
// job's salt and verification hash here, once; the secret itself is never
// stored.
func (e *Engine) CreateJob(ctx context.Context, name string, paths, excludes []string, secret string) (*models.Job, error) {
	if name == "" {
		return nil, errors.New("job name must not be empty")
	}
	if secret == "" {
		return nil, errors.New("secret must not be empty")
	}

	salt, hash := cryptox.NewVerifier(secret)
	job := &models.Job{
		ID:         uuid.NewString(),
		Name:       name,
		CreatedAt:  time.Now().UTC(),
		Paths:      dedupe(paths),
		Excludes:   dedupe(excludes),
		Salt:       salt,
		VerifyHash: hash,
	}
	if err := e.reg.Jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	e.logger.Info(ctx, "job created", "job", name, "paths", len(job.Paths))
	return job, nil
}

// RemoveJob deletes the job with its runs and chunk records. Remote objects
// are not touched; pruning unreferenced blobs is a separate concern.
func (e *Engine) RemoveJob(ctx context.Context, name string) error {
	if err := e.reg.Jobs.Delete(ctx, name); err != nil {
		return err
	}
	e.logger.Info(ctx, "job removed", "job", name)
	return nil
}

func (e *Engine) AddPaths(ctx context.Context, name string, paths []string) error {
	return e.mutateJob(ctx, name, func(job *models.Job) {
		job.Paths = dedupe(append(job.Paths, paths...))
	})
}

func (e *Engine) RemovePaths(ctx context.Context, name string, paths []string) error {
	return e.mutateJob(ctx, name, func(job *models.Job) {
		job.Paths = slices.DeleteFunc(job.Paths, func(p string) bool {
			return slices.Contains(paths, p)
		})
	})
}

func (e *Engine) AddExcludes(ctx context.Context, name string, patterns []string) error {
	return e.mutateJob(ctx, name, func(job *models.Job) {
		job.Excludes = dedupe(append(job.Excludes, patterns...))
	})
}

// mutateJob applies a read-modify-write of the job's path lists inside one
// transaction so concurrent edits cannot interleave.
func (e *Engine) mutateJob(ctx context.Context, name string, fn func(*models.Job)) error {
	return dbx.WithTx(ctx, e.reg.DB, nil, func(ctx context.Context, tx dbx.DBTX) error {
		jobs := registry.NewSQLiteJobRepository(tx)
		job, err := jobs.GetByName(ctx, name)
		if err != nil {
			return err
		}
		fn(job)
		return jobs.UpdatePaths(ctx, name, job.Paths, job.Excludes)
	})
}

// Push runs one backup of the named job.
func (e *Engine) Push(ctx context.Context, name, secret string) (*models.RunReport, error) {
	return e.pusher.Push(ctx, name, secret)
}

// Pull restores a run of the named job under dest. A runID of zero selects
// the latest committed run.
func (e *Engine) Pull(ctx context.Context, name string, runID int, secret, dest string) (*models.RestoreReport, error) {
	if runID <= 0 {
		job, err := e.reg.Jobs.GetByName(ctx, name)
		if err != nil {
			return nil, err
		}
		latest, err := e.reg.Runs.Latest(ctx, job.ID)
		if err != nil {
			return nil, fmt.Errorf("job has no committed runs: %w", err)
		}
		runID = latest.ID
	}
	return e.puller.Pull(ctx, name, runID, secret, dest)
}

func (e *Engine) ListJobs(ctx context.Context) ([]*models.Job, error) {
	return e.reg.Jobs.List(ctx)
}

func (e *Engine) ListRuns(ctx context.Context, name string) ([]*models.Run, error) {
	job, err := e.reg.Jobs.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return e.reg.Runs.List(ctx, job.ID)
}

// JobStatus summarizes a job: run count, last outcome and total bytes
// shipped across all runs.
func (e *Engine) JobStatus(ctx context.Context, name string) (*models.JobStatus, error) {
	job, err := e.reg.Jobs.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	runs, err := e.reg.Runs.List(ctx, job.ID)
	if err != nil {
		return nil, err
	}

	status := &models.JobStatus{Job: job, LastStatus: models.RunStatusNeverRun}
	status.TotalRuns = len(runs)
	for _, run := range runs {
		status.BytesUploaded += run.BytesUploaded
	}
	if len(runs) > 0 {
		last := runs[len(runs)-1]
		status.LastRunAt = last.FinishedAt
		status.LastStatus = last.Status
	}
	return status, nil
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
