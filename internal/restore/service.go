// Package restore implements the pull pipeline: fetch every chunk a
// committed run references, decrypt and authenticate it, verify its content
// address, and reassemble files strictly in chunk position order.
package restore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/chunkvault/internal/blob"
	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/dmitrijs2005/chunkvault/internal/cryptox"
	"github.com/dmitrijs2005/chunkvault/internal/logging"
	"github.com/dmitrijs2005/chunkvault/internal/models"
	"github.com/dmitrijs2005/chunkvault/internal/registry"
	"github.com/dmitrijs2005/chunkvault/internal/transfer"
)

// Service restores committed runs into a destination directory.
type Service struct {
	jobs   registry.JobRepository
	runs   registry.RunRepository
	blobs  blob.Store
	logger logging.Logger

	poolOpts transfer.Options
}

func NewService(reg *registry.Registry, blobs blob.Store, logger logging.Logger,
	poolOpts transfer.Options) *Service {
	return &Service{
		jobs:     reg.Jobs,
		runs:     reg.Runs,
		blobs:    blobs,
		logger:   logger,
		poolOpts: poolOpts,
	}
}

// Pull restores the given run of the named job under dest. Each source path
// is recreated below dest with its original directory structure. A failing
// chunk aborts only the file that references it; sibling files continue, and
// every failed path is enumerated in the report.
func (s *Service) Pull(ctx context.Context, jobName string, runID int, secret, dest string) (*models.RestoreReport, error) {
	job, err := s.jobs.GetByName(ctx, jobName)
	if err != nil {
		return nil, err
	}
	if err := cryptox.Verify(secret, job.Salt, job.VerifyHash); err != nil {
		return nil, err
	}

	key := cryptox.DeriveKey(secret)
	defer common.WipeByteArray(key)

	run, err := s.runs.Get(ctx, job.ID, runID)
	if err != nil {
		return nil, err
	}

	pool := transfer.NewPool(s.blobs, s.logger, s.poolOpts)
	pool.Start()
	defer pool.Stop()

	var (
		mu       sync.Mutex
		restored int
		failed   []models.PathFailure
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fileWorkers())
	for _, fm := range run.Manifest {
		g.Go(func() error {
			err := s.restoreFile(gctx, pool, key, job.ID, fm, dest)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				s.logger.Warn(gctx, "failed to restore file", "path", fm.Path, "error", err)
				failed = append(failed, models.PathFailure{Path: fm.Path, Err: err})
				return nil
			}
			restored++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	status := models.RunStatusOK
	if len(failed) > 0 {
		status = models.RunStatusPartial
	}

	s.logger.Info(ctx, "restore finished",
		"job", job.Name, "run", runID, "dest", dest,
		"restored", restored, "failed", len(failed))

	return &models.RestoreReport{
		JobName:       job.Name,
		RunID:         runID,
		Destination:   dest,
		Status:        status,
		FilesRestored: restored,
		Failed:        failed,
	}, nil
}

func (s *Service) fileWorkers() int {
	if s.poolOpts.Workers > 0 {
		return s.poolOpts.Workers
	}
	return 4
}

// restoreFile fetches the file's chunks in parallel but writes them strictly
// by ascending position index, whatever order the downloads complete in.
func (s *Service) restoreFile(ctx context.Context, pool *transfer.Pool, key []byte,
	jobID string, fm models.FileManifest, dest string) error {

	refs := make([]models.ChunkRef, len(fm.Chunks))
	copy(refs, fm.Chunks)
	sort.Slice(refs, func(i, j int) bool { return refs[i].Index < refs[j].Index })

	plaintexts := make([][]byte, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		g.Go(func() error {
			pt, err := s.fetchChunk(gctx, pool, key, jobID, ref)
			if err != nil {
				return fmt.Errorf("chunk %d (%s): %w", ref.Index, ref.Hash, err)
			}
			plaintexts[i] = pt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	target := targetPath(dest, fm.Path)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	for _, pt := range plaintexts {
		if _, err := f.Write(pt); err != nil {
			f.Close()
			os.Remove(target)
			return fmt.Errorf("failed to write destination file: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(target)
		return fmt.Errorf("failed to close destination file: %w", err)
	}
	return nil
}

// fetchChunk downloads, decrypts and verifies one chunk. The object carries
// its nonce in the trailing bytes; the decrypted plaintext must hash back to
// the reference's content address before it is used.
func (s *Service) fetchChunk(ctx context.Context, pool *transfer.Pool, key []byte,
	jobID string, ref models.ChunkRef) ([]byte, error) {

	payload, err := pool.Download(ctx, blob.ChunkKey(jobID, ref.Hash))
	if err != nil {
		return nil, err
	}
	if len(payload) < cryptox.NonceSize {
		return nil, fmt.Errorf("%w: object shorter than a nonce", common.ErrChunkAuthentication)
	}

	split := len(payload) - cryptox.NonceSize
	ciphertext, nonce := payload[:split], payload[split:]
	if ref.CiphertextLen > 0 && int64(split) != ref.CiphertextLen {
		return nil, fmt.Errorf("%w: ciphertext length %d, expected %d",
			common.ErrChunkAuthentication, split, ref.CiphertextLen)
	}

	plaintext, err := cryptox.Open(key, nonce, ciphertext)
	if err != nil {
		return nil, err
	}
	if cryptox.ContentHash(plaintext) != ref.Hash {
		return nil, fmt.Errorf("%w: content hash mismatch", common.ErrChunkAuthentication)
	}
	return plaintext, nil
}

func targetPath(dest, original string) string {
	rel := strings.TrimPrefix(original, string(filepath.Separator))
	if vol := filepath.VolumeName(rel); vol != "" {
		rel = rel[len(vol):]
		rel = strings.TrimPrefix(rel, string(filepath.Separator))
	}
	return filepath.Join(dest, rel)
}
