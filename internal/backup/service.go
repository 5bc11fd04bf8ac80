// Package backup implements the push pipeline: walk the job's paths, diff
// against the previous run, chunk and encrypt what changed, upload new
// chunks, and commit the manifest as the next run. A run either commits
// completely or leaves no trace in the job history.
package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/chunkvault/internal/blob"
	"github.com/dmitrijs2005/chunkvault/internal/chunker"
	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/dmitrijs2005/chunkvault/internal/cryptox"
	"github.com/dmitrijs2005/chunkvault/internal/index"
	"github.com/dmitrijs2005/chunkvault/internal/logging"
	"github.com/dmitrijs2005/chunkvault/internal/models"
	"github.com/dmitrijs2005/chunkvault/internal/registry"
	"github.com/dmitrijs2005/chunkvault/internal/transfer"
	"github.com/dmitrijs2005/chunkvault/internal/walker"
)

// Service runs pushes for any job in the registry.
type Service struct {
	jobs   registry.JobRepository
	runs   registry.RunRepository
	chunks registry.ChunkRepository
	blobs  blob.Store
	logger logging.Logger

	chunkCfg chunker.Config
	poolOpts transfer.Options
}

func NewService(reg *registry.Registry, blobs blob.Store, logger logging.Logger,
	chunkCfg chunker.Config, poolOpts transfer.Options) *Service {
	return &Service{
		jobs:     reg.Jobs,
		runs:     reg.Runs,
		chunks:   reg.Chunks,
		blobs:    blobs,
		logger:   logger,
		chunkCfg: chunkCfg,
		poolOpts: poolOpts,
	}
}

// session is the per-push state shared by the file workers.
type session struct {
	job  *models.Job
	key  []byte
	idx  *index.Store
	pool *transfer.Pool
	prev models.Manifest

	mu       sync.Mutex
	manifest models.Manifest
	logs     []string
	skipped  []models.PathFailure
	uploads  []pendingUpload
	changed  int
	reused   int
	bytes    int64
	chunksUp int
}

type pendingUpload struct {
	hash string
	size int64
	errc <-chan error
}

// Push executes one run of the named job. The secret is verified before any
// filesystem or chunk work starts. On success the committed run is returned
// in the report; on failure no run is recorded and the next push picks up
// already-uploaded chunks through the content-addressed store.
func (s *Service) Push(ctx context.Context, jobName, secret string) (*models.RunReport, error) {
	job, err := s.jobs.GetByName(ctx, jobName)
	if err != nil {
		return nil, err
	}
	if err := cryptox.Verify(secret, job.Salt, job.VerifyHash); err != nil {
		return nil, err
	}

	key := cryptox.DeriveKey(secret)
	defer common.WipeByteArray(key)

	idx, err := index.Open(ctx, s.chunks, job.ID)
	if err != nil {
		return nil, err
	}
	if err := s.reconcile(ctx, job.ID, idx); err != nil {
		return nil, err
	}

	prev := models.Manifest{}
	if latest, err := s.runs.Latest(ctx, job.ID); err == nil {
		prev = latest.Manifest
	} else if !errors.Is(err, common.ErrRunNotFound) {
		return nil, err
	}

	started := time.Now().UTC()
	pool := transfer.NewPool(s.blobs, s.logger, s.poolOpts)
	pool.Start()
	defer pool.Stop()

	sess := &session{
		job:      job,
		key:      key,
		idx:      idx,
		pool:     pool,
		prev:     prev,
		manifest: models.Manifest{},
	}

	var entries []walker.Entry
	err = walker.Walk(ctx, job.Paths, job.Excludes,
		func(e walker.Entry) error {
			entries = append(entries, e)
			return nil
		},
		func(path string, err error) {
			s.logger.Warn(ctx, "skipping unreadable path", "path", path, "error", err)
			sess.skip(path, err)
		})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrRunNotCommitted, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fileWorkers())
	for _, e := range entries {
		g.Go(func() error {
			return s.processFile(gctx, sess, e)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrRunNotCommitted, err)
	}

	// every new chunk must be confirmed remote before the manifest commits
	for _, up := range sess.uploads {
		if err := <-up.errc; err != nil {
			return nil, fmt.Errorf("%w: %w", common.ErrRunNotCommitted, err)
		}
		if err := idx.MarkUploaded(ctx, up.hash); err != nil {
			return nil, fmt.Errorf("%w: %w", common.ErrRunNotCommitted, err)
		}
		sess.bytes += up.size
		sess.chunksUp++
	}

	status := models.RunStatusOK
	if len(sess.skipped) > 0 {
		status = models.RunStatusPartial
	}

	runID, err := s.runs.NextID(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrRunNotCommitted, err)
	}
	run := &models.Run{
		JobID:         job.ID,
		ID:            runID,
		StartedAt:     started,
		FinishedAt:    time.Now().UTC(),
		Status:        status,
		BytesUploaded: sess.bytes,
		Manifest:      sess.manifest,
		Logs:          sess.logs,
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrRunNotCommitted, err)
	}

	s.logger.Info(ctx, "run committed",
		"job", job.Name, "run", runID, "status", string(status),
		"files", len(entries), "chunks_uploaded", sess.chunksUp, "bytes_uploaded", sess.bytes)

	return &models.RunReport{
		JobName:        job.Name,
		RunID:          runID,
		Status:         status,
		StartedAt:      run.StartedAt,
		FinishedAt:     run.FinishedAt,
		FilesScanned:   len(entries),
		FilesChanged:   sess.changed,
		FilesReused:    sess.reused,
		ChunksUploaded: sess.chunksUp,
		BytesUploaded:  sess.bytes,
		Skipped:        sess.skipped,
	}, nil
}

func (s *Service) fileWorkers() int {
	if s.poolOpts.Workers > 0 {
		return s.poolOpts.Workers
	}
	return 4
}

// reconcile resolves chunks left pending by an interrupted push: the ones
// whose object exists remotely are confirmed, the rest are reset so they get
// re-encrypted and re-uploaded.
func (s *Service) reconcile(ctx context.Context, jobID string, idx *index.Store) error {
	for _, rec := range idx.ListState(models.ChunkStatePending) {
		exists, err := s.blobs.Exists(ctx, blob.ChunkKey(jobID, rec.Hash))
		if err != nil {
			return fmt.Errorf("failed to reconcile chunk %s: %w", rec.Hash, err)
		}
		if exists {
			if err := idx.MarkUploaded(ctx, rec.Hash); err != nil {
				return err
			}
			continue
		}
		if err := idx.MarkMissingRemotely(ctx, rec.Hash); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) processFile(ctx context.Context, sess *session, e walker.Entry) error {
	if fm, ok := s.tryReuse(sess, e); ok {
		sess.store(fm, false)
		return nil
	}

	fm, err := s.chunkFile(ctx, sess, e)
	if err != nil {
		// a file that cannot be read is skipped and reported; anything
		// else (registry, crypto, cancellation) fails the whole run
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			s.logger.Warn(ctx, "skipping file", "path", e.Path, "error", err)
			sess.skip(e.Path, fmt.Errorf("%w: %s: %w", common.ErrFilesystemAccess, e.Path, err))
			return nil
		}
		return err
	}
	sess.store(fm, true)
	return nil
}

// tryReuse decides whether the previous run's manifest entry for the file is
// still valid. Metadata equality is trusted; when only metadata changed, the
// whole-file hash decides. Reuse also requires every referenced chunk to
// still be present (or on its way) remotely.
func (s *Service) tryReuse(sess *session, e walker.Entry) (models.FileManifest, bool) {
	prev, ok := sess.prev[e.Path]
	if !ok {
		return models.FileManifest{}, false
	}

	same := prev.Size == e.Size && prev.ModTime.Equal(e.ModTime)
	if !same {
		fileHash, err := hashFile(e.Path)
		if err != nil || fileHash != prev.FileHash {
			return models.FileManifest{}, false
		}
	}

	for _, ref := range prev.Chunks {
		rec, found := sess.idx.Lookup(ref.Hash)
		if !found || rec.State == models.ChunkStateLocal {
			return models.FileManifest{}, false
		}
	}

	fm := prev
	fm.Size = e.Size
	fm.ModTime = e.ModTime
	return fm, true
}

func (s *Service) chunkFile(ctx context.Context, sess *session, e walker.Entry) (models.FileManifest, error) {
	f, err := os.Open(e.Path)
	if err != nil {
		return models.FileManifest{}, err
	}
	defer f.Close()

	split, err := chunker.New(f, s.chunkCfg)
	if err != nil {
		return models.FileManifest{}, err
	}

	fileHash := sha256.New()
	refs := []models.ChunkRef{}
	for i := 0; ; i++ {
		chunk, err := split.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return models.FileManifest{}, err
		}
		fileHash.Write(chunk)

		ref, err := s.ensureChunk(ctx, sess, chunk, i)
		if err != nil {
			return models.FileManifest{}, err
		}
		refs = append(refs, ref)
	}

	return models.FileManifest{
		Path:     e.Path,
		Size:     e.Size,
		ModTime:  e.ModTime,
		FileHash: hex.EncodeToString(fileHash.Sum(nil)),
		Chunks:   refs,
	}, nil
}

// ensureChunk makes sure the chunk's ciphertext exists (or is being
// produced) exactly once and returns the reference for the manifest. The
// goroutine that wins the index claim encrypts and enqueues the upload;
// everyone else waits for its commit and reuses the stored nonce and length.
func (s *Service) ensureChunk(ctx context.Context, sess *session, chunk []byte, position int) (models.ChunkRef, error) {
	hash := cryptox.ContentHash(chunk)

	rec, claimed, err := sess.idx.Register(ctx, hash)
	if err != nil {
		return models.ChunkRef{}, err
	}

	if claimed {
		ciphertext, nonce, err := cryptox.Seal(sess.key, chunk)
		if err != nil {
			return models.ChunkRef{}, err
		}
		rec, err = sess.idx.Commit(ctx, hash, nonce, int64(len(ciphertext)))
		if err != nil {
			return models.ChunkRef{}, err
		}

		// object layout: ciphertext followed by the 24-byte nonce, so a
		// restore can decrypt from the object alone
		payload := make([]byte, 0, len(ciphertext)+len(nonce))
		payload = append(payload, ciphertext...)
		payload = append(payload, nonce...)

		errc := sess.pool.Upload(ctx, blob.ChunkKey(sess.job.ID, hash), payload)
		sess.addUpload(pendingUpload{hash: hash, size: int64(len(payload)), errc: errc})
	} else if rec.State == models.ChunkStateLocal {
		rec, err = sess.idx.WaitReady(ctx, hash)
		if err != nil {
			return models.ChunkRef{}, err
		}
	}

	return models.ChunkRef{
		Hash:          hash,
		Index:         position,
		Nonce:         rec.Nonce,
		CiphertextLen: rec.CiphertextLen,
	}, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (sess *session) store(fm models.FileManifest, changed bool) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.manifest[fm.Path] = fm
	if changed {
		sess.changed++
		sess.logs = append(sess.logs, fmt.Sprintf("stored %s (%d chunks)", fm.Path, len(fm.Chunks)))
	} else {
		sess.reused++
		sess.logs = append(sess.logs, fmt.Sprintf("unchanged %s", fm.Path))
	}
}

func (sess *session) skip(path string, err error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.skipped = append(sess.skipped, models.PathFailure{Path: path, Err: err})
	sess.logs = append(sess.logs, fmt.Sprintf("skipped %s: %v", path, err))
}

func (sess *session) addUpload(up pendingUpload) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.uploads = append(sess.uploads, up)
}
