// Package index is the in-session front of the content-addressed chunk
// store. It caches the job's chunk records in memory, guarantees that each
// distinct plaintext hash is encrypted by exactly one goroutine, and lets
// other goroutines wait until that encryption is committed.
package index

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/dmitrijs2005/chunkvault/internal/models"
	"github.com/dmitrijs2005/chunkvault/internal/registry"
)

type entry struct {
	rec     models.ChunkRecord
	claimed bool
	// ready is closed once the record carries a nonce and ciphertext length,
	// i.e. after Commit or when loaded from the registry in a non-local state.
	ready chan struct{}
}

// Store coordinates chunk registration for one job session. All methods are
// safe for concurrent use.
type Store struct {
	repo  registry.ChunkRepository
	jobID string

	mu      sync.Mutex
	entries map[string]*entry
}

// Open loads every chunk record of the job into memory.
func Open(ctx context.Context, repo registry.ChunkRepository, jobID string) (*Store, error) {
	recs, err := repo.ListByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunk records: %w", err)
	}

	entries := make(map[string]*entry, len(recs))
	for _, rec := range recs {
		e := &entry{rec: *rec, ready: make(chan struct{})}
		if rec.State != models.ChunkStateLocal {
			close(e.ready)
		}
		entries[rec.Hash] = e
	}
	return &Store{repo: repo, jobID: jobID, entries: entries}, nil
}

// Lookup returns a copy of the record for hash, if one exists.
func (s *Store) Lookup(hash string) (models.ChunkRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[hash]
	if !ok {
		return models.ChunkRecord{}, false
	}
	return e.rec, true
}

// Register claims the hash for encryption. Exactly one caller per hash gets
// claimed=true and must follow up with Commit; everyone else receives a copy
// of the current record and, if it is still being produced, should WaitReady.
// A record left in the local state by an earlier interrupted session is
// claimable again.
func (s *Store) Register(ctx context.Context, hash string) (models.ChunkRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[hash]; ok {
		if e.rec.State == models.ChunkStateLocal && !e.claimed {
			e.claimed = true
			e.ready = make(chan struct{})
			return e.rec, true, nil
		}
		return e.rec, false, nil
	}

	rec := models.ChunkRecord{Hash: hash, State: models.ChunkStateLocal}
	created, err := s.repo.Register(ctx, s.jobID, &rec)
	if err != nil {
		return models.ChunkRecord{}, false, fmt.Errorf("failed to register chunk %s: %w", hash, err)
	}
	if !created {
		// Another session raced us on the same registry. Adopt its record.
		existing, err := s.repo.Get(ctx, s.jobID, hash)
		if err != nil {
			return models.ChunkRecord{}, false, err
		}
		e := &entry{rec: *existing, ready: make(chan struct{})}
		if existing.State != models.ChunkStateLocal {
			close(e.ready)
		}
		s.entries[hash] = e
		return e.rec, false, nil
	}

	e := &entry{rec: rec, claimed: true, ready: make(chan struct{})}
	s.entries[hash] = e
	return e.rec, true, nil
}

// Commit records the encryption result for a claimed hash, moves the record
// to pending and releases everyone blocked in WaitReady.
func (s *Store) Commit(ctx context.Context, hash string, nonce []byte, ciphertextLen int64) (models.ChunkRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[hash]
	if !ok {
		return models.ChunkRecord{}, common.ErrChunkNotFound
	}
	e.rec.Nonce = nonce
	e.rec.CiphertextLen = ciphertextLen
	e.rec.State = models.ChunkStatePending
	e.claimed = false

	if err := s.repo.Update(ctx, s.jobID, &e.rec); err != nil {
		return models.ChunkRecord{}, fmt.Errorf("failed to commit chunk %s: %w", hash, err)
	}
	close(e.ready)
	return e.rec, nil
}

// WaitReady blocks until the record for hash carries its encryption result,
// then returns a copy of it.
func (s *Store) WaitReady(ctx context.Context, hash string) (models.ChunkRecord, error) {
	s.mu.Lock()
	e, ok := s.entries[hash]
	if !ok {
		s.mu.Unlock()
		return models.ChunkRecord{}, common.ErrChunkNotFound
	}
	ready := e.ready
	s.mu.Unlock()

	select {
	case <-ready:
	case <-ctx.Done():
		return models.ChunkRecord{}, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return e.rec, nil
}

// MarkUploaded confirms the remote copy of the chunk.
func (s *Store) MarkUploaded(ctx context.Context, hash string) error {
	return s.setState(ctx, hash, models.ChunkStateUploaded)
}

// MarkMissingRemotely resets a chunk whose upload was started but never
// confirmed and whose object is absent remotely. The record becomes
// claimable again.
func (s *Store) MarkMissingRemotely(ctx context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[hash]
	if !ok {
		return common.ErrChunkNotFound
	}
	e.rec.State = models.ChunkStateLocal
	e.rec.Nonce = nil
	e.rec.CiphertextLen = 0
	e.claimed = false
	e.ready = make(chan struct{})

	if err := s.repo.Update(ctx, s.jobID, &e.rec); err != nil {
		return fmt.Errorf("failed to reset chunk %s: %w", hash, err)
	}
	return nil
}

// ListState returns copies of all records currently in the given state.
func (s *Store) ListState(state models.ChunkState) []models.ChunkRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.ChunkRecord
	for _, e := range s.entries {
		if e.rec.State == state {
			out = append(out, e.rec)
		}
	}
	return out
}

func (s *Store) setState(ctx context.Context, hash string, state models.ChunkState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[hash]
	if !ok {
		return common.ErrChunkNotFound
	}
	e.rec.State = state
	if err := s.repo.Update(ctx, s.jobID, &e.rec); err != nil {
		return fmt.Errorf("failed to update chunk %s: %w", hash, err)
	}
	return nil
}
