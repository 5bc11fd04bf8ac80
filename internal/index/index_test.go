package index

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/chunkvault/internal/models"
	"github.com/dmitrijs2005/chunkvault/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) (*Store, *registry.Registry, string) {
	t.Helper()
	ctx := context.Background()

	reg, err := registry.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	job := &models.Job{
		ID: "job-1", Name: "docs", CreatedAt: time.Now().UTC(),
		Salt: []byte("salt"), VerifyHash: []byte("hash"),
	}
	require.NoError(t, reg.Jobs.Create(ctx, job))

	store, err := Open(ctx, reg.Chunks, job.ID)
	require.NoError(t, err)
	return store, reg, job.ID
}

func TestRegisterClaimsOnce(t *testing.T) {
	store, _, _ := setupStore(t)
	ctx := context.Background()

	_, claimed, err := store.Register(ctx, "h0")
	require.NoError(t, err)
	assert.True(t, claimed)

	_, claimed, err = store.Register(ctx, "h0")
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestCommitReleasesWaiters(t *testing.T) {
	store, _, _ := setupStore(t)
	ctx := context.Background()

	_, claimed, err := store.Register(ctx, "h0")
	require.NoError(t, err)
	require.True(t, claimed)

	got := make(chan models.ChunkRecord, 1)
	go func() {
		rec, err := store.WaitReady(ctx, "h0")
		if err == nil {
			got <- rec
		}
	}()

	_, err = store.Commit(ctx, "h0", []byte("nonce-0"), 42)
	require.NoError(t, err)

	select {
	case rec := <-got:
		assert.Equal(t, models.ChunkStatePending, rec.State)
		assert.Equal(t, []byte("nonce-0"), rec.Nonce)
		assert.Equal(t, int64(42), rec.CiphertextLen)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not released by Commit")
	}
}

func TestConcurrentRegisterSingleWinner(t *testing.T) {
	store, _, _ := setupStore(t)
	ctx := context.Background()

	const goroutines = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, claimed, err := store.Register(ctx, "h0")
			if err != nil {
				t.Error(err)
				return
			}
			if claimed {
				wins <- struct{}{}
				_, err := store.Commit(ctx, "h0", []byte("n"), 1)
				if err != nil {
					t.Error(err)
				}
			} else if _, err := store.WaitReady(ctx, "h0"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestUploadedStateAndLookup(t *testing.T) {
	store, _, _ := setupStore(t)
	ctx := context.Background()

	_, _, err := store.Register(ctx, "h0")
	require.NoError(t, err)
	_, err = store.Commit(ctx, "h0", []byte("n"), 7)
	require.NoError(t, err)
	require.NoError(t, store.MarkUploaded(ctx, "h0"))

	rec, ok := store.Lookup("h0")
	require.True(t, ok)
	assert.Equal(t, models.ChunkStateUploaded, rec.State)

	_, ok = store.Lookup("missing")
	assert.False(t, ok)
}

func TestReopenedSessionSeesPersistedRecords(t *testing.T) {
	store, reg, jobID := setupStore(t)
	ctx := context.Background()

	_, _, err := store.Register(ctx, "h0")
	require.NoError(t, err)
	_, err = store.Commit(ctx, "h0", []byte("n"), 7)
	require.NoError(t, err)
	require.NoError(t, store.MarkUploaded(ctx, "h0"))

	reopened, err := Open(ctx, reg.Chunks, jobID)
	require.NoError(t, err)

	// an uploaded record is immediately ready and not claimable
	rec, claimed, err := reopened.Register(ctx, "h0")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, models.ChunkStateUploaded, rec.State)

	rec, err = reopened.WaitReady(ctx, "h0")
	require.NoError(t, err)
	assert.Equal(t, []byte("n"), rec.Nonce)
}

func TestMarkMissingRemotelyMakesClaimable(t *testing.T) {
	store, _, _ := setupStore(t)
	ctx := context.Background()

	_, _, err := store.Register(ctx, "h0")
	require.NoError(t, err)
	_, err = store.Commit(ctx, "h0", []byte("n"), 7)
	require.NoError(t, err)

	pending := store.ListState(models.ChunkStatePending)
	require.Len(t, pending, 1)

	require.NoError(t, store.MarkMissingRemotely(ctx, "h0"))

	rec, claimed, err := store.Register(ctx, "h0")
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, models.ChunkStateLocal, rec.State)
	assert.Nil(t, rec.Nonce)
}
