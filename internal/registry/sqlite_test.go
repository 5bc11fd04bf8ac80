package registry

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/dmitrijs2005/chunkvault/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func testJob(name string) *models.Job {
	return &models.Job{
		ID:         uuid.NewString(),
		Name:       name,
		CreatedAt:  time.Now().UTC().Truncate(time.Microsecond),
		Paths:      []string{"/data/docs", "/data/photos"},
		Excludes:   []string{"*.tmp"},
		Salt:       []byte("0123456789abcdef0123456789abcdef"),
		VerifyHash: []byte("fedcba9876543210fedcba9876543210"),
	}
}

func TestJobRepository_CreateAndGet(t *testing.T) {
	reg := setupRegistry(t)
	ctx := context.Background()

	job := testJob("docs")
	require.NoError(t, reg.Jobs.Create(ctx, job))

	got, err := reg.Jobs.GetByName(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, job.Paths, got.Paths)
	assert.Equal(t, job.Excludes, got.Excludes)
	assert.Equal(t, job.Salt, got.Salt)
	assert.Equal(t, job.VerifyHash, got.VerifyHash)
	assert.True(t, job.CreatedAt.Equal(got.CreatedAt))
}

func TestJobRepository_DuplicateName(t *testing.T) {
	reg := setupRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Jobs.Create(ctx, testJob("docs")))
	err := reg.Jobs.Create(ctx, testJob("docs"))
	assert.ErrorIs(t, err, common.ErrJobAlreadyExists)
}

func TestJobRepository_GetMissing(t *testing.T) {
	reg := setupRegistry(t)
	_, err := reg.Jobs.GetByName(context.Background(), "nope")
	assert.ErrorIs(t, err, common.ErrJobNotFound)
}

func TestJobRepository_UpdatePathsAndList(t *testing.T) {
	reg := setupRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Jobs.Create(ctx, testJob("b-job")))
	require.NoError(t, reg.Jobs.Create(ctx, testJob("a-job")))

	require.NoError(t, reg.Jobs.UpdatePaths(ctx, "a-job", []string{"/new"}, nil))
	got, err := reg.Jobs.GetByName(ctx, "a-job")
	require.NoError(t, err)
	assert.Equal(t, []string{"/new"}, got.Paths)
	assert.Empty(t, got.Excludes)

	jobs, err := reg.Jobs.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "a-job", jobs[0].Name)
	assert.Equal(t, "b-job", jobs[1].Name)
}

func TestJobRepository_Delete(t *testing.T) {
	reg := setupRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Jobs.Create(ctx, testJob("docs")))
	require.NoError(t, reg.Jobs.Delete(ctx, "docs"))
	_, err := reg.Jobs.GetByName(ctx, "docs")
	assert.ErrorIs(t, err, common.ErrJobNotFound)

	assert.ErrorIs(t, reg.Jobs.Delete(ctx, "docs"), common.ErrJobNotFound)
}

func testRun(jobID string, id int) *models.Run {
	return &models.Run{
		JobID:      jobID,
		ID:         id,
		StartedAt:  time.Now().UTC().Truncate(time.Microsecond),
		FinishedAt: time.Now().UTC().Truncate(time.Microsecond),
		Status:     models.RunStatusOK,
		Manifest: models.Manifest{
			"/data/docs/a.txt": {
				Path:     "/data/docs/a.txt",
				Size:     10,
				ModTime:  time.Now().UTC().Truncate(time.Microsecond),
				FileHash: "abc",
				Chunks: []models.ChunkRef{
					{Hash: "h0", Index: 0, Nonce: []byte("nonce-0"), CiphertextLen: 26},
				},
			},
		},
		Logs: []string{"uploaded /data/docs/a.txt"},
	}
}

func TestRunRepository_CreateGetListLatest(t *testing.T) {
	reg := setupRegistry(t)
	ctx := context.Background()

	job := testJob("docs")
	require.NoError(t, reg.Jobs.Create(ctx, job))

	next, err := reg.Runs.NextID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, next)

	_, err = reg.Runs.Latest(ctx, job.ID)
	assert.ErrorIs(t, err, common.ErrRunNotFound)

	require.NoError(t, reg.Runs.Create(ctx, testRun(job.ID, 1)))
	require.NoError(t, reg.Runs.Create(ctx, testRun(job.ID, 2)))

	got, err := reg.Runs.Get(ctx, job.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ID)
	require.Contains(t, got.Manifest, "/data/docs/a.txt")
	fm := got.Manifest["/data/docs/a.txt"]
	require.Len(t, fm.Chunks, 1)
	assert.Equal(t, "h0", fm.Chunks[0].Hash)
	assert.Equal(t, []byte("nonce-0"), fm.Chunks[0].Nonce)

	runs, err := reg.Runs.List(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 1, runs[0].ID)
	assert.Equal(t, 2, runs[1].ID)

	latest, err := reg.Runs.Latest(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.ID)

	next, err = reg.Runs.NextID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, next)
}

func TestRunRepository_GetMissing(t *testing.T) {
	reg := setupRegistry(t)
	ctx := context.Background()
	job := testJob("docs")
	require.NoError(t, reg.Jobs.Create(ctx, job))

	_, err := reg.Runs.Get(ctx, job.ID, 42)
	assert.ErrorIs(t, err, common.ErrRunNotFound)
}

func TestChunkRepository_RegisterIdempotent(t *testing.T) {
	reg := setupRegistry(t)
	ctx := context.Background()
	job := testJob("docs")
	require.NoError(t, reg.Jobs.Create(ctx, job))

	rec := &models.ChunkRecord{Hash: "h0", State: models.ChunkStateLocal}
	created, err := reg.Chunks.Register(ctx, job.ID, rec)
	require.NoError(t, err)
	assert.True(t, created)

	// second registration of the same hash is a no-op
	created, err = reg.Chunks.Register(ctx, job.ID, &models.ChunkRecord{Hash: "h0", State: models.ChunkStateUploaded})
	require.NoError(t, err)
	assert.False(t, created)

	got, err := reg.Chunks.Get(ctx, job.ID, "h0")
	require.NoError(t, err)
	assert.Equal(t, models.ChunkStateLocal, got.State)
}

func TestChunkRepository_UpdateAndListByState(t *testing.T) {
	reg := setupRegistry(t)
	ctx := context.Background()
	job := testJob("docs")
	require.NoError(t, reg.Jobs.Create(ctx, job))

	for _, h := range []string{"h0", "h1", "h2"} {
		_, err := reg.Chunks.Register(ctx, job.ID, &models.ChunkRecord{Hash: h, State: models.ChunkStateLocal})
		require.NoError(t, err)
	}

	require.NoError(t, reg.Chunks.Update(ctx, job.ID, &models.ChunkRecord{
		Hash: "h1", Nonce: []byte("nonce-1"), CiphertextLen: 99, State: models.ChunkStatePending,
	}))

	pending, err := reg.Chunks.ListByState(ctx, job.ID, models.ChunkStatePending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "h1", pending[0].Hash)
	assert.Equal(t, int64(99), pending[0].CiphertextLen)
	assert.Equal(t, []byte("nonce-1"), pending[0].Nonce)

	all, err := reg.Chunks.ListByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	err = reg.Chunks.Update(ctx, job.ID, &models.ChunkRecord{Hash: "missing", State: models.ChunkStateLocal})
	assert.ErrorIs(t, err, common.ErrChunkNotFound)
}

func TestChunkRepository_GetMissing(t *testing.T) {
	reg := setupRegistry(t)
	ctx := context.Background()
	job := testJob("docs")
	require.NoError(t, reg.Jobs.Create(ctx, job))

	_, err := reg.Chunks.Get(ctx, job.ID, "nope")
	assert.ErrorIs(t, err, common.ErrChunkNotFound)
}
