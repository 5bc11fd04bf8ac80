package chunker

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{MinSize: 256, AvgSize: 1024, MaxSize: 4096}

func randomBytes(t *testing.T, seed int64, n int) []byte {
	t.Helper()
	r := rand.New(rand.NewSource(seed))
	b := make([]byte, n)
	_, err := r.Read(b)
	require.NoError(t, err)
	return b
}

func hashHex(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{MinSize: 256, AvgSize: 1024, MaxSize: 4096}, false},
		{"avg not power of two", Config{MinSize: 256, AvgSize: 1000, MaxSize: 4096}, true},
		{"min below window", Config{MinSize: 16, AvgSize: 1024, MaxSize: 4096}, true},
		{"min above avg", Config{MinSize: 2048, AvgSize: 1024, MaxSize: 4096}, true},
		{"avg above max", Config{MinSize: 256, AvgSize: 8192, MaxSize: 4096}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// Chunking then concatenating must reproduce the input exactly, for any
// input length.
func TestSplit_LosslessPartition(t *testing.T) {
	sizes := []int{0, 1, 100, 255, 256, 257, 1024, 5000, 64 * 1024, 1 << 20}
	for _, n := range sizes {
		data := randomBytes(t, int64(n)+1, n)
		chunks, err := Split(bytes.NewReader(data), testConfig)
		require.NoError(t, err)

		var joined []byte
		for _, c := range chunks {
			joined = append(joined, c...)
		}
		require.True(t, bytes.Equal(data, joined), "partition of %d bytes is not lossless", n)
	}
}

func TestSplit_EmptyStream(t *testing.T) {
	chunks, err := Split(bytes.NewReader(nil), testConfig)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplit_ShortStreamIsOneChunk(t *testing.T) {
	data := randomBytes(t, 7, testConfig.MinSize-1)
	chunks, err := Split(bytes.NewReader(data), testConfig)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, data, chunks[0])
}

func TestSplit_SizeBounds(t *testing.T) {
	data := randomBytes(t, 42, 1<<20)
	chunks, err := Split(bytes.NewReader(data), testConfig)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i, c := range chunks {
		assert.LessOrEqual(t, len(c), testConfig.MaxSize)
		if i < len(chunks)-1 {
			assert.GreaterOrEqual(t, len(c), testConfig.MinSize)
		}
	}
}

// A constant stream never hits a content boundary; every chunk except the
// last must be forced at exactly MaxSize.
func TestSplit_MaxForcedOnConstantInput(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 3*testConfig.MaxSize+100)
	chunks, err := Split(bytes.NewReader(data), testConfig)
	require.NoError(t, err)
	require.Len(t, chunks, 4)
	for i := 0; i < 3; i++ {
		assert.Len(t, chunks[i], testConfig.MaxSize)
	}
	assert.Len(t, chunks[3], 100)
}

// Two streams sharing a long common subsequence must produce at least one
// identical chunk, regardless of where the shared bytes sit.
func TestSplit_DedupAcrossShiftedStreams(t *testing.T) {
	shared := randomBytes(t, 99, 256*1024)
	prefix := randomBytes(t, 100, 10_000)

	s1 := shared
	s2 := append(append([]byte{}, prefix...), shared...)

	c1, err := Split(bytes.NewReader(s1), testConfig)
	require.NoError(t, err)
	c2, err := Split(bytes.NewReader(s2), testConfig)
	require.NoError(t, err)

	h1 := make(map[string]struct{}, len(c1))
	for _, c := range c1 {
		h1[hashHex(c)] = struct{}{}
	}
	common := 0
	for _, c := range c2 {
		if _, ok := h1[hashHex(c)]; ok {
			common++
		}
	}
	assert.Greater(t, common, 0, "no chunk survived a %d-byte prefix insertion", len(prefix))
	// most of the shared region should dedup, not just one lucky chunk
	assert.Greater(t, common, len(c1)/2)
}

// Editing bytes in the middle of a stream must leave the chunks before and
// after the edit region intact.
func TestSplit_LocalEditLocalEffect(t *testing.T) {
	data := randomBytes(t, 7777, 512*1024)
	edited := append([]byte{}, data...)
	for i := 0; i < 1024; i++ {
		edited[len(edited)/2+i] ^= 0xFF
	}

	orig, err := Split(bytes.NewReader(data), testConfig)
	require.NoError(t, err)
	mod, err := Split(bytes.NewReader(edited), testConfig)
	require.NoError(t, err)

	origSet := make(map[string]struct{}, len(orig))
	for _, c := range orig {
		origSet[hashHex(c)] = struct{}{}
	}
	reused := 0
	for _, c := range mod {
		if _, ok := origSet[hashHex(c)]; ok {
			reused++
		}
	}
	assert.Greater(t, reused, len(orig)*2/3, "a 1KB edit invalidated most chunks")
}

func TestSplitter_NextAfterEOF(t *testing.T) {
	s, err := New(bytes.NewReader([]byte("hello")), testConfig)
	require.NoError(t, err)

	chunk, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), chunk)

	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
}
