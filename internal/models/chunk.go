package models

// ChunkState tracks where a chunk's ciphertext is known to exist.
// Transitions go local -> pending -> uploaded, and only backward when a
// failure or a reconciliation pass resets a chunk for retry.
type ChunkState string

const (
	// ChunkStateLocal: the plaintext hash has been observed (and possibly
	// encrypted) but the ciphertext is not known to be remote.
	ChunkStateLocal ChunkState = "local"
	// ChunkStatePending: an upload has been started but not confirmed.
	ChunkStatePending ChunkState = "pending"
	// ChunkStateUploaded: the remote copy is confirmed.
	ChunkStateUploaded ChunkState = "uploaded"
)

// ChunkRecord is the content-addressed store entry for one distinct
// plaintext hash within a job. It is created the first time the hash is
// observed and never duplicated. Nonce and CiphertextLen are filled in when
// the chunk is first encrypted so that later references to an already
// uploaded chunk can be built without re-encrypting; once a chunk is
// confirmed uploaded its ciphertext is never recomputed with a fresh nonce.
type ChunkRecord struct {
	Hash          string     `json:"hash"`
	Nonce         []byte     `json:"nonce"`
	CiphertextLen int64      `json:"ciphertext_len"`
	State         ChunkState `json:"state"`
}
