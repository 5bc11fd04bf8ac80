package models

import "time"

// RunStatus describes the outcome of a committed run, or the absence of
// any run for a job.
type RunStatus string

const (
	RunStatusOK       RunStatus = "ok"
	RunStatusPartial  RunStatus = "partial"
	RunStatusNeverRun RunStatus = "never_run"
)

// ChunkRef points at one chunk of one file within a run manifest.
// Index is the position of the chunk inside the file and is the only
// information that lets the restore assembler rebuild byte-identical
// output; it is persisted explicitly, never inferred from storage or
// arrival order.
type ChunkRef struct {
	Hash          string `json:"hash"`
	Index         int    `json:"index"`
	Nonce         []byte `json:"nonce"`
	CiphertextLen int64  `json:"ciphertext_len"`
}

// FileManifest records how one file looked at run time: cheap metadata used
// for run-to-run diffing plus the ordered chunk references that reconstruct
// its content.
type FileManifest struct {
	Path     string     `json:"path"`
	Size     int64      `json:"size"`
	ModTime  time.Time  `json:"mod_time"`
	FileHash string     `json:"file_hash"`
	Chunks   []ChunkRef `json:"chunks"`
}

// Manifest maps file paths (as they existed at run time) to their chunk
// sequences.
type Manifest map[string]FileManifest

// Run is an immutable, timestamped snapshot of a job's included paths.
// IDs are job-scoped and monotonically increasing (1, 2, 3, ...). A run is
// only ever persisted after all of its new chunks are confirmed uploaded;
// a failed run leaves no entry.
type Run struct {
	JobID         string    `json:"job_id"`
	ID            int       `json:"id"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Status        RunStatus `json:"status"`
	BytesUploaded int64     `json:"bytes_uploaded"`
	Manifest      Manifest  `json:"manifest"`
	Logs          []string  `json:"logs"`
}
