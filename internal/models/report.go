package models

import "time"

// PathFailure identifies one path that did not complete, with the reason.
type PathFailure struct {
	Path string
	Err  error
}

// RunReport is the structured result of a push. Skipped enumerates every
// path that did not make it into the committed manifest.
type RunReport struct {
	JobName        string
	RunID          int
	Status         RunStatus
	StartedAt      time.Time
	FinishedAt     time.Time
	FilesScanned   int
	FilesChanged   int
	FilesReused    int
	ChunksUploaded int
	BytesUploaded  int64
	Skipped        []PathFailure
}

// RestoreReport is the structured result of a pull. Failed enumerates every
// file that could not be reconstructed; sibling files are unaffected.
type RestoreReport struct {
	JobName       string
	RunID         int
	Destination   string
	Status        RunStatus
	FilesRestored int
	Failed        []PathFailure
}
