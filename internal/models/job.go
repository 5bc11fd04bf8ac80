// Package models holds the durable domain types shared by the engine:
// jobs, runs, manifests, chunk references and chunk records.
package models

import "time"

// Job is a named set of filesystem paths to back up. The salt and
// verification hash are written once at job creation and never modified;
// rotation of the job secret is deliberately unsupported.
type Job struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Paths     []string  `json:"paths"`
	Excludes  []string  `json:"excludes"`
	Salt      []byte    `json:"salt"`
	// VerifyHash is the Argon2id hash of the job secret. It exists only to
	// reject a wrong secret before any chunk work starts; it is not, and
	// must never be, the encryption key or derivable into it.
	VerifyHash []byte `json:"verify_hash"`
}

// JobStatus is the summary view returned by the status operation.
type JobStatus struct {
	Job           *Job
	TotalRuns     int
	LastRunAt     time.Time
	LastStatus    RunStatus
	BytesUploaded int64
}
