// Package common defines shared constants and sentinel errors used across
// chunkvault components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Secret verification errors.
	ErrWrongSecret = errors.New("wrong secret")

	// Chunk decryption errors (AEAD tag mismatch: wrong key, corruption,
	// or tampering). Fatal to the affected file only.
	ErrChunkAuthentication = errors.New("chunk authentication failed")

	// Transfer errors. Transient ones are retried with backoff inside the
	// transfer pool; permanent ones surface immediately.
	ErrTransientTransfer = errors.New("transient transfer error")
	ErrPermanentTransfer = errors.New("permanent transfer error")
	ErrObjectNotFound    = errors.New("object not found")

	// Filesystem errors. A path that cannot be read or written is skipped
	// with a report; the run continues.
	ErrFilesystemAccess = errors.New("filesystem access error")

	// Registry errors.
	ErrJobNotFound      = errors.New("job not found")
	ErrJobAlreadyExists = errors.New("job already exists")
	ErrRunNotFound      = errors.New("run not found")
	ErrChunkNotFound    = errors.New("chunk not found")

	// ErrRunNotCommitted marks a push that failed before commit; no run
	// entry is visible in the job history.
	ErrRunNotCommitted = errors.New("run not committed")
)
