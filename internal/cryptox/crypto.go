// Package cryptox implements the two independent derivations from the job
// secret and the per-chunk authenticated encryption.
//
// Verification hash: Argon2id over the secret with a random stored salt,
// computed once at job creation. Later operations recompute it and compare
// in constant time; a mismatch is a hard failure before any chunk work.
//
// Encryption key: SHA3-256 of the secret, recomputed in memory each session
// and never persisted. The stored verification hash is not, and must not be
// reducible to, the encryption key.
package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/dmitrijs2005/chunkvault/internal/common"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/sha3"
)

const (
	// SaltSize is the length of the random salt stored with the
	// verification hash.
	SaltSize = 32
	// KeySize is the derived encryption key length.
	KeySize = chacha20poly1305.KeySize
	// NonceSize is the XChaCha20-Poly1305 nonce width. A fresh random
	// nonce is generated for every chunk encrypted and never reused for
	// a given key.
	NonceSize = chacha20poly1305.NonceSizeX

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

// NewVerifier derives the salted verification hash for a fresh secret.
// The returned salt and hash are stored with the job at creation and are
// immutable afterwards.
func NewVerifier(secret string) (salt, hash []byte) {
	salt = common.GenerateRandByteArray(SaltSize)
	hash = argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return salt, hash
}

// Verify recomputes the verification hash from the supplied secret and
// compares it against the stored one in constant time. A mismatch returns
// common.ErrWrongSecret and must never be bypassed.
func Verify(secret string, salt, hash []byte) error {
	candidate := argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	defer common.WipeByteArray(candidate)
	if subtle.ConstantTimeCompare(candidate, hash) != 1 {
		return common.ErrWrongSecret
	}
	return nil
}

// DeriveKey derives the chunk encryption key from the secret. The result
// is session-local; callers should wipe it when done.
func DeriveKey(secret string) []byte {
	key := sha3.Sum256([]byte(secret))
	return key[:]
}

// Seal encrypts one plaintext chunk with XChaCha20-Poly1305 under key,
// using a fresh cryptographically random nonce. The authentication tag is
// appended to the returned ciphertext.
func Seal(key, plaintext []byte) (ciphertext, nonce []byte, err error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce = make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext = aead.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Open decrypts and authenticates one chunk. Any tag mismatch, whether from
// a wrong key or corrupted ciphertext, returns common.ErrChunkAuthentication.
// Unauthenticated plaintext is never returned.
func Open(key, nonce, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce has wrong length %d", common.ErrChunkAuthentication, len(nonce))
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, common.ErrChunkAuthentication
	}
	return plaintext, nil
}

// ContentHash returns the hex-encoded SHA-256 of the plaintext chunk. It is
// the content address used for deduplication and for the remote object key.
func ContentHash(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}
