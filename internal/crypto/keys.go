package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the length of both derived keys (AES-256, HMAC-SHA256).
	KeySize = 32
	// SaltSize is the length of the random per-message salt.
	SaltSize = 16
	// NonceSize is the AES-GCM nonce length.
	NonceSize = 12

	// DefaultIterations is the PBKDF2 iteration count for the encryption key.
	DefaultIterations = 600_000
	// authIterations is the PBKDF2 iteration count for the authentication
	// key. Lower than the encryption key's on purpose: the signature is
	// verified before any decryption work is spent, so it is on the hot path
	// of rejecting garbage.
	authIterations = 100_000

	// authLabel is appended to the password before deriving the
	// authentication key, so the two keys are cryptographically independent
	// even though both stem from the same password.
	authLabel = "HMAC"
)

// DeriveKeys stretches a password and salt into an encryption key and an
// independent authentication key. Deterministic: the same
// (password, salt, iterations) always yields the same pair.
func DeriveKeys(password string, salt []byte, iterations int) (encKey, authKey []byte, err error) {
	if len(salt) != SaltSize {
		return nil, nil, fmt.Errorf("salt must be %d bytes, got %d", SaltSize, len(salt))
	}
	if iterations <= 0 {
		return nil, nil, fmt.Errorf("iterations must be positive, got %d", iterations)
	}

	encKey = pbkdf2.Key([]byte(password), salt, iterations, KeySize, sha256.New)
	authKey = pbkdf2.Key([]byte(password+authLabel), salt, authIterations, KeySize, sha256.New)
	return encKey, authKey, nil
}

// DeriveAuthKey derives only the authentication key. Used on the verify path,
// where the encryption key is not needed until the signature has checked out.
func DeriveAuthKey(password string, salt []byte) ([]byte, error) {
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("salt must be %d bytes, got %d", SaltSize, len(salt))
	}
	return pbkdf2.Key([]byte(password+authLabel), salt, authIterations, KeySize, sha256.New), nil
}

// DeriveEncryptionKey derives only the encryption key.
func DeriveEncryptionKey(password string, salt []byte, iterations int) ([]byte, error) {
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("salt must be %d bytes, got %d", SaltSize, len(salt))
	}
	if iterations <= 0 {
		return nil, fmt.Errorf("iterations must be positive, got %d", iterations)
	}
	return pbkdf2.Key([]byte(password), salt, iterations, KeySize, sha256.New), nil
}

// RandomBytes returns n cryptographically secure random bytes. A failure of
// the secure random source is fatal for the operation in progress; there is
// no weaker fallback.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("secure random source unavailable: %w", err)
	}
	return b, nil
}
