package crypto

import "errors"

// Decode failures are deliberately split so callers can tell "could not
// authenticate" from "could not decrypt" apart, even though both happen on a
// wrong password. None of them are retryable.
var (
	// ErrAuthentication means the payload signature did not verify: wrong
	// password or a tampered salt, nonce or ciphertext. Decryption is never
	// attempted after this.
	ErrAuthentication = errors.New("payload authentication failed")

	// ErrDecryption means the signature verified but the AEAD open failed:
	// corrupted ciphertext or a key derivation mismatch.
	ErrDecryption = errors.New("payload decryption failed")

	// ErrStale means the payload timestamp is older than the freshness
	// window. Treated as an authentication failure, not a warning.
	ErrStale = errors.New("payload outside freshness window")
)
