package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/star08-web/noughtchat/internal/types"
)

// DefaultMaxAge is the freshness window: a payload older than this at
// verification time is rejected as stale.
const DefaultMaxAge = 5 * time.Minute

// Codec frames plaintext into authenticated payloads and back. It is
// stateless apart from its configuration and safe for concurrent use.
//
// The two-key, verify-before-decrypt structure is the point: the HMAC
// envelope over salt|nonce|ciphertext is checked before any decryption work
// is spent, so the AEAD is never used as an oracle for tampered input.
type Codec struct {
	iterations int
	maxAge     time.Duration
	now        func() time.Time
}

// NewCodec returns a Codec with the production iteration count and freshness
// window. now is injected for testability; nil means time.Now.
func NewCodec(now func() time.Time) *Codec {
	if now == nil {
		now = time.Now
	}
	return &Codec{
		iterations: DefaultIterations,
		maxAge:     DefaultMaxAge,
		now:        now,
	}
}

// NewCodecWithIterations is NewCodec with a caller-chosen PBKDF2 iteration
// count. Tests use a low count to keep derivation fast; production callers
// should not go below DefaultIterations.
func NewCodecWithIterations(iterations int, now func() time.Time) *Codec {
	c := NewCodec(now)
	c.iterations = iterations
	return c
}

// Encode encrypts plaintext under a key derived from password with a fresh
// random salt and nonce, and signs the result.
func (c *Codec) Encode(plaintext []byte, password string) (types.Payload, error) {
	salt, err := RandomBytes(SaltSize)
	if err != nil {
		return types.Payload{}, err
	}
	nonce, err := RandomBytes(NonceSize)
	if err != nil {
		return types.Payload{}, err
	}

	encKey, authKey, err := DeriveKeys(password, salt, c.iterations)
	if err != nil {
		return types.Payload{}, err
	}

	ciphertext, err := seal(encKey, nonce, plaintext)
	if err != nil {
		return types.Payload{}, err
	}

	return types.Payload{
		Salt:       salt,
		IV:         nonce,
		Ciphertext: ciphertext,
		Timestamp:  c.now().UnixMilli(),
		Signature:  sign(authKey, salt, nonce, ciphertext),
	}, nil
}

// Decode authenticates and decrypts a payload produced by Encode.
//
// The checks run in a fixed order: freshness, then signature, then
// decryption. A signature failure short-circuits before the ciphertext is
// ever touched. Errors wrap ErrStale, ErrAuthentication or ErrDecryption.
func (c *Codec) Decode(p types.Payload, password string) ([]byte, error) {
	if err := c.checkFreshness(p.Timestamp); err != nil {
		return nil, err
	}

	authKey, err := DeriveAuthKey(password, p.Salt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	expected := sign(authKey, p.Salt, p.IV, p.Ciphertext)
	if !hmac.Equal(expected, p.Signature) {
		return nil, fmt.Errorf("%w: signature mismatch", ErrAuthentication)
	}

	encKey, err := DeriveEncryptionKey(password, p.Salt, c.iterations)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	plaintext, err := open(encKey, p.IV, p.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return plaintext, nil
}

// EncodeSession encrypts plaintext under an already-derived session key.
// There is no per-message salt and no signature envelope: session mode trades
// the per-message key for throughput, and relies on the AEAD tag alone.
func (c *Codec) EncodeSession(plaintext, key []byte) (types.Payload, error) {
	nonce, err := RandomBytes(NonceSize)
	if err != nil {
		return types.Payload{}, err
	}

	ciphertext, err := seal(key, nonce, plaintext)
	if err != nil {
		return types.Payload{}, err
	}

	return types.Payload{
		IV:         nonce,
		Ciphertext: ciphertext,
		Timestamp:  c.now().UnixMilli(),
		Session:    true,
	}, nil
}

// DecodeSession decrypts a session-mode payload.
func (c *Codec) DecodeSession(p types.Payload, key []byte) ([]byte, error) {
	if err := c.checkFreshness(p.Timestamp); err != nil {
		return nil, err
	}

	plaintext, err := open(key, p.IV, p.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return plaintext, nil
}

func (c *Codec) checkFreshness(timestamp int64) error {
	age := c.now().Sub(time.UnixMilli(timestamp))
	if age > c.maxAge {
		return fmt.Errorf("%w: payload is %s old", ErrStale, age.Truncate(time.Second))
	}
	return nil
}

// sign computes an HMAC-SHA256 over the canonical salt|nonce|ciphertext
// tuple. Each field is length-prefixed so the encoding is unambiguous without
// depending on any wire serialization.
func sign(authKey []byte, salt, nonce, ciphertext []byte) []byte {
	mac := hmac.New(sha256.New, authKey)
	for _, field := range [][]byte{salt, nonce, ciphertext} {
		var length [4]byte
		binary.BigEndian.PutUint32(length[:], uint32(len(field)))
		mac.Write(length[:])
		mac.Write(field)
	}
	return mac.Sum(nil)
}

func seal(key, nonce, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, nil), nil
}

func open(key, nonce, ciphertext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	// aead.Open panics on a wrong-length nonce, so the length is checked
	// here instead of trusting the wire.
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("nonce is %d bytes, want %d", len(nonce), aead.NonceSize())
	}
	return aead.Open(nil, nonce, ciphertext, nil)
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return aead, nil
}
