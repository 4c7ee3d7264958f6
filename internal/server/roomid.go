package server

import (
	"encoding/base64"

	"github.com/star08-web/noughtchat/internal/crypto"
)

// roomIdBytes gives 128 bits of randomness per identifier, rendered as a
// fixed-length 22-character url-safe token.
const roomIdBytes = 16

// generateRoomId returns a fresh high-entropy room identifier. Knowing the
// identifier is the only authorization the relay enforces, so it must be
// unguessable: always the secure random source, never a PRNG.
func generateRoomId() (string, error) {
	b, err := crypto.RandomBytes(roomIdBytes)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
