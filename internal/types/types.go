package types

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Base64Bytes is a []byte that is encoded on the wire as a base64 string.
//
// Go's encoding/json already marshals []byte as base64, but it will also
// accept JSON arrays when unmarshalling. This type enforces the contract:
// binary payload fields must be base64 strings.
type Base64Bytes []byte

func (b Base64Bytes) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("null"), nil
	}
	return json.Marshal(base64.StdEncoding.EncodeToString(b))
}

func (b *Base64Bytes) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*b = nil
		return nil
	}

	var encoded string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return fmt.Errorf("expected base64 string: %w", err)
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		// Allow unpadded standard base64 for interop.
		decoded, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return fmt.Errorf("invalid base64: %w", err)
		}
	}

	*b = Base64Bytes(decoded)
	return nil
}

// Payload is the self-contained encrypted unit transmitted over the wire.
// The relay stores and forwards it without ever seeing plaintext.
//
// In the default mode all five fields are set and Signature covers the
// canonical salt|iv|ciphertext tuple. In session mode Salt and Signature are
// empty and the key is the room's cached session key.
type Payload struct {
	Salt       Base64Bytes `json:"salt,omitempty"`
	IV         Base64Bytes `json:"iv"`
	Ciphertext Base64Bytes `json:"ciphertext"`
	// Timestamp is the sender's creation instant in milliseconds since epoch.
	Timestamp int64       `json:"timestamp"`
	Signature Base64Bytes `json:"signature,omitempty"`
	Session   bool        `json:"session,omitempty"`
}

type Room struct {
	Id           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	LastActivity time.Time `json:"last_activity,omitempty"`
}

type Message struct {
	SeqId      int       `json:"seq_id"`
	RoomId     string    `json:"room_id"`
	Payload    Payload   `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}
