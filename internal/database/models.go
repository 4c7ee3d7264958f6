package database

import "time"

type Room struct {
	Id           string
	SeqId        int
	CreatedAt    time.Time
	LastActivity time.Time
}

// Message is one accepted payload in a room's append-only log. Payload is the
// raw wire JSON of the authenticated payload; the store never inspects it.
// Messages are never mutated after insertion.
type Message struct {
	Id         int
	SeqId      int
	RoomId     string
	Payload    []byte
	ReceivedAt time.Time
}
