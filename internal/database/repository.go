package database

import "time"

// NoughtRepository is the room message store: an append-only ordered payload
// log per room, plus the room rows the lifecycle manager operates on.
//
// Ordering guarantee: GetMessages returns payloads in AppendMessage order,
// which is the order the relay accepted them. No client-supplied ordering is
// trusted. DeleteRoom is total and atomic with respect to concurrent appends
// and reads on the same room.
type NoughtRepository interface {
	Ping() error

	// CreateRoom inserts a room row. On an identifier collision it refreshes
	// the existing room's last activity and returns ErrRoomExists.
	CreateRoom(id string, at time.Time) (Room, error)
	GetRoom(id string) (Room, error)

	// AppendMessage assigns the next sequence id, records the payload and
	// refreshes the room's last activity. Returns ErrRoomNotFound if the
	// room is absent or deleted.
	AppendMessage(roomId string, payload []byte, at time.Time) (Message, error)
	GetMessages(roomId string) ([]Message, error)

	// DeleteRoom removes the room and all of its messages. Returns
	// ErrRoomNotFound if the room is already gone.
	DeleteRoom(id string) error

	// ExpiredRooms lists ids of rooms whose last activity is before the
	// cutoff. Used by the inactivity sweep.
	ExpiredRooms(before time.Time) ([]string, error)

	Close() error
}
