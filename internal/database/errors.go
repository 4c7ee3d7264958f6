package database

import "errors"

var (
	// ErrRoomNotFound is returned for any operation against an absent or
	// already-deleted room. Surfaced to callers as a definitive negative.
	ErrRoomNotFound = errors.New("room not found")

	// ErrRoomExists is returned when creating a room whose identifier is
	// already taken. The lifecycle manager retries with a fresh identifier;
	// it is never surfaced to callers.
	ErrRoomExists = errors.New("room already exists")
)
