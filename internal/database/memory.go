package database

import (
	"sync"
	"time"
)

type memRoom struct {
	room     Room
	messages []Message
}

// MemNoughtRepository is an in-memory NoughtRepository. It backs tests and
// single-process deployments that don't need durability; deleting a room and
// its log is a single map delete, so the atomicity guarantee is free.
type MemNoughtRepository struct {
	mu     sync.RWMutex
	rooms  map[string]*memRoom
	nextId int
}

func NewMemNoughtRepository() *MemNoughtRepository {
	return &MemNoughtRepository{rooms: make(map[string]*memRoom)}
}

func (db *MemNoughtRepository) Ping() error { return nil }

func (db *MemNoughtRepository) Close() error { return nil }

func (db *MemNoughtRepository) CreateRoom(id string, at time.Time) (Room, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if existing, ok := db.rooms[id]; ok {
		existing.room.LastActivity = at.UTC()
		return Room{}, ErrRoomExists
	}

	room := Room{
		Id:           id,
		CreatedAt:    at.UTC(),
		LastActivity: at.UTC(),
	}
	db.rooms[id] = &memRoom{room: room}
	return room, nil
}

func (db *MemNoughtRepository) GetRoom(id string) (Room, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	r, ok := db.rooms[id]
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	return r.room, nil
}

func (db *MemNoughtRepository) AppendMessage(roomId string, payload []byte, at time.Time) (Message, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	r, ok := db.rooms[roomId]
	if !ok {
		return Message{}, ErrRoomNotFound
	}

	db.nextId++
	msg := Message{
		Id:         db.nextId,
		SeqId:      r.room.SeqId + 1,
		RoomId:     roomId,
		Payload:    append([]byte(nil), payload...),
		ReceivedAt: at.UTC(),
	}
	r.messages = append(r.messages, msg)
	r.room.SeqId = msg.SeqId
	r.room.LastActivity = at.UTC()

	return msg, nil
}

func (db *MemNoughtRepository) GetMessages(roomId string) ([]Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	r, ok := db.rooms[roomId]
	if !ok {
		return nil, ErrRoomNotFound
	}

	messages := make([]Message, len(r.messages))
	copy(messages, r.messages)
	return messages, nil
}

func (db *MemNoughtRepository) DeleteRoom(id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.rooms[id]; !ok {
		return ErrRoomNotFound
	}
	delete(db.rooms, id)
	return nil
}

func (db *MemNoughtRepository) ExpiredRooms(before time.Time) ([]string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var ids []string
	for id, r := range db.rooms {
		if r.room.LastActivity.Before(before.UTC()) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
