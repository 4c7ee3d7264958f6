package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

func (db *PgNoughtRepository) CreateRoom(id string, at time.Time) (Room, error) {
	res := db.conn.QueryRow(
		"INSERT INTO rooms (id, seq_id, created_at, last_activity) "+
			"VALUES ($1, 0, $2, $2) RETURNING id, seq_id, created_at, last_activity",
		id,
		at.UTC(),
	)

	var room Room
	err := res.Scan(&room.Id, &room.SeqId, &room.CreatedAt, &room.LastActivity)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			// A collision check counts as activity on the existing room.
			if _, touchErr := db.conn.Exec(
				"UPDATE rooms SET last_activity = $2 WHERE id = $1", id, at.UTC(),
			); touchErr != nil {
				return Room{}, touchErr
			}
			return Room{}, ErrRoomExists
		}
		return Room{}, err
	}

	return room, nil
}

func (db *PgNoughtRepository) GetRoom(id string) (Room, error) {
	row := db.conn.QueryRow(
		"SELECT id, seq_id, created_at, last_activity FROM rooms WHERE id = $1 LIMIT 1",
		id,
	)

	var room Room
	err := row.Scan(&room.Id, &room.SeqId, &room.CreatedAt, &room.LastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return Room{}, ErrRoomNotFound
	}

	return room, err
}

func (db *PgNoughtRepository) AppendMessage(roomId string, payload []byte, at time.Time) (Message, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	// Lock the room row so concurrent appends serialize on the sequence id
	// and a concurrent delete cannot leave a dangling message.
	var seqId int
	err = tx.QueryRow("SELECT seq_id FROM rooms WHERE id = $1 FOR UPDATE", roomId).Scan(&seqId)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrRoomNotFound
		return Message{}, err
	}
	if err != nil {
		return Message{}, err
	}

	msg := Message{
		SeqId:      seqId + 1,
		RoomId:     roomId,
		Payload:    payload,
		ReceivedAt: at.UTC(),
	}

	err = tx.QueryRow(
		"INSERT INTO messages (seq_id, room_id, payload, received_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id",
		msg.SeqId,
		msg.RoomId,
		msg.Payload,
		msg.ReceivedAt,
	).Scan(&msg.Id)
	if err != nil {
		return Message{}, err
	}

	_, err = tx.Exec(
		"UPDATE rooms SET seq_id = $2, last_activity = $3 WHERE id = $1",
		roomId,
		msg.SeqId,
		at.UTC(),
	)
	if err != nil {
		return Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return Message{}, err
	}

	return msg, nil
}

func (db *PgNoughtRepository) GetMessages(roomId string) ([]Message, error) {
	if _, err := db.GetRoom(roomId); err != nil {
		return nil, err
	}

	rows, err := db.conn.Query(
		"SELECT id, seq_id, room_id, payload, received_at FROM messages "+
			"WHERE room_id = $1 ORDER BY seq_id ASC",
		roomId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.Id, &msg.SeqId, &msg.RoomId, &msg.Payload, &msg.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func (db *PgNoughtRepository) DeleteRoom(id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec("DELETE FROM messages WHERE room_id = $1", id)
	if err != nil {
		return err
	}

	res, err := tx.Exec("DELETE FROM rooms WHERE id = $1", id)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		err = ErrRoomNotFound
		return err
	}

	return tx.Commit()
}

func (db *PgNoughtRepository) ExpiredRooms(before time.Time) ([]string, error) {
	rows, err := db.conn.Query(
		"SELECT id FROM rooms WHERE last_activity < $1",
		before.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}
