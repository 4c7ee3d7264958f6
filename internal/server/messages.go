package server

import (
	"encoding/json"
	"net/http"
	"time"
)

type BaseMessage struct {
	// Id is a client-chosen correlation id echoed back on responses.
	Id        string    `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	BaseMessage
	Join    *Join    `json:"join,omitempty"`
	Leave   *Leave   `json:"leave,omitempty"`
	Publish *Publish `json:"publish,omitempty"`
	History *History `json:"history,omitempty"`
	client  *Client
}

type Join struct {
	RoomId string `json:"room_id"`
}

type Leave struct {
	RoomId string `json:"room_id"`
}

// Publish carries an encrypted payload. The relay treats it as opaque JSON:
// it is stored and fanned out byte-for-byte, never decoded.
type Publish struct {
	RoomId  string          `json:"room_id"`
	Payload json.RawMessage `json:"payload"`
}

type History struct {
	RoomId string `json:"room_id"`
}

type ServerMessage struct {
	BaseMessage
	Response     *Response      `json:"response,omitempty"`
	Message      *MessageEvent  `json:"message,omitempty"`
	History      *HistoryEvent  `json:"history,omitempty"`
	Notification *Notification  `json:"notification,omitempty"`
	SkipClient   *Client        `json:"-"`
}

type Response struct {
	ResponseCode int            `json:"response_code"`
	Error        string         `json:"error,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

// MessageEvent is a live fan-out of an accepted payload to room subscribers.
type MessageEvent struct {
	RoomId     string          `json:"room_id"`
	SeqId      int             `json:"seq_id"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

// HistoryEvent replays a room's log in acceptance order.
type HistoryEvent struct {
	RoomId   string            `json:"room_id"`
	Payloads []json.RawMessage `json:"payloads"`
}

type Notification struct {
	RoomDeleted *RoomDeleted `json:"room_deleted,omitempty"`
	Presence    *Presence    `json:"presence,omitempty"`
}

type RoomDeleted struct {
	RoomId string `json:"room_id"`
}

type Presence struct {
	Present bool   `json:"present"`
	RoomId  string `json:"room_id"`
}

func NoErrOK(id string, data map[string]any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func NoErrAccepted(id string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusAccepted,
		},
	}
}

func ErrRoomNotFound(id string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "room not found",
		},
	}
}

func ErrInternalError(id string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusInternalServerError,
			Error:        "internal server error",
		},
	}
}

func ErrServiceUnavailable(id string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		},
	}
}

func ErrInvalidMessage(id string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
