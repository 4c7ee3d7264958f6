package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/star08-web/noughtchat/internal/database"
	"github.com/star08-web/noughtchat/internal/server"
	"github.com/star08-web/noughtchat/internal/types"
)

// MessageResponse is one stored payload. The payload is returned exactly as
// it was accepted; the server never decodes it.
type MessageResponse struct {
	SeqId      int             `json:"seq_id"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

func (s *NoughtApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *NoughtApp) createRoom(w http.ResponseWriter, r *http.Request) {
	newRoom, err := s.cs.CreateRoom()
	if err != nil {
		s.log.Println("create room:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room := &types.Room{
		Id:           newRoom.Id,
		CreatedAt:    newRoom.CreatedAt,
		LastActivity: newRoom.LastActivity,
	}

	s.writeJson(w, http.StatusCreated, room)
}

func (s *NoughtApp) deleteRoom(w http.ResponseWriter, r *http.Request) {
	roomId := r.URL.Query().Get("id")
	if roomId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.cs.DeleteRoom(r.Context(), roomId); err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrRoomNotFound) {
			errResp = NewNotFoundError()
		} else {
			s.log.Println("delete room:", err)
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *NoughtApp) getMessages(w http.ResponseWriter, r *http.Request) {
	roomId := r.URL.Query().Get("room_id")
	if roomId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	messages, err := s.db.GetMessages(roomId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrRoomNotFound) {
			errResp = NewNotFoundError()
		} else {
			s.log.Println("get messages:", err)
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	resp := make([]MessageResponse, 0, len(messages))
	for _, msg := range messages {
		resp = append(resp, MessageResponse{
			SeqId:      msg.SeqId,
			Payload:    json.RawMessage(msg.Payload),
			ReceivedAt: msg.ReceivedAt,
		})
	}

	s.writeJson(w, http.StatusOK, resp)
}

func (s *NoughtApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Println("health check:", err)
		errResp := NewServiceUnavailableError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *NoughtApp) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(conn, s.cs, s.log)

	s.cs.RegisterClient(client)
	go client.Write()
	go client.Read()
}
