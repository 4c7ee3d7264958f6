package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/star08-web/noughtchat/internal/config"
	"github.com/star08-web/noughtchat/internal/database"
	"github.com/star08-web/noughtchat/internal/server"
	"github.com/star08-web/noughtchat/internal/stats"
	"github.com/star08-web/noughtchat/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T, mockRepo *database.MockNoughtRepository, cfg *config.Config) *NoughtApp {
	t.Helper()

	mockStats := &stats.MockStatsUpdater{}
	mockStats.On("RegisterMetric", mock.Anything).Return()
	mockStats.On("Incr", mock.Anything).Return().Maybe()
	mockStats.On("Decr", mock.Anything).Return().Maybe()

	cs, err := server.NewChatServer(testutil.TestLogger(t), mockRepo, mockStats)
	require.NoError(t, err)

	return NewNoughtApp(http.NewServeMux(), testutil.TestLogger(t), cs, mockRepo, cfg)
}

func Test_healthCheck(t *testing.T) {
	tcases := []struct {
		name    string
		mockErr error
	}{
		{
			name:    "successful health check",
			mockErr: nil,
		},
		{
			name:    "failed health check",
			mockErr: errors.New("db error"),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockNoughtRepository{}
			defer mockRepo.AssertExpectations(t)
			mockRepo.On("Ping").Return(tc.mockErr).Once()

			app := newTestApp(t, mockRepo, &config.Config{})
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			app.healthCheck(rr, req)

			if tc.mockErr != nil {
				assert.Equal(t, http.StatusServiceUnavailable, rr.Code, "expected status code to be 503")
				assert.Contains(t, rr.Body.String(), "service unavailable", "expected a service unavailable error body")
			} else {
				assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")
				assert.Equal(t, "OK", rr.Body.String(), "expected response body to be 'OK'")
			}
		})
	}
}

func TestCreateRoomHandler(t *testing.T) {
	now := time.Now().UTC()
	tcases := []struct {
		name     string
		mockRoom database.Room
		mockErr  error
		code     int
	}{
		{
			name: "successfully creates a room",
			mockRoom: database.Room{
				Id:           "0Z7kQ3mPbT2cVxWyH5nJdg",
				CreatedAt:    now,
				LastActivity: now,
			},
			code: http.StatusCreated,
		},
		{
			name:    "store failure",
			mockErr: errors.New("db error"),
			code:    http.StatusInternalServerError,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockNoughtRepository{}
			defer mockRepo.AssertExpectations(t)
			mockRepo.On("CreateRoom", mock.AnythingOfType("string"), mock.AnythingOfType("time.Time")).
				Return(tc.mockRoom, tc.mockErr).Once()

			app := newTestApp(t, mockRepo, &config.Config{})
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/rooms", nil)
			app.createRoom(rr, req)

			assert.Equal(t, tc.code, rr.Code)
			if tc.mockErr == nil {
				var room map[string]any
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &room))
				assert.Equal(t, tc.mockRoom.Id, room["id"], "expected generated room id in response")
			}
		})
	}
}

func TestDeleteRoomHandler(t *testing.T) {
	tcases := []struct {
		name       string
		roomId     string
		getRoomErr error
		deleteErr  error
		code       int
	}{
		{
			name:   "successfully deletes a room",
			roomId: "room-1",
			code:   http.StatusNoContent,
		},
		{
			name: "missing id",
			code: http.StatusBadRequest,
		},
		{
			name:       "room not found",
			roomId:     "missing",
			getRoomErr: database.ErrRoomNotFound,
			code:       http.StatusNotFound,
		},
		{
			name:      "store failure",
			roomId:    "room-1",
			deleteErr: errors.New("db error"),
			code:      http.StatusInternalServerError,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockNoughtRepository{}
			defer mockRepo.AssertExpectations(t)
			if tc.roomId != "" {
				mockRepo.On("GetRoom", tc.roomId).Return(database.Room{Id: tc.roomId}, tc.getRoomErr).Once()
				if tc.getRoomErr == nil {
					mockRepo.On("DeleteRoom", tc.roomId).Return(tc.deleteErr).Once()
				}
			}

			app := newTestApp(t, mockRepo, &config.Config{})
			go app.cs.Run()
			defer app.cs.Shutdown(context.Background())

			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodDelete, "/api/rooms?id="+tc.roomId, nil)
			app.deleteRoom(rr, req)

			assert.Equal(t, tc.code, rr.Code)
		})
	}
}

func TestGetMessagesHandler(t *testing.T) {
	payload := []byte(`{"iv":"YWJjZGVmZ2hpamts","ciphertext":"c2VjcmV0","timestamp":1700000000000}`)
	tcases := []struct {
		name     string
		roomId   string
		mockMsgs []database.Message
		mockErr  error
		code     int
	}{
		{
			name:   "returns stored payloads in order",
			roomId: "room-1",
			mockMsgs: []database.Message{
				{SeqId: 1, RoomId: "room-1", Payload: payload, ReceivedAt: time.Now().UTC()},
			},
			code: http.StatusOK,
		},
		{
			name: "missing room_id",
			code: http.StatusBadRequest,
		},
		{
			name:    "room not found",
			roomId:  "missing",
			mockErr: database.ErrRoomNotFound,
			code:    http.StatusNotFound,
		},
		{
			name:    "store failure",
			roomId:  "room-1",
			mockErr: errors.New("db error"),
			code:    http.StatusInternalServerError,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockNoughtRepository{}
			defer mockRepo.AssertExpectations(t)
			if tc.roomId != "" {
				mockRepo.On("GetMessages", tc.roomId).Return(tc.mockMsgs, tc.mockErr).Once()
			}

			app := newTestApp(t, mockRepo, &config.Config{})
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/messages?room_id="+tc.roomId, nil)
			app.getMessages(rr, req)

			assert.Equal(t, tc.code, rr.Code)
			if tc.code == http.StatusOK {
				var resp []MessageResponse
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
				require.Len(t, resp, 1)
				assert.Equal(t, 1, resp[0].SeqId)
				// the payload passes through byte-for-byte
				assert.JSONEq(t, string(payload), string(resp[0].Payload))
			}
		})
	}
}

func Test_serveWs(t *testing.T) {
	mockRepo := &database.MockNoughtRepository{}
	app := newTestApp(t, mockRepo, &config.Config{
		AllowedOrigins: []string{"http://allowed.example.com"},
	})

	ts := httptest.NewServer(http.HandlerFunc(app.serveWs))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	t.Run("upgrades without origin header", func(t *testing.T) {
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		defer conn.Close()
		assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	})

	t.Run("upgrades from allowed origin", func(t *testing.T) {
		hdr := http.Header{"Origin": []string{"http://allowed.example.com"}}
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, hdr)
		require.NoError(t, err)
		conn.Close()
	})

	t.Run("rejects disallowed origin", func(t *testing.T) {
		hdr := http.Header{"Origin": []string{"http://evil.example.com"}}
		_, resp, err := websocket.DefaultDialer.Dial(wsURL, hdr)
		require.Error(t, err)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}
