package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNoErrOk(t *testing.T) {
	expected := &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        "abc123",
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data: map[string]any{
				"room_id": "testroom",
			},
		},
	}

	result := NoErrOK("abc123", map[string]any{
		"room_id": "testroom",
	})

	assert.NotNil(t, result, "expected result to be non-nil")
	assert.NotNil(t, result.Response, "expected response to be non-nil")
	assert.Equal(t, expected.Id, result.Id, "expected Id to match")
	assert.WithinDuration(t, expected.Timestamp, result.Timestamp, time.Duration(time.Second), "expected Timestamp to be within 1 second")
	assert.Equal(t, expected.Response.ResponseCode, result.Response.ResponseCode, "expected ResponseCode to match")
	assert.Equal(t, expected.Response.Data, result.Response.Data, "expected Data to match")
}

func TestNoErrAccepted(t *testing.T) {
	result := NoErrAccepted("abc123")

	assert.NotNil(t, result, "expected result to be non-nil")
	assert.NotNil(t, result.Response, "expected response to be non-nil")
	assert.Equal(t, "abc123", result.Id, "expected Id to match")
	assert.WithinDuration(t, Now(), result.Timestamp, time.Duration(time.Second), "expected Timestamp to be within 1 second")
	assert.Equal(t, http.StatusAccepted, result.Response.ResponseCode, "expected ResponseCode to match")
}

func TestErrRoomNotFound(t *testing.T) {
	result := ErrRoomNotFound("abc123")

	assert.NotNil(t, result, "expected result to be non-nil")
	assert.NotNil(t, result.Response, "expected response to be non-nil")
	assert.Equal(t, "abc123", result.Id, "expected Id to match")
	assert.Equal(t, http.StatusNotFound, result.Response.ResponseCode, "expected ResponseCode to match")
	assert.Equal(t, "room not found", result.Response.Error, "expected Error message to match")
}

func TestErrInvalidMessage(t *testing.T) {
	result := ErrInvalidMessage("abc123")

	assert.NotNil(t, result, "expected result to be non-nil")
	assert.NotNil(t, result.Response, "expected response to be non-nil")
	assert.Equal(t, "abc123", result.Id, "expected Id to match")
	assert.Equal(t, http.StatusBadRequest, result.Response.ResponseCode, "expected ResponseCode to match")
	assert.Equal(t, "invalid message format", result.Response.Error, "expected Error message to match")
}

func TestErrServiceUnavailable(t *testing.T) {
	result := ErrServiceUnavailable("abc123")

	assert.NotNil(t, result, "expected result to be non-nil")
	assert.NotNil(t, result.Response, "expected response to be non-nil")
	assert.Equal(t, http.StatusServiceUnavailable, result.Response.ResponseCode, "expected ResponseCode to match")
}
