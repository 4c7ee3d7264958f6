package database

import (
	"time"

	"github.com/stretchr/testify/mock"
)

type MockNoughtRepository struct {
	mock.Mock
}

func (m *MockNoughtRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockNoughtRepository) CreateRoom(id string, at time.Time) (Room, error) {
	args := m.Called(id, at)
	return args.Get(0).(Room), args.Error(1)
}

func (m *MockNoughtRepository) GetRoom(id string) (Room, error) {
	args := m.Called(id)
	return args.Get(0).(Room), args.Error(1)
}

func (m *MockNoughtRepository) AppendMessage(roomId string, payload []byte, at time.Time) (Message, error) {
	args := m.Called(roomId, payload, at)
	return args.Get(0).(Message), args.Error(1)
}

func (m *MockNoughtRepository) GetMessages(roomId string) ([]Message, error) {
	args := m.Called(roomId)
	if msgs, ok := args.Get(0).([]Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockNoughtRepository) DeleteRoom(id string) error {
	args := m.Called(id)
	return args.Error(0)
}

func (m *MockNoughtRepository) ExpiredRooms(before time.Time) ([]string, error) {
	args := m.Called(before)
	if ids, ok := args.Get(0).([]string); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockNoughtRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
