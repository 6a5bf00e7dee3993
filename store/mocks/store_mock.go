package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/zlnvch/holoboard/models"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) IncrementRoomCounters(ctx context.Context, roomId string, counters map[string]int) error {
	args := m.Called(ctx, roomId, counters)
	return args.Error(0)
}

func (m *MockStore) WriteSessionBatch(ctx context.Context, sessions []models.SessionRecord) ([]models.SessionRecord, error) {
	args := m.Called(ctx, sessions)
	return args.Get(0).([]models.SessionRecord), args.Error(1)
}

func (m *MockStore) GetRoomStats(ctx context.Context, roomId string) (models.RoomStats, error) {
	args := m.Called(ctx, roomId)
	return args.Get(0).(models.RoomStats), args.Error(1)
}

func (m *MockStore) GetRoomSessions(ctx context.Context, roomId string, limit int32) ([]models.SessionRecord, error) {
	args := m.Called(ctx, roomId, limit)
	return args.Get(0).([]models.SessionRecord), args.Error(1)
}

func (m *MockStore) PutRoomSummary(ctx context.Context, summary models.RoomSummary) (bool, error) {
	args := m.Called(ctx, summary)
	return args.Bool(0), args.Error(1)
}
