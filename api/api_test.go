package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zlnvch/holoboard/api"
	"github.com/zlnvch/holoboard/cache/memory"
	"github.com/zlnvch/holoboard/models"
	"github.com/zlnvch/holoboard/room"
	"github.com/zlnvch/holoboard/service"
	"github.com/zlnvch/holoboard/store"
	"github.com/zlnvch/holoboard/store/mocks"
)

func newRouter(t *testing.T, boardStore store.BoardStore) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	holoboardAPI := api.NewHoloboardAPI(
		room.NewRegistry(room.DefaultCapacity, room.DefaultShapeLimit),
		memory.NewBus(),
		boardStore,
		nil,
		[]byte("secret"),
		"http://localhost:3000",
		ctx,
	)
	return holoboardAPI.Router()
}

func get(router http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealth(t *testing.T) {
	w := get(newRouter(t, nil), "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflight(t *testing.T) {
	router := newRouter(t, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/rooms/abc/stats", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "GET, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
}

func TestRoomStats_Disabled(t *testing.T) {
	w := get(newRouter(t, nil), "/rooms/abc/stats")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRoomStats_InvalidRoomId(t *testing.T) {
	w := get(newRouter(t, nil), "/rooms/has.dots/stats")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoomStats(t *testing.T) {
	mockStore := new(mocks.MockStore)
	joined := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mockStore.On("GetRoomStats", mock.Anything, "abc").Return(models.RoomStats{RoomId: "abc", Joins: 4, Clears: 1}, nil)
	mockStore.On("GetRoomSessions", mock.Anything, "abc", int32(20)).Return([]models.SessionRecord{
		{Id: "s1", RoomId: "abc", ParticipantId: "c1", ProfileId: "u1", Username: "ada", JoinedAt: joined, LeftAt: joined.Add(time.Minute)},
	}, nil)

	w := get(newRouter(t, mockStore), "/rooms/abc/stats")
	require.Equal(t, http.StatusOK, w.Code)

	var activity service.RoomActivity
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &activity))
	assert.Equal(t, 4, activity.Stats.Joins)
	assert.Equal(t, 1, activity.Stats.Clears)
	require.Len(t, activity.RecentSessions, 1)
	assert.Equal(t, "ada", activity.RecentSessions[0].Username)
	mockStore.AssertExpectations(t)
}

func TestRoomStats_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"Unknown room", store.ErrItemNotFound, http.StatusNotFound},
		{"Store failure", errors.New("throttled"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mockStore := new(mocks.MockStore)
			mockStore.On("GetRoomStats", mock.Anything, "abc").Return(models.RoomStats{}, tc.err)

			w := get(newRouter(t, mockStore), "/rooms/abc/stats")
			assert.Equal(t, tc.want, w.Code)
		})
	}
}
