package store

import (
	"context"
	"errors"

	"github.com/zlnvch/holoboard/models"
)

// BoardStore records room activity. Shapes are never written; room state
// stays in server memory.
type BoardStore interface {
	IncrementRoomCounters(ctx context.Context, roomId string, counters map[string]int) error
	WriteSessionBatch(ctx context.Context, sessions []models.SessionRecord) ([]models.SessionRecord, error)
	GetRoomStats(ctx context.Context, roomId string) (models.RoomStats, error)
	GetRoomSessions(ctx context.Context, roomId string, limit int32) ([]models.SessionRecord, error)
	// PutRoomSummary stores the close summary once per room epoch and reports
	// whether this call created it.
	PutRoomSummary(ctx context.Context, summary models.RoomSummary) (bool, error)
}

var (
	ErrItemNotFound = errors.New("item does not exist")
)
