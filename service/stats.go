package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/sirupsen/logrus"
	"github.com/zlnvch/holoboard/models"
	"github.com/zlnvch/holoboard/mq"
	"github.com/zlnvch/holoboard/room"
	"github.com/zlnvch/holoboard/store"
	"github.com/zlnvch/holoboard/worker"
)

// Stats fans room activity out to the batchers and the room-closed queue. A
// nil *Stats records nothing.
type Stats struct {
	Counters        *worker.CounterBatcher
	Sessions        *worker.SessionBatcher
	RoomClosedQueue mq.MessageQueue
}

func (st *Stats) count(roomId string, counter string) {
	if st == nil || st.Counters == nil {
		return
	}
	st.Counters.Record(roomId, counter, 1)
}

func (st *Stats) recordSession(s *session, leftAt time.Time) {
	if st == nil || st.Sessions == nil {
		return
	}
	id, err := uuid.NewV7()
	if err != nil {
		logrus.WithError(err).Error("failed to generate session id")
		return
	}
	st.Sessions.Record(models.SessionRecord{
		Id:            id.String(),
		RoomId:        s.roomId,
		ParticipantId: s.connId,
		ProfileId:     s.profile.Id,
		Username:      s.profile.Username,
		JoinedAt:      s.joinedAt,
		LeftAt:        leftAt,
	})
}

// roomClosed queues the close summary. The send happens off the hub goroutine.
func (st *Stats) roomClosed(r *room.Room, closedAt time.Time) {
	if st == nil || st.RoomClosedQueue == nil {
		return
	}
	body, err := json.Marshal(worker.RoomClosedMessage{Summary: models.RoomSummary{
		RoomId:           r.Id,
		Epoch:            r.Epoch,
		OpenedAt:         r.CreatedAt,
		ClosedAt:         closedAt,
		PeakParticipants: r.PeakParticipants,
		ShapeCount:       r.Canvas.Len(),
	}})
	if err != nil {
		logrus.WithError(err).WithField("room_id", r.Id).Error("failed to marshal room-closed message")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.RoomClosedQueue.Send(ctx, body); err != nil {
			logrus.WithError(err).WithField("room_id", r.Id).Error("failed to send room-closed message")
		}
	}()
}

// RoomActivity is what the stats endpoint returns.
type RoomActivity struct {
	Stats          models.RoomStats       `json:"stats"`
	RecentSessions []models.SessionRecord `json:"recentSessions"`
}

const recentSessionsLimit = 20

// GetRoomActivity reads persisted counters and recent sessions. It does not
// touch live room state and is safe to call from any goroutine.
func (svc *Service) GetRoomActivity(ctx context.Context, roomId string) (RoomActivity, error) {
	if svc.Store == nil {
		return RoomActivity{}, ErrStatsDisabled
	}

	stats, err := svc.Store.GetRoomStats(ctx, roomId)
	if err != nil {
		return RoomActivity{}, err
	}

	sessions, err := svc.Store.GetRoomSessions(ctx, roomId, recentSessionsLimit)
	if err != nil && !errors.Is(err, store.ErrItemNotFound) {
		return RoomActivity{}, err
	}
	if sessions == nil {
		sessions = []models.SessionRecord{}
	}

	return RoomActivity{Stats: stats, RecentSessions: sessions}, nil
}
