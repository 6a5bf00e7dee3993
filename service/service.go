package service

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zlnvch/holoboard/models"
	"github.com/zlnvch/holoboard/protocol"
	"github.com/zlnvch/holoboard/room"
	"github.com/zlnvch/holoboard/store"
	"golang.org/x/time/rate"
)

// A connection that keeps guessing passwords is refused further joins until
// its budget refills.
const (
	failedJoinInterval = time.Second
	failedJoinBurst    = 5
)

// Outbox is how the engine talks back to sockets. SendTo and Broadcast must
// serialise msg before returning; the engine mutates shapes afterwards.
type Outbox interface {
	SendTo(connId string, msg protocol.Outbound)
	// Broadcast reaches every member of roomId except exceptConnId ("" for
	// nobody) that joined before this call.
	Broadcast(roomId string, exceptConnId string, msg protocol.Outbound)
	Subscribe(connId string, roomId string)
	Unsubscribe(connId string, roomId string)
}

var ErrStatsDisabled = errors.New("room statistics are disabled")

// session is the engine's view of one joined connection.
type session struct {
	connId        string
	roomId        string
	profile       models.UserProfile
	activeShapeId string
	joinedAt      time.Time
}

// Service is the synchronisation engine. It is not safe for concurrent use:
// the hub goroutine calls Handle and Disconnect one event at a time.
type Service struct {
	Rooms     *room.Registry
	Store     store.BoardStore
	Stats     *Stats
	TicketTTL time.Duration

	ticketSecret []byte
	sessions     map[string]*session
	failedJoins  map[string]*rate.Limiter
	now          func() time.Time
	log          *logrus.Entry
}

// NewService builds the engine. boardStore and stats may be nil when activity
// statistics are disabled.
func NewService(rooms *room.Registry, boardStore store.BoardStore, stats *Stats, ticketSecret []byte) *Service {
	return &Service{
		Rooms:        rooms,
		Store:        boardStore,
		Stats:        stats,
		TicketTTL:    24 * time.Hour,
		ticketSecret: ticketSecret,
		sessions:     make(map[string]*session),
		failedJoins:  make(map[string]*rate.Limiter),
		now:          time.Now,
		log:          logrus.WithField("component", "service"),
	}
}

// RoomOf returns the room the connection has joined, or "".
func (svc *Service) RoomOf(connId string) string {
	if s, ok := svc.sessions[connId]; ok {
		return s.roomId
	}
	return ""
}

// ActiveShape returns the id of the line the connection is drawing, or "".
func (svc *Service) ActiveShape(connId string) string {
	if s, ok := svc.sessions[connId]; ok {
		return s.activeShapeId
	}
	return ""
}

// Handle applies one decoded client event.
func (svc *Service) Handle(connId string, ev protocol.Inbound, out Outbox) {
	switch m := ev.(type) {
	case protocol.JoinRoom:
		svc.join(connId, m, out)
		return
	case protocol.LeaveRoom:
		s, ok := svc.sessions[connId]
		if !ok || (m.RoomId != "" && m.RoomId != s.roomId) {
			svc.eventLog(connId, ev).Debug("leave for a room the connection is not in")
			return
		}
		svc.leave(s, out)
		return
	}

	s, ok := svc.sessions[connId]
	if !ok {
		svc.eventLog(connId, ev).Debug("event from a connection outside any room")
		return
	}
	if ev.Room() != "" && ev.Room() != s.roomId {
		svc.eventLog(connId, ev).WithField("joined_room", s.roomId).Warn("dropping event for a room the connection has not joined")
		return
	}
	r, ok := svc.Rooms.Get(s.roomId)
	if !ok {
		svc.eventLog(connId, ev).Debug("room no longer exists")
		return
	}

	switch m := ev.(type) {
	case protocol.StartDrawing:
		svc.startDrawing(s, r, m, out)
	case protocol.Drawing:
		svc.drawing(s, r, m, out)
	case protocol.DrawingShapeUpdate:
		svc.upsertShape(s, r, protocol.EventDrawingShapeUpdate, m.Shape, out)
	case protocol.ShapeTransformed:
		svc.upsertShape(s, r, protocol.EventShapeTransformed, m.Shape, out)
	case protocol.DeleteShape:
		svc.deleteShape(s, r, m, out)
	case protocol.CanvasStateUpdate:
		svc.replaceCanvas(s, r, m, out)
	case protocol.Clear:
		svc.clear(s, r, out)
	case protocol.CursorMove:
		out.Broadcast(r.Id, s.connId, protocol.CursorMoved{UserId: s.connId, X: m.X, Y: m.Y, User: m.User})
	case protocol.FinishDrawing:
		s.activeShapeId = ""
		out.Broadcast(r.Id, s.connId, protocol.DrawingFinished{})
	default:
		svc.eventLog(connId, ev).Warn("unhandled event")
	}
}

// Disconnect removes the connection from its room, if any. Safe to call more
// than once.
func (svc *Service) Disconnect(connId string, out Outbox) {
	delete(svc.failedJoins, connId)
	if s, ok := svc.sessions[connId]; ok {
		svc.leave(s, out)
	}
}

func (svc *Service) eventLog(connId string, ev protocol.Inbound) *logrus.Entry {
	return svc.log.WithFields(logrus.Fields{
		"conn_id": connId,
		"event":   ev.Event(),
		"room_id": ev.Room(),
	})
}
