package service

import (
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/zlnvch/holoboard/models"
	"github.com/zlnvch/holoboard/protocol"
	"github.com/zlnvch/holoboard/room"
	"golang.org/x/time/rate"
)

func (svc *Service) join(connId string, m protocol.JoinRoom, out Outbox) {
	log := svc.log.WithFields(logrus.Fields{"conn_id": connId, "room_id": m.RoomId})

	if svc.joinThrottled(connId) {
		log.Warn("join refused, too many failed attempts")
		out.SendTo(connId, protocol.JoinError{Message: protocol.ReasonTooManyAttempts})
		return
	}

	s, inRoom := svc.sessions[connId]
	if inRoom && s.roomId != m.RoomId {
		svc.leave(s, out)
		inRoom = false
	}

	creds := room.Credentials{Password: m.Password}
	if m.Ticket != "" {
		epoch, err := svc.VerifyTicket(m.Ticket, m.RoomId)
		if err != nil {
			log.WithError(err).Debug("ignoring rejoin ticket")
		} else {
			creds.TicketEpoch = epoch
		}
	}

	r, created, err := svc.Rooms.Join(m.RoomId, models.Participant{Id: connId, Profile: m.UserProfile}, creds)
	if err != nil {
		switch {
		case errors.Is(err, room.ErrRoomFull):
			out.SendTo(connId, protocol.RoomFull{})
			out.SendTo(connId, protocol.JoinError{Message: protocol.ReasonRoomFull})
		case errors.Is(err, room.ErrIncorrectPassword):
			svc.recordFailedJoin(connId)
			out.SendTo(connId, protocol.JoinError{Message: protocol.ReasonIncorrectPassword})
		default:
			log.WithError(err).Error("join failed")
			out.SendTo(connId, protocol.JoinError{Message: protocol.ReasonJoinFailed})
			return
		}
		log.WithError(err).Info("join rejected")
		svc.Stats.count(m.RoomId, models.CounterRejections)
		return
	}

	if inRoom {
		s.profile = m.UserProfile
	} else {
		s = &session{
			connId:   connId,
			roomId:   r.Id,
			profile:  m.UserProfile,
			joinedAt: svc.now(),
		}
		svc.sessions[connId] = s
		out.Subscribe(connId, r.Id)
		svc.Stats.count(r.Id, models.CounterJoins)
	}

	ticket, err := svc.CreateTicket(r.Id, r.Epoch)
	if err != nil {
		log.WithError(err).Error("failed to sign rejoin ticket")
	}

	out.SendTo(connId, protocol.JoinSuccess{RoomId: r.Id, ParticipantId: connId, Ticket: ticket})
	out.SendTo(connId, protocol.CanvasState{Shapes: r.Canvas.Snapshot()})
	out.Broadcast(r.Id, "", protocol.RoomParticipants{Participants: r.Roster()})

	log.WithFields(logrus.Fields{"created": created, "participants": r.Len()}).Info("joined room")
}

func (svc *Service) joinThrottled(connId string) bool {
	lim, ok := svc.failedJoins[connId]
	return ok && lim.TokensAt(svc.now()) < 1
}

func (svc *Service) recordFailedJoin(connId string) {
	lim, ok := svc.failedJoins[connId]
	if !ok {
		lim = rate.NewLimiter(rate.Every(failedJoinInterval), failedJoinBurst)
		svc.failedJoins[connId] = lim
	}
	lim.AllowN(svc.now(), 1)
}

func (svc *Service) leave(s *session, out Outbox) {
	delete(svc.sessions, s.connId)
	out.Unsubscribe(s.connId, s.roomId)

	r, removed, closed := svc.Rooms.Leave(s.roomId, s.connId)
	if !removed {
		return
	}

	leftAt := svc.now()
	svc.Stats.count(s.roomId, models.CounterLeaves)
	svc.Stats.recordSession(s, leftAt)

	log := svc.log.WithFields(logrus.Fields{"conn_id": s.connId, "room_id": s.roomId})
	if closed {
		log.Info("last participant left, room destroyed")
		svc.Stats.roomClosed(r, leftAt)
		return
	}

	out.Broadcast(r.Id, s.connId, protocol.CursorLeft{UserId: s.connId})
	out.Broadcast(r.Id, "", protocol.RoomParticipants{Participants: r.Roster()})
	log.WithField("participants", r.Len()).Info("left room")
}
