package service

import (
	"github.com/sirupsen/logrus"
	"github.com/zlnvch/holoboard/models"
	"github.com/zlnvch/holoboard/protocol"
	"github.com/zlnvch/holoboard/room"
)

func (svc *Service) startDrawing(s *session, r *room.Room, m protocol.StartDrawing, out Outbox) {
	id := m.Shape.ShapeId()
	if !r.Canvas.Append(m.Shape) {
		svc.shapeLog(s, id).WithField("full", r.Canvas.Full()).Debug("start-drawing ignored")
		return
	}

	s.activeShapeId = ""
	if m.Shape.ShapeType() == models.ShapeLine {
		s.activeShapeId = id
	}

	svc.Stats.count(r.Id, models.CounterShapesStarted)
	out.Broadcast(r.Id, s.connId, protocol.ShapeRelay{Kind: protocol.EventStartDrawing, Shape: m.Shape})
}

// drawing extends the line named by the event, falling back to the line the
// connection started last.
func (svc *Service) drawing(s *session, r *room.Room, m protocol.Drawing, out Outbox) {
	id := m.ShapeId
	if id == "" {
		id = s.activeShapeId
	}
	if id == "" || !r.Canvas.AppendPoint(id, m.Point) {
		svc.shapeLog(s, id).Debug("drawing ignored, no such line")
		return
	}

	out.Broadcast(r.Id, s.connId, protocol.PointDrawn{ShapeId: id, Point: m.Point})
}

func (svc *Service) upsertShape(s *session, r *room.Room, kind string, shape models.Shape, out Outbox) {
	if !r.Canvas.Upsert(shape) {
		svc.shapeLog(s, shape.ShapeId()).Debug("shape update ignored, canvas full")
		return
	}

	svc.Stats.count(r.Id, models.CounterShapeUpdates)
	out.Broadcast(r.Id, s.connId, protocol.ShapeRelay{Kind: kind, Shape: shape})
}

func (svc *Service) deleteShape(s *session, r *room.Room, m protocol.DeleteShape, out Outbox) {
	if !r.Canvas.Delete(m.Id) {
		svc.shapeLog(s, m.Id).Debug("delete ignored, no such shape")
		return
	}

	svc.forgetActiveShapes(r, func(active string) bool { return active == m.Id })
	svc.Stats.count(r.Id, models.CounterShapesDeleted)
	out.Broadcast(r.Id, s.connId, protocol.ShapeDeleted{Id: m.Id})
}

func (svc *Service) replaceCanvas(s *session, r *room.Room, m protocol.CanvasStateUpdate, out Outbox) {
	dropped := r.Canvas.Replace(m.Shapes)
	svc.forgetActiveShapes(r, func(string) bool { return true })
	svc.Stats.count(r.Id, models.CounterCanvasReplacements)

	state := protocol.CanvasState{Shapes: r.Canvas.Snapshot()}
	if dropped > 0 {
		// The sender's copy no longer matches; hand it the room's version.
		svc.shapeLog(s, "").WithField("dropped", dropped).Warn("canvas-state-update trimmed")
		out.Broadcast(r.Id, "", state)
		return
	}
	out.Broadcast(r.Id, s.connId, state)
}

func (svc *Service) clear(s *session, r *room.Room, out Outbox) {
	r.Canvas.Clear()
	svc.forgetActiveShapes(r, func(string) bool { return true })
	svc.Stats.count(r.Id, models.CounterClears)
	out.Broadcast(r.Id, "", protocol.ClearCanvas{})
}

func (svc *Service) forgetActiveShapes(r *room.Room, match func(active string) bool) {
	for _, p := range r.Participants() {
		if other, ok := svc.sessions[p.Id]; ok && other.activeShapeId != "" && match(other.activeShapeId) {
			other.activeShapeId = ""
		}
	}
}

func (svc *Service) shapeLog(s *session, shapeId string) *logrus.Entry {
	return svc.log.WithFields(logrus.Fields{
		"conn_id":  s.connId,
		"room_id":  s.roomId,
		"shape_id": shapeId,
	})
}
