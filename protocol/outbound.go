package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/zlnvch/holoboard/models"
)

// Outbound is a server to client event.
type Outbound interface {
	Message
	outbound()
}

type RoomFull struct{}

type JoinError struct {
	Message string `json:"message"`
}

type JoinSuccess struct {
	RoomId        string `json:"roomId"`
	ParticipantId string `json:"participantId"`
	Ticket        string `json:"ticket,omitempty"`
}

type CanvasState struct {
	Shapes []models.Shape
}

type RoomParticipants struct {
	Participants []models.Participant
}

// ShapeRelay carries a whole shape for start-drawing, drawing-shape-update
// and shape-transformed.
type ShapeRelay struct {
	Kind  string
	Shape models.Shape
}

type PointDrawn struct {
	ShapeId string
	Point   models.Point
}

type ShapeDeleted struct {
	Id string
}

type ClearCanvas struct{}

type CursorMoved struct {
	UserId string             `json:"userId"`
	X      float64            `json:"x"`
	Y      float64            `json:"y"`
	User   models.UserProfile `json:"user"`
}

type CursorLeft struct {
	UserId string
}

type DrawingFinished struct{}

func (RoomFull) Event() string         { return EventRoomFull }
func (JoinError) Event() string        { return EventJoinError }
func (JoinSuccess) Event() string      { return EventJoinSuccess }
func (CanvasState) Event() string      { return EventCanvasState }
func (RoomParticipants) Event() string { return EventRoomParticipants }
func (m ShapeRelay) Event() string     { return m.Kind }
func (PointDrawn) Event() string       { return EventDrawing }
func (ShapeDeleted) Event() string     { return EventShapeDeleted }
func (ClearCanvas) Event() string      { return EventClear }
func (CursorMoved) Event() string      { return EventCursorMove }
func (CursorLeft) Event() string       { return EventCursorLeave }
func (DrawingFinished) Event() string  { return EventFinishDrawing }

func (RoomFull) Payload() any      { return nil }
func (m JoinError) Payload() any   { return m }
func (m JoinSuccess) Payload() any { return m }

func (m CanvasState) Payload() any {
	if m.Shapes == nil {
		return []models.Shape{}
	}
	return m.Shapes
}

func (m RoomParticipants) Payload() any {
	if m.Participants == nil {
		return []models.Participant{}
	}
	return m.Participants
}

func (m ShapeRelay) Payload() any { return m.Shape }

func (m PointDrawn) Payload() any {
	return struct {
		X       float64 `json:"x"`
		Y       float64 `json:"y"`
		ShapeId string  `json:"shapeId,omitempty"`
	}{m.Point.X, m.Point.Y, m.ShapeId}
}

func (m ShapeDeleted) Payload() any  { return m.Id }
func (ClearCanvas) Payload() any     { return nil }
func (m CursorMoved) Payload() any   { return m }
func (m CursorLeft) Payload() any    { return m.UserId }
func (DrawingFinished) Payload() any { return nil }

func (RoomFull) outbound()         {}
func (JoinError) outbound()        {}
func (JoinSuccess) outbound()      {}
func (CanvasState) outbound()      {}
func (RoomParticipants) outbound() {}
func (ShapeRelay) outbound()       {}
func (PointDrawn) outbound()       {}
func (ShapeDeleted) outbound()     {}
func (ClearCanvas) outbound()      {}
func (CursorMoved) outbound()      {}
func (CursorLeft) outbound()       {}
func (DrawingFinished) outbound()  {}

// DecodeServer parses one server frame. It is used by the Go client.
func DecodeServer(raw []byte) (Outbound, error) {
	env, err := splitEnvelope(raw)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case EventRoomFull:
		return RoomFull{}, nil

	case EventJoinError:
		var m JoinError
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, invalid(env.Type, err)
		}
		return m, nil

	case EventJoinSuccess:
		var m JoinSuccess
		if !isAbsent(env.Data) {
			if err := json.Unmarshal(env.Data, &m); err != nil {
				return nil, invalid(env.Type, err)
			}
		}
		return m, nil

	case EventCanvasState:
		if isAbsent(env.Data) {
			return CanvasState{Shapes: []models.Shape{}}, nil
		}
		shapes, err := models.DecodeShapes(env.Data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", env.Type, err)
		}
		return CanvasState{Shapes: shapes}, nil

	case EventRoomParticipants:
		var ps []models.Participant
		if err := json.Unmarshal(env.Data, &ps); err != nil {
			return nil, invalid(env.Type, err)
		}
		return RoomParticipants{Participants: ps}, nil

	case EventStartDrawing, EventDrawingShapeUpdate, EventShapeTransformed:
		shape, err := models.DecodeShape(env.Data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", env.Type, err)
		}
		return ShapeRelay{Kind: env.Type, Shape: shape}, nil

	case EventDrawing:
		var p pointWithRoom
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, invalid(env.Type, err)
		}
		return PointDrawn{ShapeId: p.ShapeId, Point: models.Point{X: p.X, Y: p.Y}}, nil

	case EventShapeDeleted:
		var id string
		if err := json.Unmarshal(env.Data, &id); err != nil {
			return nil, invalid(env.Type, err)
		}
		return ShapeDeleted{Id: id}, nil

	case EventClear:
		return ClearCanvas{}, nil

	case EventCursorMove:
		var m CursorMoved
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, invalid(env.Type, err)
		}
		return m, nil

	case EventCursorLeave:
		var id string
		if err := json.Unmarshal(env.Data, &id); err != nil {
			return nil, invalid(env.Type, err)
		}
		return CursorLeft{UserId: id}, nil

	case EventFinishDrawing:
		return DrawingFinished{}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
}
