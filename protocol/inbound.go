package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/zlnvch/holoboard/models"
)

const (
	maxProfileIdLength = 64
	maxUsernameLength  = 128
	maxPasswordLength  = 256
)

// Inbound is a client to server event. Room returns the room id named by
// the payload, or "" when the event relies on the connection's joined room.
type Inbound interface {
	Message
	Room() string
}

type JoinRoom struct {
	RoomId      string             `json:"roomId"`
	UserProfile models.UserProfile `json:"userProfile"`
	Password    string             `json:"password,omitempty"`
	Ticket      string             `json:"ticket,omitempty"`
}

type LeaveRoom struct {
	RoomId string
}

type StartDrawing struct {
	RoomId string
	Shape  models.Shape
}

type Drawing struct {
	RoomId  string
	ShapeId string
	Point   models.Point
}

type DrawingShapeUpdate struct {
	RoomId string
	Shape  models.Shape
}

type ShapeTransformed struct {
	RoomId string
	Shape  models.Shape
}

type DeleteShape struct {
	RoomId string `json:"roomId"`
	Id     string `json:"id"`
}

type CanvasStateUpdate struct {
	RoomId string
	Shapes []models.Shape
}

type Clear struct {
	RoomId string
}

type CursorMove struct {
	RoomId string             `json:"roomId"`
	X      float64            `json:"x"`
	Y      float64            `json:"y"`
	User   models.UserProfile `json:"user"`
}

type FinishDrawing struct {
	RoomId string
}

func (JoinRoom) Event() string           { return EventJoinRoom }
func (LeaveRoom) Event() string          { return EventLeaveRoom }
func (StartDrawing) Event() string       { return EventStartDrawing }
func (Drawing) Event() string            { return EventDrawing }
func (DrawingShapeUpdate) Event() string { return EventDrawingShapeUpdate }
func (ShapeTransformed) Event() string   { return EventShapeTransformed }
func (DeleteShape) Event() string        { return EventDeleteShape }
func (CanvasStateUpdate) Event() string  { return EventCanvasStateUpdate }
func (Clear) Event() string              { return EventClear }
func (CursorMove) Event() string         { return EventCursorMove }
func (FinishDrawing) Event() string      { return EventFinishDrawing }

func (m JoinRoom) Room() string           { return m.RoomId }
func (m LeaveRoom) Room() string          { return m.RoomId }
func (m StartDrawing) Room() string       { return m.RoomId }
func (m Drawing) Room() string            { return m.RoomId }
func (m DrawingShapeUpdate) Room() string { return m.RoomId }
func (m ShapeTransformed) Room() string   { return m.RoomId }
func (m DeleteShape) Room() string        { return m.RoomId }
func (m CanvasStateUpdate) Room() string  { return m.RoomId }
func (m Clear) Room() string              { return m.RoomId }
func (m CursorMove) Room() string         { return m.RoomId }
func (m FinishDrawing) Room() string      { return m.RoomId }

type shapeWithRoom struct {
	Shape  models.Shape `json:"shape"`
	RoomId string       `json:"roomId"`
}

type pointWithRoom struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	RoomId  string  `json:"roomId"`
	ShapeId string  `json:"shapeId,omitempty"`
}

type shapesWithRoom struct {
	Shapes []models.Shape `json:"shapes"`
	RoomId string         `json:"roomId"`
}

func (m JoinRoom) Payload() any  { return m }
func (m LeaveRoom) Payload() any { return m.RoomId }

// The web client spreads the shape and adds roomId next to its fields.
func (m StartDrawing) Payload() any {
	return flatShape{shape: m.Shape, roomId: m.RoomId}
}

func (m Drawing) Payload() any {
	return pointWithRoom{X: m.Point.X, Y: m.Point.Y, RoomId: m.RoomId, ShapeId: m.ShapeId}
}

func (m DrawingShapeUpdate) Payload() any { return shapeWithRoom{Shape: m.Shape, RoomId: m.RoomId} }
func (m ShapeTransformed) Payload() any   { return shapeWithRoom{Shape: m.Shape, RoomId: m.RoomId} }
func (m DeleteShape) Payload() any        { return m }

func (m CanvasStateUpdate) Payload() any {
	shapes := m.Shapes
	if shapes == nil {
		shapes = []models.Shape{}
	}
	return shapesWithRoom{Shapes: shapes, RoomId: m.RoomId}
}

func (m Clear) Payload() any      { return m.RoomId }
func (m CursorMove) Payload() any { return m }

func (m FinishDrawing) Payload() any {
	if m.RoomId == "" {
		return nil
	}
	return m.RoomId
}

// flatShape marshals a shape with a roomId field merged into the object.
type flatShape struct {
	shape  models.Shape
	roomId string
}

func (f flatShape) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(f.shape)
	if err != nil {
		return nil, err
	}
	b = bytes.TrimSpace(b)
	if len(b) < 2 || b[len(b)-1] != '}' {
		return nil, fmt.Errorf("shape did not marshal to an object")
	}
	var buf bytes.Buffer
	buf.Write(b[:len(b)-1])
	if buf.Len() > 1 {
		buf.WriteByte(',')
	}
	buf.WriteString(`"roomId":`)
	buf.WriteString(strconv.Quote(f.roomId))
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Decode parses one client frame into a typed event. Errors wrap
// ErrUnknownEvent or ErrInvalidPayload (or a models shape error).
func Decode(raw []byte) (Inbound, error) {
	env, err := splitEnvelope(raw)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case EventJoinRoom:
		var m JoinRoom
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, invalid(env.Type, err)
		}
		if err := validateJoin(&m); err != nil {
			return nil, err
		}
		return m, nil

	case EventLeaveRoom:
		roomId, err := decodeRoomString(env.Data)
		if err != nil {
			return nil, invalid(env.Type, err)
		}
		if roomId != "" && !ValidRoomId(roomId) {
			return nil, invalidf(env.Type, "bad room id %q", roomId)
		}
		return LeaveRoom{RoomId: roomId}, nil

	case EventStartDrawing:
		var room struct {
			RoomId string `json:"roomId"`
		}
		if err := json.Unmarshal(env.Data, &room); err != nil {
			return nil, invalid(env.Type, err)
		}
		if err := requireRoom(env.Type, room.RoomId); err != nil {
			return nil, err
		}
		shape, err := models.DecodeShape(env.Data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", env.Type, err)
		}
		return StartDrawing{RoomId: room.RoomId, Shape: shape}, nil

	case EventDrawing:
		var p pointWithRoom
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, invalid(env.Type, err)
		}
		if err := requireRoom(env.Type, p.RoomId); err != nil {
			return nil, err
		}
		if !finite(p.X, p.Y) {
			return nil, invalidf(env.Type, "point is not finite")
		}
		if len(p.ShapeId) > models.MaxShapeIdLength {
			return nil, invalidf(env.Type, "shape id too long")
		}
		return Drawing{RoomId: p.RoomId, ShapeId: p.ShapeId, Point: models.Point{X: p.X, Y: p.Y}}, nil

	case EventDrawingShapeUpdate, EventShapeTransformed:
		roomId, shape, err := decodeShapeWithRoom(env)
		if err != nil {
			return nil, err
		}
		if env.Type == EventDrawingShapeUpdate {
			return DrawingShapeUpdate{RoomId: roomId, Shape: shape}, nil
		}
		return ShapeTransformed{RoomId: roomId, Shape: shape}, nil

	case EventDeleteShape:
		var m DeleteShape
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, invalid(env.Type, err)
		}
		if err := requireRoom(env.Type, m.RoomId); err != nil {
			return nil, err
		}
		if m.Id == "" || len(m.Id) > models.MaxShapeIdLength {
			return nil, invalidf(env.Type, "bad shape id")
		}
		return m, nil

	case EventCanvasStateUpdate:
		var m struct {
			Shapes json.RawMessage `json:"shapes"`
			RoomId string          `json:"roomId"`
		}
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, invalid(env.Type, err)
		}
		if err := requireRoom(env.Type, m.RoomId); err != nil {
			return nil, err
		}
		if isAbsent(m.Shapes) {
			return nil, invalidf(env.Type, "missing shapes")
		}
		shapes, err := models.DecodeShapes(m.Shapes)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", env.Type, err)
		}
		return CanvasStateUpdate{RoomId: m.RoomId, Shapes: shapes}, nil

	case EventClear:
		roomId, err := decodeRoomString(env.Data)
		if err != nil {
			return nil, invalid(env.Type, err)
		}
		if roomId != "" && !ValidRoomId(roomId) {
			return nil, invalidf(env.Type, "bad room id %q", roomId)
		}
		return Clear{RoomId: roomId}, nil

	case EventCursorMove:
		var m CursorMove
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, invalid(env.Type, err)
		}
		if err := requireRoom(env.Type, m.RoomId); err != nil {
			return nil, err
		}
		if !finite(m.X, m.Y) {
			return nil, invalidf(env.Type, "position is not finite")
		}
		if err := validateProfile(env.Type, &m.User); err != nil {
			return nil, err
		}
		return m, nil

	case EventFinishDrawing:
		// The web client sends no payload; a room id string is tolerated.
		roomId, err := decodeRoomString(env.Data)
		if err != nil {
			return FinishDrawing{}, nil
		}
		return FinishDrawing{RoomId: roomId}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
}

func decodeShapeWithRoom(env Envelope) (string, models.Shape, error) {
	var m struct {
		Shape  json.RawMessage `json:"shape"`
		RoomId string          `json:"roomId"`
	}
	if err := json.Unmarshal(env.Data, &m); err != nil {
		return "", nil, invalid(env.Type, err)
	}
	if err := requireRoom(env.Type, m.RoomId); err != nil {
		return "", nil, err
	}
	if isAbsent(m.Shape) {
		return "", nil, invalidf(env.Type, "missing shape")
	}
	shape, err := models.DecodeShape(m.Shape)
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", env.Type, err)
	}
	return m.RoomId, shape, nil
}

func requireRoom(event, roomId string) error {
	if !ValidRoomId(roomId) {
		return invalidf(event, "bad room id %q", roomId)
	}
	return nil
}

func validateJoin(m *JoinRoom) error {
	if err := requireRoom(EventJoinRoom, m.RoomId); err != nil {
		return err
	}
	if len(m.Password) > maxPasswordLength {
		return invalidf(EventJoinRoom, "password too long")
	}
	return validateProfile(EventJoinRoom, &m.UserProfile)
}

// validateProfile rejects profiles without an id or username and normalises
// the avatar.
func validateProfile(event string, p *models.UserProfile) error {
	if p.Id == "" || len(p.Id) > maxProfileIdLength {
		return invalidf(event, "bad profile id")
	}
	if p.Username == "" || len(p.Username) > maxUsernameLength {
		return invalidf(event, "bad username")
	}
	p.Avatar = models.NormalizeAvatar(p.Avatar)
	return nil
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// IsMalformed reports whether err came from a frame that failed validation,
// as opposed to an unknown event type.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrInvalidPayload) ||
		errors.Is(err, models.ErrInvalidShape) ||
		errors.Is(err, models.ErrUnknownShapeType)
}
