// Package protocol defines the websocket message catalog. Every frame is a
// JSON envelope {"type": <event>, "data": <payload>}.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

const (
	EventJoinRoom           = "join-room"
	EventLeaveRoom          = "leave-room"
	EventRoomFull           = "room-full"
	EventJoinError          = "join-error"
	EventJoinSuccess        = "join-success"
	EventCanvasState        = "canvas-state"
	EventRoomParticipants   = "room-participants"
	EventStartDrawing       = "start-drawing"
	EventDrawing            = "drawing"
	EventDrawingShapeUpdate = "drawing-shape-update"
	EventShapeTransformed   = "shape-transformed"
	EventDeleteShape        = "delete-shape"
	EventShapeDeleted       = "shape-deleted"
	EventCanvasStateUpdate  = "canvas-state-update"
	EventClear              = "clear"
	EventCursorMove         = "cursor-move"
	EventCursorLeave        = "cursor-leave"
	EventFinishDrawing      = "finish-drawing"
)

// Join error messages carried by join-error.
const (
	ReasonRoomFull          = "room-full"
	ReasonIncorrectPassword = "incorrect-password"
	ReasonTooManyAttempts   = "too-many-attempts"
	ReasonJoinFailed        = "join-failed"
)

const (
	// MaxFrameSize bounds every frame a server reads.
	MaxFrameSize = 16 << 20

	// MaxCanvasShapes and MaxCanvasBytes bound a room's list so that a
	// canvas-state-update carrying all of it stays under MaxFrameSize.
	MaxCanvasShapes = 5000
	MaxCanvasBytes  = MaxFrameSize - 64<<10
)

var (
	ErrUnknownEvent   = errors.New("unknown event")
	ErrInvalidPayload = errors.New("invalid payload")
)

var roomIdRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func ValidRoomId(roomId string) bool {
	return roomIdRegex.MatchString(roomId)
}

type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Message is anything that can be put on the wire.
type Message interface {
	Event() string
	// Payload returns the value marshalled into the envelope's data field,
	// or nil for events without a payload.
	Payload() any
}

func Encode(m Message) ([]byte, error) {
	env := Envelope{Type: m.Event()}
	if p := m.Payload(); p != nil {
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", m.Event(), err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

func splitEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrInvalidPayload)
	}
	return env, nil
}

func invalid(event string, err error) error {
	return fmt.Errorf("%s: %w: %v", event, ErrInvalidPayload, err)
}

func invalidf(event string, format string, args ...any) error {
	return fmt.Errorf("%s: %w: %s", event, ErrInvalidPayload, fmt.Sprintf(format, args...))
}

// decodeRoomString reads a payload that is just a room id. A missing payload
// yields "".
func decodeRoomString(data json.RawMessage) (string, error) {
	if len(data) == 0 || string(data) == "null" {
		return "", nil
	}
	var roomId string
	if err := json.Unmarshal(data, &roomId); err != nil {
		return "", err
	}
	return roomId, nil
}

func isAbsent(data json.RawMessage) bool {
	return len(data) == 0 || string(data) == "null"
}
