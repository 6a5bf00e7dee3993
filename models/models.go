package models

import "time"

type Avatar string

const (
	AvatarRobot  Avatar = "robot"
	AvatarAlien  Avatar = "alien"
	AvatarRocket Avatar = "rocket"
	AvatarGem    Avatar = "gem"
	AvatarAtom   Avatar = "atom"
)

var avatarPresets = map[Avatar]struct{}{
	AvatarRobot:  {},
	AvatarAlien:  {},
	AvatarRocket: {},
	AvatarGem:    {},
	AvatarAtom:   {},
}

// NormalizeAvatar maps anything outside the preset list to the robot avatar.
func NormalizeAvatar(a Avatar) Avatar {
	if _, ok := avatarPresets[a]; ok {
		return a
	}
	return AvatarRobot
}

// UserProfile is self-asserted by the client. The same profile can be held by
// several connections at once.
type UserProfile struct {
	Id       string `json:"id"`
	Username string `json:"username"`
	Avatar   Avatar `json:"avatar"`
}

// Participant is one live connection inside a room.
type Participant struct {
	Id      string      `json:"id"`
	Profile UserProfile `json:"profile"`
}

// Counter names double as DynamoDB attribute names on the room stats item.
const (
	CounterJoins              = "Joins"
	CounterLeaves             = "Leaves"
	CounterRejections         = "Rejections"
	CounterShapesStarted      = "ShapesStarted"
	CounterShapeUpdates       = "ShapeUpdates"
	CounterShapesDeleted      = "ShapesDeleted"
	CounterCanvasReplacements = "CanvasReplacements"
	CounterClears             = "Clears"
	CounterClosures           = "Closures"
)

type RoomStats struct {
	RoomId             string `json:"roomId"`
	Joins              int    `json:"joins"`
	Leaves             int    `json:"leaves"`
	Rejections         int    `json:"rejections"`
	ShapesStarted      int    `json:"shapesStarted"`
	ShapeUpdates       int    `json:"shapeUpdates"`
	ShapesDeleted      int    `json:"shapesDeleted"`
	CanvasReplacements int    `json:"canvasReplacements"`
	Clears             int    `json:"clears"`
	Closures           int    `json:"closures"`
}

// SessionRecord describes one participant's stay in a room.
type SessionRecord struct {
	Id            string    `json:"id"`
	RoomId        string    `json:"roomId"`
	ParticipantId string    `json:"participantId"`
	ProfileId     string    `json:"profileId"`
	Username      string    `json:"username"`
	JoinedAt      time.Time `json:"joinedAt"`
	LeftAt        time.Time `json:"leftAt"`
}

// RoomSummary is written once when a room record is destroyed.
type RoomSummary struct {
	RoomId           string    `json:"roomId"`
	Epoch            string    `json:"epoch"`
	OpenedAt         time.Time `json:"openedAt"`
	ClosedAt         time.Time `json:"closedAt"`
	PeakParticipants int       `json:"peakParticipants"`
	ShapeCount       int       `json:"shapeCount"`
}
