// Package room owns room and participant records. A Registry is not safe for
// concurrent use; the hub goroutine is its only caller.
package room

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/zlnvch/holoboard/canvas"
	"github.com/zlnvch/holoboard/models"
	"github.com/zlnvch/holoboard/protocol"
	"golang.org/x/crypto/blake2b"
)

const (
	DefaultCapacity   = 5
	DefaultShapeLimit = protocol.MaxCanvasShapes
)

var (
	ErrRoomFull          = errors.New("room-full")
	ErrIncorrectPassword = errors.New("incorrect-password")
)

type Room struct {
	Id        string
	Epoch     string
	CreatedAt time.Time
	Canvas    *canvas.Canvas

	PeakParticipants int

	// The password is kept as a BLAKE2b MAC under a per-room random key.
	// Checks run on the hub goroutine, so they have to stay cheap.
	passwordKey    []byte
	passwordDigest []byte
	participants   []models.Participant
}

func (r *Room) HasPassword() bool {
	return len(r.passwordDigest) > 0
}

func (r *Room) Len() int {
	return len(r.participants)
}

func (r *Room) Participants() []models.Participant {
	out := make([]models.Participant, len(r.participants))
	copy(out, r.participants)
	return out
}

// Roster is the participant list as broadcast to members: one entry per
// profile, the earliest connection of that profile representing it.
func (r *Room) Roster() []models.Participant {
	seen := make(map[string]struct{}, len(r.participants))
	out := make([]models.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		if _, ok := seen[p.Profile.Id]; ok {
			continue
		}
		seen[p.Profile.Id] = struct{}{}
		out = append(out, p)
	}
	return out
}

func (r *Room) indexOf(participantId string) int {
	for i, p := range r.participants {
		if p.Id == participantId {
			return i
		}
	}
	return -1
}

func (r *Room) checkPassword(password string) error {
	if !r.HasPassword() {
		return nil
	}
	if password == "" {
		return ErrIncorrectPassword
	}
	digest, err := passwordDigest(r.passwordKey, password)
	if err != nil || subtle.ConstantTimeCompare(digest, r.passwordDigest) != 1 {
		return ErrIncorrectPassword
	}
	return nil
}

func passwordDigest(key []byte, password string) ([]byte, error) {
	h, err := blake2b.New256(key)
	if err != nil {
		return nil, err
	}
	h.Write([]byte(password))
	return h.Sum(nil), nil
}

// Credentials accompany a join. Password is checked against the room's hash
// unless TicketEpoch names the room's current epoch.
type Credentials struct {
	Password    string
	TicketEpoch string
}

type Registry struct {
	rooms      map[string]*Room
	capacity   int
	shapeLimit int
	now        func() time.Time
}

func NewRegistry(capacity, shapeLimit int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		rooms:      make(map[string]*Room),
		capacity:   capacity,
		shapeLimit: shapeLimit,
		now:        time.Now,
	}
}

func (reg *Registry) Capacity() int {
	return reg.capacity
}

func (reg *Registry) Get(roomId string) (*Room, bool) {
	r, ok := reg.rooms[roomId]
	return r, ok
}

func (reg *Registry) Len() int {
	return len(reg.rooms)
}

// Join admits p into roomId, creating the room when absent. The first joiner
// of a new room sets its password. Capacity is checked before the password.
// A participant already in the room only has its profile refreshed. The
// returned bool reports whether the room was created by this call.
func (reg *Registry) Join(roomId string, p models.Participant, creds Credentials) (*Room, bool, error) {
	r, ok := reg.rooms[roomId]
	if !ok {
		r, err := reg.create(roomId, creds.Password)
		if err != nil {
			return nil, false, err
		}
		r.participants = append(r.participants, p)
		r.PeakParticipants = 1
		return r, true, nil
	}

	if i := r.indexOf(p.Id); i >= 0 {
		r.participants[i].Profile = p.Profile
		return r, false, nil
	}

	if len(r.participants) >= reg.capacity {
		return nil, false, ErrRoomFull
	}

	if creds.TicketEpoch == "" || creds.TicketEpoch != r.Epoch {
		if err := r.checkPassword(creds.Password); err != nil {
			return nil, false, err
		}
	}

	r.participants = append(r.participants, p)
	if len(r.participants) > r.PeakParticipants {
		r.PeakParticipants = len(r.participants)
	}
	return r, false, nil
}

func (reg *Registry) create(roomId, password string) (*Room, error) {
	epoch, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	r := &Room{
		Id:        roomId,
		Epoch:     epoch.String(),
		CreatedAt: reg.now(),
		Canvas:    canvas.NewBounded(reg.shapeLimit, protocol.MaxCanvasBytes),
	}
	if password != "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		digest, err := passwordDigest(key, password)
		if err != nil {
			return nil, err
		}
		r.passwordKey = key
		r.passwordDigest = digest
	}
	reg.rooms[roomId] = r
	return r, nil
}

// Leave removes the participant. It is a no-op for unknown rooms or
// participants. When the room empties, its record is deleted and returned as
// closed.
func (reg *Registry) Leave(roomId, participantId string) (r *Room, removed bool, closed bool) {
	r, ok := reg.rooms[roomId]
	if !ok {
		return nil, false, false
	}
	i := r.indexOf(participantId)
	if i < 0 {
		return r, false, false
	}
	r.participants = append(r.participants[:i], r.participants[i+1:]...)
	if len(r.participants) == 0 {
		delete(reg.rooms, roomId)
		return r, true, true
	}
	return r, true, false
}
