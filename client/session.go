package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/zlnvch/holoboard/eraser"
	"github.com/zlnvch/holoboard/models"
	"github.com/zlnvch/holoboard/protocol"
	"golang.org/x/time/rate"
)

var (
	ErrRoomFull          = errors.New(protocol.ReasonRoomFull)
	ErrIncorrectPassword = errors.New(protocol.ReasonIncorrectPassword)
	ErrTooManyAttempts   = errors.New(protocol.ReasonTooManyAttempts)
	ErrConnectionLost    = errors.New("connection lost")
	ErrNotConnected      = errors.New("not connected")
	ErrShapeExists       = errors.New("shape id already on canvas")
	ErrCanvasFull        = errors.New("canvas is full")
	ErrNoActiveLine      = errors.New("no line is being drawn")
)

const (
	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = time.Second
	DefaultCursorInterval    = 50 * time.Millisecond

	joinTimeout = 10 * time.Second
	writeWait   = 10 * time.Second
)

type Config struct {
	// URL of the server's websocket endpoint, e.g. ws://localhost:8080/ws.
	URL      string
	RoomId   string
	Profile  models.UserProfile
	Password string

	// Cache defaults to an in-memory cache.
	Cache             CanvasCache
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	CursorInterval    time.Duration
	Dialer            *websocket.Dialer

	// OnMessage sees every server event after it has been applied. It runs
	// on the session's read goroutine.
	OnMessage func(protocol.Outbound)
}

// Session is one participant in one room. Local edits are applied to the
// replica first and then sent; server events are merged as they arrive.
// All methods are safe for concurrent use.
type Session struct {
	cfg           Config
	dialer        *websocket.Dialer
	cursorLimiter *rate.Limiter
	log           *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	conn          *websocket.Conn
	replica       *Replica
	participants  []models.Participant
	cursors       map[string]protocol.CursorMoved
	participantId string
	ticket        string
	activeShapeId string
	closing       bool

	writeMu sync.Mutex

	done chan struct{}
	err  error
}

// Dial connects and joins the room. Admission failures are returned as
// ErrRoomFull, ErrIncorrectPassword or ErrTooManyAttempts.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Cache == nil {
		cfg.Cache = NewMemoryCache()
	}
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = DefaultReconnectAttempts
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.CursorInterval <= 0 {
		cfg.CursorInterval = DefaultCursorInterval
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:           cfg,
		dialer:        dialer,
		cursorLimiter: rate.NewLimiter(rate.Every(cfg.CursorInterval), 1),
		log:           logrus.WithFields(logrus.Fields{"component": "client", "room_id": cfg.RoomId}),
		ctx:           sessionCtx,
		cancel:        cancel,
		replica:       NewReplica(),
		cursors:       make(map[string]protocol.CursorMoved),
		done:          make(chan struct{}),
	}

	conn, joined, err := s.connect(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	s.attach(conn, joined)

	go s.run(conn)
	return s, nil
}

// joinResult is what the server sends a connection it admits: join-success
// followed directly by the room's canvas.
type joinResult struct {
	success protocol.JoinSuccess
	state   protocol.CanvasState
}

// connect dials, sends join-room and reads up to the canvas-state that
// follows a successful join.
func (s *Session) connect(ctx context.Context) (*websocket.Conn, joinResult, error) {
	var joined joinResult
	conn, _, err := s.dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return nil, joined, err
	}

	s.mu.Lock()
	join := protocol.JoinRoom{
		RoomId:      s.cfg.RoomId,
		UserProfile: s.cfg.Profile,
		Password:    s.cfg.Password,
		Ticket:      s.ticket,
	}
	s.mu.Unlock()

	if err := s.writeFrame(conn, join); err != nil {
		conn.Close()
		return nil, joined, err
	}

	admitted := false
	conn.SetReadDeadline(time.Now().Add(joinTimeout))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return nil, joined, err
		}
		msg, err := protocol.DecodeServer(raw)
		if err != nil {
			s.log.WithError(err).Warn("dropping undecodable frame")
			continue
		}

		switch m := msg.(type) {
		case protocol.JoinSuccess:
			joined.success = m
			admitted = true
		case protocol.CanvasState:
			if admitted {
				joined.state = m
				conn.SetReadDeadline(time.Time{})
				return conn, joined, nil
			}
		case protocol.RoomFull:
			// join-error follows
		case protocol.JoinError:
			conn.Close()
			switch m.Message {
			case protocol.ReasonRoomFull:
				return nil, joined, ErrRoomFull
			case protocol.ReasonIncorrectPassword:
				return nil, joined, ErrIncorrectPassword
			case protocol.ReasonTooManyAttempts:
				return nil, joined, ErrTooManyAttempts
			default:
				return nil, joined, fmt.Errorf("join rejected: %s", m.Message)
			}
		}
	}
}

// attach makes conn current and reconciles the replica with the room's
// canvas. It refuses once Close has been called.
func (s *Session) attach(conn *websocket.Conn, joined joinResult) bool {
	var push []models.Shape

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return false
	}
	s.conn = conn
	s.participantId = joined.success.ParticipantId
	if joined.success.Ticket != "" {
		s.ticket = joined.success.Ticket
	}

	cached, err := s.cfg.Cache.Load(s.cfg.RoomId)
	if err != nil {
		s.log.WithError(err).Warn("failed to load cached canvas")
	}
	adopt, needPush := Reconcile(joined.state.Shapes, cached)
	s.replica.Replace(adopt)
	s.activeShapeId = ""
	s.saveLocked()
	if needPush {
		push = s.replica.Shapes()
	}
	s.mu.Unlock()

	if push != nil {
		s.log.WithField("shapes", len(push)).Info("server lost the room, restoring cached canvas")
		if err := s.send(protocol.CanvasStateUpdate{RoomId: s.cfg.RoomId, Shapes: push}); err != nil {
			s.log.WithError(err).Warn("failed to push cached canvas")
		}
	}
	if s.cfg.OnMessage != nil {
		s.cfg.OnMessage(joined.state)
	}
	return true
}

func (s *Session) run(conn *websocket.Conn) {
	for {
		err := s.readLoop(conn)

		s.mu.Lock()
		closing := s.closing
		s.conn = nil
		s.mu.Unlock()
		if closing {
			s.finish(nil)
			return
		}

		s.log.WithError(err).Warn("connection dropped, reconnecting")
		conn, err = s.reconnect()
		if err != nil || conn == nil {
			s.finish(err)
			return
		}
	}
}

func (s *Session) reconnect() (*websocket.Conn, error) {
	for attempt := 1; attempt <= s.cfg.ReconnectAttempts; attempt++ {
		select {
		case <-s.ctx.Done():
			return nil, nil
		case <-time.After(s.cfg.ReconnectDelay):
		}

		ctx, cancel := context.WithTimeout(s.ctx, joinTimeout)
		conn, joined, err := s.connect(ctx)
		cancel()
		if errors.Is(err, ErrRoomFull) || errors.Is(err, ErrIncorrectPassword) {
			return nil, err
		}
		if err != nil {
			s.log.WithError(err).WithField("attempt", attempt).Info("reconnect failed")
			continue
		}

		if !s.attach(conn, joined) {
			conn.Close()
			return nil, nil
		}
		s.log.WithField("participant_id", joined.success.ParticipantId).Info("rejoined room")
		return conn, nil
	}
	return nil, ErrConnectionLost
}

func (s *Session) finish(err error) {
	s.mu.Lock()
	if s.closing {
		err = nil
	}
	s.err = err
	s.mu.Unlock()
	s.cancel()
	close(s.done)
}

func (s *Session) readLoop(conn *websocket.Conn) error {
	defer conn.Close()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		msg, err := protocol.DecodeServer(raw)
		if err != nil {
			s.log.WithError(err).Warn("dropping undecodable frame")
			continue
		}
		s.apply(msg)
	}
}

func (s *Session) apply(msg protocol.Outbound) {
	s.mu.Lock()
	changed := false
	switch m := msg.(type) {
	case protocol.CanvasState:
		changed = s.replica.Apply(m)
		s.activeShapeId = ""
	case protocol.RoomParticipants:
		s.participants = m.Participants
		// The roster lists one connection per profile, so cursors are kept
		// for every connection of a listed profile.
		present := make(map[string]struct{}, len(m.Participants))
		for _, p := range m.Participants {
			present[p.Profile.Id] = struct{}{}
		}
		for id, c := range s.cursors {
			if _, ok := present[c.User.Id]; !ok {
				delete(s.cursors, id)
			}
		}
	case protocol.CursorMoved:
		s.cursors[m.UserId] = m
	case protocol.CursorLeft:
		delete(s.cursors, m.UserId)
	case protocol.ClearCanvas:
		changed = s.replica.Apply(m)
		s.activeShapeId = ""
	case protocol.ShapeDeleted:
		changed = s.replica.Apply(m)
		if m.Id == s.activeShapeId {
			s.activeShapeId = ""
		}
	default:
		changed = s.replica.Apply(msg)
	}
	if changed {
		s.saveLocked()
	}
	s.mu.Unlock()

	if s.cfg.OnMessage != nil {
		s.cfg.OnMessage(msg)
	}
}

func (s *Session) saveLocked() {
	if err := s.cfg.Cache.Save(s.cfg.RoomId, s.replica.Shapes()); err != nil {
		s.log.WithError(err).Warn("failed to cache canvas")
	}
}

func (s *Session) writeFrame(conn *websocket.Conn, msg protocol.Message) error {
	raw, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, raw)
}

func (s *Session) send(msg protocol.Inbound) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return s.writeFrame(conn, msg)
}

// local runs a replica mutation under the lock and caches the result.
func (s *Session) local(mutate func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := mutate(); err != nil {
		return err
	}
	s.saveLocked()
	return nil
}

func (s *Session) StartDrawing(shape models.Shape) error {
	var wire models.Shape
	err := s.local(func() error {
		if _, ok := s.replica.Get(shape.ShapeId()); ok {
			return ErrShapeExists
		}
		if !s.replica.Append(shape.Clone()) {
			return ErrCanvasFull
		}
		s.activeShapeId = ""
		if shape.ShapeType() == models.ShapeLine {
			s.activeShapeId = shape.ShapeId()
		}
		wire = shape.Clone()
		return nil
	})
	if err != nil {
		return err
	}
	return s.send(protocol.StartDrawing{RoomId: s.cfg.RoomId, Shape: wire})
}

// Draw extends the line started by the last StartDrawing.
func (s *Session) Draw(p models.Point) error {
	var id string
	err := s.local(func() error {
		id = s.activeShapeId
		if id == "" || !s.replica.AppendPoint(id, p) {
			return ErrNoActiveLine
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.send(protocol.Drawing{RoomId: s.cfg.RoomId, ShapeId: id, Point: p})
}

// UpdateShape re-sends the whole shape while a rect, circle, straight line or
// text is being dragged out.
func (s *Session) UpdateShape(shape models.Shape) error {
	var wire models.Shape
	s.local(func() error {
		s.replica.Upsert(shape.Clone())
		wire = shape.Clone()
		return nil
	})
	return s.send(protocol.DrawingShapeUpdate{RoomId: s.cfg.RoomId, Shape: wire})
}

func (s *Session) TransformShape(shape models.Shape) error {
	var wire models.Shape
	s.local(func() error {
		s.replica.Upsert(shape.Clone())
		wire = shape.Clone()
		return nil
	})
	return s.send(protocol.ShapeTransformed{RoomId: s.cfg.RoomId, Shape: wire})
}

func (s *Session) DeleteShape(id string) error {
	s.local(func() error {
		s.replica.Delete(id)
		if id == s.activeShapeId {
			s.activeShapeId = ""
		}
		return nil
	})
	return s.send(protocol.DeleteShape{RoomId: s.cfg.RoomId, Id: id})
}

func (s *Session) Clear() error {
	s.local(func() error {
		s.replica.Clear()
		s.activeShapeId = ""
		return nil
	})
	return s.send(protocol.Clear{RoomId: s.cfg.RoomId})
}

func (s *Session) FinishDrawing() error {
	s.mu.Lock()
	s.activeShapeId = ""
	s.mu.Unlock()
	return s.send(protocol.FinishDrawing{RoomId: s.cfg.RoomId})
}

// ReplaceCanvas overwrites the room with shapes.
func (s *Session) ReplaceCanvas(shapes []models.Shape) error {
	var wire []models.Shape
	s.local(func() error {
		s.replica.Replace(models.CloneShapes(shapes))
		s.activeShapeId = ""
		wire = s.replica.Shapes()
		return nil
	})
	return s.send(protocol.CanvasStateUpdate{RoomId: s.cfg.RoomId, Shapes: wire})
}

// MoveCursor sends the pointer position at most once per CursorInterval and
// reports whether this call was sent.
func (s *Session) MoveCursor(x, y float64) (bool, error) {
	if !s.cursorLimiter.Allow() {
		return false, nil
	}
	err := s.send(protocol.CursorMove{RoomId: s.cfg.RoomId, X: x, Y: y, User: s.cfg.Profile})
	return err == nil, err
}

// Erase runs one eraser pass at cursor. Hit shapes are deleted and surviving
// line fragments are started as new shapes, in that order.
func (s *Session) Erase(cursor models.Point, radius float64) error {
	var res eraser.Result
	var created []models.Shape
	err := s.local(func() error {
		res = eraser.Erase(s.replica.Shapes(), cursor, radius, newFragmentId)
		for _, id := range res.Deleted {
			s.replica.Delete(id)
			if id == s.activeShapeId {
				s.activeShapeId = ""
			}
		}
		for _, shape := range res.Created {
			s.replica.Append(shape)
			created = append(created, shape.Clone())
		}
		return nil
	})
	if err != nil || !res.Modified() {
		return err
	}

	for _, id := range res.Deleted {
		if err := s.send(protocol.DeleteShape{RoomId: s.cfg.RoomId, Id: id}); err != nil {
			return err
		}
	}
	for _, shape := range created {
		if err := s.send(protocol.StartDrawing{RoomId: s.cfg.RoomId, Shape: shape}); err != nil {
			return err
		}
	}
	return nil
}

func newFragmentId() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Must(uuid.NewV4()).String()
	}
	return id.String()
}

func (s *Session) Shapes() []models.Shape {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replica.Shapes()
}

func (s *Session) Participants() []models.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Participant, len(s.participants))
	copy(out, s.participants)
	return out
}

func (s *Session) Cursors() map[string]protocol.CursorMoved {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]protocol.CursorMoved, len(s.cursors))
	for id, c := range s.cursors {
		out[id] = c
	}
	return out
}

// ParticipantId is the server's id for the current connection. It changes on
// every reconnect.
func (s *Session) ParticipantId() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participantId
}

// Done is closed when the session ends, by Close or by giving up on
// reconnecting.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err is nil after Close and ErrConnectionLost after reconnecting failed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Leave tells the server before closing.
func (s *Session) Leave() error {
	if err := s.send(protocol.LeaveRoom{RoomId: s.cfg.RoomId}); err != nil && !errors.Is(err, ErrNotConnected) {
		s.log.WithError(err).Warn("failed to send leave-room")
	}
	return s.Close()
}

func (s *Session) Close() error {
	s.mu.Lock()
	s.closing = true
	conn := s.conn
	s.mu.Unlock()

	s.cancel()
	if conn != nil {
		s.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.writeMu.Unlock()
		conn.Close()
	}
	<-s.done
	return nil
}
