package service_test

import (
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zlnvch/holoboard/models"
	mqmocks "github.com/zlnvch/holoboard/mq/mocks"
	"github.com/zlnvch/holoboard/protocol"
	"github.com/zlnvch/holoboard/room"
	"github.com/zlnvch/holoboard/service"
	storemocks "github.com/zlnvch/holoboard/store/mocks"
	"github.com/zlnvch/holoboard/worker"
)

// recordingOutbox delivers like the hub does, but synchronously. Every
// message goes through the wire codec so tests see exactly what a client
// would.
type recordingOutbox struct {
	t       *testing.T
	members map[string]map[string]struct{}
	inbox   map[string][]protocol.Outbound
}

func newRecordingOutbox(t *testing.T) *recordingOutbox {
	return &recordingOutbox{
		t:       t,
		members: make(map[string]map[string]struct{}),
		inbox:   make(map[string][]protocol.Outbound),
	}
}

func (o *recordingOutbox) deliver(connId string, msg protocol.Outbound) {
	raw, err := protocol.Encode(msg)
	require.NoError(o.t, err)
	back, err := protocol.DecodeServer(raw)
	require.NoError(o.t, err)
	o.inbox[connId] = append(o.inbox[connId], back)
}

func (o *recordingOutbox) SendTo(connId string, msg protocol.Outbound) {
	o.deliver(connId, msg)
}

func (o *recordingOutbox) Broadcast(roomId string, exceptConnId string, msg protocol.Outbound) {
	for connId := range o.members[roomId] {
		if connId != exceptConnId {
			o.deliver(connId, msg)
		}
	}
}

func (o *recordingOutbox) Subscribe(connId string, roomId string) {
	if o.members[roomId] == nil {
		o.members[roomId] = make(map[string]struct{})
	}
	o.members[roomId][connId] = struct{}{}
}

func (o *recordingOutbox) Unsubscribe(connId string, roomId string) {
	delete(o.members[roomId], connId)
}

// drain returns and forgets everything delivered to connId so far.
func (o *recordingOutbox) drain(connId string) []protocol.Outbound {
	msgs := o.inbox[connId]
	delete(o.inbox, connId)
	return msgs
}

func events(msgs []protocol.Outbound) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Event()
	}
	return out
}

type fixture struct {
	svc      *service.Service
	out      *recordingOutbox
	store    *storemocks.MockStore
	queue    *mqmocks.MockMQ
	counters *worker.CounterBatcher
}

func setupService(t *testing.T) *fixture {
	mockStore := new(storemocks.MockStore)
	mockMQ := new(mqmocks.MockMQ)

	// Batchers are not run; tests read what was queued on their channels.
	counters := worker.NewCounterBatcher(mockStore, 60000)
	stats := &service.Stats{
		Counters:        counters,
		Sessions:        worker.NewSessionBatcher(mockStore, 60000),
		RoomClosedQueue: mockMQ,
	}

	svc := service.NewService(room.NewRegistry(room.DefaultCapacity, room.DefaultShapeLimit), mockStore, stats, []byte("secret"))
	return &fixture{svc: svc, out: newRecordingOutbox(t), store: mockStore, queue: mockMQ, counters: counters}
}

// Helper that creates a channel and wraps a mock call to signal when it's called
func wrapMockWithSignal(call *mock.Call) chan struct{} {
	done := make(chan struct{})
	call.Run(func(args mock.Arguments) {
		close(done)
	})
	return done
}

func profile(id string) models.UserProfile {
	return models.UserProfile{Id: id, Username: id, Avatar: models.AvatarRobot}
}

func (f *fixture) join(connId, roomId string) {
	f.svc.Handle(connId, protocol.JoinRoom{RoomId: roomId, UserProfile: profile("user-" + connId)}, f.out)
}

func (f *fixture) handle(connId string, ev protocol.Inbound) {
	f.svc.Handle(connId, ev, f.out)
}

func (f *fixture) counted() map[string]int {
	got := make(map[string]int)
	for {
		select {
		case u := <-f.counters.UpdateCh:
			got[u.Counter] += u.Delta
		default:
			return got
		}
	}
}

func rect(id string, w, h float64) *models.RectShape {
	return &models.RectShape{Id: id, X: 0, Y: 0, Width: w, Height: h, Color: "#000", Opacity: 1}
}

func line(id string, pts ...models.Point) *models.LineShape {
	return &models.LineShape{Id: id, Points: pts, Color: "#000", StrokeWidth: 2, Opacity: 1}
}

func protocolJoin(roomId string) protocol.JoinRoom {
	return protocol.JoinRoom{RoomId: roomId, UserProfile: profile("u1")}
}
