package ws

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"
	"github.com/zlnvch/holoboard/cache"
	"github.com/zlnvch/holoboard/protocol"
	"github.com/zlnvch/holoboard/service"
)

type clientEventKind int

const (
	clientOpened clientEventKind = iota
	clientMessage
	clientClosed
)

// clientEvent funnels everything a connection does through one channel so the
// hub sees open, messages and close in the order they happened.
type clientEvent struct {
	kind   clientEventKind
	client *Client
	msg    protocol.Inbound
}

// busMessage is what travels on a room channel. Seq orders broadcasts against
// joins; a member only gets messages published after it joined.
type busMessage struct {
	Seq     uint64          `json:"seq"`
	Except  string          `json:"except,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

type delivery struct {
	roomId string
	subId  uint64
	msg    busMessage
}

type roomSubscription struct {
	id     uint64
	cancel context.CancelFunc
}

type outgoing struct {
	channel string
	body    []byte
}

// Hub owns every connection and drives the service. All room state is touched
// only from Run's goroutine.
type Hub struct {
	bus cache.PubSub
	svc *service.Service

	eventCh   chan clientEvent
	deliverCh chan delivery
	publishCh chan outgoing

	clients            map[string]*Client
	roomToClients      map[string]map[string]struct{}
	joinSeq            map[string]uint64
	roomToSubscription map[string]roomSubscription
	seq                uint64
	lastSubId          uint64

	ctx context.Context
	log *logrus.Entry
}

func NewHub(bus cache.PubSub, svc *service.Service) *Hub {
	return &Hub{
		bus:                bus,
		svc:                svc,
		eventCh:            make(chan clientEvent, 1024),
		deliverCh:          make(chan delivery, 4096),
		publishCh:          make(chan outgoing, 4096),
		clients:            make(map[string]*Client),
		roomToClients:      make(map[string]map[string]struct{}),
		joinSeq:            make(map[string]uint64),
		roomToSubscription: make(map[string]roomSubscription),
		ctx:                context.Background(),
		log:                logrus.WithField("component", "hub"),
	}
}

func (h *Hub) Run(shutdownCtx context.Context) {
	h.ctx = shutdownCtx
	go h.runPublisher(shutdownCtx)

	for {
		select {
		case ev := <-h.eventCh:
			switch ev.kind {
			case clientOpened:
				h.clients[ev.client.id] = ev.client
			case clientMessage:
				h.handle(ev.client, ev.msg)
			case clientClosed:
				h.closeClient(ev.client)
			}

		case d := <-h.deliverCh:
			h.deliver(d)

		case <-shutdownCtx.Done():
			for roomId, sub := range h.roomToSubscription {
				sub.cancel()
				delete(h.roomToSubscription, roomId)
			}
			return
		}
	}
}

// post queues ev for Run. It gives up once the server is shutting down,
// since Run no longer drains eventCh then.
func (h *Hub) post(shutdownCtx context.Context, ev clientEvent) bool {
	select {
	case h.eventCh <- ev:
		return true
	case <-shutdownCtx.Done():
		return false
	}
}

// handle runs one event to completion. A panic is contained to that event.
func (h *Hub) handle(c *Client, msg protocol.Inbound) {
	if h.clients[c.id] != c {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			h.log.WithFields(logrus.Fields{
				"conn_id": c.id,
				"event":   msg.Event(),
				"room_id": msg.Room(),
			}).Errorf("panic while handling event: %v", r)
		}
	}()
	h.svc.Handle(c.id, msg, h)
}

func (h *Hub) closeClient(c *Client) {
	if h.clients[c.id] != c {
		return
	}
	h.svc.Disconnect(c.id, h)
	delete(h.clients, c.id)
	if !c.dropped {
		c.dropped = true
		close(c.Send)
	}
}

// send never blocks the hub. A client that cannot keep up is cut off; its
// close event then removes it from its room.
func (h *Hub) send(c *Client, body []byte) {
	if c.dropped {
		return
	}
	select {
	case c.Send <- body:
	default:
		h.log.WithField("conn_id", c.id).Warn("outbound buffer full, dropping slow client")
		c.dropped = true
		close(c.Send)
	}
}

func (h *Hub) deliver(d delivery) {
	// A subscription cancelled and replaced for the same room can still be
	// draining; only the current one counts.
	if sub, ok := h.roomToSubscription[d.roomId]; !ok || sub.id != d.subId {
		return
	}
	for connId := range h.roomToClients[d.roomId] {
		if connId == d.msg.Except || h.joinSeq[connId] >= d.msg.Seq {
			continue
		}
		if c, ok := h.clients[connId]; ok {
			h.send(c, d.msg.Payload)
		}
	}
}

func (h *Hub) SendTo(connId string, msg protocol.Outbound) {
	c, ok := h.clients[connId]
	if !ok {
		return
	}
	body, err := protocol.Encode(msg)
	if err != nil {
		h.log.WithError(err).WithField("event", msg.Event()).Error("failed to encode message")
		return
	}
	h.send(c, body)
}

func (h *Hub) Broadcast(roomId string, exceptConnId string, msg protocol.Outbound) {
	payload, err := protocol.Encode(msg)
	if err != nil {
		h.log.WithError(err).WithField("event", msg.Event()).Error("failed to encode message")
		return
	}

	h.seq++
	body, err := json.Marshal(busMessage{Seq: h.seq, Except: exceptConnId, Payload: payload})
	if err != nil {
		h.log.WithError(err).Error("failed to wrap broadcast")
		return
	}

	out := outgoing{channel: cache.RoomChannel(roomId), body: body}
	// Keep draining deliveries while the publisher is backed up, otherwise the
	// bus and the hub can end up waiting on each other.
	for {
		select {
		case h.publishCh <- out:
			return
		case d := <-h.deliverCh:
			h.deliver(d)
		case <-h.ctx.Done():
			return
		}
	}
}

func (h *Hub) Subscribe(connId string, roomId string) {
	if _, ok := h.roomToSubscription[roomId]; !ok {
		h.subscribeRoom(roomId)
	}
	if h.roomToClients[roomId] == nil {
		h.roomToClients[roomId] = make(map[string]struct{})
	}
	h.roomToClients[roomId][connId] = struct{}{}
	h.joinSeq[connId] = h.seq
}

func (h *Hub) subscribeRoom(roomId string) {
	ctx, cancel := context.WithCancel(h.ctx)
	channel := cache.RoomChannel(roomId)
	h.lastSubId++
	subId := h.lastSubId

	err := h.bus.Subscribe(ctx, channel, func(message []byte) {
		var msg busMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			h.log.WithError(err).WithField("channel", channel).Error("bad bus message")
			return
		}
		select {
		case h.deliverCh <- delivery{roomId: roomId, subId: subId, msg: msg}:
		case <-ctx.Done():
		}
	})
	if err != nil {
		cancel()
		h.log.WithError(err).WithField("channel", channel).Error("failed to subscribe to room channel")
		return
	}
	h.roomToSubscription[roomId] = roomSubscription{id: subId, cancel: cancel}
}

func (h *Hub) Unsubscribe(connId string, roomId string) {
	delete(h.roomToClients[roomId], connId)
	delete(h.joinSeq, connId)
	if len(h.roomToClients[roomId]) == 0 {
		if sub, ok := h.roomToSubscription[roomId]; ok {
			sub.cancel()
			delete(h.roomToSubscription, roomId)
		}
		delete(h.roomToClients, roomId)
	}
}

// runPublisher is the only writer to the bus, so broadcasts leave in the
// order the hub issued them.
func (h *Hub) runPublisher(shutdownCtx context.Context) {
	for {
		select {
		case out := <-h.publishCh:
			if err := h.bus.Publish(shutdownCtx, out.channel, out.body); err != nil {
				h.log.WithError(err).WithField("channel", out.channel).Error("publish failed")
			}
		case <-shutdownCtx.Done():
			return
		}
	}
}
