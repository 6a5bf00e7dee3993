package ws

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/zlnvch/holoboard/protocol"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// A canvas-state-update for a full room is the largest frame.
	maxMessageSize = protocol.MaxFrameSize

	// Freehand ink sends a point per pointer event.
	messagesPerSecond = 120
	burstLimit        = 240

	sendBufferSize = 256
)

func NewClient(hub *Hub, conn *websocket.Conn) (*Client, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	return &Client{
		id:      id.String(),
		hub:     hub,
		conn:    conn,
		Send:    make(chan []byte, sendBufferSize),
		limiter: rate.NewLimiter(rate.Limit(messagesPerSecond), burstLimit),
		log:     logrus.WithField("conn_id", id.String()),
	}, nil
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	id      string
	hub     *Hub
	conn    *websocket.Conn
	Send    chan []byte // Buffered channel of outbound messages.
	limiter *rate.Limiter
	log     *logrus.Entry

	// dropped is owned by the hub goroutine.
	dropped bool
}

func (c *Client) Id() string {
	return c.id
}

// ReadPump decodes frames into hub events until the connection fails or the
// server shuts down.
func (c *Client) ReadPump(shutdownCtx context.Context) {
	defer func() {
		c.hub.post(shutdownCtx, clientEvent{kind: clientClosed, client: c})
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		messageType, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.WithError(err).Info("websocket closed")
			}
			break
		}

		if !c.limiter.Allow() {
			c.log.Warn("closing connection: message rate limit exceeded")
			break
		}

		if messageType != websocket.TextMessage {
			c.log.Warn("dropping non-text frame")
			continue
		}

		msg, err := protocol.Decode(messageBytes)
		if err != nil {
			// Malformed events are a client bug; nothing is sent back.
			entry := c.log.WithError(err)
			if errors.Is(err, protocol.ErrUnknownEvent) {
				entry.Debug("dropping unknown event")
			} else {
				entry.Warn("dropping malformed event")
			}
			continue
		}

		if !c.hub.post(shutdownCtx, clientEvent{kind: clientMessage, client: c, msg: msg}) {
			return
		}
	}
}

func (c *Client) WritePump(shutdownCtx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.WithError(err).Info("websocket write failed")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-shutdownCtx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			)
			return
		}
	}
}
