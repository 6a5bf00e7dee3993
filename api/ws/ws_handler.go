package ws

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	Hub      *Hub
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, allowedOrigin string) *Handler {
	return &Handler{
		Hub:      hub,
		upgrader: NewWsUpgrader(allowedOrigin),
	}
}

// NewWsUpgrader accepts browsers from allowedOrigin ("*" for any) and
// non-browser clients, which send no Origin header.
func NewWsUpgrader(allowedOrigin string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowedOrigin == "*" || origin == allowedOrigin
		},
	}
}

// ServeWS handles websocket requests from the peer.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request, shutdownCtx context.Context) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("failed to upgrade ws connection")
		return
	}

	client, err := NewClient(h.Hub, conn)
	if err != nil {
		logrus.WithError(err).Error("failed to create client")
		conn.Close()
		return
	}

	if !h.Hub.post(shutdownCtx, clientEvent{kind: clientOpened, client: client}) {
		conn.Close()
		return
	}

	// Start pumps
	go client.ReadPump(shutdownCtx)
	go client.WritePump(shutdownCtx)
}
