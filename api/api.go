package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/zlnvch/holoboard/api/rest"
	"github.com/zlnvch/holoboard/api/ws"
	"github.com/zlnvch/holoboard/cache"
	"github.com/zlnvch/holoboard/mq"
	"github.com/zlnvch/holoboard/room"
	"github.com/zlnvch/holoboard/service"
	"github.com/zlnvch/holoboard/store"
	"github.com/zlnvch/holoboard/worker"
)

const (
	counterFlushMilliseconds = 60000
	sessionFlushMilliseconds = 5000
)

type HoloboardAPI struct {
	restHandler   *rest.Handler
	wsHandler     *ws.Handler
	allowedOrigin string
	shutdownCtx   context.Context
}

// NewHoloboardAPI wires the engine, the hub and the background workers and
// starts them. boardStore and roomClosedQueue may be nil, which turns room
// statistics off.
func NewHoloboardAPI(
	rooms *room.Registry,
	bus cache.PubSub,
	boardStore store.BoardStore,
	roomClosedQueue mq.MessageQueue,
	ticketSecret []byte,
	allowedOrigin string,
	shutdownCtx context.Context,
) *HoloboardAPI {
	var stats *service.Stats
	if boardStore != nil {
		counterBatcher := worker.NewCounterBatcher(boardStore, counterFlushMilliseconds)
		go counterBatcher.Run(shutdownCtx)

		sessionBatcher := worker.NewSessionBatcher(boardStore, sessionFlushMilliseconds)
		go sessionBatcher.Run(shutdownCtx)

		stats = &service.Stats{Counters: counterBatcher, Sessions: sessionBatcher}
		if roomClosedQueue != nil {
			stats.RoomClosedQueue = roomClosedQueue
			mqConsumer := worker.NewMQConsumer(roomClosedQueue, boardStore, counterBatcher)
			go mqConsumer.Run(shutdownCtx)
		}
	}

	svc := service.NewService(rooms, boardStore, stats, ticketSecret)

	hub := ws.NewHub(bus, svc)
	go hub.Run(shutdownCtx)

	return &HoloboardAPI{
		restHandler:   rest.NewHandler(svc),
		wsHandler:     ws.NewHandler(hub, allowedOrigin),
		allowedOrigin: allowedOrigin,
		shutdownCtx:   shutdownCtx,
	}
}

func (holoboardAPI *HoloboardAPI) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggerMiddleware(logrus.WithField("component", "http")))
	router.Use(corsMiddleware(holoboardAPI.allowedOrigin))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	router.GET("/rooms/:roomId/stats", holoboardAPI.restHandler.HandleRoomStats)

	router.GET("/ws", func(c *gin.Context) {
		holoboardAPI.wsHandler.ServeWS(c.Writer, c.Request, holoboardAPI.shutdownCtx)
	})

	return router
}

func corsMiddleware(allowedOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func loggerMiddleware(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(logrus.Fields{
			"status_code": c.Writer.Status(),
			"latency_ms":  time.Since(start).Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
		})
		switch status := c.Writer.Status(); {
		case status >= 500:
			entry.Error("server error")
		case status >= 400:
			entry.Warn("client error")
		default:
			entry.Debug("request")
		}
	}
}
