package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/zlnvch/holoboard/protocol"
	"github.com/zlnvch/holoboard/service"
	"github.com/zlnvch/holoboard/store"
)

type Handler struct {
	Service *service.Service
}

func NewHandler(svc *service.Service) *Handler {
	return &Handler{Service: svc}
}

func (h *Handler) HandleRoomStats(c *gin.Context) {
	roomId := c.Param("roomId")
	if !protocol.ValidRoomId(roomId) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	activity, err := h.Service.GetRoomActivity(c.Request.Context(), roomId)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, activity)
	case errors.Is(err, store.ErrItemNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "no activity recorded for room"})
	case errors.Is(err, service.ErrStatsDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "room statistics are disabled"})
	default:
		logrus.WithError(err).WithField("room_id", roomId).Error("failed to load room stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load room stats"})
	}
}
