package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zlnvch/holoboard/models"
	"github.com/zlnvch/holoboard/mq"
	"github.com/zlnvch/holoboard/store"
)

// RoomClosedMessage is sent when the last participant leaves a room.
type RoomClosedMessage struct {
	Summary models.RoomSummary `json:"summary"`
}

type MQConsumer struct {
	roomClosedQueue mq.MessageQueue
	boardStore      store.BoardStore
	counterBatcher  *CounterBatcher
	log             *logrus.Entry
}

func NewMQConsumer(roomClosedQueue mq.MessageQueue, boardStore store.BoardStore, counterBatcher *CounterBatcher) *MQConsumer {
	return &MQConsumer{
		roomClosedQueue: roomClosedQueue,
		boardStore:      boardStore,
		counterBatcher:  counterBatcher,
		log:             logrus.WithField("component", "mq_consumer"),
	}
}

const (
	visibilityTimeout = 30

	// A summary that still fails to store after this many deliveries is
	// dropped; only the closure statistics are lost.
	maxReceiveCount = 5
)

func (mqConsumer *MQConsumer) Run(shutdownCtx context.Context) {
	for {
		msg, err := mqConsumer.roomClosedQueue.Receive(shutdownCtx, visibilityTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			mqConsumer.log.WithError(err).Error("receive failed")
			select {
			case <-shutdownCtx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		if msg == nil {
			continue
		}

		var closed RoomClosedMessage
		if err := json.Unmarshal(msg.Body, &closed); err != nil || closed.Summary.RoomId == "" {
			// Never going to parse, so drop it instead of redelivering forever.
			mqConsumer.log.WithError(err).Warn("discarding malformed room-closed message")
			mqConsumer.delete(msg)
			continue
		}

		if err := mqConsumer.handleRoomClosed(closed.Summary); err != nil {
			log := mqConsumer.log.WithError(err).WithFields(logrus.Fields{
				"room_id":       closed.Summary.RoomId,
				"receive_count": msg.ReceiveCount,
			})
			if msg.ReceiveCount < maxReceiveCount {
				log.Error("failed to store room summary")
				continue
			}
			log.Error("giving up on room summary")
		}

		mqConsumer.delete(msg)
	}
}

// handleRoomClosed is idempotent per room epoch: a redelivered message does
// not count the closure twice.
func (mqConsumer *MQConsumer) handleRoomClosed(summary models.RoomSummary) error {
	// timeout should be a little less than queue visibility timeout
	ctx, cancel := context.WithTimeout(context.Background(), (visibilityTimeout-1)*time.Second)
	defer cancel()

	created, err := mqConsumer.boardStore.PutRoomSummary(ctx, summary)
	if err != nil {
		return err
	}
	if created {
		mqConsumer.counterBatcher.Record(summary.RoomId, models.CounterClosures, 1)
	}
	return nil
}

func (mqConsumer *MQConsumer) delete(msg *mq.Message) {
	if err := mqConsumer.roomClosedQueue.Delete(context.Background(), msg); err != nil {
		mqConsumer.log.WithError(err).Error("delete failed")
	}
}
