package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zlnvch/holoboard/models"
	"github.com/zlnvch/holoboard/store"
)

// DynamoDB BatchWriteItem takes at most 25 requests.
const sessionBatchSize = 25

type SessionBatcher struct {
	WriteCh            chan models.SessionRecord
	boardStore         store.BoardStore
	tickerMilliseconds int
	log                *logrus.Entry
}

func NewSessionBatcher(boardStore store.BoardStore, tickerMilliseconds int) *SessionBatcher {
	return &SessionBatcher{
		WriteCh:            make(chan models.SessionRecord, 1024), // buffer to absorb bursts
		boardStore:         boardStore,
		tickerMilliseconds: tickerMilliseconds,
		log:                logrus.WithField("component", "session_batcher"),
	}
}

// Record queues a finished session without blocking.
func (b *SessionBatcher) Record(session models.SessionRecord) {
	select {
	case b.WriteCh <- session:
	default:
		b.log.WithField("room_id", session.RoomId).Warn("session buffer full, dropping record")
	}
}

func (b *SessionBatcher) Run(shutdownCtx context.Context) {
	ticker := time.NewTicker(time.Duration(b.tickerMilliseconds) * time.Millisecond)
	defer ticker.Stop()

	batch := make([]models.SessionRecord, 0, sessionBatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Not tied to shutdownCtx: a pending batch should still land on exit.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		unprocessed, err := b.boardStore.WriteSessionBatch(ctx, batch)
		if err != nil {
			b.log.WithError(err).WithField("unprocessed", len(unprocessed)).Error("failed to write session batch")
		}

		batch = make([]models.SessionRecord, 0, sessionBatchSize)
	}

	for {
		select {
		case session := <-b.WriteCh:
			batch = append(batch, session)
			if len(batch) == sessionBatchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-shutdownCtx.Done():
		drain:
			for {
				select {
				case session := <-b.WriteCh:
					batch = append(batch, session)
					if len(batch) == sessionBatchSize {
						flush()
					}
				default:
					break drain
				}
			}
			flush()
			return
		}
	}
}
