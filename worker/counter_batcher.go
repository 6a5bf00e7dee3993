package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zlnvch/holoboard/store"
)

type CounterUpdate struct {
	RoomId  string
	Counter string
	Delta   int
}

// CounterBatcher folds room activity counters in memory and writes the sums
// on every tick, so a busy room costs one UpdateItem per interval.
type CounterBatcher struct {
	UpdateCh           chan CounterUpdate
	boardStore         store.BoardStore
	tickerMilliseconds int
	log                *logrus.Entry
}

func NewCounterBatcher(boardStore store.BoardStore, tickerMilliseconds int) *CounterBatcher {
	return &CounterBatcher{
		UpdateCh:           make(chan CounterUpdate, 1024),
		boardStore:         boardStore,
		tickerMilliseconds: tickerMilliseconds,
		log:                logrus.WithField("component", "counter_batcher"),
	}
}

// Record queues an update without blocking. Updates are dropped when the
// buffer is full; counters are best effort.
func (b *CounterBatcher) Record(roomId string, counter string, delta int) {
	select {
	case b.UpdateCh <- CounterUpdate{RoomId: roomId, Counter: counter, Delta: delta}:
	default:
		b.log.WithFields(logrus.Fields{"room_id": roomId, "counter": counter}).Warn("counter buffer full, dropping update")
	}
}

func (b *CounterBatcher) Run(shutdownCtx context.Context) {
	ticker := time.NewTicker(time.Duration(b.tickerMilliseconds) * time.Millisecond)
	defer ticker.Stop()

	// roomId -> counter -> delta
	roomCounts := make(map[string]map[string]int)
	var inflight sync.WaitGroup

	add := func(update CounterUpdate) {
		if update.RoomId == "" || update.Counter == "" || update.Delta == 0 {
			return
		}
		counters, ok := roomCounts[update.RoomId]
		if !ok {
			counters = make(map[string]int)
			roomCounts[update.RoomId] = counters
		}
		counters[update.Counter] += update.Delta
	}

	flush := func() {
		for roomId, counters := range roomCounts {
			inflight.Add(1)
			go func(roomId string, counters map[string]int) {
				defer inflight.Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := b.boardStore.IncrementRoomCounters(ctx, roomId, counters); err != nil {
					b.log.WithError(err).WithField("room_id", roomId).Error("failed to update room counters")
				}
			}(roomId, counters)
		}
		roomCounts = make(map[string]map[string]int)
	}

	for {
		select {
		case update := <-b.UpdateCh:
			add(update)
			if len(roomCounts) >= 100 {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-shutdownCtx.Done():
		drain:
			for {
				select {
				case update := <-b.UpdateCh:
					add(update)
				default:
					break drain
				}
			}
			flush()
			inflight.Wait()
			return
		}
	}
}
