package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zlnvch/holoboard/cache"
	"github.com/zlnvch/holoboard/cache/redis"
)

func setupBus(t *testing.T) *redis.RedisBus {
	mr := miniredis.RunT(t)
	bus, err := redis.NewRedisBus(context.Background(), true, mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { bus.Close() })
	return bus
}

func TestRedisBus_DeliversInPublishOrder(t *testing.T) {
	bus := setupBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 8)
	require.NoError(t, bus.Subscribe(ctx, cache.RoomChannel("abc"), func(message []byte) {
		got <- string(message)
	}))

	for _, m := range []string{"one", "two", "three"} {
		require.NoError(t, bus.Publish(ctx, cache.RoomChannel("abc"), []byte(m)))
	}

	for _, want := range []string{"one", "two", "three"} {
		select {
		case m := <-got:
			assert.Equal(t, want, m)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestRedisBus_RoomsAreIsolated(t *testing.T) {
	bus := setupBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 8)
	require.NoError(t, bus.Subscribe(ctx, cache.RoomChannel("abc"), func(message []byte) {
		got <- string(message)
	}))

	require.NoError(t, bus.Publish(ctx, cache.RoomChannel("other"), []byte("nope")))
	require.NoError(t, bus.Publish(ctx, cache.RoomChannel("abc"), []byte("yes")))

	select {
	case m := <-got:
		assert.Equal(t, "yes", m)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestNewRedisBus_FailsWithoutServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := redis.NewRedisBus(ctx, true, "127.0.0.1:1")
	assert.Error(t, err)
}

func TestNewRedisBusFromClient(t *testing.T) {
	mr := miniredis.RunT(t)
	bus := redis.NewRedisBusFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	defer bus.Close()
	assert.NoError(t, bus.Publish(context.Background(), "room:x", []byte("hi")))
}
