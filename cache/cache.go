package cache

import "context"

// PubSub carries room broadcasts between the hub and whichever process owns
// the room's sockets. Handlers run on the bus's own goroutine and must not
// block.
type PubSub interface {
	Publish(ctx context.Context, channel string, message []byte) error
	// Subscribe returns once the subscription is live. It ends when ctx is
	// cancelled.
	Subscribe(ctx context.Context, channel string, handler func(message []byte)) error
	Close() error
}

func RoomChannel(roomId string) string {
	return "room:" + roomId
}
