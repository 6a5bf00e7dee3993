// Package memory is a single-process PubSub used when no redis endpoint is
// configured.
package memory

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("bus closed")

type subscriber struct {
	ch      chan []byte
	handler func([]byte)
}

type Bus struct {
	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	closed bool
	done   chan struct{}
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]map[*subscriber]struct{}),
		done: make(chan struct{}),
	}
}

// Publish hands message to every current subscriber of channel. Each
// subscriber drains its own queue in order; a subscriber whose queue is full
// blocks the publisher until ctx ends.
func (b *Bus) Publish(ctx context.Context, channel string, message []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	targets := make([]*subscriber, 0, len(b.subs[channel]))
	for s := range b.subs[channel] {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		select {
		case s.ch <- message:
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return ErrClosed
		}
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	s := &subscriber{ch: make(chan []byte, 1024), handler: handler}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*subscriber]struct{})
	}
	b.subs[channel][s] = struct{}{}
	b.mu.Unlock()

	go func() {
		defer b.unsubscribe(channel, s)
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.done:
				return
			case msg := <-s.ch:
				s.handler(msg)
			}
		}
	}()
	return nil
}

func (b *Bus) unsubscribe(channel string, s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[channel], s)
	if len(b.subs[channel]) == 0 {
		delete(b.subs, channel)
	}
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
	return nil
}
