package mq

import "context"

// MessageQueue is an at-least-once queue. A received message stays invisible
// for visibilityTimeout seconds and is redelivered unless deleted.
type MessageQueue interface {
	Send(ctx context.Context, body []byte) error
	// Receive returns nil, nil when the poll ended without a message.
	Receive(ctx context.Context, visibilityTimeout int32) (*Message, error)
	Delete(ctx context.Context, msg *Message) error
}

type Message struct {
	Handle string
	Body   []byte
	// ReceiveCount is how many times the queue has handed this message out,
	// this delivery included. Zero when the queue does not track it.
	ReceiveCount int
}
