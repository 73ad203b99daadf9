package queue

import (
	"context"
	"errors"
)

// ErrUnprocessable tells the consumer a message can never succeed; it is
// rejected to the dead-letter queue instead of being requeued.
var ErrUnprocessable = errors.New("unprocessable message")

const (
	// EmailQueueName is the deferred-delivery work queue for offline recipients.
	EmailQueueName = "notify.email"

	// EmailDLQName receives email messages rejected as unprocessable.
	EmailDLQName = "dlq.notify.email"
)

// Publisher publishes email messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg EmailMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg EmailMessage) error

// Consumer consumes email messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}
