package queue

import "context"

const (
	// DeliveryQueue carries notifications waiting for their first push.
	DeliveryQueue = "notifications.deliver"
	// DeadLetterQueue receives messages rejected by workers.
	DeadLetterQueue = "notifications.deliver.dlq"

	dlxExchangeName   = "notifications.dlx"
	deadLetterRouting = "deliver"
)

// Publisher publishes delivery messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg DeliveryMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message. A nil return acks the
// message; an error requeues it.
type MessageHandler func(ctx context.Context, msg DeliveryMessage) error

// Consumer consumes delivery messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}
