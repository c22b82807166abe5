package eventbus

import (
	"github.com/ThreeDotsLabs/watermill"

	"github.com/okian/tabulator/internal/adapters/mq/queue"
	"github.com/okian/tabulator/pkg/logger"
)

// Option applies a configuration option to the Bus.
type Option func(*Bus)

// WithLogger sets the bus logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.log = l
		}
	}
}

// WithWatermillLogger sets the adapter handed to the gochannel pub/sub.
func WithWatermillLogger(l watermill.LoggerAdapter) Option {
	return func(b *Bus) {
		if l != nil {
			b.wmLog = l
		}
	}
}

// WithQueue replaces the default unbounded queue.
func WithQueue(q queue.Queue) Option {
	return func(b *Bus) {
		if q != nil {
			b.queue = q
		}
	}
}

// WithTopic overrides the topic name.
func WithTopic(topic string) Option {
	return func(b *Bus) {
		if topic != "" {
			b.topic = topic
		}
	}
}
