// Package eventbus is the process-local channel announcing score mutations.
//
// Publishing appends to an unbounded FIFO and returns immediately. A single
// dispatcher drains the FIFO into a watermill gochannel pub/sub that waits
// for every subscriber to ack before sending the next event, so each
// subscriber sees every event once and in publish order.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"

	"github.com/okian/tabulator/internal/adapters/mq/queue"
	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/pkg/logger"
	"github.com/okian/tabulator/pkg/metrics"
)

// TopicScoreUpdated carries model.ScoreEvent payloads.
const TopicScoreUpdated = "score.updated"

const (
	defaultShutdownTimeout = 5 * time.Second
	metadataCompetitionID  = "competition_id"
	metadataScoreKey       = "score_key"
)

// Handler receives score events. It runs on the subscription's own goroutine.
type Handler func(ctx context.Context, e model.ScoreEvent)

// Bus fans score events out to subscribers.
type Bus struct {
	queue  queue.Queue
	pubsub *gochannel.GoChannel
	topic  string
	log    logger.Logger
	wmLog  watermill.LoggerAdapter

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	subs    map[uint64]*subscription
	nextSub uint64

	closed       atomic.Bool
	dispatchDone chan struct{}
}

// New creates a Bus and starts its dispatcher.
func New(opts ...Option) *Bus {
	b := &Bus{
		topic:        TopicScoreUpdated,
		subs:         make(map[uint64]*subscription),
		dispatchDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = logger.Get().Named("eventbus")
	}
	if b.queue == nil {
		b.queue = queue.NewInMemoryQueue()
	}
	if b.wmLog == nil {
		b.wmLog = watermill.NewSlogLoggerWithLevelMapping(
			logger.Slog().With(slog.String("component", "watermill")),
			map[slog.Level]slog.Level{slog.LevelInfo: slog.LevelDebug},
		)
	}
	b.pubsub = gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, b.wmLog)
	b.ctx, b.cancel = context.WithCancel(context.Background())

	go b.dispatch()
	return b
}

// Publish queues e for delivery. It never waits for subscribers.
func (b *Bus) Publish(ctx context.Context, e model.ScoreEvent) error { //nolint:gocritic // hugeParam: queued by value
	if b.closed.Load() {
		return ErrClosed
	}
	if e.Type == "" {
		e.Type = model.EventScoreUpdated
	}
	if !b.queue.Enqueue(ctx, e) {
		if b.queue.IsClosed() {
			return ErrClosed
		}
		return fmt.Errorf("%w: %s", ErrPublishFailed, e.ScoreKey.String())
	}
	metrics.RecordEventPublished()
	return nil
}

// Subscribe registers h for all events published after this call returns.
func (b *Bus) Subscribe(h Handler) (unsubscribe func(), err error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	if b.closed.Load() {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithCancel(b.ctx)
	msgs, err := b.pubsub.Subscribe(ctx, b.topic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", b.topic, err)
	}

	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	s := newSubscription(id, msgs, h, cancel, b.log)
	b.subs[id] = s
	count := len(b.subs)
	b.mu.Unlock()
	metrics.UpdateEventSubscribers(count)

	go func() {
		s.Run(ctx)
		b.mu.Lock()
		delete(b.subs, id)
		count := len(b.subs)
		b.mu.Unlock()
		metrics.UpdateEventSubscribers(count)
	}()

	return s.Stop, nil
}

// Subscribers returns the number of active subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Pending returns the number of events not yet dispatched.
func (b *Bus) Pending() int {
	return b.queue.Len(context.Background())
}

// Shutdown stops accepting events, delivers the queued ones, then closes
// every subscription.
func (b *Bus) Shutdown(ctx context.Context) error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := b.queue.Close(); err != nil {
		b.log.Warn(ctx, "closing queue", logger.Error(err))
	}

	var err error
	select {
	case <-b.dispatchDone:
	case <-ctx.Done():
		b.log.Warn(ctx, "shutdown timed out before queue drained", logger.Int("pending", b.Pending()))
		err = fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}

	b.cancel()
	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()
	for _, s := range subs {
		if werr := s.Wait(ctx); werr != nil && err == nil {
			err = werr
		}
	}
	if cerr := b.pubsub.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Close is Shutdown with a default timeout.
func (b *Bus) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	return b.Shutdown(ctx)
}

func (b *Bus) dispatch() {
	defer close(b.dispatchDone)
	for e := range b.queue.Dequeue(b.ctx) {
		payload, err := json.Marshal(e)
		if err != nil {
			b.log.Error(b.ctx, "encoding score event", logger.Error(err))
			metrics.RecordError("eventbus", "encode")
			continue
		}
		msg := message.NewMessage(uuid.NewString(), payload)
		msg.Metadata.Set(metadataCompetitionID, e.CompetitionID)
		msg.Metadata.Set(metadataScoreKey, e.ScoreKey.String())
		if err := b.pubsub.Publish(b.topic, msg); err != nil {
			b.log.Error(b.ctx, "dispatching score event", logger.Error(err), logger.String("message_id", msg.UUID))
			metrics.RecordError("eventbus", "publish")
		}
	}
}
