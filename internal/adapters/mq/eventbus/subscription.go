package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/pkg/logger"
	"github.com/okian/tabulator/pkg/metrics"
)

// subscription runs one handler over its own message channel.
type subscription struct {
	id      uint64
	msgs    <-chan *message.Message
	handler Handler
	cancel  context.CancelFunc
	once    sync.Once
	done    chan struct{}
	logger  logger.Logger
}

func newSubscription(id uint64, msgs <-chan *message.Message, h Handler, cancel context.CancelFunc, log logger.Logger) *subscription {
	return &subscription{
		id:      id,
		msgs:    msgs,
		handler: h,
		cancel:  cancel,
		done:    make(chan struct{}),
		logger:  log.Named(fmt.Sprintf("subscriber-%d", id)),
	}
}

// Run delivers messages until the channel closes.
func (s *subscription) Run(ctx context.Context) {
	defer close(s.done)
	for msg := range s.msgs {
		s.handle(ctx, msg)
		msg.Ack()
	}
}

func (s *subscription) handle(ctx context.Context, msg *message.Message) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordEventHandlerPanic()
			s.logger.Error(ctx, "subscriber panicked",
				logger.Any("panic", r),
				logger.String("message_id", msg.UUID))
		}
	}()

	var e model.ScoreEvent
	if err := json.Unmarshal(msg.Payload, &e); err != nil {
		metrics.RecordError("eventbus", "decode")
		s.logger.Error(ctx, "decoding score event", logger.Error(err), logger.String("message_id", msg.UUID))
		return
	}
	s.handler(ctx, e)
	metrics.RecordEventDelivered()
}

// Stop ends the subscription. It does not wait, so handlers may call it.
func (s *subscription) Stop() {
	s.once.Do(s.cancel)
}

// Wait blocks until Run returns or ctx ends.
func (s *subscription) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		s.logger.Warn(ctx, "subscriber shutdown timed out")
		return fmt.Errorf("subscriber shutdown timed out: %w", ctx.Err())
	}
}
