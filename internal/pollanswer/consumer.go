package pollanswer

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"codequiz/internal/model"

	"go.uber.org/zap"
)

// Consumer долгоживущий обработчик одного шарда. События обрабатываются
// строго по одному.
type Consumer struct {
	queue      Queue
	shard      int
	handle     Handler
	retryDelay time.Duration
	logger     *zap.Logger

	processed atomic.Int64
	failed    atomic.Int64
}

// NewConsumer создает потребителя шарда
func NewConsumer(queue Queue, shard int, handle Handler, logger *zap.Logger) *Consumer {
	return &Consumer{
		queue:      queue,
		shard:      shard,
		handle:     handle,
		retryDelay: 5 * time.Second,
		logger:     logger.With(zap.Int("shard", shard)),
	}
}

// Run обрабатывает события до отмены ctx или закрытия очереди.
// Событие, упавшее на недоступности хранилища, возвращается в очередь.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Poll answer consumer started")
	defer c.logger.Info("Poll answer consumer stopped",
		zap.Int64("processed", c.processed.Load()),
		zap.Int64("failed", c.failed.Load()))

	for {
		ev, err := c.queue.Receive(ctx, c.shard)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) || ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to receive poll answer", zap.Error(err))
			if !sleep(ctx, c.retryDelay) {
				return nil
			}
			continue
		}

		if err := c.handle(ctx, ev); err != nil {
			c.failed.Add(1)
			c.logger.Error("Failed to process poll answer",
				zap.String("poll_id", ev.PollID),
				zap.Int64("user_id", ev.UserID),
				zap.Error(err))
			if model.IsTransport(err) {
				if !sleep(ctx, c.retryDelay) {
					return nil
				}
				if err := c.queue.Publish(ctx, ev); err != nil {
					c.logger.Error("Failed to requeue poll answer", zap.String("poll_id", ev.PollID), zap.Error(err))
				}
			}
			continue
		}
		c.processed.Add(1)
	}
}

// Processed возвращает число успешно обработанных событий
func (c *Consumer) Processed() int64 {
	return c.processed.Load()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
