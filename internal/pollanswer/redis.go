package pollanswer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"codequiz/internal/model"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisQueue очередь на списках Redis, по списку на шард.
// Позволяет запускать несколько потребителей в разных процессах.
type RedisQueue struct {
	rdb         *redis.Client
	prefix      string
	shards      int
	pollTimeout time.Duration
	logger      *zap.Logger
}

// RedisConfig параметры очереди
type RedisConfig struct {
	URL    string
	Prefix string
	Shards int
	// PollTimeout время блокирующего ожидания BRPOP
	PollTimeout time.Duration
}

// NewRedisQueue подключается к Redis и проверяет соединение
func NewRedisQueue(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisQueue, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	if cfg.Prefix == "" {
		cfg.Prefix = "codequiz:poll_answers"
	}
	if cfg.Shards < 1 {
		cfg.Shards = 1
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	return &RedisQueue{
		rdb:         rdb,
		prefix:      cfg.Prefix,
		shards:      cfg.Shards,
		pollTimeout: cfg.PollTimeout,
		logger:      logger,
	}, nil
}

func (q *RedisQueue) key(shard int) string {
	return fmt.Sprintf("%s:%d", q.prefix, shard)
}

// Publish кладет событие в список шарда
func (q *RedisQueue) Publish(ctx context.Context, ev model.PollAnswerEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode poll answer: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.key(ShardOf(ev.PollID, q.shards)), raw).Err(); err != nil {
		return model.NewError(model.KindStorageUnavailable, "redis lpush", err)
	}
	return nil
}

// Receive забирает следующее событие шарда
func (q *RedisQueue) Receive(ctx context.Context, shard int) (model.PollAnswerEvent, error) {
	for {
		res, err := q.rdb.BRPop(ctx, q.pollTimeout, q.key(shard)).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case errors.Is(err, redis.ErrClosed):
			return model.PollAnswerEvent{}, ErrQueueClosed
		case err != nil:
			if ctx.Err() != nil {
				return model.PollAnswerEvent{}, ctx.Err()
			}
			return model.PollAnswerEvent{}, model.NewError(model.KindStorageUnavailable, "redis brpop", err)
		}

		// res = [key, value]
		var ev model.PollAnswerEvent
		if err := json.Unmarshal([]byte(res[1]), &ev); err != nil {
			q.logger.Warn("Bad poll answer payload in redis", zap.String("key", res[0]), zap.Error(err))
			continue
		}
		return ev, nil
	}
}

// Shards возвращает число шардов
func (q *RedisQueue) Shards() int {
	return q.shards
}

// Close закрывает соединение
func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}

// Ping проверяет соединение для health-проверки
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}
