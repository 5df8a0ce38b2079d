package pollanswer

import (
	"context"
	"errors"
	"hash/fnv"

	"codequiz/internal/model"
)

// Handler обрабатывает одно событие
type Handler func(ctx context.Context, ev model.PollAnswerEvent) error

// Queue доставляет события потребителям, разложенные по шардам poll_id.
// Порядок событий одного опроса сохраняется внутри шарда.
type Queue interface {
	Publish(ctx context.Context, ev model.PollAnswerEvent) error
	// Receive блокируется до следующего события шарда или отмены ctx
	Receive(ctx context.Context, shard int) (model.PollAnswerEvent, error)
	Shards() int
	Close() error
}

// ErrQueueClosed возвращается после закрытия очереди
var ErrQueueClosed = errors.New("poll answer queue closed")

// ShardOf возвращает шард опроса
func ShardOf(pollID string, shards int) int {
	if shards <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(pollID))
	return int(h.Sum32() % uint32(shards))
}

// MemoryQueue очередь в памяти процесса
type MemoryQueue struct {
	shards []chan model.PollAnswerEvent
	done   chan struct{}
}

// NewMemoryQueue создает очередь с буфером size на шард
func NewMemoryQueue(shards, size int) *MemoryQueue {
	if shards < 1 {
		shards = 1
	}
	q := &MemoryQueue{
		shards: make([]chan model.PollAnswerEvent, shards),
		done:   make(chan struct{}),
	}
	for i := range q.shards {
		q.shards[i] = make(chan model.PollAnswerEvent, size)
	}
	return q
}

// Publish кладет событие в шард опроса
func (q *MemoryQueue) Publish(ctx context.Context, ev model.PollAnswerEvent) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.shards[ShardOf(ev.PollID, len(q.shards))] <- ev:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive ждет событие шарда
func (q *MemoryQueue) Receive(ctx context.Context, shard int) (model.PollAnswerEvent, error) {
	select {
	case ev := <-q.shards[shard]:
		return ev, nil
	case <-q.done:
		return model.PollAnswerEvent{}, ErrQueueClosed
	case <-ctx.Done():
		return model.PollAnswerEvent{}, ctx.Err()
	}
}

// Shards возвращает число шардов
func (q *MemoryQueue) Shards() int {
	return len(q.shards)
}

// Close закрывает очередь
func (q *MemoryQueue) Close() error {
	select {
	case <-q.done:
	default:
		close(q.done)
	}
	return nil
}
