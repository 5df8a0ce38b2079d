package pollanswer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"codequiz/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

func TestShardOf(t *testing.T) {
	assert.Equal(t, 0, ShardOf("anything", 1))
	assert.Equal(t, 0, ShardOf("anything", 0))

	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("poll-%d", i)
		shard := ShardOf(id, 4)
		assert.GreaterOrEqual(t, shard, 0)
		assert.Less(t, shard, 4)
		assert.Equal(t, shard, ShardOf(id, 4), "шард стабилен")
	}
}

func TestMemoryQueue_ShardOrder(t *testing.T) {
	q := NewMemoryQueue(2, 16)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Publish(ctx, model.PollAnswerEvent{PollID: "poll-a", UserID: int64(i)}))
	}

	shard := ShardOf("poll-a", 2)
	for i := 0; i < 5; i++ {
		ev, err := q.Receive(ctx, shard)
		require.NoError(t, err)
		assert.Equal(t, int64(i), ev.UserID)
	}

	require.NoError(t, q.Close())
	_, err := q.Receive(ctx, shard)
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.ErrorIs(t, q.Publish(ctx, model.PollAnswerEvent{PollID: "poll-a"}), ErrQueueClosed)
}

type recordingHandler struct {
	mu     sync.Mutex
	seen   []int64
	failOn map[int64]error
	done   chan struct{}
	want   int
}

func (h *recordingHandler) handle(_ context.Context, ev model.PollAnswerEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.failOn[ev.UserID]; err != nil {
		delete(h.failOn, ev.UserID)
		return err
	}
	h.seen = append(h.seen, ev.UserID)
	if len(h.seen) == h.want {
		close(h.done)
	}
	return nil
}

func TestConsumer_ProcessesAndRequeues(t *testing.T) {
	q := NewMemoryQueue(1, 16)
	h := &recordingHandler{
		failOn: map[int64]error{2: model.Errorf(model.KindDatabaseUnavailable, "record", "connection reset")},
		done:   make(chan struct{}),
		want:   3,
	}
	c := NewConsumer(q, 0, h.handle, zap.NewNop())
	c.retryDelay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	for user := int64(1); user <= 3; user++ {
		require.NoError(t, q.Publish(ctx, model.PollAnswerEvent{PollID: "poll-1", UserID: user}))
	}

	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not process events")
	}
	cancel()
	require.NoError(t, <-errCh)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.ElementsMatch(t, []int64{1, 2, 3}, h.seen)
	assert.Equal(t, int64(3), c.Processed())
}

func TestConsumer_DropsNonTransportErrors(t *testing.T) {
	q := NewMemoryQueue(1, 16)
	h := &recordingHandler{
		failOn: map[int64]error{1: assert.AnError},
		done:   make(chan struct{}),
		want:   1,
	}
	c := NewConsumer(q, 0, h.handle, zap.NewNop())
	c.retryDelay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	require.NoError(t, q.Publish(ctx, model.PollAnswerEvent{PollID: "poll-1", UserID: 1}))
	require.NoError(t, q.Publish(ctx, model.PollAnswerEvent{PollID: "poll-1", UserID: 2}))

	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not process events")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, []int64{2}, h.seen)
}

func startRedis(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	cont, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cont.Terminate(ctx) })

	host, err := cont.Host(ctx)
	require.NoError(t, err)
	port, err := cont.MappedPort(ctx, "6379")
	require.NoError(t, err)
	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func TestRedisQueue(t *testing.T) {
	url := startRedis(t)
	ctx := context.Background()

	q, err := NewRedisQueue(ctx, RedisConfig{URL: url, Shards: 3, PollTimeout: time.Second}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	require.NoError(t, q.Ping(ctx))

	sent := model.PollAnswerEvent{PollID: "poll-9", UserID: 77, Username: "alice", OptionIDs: []int{1, 3}}
	require.NoError(t, q.Publish(ctx, sent))
	require.NoError(t, q.Publish(ctx, model.PollAnswerEvent{PollID: "poll-9", UserID: 78, OptionIDs: []int{0}}))

	shard := ShardOf("poll-9", 3)
	first, err := q.Receive(ctx, shard)
	require.NoError(t, err)
	assert.Equal(t, sent.UserID, first.UserID)
	assert.Equal(t, sent.OptionIDs, first.OptionIDs)
	assert.Equal(t, "alice", first.Username)

	second, err := q.Receive(ctx, shard)
	require.NoError(t, err)
	assert.Equal(t, int64(78), second.UserID)

	timeout, cancel := context.WithTimeout(ctx, 1500*time.Millisecond)
	defer cancel()
	_, err = q.Receive(timeout, shard)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
