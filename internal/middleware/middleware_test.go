package middleware

import (
	"context"
	"errors"
	"testing"

	"codequiz/internal/model"
	"codequiz/internal/pollanswer"
	"codequiz/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next pollanswer.Handler) pollanswer.Handler {
			return func(ctx context.Context, ev model.PollAnswerEvent) error {
				order = append(order, name)
				return next(ctx, ev)
			}
		}
	}
	h := Chain(func(context.Context, model.PollAnswerEvent) error {
		order = append(order, "handler")
		return nil
	}, mark("first"), mark("second"))

	require.NoError(t, h(context.Background(), model.PollAnswerEvent{}))
	assert.Equal(t, []string{"first", "second", "handler"}, order)
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	h := Chain(func(context.Context, model.PollAnswerEvent) error {
		panic("nil poll")
	}, Recovery(zap.New(core)))

	err := h(context.Background(), model.PollAnswerEvent{PollID: "poll-1", UserID: 7})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil poll")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "poll-1", logs.All()[0].ContextMap()["poll_id"])
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	fallback := zap.NewNop()

	var inner *zap.Logger
	h := Chain(func(ctx context.Context, ev model.PollAnswerEvent) error {
		inner = logger.FromContext(ctx, fallback)
		if ev.UserID == 2 {
			return errors.New("stats unavailable")
		}
		return nil
	}, Logging(zap.New(core)))

	require.NoError(t, h(context.Background(), model.PollAnswerEvent{PollID: "poll-1", UserID: 1, Username: "ann"}))
	assert.NotSame(t, fallback, inner)
	assert.Error(t, h(context.Background(), model.PollAnswerEvent{PollID: "poll-1", UserID: 2}))

	warns := logs.FilterLevelExact(zapcore.WarnLevel).All()
	require.Len(t, warns, 1)
	assert.Equal(t, int64(2), warns[0].ContextMap()["user_id"])
	assert.Equal(t, "@ann", logs.FilterMessage("Processing poll answer").All()[0].ContextMap()["user"])
}

func TestUserIdentifier(t *testing.T) {
	assert.Equal(t, "@bob", userIdentifier(model.PollAnswerEvent{UserID: 1, Username: "bob"}))
	assert.Equal(t, "user_42", userIdentifier(model.PollAnswerEvent{UserID: 42}))
}
