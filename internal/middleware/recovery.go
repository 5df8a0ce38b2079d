package middleware

import (
	"context"
	"fmt"
	"runtime/debug"

	"codequiz/internal/model"
	"codequiz/internal/pollanswer"

	"go.uber.org/zap"
)

// Recovery превращает панику обработчика в ошибку, чтобы потребитель шарда
// продолжил работу со следующим событием
func Recovery(logger *zap.Logger) Middleware {
	return func(next pollanswer.Handler) pollanswer.Handler {
		return func(ctx context.Context, ev model.PollAnswerEvent) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Panic recovered in poll answer handler",
						zap.String("poll_id", ev.PollID),
						zap.Int64("user_id", ev.UserID),
						zap.Int("update_id", ev.UpdateID),
						zap.Any("panic", r),
						zap.String("stack", string(debug.Stack())))
					err = fmt.Errorf("poll answer handler panicked: %v", r)
				}
			}()
			return next(ctx, ev)
		}
	}
}
