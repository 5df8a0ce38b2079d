package middleware

import (
	"context"
	"fmt"
	"time"

	"codequiz/internal/model"
	"codequiz/internal/pollanswer"
	"codequiz/pkg/logger"

	"go.uber.org/zap"
)

// Logging кладет в контекст логгер с идентификатором запроса и пишет
// длительность обработки
func Logging(log *zap.Logger) Middleware {
	return func(next pollanswer.Handler) pollanswer.Handler {
		return func(ctx context.Context, ev model.PollAnswerEvent) error {
			start := time.Now()
			reqLog := log.With(
				zap.String("request_id", fmt.Sprintf("%d-%d", ev.UpdateID, start.UnixNano())),
				zap.String("poll_id", ev.PollID),
				zap.Int64("user_id", ev.UserID))
			reqLog.Debug("Processing poll answer", zap.String("user", userIdentifier(ev)))

			err := next(logger.WithContext(ctx, reqLog), ev)

			duration := time.Since(start)
			if err != nil {
				reqLog.Warn("Poll answer completed with error", zap.Duration("duration", duration), zap.Error(err))
				return err
			}
			reqLog.Debug("Poll answer completed successfully", zap.Duration("duration", duration))
			return nil
		}
	}
}

// userIdentifier возвращает идентификатор пользователя
func userIdentifier(ev model.PollAnswerEvent) string {
	if ev.Username != "" {
		return "@" + ev.Username
	}
	return fmt.Sprintf("user_%d", ev.UserID)
}
