package telegram

import (
	"context"
	"fmt"
	"time"

	"codequiz/internal/model"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// PollAnswerHandler обработчик ответа на опрос
type PollAnswerHandler func(ctx context.Context, event model.PollAnswerEvent) error

// Receiver получает обновления poll_answer через long polling
type Receiver struct {
	bot            *tgbotapi.BotAPI
	logger         *zap.Logger
	reconnectDelay time.Duration
}

// NewReceiver создает получатель обновлений
func NewReceiver(bot *tgbotapi.BotAPI, logger *zap.Logger) *Receiver {
	return &Receiver{
		bot:            bot,
		logger:         logger,
		reconnectDelay: 10 * time.Second,
	}
}

// Run читает обновления до отмены контекста. События одного опроса
// передаются обработчику в порядке получения.
func (r *Receiver) Run(ctx context.Context, handle PollAnswerHandler) error {
	if _, err := r.bot.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: false}); err != nil {
		r.logger.Error("Failed to delete webhook", zap.Error(err))
		return fmt.Errorf("failed to delete webhook: %w", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	u.AllowedUpdates = []string{"poll_answer"}

	r.logger.Info("Starting to fetch poll answers")
	updates := r.bot.GetUpdatesChan(u)
	defer r.bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Update loop cancelled by context")
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				r.logger.Warn("Update channel closed, will try to reconnect after delay")
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(r.reconnectDelay):
					return fmt.Errorf("update channel closed, reconnecting")
				}
			}

			event, ok := ToPollAnswerEvent(update)
			if !ok {
				continue
			}
			if err := handle(ctx, event); err != nil {
				r.logger.Error("Failed to handle poll answer",
					zap.String("poll_id", event.PollID),
					zap.Int64("user_id", event.UserID),
					zap.Error(err))
			}
		}
	}
}

// ToPollAnswerEvent преобразует обновление в событие ответа на опрос
func ToPollAnswerEvent(update tgbotapi.Update) (model.PollAnswerEvent, bool) {
	if update.PollAnswer == nil {
		return model.PollAnswerEvent{}, false
	}
	answer := update.PollAnswer
	return model.PollAnswerEvent{
		UpdateID:   update.UpdateID,
		PollID:     answer.PollID,
		UserID:     answer.User.ID,
		Username:   answer.User.UserName,
		OptionIDs:  append([]int(nil), answer.OptionIDs...),
		ReceivedAt: time.Now().UTC(),
	}, true
}
