package telegram

import "context"

// API определяет операции транспорта, используемые публикацией, очисткой и агрегатором
type API interface {
	SendPhoto(ctx context.Context, chatID int64, photoURL, caption string) (Sent, error)
	SendMessage(ctx context.Context, chatID int64, text, parseMode string) (Sent, error)
	SendPoll(ctx context.Context, req PollRequest) (Sent, error)
	SendMessageWithButton(ctx context.Context, chatID int64, text, buttonText, buttonURL string) (Sent, error)
	DeleteMessage(ctx context.Context, chatID, messageID int64) (bool, error)
}

var _ API = (*Client)(nil)
