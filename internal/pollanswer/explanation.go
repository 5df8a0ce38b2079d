package pollanswer

import (
	"context"
	"strings"

	"codequiz/internal/external/telegram"
	"codequiz/internal/model"
)

// maxMessageLength лимит текста сообщения Bot API
const maxMessageLength = 4096

// ExplanationSender доставляет объяснение пользователю, выбравшему "не знаю"
type ExplanationSender interface {
	SendExplanation(ctx context.Context, userID int64, tr *model.TaskTranslation) error
}

// DirectSender отправляет объяснение личным сообщением от бота.
// Пользователь должен был хотя бы раз запустить бота, иначе Bot API откажет.
type DirectSender struct {
	tg telegram.API
}

// NewDirectSender создает отправителя личных сообщений
func NewDirectSender(tg telegram.API) *DirectSender {
	return &DirectSender{tg: tg}
}

// SendExplanation отправляет подробное объяснение, а если его нет, краткое
func (s *DirectSender) SendExplanation(ctx context.Context, userID int64, tr *model.TaskTranslation) error {
	text := ExplanationText(tr)
	if text == "" {
		return nil
	}
	text, _ = telegram.Truncate(text, maxMessageLength)
	_, err := s.tg.SendMessage(ctx, userID, text, telegram.ParseModePlain)
	return err
}

// ExplanationText выбирает текст объяснения перевода
func ExplanationText(tr *model.TaskTranslation) string {
	if text := strings.TrimSpace(tr.LongExplanation); text != "" {
		return text
	}
	return strings.TrimSpace(tr.Explanation)
}
