// Package telegram содержит интеграцию с Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"codequiz/internal/model"
	"codequiz/internal/retry"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Лимиты Bot API для опросов
const (
	MaxQuestionLength    = 300
	MaxExplanationLength = 200
	MaxOptionLength      = 100
	MaxPollOptions       = 10
)

// ParseModePlain отключает разметку сообщения
const ParseModePlain = "plain"

// Ellipsis добавляется к обрезанному тексту
const Ellipsis = "..."

// Config параметры транспорта
type Config struct {
	Token         string
	APIEndpoint   string
	MediaTimeout  time.Duration
	ButtonTimeout time.Duration
	// RateLimit запросов в секунду; 0 отключает ограничение
	RateLimit   float64
	ButtonRetry retry.Config
}

// DefaultButtonRetry три попытки с линейной задержкой 2-3 секунды
var DefaultButtonRetry = retry.Config{
	MaxAttempts:  3,
	InitialDelay: 2 * time.Second,
	Jitter:       time.Second,
	Backoff:      retry.Linear,
}

// Sent результат отправки сообщения
type Sent struct {
	ChatID    int64
	MessageID int64
	PollID    string
}

// Client представляет клиент Telegram Bot API для публикации
type Client struct {
	bot         *tgbotapi.BotAPI
	buttonBot   *tgbotapi.BotAPI
	limiter     *rate.Limiter
	buttonRetry retry.Config
	logger      *zap.Logger
}

// NewClient создает новый клиент Telegram
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Token == "" {
		return nil, model.Errorf(model.KindConfigurationMissing, "telegram", "bot token is not configured")
	}
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	if cfg.MediaTimeout <= 0 {
		cfg.MediaTimeout = 30 * time.Second
	}
	if cfg.ButtonTimeout <= 0 {
		cfg.ButtonTimeout = 60 * time.Second
	}
	if cfg.ButtonRetry.MaxAttempts == 0 {
		cfg.ButtonRetry = DefaultButtonRetry
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, endpoint, &http.Client{Timeout: cfg.MediaTimeout})
	if err != nil {
		return nil, classify("getMe", err)
	}
	bot.Debug = false
	logger.Info("Telegram bot created", zap.String("username", bot.Self.UserName))

	// отдельный HTTP клиент с увеличенным таймаутом для кнопки
	buttonBot := *bot
	buttonBot.Client = &http.Client{Timeout: cfg.ButtonTimeout}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	return &Client{
		bot:         bot,
		buttonBot:   &buttonBot,
		limiter:     rate.NewLimiter(limit, 1),
		buttonRetry: cfg.ButtonRetry,
		logger:      logger,
	}, nil
}

// Bot возвращает нижележащий BotAPI
func (c *Client) Bot() *tgbotapi.BotAPI {
	return c.bot
}

func (c *Client) send(ctx context.Context, bot *tgbotapi.BotAPI, op string, msg tgbotapi.Chattable) (tgbotapi.Message, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return tgbotapi.Message{}, model.NewError(model.KindTelegramUnavailable, op, err)
	}
	sent, err := bot.Send(msg)
	if err != nil {
		return tgbotapi.Message{}, classify(op, err)
	}
	return sent, nil
}

func result(m tgbotapi.Message) Sent {
	s := Sent{MessageID: int64(m.MessageID)}
	if m.Chat != nil {
		s.ChatID = m.Chat.ID
	}
	if m.Poll != nil {
		s.PollID = m.Poll.ID
	}
	return s
}

// SendPhoto отправляет фото по URL. Пустая подпись не передается.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, photoURL, caption string) (Sent, error) {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(photoURL))
	if caption != "" {
		photo.Caption = caption
		photo.ParseMode = tgbotapi.ModeMarkdownV2
	}

	m, err := c.send(ctx, c.bot, "sendPhoto", photo)
	if err != nil {
		return Sent{}, err
	}
	return result(m), nil
}

// SendMessage отправляет сообщение. По умолчанию MarkdownV2, текст должен быть экранирован.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text, parseMode string) (Sent, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = resolveParseMode(parseMode)
	msg.DisableWebPagePreview = true

	m, err := c.send(ctx, c.bot, "sendMessage", msg)
	if err != nil {
		return Sent{}, err
	}
	return result(m), nil
}

// PollRequest параметры опроса-викторины
type PollRequest struct {
	ChatID       int64
	Question     string
	Options      []string
	CorrectIndex int
	Explanation  string
	IsAnonymous  bool
}

// SendPoll отправляет опрос-викторину, обрезая тексты до лимитов Bot API
func (c *Client) SendPoll(ctx context.Context, req PollRequest) (Sent, error) {
	question, cut := Truncate(req.Question, MaxQuestionLength)
	if cut {
		c.logger.Warn("Poll question truncated",
			zap.Int64("chat_id", req.ChatID),
			zap.Int("length", utf8.RuneCountInString(req.Question)),
			zap.Int("limit", MaxQuestionLength))
	}

	options := make([]string, len(req.Options))
	for i, opt := range req.Options {
		var optCut bool
		options[i], optCut = Truncate(opt, MaxOptionLength)
		if optCut {
			c.logger.Warn("Poll option truncated",
				zap.Int64("chat_id", req.ChatID),
				zap.Int("option", i),
				zap.Int("limit", MaxOptionLength))
		}
	}

	poll := tgbotapi.NewPoll(req.ChatID, question, options...)
	poll.IsAnonymous = req.IsAnonymous
	poll.Type = model.PollTypeQuiz
	poll.CorrectOptionID = int64(req.CorrectIndex)

	if req.Explanation != "" {
		explanation, explCut := Truncate(req.Explanation, MaxExplanationLength)
		if explCut {
			c.logger.Warn("Poll explanation truncated",
				zap.Int64("chat_id", req.ChatID),
				zap.Int("length", utf8.RuneCountInString(req.Explanation)),
				zap.Int("limit", MaxExplanationLength))
		}
		poll.Explanation = explanation
	}

	m, err := c.send(ctx, c.bot, "sendPoll", poll)
	if err != nil {
		return Sent{}, err
	}
	return result(m), nil
}

// SendMessageWithButton отправляет сообщение с одной URL-кнопкой.
// Единственная операция транспорта со встроенными повторами.
func (c *Client) SendMessageWithButton(ctx context.Context, chatID int64, text, buttonText, buttonURL string) (Sent, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL(buttonText, buttonURL),
		),
	)

	var sent Sent
	err := retry.Do(ctx, c.logger, c.buttonRetry, func(ctx context.Context, attempt int) error {
		m, err := c.send(ctx, c.buttonBot, "sendMessage", msg)
		if err != nil {
			c.logger.Warn("Failed to send button message",
				zap.Int64("chat_id", chatID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		}
		sent = result(m)
		return nil
	})
	if err != nil {
		return Sent{}, err
	}
	return sent, nil
}

// Сообщения об ошибках deleteMessage, которые считаются мягким отказом
var softDeleteMarkers = []string{
	"message to delete not found",
	"message can't be deleted",
	"not enough rights",
	"message_id_invalid",
}

// DeleteMessage удаляет сообщение. Возвращает false без ошибки при мягком отказе
// (сообщение уже удалено или у бота нет прав).
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID int64) (bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, model.NewError(model.KindTelegramUnavailable, "deleteMessage", err)
	}

	_, err := c.bot.Request(tgbotapi.NewDeleteMessage(chatID, int(messageID)))
	if err == nil {
		return true, nil
	}

	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) && isSoftDelete(tgErr.Message) {
		c.logger.Info("Message not deleted",
			zap.Int64("chat_id", chatID),
			zap.Int64("message_id", messageID),
			zap.String("reason", tgErr.Message))
		return false, nil
	}
	return false, classify("deleteMessage", err)
}

func isSoftDelete(message string) bool {
	lower := strings.ToLower(message)
	for _, marker := range softDeleteMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func resolveParseMode(mode string) string {
	switch mode {
	case "":
		return tgbotapi.ModeMarkdownV2
	case ParseModePlain:
		return ""
	default:
		return mode
	}
}

// Truncate обрезает строку до limit символов, заканчивая многоточием
func Truncate(s string, limit int) (string, bool) {
	if utf8.RuneCountInString(s) <= limit {
		return s, false
	}
	runes := []rune(s)
	keep := limit - utf8.RuneCountInString(Ellipsis)
	if keep < 0 {
		keep = 0
	}
	return string(runes[:keep]) + Ellipsis, true
}

// EscapeMarkdown экранирует текст для MarkdownV2
func EscapeMarkdown(text string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, text)
}

func classify(op string, err error) error {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		kind := model.KindTelegramRejected
		if tgErr.Code == http.StatusTooManyRequests || tgErr.RetryAfter > 0 {
			kind = model.KindTelegramRateLimited
		}
		return &model.Error{
			Kind: kind,
			Op:   op,
			Code: strconv.Itoa(tgErr.Code),
			Err:  errors.New(tgErr.Message),
		}
	}
	return model.NewError(model.KindTelegramUnavailable, op, err)
}
