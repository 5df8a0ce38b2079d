// Package telegramtest содержит фейковый транспорт Telegram для тестов.
package telegramtest

import (
	"context"
	"fmt"
	"sync"

	"codequiz/internal/external/telegram"
)

// Call запись об одном вызове транспорта
type Call struct {
	Method     string
	ChatID     int64
	MessageID  int64
	Text       string
	ParseMode  string
	PhotoURL   string
	ButtonText string
	ButtonURL  string
	Poll       telegram.PollRequest
}

// Fake записывает вызовы и выдает последовательные message_id по чатам
type Fake struct {
	mu      sync.Mutex
	calls   []Call
	nextID  map[int64]int64
	pollSeq int
	deleted map[int64]map[int64]bool

	// FailOn возвращает ошибку для метода; nil пропускает вызов
	FailOn func(method string, chatID int64) error

	// Missing сообщения, удаление которых завершается мягким отказом
	Missing map[int64]bool
}

// New создает фейк с нумерацией сообщений с 100
func New() *Fake {
	return &Fake{
		nextID:  make(map[int64]int64),
		deleted: make(map[int64]map[int64]bool),
		Missing: make(map[int64]bool),
	}
}

var _ telegram.API = (*Fake)(nil)

func (f *Fake) record(c Call) (telegram.Sent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailOn != nil {
		if err := f.FailOn(c.Method, c.ChatID); err != nil {
			f.calls = append(f.calls, c)
			return telegram.Sent{}, err
		}
	}

	if _, ok := f.nextID[c.ChatID]; !ok {
		f.nextID[c.ChatID] = 100
	}
	f.nextID[c.ChatID]++
	c.MessageID = f.nextID[c.ChatID]
	f.calls = append(f.calls, c)

	sent := telegram.Sent{ChatID: c.ChatID, MessageID: c.MessageID}
	if c.Method == "sendPoll" {
		f.pollSeq++
		sent.PollID = fmt.Sprintf("poll-%d", f.pollSeq)
	}
	return sent, nil
}

// SendPhoto записывает отправку фото
func (f *Fake) SendPhoto(_ context.Context, chatID int64, photoURL, caption string) (telegram.Sent, error) {
	return f.record(Call{Method: "sendPhoto", ChatID: chatID, PhotoURL: photoURL, Text: caption})
}

// SendMessage записывает отправку сообщения
func (f *Fake) SendMessage(_ context.Context, chatID int64, text, parseMode string) (telegram.Sent, error) {
	return f.record(Call{Method: "sendMessage", ChatID: chatID, Text: text, ParseMode: parseMode})
}

// SendPoll записывает отправку опроса
func (f *Fake) SendPoll(_ context.Context, req telegram.PollRequest) (telegram.Sent, error) {
	return f.record(Call{Method: "sendPoll", ChatID: req.ChatID, Text: req.Question, Poll: req})
}

// SendMessageWithButton записывает отправку сообщения с кнопкой
func (f *Fake) SendMessageWithButton(_ context.Context, chatID int64, text, buttonText, buttonURL string) (telegram.Sent, error) {
	return f.record(Call{Method: "sendButton", ChatID: chatID, Text: text, ButtonText: buttonText, ButtonURL: buttonURL})
}

// DeleteMessage записывает удаление. Сообщения из Missing дают мягкий отказ.
func (f *Fake) DeleteMessage(_ context.Context, chatID, messageID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := Call{Method: "deleteMessage", ChatID: chatID, MessageID: messageID}
	f.calls = append(f.calls, c)
	if f.FailOn != nil {
		if err := f.FailOn(c.Method, chatID); err != nil {
			return false, err
		}
	}
	if f.Missing[messageID] || f.deleted[chatID][messageID] {
		return false, nil
	}
	if f.deleted[chatID] == nil {
		f.deleted[chatID] = make(map[int64]bool)
	}
	f.deleted[chatID][messageID] = true
	return true, nil
}

// Calls возвращает копию записанных вызовов
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Methods возвращает имена методов в порядке вызова
func (f *Fake) Methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Method
	}
	return out
}

// CallsFor возвращает вызовы указанного метода
func (f *Fake) CallsFor(method string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Deleted возвращает удаленные message_id чата
func (f *Fake) Deleted(chatID int64) []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int64
	for _, c := range f.calls {
		if c.Method == "deleteMessage" && c.ChatID == chatID && f.deleted[chatID][c.MessageID] {
			out = append(out, c.MessageID)
		}
	}
	return out
}

// Reset очищает журнал вызовов
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}
