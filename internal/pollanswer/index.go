// Package pollanswer обрабатывает ответы пользователей на опросы-викторины
// и ведет статистику по задачам.
package pollanswer

import (
	"context"
	"fmt"

	"codequiz/internal/model"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Index кеширует соответствие poll_id -> опрос. Опросы не меняются после
// создания (кроме счетчика голосов), поэтому кеш не инвалидируется.
type Index struct {
	polls model.PollRepository
	cache *lru.Cache[string, model.TaskPoll]
}

// NewIndex создает индекс на size записей
func NewIndex(polls model.PollRepository, size int) (*Index, error) {
	if size <= 0 {
		size = 4096
	}
	cache, err := lru.New[string, model.TaskPoll](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create poll cache: %w", err)
	}
	return &Index{polls: polls, cache: cache}, nil
}

// Lookup возвращает опрос или nil для неизвестного poll_id
func (i *Index) Lookup(ctx context.Context, pollID string) (*model.TaskPoll, error) {
	if p, ok := i.cache.Get(pollID); ok {
		return &p, nil
	}
	p, err := i.polls.GetByPollID(ctx, pollID)
	if err != nil {
		return nil, fmt.Errorf("failed to get poll %s: %w", pollID, err)
	}
	if p == nil {
		return nil, nil
	}
	i.cache.Add(pollID, *p)
	return p, nil
}

// Len возвращает число закешированных опросов
func (i *Index) Len() int {
	return i.cache.Len()
}
