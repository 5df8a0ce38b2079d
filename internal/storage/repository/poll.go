package repository

import (
	"context"

	"codequiz/internal/model"

	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// PollRepository реализует интерфейс model.PollRepository
type PollRepository struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewPollRepository создает новый репозиторий опросов
func NewPollRepository(db *bun.DB, logger *zap.Logger) model.PollRepository {
	return &PollRepository{
		db:     db,
		logger: logger,
	}
}

// Create сохраняет опрос
func (r *PollRepository) Create(ctx context.Context, poll *model.TaskPoll) error {
	_, err := r.db.NewInsert().Model(poll).Returning("*").Exec(ctx)
	return wrapErr("create poll", err)
}

// GetByPollID получает опрос по идентификатору Telegram
func (r *PollRepository) GetByPollID(ctx context.Context, pollID string) (*model.TaskPoll, error) {
	poll := new(model.TaskPoll)
	if err := r.db.NewSelect().Model(poll).Where("poll_id = ?", pollID).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, wrapErr("get poll", err)
	}
	return poll, nil
}

// ListByTask возвращает опросы задачи
func (r *PollRepository) ListByTask(ctx context.Context, taskID int64) ([]model.TaskPoll, error) {
	var polls []model.TaskPoll
	err := r.db.NewSelect().
		Model(&polls).
		Where("task_id = ?", taskID).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, wrapErr("list polls", err)
	}
	return polls, nil
}

// IncrementVoters увеличивает счетчик проголосовавших
func (r *PollRepository) IncrementVoters(ctx context.Context, pollID string) error {
	_, err := r.db.NewUpdate().
		Model((*model.TaskPoll)(nil)).
		Set("total_voter_count = total_voter_count + 1").
		Where("poll_id = ?", pollID).
		Exec(ctx)
	return wrapErr("increment poll voters", err)
}

// SetButtonMessage сохраняет id сообщения с кнопкой "подробнее"
func (r *PollRepository) SetButtonMessage(ctx context.Context, pollID string, messageID int64) error {
	_, err := r.db.NewUpdate().
		Model((*model.TaskPoll)(nil)).
		Set("button_message_id = ?", messageID).
		Where("poll_id = ?", pollID).
		Exec(ctx)
	return wrapErr("set button message", err)
}
