package repository

import (
	"context"

	"codequiz/internal/model"

	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// GroupRepository реализует интерфейс model.GroupRepository
type GroupRepository struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewGroupRepository создает новый репозиторий Telegram-групп
func NewGroupRepository(db *bun.DB, logger *zap.Logger) model.GroupRepository {
	return &GroupRepository{
		db:     db,
		logger: logger,
	}
}

// GetByID получает группу по ID
func (r *GroupRepository) GetByID(ctx context.Context, id int64) (*model.TelegramGroup, error) {
	group := new(model.TelegramGroup)
	if err := r.db.NewSelect().Model(group).Where("id = ?", id).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, wrapErr("get telegram group", err)
	}
	return group, nil
}

// FindPublicationTarget возвращает каноническую группу для (тема, язык).
// При нескольких совпадениях побеждает группа с меньшим id.
func (r *GroupRepository) FindPublicationTarget(ctx context.Context, topicID int64, lang string) (*model.TelegramGroup, error) {
	group := new(model.TelegramGroup)
	err := r.db.NewSelect().
		Model(group).
		Where("topic_id = ?", topicID).
		Where("language = ?", lang).
		Where("location_type != ?", model.LocationWebsite).
		Order("id ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, wrapErr("find publication target", err)
	}
	return group, nil
}

// Create создает группу
func (r *GroupRepository) Create(ctx context.Context, group *model.TelegramGroup) error {
	_, err := r.db.NewInsert().Model(group).Returning("*").Exec(ctx)
	return wrapErr("create telegram group", err)
}
