package repository

import (
	"context"
	"strings"

	"codequiz/internal/model"

	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// TopicRepository реализует интерфейс model.TopicRepository
type TopicRepository struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewTopicRepository создает новый репозиторий тем
func NewTopicRepository(db *bun.DB, logger *zap.Logger) model.TopicRepository {
	return &TopicRepository{
		db:     db,
		logger: logger,
	}
}

// GetByID получает тему по ID
func (r *TopicRepository) GetByID(ctx context.Context, id int64) (*model.Topic, error) {
	topic := new(model.Topic)
	if err := r.db.NewSelect().Model(topic).Where("id = ?", id).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, wrapErr("get topic", err)
	}
	return topic, nil
}

// GetOrCreate возвращает тему по имени, создавая ее при необходимости
func (r *TopicRepository) GetOrCreate(ctx context.Context, name string) (*model.Topic, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, model.Errorf(model.KindValidationFailed, "get or create topic", "topic name is empty")
	}

	topic := &model.Topic{Name: name}
	_, err := r.db.NewInsert().
		Model(topic).
		On("CONFLICT (name) DO UPDATE").
		Set("name = EXCLUDED.name").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, wrapErr("get or create topic", err)
	}
	return topic, nil
}

// GetSubtopic получает подтему по ID
func (r *TopicRepository) GetSubtopic(ctx context.Context, id int64) (*model.Subtopic, error) {
	sub := new(model.Subtopic)
	if err := r.db.NewSelect().Model(sub).Where("id = ?", id).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, wrapErr("get subtopic", err)
	}
	return sub, nil
}

// GetOrCreateSubtopic возвращает подтему темы, создавая ее при необходимости
func (r *TopicRepository) GetOrCreateSubtopic(ctx context.Context, topicID int64, name string) (*model.Subtopic, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, model.Errorf(model.KindValidationFailed, "get or create subtopic", "subtopic name is empty")
	}

	sub := &model.Subtopic{TopicID: topicID, Name: name}
	_, err := r.db.NewInsert().
		Model(sub).
		On("CONFLICT (topic_id, name) DO UPDATE").
		Set("name = EXCLUDED.name").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, wrapErr("get or create subtopic", err)
	}
	return sub, nil
}
