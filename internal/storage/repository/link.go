package repository

import (
	"context"

	"codequiz/internal/model"

	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// LinkRepository реализует интерфейс model.LinkRepository
type LinkRepository struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewLinkRepository создает новый репозиторий ссылок
func NewLinkRepository(db *bun.DB, logger *zap.Logger) model.LinkRepository {
	return &LinkRepository{
		db:     db,
		logger: logger,
	}
}

// GetDefault возвращает ссылку темы для языка
func (r *LinkRepository) GetDefault(ctx context.Context, lang, topicName string) (*model.DefaultLink, error) {
	link := new(model.DefaultLink)
	err := r.db.NewSelect().
		Model(link).
		Where("language = ?", lang).
		Where("topic_name = ?", topicName).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, wrapErr("get default link", err)
	}
	return link, nil
}

// GetMainFallback возвращает основную ссылку языка
func (r *LinkRepository) GetMainFallback(ctx context.Context, lang string) (*model.MainFallbackLink, error) {
	link := new(model.MainFallbackLink)
	if err := r.db.NewSelect().Model(link).Where("language = ?", lang).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, wrapErr("get main fallback link", err)
	}
	return link, nil
}

// ListActiveGlobal возвращает активные глобальные ссылки
func (r *LinkRepository) ListActiveGlobal(ctx context.Context) ([]model.GlobalLink, error) {
	var links []model.GlobalLink
	err := r.db.NewSelect().
		Model(&links).
		Where("is_active = TRUE").
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, wrapErr("list global links", err)
	}
	return links, nil
}

// SaveDefault создает или обновляет ссылку темы
func (r *LinkRepository) SaveDefault(ctx context.Context, link *model.DefaultLink) error {
	_, err := r.db.NewInsert().
		Model(link).
		On("CONFLICT (language, topic_name) DO UPDATE").
		Set("url = EXCLUDED.url").
		Returning("*").
		Exec(ctx)
	return wrapErr("save default link", err)
}

// SaveMainFallback создает или обновляет основную ссылку языка
func (r *LinkRepository) SaveMainFallback(ctx context.Context, link *model.MainFallbackLink) error {
	_, err := r.db.NewInsert().
		Model(link).
		On("CONFLICT (language) DO UPDATE").
		Set("url = EXCLUDED.url").
		Returning("*").
		Exec(ctx)
	return wrapErr("save main fallback link", err)
}
