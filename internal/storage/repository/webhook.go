package repository

import (
	"context"
	"fmt"

	"codequiz/internal/model"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// WebhookRepository реализует интерфейс model.WebhookRepository
type WebhookRepository struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewWebhookRepository создает новый репозиторий вебхуков
func NewWebhookRepository(db *bun.DB, logger *zap.Logger) model.WebhookRepository {
	return &WebhookRepository{
		db:     db,
		logger: logger,
	}
}

// List возвращает все вебхуки
func (r *WebhookRepository) List(ctx context.Context) ([]model.Webhook, error) {
	var hooks []model.Webhook
	if err := r.db.NewSelect().Model(&hooks).Order("created_at ASC").Scan(ctx); err != nil {
		return nil, wrapErr("list webhooks", err)
	}
	return hooks, nil
}

// ListActive возвращает активные вебхуки
func (r *WebhookRepository) ListActive(ctx context.Context) ([]model.Webhook, error) {
	var hooks []model.Webhook
	err := r.db.NewSelect().
		Model(&hooks).
		Where("is_active = TRUE").
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, wrapErr("list active webhooks", err)
	}
	return hooks, nil
}

// Create создает вебхук
func (r *WebhookRepository) Create(ctx context.Context, webhook *model.Webhook) error {
	if webhook.ID == uuid.Nil {
		webhook.ID = uuid.New()
	}
	_, err := r.db.NewInsert().Model(webhook).Returning("*").Exec(ctx)
	return wrapErr("create webhook", err)
}

// Deactivate мягко отключает вебхук
func (r *WebhookRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.NewUpdate().
		Model((*model.Webhook)(nil)).
		Set("is_active = FALSE").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return wrapErr("deactivate webhook", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("webhook %s: %w", id, model.ErrNotFound)
	}
	return nil
}
