package storage

import (
	"context"
	"fmt"

	"codequiz/internal/model"

	"go.uber.org/zap"
)

type tableSpec struct {
	model       any
	foreignKeys []string
}

var tables = []tableSpec{
	{model: (*model.Topic)(nil)},
	{model: (*model.Subtopic)(nil), foreignKeys: []string{`("topic_id") REFERENCES "topics" ("id") ON DELETE CASCADE`}},
	{model: (*model.TelegramGroup)(nil)},
	{model: (*model.Task)(nil)},
	{model: (*model.TaskTranslation)(nil), foreignKeys: []string{`("task_id") REFERENCES "tasks" ("id") ON DELETE CASCADE`}},
	{model: (*model.TaskPoll)(nil), foreignKeys: []string{`("task_id") REFERENCES "tasks" ("id") ON DELETE CASCADE`}},
	{model: (*model.TaskStatistics)(nil), foreignKeys: []string{`("task_id") REFERENCES "tasks" ("id") ON DELETE CASCADE`}},
	{model: (*model.MiniAppTaskStatistics)(nil), foreignKeys: []string{`("task_id") REFERENCES "tasks" ("id") ON DELETE CASCADE`}},
	{model: (*model.Webhook)(nil)},
	{model: (*model.DefaultLink)(nil)},
	{model: (*model.MainFallbackLink)(nil)},
	{model: (*model.GlobalLink)(nil)},
}

type indexSpec struct {
	model   any
	name    string
	columns []string
}

var indexes = []indexSpec{
	{model: (*model.Task)(nil), name: "idx_tasks_translation_group_id", columns: []string{"translation_group_id"}},
	{model: (*model.Task)(nil), name: "idx_tasks_published_publish_date", columns: []string{"published", "publish_date"}},
	{model: (*model.TaskTranslation)(nil), name: "idx_task_translations_language", columns: []string{"language"}},
	{model: (*model.TaskTranslation)(nil), name: "idx_task_translations_task_id", columns: []string{"task_id"}},
	{model: (*model.TaskPoll)(nil), name: "idx_task_polls_task_id", columns: []string{"task_id"}},
	{model: (*model.TelegramGroup)(nil), name: "idx_telegram_groups_topic_language", columns: []string{"topic_id", "language"}},
}

// columns добавлены после первых установок
var columns = []string{
	`ALTER TABLE tasks ADD COLUMN IF NOT EXISTS publishing_started_at timestamptz`,
	`ALTER TABLE tasks ADD COLUMN IF NOT EXISTS error_date timestamptz`,
	`ALTER TABLE task_polls ADD COLUMN IF NOT EXISTS photo_message_id bigint NOT NULL DEFAULT 0`,
	`ALTER TABLE task_polls ADD COLUMN IF NOT EXISTS details_message_id bigint NOT NULL DEFAULT 0`,
	`ALTER TABLE task_polls ADD COLUMN IF NOT EXISTS button_message_id bigint NOT NULL DEFAULT 0`,
}

// EnsureSchema создает таблицы и индексы, если их нет.
// Миграции продакшн-базы выполняются отдельно.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	for _, t := range tables {
		q := p.db.NewCreateTable().Model(t.model).IfNotExists()
		for _, fk := range t.foreignKeys {
			q = q.ForeignKey(fk)
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table for %T: %w", t.model, err)
		}
	}

	for _, stmt := range columns {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to add column: %w", err)
		}
	}

	for _, idx := range indexes {
		_, err := p.db.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			Column(idx.columns...).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create index %s: %w", idx.name, err)
		}
	}

	p.logger.Info("Database schema ensured",
		zap.Int("tables", len(tables)),
		zap.Int("indexes", len(indexes)))
	return nil
}
