package repository

import (
	"context"
	"fmt"
	"time"

	"codequiz/internal/model"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// TaskRepository реализует интерфейс model.TaskRepository
type TaskRepository struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewTaskRepository создает новый репозиторий задач
func NewTaskRepository(db *bun.DB, logger *zap.Logger) model.TaskRepository {
	return &TaskRepository{
		db:     db,
		logger: logger,
	}
}

// GetByID получает задачу по ID
func (r *TaskRepository) GetByID(ctx context.Context, id int64) (*model.Task, error) {
	task := new(model.Task)
	err := r.db.NewSelect().Model(task).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, wrapErr("get task by ID", err)
	}
	return task, nil
}

// ExpandGroups расширяет выборку задач до их групп переводов
func (r *TaskRepository) ExpandGroups(ctx context.Context, ids []int64) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var tasks []model.Task
	err := r.db.NewSelect().
		Model(&tasks).
		Column("id", "translation_group_id").
		Where("id IN (?)", bun.In(ids)).
		Scan(ctx)
	if err != nil {
		return nil, wrapErr("expand translation groups", err)
	}

	byID := make(map[int64]uuid.UUID, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t.TranslationGroupID
	}

	seen := make(map[uuid.UUID]bool)
	var groups []uuid.UUID
	for _, id := range ids {
		gid, ok := byID[id]
		if !ok {
			r.logger.Warn("Task not found while expanding selection", zap.Int64("task_id", id))
			continue
		}
		if !seen[gid] {
			seen[gid] = true
			groups = append(groups, gid)
		}
	}
	return groups, nil
}

// ListByGroups возвращает задачи групп переводов, упорядоченные по id
func (r *TaskRepository) ListByGroups(ctx context.Context, groups []uuid.UUID) ([]model.Task, error) {
	if len(groups) == 0 {
		return nil, nil
	}
	var tasks []model.Task
	err := r.db.NewSelect().
		Model(&tasks).
		Where("translation_group_id IN (?)", bun.In(groups)).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, wrapErr("list tasks by groups", err)
	}
	return tasks, nil
}

// LoadBundle собирает задачу со связанными сущностями
func (r *TaskRepository) LoadBundle(ctx context.Context, id int64) (*model.TaskBundle, error) {
	task, err := r.GetByID(ctx, id)
	if err != nil || task == nil {
		return nil, err
	}

	bundle := &model.TaskBundle{Task: *task}

	if err := r.db.NewSelect().
		Model(&bundle.Translations).
		Where("task_id = ?", id).
		Order("id ASC").
		Scan(ctx); err != nil {
		return nil, wrapErr("load translations", err)
	}

	if err := r.db.NewSelect().
		Model(&bundle.Topic).
		Where("id = ?", task.TopicID).
		Scan(ctx); err != nil && !isNoRows(err) {
		return nil, wrapErr("load topic", err)
	}

	if task.SubtopicID != nil {
		sub := new(model.Subtopic)
		err := r.db.NewSelect().Model(sub).Where("id = ?", *task.SubtopicID).Scan(ctx)
		switch {
		case err == nil:
			bundle.Subtopic = sub
		case !isNoRows(err):
			return nil, wrapErr("load subtopic", err)
		}
	}

	if task.GroupID != nil {
		group := new(model.TelegramGroup)
		err := r.db.NewSelect().Model(group).Where("id = ?", *task.GroupID).Scan(ctx)
		switch {
		case err == nil:
			bundle.Group = group
		case !isNoRows(err):
			return nil, wrapErr("load telegram group", err)
		}
	}

	if err := r.db.NewSelect().
		Model(&bundle.Polls).
		Where("task_id = ?", id).
		Order("id ASC").
		Scan(ctx); err != nil {
		return nil, wrapErr("load polls", err)
	}

	return bundle, nil
}

// GetTranslation получает перевод по ID
func (r *TaskRepository) GetTranslation(ctx context.Context, id int64) (*model.TaskTranslation, error) {
	tr := new(model.TaskTranslation)
	err := r.db.NewSelect().Model(tr).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, wrapErr("get translation", err)
	}
	return tr, nil
}

// Create создает задачу вместе с переводами
func (r *TaskRepository) Create(ctx context.Context, task *model.Task, translations []model.TaskTranslation) error {
	if len(translations) == 0 {
		return model.Errorf(model.KindValidationFailed, "create task", "task must have at least one translation")
	}

	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(task).Returning("*").Exec(ctx); err != nil {
			return wrapErr("create task", err)
		}
		for i := range translations {
			translations[i].TaskID = task.ID
		}
		if _, err := tx.NewInsert().Model(&translations).Returning("*").Exec(ctx); err != nil {
			return wrapErr("create translations", err)
		}
		return nil
	})
}

// SetImageURL сохраняет URL изображения
func (r *TaskRepository) SetImageURL(ctx context.Context, id int64, url string) error {
	_, err := r.db.NewUpdate().
		Model((*model.Task)(nil)).
		Set("image_url = ?", url).
		Where("id = ?", id).
		Exec(ctx)
	return wrapErr("set image url", err)
}

// MarkPublished помечает задачу опубликованной под блокировкой строки
func (r *TaskRepository) MarkPublished(ctx context.Context, id int64, pub model.Publication) (bool, error) {
	applied := false
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		task := new(model.Task)
		if err := tx.NewSelect().Model(task).Where("id = ?", id).For("UPDATE").Scan(ctx); err != nil {
			if isNoRows(err) {
				return fmt.Errorf("task %d: %w", id, model.ErrNotFound)
			}
			return wrapErr("lock task", err)
		}
		if task.Published {
			return nil
		}

		if _, err := tx.NewUpdate().
			Model((*model.Task)(nil)).
			Set("published = TRUE").
			Set("publish_date = ?", pub.PublishDate).
			Set("message_id = ?", pub.MessageID).
			Set("group_id = ?", pub.GroupID).
			Set("error = ?", pub.Error).
			Set("publishing_started_at = NULL").
			Where("id = ?", id).
			Exec(ctx); err != nil {
			return wrapErr("mark task published", err)
		}

		q := tx.NewUpdate().
			Model((*model.TaskTranslation)(nil)).
			Set("publish_date = ?", pub.PublishDate).
			Where("task_id = ?", id)
		if len(pub.Languages) > 0 {
			q = q.Where("language IN (?)", bun.In(pub.Languages))
		}
		if _, err := q.Exec(ctx); err != nil {
			return wrapErr("set translations publish date", err)
		}

		applied = true
		return nil
	})
	return applied, err
}

// ClaimPublication захватывает задачу условным обновлением
func (r *TaskRepository) ClaimPublication(ctx context.Context, id int64, now time.Time, lease time.Duration) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*model.Task)(nil)).
		Set("publishing_started_at = ?", now).
		Where("id = ?", id).
		Where("published = FALSE").
		WhereGroup(" AND ", func(q *bun.UpdateQuery) *bun.UpdateQuery {
			return q.Where("publishing_started_at IS NULL").
				WhereOr("publishing_started_at < ?", now.Add(-lease))
		}).
		Exec(ctx)
	if err != nil {
		return false, wrapErr("claim task", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// MarkError выставляет флаг ошибки и снимает захват
func (r *TaskRepository) MarkError(ctx context.Context, id int64) error {
	_, err := r.db.NewUpdate().
		Model((*model.Task)(nil)).
		Set("error = TRUE").
		Set("error_date = current_timestamp").
		Set("publishing_started_at = NULL").
		Where("id = ?", id).
		Exec(ctx)
	return wrapErr("mark task error", err)
}

// ClearErrorGroup снимает флаг ошибки со всей группы переводов
func (r *TaskRepository) ClearErrorGroup(ctx context.Context, group uuid.UUID) (int, error) {
	res, err := r.db.NewUpdate().
		Model((*model.Task)(nil)).
		Set("error = FALSE").
		Set("error_date = NULL").
		Where("translation_group_id = ?", group).
		Where("error = TRUE").
		Exec(ctx)
	if err != nil {
		return 0, wrapErr("clear error flag", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// SetVideoProgress обновляет флаг генерации видео для языка
func (r *TaskRepository) SetVideoProgress(ctx context.Context, id int64, lang string, done bool) error {
	_, err := r.db.NewUpdate().
		Model((*model.Task)(nil)).
		Set("video_generation_progress = COALESCE(video_generation_progress, '{}'::jsonb) || jsonb_build_object(?::text, ?::boolean)", lang, done).
		Where("id = ?", id).
		Exec(ctx)
	return wrapErr("set video progress", err)
}

// SetVideoURL сохраняет URL видео для языка и отмечает генерацию завершенной
func (r *TaskRepository) SetVideoURL(ctx context.Context, id int64, lang, url string) error {
	_, err := r.db.NewUpdate().
		Model((*model.Task)(nil)).
		Set("video_urls = COALESCE(video_urls, '{}'::jsonb) || jsonb_build_object(?::text, ?::text)", lang, url).
		Set("video_generation_progress = COALESCE(video_generation_progress, '{}'::jsonb) || jsonb_build_object(?::text, TRUE)", lang).
		Set("video_url = COALESCE(video_url, ?)", url).
		Where("id = ?", id).
		Exec(ctx)
	return wrapErr("set video url", err)
}

// DeleteGroup удаляет группу переводов со всеми зависимыми строками
func (r *TaskRepository) DeleteGroup(ctx context.Context, group uuid.UUID) (*model.GroupDeletion, error) {
	result := &model.GroupDeletion{}

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := tx.NewSelect().
			Model(&result.Tasks).
			Where("translation_group_id = ?", group).
			Order("id ASC").
			For("UPDATE").
			Scan(ctx); err != nil {
			return wrapErr("lock translation group", err)
		}
		if len(result.Tasks) == 0 {
			return nil
		}

		ids := make([]int64, 0, len(result.Tasks))
		for _, t := range result.Tasks {
			ids = append(ids, t.ID)
		}

		if err := tx.NewSelect().
			Model(&result.Polls).
			Where("task_id IN (?)", bun.In(ids)).
			Order("id ASC").
			Scan(ctx); err != nil {
			return wrapErr("collect polls", err)
		}

		for _, m := range []any{(*model.TaskStatistics)(nil), (*model.MiniAppTaskStatistics)(nil)} {
			res, err := tx.NewDelete().Model(m).Where("task_id IN (?)", bun.In(ids)).Exec(ctx)
			if err != nil {
				return wrapErr("delete statistics", err)
			}
			n, _ := res.RowsAffected()
			result.Statistics += int(n)
		}

		if _, err := tx.NewDelete().
			Model((*model.TaskPoll)(nil)).
			Where("task_id IN (?)", bun.In(ids)).
			Exec(ctx); err != nil {
			return wrapErr("delete polls", err)
		}

		res, err := tx.NewDelete().
			Model((*model.TaskTranslation)(nil)).
			Where("task_id IN (?)", bun.In(ids)).
			Exec(ctx)
		if err != nil {
			return wrapErr("delete translations", err)
		}
		n, _ := res.RowsAffected()
		result.Translations = int(n)

		if _, err := tx.NewDelete().
			Model((*model.Task)(nil)).
			Where("id IN (?)", bun.In(ids)).
			Exec(ctx); err != nil {
			return wrapErr("delete tasks", err)
		}

		// картинки адресуются по содержимому и бывают общими у разных групп
		var images []string
		for _, t := range result.Tasks {
			if t.ImageURL != "" {
				images = append(images, t.ImageURL)
			}
		}
		if len(images) == 0 {
			return nil
		}
		if err := tx.NewSelect().
			Model((*model.Task)(nil)).
			ColumnExpr("DISTINCT image_url").
			Where("image_url IN (?)", bun.In(images)).
			Scan(ctx, &result.SharedImages); err != nil {
			return wrapErr("check shared images", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("Deleted translation group",
		zap.String("translation_group_id", group.String()),
		zap.Int("tasks", len(result.Tasks)),
		zap.Int("translations", result.Translations),
		zap.Int("polls", len(result.Polls)),
		zap.Int("statistics", result.Statistics))

	return result, nil
}

// ListUnpublishedGroups возвращает самые старые неопубликованные группы переводов
func (r *TaskRepository) ListUnpublishedGroups(ctx context.Context, limit int, retryAfter time.Duration) ([]uuid.UUID, error) {
	var groups []uuid.UUID
	q := r.db.NewSelect().
		Model((*model.Task)(nil)).
		Column("translation_group_id").
		Where("published = FALSE")
	if retryAfter > 0 {
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("error = FALSE").
				WhereOr("error_date < ?", time.Now().UTC().Add(-retryAfter))
		})
	} else {
		q = q.Where("error = FALSE")
	}
	err := q.
		Group("translation_group_id").
		OrderExpr("MIN(create_date) ASC").
		Limit(limit).
		Scan(ctx, &groups)
	if err != nil {
		return nil, wrapErr("list unpublished groups", err)
	}
	return groups, nil
}
