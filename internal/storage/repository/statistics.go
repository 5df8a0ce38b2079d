package repository

import (
	"context"
	"time"

	"codequiz/internal/model"

	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// StatisticsRepository реализует интерфейс model.StatisticsRepository
type StatisticsRepository struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewStatisticsRepository создает новый репозиторий статистики
func NewStatisticsRepository(db *bun.DB, logger *zap.Logger) model.StatisticsRepository {
	return &StatisticsRepository{
		db:     db,
		logger: logger,
	}
}

// RecordAttempt атомарно учитывает попытку ответа
func (r *StatisticsRepository) RecordAttempt(ctx context.Context, attempt model.Attempt) (*model.TaskStatistics, error) {
	at := attempt.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	stats := &model.TaskStatistics{
		UserID:          attempt.UserID,
		TaskID:          attempt.TaskID,
		Attempts:        1,
		Successful:      attempt.Correct,
		LastAttemptDate: at,
		SelectedAnswer:  attempt.SelectedAnswer,
	}

	_, err := r.db.NewInsert().
		Model(stats).
		On("CONFLICT (user_id, task_id) DO UPDATE").
		Set("attempts = ts.attempts + 1").
		Set("successful = ts.successful OR EXCLUDED.successful").
		Set("last_attempt_date = GREATEST(ts.last_attempt_date, EXCLUDED.last_attempt_date)").
		Set("selected_answer = EXCLUDED.selected_answer").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, wrapErr("record attempt", err)
	}
	return stats, nil
}

// Get возвращает статистику пользователя по задаче
func (r *StatisticsRepository) Get(ctx context.Context, userID, taskID int64) (*model.TaskStatistics, error) {
	stats := new(model.TaskStatistics)
	err := r.db.NewSelect().
		Model(stats).
		Where("user_id = ?", userID).
		Where("task_id = ?", taskID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, wrapErr("get statistics", err)
	}
	return stats, nil
}

// MergeMiniAppStats переносит статистику мини-приложения в статистику пользователя
func (r *StatisticsRepository) MergeMiniAppStats(ctx context.Context, miniAppUserID, userID int64) (*model.MergeReport, error) {
	report := &model.MergeReport{}

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var rows []model.MiniAppTaskStatistics
		if err := tx.NewSelect().
			Model(&rows).
			Where("mini_app_user_id = ?", miniAppUserID).
			For("UPDATE").
			Scan(ctx); err != nil {
			return wrapErr("load mini app statistics", err)
		}

		for i := range rows {
			row := &rows[i]
			existing := new(model.TaskStatistics)
			err := tx.NewSelect().
				Model(existing).
				Where("user_id = ?", userID).
				Where("task_id = ?", row.TaskID).
				For("UPDATE").
				Scan(ctx)

			switch {
			case err == nil:
				existing.Merge(row)
				if _, err := tx.NewUpdate().
					Model(existing).
					Column("attempts", "successful", "last_attempt_date", "selected_answer").
					WherePK().
					Exec(ctx); err != nil {
					return wrapErr("update statistics", err)
				}
				report.Merged++
			case isNoRows(err):
				created := &model.TaskStatistics{UserID: userID, TaskID: row.TaskID}
				created.Merge(row)
				if _, err := tx.NewInsert().Model(created).Exec(ctx); err != nil {
					return wrapErr("create statistics", err)
				}
				report.Created++
			default:
				return wrapErr("load statistics", err)
			}
		}

		if len(rows) > 0 {
			if _, err := tx.NewDelete().
				Model((*model.MiniAppTaskStatistics)(nil)).
				Where("mini_app_user_id = ?", miniAppUserID).
				Exec(ctx); err != nil {
				return wrapErr("delete mini app statistics", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("Merged mini app statistics",
		zap.Int64("mini_app_user_id", miniAppUserID),
		zap.Int64("user_id", userID),
		zap.Int("merged", report.Merged),
		zap.Int("created", report.Created))

	return report, nil
}
