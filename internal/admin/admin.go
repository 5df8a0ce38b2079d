// Package admin реализует массовые действия администратора: публикацию,
// удаление, сброс ошибки, проверку ссылок, импорт и управление вебхуками.
// Любое действие над задачей расширяется на всю ее группу переводов.
package admin

import (
	"context"
	"fmt"

	"codequiz/internal/linkresolver"
	"codequiz/internal/model"
	"codequiz/internal/publisher"
	"codequiz/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Publisher публикует группы переводов и готовит картинки
type Publisher interface {
	PublishGroups(ctx context.Context, groups []uuid.UUID, sink model.ProgressSink) (*publisher.Report, error)
	GenerateImages(ctx context.Context, taskIDs []int64, sink model.ProgressSink) (int, error)
}

// Dispatcher запускает рассылку вебхуков по опубликованным задачам
type Dispatcher interface {
	Dispatch(ctx context.Context, taskIDs []int64, bulk bool, sink model.ProgressSink) (*publisher.FanoutReport, error)
	Wait()
}

// Cleaner удаляет группы переводов каскадом
type Cleaner interface {
	DeleteGroups(ctx context.Context, groups []uuid.UUID, sink model.ProgressSink) (*model.DeletionReport, error)
}

// Deps зависимости сервиса
type Deps struct {
	Repos     *model.Repositories
	Publisher Publisher
	// Dispatcher может быть nil, тогда рассылка не выполняется
	Dispatcher Dispatcher
	Cleaner    Cleaner
	Links      publisher.LinkResolver
}

// Service массовые действия администратора
type Service struct {
	repos      *model.Repositories
	publisher  Publisher
	dispatcher Dispatcher
	cleaner    Cleaner
	links      publisher.LinkResolver
	logger     *zap.Logger
}

// New создает сервис
func New(deps Deps, logger *zap.Logger) *Service {
	return &Service{
		repos:      deps.Repos,
		publisher:  deps.Publisher,
		dispatcher: deps.Dispatcher,
		cleaner:    deps.Cleaner,
		links:      deps.Links,
		logger:     logger,
	}
}

// expand возвращает группы переводов выбранных задач
func (s *Service) expand(ctx context.Context, op string, ids []int64) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, model.Errorf(model.KindValidationFailed, op, "no tasks selected")
	}
	groups, err := s.repos.Tasks.ExpandGroups(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to expand translation groups: %w", err)
	}
	if len(groups) == 0 {
		return nil, model.Errorf(model.KindNotFound, op, "no tasks found for ids %v", ids)
	}
	return groups, nil
}

// PublishOptions параметры публикации
type PublishOptions struct {
	// Bulk отправляет generic-вебхукам один quiz_published_bulk вместо задачи на запрос
	Bulk bool
	// WaitVideo ждет фоновых языковых рассылок перед возвратом
	WaitVideo bool
}

// PublishResult итог публикации
type PublishResult struct {
	Groups    int
	Report    *publisher.Report
	Fanout    *publisher.FanoutReport
	FanoutErr error
}

// ExitCode код завершения CLI
func (r *PublishResult) ExitCode() int {
	errs := r.Report.Errors()
	if r.FanoutErr != nil {
		errs = append(errs, r.FanoutErr)
	}
	failed := r.Report.Aborted != nil ||
		r.Report.Count(publisher.StatusFailed) > 0 ||
		r.Report.Count(publisher.StatusPartial) > 0 ||
		r.Report.Count(publisher.StatusNotAttempted) > 0
	if r.Fanout != nil && r.Fanout.Immediate != nil && !r.Fanout.Immediate.OK() {
		failed = true
	}
	return ExitCode(failed, errs...)
}

// Publish публикует группы переводов выбранных задач и запускает рассылку
// для опубликованных в этом запуске.
func (s *Service) Publish(ctx context.Context, ids []int64, opts PublishOptions, sink model.ProgressSink) (*PublishResult, error) {
	groups, err := s.expand(ctx, "publish", ids)
	if err != nil {
		return nil, err
	}
	return s.PublishGroups(ctx, groups, opts, sink)
}

// PublishGroups публикует группы переводов без расширения выборки.
// Используется планировщиком.
func (s *Service) PublishGroups(ctx context.Context, groups []uuid.UUID, opts PublishOptions, sink model.ProgressSink) (*PublishResult, error) {
	if sink == nil {
		sink = model.DiscardProgress
	}
	log := logger.FromContext(ctx, s.logger).With(zap.String("batch_id", uuid.NewString()))
	ctx = logger.WithContext(ctx, log)
	log.Info("Publishing translation groups", zap.Int("groups", len(groups)), zap.Bool("bulk", opts.Bulk))

	report, err := s.publisher.PublishGroups(ctx, groups, sink)
	if err != nil {
		return nil, err
	}
	res := &PublishResult{Groups: len(groups), Report: report}

	published := report.Published()
	if len(published) == 0 || s.dispatcher == nil {
		return res, nil
	}

	res.Fanout, res.FanoutErr = s.dispatcher.Dispatch(ctx, published, opts.Bulk, sink)
	if res.FanoutErr != nil {
		log.Error("Webhook dispatch failed", zap.Error(res.FanoutErr))
		sink.Report(model.ProgressEntry{
			Time:     nowUTC(),
			Severity: model.SeverityError,
			Step:     model.StepDispatch,
			Message:  fmt.Sprintf("webhook dispatch failed: %v", res.FanoutErr),
		})
		return res, nil
	}
	if opts.WaitVideo {
		s.dispatcher.Wait()
	}
	return res, nil
}

// DeleteResult итог удаления
type DeleteResult struct {
	Groups int
	Report *model.DeletionReport
	Err    error
}

// ExitCode код завершения CLI
func (r *DeleteResult) ExitCode() int {
	failed := r.Err != nil || r.Report == nil || len(r.Report.Errors) > 0 || r.Report.TelegramFailed > 0
	if r.Err != nil {
		return ExitCode(failed, r.Err)
	}
	return ExitCode(failed)
}

// Delete удаляет группы переводов выбранных задач. Частичный отчет
// возвращается и при ошибке базы.
func (s *Service) Delete(ctx context.Context, ids []int64, sink model.ProgressSink) (*DeleteResult, error) {
	groups, err := s.expand(ctx, "delete", ids)
	if err != nil {
		return nil, err
	}
	report, err := s.cleaner.DeleteGroups(ctx, groups, sink)
	res := &DeleteResult{Groups: len(groups), Report: report, Err: err}
	if report != nil {
		logger.FromContext(ctx, s.logger).Info("Delete finished",
			zap.Int("groups", len(groups)),
			zap.Int("tasks_deleted", report.TasksDeleted),
			zap.Int("images_deleted", report.ImagesDeleted),
			zap.Int("telegram_deleted", report.TelegramDeleted),
			zap.Int("telegram_soft_failed", report.TelegramSoftFailed))
	}
	return res, nil
}

// ClearError снимает флаг error со всех задач групп переводов
func (s *Service) ClearError(ctx context.Context, ids []int64) (int, error) {
	groups, err := s.expand(ctx, "clear error", ids)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, g := range groups {
		n, err := s.repos.Tasks.ClearErrorGroup(ctx, g)
		if err != nil {
			return total, fmt.Errorf("failed to clear error for group %s: %w", g, err)
		}
		total += n
	}
	logger.FromContext(ctx, s.logger).Info("Error flag cleared", zap.Int("groups", len(groups)), zap.Int("tasks", total))
	return total, nil
}

// LinkPreview ссылка кнопки "подробнее" для перевода
type LinkPreview struct {
	TaskID     int64
	Language   string
	Resolution linkresolver.Resolution
}

// LinkPreviews результат проверки ссылок
type LinkPreviews []LinkPreview

// ExitCode возвращает ExitConfig, если хоть одной ссылки нет
func (p LinkPreviews) ExitCode() int {
	var errs []error
	for _, lp := range p {
		if err := lp.Resolution.Err(); err != nil {
			errs = append(errs, err)
		}
	}
	return ExitCode(len(errs) > 0, errs...)
}

// PreviewLinks разрешает ссылки для всех переводов групп, не публикуя их
func (s *Service) PreviewLinks(ctx context.Context, ids []int64) (LinkPreviews, error) {
	groups, err := s.expand(ctx, "link preview", ids)
	if err != nil {
		return nil, err
	}
	tasks, err := s.repos.Tasks.ListByGroups(ctx, groups)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	var out LinkPreviews
	for _, t := range tasks {
		bundle, err := s.repos.Tasks.LoadBundle(ctx, t.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load task %d: %w", t.ID, err)
		}
		if bundle == nil {
			continue
		}
		for i := range bundle.Translations {
			tr := &bundle.Translations[i]
			res, err := s.links.Resolve(ctx, bundle, tr)
			if err != nil {
				return nil, err
			}
			out = append(out, LinkPreview{TaskID: t.ID, Language: tr.Language, Resolution: res})
		}
	}
	return out, nil
}

// MergeStats переносит статистику мини-приложения на пользователя Telegram
func (s *Service) MergeStats(ctx context.Context, miniAppUserID, userID int64) (*model.MergeReport, error) {
	if miniAppUserID == 0 || userID == 0 {
		return nil, model.Errorf(model.KindValidationFailed, "merge stats", "both user ids are required")
	}
	report, err := s.repos.Statistics.MergeMiniAppStats(ctx, miniAppUserID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to merge stats: %w", err)
	}
	logger.FromContext(ctx, s.logger).Info("Mini app stats merged",
		zap.Int64("mini_app_user_id", miniAppUserID),
		zap.Int64("user_id", userID),
		zap.Int("merged", report.Merged),
		zap.Int("created", report.Created))
	return report, nil
}

// ListWebhooks возвращает все вебхуки
func (s *Service) ListWebhooks(ctx context.Context) ([]model.Webhook, error) {
	return s.repos.Webhooks.List(ctx)
}

// AddWebhook проверяет и сохраняет вебхук
func (s *Service) AddWebhook(ctx context.Context, hook *model.Webhook) error {
	if hook.WebhookType == "" {
		hook.WebhookType = model.WebhookGeneric
	}
	hook.IsActive = true
	if err := hook.Validate(); err != nil {
		return model.NewError(model.KindValidationFailed, "add webhook", err)
	}
	if err := s.repos.Webhooks.Create(ctx, hook); err != nil {
		return fmt.Errorf("failed to create webhook: %w", err)
	}
	s.logger.Info("Webhook added",
		zap.String("id", hook.ID.String()),
		zap.String("service", hook.ServiceName),
		zap.String("type", string(hook.WebhookType)))
	return nil
}

// DeactivateWebhook выключает вебхук без удаления
func (s *Service) DeactivateWebhook(ctx context.Context, id uuid.UUID) error {
	if err := s.repos.Webhooks.Deactivate(ctx, id); err != nil {
		return fmt.Errorf("failed to deactivate webhook: %w", err)
	}
	s.logger.Info("Webhook deactivated", zap.String("id", id.String()))
	return nil
}
