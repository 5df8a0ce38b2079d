package publisher

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"codequiz/internal/external/objectstore"
	"codequiz/internal/external/video"
	"codequiz/internal/model"
	"codequiz/internal/webhook"
	"codequiz/pkg/logger"

	"go.uber.org/zap"
)

// WebhookSender рассылает задачи по вебхукам
type WebhookSender interface {
	ActiveTypes(ctx context.Context) (map[model.WebhookType]int, error)
	Send(ctx context.Context, bundles []*model.TaskBundle, filter webhook.Filter) (*webhook.Summary, error)
}

// VideoGenerator создает ролик и возвращает путь к временному файлу
type VideoGenerator interface {
	Generate(ctx context.Context, req video.Request) (string, error)
}

// VideoStore сохраняет ролики
type VideoStore interface {
	PutVideo(ctx context.Context, path, key string) (string, error)
}

// FanoutReport итог запуска рассылки
type FanoutReport struct {
	// Skipped нет активных вебхуков
	Skipped bool
	// Immediate итог немедленной рассылки без видео
	Immediate *webhook.Summary
	// Scheduled языки, рассылка которых ждет генерации видео
	Scheduled []string
}

// Fanout решает, как рассылать опубликованные задачи: generic и social_media
// сразу, языковые вебхуки после генерации видео
type Fanout struct {
	tasks  model.TaskRepository
	hooks  WebhookSender
	videos VideoGenerator
	store  VideoStore
	logger *zap.Logger

	sem chan struct{}
	wg  sync.WaitGroup
}

// NewFanout создает планировщик рассылки. videos == nil отключает генерацию видео.
func NewFanout(tasks model.TaskRepository, hooks WebhookSender, videos VideoGenerator, store VideoStore, concurrency int, logger *zap.Logger) *Fanout {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Fanout{
		tasks:  tasks,
		hooks:  hooks,
		videos: videos,
		store:  store,
		logger: logger,
		sem:    make(chan struct{}, concurrency),
	}
}

// Dispatch рассылает задачи. Языковые рассылки выполняются в фоне, Wait ждет их завершения.
func (f *Fanout) Dispatch(ctx context.Context, taskIDs []int64, bulk bool, sink model.ProgressSink) (*FanoutReport, error) {
	if sink == nil {
		sink = model.DiscardProgress
	}
	log := logger.FromContext(ctx, f.logger)
	report := &FanoutReport{}

	active, err := f.hooks.ActiveTypes(ctx)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 || len(taskIDs) == 0 {
		report.Skipped = true
		log.Info("No active webhooks, dispatch skipped", zap.Int("tasks", len(taskIDs)))
		return report, nil
	}

	bundles, err := f.load(ctx, taskIDs)
	if err != nil {
		return nil, err
	}
	if len(bundles) == 0 {
		report.Skipped = true
		log.Info("No published tasks to dispatch", zap.Int("tasks", len(taskIDs)))
		return report, nil
	}

	immediate := webhook.Filter{Bulk: bulk}
	var scoped []model.WebhookType
	for t := range active {
		switch {
		case !t.IsLanguageScoped():
			immediate.Types = append(immediate.Types, t)
		case f.videos == nil:
			log.Warn("Video generation disabled, language webhooks dispatched without video",
				zap.String("webhook_type", string(t)))
			immediate.Types = append(immediate.Types, t)
		default:
			scoped = append(scoped, t)
		}
	}

	slices.Sort(scoped)

	if len(immediate.Types) > 0 {
		sink.Report(model.ProgressEntry{
			Time:     nowUTC(),
			Severity: model.SeverityInfo,
			Step:     model.StepDispatch,
			Message:  fmt.Sprintf("dispatching %d tasks", len(bundles)),
		})
		summary, err := f.hooks.Send(ctx, bundles, immediate)
		if err != nil {
			return nil, err
		}
		report.Immediate = summary
		severity := model.SeveritySuccess
		if !summary.OK() {
			severity = model.SeverityWarning
		}
		sink.Report(model.ProgressEntry{
			Time:     nowUTC(),
			Severity: severity,
			Step:     model.StepDispatch,
			Message: fmt.Sprintf("destinations: %d, sent: %d, failed: %d, skipped: %d",
				summary.Destinations, summary.Sent, summary.Failed, summary.Skipped),
		})
	}

	for _, t := range scoped {
		lang := t.Language()
		var matching []*model.TaskBundle
		for _, b := range bundles {
			if b.TranslationFor(lang) != nil {
				matching = append(matching, b)
			}
		}
		if len(matching) == 0 {
			continue
		}

		for _, b := range matching {
			if b.Task.HasVideoFor(lang) {
				continue
			}
			if err := f.tasks.SetVideoProgress(ctx, b.Task.ID, lang, false); err != nil {
				return nil, fmt.Errorf("failed to mark video progress: %w", err)
			}
			sink.Report(model.ProgressEntry{
				Time:     nowUTC(),
				Severity: model.SeverityInfo,
				Step:     model.StepScheduleVideo,
				Message:  "scheduled video generation",
				TaskID:   b.Task.ID,
				Language: lang,
			})
		}

		report.Scheduled = append(report.Scheduled, lang)
		f.wg.Add(1)
		go f.languageJob(context.WithoutCancel(ctx), t, matching, bulk)
	}
	return report, nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// Wait ждет завершения фоновых рассылок
func (f *Fanout) Wait() {
	f.wg.Wait()
}

func (f *Fanout) load(ctx context.Context, ids []int64) ([]*model.TaskBundle, error) {
	bundles := make([]*model.TaskBundle, 0, len(ids))
	for _, id := range ids {
		b, err := f.tasks.LoadBundle(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load task %d: %w", id, err)
		}
		if b == nil || !b.Task.Published {
			continue
		}
		bundles = append(bundles, b)
	}
	return bundles, nil
}

// languageJob генерирует недостающие ролики языка и рассылает языковой вебхук
func (f *Fanout) languageJob(ctx context.Context, t model.WebhookType, bundles []*model.TaskBundle, bulk bool) {
	defer f.wg.Done()
	f.sem <- struct{}{}
	defer func() { <-f.sem }()

	lang := t.Language()
	log := f.logger.With(zap.String("language", lang), zap.String("webhook_type", string(t)))

	ids := make([]int64, 0, len(bundles))
	for _, b := range bundles {
		ids = append(ids, b.Task.ID)
		if b.Task.HasVideoFor(lang) {
			continue
		}
		if err := f.generate(ctx, b, lang); err != nil {
			// рассылка уходит без ролика, прогресс остается false
			log.Error("Video generation failed", zap.Int64("task_id", b.Task.ID), zap.Error(err))
		}
	}

	fresh, err := f.load(ctx, ids)
	if err != nil {
		log.Error("Failed to reload tasks for dispatch", zap.Error(err))
		return
	}
	summary, err := f.hooks.Send(ctx, fresh, webhook.Filter{
		Types:        []model.WebhookType{t},
		Bulk:         bulk,
		IncludeVideo: true,
	})
	if err != nil {
		log.Error("Language dispatch failed", zap.Error(err))
		return
	}
	log.Info("Language dispatch finished",
		zap.Int("tasks", len(fresh)),
		zap.Int("sent", summary.Sent),
		zap.Int("failed", summary.Failed))
}

func (f *Fanout) generate(ctx context.Context, b *model.TaskBundle, lang string) error {
	tr := b.TranslationFor(lang)
	path, err := f.videos.Generate(ctx, video.Request{
		TaskID:             b.Task.ID,
		TranslationGroupID: b.Task.TranslationGroupID.String(),
		Language:           lang,
		Question:           tr.Question,
		Answers:            tr.Answers,
		CorrectAnswer:      tr.CorrectAnswer,
		Explanation:        tr.Explanation,
		ImageURL:           b.Task.ImageURL,
	})
	if err != nil {
		return err
	}
	defer os.Remove(path)

	url, err := f.store.PutVideo(ctx, path, objectstore.VideoKey(b.Task.TranslationGroupID, b.Task.ID, lang))
	if err != nil {
		return err
	}
	if err := f.tasks.SetVideoURL(ctx, b.Task.ID, lang, url); err != nil {
		return fmt.Errorf("failed to save video url: %w", err)
	}
	f.logger.Info("Video ready",
		zap.Int64("task_id", b.Task.ID),
		zap.String("language", lang),
		zap.String("url", url))
	return nil
}
