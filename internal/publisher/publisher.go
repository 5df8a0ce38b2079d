// Package publisher публикует задачи в Telegram: картинка, детали, опрос и кнопка
// на каждый перевод, затем рассылка вебхуков.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"codequiz/internal/external/objectstore"
	"codequiz/internal/external/telegram"
	"codequiz/internal/linkresolver"
	"codequiz/internal/model"
	"codequiz/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ImageStore сохраняет картинки задач
type ImageStore interface {
	PutImage(ctx context.Context, data []byte, key string) (string, error)
}

// ImageRenderer рисует картинку с кодом
type ImageRenderer interface {
	Render(source, languageHint, captionLanguage string) ([]byte, error)
}

// LinkResolver разрешает ссылку для кнопки "подробнее"
type LinkResolver interface {
	Resolve(ctx context.Context, bundle *model.TaskBundle, tr *model.TaskTranslation) (linkresolver.Resolution, error)
}

// Config параметры публикации
type Config struct {
	// PauseMin и PauseMax границы случайной паузы между задачами
	PauseMin time.Duration
	PauseMax time.Duration
	// ClaimLease через сколько захват упавшего запуска считается брошенным
	ClaimLease time.Duration
}

// DefaultConfig пауза 3-6 секунд
func DefaultConfig() Config {
	return Config{PauseMin: 3 * time.Second, PauseMax: 6 * time.Second, ClaimLease: 15 * time.Minute}
}

// Status итог публикации одной задачи
type Status string

const (
	StatusPublished        Status = "published"
	StatusPartial          Status = "partial"
	StatusFailed           Status = "failed"
	StatusAlreadyPublished Status = "already_published"
	StatusNotAttempted     Status = "not_attempted"
	// StatusInProgress задачу публикует другой запуск
	StatusInProgress Status = "in_progress"
)

// Outcome результат по задаче
type Outcome struct {
	TaskID    int64
	Status    Status
	Languages []string
	// Errors ошибки по языкам; ключ "" для ошибок уровня задачи
	Errors map[string]error
}

func (o *Outcome) fail(lang string, err error) {
	if o.Errors == nil {
		o.Errors = make(map[string]error)
	}
	o.Errors[lang] = err
}

// Report итог пакета
type Report struct {
	Outcomes []Outcome
	// Aborted ошибка, прервавшая пакет
	Aborted error
}

// Published возвращает id задач, опубликованных в этом запуске
func (r *Report) Published() []int64 {
	var ids []int64
	for _, o := range r.Outcomes {
		if o.Status == StatusPublished || o.Status == StatusPartial {
			ids = append(ids, o.TaskID)
		}
	}
	return ids
}

// Count возвращает число задач со статусом
func (r *Report) Count(status Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Errors возвращает все ошибки пакета
func (r *Report) Errors() []error {
	var out []error
	if r.Aborted != nil {
		out = append(out, r.Aborted)
	}
	for _, o := range r.Outcomes {
		for _, err := range o.Errors {
			out = append(out, err)
		}
	}
	return out
}

// Publisher оркестратор публикации
type Publisher struct {
	tasks    model.TaskRepository
	groups   model.GroupRepository
	polls    model.PollRepository
	tg       telegram.API
	images   ImageStore
	renderer ImageRenderer
	links    LinkResolver
	cfg      Config
	logger   *zap.Logger

	// sleep заменяется в тестах
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New создает оркестратор
func New(repos *model.Repositories, tg telegram.API, images ImageStore, renderer ImageRenderer, links LinkResolver, cfg Config, logger *zap.Logger) *Publisher {
	if cfg.PauseMax < cfg.PauseMin {
		cfg.PauseMax = cfg.PauseMin
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = DefaultConfig().ClaimLease
	}
	return &Publisher{
		tasks:    repos.Tasks,
		groups:   repos.Groups,
		polls:    repos.Polls,
		tg:       tg,
		images:   images,
		renderer: renderer,
		links:    links,
		cfg:      cfg,
		logger:   logger,
		sleep:    sleepContext,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p *Publisher) pause() time.Duration {
	span := p.cfg.PauseMax - p.cfg.PauseMin
	if span <= 0 {
		return p.cfg.PauseMin
	}
	return p.cfg.PauseMin + time.Duration(rand.Int63n(int64(span)))
}

// PublishGroups публикует все задачи групп переводов
func (p *Publisher) PublishGroups(ctx context.Context, groups []uuid.UUID, sink model.ProgressSink) (*Report, error) {
	tasks, err := p.tasks.ListByGroups(ctx, groups)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	ids := make([]int64, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	return p.Publish(ctx, ids, sink), nil
}

// GenerateImages заранее рисует картинки задач без публикации. Задачи с
// готовой картинкой пропускаются; ошибка рендера не прерывает остальные.
// Возвращает число созданных картинок.
func (p *Publisher) GenerateImages(ctx context.Context, taskIDs []int64, sink model.ProgressSink) (int, error) {
	if sink == nil {
		sink = model.DiscardProgress
	}
	log := logger.FromContext(ctx, p.logger)
	generated := 0
	for _, id := range taskIDs {
		bundle, err := p.tasks.LoadBundle(ctx, id)
		if err != nil {
			return generated, fmt.Errorf("failed to load task %d: %w", id, err)
		}
		if bundle == nil || bundle.Task.ImageURL != "" {
			continue
		}
		pr := progress{sink: sink, taskID: id, now: p.now}
		if _, err := p.prepareImage(ctx, bundle, pr); err != nil {
			log.Warn("Image generation failed", zap.Int64("task_id", id), zap.Error(err))
			if batchFatal(err) {
				return generated, err
			}
			continue
		}
		generated++
	}
	return generated, nil
}

// Publish обрабатывает задачи последовательно со случайной паузой между ними.
// Отмена ctx останавливает пакет перед следующей задачей, начатая задача
// доводится до конца.
func (p *Publisher) Publish(ctx context.Context, taskIDs []int64, sink model.ProgressSink) *Report {
	if sink == nil {
		sink = model.DiscardProgress
	}
	log := logger.FromContext(ctx, p.logger)
	report := &Report{}

	for i, id := range taskIDs {
		if i > 0 {
			if err := p.sleep(ctx, p.pause()); err != nil {
				report.Aborted = err
			}
		}
		if report.Aborted == nil && ctx.Err() != nil {
			report.Aborted = ctx.Err()
		}
		if report.Aborted != nil {
			for _, rest := range taskIDs[i:] {
				report.Outcomes = append(report.Outcomes, Outcome{TaskID: rest, Status: StatusNotAttempted})
			}
			log.Warn("Publication batch stopped",
				zap.Int("remaining", len(taskIDs)-i),
				zap.Error(report.Aborted))
			break
		}

		outcome, err := p.publishTask(context.WithoutCancel(ctx), id, sink)
		report.Outcomes = append(report.Outcomes, outcome)
		if err != nil {
			report.Aborted = err
			log.Error("Publication batch aborted", zap.Int64("task_id", id), zap.Error(err))
			for _, rest := range taskIDs[i+1:] {
				report.Outcomes = append(report.Outcomes, Outcome{TaskID: rest, Status: StatusNotAttempted})
			}
			break
		}
	}

	log.Info("Publication batch finished",
		zap.Int("tasks", len(taskIDs)),
		zap.Int("published", report.Count(StatusPublished)),
		zap.Int("partial", report.Count(StatusPartial)),
		zap.Int("failed", report.Count(StatusFailed)),
		zap.Int("already_published", report.Count(StatusAlreadyPublished)))
	return report
}

// batchFatal сообщает, что ошибка прерывает весь пакет
func batchFatal(err error) bool {
	return model.IsKind(err, model.KindDatabaseUnavailable)
}

type progress struct {
	sink   model.ProgressSink
	taskID int64
	now    func() time.Time
}

func (pr progress) emit(severity model.Severity, step, lang, message string) {
	pr.sink.Report(model.ProgressEntry{
		Time:     pr.now(),
		Severity: severity,
		Step:     step,
		Message:  message,
		TaskID:   pr.taskID,
		Language: lang,
	})
}

// publishTask проводит задачу через конечный автомат. Возвращаемая ошибка
// прерывает пакет; ошибки задачи попадают в Outcome.
func (p *Publisher) publishTask(ctx context.Context, id int64, sink model.ProgressSink) (Outcome, error) {
	out := Outcome{TaskID: id, Status: StatusFailed}
	pr := progress{sink: sink, taskID: id, now: p.now}
	log := logger.FromContext(ctx, p.logger).With(zap.Int64("task_id", id))

	bundle, err := p.tasks.LoadBundle(ctx, id)
	if err != nil {
		out.fail("", err)
		pr.emit(model.SeverityError, "loading", "", fmt.Sprintf("failed to load task: %v", err))
		if batchFatal(err) {
			return out, err
		}
		return out, nil
	}
	if bundle == nil {
		err := fmt.Errorf("task %d: %w", id, model.ErrNotFound)
		out.fail("", err)
		pr.emit(model.SeverityError, "loading", "", "task not found")
		return out, nil
	}

	if bundle.Task.Published {
		out.Status = StatusAlreadyPublished
		log.Info("Task already published, skipping")
		pr.emit(model.SeverityInfo, model.StepAlreadyPublished, "", "already published")
		return out, nil
	}

	claimed, err := p.tasks.ClaimPublication(ctx, id, p.now(), p.cfg.ClaimLease)
	if err != nil {
		out.fail("", err)
		pr.emit(model.SeverityError, "loading", "", fmt.Sprintf("failed to claim task: %v", err))
		if batchFatal(err) {
			return out, err
		}
		return out, nil
	}
	if !claimed {
		out.Status = StatusInProgress
		log.Info("Task is being published by another run, skipping")
		pr.emit(model.SeverityWarning, model.StepAlreadyPublished, "", "publication in progress in another run")
		return out, nil
	}

	if bundle.Task.ImageURL == "" {
		url, err := p.prepareImage(ctx, bundle, pr)
		if err != nil {
			out.fail("", err)
			log.Error("Failed to prepare image", zap.Error(err))
			return out, p.markError(ctx, id, pr, log)
		}
		bundle.Task.ImageURL = url
	}

	var (
		first  *publishedLanguage
		failed bool
	)
	for i := range bundle.Translations {
		tr := &bundle.Translations[i]
		res, err := p.publishTranslation(ctx, bundle, tr, pr, log)
		if err != nil {
			failed = true
			out.fail(tr.Language, err)
			if batchFatal(err) {
				return out, err
			}
			continue
		}
		out.Languages = append(out.Languages, tr.Language)
		if first == nil {
			first = res
		}
	}

	if first == nil {
		return out, p.markError(ctx, id, pr, log)
	}

	applied, err := p.tasks.MarkPublished(ctx, id, model.Publication{
		PublishDate: p.now(),
		MessageID:   first.photoMessageID,
		GroupID:     first.group.ID,
		Error:       failed,
		Languages:   out.Languages,
	})
	if err != nil {
		out.fail("", err)
		pr.emit(model.SeverityError, model.StepMarkPublished, "", fmt.Sprintf("failed to mark published: %v", err))
		log.Error("Failed to mark task published", zap.Error(err))
		if batchFatal(err) {
			return out, err
		}
		return out, nil
	}
	if !applied {
		// параллельный запуск успел отметить задачу раньше
		log.Warn("Task was published concurrently")
	}

	out.Status = StatusPublished
	if failed {
		out.Status = StatusPartial
		pr.emit(model.SeverityWarning, model.StepMarkPublished, "", "published with errors")
	} else {
		pr.emit(model.SeveritySuccess, model.StepMarkPublished, "", "published")
	}
	log.Info("Task published",
		zap.Strings("languages", out.Languages),
		zap.Bool("error", failed),
		zap.Int64("message_id", first.photoMessageID))
	return out, nil
}

func (p *Publisher) markError(ctx context.Context, id int64, pr progress, log *zap.Logger) error {
	if err := p.tasks.MarkError(ctx, id); err != nil {
		log.Error("Failed to mark task error", zap.Error(err))
		if batchFatal(err) {
			return err
		}
	}
	pr.emit(model.SeverityError, model.StepMarkPublished, "", "task marked as error")
	return nil
}

// prepareImage рисует и загружает картинку задачи
func (p *Publisher) prepareImage(ctx context.Context, bundle *model.TaskBundle, pr progress) (string, error) {
	src := imageSource(bundle)
	if src == nil {
		err := model.Errorf(model.KindValidationFailed, "render", "task has no translations")
		pr.emit(model.SeverityError, model.StepRenderImage, "", err.Error())
		return "", err
	}

	pr.emit(model.SeverityInfo, model.StepRenderImage, src.Language, "rendering image")
	png, err := p.renderer.Render(src.Question, bundle.Topic.Name, src.Language)
	if err != nil {
		pr.emit(model.SeverityError, model.StepRenderImage, src.Language, fmt.Sprintf("failed to render image: %v", err))
		return "", err
	}

	pr.emit(model.SeverityInfo, model.StepUpload, "", "uploading")
	url, err := p.images.PutImage(ctx, png, objectstore.ImageKey(png))
	if err != nil {
		pr.emit(model.SeverityError, model.StepUpload, "", fmt.Sprintf("failed to upload image: %v", err))
		return "", err
	}

	if err := p.tasks.SetImageURL(ctx, bundle.Task.ID, url); err != nil {
		pr.emit(model.SeverityError, model.StepUpload, "", fmt.Sprintf("failed to save image url: %v", err))
		return "", err
	}
	pr.emit(model.SeveritySuccess, model.StepUpload, "", "image uploaded")
	return url, nil
}

type publishedLanguage struct {
	group          *model.TelegramGroup
	photoMessageID int64
}

// publishTranslation отправляет четыре сообщения одного языка
func (p *Publisher) publishTranslation(ctx context.Context, bundle *model.TaskBundle, tr *model.TaskTranslation, pr progress, log *zap.Logger) (*publishedLanguage, error) {
	log = log.With(zap.String("language", tr.Language))

	group, err := p.groups.FindPublicationTarget(ctx, bundle.Task.TopicID, tr.Language)
	if err != nil {
		pr.emit(model.SeverityError, model.StepResolveLink, tr.Language, fmt.Sprintf("failed to find group: %v", err))
		return nil, err
	}
	if group == nil {
		err := model.Errorf(model.KindConfigurationMissing, "find group",
			"no telegram group for topic %q and language %s", bundle.Topic.Name, tr.Language)
		pr.emit(model.SeverityError, model.StepResolveLink, tr.Language, err.Error())
		log.Error("No publication target", zap.Error(err))
		return nil, err
	}

	// ссылка нужна до первого сообщения: без нее язык не публикуется
	res, err := p.links.Resolve(ctx, bundle, tr)
	if err != nil {
		pr.emit(model.SeverityError, model.StepResolveLink, tr.Language, fmt.Sprintf("failed to resolve link: %v", err))
		return nil, err
	}
	if !res.Found() {
		pr.emit(model.SeverityError, model.StepResolveLink, tr.Language, res.Diagnostic)
		log.Error("Link not resolved", zap.String("diagnostic", res.Diagnostic))
		return nil, res.Err()
	}
	pr.emit(model.SeverityInfo, model.StepResolveLink, tr.Language, fmt.Sprintf("%s: %s", res.Source, res.URL))

	spec := BuildPoll(bundle.Task.ID, tr)
	var photo, details, poll telegram.Sent

	steps := []Step{
		{
			Name: model.StepSendPhoto,
			Run: func(ctx context.Context) error {
				var err error
				photo, err = p.tg.SendPhoto(ctx, group.GroupID, bundle.Task.ImageURL, "")
				return err
			},
		},
		{
			Name: model.StepSendDetails,
			Run: func(ctx context.Context) error {
				var err error
				details, err = p.tg.SendMessage(ctx, group.GroupID, DetailsMessage(bundle, tr), "")
				return err
			},
		},
		{
			Name: model.StepSendPoll,
			Run: func(ctx context.Context) error {
				var err error
				poll, err = p.tg.SendPoll(ctx, telegram.PollRequest{
					ChatID:       group.GroupID,
					Question:     spec.Question,
					Options:      spec.Options,
					CorrectIndex: spec.CorrectIndex,
					Explanation:  tr.Explanation,
					IsAnonymous:  group.LocationType == model.LocationChannel,
				})
				if err != nil {
					return err
				}
				return p.savePoll(ctx, bundle, tr, group, spec, compound{photo: photo, details: details, poll: poll})
			},
		},
		{
			Name:     model.StepSendButton,
			Optional: true,
			Run: func(ctx context.Context) error {
				button, err := p.tg.SendMessageWithButton(ctx, group.GroupID,
					ButtonMessage(tr.Language), model.LearnMoreButton(tr.Language), res.URL)
				if err != nil {
					return err
				}
				if err := p.polls.SetButtonMessage(ctx, poll.PollID, button.MessageID); err != nil {
					// без id кнопки удаление оставит ее в канале
					log.Warn("Failed to save button message id", zap.Int64("message_id", button.MessageID), zap.Error(err))
				}
				return nil
			},
		},
	}

	err = RunSequence(ctx, steps, func(step string, err error) {
		log.Warn("Optional step failed", zap.String("step", step), zap.Error(err))
		pr.emit(model.SeverityWarning, step, tr.Language, fmt.Sprintf("%s failed: %v", step, err))
	})
	if err != nil {
		var se *StepError
		step := "publishing"
		if errors.As(err, &se) {
			step = se.Step
		}
		pr.emit(model.SeverityError, step, tr.Language, describe(err))
		log.Error("Translation publication failed", zap.String("step", step), zap.Error(err))
		return nil, err
	}

	pr.emit(model.SeveritySuccess, model.StepSendPoll, tr.Language,
		fmt.Sprintf("published to %s", group.GroupName))
	return &publishedLanguage{group: group, photoMessageID: photo.MessageID}, nil
}

// compound отправленные сообщения языка до кнопки
type compound struct {
	photo, details, poll telegram.Sent
}

func (p *Publisher) savePoll(ctx context.Context, bundle *model.TaskBundle, tr *model.TaskTranslation, group *model.TelegramGroup, spec PollSpec, c compound) error {
	sent := c.poll
	record := &model.TaskPoll{
		TaskID:           bundle.Task.ID,
		TranslationID:    tr.ID,
		PollID:           sent.PollID,
		PollQuestion:     spec.Question,
		PollOptions:      spec.Options,
		CorrectOptionID:  spec.CorrectIndex,
		IsAnonymous:      group.LocationType == model.LocationChannel,
		PollType:         model.PollTypeQuiz,
		PollLink:         model.PollLinkFor(group, sent.MessageID),
		ChatID:           group.GroupID,
		MessageID:        sent.MessageID,
		PhotoMessageID:   c.photo.MessageID,
		DetailsMessageID: c.details.MessageID,
	}
	if err := p.polls.Create(ctx, record); err != nil {
		return fmt.Errorf("failed to save poll: %w", err)
	}
	return nil
}

// describe формирует сообщение для журнала по виду ошибки
func describe(err error) string {
	switch model.KindOf(err) {
	case model.KindTelegramRateLimited:
		return fmt.Sprintf("telegram rate limit: %v", err)
	case model.KindTelegramRejected:
		return fmt.Sprintf("telegram rejected message: %v", err)
	case model.KindTelegramUnavailable:
		return fmt.Sprintf("telegram unavailable: %v", err)
	case model.KindConfigurationMissing:
		return fmt.Sprintf("configuration missing: %v", err)
	case model.KindDatabaseUnavailable, model.KindStorageFailed, model.KindStorageUnavailable:
		return fmt.Sprintf("storage error: %v", err)
	default:
		return err.Error()
	}
}
