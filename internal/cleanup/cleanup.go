// Package cleanup удаляет группу переводов целиком: строки в базе, объекты
// хранилища и сообщения в Telegram.
package cleanup

import (
	"context"
	"fmt"
	"slices"
	"time"

	"codequiz/internal/model"
	"codequiz/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ObjectDeleter удаляет объект по публичному URL
type ObjectDeleter interface {
	Delete(ctx context.Context, rawURL string) (bool, error)
}

// MessageDeleter удаляет сообщение. false без ошибки означает, что
// сообщения уже нет.
type MessageDeleter interface {
	DeleteMessage(ctx context.Context, chatID, messageID int64) (bool, error)
}

// Window смещения удаляемых сообщений относительно сообщения с опросом.
// Применяется только к опросам, для которых серия сообщений не сохранена.
type Window struct {
	Before int
	After  int
}

// DefaultWindow окно -2..+1: картинка, детали, опрос, кнопка
func DefaultWindow() Window {
	return Window{Before: 2, After: 1}
}

// Offsets возвращает смещения окна по возрастанию
func (w Window) Offsets() []int64 {
	out := make([]int64, 0, w.Before+w.After+1)
	for off := -w.Before; off <= w.After; off++ {
		out = append(out, int64(off))
	}
	return out
}

// Service выполняет каскадное удаление
type Service struct {
	tasks    model.TaskRepository
	groups   model.GroupRepository
	objects  ObjectDeleter
	messages MessageDeleter
	window   Window
	logger   *zap.Logger
}

// New создает сервис удаления
func New(tasks model.TaskRepository, groups model.GroupRepository, objects ObjectDeleter, messages MessageDeleter, window Window, logger *zap.Logger) *Service {
	return &Service{
		tasks:    tasks,
		groups:   groups,
		objects:  objects,
		messages: messages,
		window:   window,
		logger:   logger,
	}
}

// DeleteGroups удаляет группы переводов по очереди и суммирует отчеты.
// Ошибка базы прерывает обработку оставшихся групп.
func (s *Service) DeleteGroups(ctx context.Context, groups []uuid.UUID, sink model.ProgressSink) (*model.DeletionReport, error) {
	total := &model.DeletionReport{}
	for _, g := range groups {
		report, err := s.DeleteTaskGroup(ctx, g, sink)
		total.Add(report)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// DeleteTaskGroup удаляет группу переводов: сначала строки базы, затем
// картинки и видео, затем сообщения в окне вокруг якоря каждой опубликованной задачи.
func (s *Service) DeleteTaskGroup(ctx context.Context, group uuid.UUID, sink model.ProgressSink) (*model.DeletionReport, error) {
	if sink == nil {
		sink = model.DiscardProgress
	}
	log := logger.FromContext(ctx, s.logger).With(zap.String("translation_group_id", group.String()))
	report := &model.DeletionReport{TranslationGroupID: group}

	deleted, err := s.tasks.DeleteGroup(ctx, group)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("database: %v", err))
		emit(sink, model.SeverityError, 0, fmt.Sprintf("failed to delete group %s: %v", group, err))
		return report, fmt.Errorf("failed to delete group %s: %w", group, err)
	}
	if deleted == nil || len(deleted.Tasks) == 0 {
		log.Info("Translation group not found, nothing to delete")
		emit(sink, model.SeverityWarning, 0, fmt.Sprintf("group %s not found", group))
		return report, nil
	}

	report.TasksDeleted = len(deleted.Tasks)
	report.TranslationsDeleted = deleted.Translations
	report.PollsDeleted = len(deleted.Polls)
	report.StatisticsDeleted = deleted.Statistics
	emit(sink, model.SeveritySuccess, 0, fmt.Sprintf("deleted %d tasks, %d translations, %d polls, %d statistics rows",
		report.TasksDeleted, report.TranslationsDeleted, report.PollsDeleted, report.StatisticsDeleted))

	s.deleteObjects(ctx, deleted, report, log)
	s.deleteMessages(ctx, deleted, report, log)

	severity := model.SeveritySuccess
	if len(report.Errors) > 0 {
		severity = model.SeverityWarning
	}
	emit(sink, severity, 0, fmt.Sprintf("storage: %d/%d images (%d shared kept), %d/%d videos; telegram: %d deleted, %d already gone, %d failed",
		report.ImagesDeleted, report.ImagesAttempted, report.ImagesShared,
		report.VideosDeleted, report.VideosAttempted,
		report.TelegramDeleted, report.TelegramSoftFailed, report.TelegramFailed))

	log.Info("Translation group deleted",
		zap.Int("tasks", report.TasksDeleted),
		zap.Int("images_deleted", report.ImagesDeleted),
		zap.Int("telegram_deleted", report.TelegramDeleted),
		zap.Int("errors", len(report.Errors)))
	return report, nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func emit(sink model.ProgressSink, severity model.Severity, taskID int64, message string) {
	sink.Report(model.ProgressEntry{
		Time:     nowUTC(),
		Severity: severity,
		Step:     model.StepDelete,
		Message:  message,
		TaskID:   taskID,
	})
}

// deleteObjects удаляет уникальные картинки и видео задач. Картинки, на
// которые ссылаются задачи других групп, остаются.
func (s *Service) deleteObjects(ctx context.Context, deleted *model.GroupDeletion, report *model.DeletionReport, log *zap.Logger) {
	var images, videos []string
	for _, t := range deleted.Tasks {
		if t.ImageURL != "" && !slices.Contains(images, t.ImageURL) {
			images = append(images, t.ImageURL)
		}
		langs := make([]string, 0, len(t.VideoURLs))
		for lang := range t.VideoURLs {
			langs = append(langs, lang)
		}
		slices.Sort(langs)
		for _, lang := range langs {
			if url := t.VideoURLs[lang]; url != "" && !slices.Contains(videos, url) {
				videos = append(videos, url)
			}
		}
		if t.VideoURL != "" && !slices.Contains(videos, t.VideoURL) {
			videos = append(videos, t.VideoURL)
		}
	}

	for _, url := range images {
		if slices.Contains(deleted.SharedImages, url) {
			report.ImagesShared++
			log.Info("Image is still referenced by other tasks, keeping it", zap.String("url", url))
			continue
		}
		report.ImagesAttempted++
		if s.deleteObject(ctx, url, report, log) {
			report.ImagesDeleted++
		}
	}
	for _, url := range videos {
		report.VideosAttempted++
		if s.deleteObject(ctx, url, report, log) {
			report.VideosDeleted++
		}
	}
}

func (s *Service) deleteObject(ctx context.Context, url string, report *model.DeletionReport, log *zap.Logger) bool {
	ok, err := s.objects.Delete(ctx, url)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("storage %s: %v", url, err))
		log.Warn("Failed to delete object", zap.String("url", url), zap.Error(err))
		return false
	}
	return ok
}

// deleteMessages удаляет серии сообщений каждого опубликованного языка.
// Удаляются только сообщения, id которых сохранены; окно вокруг опроса
// используется для строк без сохраненной серии.
func (s *Service) deleteMessages(ctx context.Context, deleted *model.GroupDeletion, report *model.DeletionReport, log *zap.Logger) {
	for _, t := range deleted.Tasks {
		taskLog := log.With(zap.Int64("task_id", t.ID))
		anchorChat, hasAnchor := s.anchorChat(ctx, t, report)
		anchorCovered := false

		for _, p := range deleted.Polls {
			if p.TaskID != t.ID {
				continue
			}
			pollLog := taskLog.With(zap.Int64("chat_id", p.ChatID), zap.Int64("poll_message_id", p.MessageID))

			ids := p.CompoundMessageIDs()
			switch {
			case p.PhotoMessageID == 0:
				ids = s.windowAround(p.MessageID)
				msg := fmt.Sprintf("task %d: poll %s has no stored compound, deleting window around message %d",
					t.ID, p.PollID, p.MessageID)
				report.Deviations = append(report.Deviations, msg)
				pollLog.Warn("Poll has no stored compound, falling back to window")
			case !consecutive(ids, 4):
				msg := fmt.Sprintf("task %d: compound in chat %d is incomplete or interleaved: %v", t.ID, p.ChatID, ids)
				report.Deviations = append(report.Deviations, msg)
				pollLog.Warn("Compound messages are not consecutive", zap.Int64s("message_ids", ids))
			}
			if hasAnchor && p.ChatID == anchorChat && slices.Contains(ids, *t.MessageID) {
				anchorCovered = true
			}
			s.deleteChatMessages(ctx, p.ChatID, ids, report, pollLog)
		}

		if !hasAnchor || anchorCovered {
			continue
		}
		// якорь задачи без строки опроса: удаляем только картинку
		msg := fmt.Sprintf("task %d: anchor %d has no poll record, deleting only the anchor", t.ID, *t.MessageID)
		report.Deviations = append(report.Deviations, msg)
		taskLog.Warn("Anchor without poll record", zap.Int64("anchor", *t.MessageID))
		s.deleteChatMessages(ctx, anchorChat, []int64{*t.MessageID}, report, taskLog.With(zap.Int64("chat_id", anchorChat)))
	}
}

// anchorChat возвращает чат якоря задачи
func (s *Service) anchorChat(ctx context.Context, t model.Task, report *model.DeletionReport) (int64, bool) {
	if t.MessageID == nil || t.GroupID == nil {
		return 0, false
	}
	group, err := s.groups.GetByID(ctx, *t.GroupID)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("task %d: group lookup: %v", t.ID, err))
		return 0, false
	}
	if group == nil {
		report.Errors = append(report.Errors, fmt.Sprintf("task %d: group %d not found", t.ID, *t.GroupID))
		return 0, false
	}
	return group.GroupID, true
}

func (s *Service) windowAround(messageID int64) []int64 {
	var ids []int64
	for _, off := range s.window.Offsets() {
		if id := messageID + off; id > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// consecutive проверяет, что ids идут подряд и их ровно n
func consecutive(ids []int64, n int) bool {
	if len(ids) != n {
		return false
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] != ids[i-1]+1 {
			return false
		}
	}
	return true
}

func (s *Service) deleteChatMessages(ctx context.Context, chatID int64, ids []int64, report *model.DeletionReport, log *zap.Logger) {
	for _, id := range ids {
		report.TelegramAttempted++
		ok, err := s.messages.DeleteMessage(ctx, chatID, id)
		switch {
		case err != nil:
			report.TelegramFailed++
			report.Errors = append(report.Errors, fmt.Sprintf("telegram %d/%d: %v", chatID, id, err))
			log.Warn("Failed to delete message", zap.Int64("message_id", id), zap.Error(err))
		case ok:
			report.TelegramDeleted++
		default:
			report.TelegramSoftFailed++
			log.Debug("Message already gone", zap.Int64("message_id", id))
		}
	}
}
