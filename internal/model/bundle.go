package model

import (
	"time"

	"github.com/google/uuid"
)

// TaskBundle задача со всеми связанными сущностями, собранная по id
type TaskBundle struct {
	Task         Task
	Topic        Topic
	Subtopic     *Subtopic
	Group        *TelegramGroup
	Translations []TaskTranslation
	Polls        []TaskPoll
}

// PollsFor возвращает опросы перевода
func (b *TaskBundle) PollsFor(translationID int64) []TaskPoll {
	var out []TaskPoll
	for _, p := range b.Polls {
		if p.TranslationID == translationID {
			out = append(out, p)
		}
	}
	return out
}

// TranslationFor возвращает перевод на язык или nil
func (b *TaskBundle) TranslationFor(lang string) *TaskTranslation {
	for i := range b.Translations {
		if b.Translations[i].Language == lang {
			return &b.Translations[i]
		}
	}
	return nil
}

// Languages возвращает языки переводов в порядке хранения
func (b *TaskBundle) Languages() []string {
	out := make([]string, 0, len(b.Translations))
	for _, tr := range b.Translations {
		out = append(out, tr.Language)
	}
	return out
}

// Publication результат публикации задачи
type Publication struct {
	PublishDate time.Time
	MessageID   int64
	GroupID     int64
	// Error выставляется, если часть языков не опубликована
	Error bool
	// Languages опубликованные переводы; пустой список означает все
	Languages []string
}

// GroupDeletion строки, удаленные каскадом по translation_group_id
type GroupDeletion struct {
	Tasks        []Task
	Polls        []TaskPoll
	// SharedImages картинки удаленных задач, на которые ссылаются другие задачи
	SharedImages []string
	Translations int
	Statistics   int
}

// DeletionReport итог удаления группы переводов
type DeletionReport struct {
	TranslationGroupID uuid.UUID `json:"translation_group_id"`

	TasksDeleted        int `json:"tasks_deleted"`
	TranslationsDeleted int `json:"translations_deleted"`
	PollsDeleted        int `json:"polls_deleted"`
	StatisticsDeleted   int `json:"statistics_deleted"`

	ImagesAttempted int `json:"images_attempted"`
	ImagesDeleted   int `json:"images_deleted"`
	ImagesShared    int `json:"images_shared"`
	VideosAttempted int `json:"videos_attempted"`
	VideosDeleted   int `json:"videos_deleted"`

	TelegramAttempted  int `json:"telegram_attempted"`
	TelegramDeleted    int `json:"telegram_deleted"`
	TelegramSoftFailed int `json:"telegram_soft_failed"`
	TelegramFailed     int `json:"telegram_failed"`

	Errors     []string `json:"errors,omitempty"`
	Deviations []string `json:"deviations,omitempty"`
}

// Add суммирует отчеты
func (r *DeletionReport) Add(o *DeletionReport) {
	if o == nil {
		return
	}
	r.TasksDeleted += o.TasksDeleted
	r.TranslationsDeleted += o.TranslationsDeleted
	r.PollsDeleted += o.PollsDeleted
	r.StatisticsDeleted += o.StatisticsDeleted
	r.ImagesAttempted += o.ImagesAttempted
	r.ImagesDeleted += o.ImagesDeleted
	r.ImagesShared += o.ImagesShared
	r.VideosAttempted += o.VideosAttempted
	r.VideosDeleted += o.VideosDeleted
	r.TelegramAttempted += o.TelegramAttempted
	r.TelegramDeleted += o.TelegramDeleted
	r.TelegramSoftFailed += o.TelegramSoftFailed
	r.TelegramFailed += o.TelegramFailed
	r.Errors = append(r.Errors, o.Errors...)
	r.Deviations = append(r.Deviations, o.Deviations...)
}
