package model

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Репозитории возвращают (nil, nil), если запись не найдена.

// TaskRepository интерфейс для работы с задачами и их переводами
type TaskRepository interface {
	GetByID(ctx context.Context, id int64) (*Task, error)
	// ExpandGroups возвращает translation_group_id задач в порядке первого появления
	ExpandGroups(ctx context.Context, ids []int64) ([]uuid.UUID, error)
	ListByGroups(ctx context.Context, groups []uuid.UUID) ([]Task, error)
	LoadBundle(ctx context.Context, id int64) (*TaskBundle, error)
	GetTranslation(ctx context.Context, id int64) (*TaskTranslation, error)
	Create(ctx context.Context, task *Task, translations []TaskTranslation) error
	SetImageURL(ctx context.Context, id int64, url string) error
	// MarkPublished возвращает false, если задача уже опубликована
	MarkPublished(ctx context.Context, id int64, pub Publication) (bool, error)
	// ClaimPublication захватывает неопубликованную задачу для запуска.
	// false означает, что задачу держит другой запуск моложе lease.
	ClaimPublication(ctx context.Context, id int64, now time.Time, lease time.Duration) (bool, error)
	MarkError(ctx context.Context, id int64) error
	ClearErrorGroup(ctx context.Context, group uuid.UUID) (int, error)
	SetVideoProgress(ctx context.Context, id int64, lang string, done bool) error
	SetVideoURL(ctx context.Context, id int64, lang, url string) error
	DeleteGroup(ctx context.Context, group uuid.UUID) (*GroupDeletion, error)
	// ListUnpublishedGroups возвращает самые старые группы с неопубликованными
	// задачами. Задачи с ошибкой попадают в выборку, если ошибка старше retryAfter;
	// retryAfter <= 0 исключает их.
	ListUnpublishedGroups(ctx context.Context, limit int, retryAfter time.Duration) ([]uuid.UUID, error)
}

// TopicRepository интерфейс для работы с темами
type TopicRepository interface {
	GetByID(ctx context.Context, id int64) (*Topic, error)
	GetOrCreate(ctx context.Context, name string) (*Topic, error)
	GetSubtopic(ctx context.Context, id int64) (*Subtopic, error)
	GetOrCreateSubtopic(ctx context.Context, topicID int64, name string) (*Subtopic, error)
}

// GroupRepository интерфейс для работы с Telegram-группами
type GroupRepository interface {
	GetByID(ctx context.Context, id int64) (*TelegramGroup, error)
	// FindPublicationTarget возвращает первую подходящую группу по (тема, язык)
	FindPublicationTarget(ctx context.Context, topicID int64, lang string) (*TelegramGroup, error)
	Create(ctx context.Context, group *TelegramGroup) error
}

// PollRepository интерфейс для работы с опросами
type PollRepository interface {
	Create(ctx context.Context, poll *TaskPoll) error
	GetByPollID(ctx context.Context, pollID string) (*TaskPoll, error)
	ListByTask(ctx context.Context, taskID int64) ([]TaskPoll, error)
	IncrementVoters(ctx context.Context, pollID string) error
	SetButtonMessage(ctx context.Context, pollID string, messageID int64) error
}

// LinkRepository интерфейс для работы со ссылками
type LinkRepository interface {
	GetDefault(ctx context.Context, lang, topicName string) (*DefaultLink, error)
	GetMainFallback(ctx context.Context, lang string) (*MainFallbackLink, error)
	ListActiveGlobal(ctx context.Context) ([]GlobalLink, error)
	SaveDefault(ctx context.Context, link *DefaultLink) error
	SaveMainFallback(ctx context.Context, link *MainFallbackLink) error
}

// WebhookRepository интерфейс для работы с вебхуками
type WebhookRepository interface {
	List(ctx context.Context) ([]Webhook, error)
	ListActive(ctx context.Context) ([]Webhook, error)
	Create(ctx context.Context, webhook *Webhook) error
	Deactivate(ctx context.Context, id uuid.UUID) error
}

// StatisticsRepository интерфейс для работы со статистикой
type StatisticsRepository interface {
	RecordAttempt(ctx context.Context, attempt Attempt) (*TaskStatistics, error)
	Get(ctx context.Context, userID, taskID int64) (*TaskStatistics, error)
	MergeMiniAppStats(ctx context.Context, miniAppUserID, userID int64) (*MergeReport, error)
}

// Repositories набор репозиториев хранилища
type Repositories struct {
	Tasks      TaskRepository
	Topics     TopicRepository
	Groups     GroupRepository
	Polls      PollRepository
	Links      LinkRepository
	Webhooks   WebhookRepository
	Statistics StatisticsRepository
}
