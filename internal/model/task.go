// Package model содержит модели данных приложения.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Difficulty представляет сложность задачи
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// IsValid проверяет валидность сложности
func (d Difficulty) IsValid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление сложности
func (d Difficulty) String() string {
	return string(d)
}

// Topic представляет тему задач (язык программирования, технология)
type Topic struct {
	bun.BaseModel `bun:"table:topics"`

	ID   int64  `bun:"id,pk,autoincrement" json:"id"`
	Name string `bun:"name,unique,notnull" json:"name"`
}

// Subtopic представляет подтему
type Subtopic struct {
	bun.BaseModel `bun:"table:subtopics"`

	ID      int64  `bun:"id,pk,autoincrement" json:"id"`
	TopicID int64  `bun:"topic_id,notnull,unique:subtopic_topic_name" json:"topic_id"`
	Name    string `bun:"name,notnull,unique:subtopic_topic_name" json:"name"`
}

// Task представляет одну задачу (строку группы переводов)
type Task struct {
	bun.BaseModel `bun:"table:tasks"`

	ID                      int64       `bun:"id,pk,autoincrement" json:"id"`
	TranslationGroupID      uuid.UUID   `bun:"translation_group_id,type:uuid,notnull" json:"translation_group_id"`
	TopicID                 int64       `bun:"topic_id,notnull" json:"topic_id"`
	SubtopicID              *int64      `bun:"subtopic_id" json:"subtopic_id"`
	Difficulty              Difficulty  `bun:"difficulty,notnull" json:"difficulty"`
	ImageURL                string      `bun:"image_url,nullzero" json:"image_url"`
	VideoURL                string      `bun:"video_url,nullzero" json:"video_url"`
	VideoURLs               LangURLMap  `bun:"video_urls,type:jsonb" json:"video_urls"`
	VideoGenerationProgress LangFlagMap `bun:"video_generation_progress,type:jsonb" json:"video_generation_progress"`
	ExternalLink            string      `bun:"external_link,nullzero" json:"external_link"`
	Error                   bool        `bun:"error,notnull,default:false" json:"error"`
	Published               bool        `bun:"published,notnull,default:false" json:"published"`
	CreateDate              time.Time   `bun:"create_date,nullzero,notnull,default:current_timestamp" json:"create_date"`
	PublishDate             *time.Time  `bun:"publish_date" json:"publish_date"`
	MessageID               *int64      `bun:"message_id" json:"message_id"`
	GroupID                 *int64      `bun:"group_id" json:"group_id"`

	// PublishingStartedAt метка захвата задачи запуском публикации
	PublishingStartedAt *time.Time `bun:"publishing_started_at" json:"publishing_started_at,omitempty"`
	ErrorDate           *time.Time `bun:"error_date" json:"error_date,omitempty"`
}

// Validate проверяет инварианты задачи
func (t *Task) Validate() error {
	var errs ValidationErrors

	if t.TranslationGroupID == uuid.Nil {
		errs = append(errs, ValidationError{Field: "translation_group_id", Message: "is required"})
	}
	if t.TopicID == 0 {
		errs = append(errs, ValidationError{Field: "topic", Message: "is required"})
	}
	if !t.Difficulty.IsValid() {
		errs = append(errs, ValidationError{Field: "difficulty", Message: "must be one of: easy, medium, hard"})
	}
	collect(&errs, ValidateURL("external_link", t.ExternalLink))

	if t.Published {
		if t.PublishDate == nil {
			errs = append(errs, ValidationError{Field: "publish_date", Message: "is required for published task"})
		}
		if t.MessageID == nil {
			errs = append(errs, ValidationError{Field: "message_id", Message: "is required for published task"})
		}
	}
	if t.PublishDate != nil && !t.CreateDate.IsZero() && t.PublishDate.Before(t.CreateDate) {
		errs = append(errs, ValidationError{Field: "publish_date", Message: "must not precede create_date"})
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// HasVideoFor сообщает, есть ли готовое видео для языка
func (t *Task) HasVideoFor(lang string) bool {
	return t.VideoURLs[lang] != ""
}

// TaskTranslation представляет перевод задачи на один язык
type TaskTranslation struct {
	bun.BaseModel `bun:"table:task_translations"`

	ID              int64      `bun:"id,pk,autoincrement" json:"id"`
	TaskID          int64      `bun:"task_id,notnull" json:"task_id"`
	Language        string     `bun:"language,notnull" json:"language"`
	Question        string     `bun:"question,notnull" json:"question"`
	Answers         StringList `bun:"answers,type:jsonb,notnull" json:"answers"`
	CorrectAnswer   string     `bun:"correct_answer,notnull" json:"correct_answer"`
	Explanation     string     `bun:"explanation" json:"explanation"`
	LongExplanation string     `bun:"long_explanation" json:"long_explanation"`
	PublishDate     *time.Time `bun:"publish_date" json:"publish_date"`
}

// NormalizeAnswers приводит ответы к единой форме: обрезает пробелы, убирает
// дубликаты и гарантирует, что правильный ответ встречается ровно один раз.
// Возвращает true, если список пришлось изменить.
func (tr *TaskTranslation) NormalizeAnswers() bool {
	tr.CorrectAnswer = strings.TrimSpace(tr.CorrectAnswer)

	seen := make(map[string]bool, len(tr.Answers))
	out := make(StringList, 0, len(tr.Answers))
	changed := false
	for _, a := range tr.Answers {
		trimmed := strings.TrimSpace(a)
		if trimmed != a {
			changed = true
		}
		if trimmed == "" || seen[trimmed] {
			changed = true
			continue
		}
		seen[trimmed] = true
		out = append(out, trimmed)
	}
	tr.Answers = out
	return changed
}

// IncorrectAnswers возвращает ответы без правильного
func (tr *TaskTranslation) IncorrectAnswers() []string {
	out := make([]string, 0, len(tr.Answers))
	for _, a := range tr.Answers {
		if a != tr.CorrectAnswer {
			out = append(out, a)
		}
	}
	return out
}

// Validate проверяет инварианты перевода
func (tr *TaskTranslation) Validate() error {
	var errs ValidationErrors

	collect(&errs, ValidateRequired("language", tr.Language))
	collect(&errs, ValidateRequired("question", tr.Question))
	collect(&errs, ValidateRequired("correct_answer", tr.CorrectAnswer))

	if len(tr.Answers) < 2 {
		errs = append(errs, ValidationError{Field: "answers", Message: "must contain at least two options"})
	}

	count := 0
	for _, a := range tr.Answers {
		if a == tr.CorrectAnswer {
			count++
		}
	}
	if tr.CorrectAnswer != "" && count != 1 {
		errs = append(errs, ValidationError{Field: "correct_answer", Message: "must appear exactly once in answers"})
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
