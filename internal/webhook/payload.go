// Package webhook содержит payload публикаций и рассылку по вебхукам.
package webhook

import (
	"time"

	"codequiz/internal/model"

	"github.com/google/uuid"
)

// Типы payload
const (
	TypeFull        = "quiz_published_full"
	TypeBulk        = "quiz_published_bulk"
	TypeRussianOnly = "quiz_published_russian_only"
	TypeEnglishOnly = "quiz_published_english_only"
)

// TypeForLanguage возвращает тип payload для языкового вебхука
func TypeForLanguage(lang string) string {
	switch lang {
	case "ru":
		return TypeRussianOnly
	case "en":
		return TypeEnglishOnly
	default:
		return TypeBulk
	}
}

// TopicRef тема или подтема в payload
type TopicRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// GroupRef группа публикации в payload
type GroupRef struct {
	ID           int64              `json:"id"`
	GroupID      int64              `json:"group_id"`
	GroupName    string             `json:"group_name"`
	Username     string             `json:"username"`
	Language     string             `json:"language"`
	LocationType model.LocationType `json:"location_type"`
}

// TaskPayload задача в payload
type TaskPayload struct {
	ID                 int64            `json:"id"`
	Difficulty         model.Difficulty `json:"difficulty"`
	Published          bool             `json:"published"`
	CreateDate         time.Time        `json:"create_date"`
	PublishDate        *time.Time       `json:"publish_date"`
	ImageURL           string           `json:"image_url"`
	VideoURL           string           `json:"video_url"`
	ExternalLink       string           `json:"external_link"`
	TranslationGroupID uuid.UUID        `json:"translation_group_id"`
	MessageID          *int64           `json:"message_id"`
	Error              bool             `json:"error"`
	Topic              TopicRef         `json:"topic"`
	Subtopic           *TopicRef        `json:"subtopic"`
	Group              *GroupRef        `json:"group"`
}

// PollPayload опрос в payload
type PollPayload struct {
	PollID                string   `json:"poll_id"`
	PollQuestion          string   `json:"poll_question"`
	PollOptions           []string `json:"poll_options"`
	IsAnonymous           bool     `json:"is_anonymous"`
	PollType              string   `json:"poll_type"`
	AllowsMultipleAnswers bool     `json:"allows_multiple_answers"`
	TotalVoterCount       int      `json:"total_voter_count"`
	PollLink              string   `json:"poll_link"`
}

// TranslationPayload перевод в payload
type TranslationPayload struct {
	ID               int64         `json:"id"`
	Language         string        `json:"language"`
	Question         string        `json:"question"`
	Answers          []string      `json:"answers"`
	CorrectAnswer    string        `json:"correct_answer"`
	IncorrectAnswers []string      `json:"incorrect_answers"`
	Explanation      string        `json:"explanation"`
	PublishDate      *time.Time    `json:"publish_date"`
	Polls            []PollPayload `json:"polls"`
}

// FullPayload публикация одной задачи (quiz_published_full)
type FullPayload struct {
	Type           string               `json:"type"`
	ID             uuid.UUID            `json:"id"`
	Timestamp      time.Time            `json:"timestamp"`
	TargetPlatform string               `json:"target_platform,omitempty"`
	Task           TaskPayload          `json:"task"`
	Translations   []TranslationPayload `json:"translations"`
}

// PublishedTask элемент массива published_tasks
type PublishedTask struct {
	Task         TaskPayload          `json:"task"`
	Translations []TranslationPayload `json:"translations"`
}

// LinkPayload глобальная ссылка
type LinkPayload struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// BulkPayload пакет задач (bulk и языковые типы)
type BulkPayload struct {
	Type              string          `json:"type"`
	ID                uuid.UUID       `json:"id"`
	Timestamp         time.Time       `json:"timestamp"`
	Language          string          `json:"language,omitempty"`
	PublishedTasks    []PublishedTask `json:"published_tasks"`
	GlobalCustomLinks []LinkPayload   `json:"global_custom_links"`
}

// NewTaskPayload собирает задачу. videoLang выбирает видео для языка; пустой
// videoLang без includeVideo оставляет video_url пустым.
func NewTaskPayload(b *model.TaskBundle, includeVideo bool, videoLang string) TaskPayload {
	t := b.Task
	p := TaskPayload{
		ID:                 t.ID,
		Difficulty:         t.Difficulty,
		Published:          t.Published,
		CreateDate:         t.CreateDate,
		PublishDate:        t.PublishDate,
		ImageURL:           t.ImageURL,
		ExternalLink:       t.ExternalLink,
		TranslationGroupID: t.TranslationGroupID,
		MessageID:          t.MessageID,
		Error:              t.Error,
		Topic:              TopicRef{ID: b.Topic.ID, Name: b.Topic.Name},
	}
	if includeVideo {
		p.VideoURL = t.VideoURL
		if videoLang != "" && t.VideoURLs[videoLang] != "" {
			p.VideoURL = t.VideoURLs[videoLang]
		}
	}
	if b.Subtopic != nil {
		p.Subtopic = &TopicRef{ID: b.Subtopic.ID, Name: b.Subtopic.Name}
	}
	if g := b.Group; g != nil {
		p.Group = &GroupRef{
			ID:           g.ID,
			GroupID:      g.GroupID,
			GroupName:    g.GroupName,
			Username:     g.Username,
			Language:     g.Language,
			LocationType: g.LocationType,
		}
	}
	return p
}

// NewTranslationPayload собирает перевод с его опросами
func NewTranslationPayload(tr *model.TaskTranslation, polls []model.TaskPoll) TranslationPayload {
	p := TranslationPayload{
		ID:               tr.ID,
		Language:         tr.Language,
		Question:         tr.Question,
		Answers:          append([]string{}, tr.Answers...),
		CorrectAnswer:    tr.CorrectAnswer,
		IncorrectAnswers: tr.IncorrectAnswers(),
		Explanation:      tr.Explanation,
		PublishDate:      tr.PublishDate,
		Polls:            make([]PollPayload, 0, len(polls)),
	}
	for _, poll := range polls {
		p.Polls = append(p.Polls, PollPayload{
			PollID:                poll.PollID,
			PollQuestion:          poll.PollQuestion,
			PollOptions:           append([]string{}, poll.PollOptions...),
			IsAnonymous:           poll.IsAnonymous,
			PollType:              poll.PollType,
			AllowsMultipleAnswers: poll.AllowsMultipleAnswers,
			TotalVoterCount:       poll.TotalVoterCount,
			PollLink:              poll.PollLink,
		})
	}
	return p
}

func translations(b *model.TaskBundle, lang string) []TranslationPayload {
	out := make([]TranslationPayload, 0, len(b.Translations))
	for i := range b.Translations {
		tr := &b.Translations[i]
		if lang != "" && tr.Language != lang {
			continue
		}
		out = append(out, NewTranslationPayload(tr, b.PollsFor(tr.ID)))
	}
	return out
}

// NewFull собирает quiz_published_full для одной задачи
func NewFull(b *model.TaskBundle, includeVideo bool) *FullPayload {
	return &FullPayload{
		Type:         TypeFull,
		ID:           uuid.New(),
		Timestamp:    time.Now().UTC(),
		Task:         NewTaskPayload(b, includeVideo, ""),
		Translations: translations(b, ""),
	}
}

// NewBulk собирает quiz_published_bulk для всех задач
func NewBulk(bundles []*model.TaskBundle, globals []model.GlobalLink, includeVideo bool) *BulkPayload {
	p := newBulk(TypeBulk, "", globals)
	for _, b := range bundles {
		p.PublishedTasks = append(p.PublishedTasks, PublishedTask{
			Task:         NewTaskPayload(b, includeVideo, ""),
			Translations: translations(b, ""),
		})
	}
	return p
}

// NewLanguageOnly собирает payload с переводами одного языка. Задачи без перевода
// на этот язык пропускаются; nil означает, что подходящих задач нет.
func NewLanguageOnly(bundles []*model.TaskBundle, lang string, globals []model.GlobalLink, includeVideo bool) *BulkPayload {
	p := newBulk(TypeForLanguage(lang), lang, globals)
	for _, b := range bundles {
		trs := translations(b, lang)
		if len(trs) == 0 {
			continue
		}
		p.PublishedTasks = append(p.PublishedTasks, PublishedTask{
			Task:         NewTaskPayload(b, includeVideo, lang),
			Translations: trs,
		})
	}
	if len(p.PublishedTasks) == 0 {
		return nil
	}
	return p
}

func newBulk(typ, lang string, globals []model.GlobalLink) *BulkPayload {
	links := make([]LinkPayload, 0, len(globals))
	for _, g := range globals {
		if !g.IsActive {
			continue
		}
		links = append(links, LinkPayload{Name: g.Name, URL: g.URL})
	}
	return &BulkPayload{
		Type:              typ,
		ID:                uuid.New(),
		Timestamp:         time.Now().UTC(),
		Language:          lang,
		PublishedTasks:    []PublishedTask{},
		GlobalCustomLinks: links,
	}
}
