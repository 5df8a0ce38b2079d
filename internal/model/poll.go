package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// PollTypeQuiz тип опроса-викторины в Bot API
const PollTypeQuiz = "quiz"

// TaskPoll представляет опрос, опубликованный для пары (задача, перевод)
type TaskPoll struct {
	bun.BaseModel `bun:"table:task_polls"`

	ID                    int64      `bun:"id,pk,autoincrement" json:"id"`
	TaskID                int64      `bun:"task_id,notnull" json:"task_id"`
	TranslationID         int64      `bun:"translation_id,notnull" json:"translation_id"`
	PollID                string     `bun:"poll_id,unique,notnull" json:"poll_id"`
	PollQuestion          string     `bun:"poll_question,notnull" json:"poll_question"`
	PollOptions           StringList `bun:"poll_options,type:jsonb,notnull" json:"poll_options"`
	CorrectOptionID       int        `bun:"correct_option_id,notnull" json:"correct_option_id"`
	IsAnonymous           bool       `bun:"is_anonymous,notnull,default:true" json:"is_anonymous"`
	PollType              string     `bun:"poll_type,notnull,default:'quiz'" json:"poll_type"`
	AllowsMultipleAnswers bool       `bun:"allows_multiple_answers,notnull,default:false" json:"allows_multiple_answers"`
	TotalVoterCount       int        `bun:"total_voter_count,notnull,default:0" json:"total_voter_count"`
	PollLink              string     `bun:"poll_link,nullzero" json:"poll_link"`
	ChatID                int64      `bun:"chat_id,notnull" json:"chat_id"`
	MessageID             int64      `bun:"message_id,notnull" json:"message_id"`

	// Сообщения серии этого языка; 0, если сообщение не отправлено или
	// строка создана до их учета
	PhotoMessageID   int64 `bun:"photo_message_id,notnull,default:0" json:"photo_message_id"`
	DetailsMessageID int64 `bun:"details_message_id,notnull,default:0" json:"details_message_id"`
	ButtonMessageID  int64 `bun:"button_message_id,notnull,default:0" json:"button_message_id"`
}

// CompoundMessageIDs возвращает известные сообщения серии по возрастанию
func (p *TaskPoll) CompoundMessageIDs() []int64 {
	var ids []int64
	for _, id := range []int64{p.PhotoMessageID, p.DetailsMessageID, p.MessageID, p.ButtonMessageID} {
		if id > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// PollAnswerEvent ответ пользователя на опрос
type PollAnswerEvent struct {
	UpdateID   int       `json:"update_id"`
	PollID     string    `json:"poll_id"`
	UserID     int64     `json:"user_id"`
	Username   string    `json:"username,omitempty"`
	OptionIDs  []int     `json:"option_ids"`
	ReceivedAt time.Time `json:"received_at"`
}

// DontKnowOptionID возвращает индекс варианта "не знаю" (всегда последний)
func (p *TaskPoll) DontKnowOptionID() int {
	return len(p.PollOptions) - 1
}

// CorrectOptionText возвращает текст правильного варианта
func (p *TaskPoll) CorrectOptionText() string {
	if p.CorrectOptionID < 0 || p.CorrectOptionID >= len(p.PollOptions) {
		return ""
	}
	return p.PollOptions[p.CorrectOptionID]
}

// PollLinkFor строит ссылку на сообщение с опросом
func PollLinkFor(group *TelegramGroup, messageID int64) string {
	if group == nil || messageID == 0 {
		return ""
	}
	if username := strings.TrimPrefix(group.Username, "@"); username != "" {
		return fmt.Sprintf("https://t.me/%s/%d", username, messageID)
	}
	// приватные каналы: -100XXXXXXXXXX -> c/XXXXXXXXXX
	id := fmt.Sprint(group.GroupID)
	id = strings.TrimPrefix(id, "-100")
	return fmt.Sprintf("https://t.me/c/%s/%d", strings.TrimPrefix(id, "-"), messageID)
}
