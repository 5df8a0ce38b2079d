package model

import (
	"time"

	"github.com/uptrace/bun"
)

// TaskStatistics статистика ответов пользователя Telegram по задаче
type TaskStatistics struct {
	bun.BaseModel `bun:"table:task_statistics,alias:ts"`

	ID              int64     `bun:"id,pk,autoincrement" json:"id"`
	UserID          int64     `bun:"user_id,notnull,unique:task_statistics_user_task" json:"user_id"`
	TaskID          int64     `bun:"task_id,notnull,unique:task_statistics_user_task" json:"task_id"`
	Attempts        int       `bun:"attempts,notnull,default:0" json:"attempts"`
	Successful      bool      `bun:"successful,notnull,default:false" json:"successful"`
	LastAttemptDate time.Time `bun:"last_attempt_date,notnull" json:"last_attempt_date"`
	SelectedAnswer  string    `bun:"selected_answer" json:"selected_answer"`
}

// MiniAppTaskStatistics статистика пользователя мини-приложения, еще не связанного с Telegram
type MiniAppTaskStatistics struct {
	bun.BaseModel `bun:"table:mini_app_task_statistics,alias:ms"`

	ID              int64     `bun:"id,pk,autoincrement" json:"id"`
	MiniAppUserID   int64     `bun:"mini_app_user_id,notnull,unique:mini_app_stats_user_task" json:"mini_app_user_id"`
	TaskID          int64     `bun:"task_id,notnull,unique:mini_app_stats_user_task" json:"task_id"`
	Attempts        int       `bun:"attempts,notnull,default:0" json:"attempts"`
	Successful      bool      `bun:"successful,notnull,default:false" json:"successful"`
	LastAttemptDate time.Time `bun:"last_attempt_date,notnull" json:"last_attempt_date"`
	SelectedAnswer  string    `bun:"selected_answer" json:"selected_answer"`
}

// Attempt одна попытка ответа
type Attempt struct {
	UserID         int64
	TaskID         int64
	Correct        bool
	SelectedAnswer string
	At             time.Time
}

// Apply применяет попытку к статистике. successful никогда не сбрасывается.
func (s *TaskStatistics) Apply(a Attempt) {
	s.Attempts++
	s.Successful = s.Successful || a.Correct
	if a.At.After(s.LastAttemptDate) {
		s.LastAttemptDate = a.At
	}
	s.SelectedAnswer = a.SelectedAnswer
}

// Merge вливает статистику мини-приложения: attempts суммируются,
// successful объединяется по ИЛИ, дата берется более поздняя.
func (s *TaskStatistics) Merge(m *MiniAppTaskStatistics) {
	s.Attempts += m.Attempts
	s.Successful = s.Successful || m.Successful
	if m.LastAttemptDate.After(s.LastAttemptDate) {
		s.LastAttemptDate = m.LastAttemptDate
		if m.SelectedAnswer != "" {
			s.SelectedAnswer = m.SelectedAnswer
		}
	}
}

// MergeReport итог слияния статистики
type MergeReport struct {
	Merged  int `json:"merged"`
	Created int `json:"created"`
}
