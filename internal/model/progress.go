package model

import (
	"fmt"
	"time"
)

// Severity уровень записи журнала прогресса
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Marker возвращает эмодзи-префикс, который показывает админка
func (s Severity) Marker() string {
	switch s {
	case SeveritySuccess:
		return "✅"
	case SeverityWarning:
		return "⚠️"
	case SeverityError:
		return "❌"
	default:
		return "ℹ️"
	}
}

// Шаги пайплайна публикации
const (
	StepRenderImage      = "rendering image"
	StepUpload           = "uploading"
	StepSendPhoto        = "sending photo"
	StepSendDetails      = "sending details"
	StepSendPoll         = "sending poll"
	StepSendButton       = "sending button"
	StepResolveLink      = "resolving link"
	StepMarkPublished    = "marking published"
	StepScheduleVideo    = "scheduled video generation"
	StepDispatch         = "dispatching webhooks"
	StepDelete           = "deleting"
	StepImport           = "importing"
	StepAlreadyPublished = "already published"
)

// ProgressEntry одна строка журнала прогресса
type ProgressEntry struct {
	Time     time.Time `json:"time"`
	Severity Severity  `json:"severity"`
	Step     string    `json:"step"`
	Message  string    `json:"message"`
	TaskID   int64     `json:"task_id,omitempty"`
	Language string    `json:"language,omitempty"`
}

// String форматирует строку для вывода
func (e ProgressEntry) String() string {
	prefix := e.Severity.Marker()
	if e.TaskID != 0 {
		prefix = fmt.Sprintf("%s [task %d", prefix, e.TaskID)
		if e.Language != "" {
			prefix += "/" + e.Language
		}
		prefix += "]"
	}
	return prefix + " " + e.Message
}

// ProgressSink получатель записей прогресса
type ProgressSink interface {
	Report(entry ProgressEntry)
}

// ProgressFunc адаптер функции к ProgressSink
type ProgressFunc func(ProgressEntry)

// Report реализует ProgressSink
func (f ProgressFunc) Report(entry ProgressEntry) {
	f(entry)
}

// DiscardProgress игнорирует записи
var DiscardProgress ProgressSink = ProgressFunc(func(ProgressEntry) {})
