package model

import (
	"errors"
	"fmt"
)

// ErrorKind классифицирует ошибки на границах ввода-вывода
type ErrorKind string

const (
	KindUnknown                ErrorKind = ""
	KindConfigurationMissing   ErrorKind = "ConfigurationMissing"
	KindStorageFailed          ErrorKind = "StorageFailed"
	KindStorageUnavailable     ErrorKind = "StorageUnavailable"
	KindTelegramRateLimited    ErrorKind = "TelegramRateLimited"
	KindTelegramRejected       ErrorKind = "TelegramRejected"
	KindTelegramUnavailable    ErrorKind = "TelegramUnavailable"
	KindWebhookTransportFailed ErrorKind = "WebhookTransportFailed"
	KindValidationFailed       ErrorKind = "ValidationFailed"
	KindDatabaseUnavailable    ErrorKind = "DatabaseUnavailable"
	KindNotFound               ErrorKind = "NotFound"
)

// Error типизированная ошибка операции
type Error struct {
	Kind ErrorKind
	Op   string
	// Code код удаленной стороны (HTTP статус, код S3), если есть
	Code string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError создает типизированную ошибку
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf создает типизированную ошибку с форматированным сообщением
func Errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf возвращает вид ошибки из цепочки
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var ve ValidationErrors
	if errors.As(err, &ve) {
		return KindValidationFailed
	}
	var single ValidationError
	if errors.As(err, &single) {
		return KindValidationFailed
	}
	return KindUnknown
}

// IsKind сообщает, относится ли ошибка к виду kind
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// IsTransport сообщает, что удаленная сторона недоступна
func IsTransport(err error) bool {
	switch KindOf(err) {
	case KindStorageUnavailable, KindTelegramUnavailable, KindDatabaseUnavailable:
		return true
	default:
		return false
	}
}

// ErrNotFound возвращается репозиториями при отсутствии записи
var ErrNotFound = &Error{Kind: KindNotFound}
