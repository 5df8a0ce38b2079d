package model

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// ValidationError ошибка в одном поле записи
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// ValidationErrors все ошибки записи. Импорт показывает их вместе,
// чтобы запись исправлялась за один проход.
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	parts := make([]string, 0, len(ve))
	for _, e := range ve {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "; ")
}

// HasErrors проверяет, есть ли ошибки
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// ValidateRequired проверяет, что поле не пустое
func ValidateRequired(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return ValidationError{Field: field, Message: "is required"}
	}
	return nil
}

// ValidateURL пропускает пустое значение и абсолютные http(s) ссылки
func ValidateURL(field, raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" || strings.ContainsAny(raw, " \t\n") {
		return ValidationError{Field: field, Message: "must be an absolute http(s) URL"}
	}
	return nil
}

// ValidateOneOf проверяет значение перечисления
func ValidateOneOf[T ~string](field string, value T, allowed []T) error {
	if slices.Contains(allowed, value) {
		return nil
	}
	names := make([]string, len(allowed))
	for i, a := range allowed {
		names[i] = string(a)
	}
	return ValidationError{Field: field, Message: fmt.Sprintf("must be one of: %s", strings.Join(names, ", "))}
}

func collect(errs *ValidationErrors, err error) {
	if err == nil {
		return
	}
	if ve, ok := err.(ValidationError); ok {
		*errs = append(*errs, ve)
		return
	}
	*errs = append(*errs, ValidationError{Message: err.Error()})
}
