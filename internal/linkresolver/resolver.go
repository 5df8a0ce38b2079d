// Package linkresolver выбирает ссылку "подробнее" для перевода задачи.
package linkresolver

import (
	"context"
	"fmt"
	"strings"

	"codequiz/internal/model"

	"go.uber.org/zap"
	"golang.org/x/text/language"
)

// Source источник найденной ссылки
type Source string

const (
	SourceManualOverride   Source = "manual override"
	SourceTopicDefault     Source = "topic default"
	SourceLanguageFallback Source = "language fallback"
)

// Resolution результат разрешения ссылки. Пустой URL означает отсутствие ссылки,
// причина описана в Diagnostic.
type Resolution struct {
	URL        string `json:"url,omitempty"`
	Source     Source `json:"source,omitempty"`
	Language   string `json:"language"`
	Diagnostic string `json:"diagnostic,omitempty"`
}

// Found сообщает, найдена ли ссылка
func (r Resolution) Found() bool {
	return r.URL != ""
}

// Err возвращает ConfigurationMissing для ненайденной ссылки
func (r Resolution) Err() error {
	if r.Found() {
		return nil
	}
	return model.Errorf(model.KindConfigurationMissing, "resolve link", "%s", r.Diagnostic)
}

// Resolver разрешает ссылки по приоритету: ручная, по теме, по языку
type Resolver struct {
	links           model.LinkRepository
	supported       map[string]bool
	defaultLanguage string
	logger          *zap.Logger
}

// New создает резолвер. defaultLanguage используется для неподдерживаемых языков.
func New(links model.LinkRepository, supported []string, defaultLanguage string, logger *zap.Logger) *Resolver {
	set := make(map[string]bool, len(supported))
	for _, lang := range supported {
		if base, ok := Canonical(lang); ok {
			set[base] = true
		}
	}
	if base, ok := Canonical(defaultLanguage); ok {
		defaultLanguage = base
	}
	return &Resolver{
		links:           links,
		supported:       set,
		defaultLanguage: defaultLanguage,
		logger:          logger,
	}
}

// Canonical приводит код языка к базовому ISO 639-1 ("RU", "ru-RU" -> "ru")
func Canonical(lang string) (string, bool) {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return "", false
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return strings.ToLower(lang), false
	}
	base, _ := tag.Base()
	return base.String(), true
}

// Normalize возвращает язык, по которому ищутся ссылки
func (r *Resolver) Normalize(lang string) string {
	base, ok := Canonical(lang)
	if ok && r.supported[base] {
		return base
	}
	r.logger.Warn("Language not supported, using default for link resolution",
		zap.String("language", lang),
		zap.String("default", r.defaultLanguage))
	return r.defaultLanguage
}

// Resolve возвращает ссылку для перевода задачи
func (r *Resolver) Resolve(ctx context.Context, bundle *model.TaskBundle, tr *model.TaskTranslation) (Resolution, error) {
	lang := r.Normalize(tr.Language)
	res := Resolution{Language: lang}

	if link := strings.TrimSpace(bundle.Task.ExternalLink); link != "" {
		res.URL = link
		res.Source = SourceManualOverride
		return res, nil
	}

	if bundle.Topic.Name != "" {
		def, err := r.links.GetDefault(ctx, lang, bundle.Topic.Name)
		if err != nil {
			return res, fmt.Errorf("failed to get default link: %w", err)
		}
		if def != nil && def.URL != "" {
			res.URL = def.URL
			res.Source = SourceTopicDefault
			return res, nil
		}
	}

	fallback, err := r.links.GetMainFallback(ctx, lang)
	if err != nil {
		return res, fmt.Errorf("failed to get main fallback link: %w", err)
	}
	if fallback != nil && fallback.URL != "" {
		res.URL = fallback.URL
		res.Source = SourceLanguageFallback
		return res, nil
	}

	res.Diagnostic = "missing fallback for " + lang
	r.logger.Error("No link available",
		zap.Int64("task_id", bundle.Task.ID),
		zap.String("language", lang),
		zap.String("diagnostic", res.Diagnostic))
	return res, nil
}
