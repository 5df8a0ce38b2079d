package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// WebhookType представляет тип вебхука
type WebhookType string

const (
	WebhookGeneric     WebhookType = "generic"
	WebhookRussianOnly WebhookType = "russian_only"
	WebhookEnglishOnly WebhookType = "english_only"
	WebhookSocialMedia WebhookType = "social_media"
)

// IsValid проверяет валидность типа вебхука
func (t WebhookType) IsValid() bool {
	switch t {
	case WebhookGeneric, WebhookRussianOnly, WebhookEnglishOnly, WebhookSocialMedia:
		return true
	default:
		return false
	}
}

// Language возвращает язык для языковых вебхуков или пустую строку
func (t WebhookType) Language() string {
	switch t {
	case WebhookRussianOnly:
		return "ru"
	case WebhookEnglishOnly:
		return "en"
	default:
		return ""
	}
}

// IsLanguageScoped сообщает, фильтрует ли вебхук переводы по языку
func (t WebhookType) IsLanguageScoped() bool {
	return t.Language() != ""
}

// WebhookTypes возвращает список допустимых типов
func WebhookTypes() []WebhookType {
	return []WebhookType{WebhookGeneric, WebhookRussianOnly, WebhookEnglishOnly, WebhookSocialMedia}
}

// Webhook представляет внешнего получателя публикаций
type Webhook struct {
	bun.BaseModel `bun:"table:webhooks"`

	ID              uuid.UUID   `bun:"id,pk,type:uuid" json:"id"`
	URL             string      `bun:"url,unique,notnull" json:"url"`
	ServiceName     string      `bun:"service_name,notnull" json:"service_name"`
	IsActive        bool        `bun:"is_active,notnull,default:true" json:"is_active"`
	WebhookType     WebhookType `bun:"webhook_type,notnull,default:'generic'" json:"webhook_type"`
	TargetPlatforms StringList  `bun:"target_platforms,type:jsonb" json:"target_platforms"`
	CreatedAt       time.Time   `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
}

// Validate проверяет поля вебхука
func (w *Webhook) Validate() error {
	var errs ValidationErrors

	collect(&errs, ValidateRequired("url", w.URL))
	collect(&errs, ValidateURL("url", w.URL))
	collect(&errs, ValidateRequired("service_name", w.ServiceName))
	collect(&errs, ValidateOneOf("webhook_type", w.WebhookType, WebhookTypes()))
	if w.WebhookType == WebhookSocialMedia && len(w.TargetPlatforms) == 0 {
		errs = append(errs, ValidationError{Field: "target_platforms", Message: "is required for social_media webhook"})
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
