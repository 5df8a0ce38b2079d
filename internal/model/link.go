package model

import "github.com/uptrace/bun"

// DefaultLink ссылка "подробнее" для пары (язык, тема)
type DefaultLink struct {
	bun.BaseModel `bun:"table:default_links"`

	ID        int64  `bun:"id,pk,autoincrement" json:"id"`
	Language  string `bun:"language,notnull,unique:default_link_lang_topic" json:"language"`
	TopicName string `bun:"topic_name,notnull,unique:default_link_lang_topic" json:"topic_name"`
	URL       string `bun:"url,notnull" json:"url"`
}

// MainFallbackLink обязательная ссылка по умолчанию для языка
type MainFallbackLink struct {
	bun.BaseModel `bun:"table:main_fallback_links"`

	ID       int64  `bun:"id,pk,autoincrement" json:"id"`
	Language string `bun:"language,notnull,unique" json:"language"`
	URL      string `bun:"url,notnull" json:"url"`
}

// GlobalLink дополнительная ссылка, рассылаемая в bulk-вебхуках
type GlobalLink struct {
	bun.BaseModel `bun:"table:global_links"`

	ID       int64  `bun:"id,pk,autoincrement" json:"id"`
	Name     string `bun:"name,notnull" json:"name"`
	URL      string `bun:"url,notnull" json:"url"`
	IsActive bool   `bun:"is_active,notnull,default:true" json:"is_active"`
}
