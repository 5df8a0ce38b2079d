package model

import "github.com/uptrace/bun"

// LocationType представляет тип площадки публикации
type LocationType string

const (
	LocationGroup   LocationType = "group"
	LocationChannel LocationType = "channel"
	LocationWebsite LocationType = "website"
)

// TelegramGroup представляет канал или группу для публикации
type TelegramGroup struct {
	bun.BaseModel `bun:"table:telegram_groups"`

	ID           int64        `bun:"id,pk,autoincrement" json:"id"`
	GroupID      int64        `bun:"group_id,notnull" json:"group_id"`
	GroupName    string       `bun:"group_name,notnull" json:"group_name"`
	Username     string       `bun:"username,nullzero" json:"username"`
	Language     string       `bun:"language,notnull" json:"language"`
	TopicID      int64        `bun:"topic_id,notnull" json:"topic_id"`
	LocationType LocationType `bun:"location_type,notnull,default:'channel'" json:"location_type"`
}

// IsTelegram сообщает, можно ли публиковать в группу через Bot API
func (g *TelegramGroup) IsTelegram() bool {
	return g.LocationType != LocationWebsite
}
