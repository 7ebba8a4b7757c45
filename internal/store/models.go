package store

import "time"

type LoginSession struct {
	StateToken    string `gorm:"primaryKey"`
	ChatID        string `gorm:"index"`
	DisplayName   string
	AvatarUrl     string
	IdentityToken string `gorm:"index"`
	CodeVerifier  string
	CreatedAt     time.Time `gorm:"index"`
}

type BotUser struct {
	ChatID    int64 `gorm:"primaryKey;autoIncrement:false"`
	GroupID   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}
