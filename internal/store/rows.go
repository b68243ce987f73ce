package store

import (
	"time"

	"gorm.io/datatypes"
)

type conversationRow struct {
	ConversationID string    `gorm:"primaryKey;size:320"`
	Channel        string    `gorm:"size:16"`
	Completed      bool      `gorm:"index"`
	LoopEscalated  bool      `gorm:"index"`
	LastActivity   time.Time `gorm:"index"`
	Document       datatypes.JSON
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (conversationRow) TableName() string { return "conversations" }

type registrationVersionRow struct {
	ID              uint   `gorm:"primaryKey"`
	RegistrationKey string `gorm:"size:340;not null;uniqueIndex:idx_registration_version,priority:1"`
	Version         int    `gorm:"not null;uniqueIndex:idx_registration_version,priority:2"`
	ConversationID  string `gorm:"size:320;index"`
	Channel         string `gorm:"size:16"`
	SubmittedAt     time.Time
	Document        datatypes.JSON
}

func (registrationVersionRow) TableName() string { return "registration_versions" }
