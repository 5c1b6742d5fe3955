package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type FormModel struct {
	ID              string `gorm:"primaryKey"`
	UserID          string `gorm:"index"`
	Title           string `gorm:"not null"`
	Description     string
	Definition      datatypes.JSON `gorm:"type:jsonb;not null"`
	ShareableLink   string
	ShortLink       string
	Tool            string `gorm:"not null"`
	ExternalID      string
	EditLink        string
	IsActive        bool      `gorm:"not null;default:true"`
	SubmissionCount int64     `gorm:"not null;default:0"`
	CreatedAt       time.Time `gorm:"not null;index"`
	UpdatedAt       time.Time `gorm:"not null"`
}

type SubmissionModel struct {
	ID          string         `gorm:"primaryKey"`
	FormID      string         `gorm:"not null;index"`
	Data        datatypes.JSON `gorm:"type:jsonb;not null"`
	IP          string
	UserAgent   string
	SubmittedAt time.Time `gorm:"not null;index"`
}

// CredentialModel keeps each sealed token as three hex columns.
type CredentialModel struct {
	UserID            string `gorm:"primaryKey"`
	Provider          string `gorm:"primaryKey"`
	AccessCiphertext  string `gorm:"type:text;not null"`
	AccessIV          string `gorm:"not null"`
	AccessTag         string `gorm:"not null"`
	RefreshCiphertext string `gorm:"type:text"`
	RefreshIV         string
	RefreshTag        string
	TokenType         string
	ExpiresAt         *time.Time
	Scope             string
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}

type ConversationModel struct {
	ID        string    `gorm:"primaryKey"`
	UserID    string    `gorm:"not null;index"`
	Title     string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null;index"`
}

type MessageModel struct {
	ID             string         `gorm:"primaryKey"`
	ConversationID string         `gorm:"not null;index:idx_message_order,priority:1"`
	Position       int64          `gorm:"not null;index:idx_message_order,priority:2"`
	Role           string         `gorm:"not null"`
	Content        string         `gorm:"type:text;not null"`
	FormDefinition datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt      time.Time      `gorm:"not null;index"`
}
