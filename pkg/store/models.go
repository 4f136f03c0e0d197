package store

import "time"

// GORM models used for persistence.
type UserModel struct {
	ID           string    `gorm:"primaryKey"`
	Email        string    `gorm:"uniqueIndex;not null"`
	FullName     string    `gorm:"not null"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type ProfileModel struct {
	UserID       string `gorm:"primaryKey"`
	BusinessName string
	Bio          string
	Location     string
	AvatarURL    string
	UpdatedAt    time.Time
}

// MessageModel rows are append-only. Seq is a bigserial assigned on insert;
// it breaks ordering ties between rows sharing a timestamp.
type MessageModel struct {
	ID         string    `gorm:"primaryKey"`
	SenderID   string    `gorm:"not null;index:idx_message_sender"`
	ReceiverID string    `gorm:"not null;index:idx_message_receiver"`
	Content    string    `gorm:"type:text;not null"`
	Seq        int64     `gorm:"autoIncrement;uniqueIndex"`
	CreatedAt  time.Time `gorm:"not null;index"`
}
