package domain

import "time"

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"fullName"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Profile carries the public fields other users see next to a conversation.
type Profile struct {
	UserID       string `json:"userId"`
	FullName     string `json:"fullName"`
	BusinessName string `json:"businessName,omitempty"`
	Bio          string `json:"bio,omitempty"`
	Location     string `json:"location,omitempty"`
	AvatarURL    string `json:"avatarUrl,omitempty"`
}

// Message is immutable once persisted. Seq is the store-assigned insertion
// order used to break ties between messages with equal timestamps.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	Seq        int64     `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ConversationSummary is one row of a user's conversation list: the latest
// message exchanged with a distinct counterpart. Derived on read, never stored.
type ConversationSummary struct {
	CounterpartID     string    `json:"counterpartId"`
	CounterpartName   string    `json:"counterpartName,omitempty"`
	CounterpartAvatar string    `json:"counterpartAvatar,omitempty"`
	LastMessageID     string    `json:"lastMessageId"`
	LastMessage       string    `json:"lastMessage"`
	LastMessageAt     time.Time `json:"lastMessageAt"`
}
