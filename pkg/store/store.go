package store

import (
	"errors"

	"herlink/pkg/domain"
)

var (
	// ErrDuplicateEmail is returned when a registration reuses an email.
	ErrDuplicateEmail = errors.New("email already registered")
)

// Store defines persistence operations for users, profiles, and the
// append-only message log. The message log is the source of truth for both
// history reads and the derived conversation list; no update or delete
// operations exist for messages.
type Store interface {
	// users
	SaveUser(domain.User) error
	HasUserEmail(email string) (bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)

	// profiles
	SaveProfile(domain.Profile) error
	GetProfile(userID string) (domain.Profile, bool, error)

	// messages
	// AppendMessage durably records the message, assigning the store
	// sequence and server timestamp, and returns the persisted message.
	AppendMessage(msg domain.Message) (domain.Message, error)
	// ListPairMessages returns every message between the two users in either
	// direction, ascending by creation time, ties broken by sequence.
	ListPairMessages(userA, userB string) ([]domain.Message, error)
	// ListConversations returns, for each distinct counterpart the user has
	// exchanged messages with, the latest message of that pair, ordered most
	// recent first. Counterpart name and avatar are left empty; the caller
	// joins profile data in.
	ListConversations(userID string) ([]domain.ConversationSummary, error)
}
