package store

import (
	"sort"
	"sync"
	"time"

	"herlink/pkg/domain"
)

// MemoryStore keeps everything in-process. It backs tests and local
// development; the interface semantics mirror GormStore exactly.
//
// Conversation summaries are maintained incrementally on every append (a
// latest-message-per-pair map). The full-scan definition is kept in
// scanConversations as the reference; the two must agree on every call.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[string]domain.User
	email    map[string]string // email -> user ID
	profiles map[string]domain.Profile
	messages []domain.Message
	latest   map[string]map[string]domain.Message // user -> counterpart -> latest
	nextSeq  int64
	lastAt   time.Time
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]domain.User),
		email:    make(map[string]string),
		profiles: make(map[string]domain.Profile),
		latest:   make(map[string]map[string]domain.Message),
	}
}

// SaveUser registers or replaces a user.
func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existingID, ok := m.email[u.Email]; ok && existingID != u.ID {
		return ErrDuplicateEmail
	}
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

// HasUserEmail checks if email exists.
func (m *MemoryStore) HasUserEmail(email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.email[email]
	return ok, nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.email[email]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// SaveProfile upserts a public profile.
func (m *MemoryStore) SaveProfile(p domain.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.UserID] = p
	return nil
}

// GetProfile returns the public profile, with the display name filled from
// the user record.
func (m *MemoryStore) GetProfile(userID string) (domain.Profile, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return domain.Profile{}, false, nil
	}
	profile := m.profiles[userID]
	profile.UserID = u.ID
	profile.FullName = u.FullName
	return profile, true, nil
}

// AppendMessage records a message, assigning sequence and a non-decreasing
// server timestamp, and updates the incremental conversation view.
func (m *MemoryStore) AppendMessage(msg domain.Message) (domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if now.Before(m.lastAt) {
		now = m.lastAt
	}
	m.lastAt = now
	m.nextSeq++

	msg.Seq = m.nextSeq
	msg.CreatedAt = now
	m.messages = append(m.messages, msg)
	m.updateLatest(msg.SenderID, msg.ReceiverID, msg)
	m.updateLatest(msg.ReceiverID, msg.SenderID, msg)
	return msg, nil
}

func (m *MemoryStore) updateLatest(owner, counterpart string, msg domain.Message) {
	pairs, ok := m.latest[owner]
	if !ok {
		pairs = make(map[string]domain.Message)
		m.latest[owner] = pairs
	}
	pairs[counterpart] = msg
}

// ListPairMessages returns the two users' history, oldest first.
func (m *MemoryStore) ListPairMessages(userA, userB string) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]domain.Message, 0)
	for _, msg := range m.messages {
		if (msg.SenderID == userA && msg.ReceiverID == userB) ||
			(msg.SenderID == userB && msg.ReceiverID == userA) {
			res = append(res, msg)
		}
	}
	// Appends happen in seq order, so the slice is already sorted.
	return res, nil
}

// ListConversations returns the latest message per counterpart, most recent
// pair first, from the incrementally maintained view.
func (m *MemoryStore) ListConversations(userID string) ([]domain.ConversationSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return summarize(m.latest[userID]), nil
}

// scanConversations recomputes the conversation list by a full scan of the
// message log. Reference implementation for the incremental view.
func (m *MemoryStore) scanConversations(userID string) []domain.ConversationSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	latest := make(map[string]domain.Message)
	for _, msg := range m.messages {
		var counterpart string
		switch userID {
		case msg.SenderID:
			counterpart = msg.ReceiverID
		case msg.ReceiverID:
			counterpart = msg.SenderID
		default:
			continue
		}
		if prev, ok := latest[counterpart]; !ok || msg.Seq > prev.Seq {
			latest[counterpart] = msg
		}
	}
	return summarize(latest)
}

func summarize(latest map[string]domain.Message) []domain.ConversationSummary {
	type entry struct {
		counterpart string
		msg         domain.Message
	}
	entries := make([]entry, 0, len(latest))
	for counterpart, msg := range latest {
		entries = append(entries, entry{counterpart: counterpart, msg: msg})
	}
	// Most recent pair first; insertion order breaks timestamp ties so the
	// newest store write wins deterministically.
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].msg, entries[j].msg
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.Seq > b.Seq
	})
	items := make([]domain.ConversationSummary, 0, len(entries))
	for _, e := range entries {
		items = append(items, domain.ConversationSummary{
			CounterpartID: e.counterpart,
			LastMessageID: e.msg.ID,
			LastMessage:   e.msg.Content,
			LastMessageAt: e.msg.CreatedAt,
		})
	}
	return items
}
