// Package app is the messaging application service: it orchestrates the
// durable message store, the derived conversation view, and best-effort live
// delivery. Persistence always happens first; fan-out only starts after the
// append has returned.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"herlink/internal/usertoken"
	"herlink/internal/util"
	"herlink/pkg/auth"
	"herlink/pkg/domain"
	"herlink/pkg/store"
)

const defaultProfileLookupLimit = 8

// Notifier pushes a persisted message to the receiver's live connections.
// Delivery is best-effort: the call must not fail the send and must not
// block on any individual connection.
type Notifier interface {
	Push(msg domain.Message, senderName string)
}

// Limiter bounds how fast a single sender may post messages.
type Limiter interface {
	Allow(key string) bool
}

// Config wires the application service's collaborators.
type Config struct {
	Store  store.Store
	Tokens *usertoken.Authority
	// Limiter is optional; nil disables send rate limiting.
	Limiter Limiter
	// ProfileLookupLimit caps concurrent counterpart profile lookups when
	// building a conversation list. Defaults to 8.
	ProfileLookupLimit int
}

// App implements the messaging operations exposed over REST and the live
// channel, plus the account operations that yield the caller identity.
type App struct {
	store              store.Store
	tokens             *usertoken.Authority
	limiter            Limiter
	notifier           Notifier
	profileLookupLimit int
}

// New constructs the application service.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token authority required")
	}
	limit := cfg.ProfileLookupLimit
	if limit <= 0 {
		limit = defaultProfileLookupLimit
	}
	return &App{
		store:              cfg.Store,
		tokens:             cfg.Tokens,
		limiter:            cfg.Limiter,
		profileLookupLimit: limit,
	}, nil
}

// BindNotifier attaches the live relay after construction; the relay sends
// through the app and the app pushes through the relay, and the cycle is
// closed here rather than in either constructor.
func (a *App) BindNotifier(n Notifier) {
	a.notifier = n
}

// SendMessage validates, persists, and then best-effort delivers a message.
// The returned message carries the store-assigned id and timestamp. A
// receiver with no live connections is not an error; the message is simply
// read later through history.
func (a *App) SendMessage(ctx context.Context, senderID, receiverID, content string) (domain.Message, error) {
	senderID = strings.TrimSpace(senderID)
	receiverID = strings.TrimSpace(receiverID)
	content = strings.TrimSpace(content)
	if senderID == "" {
		return domain.Message{}, ErrMissingSender
	}
	if receiverID == "" {
		return domain.Message{}, ErrMissingReceiver
	}
	if content == "" {
		return domain.Message{}, ErrEmptyContent
	}
	if senderID == receiverID {
		return domain.Message{}, ErrSelfMessage
	}
	if a.limiter != nil && !a.limiter.Allow(senderID) {
		return domain.Message{}, ErrRateLimited
	}

	msg, err := a.store.AppendMessage(domain.Message{
		ID:         util.NewID(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("persist message: %w", err)
	}

	if a.notifier != nil {
		a.notifier.Push(msg, a.SenderName(ctx, senderID))
	}
	return msg, nil
}

// GetHistory returns the full conversation between the caller and the other
// user, oldest first. No messages yet is a normal state, not an error.
func (a *App) GetHistory(ctx context.Context, userID, otherUserID string) ([]domain.Message, error) {
	userID = strings.TrimSpace(userID)
	otherUserID = strings.TrimSpace(otherUserID)
	if userID == "" {
		return nil, ErrMissingSender
	}
	if otherUserID == "" {
		return nil, ErrMissingReceiver
	}
	msgs, err := a.store.ListPairMessages(userID, otherUserID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return msgs, nil
}

// GetConversations returns the caller's conversation list, newest pair
// first, with counterpart display name and avatar joined in. Profile lookups
// are fanned out with a bounded group; a failed lookup degrades that row to
// id-only rather than failing the list.
func (a *App) GetConversations(ctx context.Context, userID string) ([]domain.ConversationSummary, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrMissingSender
	}
	items, err := a.store.ListConversations(userID)
	if err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.profileLookupLimit)
	for i := range items {
		item := &items[i]
		g.Go(func() error {
			profile, ok, err := a.store.GetProfile(item.CounterpartID)
			if err != nil {
				util.LoggerFromContext(gctx).Warn("counterpart profile lookup failed",
					"counterpart_id", item.CounterpartID, "err", err)
				return nil
			}
			if ok {
				item.CounterpartName = profile.FullName
				item.CounterpartAvatar = profile.AvatarURL
			}
			return nil
		})
	}
	_ = g.Wait()
	if items == nil {
		items = []domain.ConversationSummary{}
	}
	return items, nil
}

// SenderName resolves the display name shown next to live pushes.
// Best-effort: an unknown sender just has no name.
func (a *App) SenderName(ctx context.Context, userID string) string {
	profile, ok, err := a.store.GetProfile(userID)
	if err != nil || !ok {
		return ""
	}
	return profile.FullName
}

// Register creates an account. The messaging core only needs accounts as a
// source of stable identities and display names.
func (a *App) Register(email, password, fullName string) (domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	fullName = strings.TrimSpace(fullName)
	if email == "" || password == "" || fullName == "" {
		return domain.User{}, ErrEmptyContent
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", ErrWeakPassword, err)
	}
	taken, err := a.store.HasUserEmail(email)
	if err != nil {
		return domain.User{}, fmt.Errorf("check email: %w", err)
	}
	if taken {
		return domain.User{}, ErrEmailTaken
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	user := domain.User{
		ID:           util.NewID(),
		Email:        email,
		FullName:     fullName,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.SaveUser(user); err != nil {
		if err == store.ErrDuplicateEmail {
			return domain.User{}, ErrEmailTaken
		}
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	return user, nil
}

// Login checks credentials and issues an access token.
func (a *App) Login(email, password string) (domain.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return domain.User{}, "", ErrInvalidCredentials
	}
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("load user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.tokens.Issue(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue token: %w", err)
	}
	return user, token, nil
}

// UserFromToken resolves a bearer token to the account it identifies.
func (a *App) UserFromToken(token string) (domain.User, bool) {
	userID, err := a.tokens.VerifySubject(token)
	if err != nil {
		return domain.User{}, false
	}
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil || !ok {
		return domain.User{}, false
	}
	return user, true
}

// UpdateProfile upserts the caller's public profile; the display name lives
// on the user record and is updated when provided.
func (a *App) UpdateProfile(userID string, profile domain.Profile) error {
	profile.UserID = userID
	if name := strings.TrimSpace(profile.FullName); name != "" {
		user, ok, err := a.store.GetUserByID(userID)
		if err != nil {
			return fmt.Errorf("load user: %w", err)
		}
		if ok {
			user.FullName = name
			user.UpdatedAt = time.Now().UTC()
			if err := a.store.SaveUser(user); err != nil {
				return fmt.Errorf("update name: %w", err)
			}
		}
	}
	if err := a.store.SaveProfile(profile); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}
